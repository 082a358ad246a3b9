package precision

import "testing"

func TestLegalPair(t *testing.T) {
	cases := []struct {
		m, r  Precision
		legal bool
	}{
		{FP32, FP32, true},
		{FP32, FP16, false},
		{FP32, BF16, false},
		{FP16, FP16, true},
		{FP16, FP32, true},
		{FP16, BF16, false},
		{BF16, BF16, true},
		{BF16, FP32, true},
		{BF16, FP16, false},
	}
	for _, c := range cases {
		if got := LegalPair(c.m, c.r); got != c.legal {
			t.Errorf("LegalPair(%v, %v) = %v, want %v", c.m, c.r, got, c.legal)
		}
	}
}

func TestNameAndByteSize(t *testing.T) {
	cases := []struct {
		p    Precision
		name string
		size uint32
	}{
		{FP32, "float", 4},
		{FP16, "half", 2},
		{BF16, "bfloat", 2},
	}
	for _, c := range cases {
		if got := c.p.Name(); got != c.name {
			t.Errorf("Name(%v) = %q, want %q", c.p, got, c.name)
		}
		if got := c.p.ByteSize(); got != c.size {
			t.Errorf("ByteSize(%v) = %d, want %d", c.p, got, c.size)
		}
	}
}

func TestThresholdOrdering(t *testing.T) {
	if !(FP32.Threshold() < FP16.Threshold() && FP16.Threshold() < BF16.Threshold()) {
		t.Fatalf("expected FP32 < FP16 < BF16 thresholds, got %v %v %v",
			FP32.Threshold(), FP16.Threshold(), BF16.Threshold())
	}
}

func TestRoundTripBF16(t *testing.T) {
	vals := []float32{0, 1, -1, 0.5, 3.25, 100.125}
	packed := PackBF16(vals)
	back := UnpackBF16(packed)
	for i, v := range vals {
		want := Round(BF16, v)
		if back[i] != want {
			t.Errorf("BF16 round-trip[%d] = %v, want %v", i, back[i], want)
		}
	}
}

func TestRoundTripFP16(t *testing.T) {
	vals := []float32{0, 1, -1, 0.5, 3.25, 100.125}
	packed := PackFP16(vals)
	back := UnpackFP16(packed)
	for i, v := range vals {
		want := Round(FP16, v)
		if back[i] != want {
			t.Errorf("FP16 round-trip[%d] = %v, want %v", i, back[i], want)
		}
	}
}
