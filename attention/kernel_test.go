package attention

import (
	"testing"

	"github.com/openfluke/kernelforge/precision"
)

func baseDescriptor(kind Kind) Descriptor {
	d := Descriptor{
		Dimensions: Dimensions{R: 128, C: 128, D: 64},
		MemoryPrecisions: OperandPrecisions{
			Q: precision.FP16, K: precision.FP16, V: precision.FP16, O: precision.FP16,
		},
		Kind: kind,
	}
	if kind == BackwardKeyValue {
		d.StoreDerivativeST = true
	}
	return d
}

func TestHeadDimensionNeedNotBeMultipleOf8(t *testing.T) {
	// spec §8 testable property 7's concrete scenarios include
	// D=77, D=3, D=1, D=2 alongside multiples of 8 (D=32, D=64, D=80);
	// the synthesiser must accept all of them.
	for _, d := range []uint16{1, 2, 3, 32, 64, 77, 80} {
		desc := baseDescriptor(Forward)
		desc.Dimensions.D = d
		if _, err := Synthesize(desc); err != nil {
			t.Errorf("D=%d: unexpected rejection: %v", d, err)
		}
	}
}

func TestHeadDimensionZeroRejected(t *testing.T) {
	d := baseDescriptor(Forward)
	d.Dimensions.D = 0
	if _, err := Synthesize(d); err == nil {
		t.Fatal("expected rejection of D=0")
	}
}

func TestTransposedOperandsRejected(t *testing.T) {
	d := baseDescriptor(Forward)
	d.TransposeState.Q = true
	if _, err := Synthesize(d); err == nil {
		t.Fatal("expected rejection of a transposed Q operand")
	}
}

func TestBackwardKeyValueRequiresStoreDerivativeST(t *testing.T) {
	d := baseDescriptor(BackwardKeyValue)
	d.StoreDerivativeST = false
	if _, err := Synthesize(d); err == nil {
		t.Fatal("expected rejection of BackwardKeyValue without StoreDerivativeST")
	}
}

func TestLeadingDimensionDerivativeSTRule(t *testing.T) {
	cases := []struct {
		c    uint32
		cb   uint16
		want uint32
	}{
		{64, 64, 64},
		{100, 64, 128},
		{1, 64, 64},
		{192, 64, 192},
		{193, 64, 256},
	}
	for _, c := range cases {
		got := ceilToMultiple(c.c, c.cb)
		if got != c.want {
			t.Errorf("ceilToMultiple(%d, %d) = %d, want %d", c.c, c.cb, got, c.want)
		}
	}
}

func TestDeterminism(t *testing.T) {
	for _, kind := range []Kind{Forward, BackwardQuery, BackwardKeyValue} {
		d := baseDescriptor(kind)
		k1, err := Synthesize(d)
		if err != nil {
			t.Fatalf("kind=%v: %v", kind, err)
		}
		k2, err := Synthesize(d)
		if err != nil {
			t.Fatalf("kind=%v: %v", kind, err)
		}
		if k1.Source.Code != k2.Source.Code {
			t.Errorf("kind=%v: identical descriptors produced different source", kind)
		}
	}
}

func TestLeadingDimensionDerivativeSTAtLeastC(t *testing.T) {
	for _, c := range []uint32{7, 8, 9, 16, 17, 31, 32, 33, 127, 128, 129} {
		d := baseDescriptor(BackwardKeyValue)
		d.Dimensions.C = c
		k, err := Synthesize(d)
		if err != nil {
			t.Fatalf("c=%d: %v", c, err)
		}
		if k.LeadingDimensionDerivativeST < c {
			t.Errorf("c=%d: leadingDimensionDerivativeST=%d < C", c, k.LeadingDimensionDerivativeST)
		}
		if k.LeadingDimensionDerivativeST%uint32(k.BlockDimension) != 0 {
			t.Errorf("c=%d: leadingDimensionDerivativeST=%d is not Cb-aligned (Cb=%d)", c, k.LeadingDimensionDerivativeST, k.BlockDimension)
		}
	}
}

func TestForwardBlockDimensionByHeadSize(t *testing.T) {
	small := baseDescriptor(Forward)
	small.Dimensions.D = 32
	kSmall, err := Synthesize(small)
	if err != nil {
		t.Fatal(err)
	}
	if kSmall.BlockDimension != 64 {
		t.Errorf("D=32: expected block dimension 64, got %d", kSmall.BlockDimension)
	}

	large := baseDescriptor(Forward)
	large.Dimensions.D = 80
	kLarge, err := Synthesize(large)
	if err != nil {
		t.Fatal(err)
	}
	if kLarge.BlockDimension != 32 {
		t.Errorf("D=80: expected block dimension 32, got %d", kLarge.BlockDimension)
	}
}
