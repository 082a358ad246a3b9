package dispatch

import (
	"testing"

	"github.com/openfluke/kernelforge/attention"
	"github.com/openfluke/kernelforge/device"
	"github.com/openfluke/kernelforge/gemm"
	"github.com/openfluke/kernelforge/precision"
)

type fakeBuffer struct{ n uint64 }

func (f fakeBuffer) Bytes() uint64 { return f.n }

func baseGEMMDescriptor() gemm.Descriptor {
	return gemm.Descriptor{
		Dimensions: gemm.Dimensions{M: 512, N: 512, K: 512},
		MemoryPrecisions: gemm.Triple[precision.Precision]{
			A: precision.FP16, B: precision.FP16, C: precision.FP32,
		},
	}
}

func TestPlanGEMMGridSize(t *testing.T) {
	k, err := gemm.Synthesize(baseGEMMDescriptor(), device.Discrete)
	if err != nil {
		t.Fatal(err)
	}
	a, b, c := fakeBuffer{1}, fakeBuffer{1}, fakeBuffer{1}
	r, err := PlanGEMM(k, a, b, c, device.Limits{})
	if err != nil {
		t.Fatal(err)
	}
	wantGridX := ceilDiv(512, uint32(k.Descriptor.BlockDimensions.Nb))
	wantGridY := ceilDiv(512, uint32(k.Descriptor.BlockDimensions.Mb))
	if r.Grid[0] != wantGridX || r.Grid[1] != wantGridY || r.Grid[2] != 1 {
		t.Errorf("grid = %v, want (%d, %d, 1)", r.Grid, wantGridX, wantGridY)
	}
	if len(r.Bindings) != 3 {
		t.Errorf("expected 3 bindings, got %d", len(r.Bindings))
	}
}

func TestPlanGEMMRejectsOverLimitThreadgroup(t *testing.T) {
	k, err := gemm.Synthesize(baseGEMMDescriptor(), device.Discrete)
	if err != nil {
		t.Fatal(err)
	}
	a, b, c := fakeBuffer{1}, fakeBuffer{1}, fakeBuffer{1}
	limits := device.Limits{MaxComputeInvocationsPerWorkgroup: 1}
	if _, err := PlanGEMM(k, a, b, c, limits); err == nil {
		t.Fatal("expected a LimitError when threadgroup size exceeds the device limit")
	}
}

func baseAttentionDescriptor(kind attention.Kind) attention.Descriptor {
	d := attention.Descriptor{
		Dimensions: attention.Dimensions{R: 128, C: 128, D: 64},
		MemoryPrecisions: attention.OperandPrecisions{
			Q: precision.FP16, K: precision.FP16, V: precision.FP16, O: precision.FP16,
		},
		Kind: kind,
	}
	if kind == attention.BackwardKeyValue {
		d.StoreDerivativeST = true
	}
	return d
}

func TestPlanAttentionPassProducesFiveRecords(t *testing.T) {
	fwd, err := attention.Synthesize(baseAttentionDescriptor(attention.Forward))
	if err != nil {
		t.Fatal(err)
	}
	bq, err := attention.Synthesize(baseAttentionDescriptor(attention.BackwardQuery))
	if err != nil {
		t.Fatal(err)
	}
	bkv, err := attention.Synthesize(baseAttentionDescriptor(attention.BackwardKeyValue))
	if err != nil {
		t.Fatal(err)
	}

	buf := func() device.Buffer { return fakeBuffer{1} }
	buffers := AttentionBuffers{
		Q: buf(), K: buf(), V: buf(), O: buf(), DO: buf(),
		L: buf(), D: buf(),
		DV: buf(), DQ: buf(), DK: buf(),
		DerivativeST: buf(),
	}

	records, err := PlanAttentionPass(fwd, bq, bkv, buffers, device.Limits{}, device.Discrete)
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 5 {
		t.Fatalf("expected 5 dispatch records, got %d", len(records))
	}
	wantKinds := []Kind{KindAttentionForward, KindAttentionBackwardQuery, KindAttentionBackwardKeyValue, KindGEMM, KindGEMM}
	for i, want := range wantKinds {
		if records[i].Kind != want {
			t.Errorf("record %d: kind = %v, want %v", i, records[i].Kind, want)
		}
	}
}

func TestPlanAttentionPassRejectsMismatchedLeadingDimension(t *testing.T) {
	fwd, err := attention.Synthesize(baseAttentionDescriptor(attention.Forward))
	if err != nil {
		t.Fatal(err)
	}
	bq, err := attention.Synthesize(baseAttentionDescriptor(attention.BackwardQuery))
	if err != nil {
		t.Fatal(err)
	}
	mismatched := baseAttentionDescriptor(attention.BackwardKeyValue)
	mismatched.Dimensions.C = 192
	bkv, err := attention.Synthesize(mismatched)
	if err != nil {
		t.Fatal(err)
	}

	buf := func() device.Buffer { return fakeBuffer{1} }
	buffers := AttentionBuffers{
		Q: buf(), K: buf(), V: buf(), O: buf(), DO: buf(),
		L: buf(), D: buf(),
		DV: buf(), DQ: buf(), DK: buf(),
		DerivativeST: buf(),
	}

	if _, err := PlanAttentionPass(fwd, bq, bkv, buffers, device.Limits{}, device.Discrete); err == nil {
		t.Fatal("expected rejection when kernels disagree on leadingDimensionDerivativeST")
	}
}

func TestCeilDiv(t *testing.T) {
	cases := []struct{ n, m, want uint32 }{
		{0, 8, 0}, {1, 8, 1}, {8, 8, 1}, {9, 8, 2}, {512, 64, 8},
	}
	for _, c := range cases {
		if got := ceilDiv(c.n, c.m); got != c.want {
			t.Errorf("ceilDiv(%d, %d) = %d, want %d", c.n, c.m, got, c.want)
		}
	}
}
