package gemm

import (
	"strings"
	"testing"

	"github.com/openfluke/kernelforge/device"
	"github.com/openfluke/kernelforge/precision"
)

func baseDescriptor() Descriptor {
	return Descriptor{
		Dimensions: Dimensions{M: 128, N: 128, K: 128},
		MemoryPrecisions: Triple[precision.Precision]{
			A: precision.FP32, B: precision.FP32, C: precision.FP32,
		},
	}
}

func TestPrecisionPairValidation(t *testing.T) {
	precisions := []precision.Precision{precision.FP32, precision.FP16, precision.BF16}
	for _, mem := range precisions {
		for _, reg := range precisions {
			d := baseDescriptor()
			d.MemoryPrecisions = Triple[precision.Precision]{A: mem, B: mem, C: mem}
			d.RegisterPrecisions = Triple[precision.Precision]{A: reg, B: reg, C: reg}

			_, err := Synthesize(d, device.Discrete)
			wantOK := precision.LegalPair(mem, reg) && reg != precision.BF16
			if wantOK && err != nil {
				t.Errorf("mem=%v reg=%v: expected success, got %v", mem, reg, err)
			}
			if !wantOK && err == nil {
				t.Errorf("mem=%v reg=%v: expected error, got none", mem, reg)
			}
		}
	}
}

func TestRegisterCBF16AlwaysRejected(t *testing.T) {
	d := baseDescriptor()
	d.MemoryPrecisions.C = precision.BF16
	d.RegisterPrecisions.C = precision.BF16
	if _, err := Synthesize(d, device.Discrete); err == nil {
		t.Fatal("expected BF16 accumulator to be rejected")
	}
}

func TestTileAlignmentInvariant(t *testing.T) {
	for _, class := range []device.Class{device.Integrated, device.Discrete, device.Datacenter} {
		for _, mem := range []precision.Precision{precision.FP32, precision.FP16} {
			d := baseDescriptor()
			d.MemoryPrecisions = Triple[precision.Precision]{A: mem, B: mem, C: mem}
			k, err := Synthesize(d, class)
			if err != nil {
				t.Fatalf("class=%v mem=%v: %v", class, mem, err)
			}
			b, s := k.Descriptor.BlockDimensions, k.Descriptor.Splits
			if b.Mb%(8*s.Ms) != 0 {
				t.Errorf("Mb=%d not aligned to 8*Ms=%d", b.Mb, 8*s.Ms)
			}
			if b.Nb%(8*s.Ns) != 0 {
				t.Errorf("Nb=%d not aligned to 8*Ns=%d", b.Nb, 8*s.Ns)
			}
			want := 32 * uint32(s.Ms) * uint32(s.Ns)
			if k.ThreadgroupSize != want {
				t.Errorf("ThreadgroupSize = %d, want %d", k.ThreadgroupSize, want)
			}
		}
	}
}

func TestLeadingDimensionInvariant(t *testing.T) {
	d := baseDescriptor()
	d.BlockDimensions = BlockDimensions{Mb: 32, Nb: 32, Kb: 8}
	d.Splits = Splits{Ms: 1, Ns: 1}
	d.LeadingBlockDimensions.A = 40 // override, must be >= expected (Kb=8 untransposed)

	k, err := Synthesize(d, device.Discrete)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if k == nil {
		t.Fatal("nil kernel")
	}
}

func TestLeadingDimensionOverrideTooSmallIsRejected(t *testing.T) {
	d := baseDescriptor()
	d.BlockDimensions = BlockDimensions{Mb: 32, Nb: 32, Kb: 8}
	d.Splits = Splits{Ms: 1, Ns: 1}
	d.LeadingBlockDimensions.A = 4 // below expected extent of 8

	if _, err := Synthesize(d, device.Discrete); err == nil {
		t.Fatal("expected undersized leading block dimension to be rejected")
	}
}

func TestDeterminism(t *testing.T) {
	d := baseDescriptor()
	k1, err := Synthesize(d, device.Discrete)
	if err != nil {
		t.Fatal(err)
	}
	k2, err := Synthesize(d, device.Discrete)
	if err != nil {
		t.Fatal(err)
	}
	if k1.Source.Code != k2.Source.Code {
		t.Fatal("identical descriptors produced different source text")
	}
	if k1.ThreadgroupMemoryAllocation != k2.ThreadgroupMemoryAllocation {
		t.Fatal("identical descriptors produced different threadgroup memory allocation")
	}
}

func TestAsyncCopyForEdgeBlocks(t *testing.T) {
	d := baseDescriptor()
	d.Dimensions = Dimensions{M: 100, N: 100, K: 100} // not a multiple of the 32x32 default tile
	k, err := Synthesize(d, device.Discrete)
	if err != nil {
		t.Fatal(err)
	}
	if k.EdgeShiftM == 0 && k.EdgeShiftN == 0 {
		t.Fatal("expected a non-zero edge shift for a ragged matrix")
	}
	if !strings.Contains(k.Source.Code, "store-C: async-copy path") {
		t.Fatal("expected the async-copy store-C path for a ragged matrix")
	}
}

func TestLoadPreviousCIdempotence(t *testing.T) {
	// dispatching with LoadPreviousC=true and a zero C buffer is a
	// caller-side concern (spec testable property 6); here we only
	// check that enabling it does not change the kernel's structural
	// invariants or reject the descriptor.
	d := baseDescriptor()
	d.LoadPreviousC = true
	k, err := Synthesize(d, device.Discrete)
	if err != nil {
		t.Fatal(err)
	}
	if !k.Descriptor.LoadPreviousC {
		t.Fatal("expected LoadPreviousC to be preserved on the resolved descriptor")
	}
}
