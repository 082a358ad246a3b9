package gemm

import (
	"testing"

	"github.com/openfluke/kernelforge/device"
	"github.com/openfluke/kernelforge/precision"
)

func TestApplyTileOverrideRejectsUnknownPrecisionClass(t *testing.T) {
	err := ApplyTileOverride("bogus", device.Discrete, BlockDimensions{Mb: 16, Nb: 16, Kb: 8}, Splits{Ms: 1, Ns: 1})
	if err == nil {
		t.Fatal("expected rejection of an unknown precision class")
	}
}

func TestApplyTileOverrideChangesDefaultTileChoice(t *testing.T) {
	want := tileChoice{Block: BlockDimensions{Mb: 96, Nb: 96, Kb: 32}, Splits: Splits{Ms: 2, Ns: 2}}
	if err := ApplyTileOverride("mixed", device.Datacenter, want.Block, want.Splits); err != nil {
		t.Fatal(err)
	}
	defer ApplyTileOverride("mixed", device.Datacenter, BlockDimensions{Mb: 48, Nb: 48, Kb: 32}, Splits{Ms: 2, Ns: 2})

	mixed := Triple[precision.Precision]{A: precision.FP16, B: precision.FP16, C: precision.FP32}
	got := defaultTileChoice(mixed, device.Datacenter)
	if got != want {
		t.Errorf("defaultTileChoice after override = %+v, want %+v", got, want)
	}
}
