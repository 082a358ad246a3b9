package gemm

import (
	"fmt"
	"sync"

	"github.com/openfluke/kernelforge/device"
	"github.com/openfluke/kernelforge/precision"
)

// tileChoice is one entry of the static tile-default table: a block
// shape and the split factorisation that tiles it (spec §4.2).
type tileChoice struct {
	Block  BlockDimensions
	Splits Splits
}

// precisionClass buckets a memory-precision triple into "all FP32" or
// "mixed" (any 16-bit operand present); the table is keyed on this
// coarse bucket and device class, matching the two representative
// tile choices spec.md calls out (48x48x32 / 32x32x32 mixed,
// 32x32x8 FP32).
type precisionClass uint8

const (
	precisionAllFP32 precisionClass = iota
	precisionMixed
)

func classifyPrecisions(p Triple[precision.Precision]) precisionClass {
	if p.A == precision.FP32 && p.B == precision.FP32 && p.C == precision.FP32 {
		return precisionAllFP32
	}
	return precisionMixed
}

type tileKey struct {
	precisionClass precisionClass
	deviceClass    device.Class
}

var (
	tileTableMu      sync.RWMutex
	defaultTileTable = buildDefaultTileTable()
)

func buildDefaultTileTable() map[tileKey]tileChoice {
	t := make(map[tileKey]tileChoice, 6)

	// All-FP32: operands are twice the bytes of a 16-bit operand, so a
	// narrower K block keeps threadgroup memory bounded across classes.
	t[tileKey{precisionAllFP32, device.Integrated}] = tileChoice{
		Block: BlockDimensions{Mb: 32, Nb: 32, Kb: 8}, Splits: Splits{Ms: 1, Ns: 1},
	}
	t[tileKey{precisionAllFP32, device.Discrete}] = tileChoice{
		Block: BlockDimensions{Mb: 32, Nb: 32, Kb: 8}, Splits: Splits{Ms: 2, Ns: 2},
	}
	t[tileKey{precisionAllFP32, device.Datacenter}] = tileChoice{
		Block: BlockDimensions{Mb: 32, Nb: 32, Kb: 8}, Splits: Splits{Ms: 2, Ns: 2},
	}

	// Mixed precision (any FP16/BF16 operand): bigger blocks amortise
	// more compute per async copy since each element is cheaper to move.
	t[tileKey{precisionMixed, device.Integrated}] = tileChoice{
		Block: BlockDimensions{Mb: 32, Nb: 32, Kb: 32}, Splits: Splits{Ms: 2, Ns: 2},
	}
	t[tileKey{precisionMixed, device.Discrete}] = tileChoice{
		Block: BlockDimensions{Mb: 48, Nb: 48, Kb: 32}, Splits: Splits{Ms: 2, Ns: 2},
	}
	t[tileKey{precisionMixed, device.Datacenter}] = tileChoice{
		Block: BlockDimensions{Mb: 48, Nb: 48, Kb: 32}, Splits: Splits{Ms: 2, Ns: 2},
	}

	return t
}

// defaultTileChoice returns the default for a given precision triple
// and device class: an installed ApplyTileOverride entry if one exists
// for that bucket, otherwise the static table. It always returns a
// usable entry: the table is fully populated in buildDefaultTileTable
// for every (precisionClass, device.Class) pair.
func defaultTileChoice(p Triple[precision.Precision], class device.Class) tileChoice {
	tileTableMu.RLock()
	defer tileTableMu.RUnlock()
	return defaultTileTable[tileKey{classifyPrecisions(p), class}]
}

// ApplyTileOverride replaces the tile-default table entry for one
// (precisionClass, deviceClass) bucket (spec §4.2's tile-default
// table). precisionClass must be "fp32" or "mixed", matching
// config.TileOverride's precision_class field, which this is meant to
// be driven from at process start, before any concurrent Synthesize
// call can race the table update. A zero field in block or splits keeps
// the built-in table's value for that field.
func ApplyTileOverride(precisionClassName string, deviceClass device.Class, block BlockDimensions, splits Splits) error {
	var pc precisionClass
	switch precisionClassName {
	case "fp32":
		pc = precisionAllFP32
	case "mixed":
		pc = precisionMixed
	default:
		return fmt.Errorf("gemm: unknown tile override precision class %q, must be \"fp32\" or \"mixed\"", precisionClassName)
	}
	base := buildDefaultTileTable()[tileKey{pc, deviceClass}]
	fields := [][2]*uint16{
		{&block.Mb, &base.Block.Mb}, {&block.Nb, &base.Block.Nb}, {&block.Kb, &base.Block.Kb},
		{&splits.Ms, &base.Splits.Ms}, {&splits.Ns, &base.Splits.Ns},
	}
	for _, f := range fields {
		if *f[0] == 0 {
			*f[0] = *f[1]
		}
	}
	tileTableMu.Lock()
	defer tileTableMu.Unlock()
	defaultTileTable[tileKey{pc, deviceClass}] = tileChoice{Block: block, Splits: splits}
	return nil
}
