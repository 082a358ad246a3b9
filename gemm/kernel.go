// Package gemm synthesises tiled general matrix multiply kernels: given
// a fully or partially specified Descriptor, it resolves defaults,
// validates invariants, and emits Metal-Shading-Language-flavoured
// source for a `gemm` compute entry point (spec §4.2).
package gemm

import (
	"github.com/openfluke/kernelforge/device"
	"github.com/openfluke/kernelforge/precision"
)

// Kernel is the synthesised product of a Descriptor: a fully resolved
// value with derived register/threadgroup sizing and the emitted
// shader source. Kernel values are immutable after Synthesize returns
// and safe to share across goroutines (spec §3 Lifecycle, §5).
type Kernel struct {
	Descriptor Descriptor

	RegisterM uint16
	RegisterN uint16

	ThreadgroupSize             uint32
	ThreadgroupMemoryAllocation uint32

	// EdgeShift is the (M, N) tile-origin shift used by the store-C
	// slow path when the trailing edge is shorter than a tile (spec
	// §4.2 Edge-block shift). It is computed once at synthesis from
	// Dimensions: non-zero when M (resp. N) is not a multiple of Mb
	// (resp. Nb), and embedded as literal values in the emitted
	// async-copy store-C snippet.
	EdgeShiftM uint16
	EdgeShiftN uint16

	// Source is the emitted shader text and entry point. Synthesize is
	// pure: identical descriptors produce byte-identical Source (spec
	// §2, testable property 4).
	Source device.Source
}

// leadingBlockDims resolves the expected leading block dimension per
// operand, applying the caller's override (if any) after checking it
// meets the expected minimum (spec §4.2 Leading-block-dimension rule).
type leadingBlockDims struct {
	A, B, C uint16
}

// expectedLeadingBlockDim returns the untransposed-column extent for an
// operand (or untransposed-row extent if the operand is transposed):
// A: Kb (untransposed) or Mb (transposed); B: Nb (untransposed) or Kb
// (transposed); C: always Nb.
func expectedLeadingBlockDim(op Operand, block BlockDimensions, transposed bool) uint16 {
	switch op {
	case OperandA:
		if transposed {
			return block.Mb
		}
		return block.Kb
	case OperandB:
		if transposed {
			return block.Kb
		}
		return block.Nb
	case OperandC:
		return block.Nb
	default:
		panic("gemm: unknown operand")
	}
}

// Synthesize resolves a Descriptor's defaults, validates its
// invariants, and emits the kernel. It returns a *DescriptorError for
// every failure mode named in spec §4.1/§4.2/§7; there is nothing else
// it can fail with, since it never touches a device.
func Synthesize(d Descriptor, class device.Class) (*Kernel, error) {
	if err := validatePrecisions(d); err != nil {
		return nil, err
	}

	d = resolveDefaults(d, class)

	if err := validateAlignment(d); err != nil {
		return nil, err
	}

	lbd, err := resolveLeadingBlockDimensions(d)
	if err != nil {
		return nil, err
	}

	shiftM, shiftN := edgeShift(d)
	k := &Kernel{
		Descriptor:                  d,
		RegisterM:                   d.BlockDimensions.Mb / d.Splits.Ms,
		RegisterN:                   d.BlockDimensions.Nb / d.Splits.Ns,
		ThreadgroupSize:             32 * uint32(d.Splits.Ms) * uint32(d.Splits.Ns),
		ThreadgroupMemoryAllocation: threadgroupMemoryAllocation(d, lbd),
		EdgeShiftM:                  shiftM,
		EdgeShiftN:                  shiftN,
	}
	k.Source = emitGEMMSource(d, lbd)
	return k, nil
}

func validatePrecisions(d Descriptor) error {
	mem := d.MemoryPrecisions
	reg := effectiveRegisterPrecisions(d)

	if !precision.LegalPair(mem.A, reg.A) {
		return errf(OperandA, "register precision %s is illegal for memory precision %s", reg.A, mem.A)
	}
	if !precision.LegalPair(mem.B, reg.B) {
		return errf(OperandB, "register precision %s is illegal for memory precision %s", reg.B, mem.B)
	}
	if !precision.LegalPair(mem.C, reg.C) {
		return errf(OperandC, "register precision %s is illegal for memory precision %s", reg.C, mem.C)
	}
	if reg.C == precision.BF16 {
		return errf(OperandC, "BF16 is not a legal accumulator (register) precision")
	}
	return nil
}

// effectiveRegisterPrecisions applies the "register precision may be
// defaulted by the synthesiser" rule (spec §3): an unset (zero-value,
// i.e. FP32) register precision simply defaults to FP32, which is
// always legal, so this is really just returning the field, but named
// to make the defaulting explicit at the call site.
func effectiveRegisterPrecisions(d Descriptor) Triple[precision.Precision] {
	return d.RegisterPrecisions
}

func resolveDefaults(d Descriptor, class device.Class) Descriptor {
	if !d.hasExplicitBlockDimensions() || !d.hasExplicitSplits() {
		choice := defaultTileChoice(d.MemoryPrecisions, class)
		if !d.hasExplicitBlockDimensions() {
			d.BlockDimensions = choice.Block
		}
		if !d.hasExplicitSplits() {
			d.Splits = choice.Splits
		}
	}
	return d
}

func validateAlignment(d Descriptor) error {
	b, s := d.BlockDimensions, d.Splits
	if s.Ms == 0 || s.Ns == 0 {
		return errNoOperand("splits must be non-zero (Ms=%d, Ns=%d)", s.Ms, s.Ns)
	}
	if b.Mb%(8*s.Ms) != 0 {
		return errNoOperand("Mb=%d is not a multiple of 8*Ms=%d", b.Mb, 8*s.Ms)
	}
	if b.Nb%(8*s.Ns) != 0 {
		return errNoOperand("Nb=%d is not a multiple of 8*Ns=%d", b.Nb, 8*s.Ns)
	}
	msns := uint32(s.Ms) * uint32(s.Ns)
	if msns != 1 && msns != 2 && msns != 4 {
		return errNoOperand("Ms*Ns=%d must be one of {1, 2, 4}", msns)
	}
	return nil
}

func resolveLeadingBlockDimensions(d Descriptor) (leadingBlockDims, error) {
	expectedA := expectedLeadingBlockDim(OperandA, d.BlockDimensions, d.TransposeState.A)
	expectedB := expectedLeadingBlockDim(OperandB, d.BlockDimensions, d.TransposeState.B)
	expectedC := expectedLeadingBlockDim(OperandC, d.BlockDimensions, false)

	resolve := func(op Operand, override, expected uint16) (uint16, error) {
		if override == 0 {
			return expected, nil
		}
		if override < expected {
			return 0, errf(op, "leading block dimension override %d is below the expected extent %d", override, expected)
		}
		return override, nil
	}

	a, err := resolve(OperandA, d.LeadingBlockDimensions.A, expectedA)
	if err != nil {
		return leadingBlockDims{}, err
	}
	b, err := resolve(OperandB, d.LeadingBlockDimensions.B, expectedB)
	if err != nil {
		return leadingBlockDims{}, err
	}
	c, err := resolve(OperandC, d.LeadingBlockDimensions.C, expectedC)
	if err != nil {
		return leadingBlockDims{}, err
	}
	return leadingBlockDims{A: a, B: b, C: c}, nil
}

// trailingBlockDim is the non-leading extent of an operand's block:
// whatever the leading dimension isn't. For A/B this is the "other"
// tile axis (Mb or Kb / Kb or Nb); for C it's always Mb.
func trailingBlockDim(op Operand, block BlockDimensions, transposed bool) uint16 {
	switch op {
	case OperandA:
		if transposed {
			return block.Kb
		}
		return block.Mb
	case OperandB:
		if transposed {
			return block.Nb
		}
		return block.Kb
	case OperandC:
		return block.Mb
	default:
		panic("gemm: unknown operand")
	}
}

func blockBytes(op Operand, d Descriptor, lbd leadingBlockDims) uint32 {
	var leading uint16
	var mem precision.Precision
	switch op {
	case OperandA:
		leading, mem = lbd.A, d.MemoryPrecisions.A
	case OperandB:
		leading, mem = lbd.B, d.MemoryPrecisions.B
	case OperandC:
		leading, mem = lbd.C, d.MemoryPrecisions.C
	}
	var transposed bool
	if op == OperandA {
		transposed = d.TransposeState.A
	} else if op == OperandB {
		transposed = d.TransposeState.B
	}
	trailing := trailingBlockDim(op, d.BlockDimensions, transposed)
	return uint32(leading) * uint32(trailing) * mem.ByteSize()
}

func threadgroupMemoryAllocation(d Descriptor, lbd leadingBlockDims) uint32 {
	ab := blockBytes(OperandA, d, lbd) + blockBytes(OperandB, d, lbd)
	c := blockBytes(OperandC, d, lbd)
	if ab > c {
		return ab
	}
	return c
}
