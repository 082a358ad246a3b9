package gemm

import "github.com/openfluke/kernelforge/precision"

// Triple is a small fixed-size value for the three (A, B, C)-shaped
// descriptor fields that always come in one-per-operand form.
type Triple[T any] struct {
	A, B, C T
}

// Pair is the (A, B)-shaped analogue, used where C never participates
// (transpose state: C is never transposed).
type Pair[T any] struct {
	A, B T
}

// Dimensions holds the BLAS-notation problem shape.
type Dimensions struct {
	M, N, K uint32
}

// BlockDimensions is the per-block tile shape (Mb, Nb, Kb).
type BlockDimensions struct {
	Mb, Nb, Kb uint16
}

// Splits is the number of 8x8 SIMD-group tiles per block, per axis.
type Splits struct {
	Ms, Ns uint16
}

// LeadingBlockDimensions optionally overrides the per-operand leading
// block dimension; a zero field means "unset, let the synthesiser
// default it" (spec §9: explicit unset-vs-defaulted, no null sentinel
// buried in a pointer).
type LeadingBlockDimensions struct {
	A, B, C uint16 // 0 == unset
}

// Descriptor is an immutable value fingerprinting one GEMM kernel
// variant. Zero-valued optional fields (BlockDimensions, Splits,
// LeadingBlockDimensions) are defaulted by the synthesiser; set them
// explicitly to override.
type Descriptor struct {
	Dimensions Dimensions

	MemoryPrecisions   Triple[precision.Precision]
	RegisterPrecisions Triple[precision.Precision] // zero value (FP32) may be defaulted

	TransposeState Pair[bool]

	BlockDimensions        BlockDimensions // zero == unset, defaulted by tile table
	LeadingBlockDimensions LeadingBlockDimensions
	Splits                 Splits // zero == unset, defaulted

	PreferAsyncLoad  bool
	PreferAsyncStore bool
	LoadPreviousC    bool
}

// hasExplicitBlockDimensions reports whether the caller pinned tile
// dimensions rather than leaving them for the tile table.
func (d Descriptor) hasExplicitBlockDimensions() bool {
	return d.BlockDimensions.Mb != 0 || d.BlockDimensions.Nb != 0 || d.BlockDimensions.Kb != 0
}

func (d Descriptor) hasExplicitSplits() bool {
	return d.Splits.Ms != 0 || d.Splits.Ns != 0
}
