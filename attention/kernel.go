package attention

import (
	"github.com/openfluke/kernelforge/device"
	"github.com/openfluke/kernelforge/precision"
)

// Kernel is the synthesised product of a Descriptor (spec §3 Attention
// kernel). Values are immutable after Synthesize returns.
type Kernel struct {
	Descriptor Descriptor

	// BlockDimension is Rb for Forward/BackwardQuery or Cb for
	// BackwardKeyValue — whichever axis this kernel type blocks (spec
	// §4.3 Blocking discipline).
	BlockDimension uint16

	ThreadgroupSize             uint32
	ThreadgroupMemoryAllocation uint32

	// LeadingDimensionDerivativeST is the padded stride of the dS^T
	// scratch buffer: ceilToMultiple(C, Cb) (spec §9 Open Question,
	// resolved; see DESIGN.md). Meaningful for every kernel type so the
	// dispatch planner can size the scratch buffer before the
	// BackwardKeyValue kernel that writes it has even been
	// synthesised, as long as all three kernels in a pass share the
	// same Cb (enforced by the planner, not this package).
	LeadingDimensionDerivativeST uint32

	Source device.Source
}

// defaultBlockDimension picks Rb/Cb from the head dimension: small
// heads can afford a wider block before threadgroup memory becomes the
// bottleneck, so D <= 64 gets a 64-row/column block and larger D backs
// off to 32 to keep the streamed K/V (or Q/dO) tile within a
// conservative threadgroup-memory budget.
func defaultBlockDimension(d uint16) uint16 {
	if d <= 64 {
		return 64
	}
	return 32
}

// ceilToMultiple rounds n up to the next multiple of m (spec §9: the
// adopted rule for leadingDimensionDerivativeST).
func ceilToMultiple(n uint32, m uint16) uint32 {
	mm := uint32(m)
	if n%mm == 0 {
		return n
	}
	return (n/mm + 1) * mm
}

// Synthesize resolves a Descriptor's defaults, validates its
// invariants, and emits the kernel (spec §4.3).
func Synthesize(d Descriptor) (*Kernel, error) {
	if err := validate(d); err != nil {
		return nil, err
	}

	blockDim := d.BlockDimension
	if blockDim == 0 {
		blockDim = defaultBlockDimension(d.Dimensions.D)
	}

	cb := blockDim
	if d.Kind != BackwardKeyValue {
		// The scratch buffer's stride must agree across all three
		// kernels of one pass; when this descriptor isn't itself the
		// BackwardKeyValue kernel, assume the same default blocking
		// rule would pick the same Cb for it (the planner verifies
		// this holds when it builds a full pass, see package dispatch).
		cb = defaultBlockDimension(d.Dimensions.D)
	}

	k := &Kernel{
		Descriptor:                   d,
		BlockDimension:               blockDim,
		ThreadgroupSize:              32 * uint32(blockDim/8),
		ThreadgroupMemoryAllocation:  threadgroupMemoryAllocation(d, blockDim),
		LeadingDimensionDerivativeST: ceilToMultiple(d.Dimensions.C, cb),
	}
	k.Source = emitAttentionSource(d, blockDim, k.LeadingDimensionDerivativeST)
	return k, nil
}

func validate(d Descriptor) error {
	for _, p := range []precision.Precision{d.MemoryPrecisions.Q, d.MemoryPrecisions.K, d.MemoryPrecisions.V, d.MemoryPrecisions.O} {
		if !p.Valid() {
			return errf("unknown operand precision %v", p)
		}
	}
	if d.Dimensions.D == 0 {
		return errf("head dimension D must be non-zero")
	}
	if d.Dimensions.R == 0 || d.Dimensions.C == 0 {
		return errf("R and C must be non-zero (R=%d, C=%d)", d.Dimensions.R, d.Dimensions.C)
	}
	if d.Kind == BackwardKeyValue && !d.StoreDerivativeST {
		return errf("BackwardKeyValue requires StoreDerivativeST=true: register-fused dK/dQ without a dS^T scratch pass is out of scope")
	}
	if d.BlockDimension != 0 && d.BlockDimension%8 != 0 {
		return errf("block dimension override %d must be a multiple of 8", d.BlockDimension)
	}
	if d.TransposeState != (OperandTranspose{}) {
		return errf("transposed operands (TransposeState=%+v) are not supported by this synthesiser: the streaming Q/K/V/O block loads (shader.go) assume row-major, untransposed memory layout", d.TransposeState)
	}
	return nil
}

// streamedOperandBytes returns the per-row byte cost of the two
// operands this kernel type streams through threadgroup memory:
// Forward/BackwardQuery stream K and V; BackwardKeyValue streams Q and
// dO (dO's precision is taken to match O's, since the descriptor has
// no separate gradient-precision field and a gradient buffer is always
// allocated at its primal's precision in this design).
func streamedOperandBytes(d Descriptor) uint32 {
	switch d.Kind {
	case Forward, BackwardQuery:
		return d.MemoryPrecisions.K.ByteSize() + d.MemoryPrecisions.V.ByteSize()
	case BackwardKeyValue:
		return d.MemoryPrecisions.Q.ByteSize() + d.MemoryPrecisions.O.ByteSize()
	default:
		return 0
	}
}

func threadgroupMemoryAllocation(d Descriptor, blockDim uint16) uint32 {
	return uint32(blockDim) * uint32(d.Dimensions.D) * streamedOperandBytes(d)
}
