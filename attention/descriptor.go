package attention

import "github.com/openfluke/kernelforge/precision"

// Dimensions holds the problem shape: R rows (queries), C columns
// (keys/values), and D the (small) head dimension.
type Dimensions struct {
	R, C uint32
	D    uint16
}

// OperandPrecisions is a per-operand memory precision, one each for Q,
// K, V, O.
type OperandPrecisions struct {
	Q, K, V, O precision.Precision
}

// OperandTranspose is a per-operand transpose flag, one each for Q, K,
// V, O.
type OperandTranspose struct {
	Q, K, V, O bool
}

// Descriptor is an immutable value fingerprinting one attention kernel
// variant: one of the three kernel types that together make up a
// forward/backward pass (spec §3 Attention descriptor).
type Descriptor struct {
	Dimensions Dimensions

	MemoryPrecisions OperandPrecisions
	TransposeState   OperandTranspose

	Kind Kind

	// StoreLogsumexp applies to Kind == Forward: whether L[r] is
	// written to device memory (it always must be, for the backward
	// pass to consume it, but the flag exists so a forward-only
	// inference kernel can be synthesised without the extra store).
	StoreLogsumexp bool

	// StoreDerivativeST applies to Kind == BackwardKeyValue: whether
	// dS^T is materialised to the device scratch buffer (spec §4.3 dS
	// materialisation policy). When false, the kernel must fold the
	// dK = dS^T * Q product directly in registers instead of handing
	// it to a follow-up GEMM; that register-fusion path is out of
	// scope for this synthesiser (see Non-goals), so StoreDerivativeST
	// is required to be true for BackwardKeyValue descriptors.
	StoreDerivativeST bool

	// BlockDimension overrides the default Rb (Forward/BackwardQuery)
	// or Cb (BackwardKeyValue) block size. Zero means "unset, default
	// it from the head dimension".
	BlockDimension uint16
}
