package pipeline

import (
	"fmt"

	"github.com/openfluke/kernelforge/attention"
	"github.com/openfluke/kernelforge/gemm"
)

// FingerprintGEMM deterministically encodes every field of a
// gemm.Descriptor (spec §4.4: "descriptor fingerprint"). Identical
// descriptors always fingerprint identically; descriptors that differ
// in any field fingerprint differently, even where the difference (K,
// for instance) does not change the emitted source text.
func FingerprintGEMM(d gemm.Descriptor) string {
	return fmt.Sprintf(
		"gemm:m=%d,n=%d,k=%d,mem=%s/%s/%s,reg=%s/%s/%s,t=%t/%t,block=%d/%d/%d,lbd=%d/%d/%d,splits=%d/%d,async=%t/%t,loadC=%t",
		d.Dimensions.M, d.Dimensions.N, d.Dimensions.K,
		d.MemoryPrecisions.A, d.MemoryPrecisions.B, d.MemoryPrecisions.C,
		d.RegisterPrecisions.A, d.RegisterPrecisions.B, d.RegisterPrecisions.C,
		d.TransposeState.A, d.TransposeState.B,
		d.BlockDimensions.Mb, d.BlockDimensions.Nb, d.BlockDimensions.Kb,
		d.LeadingBlockDimensions.A, d.LeadingBlockDimensions.B, d.LeadingBlockDimensions.C,
		d.Splits.Ms, d.Splits.Ns,
		d.PreferAsyncLoad, d.PreferAsyncStore, d.LoadPreviousC,
	)
}

// FingerprintAttention is FingerprintGEMM's counterpart for
// attention.Descriptor.
func FingerprintAttention(d attention.Descriptor) string {
	return fmt.Sprintf(
		"attention:kind=%s,r=%d,c=%d,d=%d,mem=%s/%s/%s/%s,t=%t/%t/%t/%t,block=%d,logsumexp=%t,dst=%t",
		d.Kind, d.Dimensions.R, d.Dimensions.C, d.Dimensions.D,
		d.MemoryPrecisions.Q, d.MemoryPrecisions.K, d.MemoryPrecisions.V, d.MemoryPrecisions.O,
		d.TransposeState.Q, d.TransposeState.K, d.TransposeState.V, d.TransposeState.O,
		d.BlockDimension, d.StoreLogsumexp, d.StoreDerivativeST,
	)
}
