// Package dispatch turns a synthesised kernel plus the device-agnostic
// resources it needs into the sequence of grid/threadgroup dispatch
// records a host would issue: one for a standalone GEMM, or five for a
// full attention forward/backward pass (spec §4.5). The planner is
// stateless and never touches a device; it only computes sizes and
// binds indices.
package dispatch

import (
	"github.com/openfluke/kernelforge/attention"
	"github.com/openfluke/kernelforge/device"
	"github.com/openfluke/kernelforge/gemm"
	"github.com/openfluke/kernelforge/precision"
)

// Kind tags which stage of a plan a Record represents.
type Kind uint8

const (
	KindGEMM Kind = iota
	KindAttentionForward
	KindAttentionBackwardQuery
	KindAttentionBackwardKeyValue
)

func (k Kind) String() string {
	switch k {
	case KindGEMM:
		return "gemm"
	case KindAttentionForward:
		return "attention-forward"
	case KindAttentionBackwardQuery:
		return "attention-backward-query"
	case KindAttentionBackwardKeyValue:
		return "attention-backward-key-value"
	default:
		return "unknown"
	}
}

// Record is one dispatch: pure data describing the grid, threadgroup
// size, threadgroup-memory allocation, and the fixed-index buffer
// bindings a Queue.EncodeDispatch call needs. It carries a Source
// rather than a compiled device.Pipeline so that a planner result can
// be built, inspected, and printed (e.g. by the CLI) without a pipeline
// cache or device in hand; package pipeline resolves Source to Pipeline.
type Record struct {
	Kind   Kind
	Source device.Source

	Grid  [3]uint32
	Group [3]uint32

	ThreadgroupMemoryBytes uint32

	Bindings []device.Binding
}

// LimitError reports that a computed grid or threadgroup size exceeds
// device limits (spec §7 Dispatch error). PlanAttentionPass also
// returns it when the pass's three attention kernels disagree on
// LeadingDimensionDerivativeST.
type LimitError struct {
	Reason string
}

func (e *LimitError) Error() string { return "dispatch: " + e.Reason }

func ceilDiv(n, m uint32) uint32 {
	if m == 0 {
		return 0
	}
	return (n + m - 1) / m
}

// PlanGEMM computes the grid/threadgroup dispatch for one GEMM kernel
// (spec §4.5): grid = (ceilDiv(N, Nb), ceilDiv(M, Mb), 1), group =
// (threadgroupSize, 1, 1), threadgroup memory = the kernel's computed
// allocation.
func PlanGEMM(k *gemm.Kernel, a, b, c device.Buffer, limits device.Limits) (Record, error) {
	d := k.Descriptor
	grid := [3]uint32{
		ceilDiv(d.Dimensions.N, uint32(d.BlockDimensions.Nb)),
		ceilDiv(d.Dimensions.M, uint32(d.BlockDimensions.Mb)),
		1,
	}
	group := [3]uint32{k.ThreadgroupSize, 1, 1}

	if err := checkLimits(grid, group, k.ThreadgroupMemoryAllocation, limits); err != nil {
		return Record{}, err
	}

	return Record{
		Kind:                   KindGEMM,
		Source:                 k.Source,
		Grid:                   grid,
		Group:                  group,
		ThreadgroupMemoryBytes: k.ThreadgroupMemoryAllocation,
		Bindings: []device.Binding{
			{Index: 0, Buffer: a},
			{Index: 1, Buffer: b},
			{Index: 2, Buffer: c},
		},
	}, nil
}

func checkLimits(grid, group [3]uint32, tgMem uint32, limits device.Limits) error {
	if limits.MaxComputeInvocationsPerWorkgroup != 0 && group[0]*group[1]*group[2] > limits.MaxComputeInvocationsPerWorkgroup {
		return &LimitError{Reason: "threadgroup size exceeds MaxComputeInvocationsPerWorkgroup"}
	}
	if limits.MaxComputeWorkgroupsPerDimension != 0 {
		for _, g := range grid {
			if g > limits.MaxComputeWorkgroupsPerDimension {
				return &LimitError{Reason: "grid dimension exceeds MaxComputeWorkgroupsPerDimension"}
			}
		}
	}
	if limits.MaxComputeWorkgroupStorageSize != 0 && tgMem > limits.MaxComputeWorkgroupStorageSize {
		return &LimitError{Reason: "threadgroup memory allocation exceeds MaxComputeWorkgroupStorageSize"}
	}
	return nil
}

// AttentionBuffers names the device buffers one attention pass reads
// and writes, keyed the way the synthesiser names its operands. dS^T
// and the dK/dQ GEMMs' scratch are allocated by the caller; Plan only
// describes their required shape through the returned records' Source
// kernels, which the caller inspects for LeadingDimensionDerivativeST.
type AttentionBuffers struct {
	Q, K, V, O, DO device.Buffer
	L, D           device.Buffer
	DV, DQ, DK     device.Buffer
	DerivativeST   device.Buffer
}

// PlanAttentionPass builds the five-dispatch sequence for one
// forward+backward attention pass (spec §4.5): forward, backward-query,
// backward-key-value, then the two GEMMs that consume dS^T. fwd, bq,
// and bkv must share the same R, C, D and be synthesised with
// StoreDerivativeST=true on bkv (Synthesize enforces this already).
func PlanAttentionPass(
	fwd, bq, bkv *attention.Kernel,
	buffers AttentionBuffers,
	limits device.Limits,
	deviceClass device.Class,
) ([]Record, error) {
	d := fwd.Descriptor
	if bkv.LeadingDimensionDerivativeST != fwd.LeadingDimensionDerivativeST ||
		bkv.LeadingDimensionDerivativeST != bq.LeadingDimensionDerivativeST {
		return nil, &LimitError{Reason: "forward/backwardQuery/backwardKeyValue kernels disagree on leadingDimensionDerivativeST; they must share the same C-blocking"}
	}

	records := make([]Record, 0, 5)

	fwdGrid := [3]uint32{ceilDiv(d.Dimensions.R, uint32(fwd.BlockDimension)), 1, 1}
	fwdGroup := [3]uint32{fwd.ThreadgroupSize, 1, 1}
	if err := checkLimits(fwdGrid, fwdGroup, fwd.ThreadgroupMemoryAllocation, limits); err != nil {
		return nil, err
	}
	records = append(records, Record{
		Kind:                   KindAttentionForward,
		Source:                 fwd.Source,
		Grid:                   fwdGrid,
		Group:                  fwdGroup,
		ThreadgroupMemoryBytes: fwd.ThreadgroupMemoryAllocation,
		Bindings: []device.Binding{
			{Index: bindingQ, Buffer: buffers.Q},
			{Index: bindingK, Buffer: buffers.K},
			{Index: bindingV, Buffer: buffers.V},
			{Index: bindingO, Buffer: buffers.O},
			{Index: bindingL, Buffer: buffers.L},
		},
	})

	bqGrid := [3]uint32{ceilDiv(d.Dimensions.R, uint32(bq.BlockDimension)), 1, 1}
	bqGroup := [3]uint32{bq.ThreadgroupSize, 1, 1}
	if err := checkLimits(bqGrid, bqGroup, bq.ThreadgroupMemoryAllocation, limits); err != nil {
		return nil, err
	}
	records = append(records, Record{
		Kind:                   KindAttentionBackwardQuery,
		Source:                 bq.Source,
		Grid:                   bqGrid,
		Group:                  bqGroup,
		ThreadgroupMemoryBytes: bq.ThreadgroupMemoryAllocation,
		Bindings: []device.Binding{
			{Index: bindingQ, Buffer: buffers.Q},
			{Index: bindingK, Buffer: buffers.K},
			{Index: bindingV, Buffer: buffers.V},
			{Index: bindingO, Buffer: buffers.O},
			{Index: bindingL, Buffer: buffers.L},
			{Index: bindingDO, Buffer: buffers.DO},
			{Index: bindingDQ, Buffer: buffers.DQ},
			{Index: bindingD, Buffer: buffers.D},
		},
	})

	bkvGrid := [3]uint32{ceilDiv(d.Dimensions.C, uint32(bkv.BlockDimension)), 1, 1}
	bkvGroup := [3]uint32{bkv.ThreadgroupSize, 1, 1}
	if err := checkLimits(bkvGrid, bkvGroup, bkv.ThreadgroupMemoryAllocation, limits); err != nil {
		return nil, err
	}
	bkvBindings := []device.Binding{
		{Index: bindingQ, Buffer: buffers.Q},
		{Index: bindingK, Buffer: buffers.K},
		{Index: bindingV, Buffer: buffers.V},
		{Index: bindingDO, Buffer: buffers.DO},
		{Index: bindingL, Buffer: buffers.L},
		{Index: bindingD, Buffer: buffers.D},
		{Index: bindingDV, Buffer: buffers.DV},
	}
	if bkv.Descriptor.StoreDerivativeST {
		bkvBindings = append(bkvBindings, device.Binding{Index: bindingDST, Buffer: buffers.DerivativeST})
	}
	records = append(records, Record{
		Kind:                   KindAttentionBackwardKeyValue,
		Source:                 bkv.Source,
		Grid:                   bkvGrid,
		Group:                  bkvGroup,
		ThreadgroupMemoryBytes: bkv.ThreadgroupMemoryAllocation,
		Bindings:               bkvBindings,
	})

	dkDescriptor := gemm.Descriptor{
		Dimensions: gemm.Dimensions{M: d.Dimensions.R, N: uint32(d.Dimensions.D), K: d.Dimensions.C},
		MemoryPrecisions: gemm.Triple[precision.Precision]{
			A: precision.BF16, B: d.MemoryPrecisions.Q, C: precision.FP32,
		},
		TransposeState:         gemm.Pair[bool]{A: false, B: false},
		LeadingBlockDimensions: gemm.LeadingBlockDimensions{A: uint16(bkv.LeadingDimensionDerivativeST)},
	}
	dkKernel, err := gemm.Synthesize(dkDescriptor, deviceClass)
	if err != nil {
		return nil, err
	}
	dkRecord, err := PlanGEMM(dkKernel, buffers.DerivativeST, buffers.Q, buffers.DK, limits)
	if err != nil {
		return nil, err
	}
	dkRecord.Kind = KindGEMM
	records = append(records, dkRecord)

	dqDescriptor := dkDescriptor
	dqDescriptor.TransposeState = gemm.Pair[bool]{A: true, B: false}
	dqKernel, err := gemm.Synthesize(dqDescriptor, deviceClass)
	if err != nil {
		return nil, err
	}
	dqRecord, err := PlanGEMM(dqKernel, buffers.DerivativeST, buffers.K, buffers.DQ, limits)
	if err != nil {
		return nil, err
	}
	dqRecord.Kind = KindGEMM
	records = append(records, dqRecord)

	return records, nil
}

// PlanAttentionForwardOnly builds the single dispatch for a forward
// kernel synthesised without the backward passes it would otherwise
// feed (attention.Descriptor.StoreLogsumexp's inference-only case):
// just Q, K, V, O, and, if the kernel was synthesised with
// StoreLogsumexp, L.
func PlanAttentionForwardOnly(fwd *attention.Kernel, buffers AttentionBuffers, limits device.Limits) (Record, error) {
	d := fwd.Descriptor
	grid := [3]uint32{ceilDiv(d.Dimensions.R, uint32(fwd.BlockDimension)), 1, 1}
	group := [3]uint32{fwd.ThreadgroupSize, 1, 1}
	if err := checkLimits(grid, group, fwd.ThreadgroupMemoryAllocation, limits); err != nil {
		return Record{}, err
	}

	bindings := []device.Binding{
		{Index: bindingQ, Buffer: buffers.Q},
		{Index: bindingK, Buffer: buffers.K},
		{Index: bindingV, Buffer: buffers.V},
		{Index: bindingO, Buffer: buffers.O},
	}
	if d.StoreLogsumexp {
		bindings = append(bindings, device.Binding{Index: bindingL, Buffer: buffers.L})
	}

	return Record{
		Kind:                   KindAttentionForward,
		Source:                 fwd.Source,
		Grid:                   grid,
		Group:                  group,
		ThreadgroupMemoryBytes: fwd.ThreadgroupMemoryAllocation,
		Bindings:               bindings,
	}, nil
}

// the fixed binding indices from spec §6, mirrored here so
// PlanAttentionPass doesn't need to import package attention's
// unexported constants. dQ has no assigned index in spec §6; it reuses
// the dV slot, since BackwardQuery dispatches neither dV nor dS^T (see
// attention/shader.go's identical reuse for the kernel signature side).
const (
	bindingQ   = 0
	bindingK   = 1
	bindingV   = 2
	bindingO   = 3
	bindingL   = 4
	bindingDO  = 5
	bindingD   = 6
	bindingDV  = 7
	bindingDST = 8
	bindingDQ  = bindingDV
)
