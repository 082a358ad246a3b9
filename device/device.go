// Package device defines the abstract device/pipeline-cache capability
// the kernel synthesisers and dispatch planner consume. It deliberately
// knows nothing about any concrete GPU API: compilation of shader text,
// pipeline creation, and command encoding are external collaborators
// (spec §1); this package only names the shape of that collaboration so
// the core can be exercised against a fake in tests and a real backend
// in production.
package device

import (
	"context"
	"time"
)

// Source is the shader text produced by a synthesiser, annotated with
// the entry point it declares. Kept as a named type (not a bare
// string) so a Compiler can distinguish "gemm" vs "attention" entry
// points without re-parsing the text.
type Source struct {
	EntryPoint string
	Code       string
}

// Pipeline is an opaque, compiled kernel. Callers never need a wider
// interface than this: the cache hands it back for dispatch, and the
// dispatch planner only needs to know how much threadgroup memory it
// was compiled to expect.
type Pipeline interface {
	ThreadgroupMemoryBytes() uint32
}

// Compiler turns shader source into a Pipeline. Compilation failure is
// reported as a non-nil error (spec §7); the backends in this module
// return plain wrapped errors that do not carry the source text.
type Compiler interface {
	Compile(ctx context.Context, source Source) (Pipeline, error)
}

// Buffer is an opaque device-memory allocation. The core never reads
// or writes through it directly; it only threads Buffers through
// Binding records for EncodeDispatch.
type Buffer interface {
	Bytes() uint64
}

// Binding pairs a fixed shader binding index (spec §6) with the buffer
// bound there.
type Binding struct {
	Index  uint32
	Buffer Buffer
}

// Dispatch is a submitted, possibly still-in-flight kernel launch.
type Dispatch interface {
	// Wait blocks until the dispatch has completed on the device.
	Wait(ctx context.Context) error
	// GPUStart and GPUEnd report the dispatch's start and end
	// timestamps. The backends in this module take both on the host, with
	// time.Now, when EncodeDispatch submits the dispatch, so they are set
	// before Wait is called.
	GPUStart() time.Time
	GPUEnd() time.Time
}

// Queue creates buffers and encodes/submits dispatches. It is the
// entire "driver" surface the core depends on.
type Queue interface {
	CreateBuffer(bytes uint64) (Buffer, error)
	// EncodeDispatch issues one compute dispatch: grid is in units of
	// threadgroups, group is the threadgroup size, tgMemBytes is the
	// threadgroup-memory allocation the pipeline was sized for.
	EncodeDispatch(p Pipeline, grid, group [3]uint32, tgMemBytes uint32, bindings []Binding) (Dispatch, error)
}

// Capability bundles a Compiler and a Queue: everything the pipeline
// cache and dispatch planner need from one GPU device.
type Capability interface {
	Compiler
	Queue
}
