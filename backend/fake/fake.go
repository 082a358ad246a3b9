// Package fake is an in-memory device.Capability that never touches a
// GPU: Compile only checks that source isn't empty, CreateBuffer only
// records a byte count, and EncodeDispatch only records what it was
// asked to dispatch. It stands in for a real backend in tests and in
// the CLI's dry-run mode, generalising the teacher's noopGPU
// (pods/gpu_stub.go) from a fixed scan/reduce/softmax hook interface
// to the full device.Capability surface.
package fake

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/openfluke/kernelforge/device"
)

// Pipeline is the fake Compiler's compiled artifact: just the source it
// was given. Its ThreadgroupMemoryBytes always reports 0 (package
// pipeline wraps every Pipeline it hands out so that it reports the
// synthesiser's own number, so this 0 is only observed by tests that
// talk to Backend directly).
type Pipeline struct {
	Source device.Source
}

func (p Pipeline) ThreadgroupMemoryBytes() uint32 { return 0 }

// Buffer is a fake device allocation; it never actually holds memory.
type Buffer struct {
	bytes uint64
}

func (b Buffer) Bytes() uint64 { return b.bytes }

// Dispatch is an already-"complete" fake launch: Wait returns
// immediately and the GPU timestamps are both the moment it was
// encoded.
type Dispatch struct {
	start, end time.Time
}

func (d Dispatch) Wait(ctx context.Context) error { return nil }
func (d Dispatch) GPUStart() time.Time             { return d.start }
func (d Dispatch) GPUEnd() time.Time               { return d.end }

// Call records one EncodeDispatch invocation, for tests and the CLI's
// dry-run printer to inspect after the fact.
type Call struct {
	Grid, Group    [3]uint32
	TGMemBytes     uint32
	BindingIndices []uint32
}

// Backend implements device.Capability entirely in memory.
type Backend struct {
	mu    sync.Mutex
	calls []Call

	compileCount  int
	dispatchCount int
}

// New returns an empty Backend.
func New() *Backend { return &Backend{} }

func (b *Backend) Compile(ctx context.Context, source device.Source) (device.Pipeline, error) {
	if source.Code == "" {
		return nil, fmt.Errorf("fake: refusing to compile empty source for entry point %q", source.EntryPoint)
	}
	b.mu.Lock()
	b.compileCount++
	b.mu.Unlock()
	return Pipeline{Source: source}, nil
}

func (b *Backend) CreateBuffer(bytes uint64) (device.Buffer, error) {
	return Buffer{bytes: bytes}, nil
}

func (b *Backend) EncodeDispatch(p device.Pipeline, grid, group [3]uint32, tgMemBytes uint32, bindings []device.Binding) (device.Dispatch, error) {
	indices := make([]uint32, len(bindings))
	for i, bind := range bindings {
		indices[i] = bind.Index
	}

	b.mu.Lock()
	b.dispatchCount++
	b.calls = append(b.calls, Call{Grid: grid, Group: group, TGMemBytes: tgMemBytes, BindingIndices: indices})
	b.mu.Unlock()

	now := timeNow()
	return Dispatch{start: now, end: now}, nil
}

// timeNow is a seam so tests could stub the clock; nothing in this
// package needs to yet, but Dispatch's timestamps should come from one
// call site.
func timeNow() time.Time { return time.Now() }

// Calls returns every EncodeDispatch call recorded so far, in order.
func (b *Backend) Calls() []Call {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Call, len(b.calls))
	copy(out, b.calls)
	return out
}

func (b *Backend) CompileCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.compileCount
}

func (b *Backend) DispatchCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dispatchCount
}
