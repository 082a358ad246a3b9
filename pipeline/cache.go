// Package pipeline caches compiled kernels behind a descriptor
// fingerprint (spec §4.4). It guarantees at-most-one compilation per
// fingerprint even when Register is called concurrently for the same
// key, using a per-fingerprint sync.Once rather than a single global
// lock so unrelated fingerprints never contend with each other.
//
// No third-party library in the retrieval pack offers this
// (golang.org/x/sync/singleflight would, but nothing in the examples
// imports it); a hand-rolled fingerprint->*sync.Once map is the
// smallest correct primitive for "coalesce concurrent identical work",
// so it stays on the standard library.
package pipeline

import (
	"context"
	"sync"

	"github.com/openfluke/kernelforge/device"
)

// Cache resolves descriptor fingerprints to compiled pipelines against
// one device.Compiler. A process typically holds one Cache per active
// device.Capability.
type Cache struct {
	compiler device.Compiler

	mu      sync.Mutex
	entries map[string]*entry
}

type entry struct {
	once     sync.Once
	pipeline device.Pipeline
	err      error
}

// NewCache builds an empty cache backed by compiler.
func NewCache(compiler device.Compiler) *Cache {
	return &Cache{compiler: compiler, entries: make(map[string]*entry)}
}

// Register compiles source under fingerprint on first use and returns
// the same Pipeline to every later caller with that fingerprint,
// including callers racing the first compilation. tgMemBytes is the
// synthesiser's own computed threadgroup-memory allocation (spec
// §4.2/§4.3), not whatever the backend reports for a freshly compiled
// pipeline, so the returned Pipeline always reports tgMemBytes from
// ThreadgroupMemoryBytes() regardless of the concrete backend.
//
// A failed compilation is cached too: repeated Register calls for a
// fingerprint whose source doesn't compile return the same error
// without retrying, since a compilation error (spec §7) is a property
// of the source text, which is immutable once a fingerprint is fixed.
func (c *Cache) Register(ctx context.Context, fingerprint string, source device.Source, tgMemBytes uint32) (device.Pipeline, error) {
	c.mu.Lock()
	e, ok := c.entries[fingerprint]
	if !ok {
		e = &entry{}
		c.entries[fingerprint] = e
	}
	c.mu.Unlock()

	e.once.Do(func() {
		p, err := c.compiler.Compile(ctx, source)
		if err != nil {
			e.err = err
			return
		}
		e.pipeline = pipelineWithMemory{Pipeline: p, bytes: tgMemBytes}
	})

	return e.pipeline, e.err
}

// Len reports how many distinct fingerprints have been registered
// (successfully or not).
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Lookup returns the pipeline already registered for fingerprint
// without triggering a compilation, for callers that only want to
// inspect cache state.
func (c *Cache) Lookup(fingerprint string) (device.Pipeline, bool) {
	c.mu.Lock()
	e, ok := c.entries[fingerprint]
	c.mu.Unlock()
	if !ok {
		return nil, false
	}
	return e.pipeline, e.err == nil
}

type pipelineWithMemory struct {
	device.Pipeline
	bytes uint32
}

func (p pipelineWithMemory) ThreadgroupMemoryBytes() uint32 { return p.bytes }
