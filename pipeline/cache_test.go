package pipeline

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/openfluke/kernelforge/device"
	"github.com/openfluke/kernelforge/gemm"
	"github.com/openfluke/kernelforge/precision"
)

type countingCompiler struct {
	calls int64
	fail  bool
}

type stubPipeline struct{ bytes uint32 }

func (p stubPipeline) ThreadgroupMemoryBytes() uint32 { return p.bytes }

func (c *countingCompiler) Compile(ctx context.Context, source device.Source) (device.Pipeline, error) {
	atomic.AddInt64(&c.calls, 1)
	if c.fail {
		return nil, fmt.Errorf("compile failed: %s", source.EntryPoint)
	}
	return stubPipeline{bytes: 123}, nil
}

func TestRegisterCompilesOnceConcurrently(t *testing.T) {
	compiler := &countingCompiler{}
	cache := NewCache(compiler)
	source := device.Source{EntryPoint: "gemm", Code: "kernel void gemm() {}"}

	var wg sync.WaitGroup
	results := make([]device.Pipeline, 32)
	errs := make([]error, 32)
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = cache.Register(context.Background(), "fp-a", source, 4096)
		}(i)
	}
	wg.Wait()

	if got := atomic.LoadInt64(&compiler.calls); got != 1 {
		t.Fatalf("compiler.Compile called %d times, want exactly 1", got)
	}
	for i, err := range errs {
		if err != nil {
			t.Fatalf("call %d: unexpected error %v", i, err)
		}
		if results[i].ThreadgroupMemoryBytes() != 4096 {
			t.Errorf("call %d: ThreadgroupMemoryBytes() = %d, want 4096 (the synthesiser's value, not the backend's)", i, results[i].ThreadgroupMemoryBytes())
		}
	}
}

func TestRegisterDistinctFingerprintsCompileIndependently(t *testing.T) {
	compiler := &countingCompiler{}
	cache := NewCache(compiler)
	src := device.Source{EntryPoint: "gemm", Code: "kernel void gemm() {}"}

	if _, err := cache.Register(context.Background(), "fp-a", src, 1); err != nil {
		t.Fatal(err)
	}
	if _, err := cache.Register(context.Background(), "fp-b", src, 2); err != nil {
		t.Fatal(err)
	}
	if got := atomic.LoadInt64(&compiler.calls); got != 2 {
		t.Fatalf("compiler.Compile called %d times, want 2", got)
	}
	if cache.Len() != 2 {
		t.Fatalf("cache.Len() = %d, want 2", cache.Len())
	}
}

func TestRegisterCachesCompilationFailure(t *testing.T) {
	compiler := &countingCompiler{fail: true}
	cache := NewCache(compiler)
	src := device.Source{EntryPoint: "gemm", Code: "kernel void gemm() {}"}

	_, err1 := cache.Register(context.Background(), "fp-a", src, 1)
	_, err2 := cache.Register(context.Background(), "fp-a", src, 1)
	if err1 == nil || err2 == nil {
		t.Fatal("expected both calls to return the compilation error")
	}
	if got := atomic.LoadInt64(&compiler.calls); got != 1 {
		t.Fatalf("compiler.Compile called %d times, want exactly 1 even on failure", got)
	}
}

func TestFingerprintGEMMIsStableAndDiscriminating(t *testing.T) {
	base := gemm.Descriptor{
		Dimensions: gemm.Dimensions{M: 512, N: 512, K: 512},
		MemoryPrecisions: gemm.Triple[precision.Precision]{
			A: precision.FP16, B: precision.FP16, C: precision.FP32,
		},
	}
	other := base
	other.Dimensions.K = 1024

	if FingerprintGEMM(base) != FingerprintGEMM(base) {
		t.Error("fingerprint is not stable across calls")
	}
	if FingerprintGEMM(base) == FingerprintGEMM(other) {
		t.Error("descriptors differing in K produced identical fingerprints")
	}
}
