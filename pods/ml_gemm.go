package pods

import (
	"errors"
	"fmt"

	"github.com/openfluke/kernelforge/dispatch"
	"github.com/openfluke/kernelforge/gemm"
	"github.com/openfluke/kernelforge/pipeline"
	"github.com/openfluke/kernelforge/precision"
)

// GEMMIn describes one C = alpha*A*B dispatch request. A, B are
// row-major A[M,K], B[K,N]; Precision names the memory precision to
// synthesise a GPU kernel for (ignored on the CPU path, which always
// computes in float32). RequireGPU rejects the request outright
// instead of falling back to the CPU baseline when no GPU capability
// is configured.
type GEMMIn struct {
	M, N, K    int
	A, B       []float32
	Alpha      float32
	Precision  string
	RequireGPU bool

	// TransposeA and TransposeB report whether A/B are stored
	// transposed in memory (A as [K,M] rather than [M,K], B as [N,K]
	// rather than [K,N]), mirroring gemm.Descriptor.TransposeState.
	TransposeA, TransposeB bool
}

type GEMMOut struct {
	C []float32 // row-major C[M,N]

	// DispatchedOnGPU reports whether a real dispatch was issued and
	// waited on, for callers that want to know the host-side pipeline
	// actually ran rather than only the CPU reference path.
	DispatchedOnGPU bool
}

// GEMMPod runs a GEMM: a CPU tiled reference loop always, plus, when an
// ExecContext carries a GPU capability, a real synthesise → plan →
// compile → dispatch round trip through that capability to exercise
// the whole host-side pipeline. device.Buffer has no host-readback
// surface (the GPU driver integration this would need is out of scope,
// see DESIGN.md), so the dispatched kernel's output is never read back;
// GEMMOut.C always comes from the CPU reference loop.
type GEMMPod struct {
	cache *pipeline.Cache
}

func NewGEMMPod() *GEMMPod { return &GEMMPod{} }

func (p *GEMMPod) Name() string { return "ml/gemm" }

func (p *GEMMPod) Run(x *ExecContext, in any) (any, error) {
	args, ok := in.(GEMMIn)
	if !ok {
		return nil, errors.New("GEMMIn expected")
	}
	if len(args.A) != args.M*args.K || len(args.B) != args.K*args.N {
		return nil, errors.New("bad shapes")
	}

	if args.RequireGPU && !x.UseGPU {
		return nil, ErrNoGPU
	}

	out := GEMMOut{C: cpuTiledGEMM(args)}

	if x.UseGPU {
		if err := p.dispatchGPU(x, args); err != nil {
			if args.RequireGPU {
				return nil, err
			}
		} else {
			out.DispatchedOnGPU = true
		}
	}

	return out, nil
}

// aAt and bAt index A[M,K] and B[K,N] logically, regardless of whether
// the underlying buffer is stored row-major in that shape or
// transposed (A as [K,M], B as [N,K]) per args.TransposeA/TransposeB —
// the same op(A)/op(B) indirection gemm.Descriptor.TransposeState
// resolves at the shader-emission level (gemm/kernel.go).
func aAt(args GEMMIn, i, k int) float32 {
	if args.TransposeA {
		return args.A[k*args.M+i]
	}
	return args.A[i*args.K+k]
}

func bAt(args GEMMIn, k, j int) float32 {
	if args.TransposeB {
		return args.B[j*args.K+k]
	}
	return args.B[k*args.N+j]
}

// cpuTiledGEMM is the cache-blocked baseline: tile size 64 keeps each
// panel's working set inside a typical L2 cache line budget. Untransposed
// A/B take the fast contiguous-row path; a transposed operand falls
// back to strided element access, since a transposed panel's rows
// aren't contiguous in memory either way.
func cpuTiledGEMM(args GEMMIn) []float32 {
	M, N, K := args.M, args.N, args.K
	C := make([]float32, M*N)
	const tileSize = 64

	if !args.TransposeA && !args.TransposeB {
		for i0 := 0; i0 < M; i0 += tileSize {
			for k0 := 0; k0 < K; k0 += tileSize {
				for j0 := 0; j0 < N; j0 += tileSize {
					iMax := min(i0+tileSize, M)
					kMax := min(k0+tileSize, K)
					jMax := min(j0+tileSize, N)
					for i := i0; i < iMax; i++ {
						for k := k0; k < kMax; k++ {
							ai := args.A[i*K+k] * args.Alpha
							rowC := i * N
							rowB := k * N
							for j := j0; j < jMax; j++ {
								C[rowC+j] += ai * args.B[rowB+j]
							}
						}
					}
				}
			}
		}
		return C
	}

	for i := 0; i < M; i++ {
		rowC := i * N
		for k := 0; k < K; k++ {
			ai := aAt(args, i, k) * args.Alpha
			for j := 0; j < N; j++ {
				C[rowC+j] += ai * bAt(args, k, j)
			}
		}
	}
	return C
}

func (p *GEMMPod) dispatchGPU(x *ExecContext, args GEMMIn) error {
	if p.cache == nil {
		p.cache = pipeline.NewCache(x.GPU)
	}

	prec, err := parsePrecisionName(args.Precision)
	if err != nil {
		return err
	}

	descriptor := gemm.Descriptor{
		Dimensions:       gemm.Dimensions{M: uint32(args.M), N: uint32(args.N), K: uint32(args.K)},
		MemoryPrecisions: gemm.Triple[precision.Precision]{A: prec, B: prec, C: prec},
		TransposeState:   gemm.Pair[bool]{A: args.TransposeA, B: args.TransposeB},
	}

	kernel, err := gemm.Synthesize(descriptor, x.GPU.Class())
	if err != nil {
		return fmt.Errorf("ml/gemm: synthesize: %w", err)
	}

	a, err := x.GPU.CreateBuffer(uint64(args.M) * uint64(args.K) * uint64(prec.ByteSize()))
	if err != nil {
		return err
	}
	b, err := x.GPU.CreateBuffer(uint64(args.K) * uint64(args.N) * uint64(prec.ByteSize()))
	if err != nil {
		return err
	}
	c, err := x.GPU.CreateBuffer(uint64(args.M) * uint64(args.N) * uint64(prec.ByteSize()))
	if err != nil {
		return err
	}

	record, err := dispatch.PlanGEMM(kernel, a, b, c, x.GPU.Limits())
	if err != nil {
		return fmt.Errorf("ml/gemm: plan: %w", err)
	}

	fp := pipeline.FingerprintGEMM(descriptor)
	pl, err := p.cache.Register(x.Ctx, fp, record.Source, record.ThreadgroupMemoryBytes)
	if err != nil {
		return fmt.Errorf("ml/gemm: compile: %w", err)
	}

	d, err := x.GPU.EncodeDispatch(pl, record.Grid, record.Group, record.ThreadgroupMemoryBytes, record.Bindings)
	if err != nil {
		return fmt.Errorf("ml/gemm: dispatch: %w", err)
	}
	return d.Wait(x.Ctx)
}

func parsePrecisionName(s string) (precision.Precision, error) {
	switch s {
	case "", "fp32":
		return precision.FP32, nil
	case "fp16":
		return precision.FP16, nil
	case "bf16":
		return precision.BF16, nil
	default:
		return 0, fmt.Errorf("ml/gemm: unknown precision %q", s)
	}
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
