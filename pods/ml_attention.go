package pods

import (
	"errors"
	"fmt"
	"math"

	"github.com/openfluke/kernelforge/attention"
	"github.com/openfluke/kernelforge/dispatch"
	"github.com/openfluke/kernelforge/pipeline"
)

// AttentionForwardIn describes one non-causal, single-head scaled
// dot-product attention forward pass: Q is R x D, K and V are C x D,
// all row-major.
type AttentionForwardIn struct {
	R, C, D    int
	Q, K, V    []float32
	Precision  string
	RequireGPU bool
}

type AttentionForwardOut struct {
	O               []float32 // R x D
	L               []float32 // R, logsumexp per query row
	DispatchedOnGPU bool
}

// AttentionForwardPod runs the CPU reference forward pass (grounded on
// the same softmax-attention math the synthesised kernel computes, see
// attention/shader.go), plus, when GPU capability is present, a real
// synthesise → plan → compile → dispatch round trip of the standalone
// forward kernel to exercise the host-side pipeline. As with GEMMPod,
// GPU dispatch has no readback surface, so AttentionForwardOut always
// carries the CPU-computed O and L.
type AttentionForwardPod struct {
	cache *pipeline.Cache
}

func NewAttentionForwardPod() *AttentionForwardPod { return &AttentionForwardPod{} }

func (AttentionForwardPod) Name() string { return "ml/attention-forward" }

func (p *AttentionForwardPod) Run(x *ExecContext, in any) (any, error) {
	args, ok := in.(AttentionForwardIn)
	if !ok {
		return nil, errors.New("AttentionForwardIn expected")
	}
	if len(args.Q) != args.R*args.D || len(args.K) != args.C*args.D || len(args.V) != args.C*args.D {
		return nil, errors.New("bad shapes")
	}
	if args.RequireGPU && !x.UseGPU {
		return nil, ErrNoGPU
	}

	o, l := cpuAttentionForward(args)
	out := AttentionForwardOut{O: o, L: l}

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

// cpuAttentionForward computes O = softmax(Q*K^T / sqrt(D)) * V and the
// per-row logsumexp L, the same quantities the synthesised forward
// kernel produces (attention/shader.go's Forward case), one row at a
// time rather than blocked, since there is no threadgroup-memory
// budget to respect on the CPU.
func cpuAttentionForward(args AttentionForwardIn) (o, l []float32) {
	R, C, D := args.R, args.C, args.D
	scale := float32(1.0 / math.Sqrt(float64(D)))
	o = make([]float32, R*D)
	l = make([]float32, R)
	scores := make([]float32, C)

	for r := 0; r < R; r++ {
		maxScore := float32(math.Inf(-1))
		for c := 0; c < C; c++ {
			var dot float32
			for d := 0; d < D; d++ {
				dot += args.Q[r*D+d] * args.K[c*D+d]
			}
			dot *= scale
			scores[c] = dot
			if dot > maxScore {
				maxScore = dot
			}
		}

		var sumExp float32
		for c := 0; c < C; c++ {
			e := float32(math.Exp(float64(scores[c] - maxScore)))
			scores[c] = e
			sumExp += e
		}

		for d := 0; d < D; d++ {
			var acc float32
			for c := 0; c < C; c++ {
				acc += scores[c] * args.V[c*D+d]
			}
			o[r*D+d] = acc / sumExp
		}
		l[r] = maxScore + float32(math.Log(float64(sumExp)))
	}
	return o, l
}

func (p *AttentionForwardPod) dispatchGPU(x *ExecContext, args AttentionForwardIn) error {
	if p.cache == nil {
		p.cache = pipeline.NewCache(x.GPU)
	}

	prec, err := parsePrecisionName(args.Precision)
	if err != nil {
		return err
	}

	descriptor := attention.Descriptor{
		Dimensions:       attention.Dimensions{R: uint32(args.R), C: uint32(args.C), D: uint16(args.D)},
		MemoryPrecisions: attention.OperandPrecisions{Q: prec, K: prec, V: prec, O: prec},
		Kind:             attention.Forward,
		StoreLogsumexp:   true,
	}

	kernel, err := attention.Synthesize(descriptor)
	if err != nil {
		return fmt.Errorf("ml/attention-forward: synthesize: %w", err)
	}

	elemBytes := uint64(prec.ByteSize())
	q, err := x.GPU.CreateBuffer(uint64(args.R) * uint64(args.D) * elemBytes)
	if err != nil {
		return err
	}
	k, err := x.GPU.CreateBuffer(uint64(args.C) * uint64(args.D) * elemBytes)
	if err != nil {
		return err
	}
	v, err := x.GPU.CreateBuffer(uint64(args.C) * uint64(args.D) * elemBytes)
	if err != nil {
		return err
	}
	o, err := x.GPU.CreateBuffer(uint64(args.R) * uint64(args.D) * elemBytes)
	if err != nil {
		return err
	}
	logsumexp, err := x.GPU.CreateBuffer(uint64(args.R) * 4)
	if err != nil {
		return err
	}

	buffers := dispatch.AttentionBuffers{Q: q, K: k, V: v, O: o, L: logsumexp}
	record, err := dispatch.PlanAttentionForwardOnly(kernel, buffers, x.GPU.Limits())
	if err != nil {
		return fmt.Errorf("ml/attention-forward: plan: %w", err)
	}

	fp := pipeline.FingerprintAttention(descriptor)
	pl, err := p.cache.Register(x.Ctx, fp, record.Source, record.ThreadgroupMemoryBytes)
	if err != nil {
		return fmt.Errorf("ml/attention-forward: compile: %w", err)
	}
	d, err := x.GPU.EncodeDispatch(pl, record.Grid, record.Group, record.ThreadgroupMemoryBytes, record.Bindings)
	if err != nil {
		return fmt.Errorf("ml/attention-forward: dispatch: %w", err)
	}
	return d.Wait(x.Ctx)
}
