package pods

import (
	"errors"
	"fmt"
	"math"

	"github.com/openfluke/kernelforge/attention"
	"github.com/openfluke/kernelforge/dispatch"
	"github.com/openfluke/kernelforge/pipeline"
	"github.com/openfluke/kernelforge/precision"
)

// AttentionBackwardIn describes the backward pass for the same
// non-causal, single-head attention problem AttentionForwardPod
// computes forward: Q is R x D, K and V are C x D, DO (the gradient
// flowing in from downstream) is R x D, all row-major.
type AttentionBackwardIn struct {
	R, C, D    int
	Q, K, V    []float32
	DO         []float32
	Precision  string
	RequireGPU bool
}

type AttentionBackwardOut struct {
	DQ              []float32 // R x D
	DK, DV          []float32 // C x D
	DispatchedOnGPU bool
}

// AttentionBackwardPod runs the CPU reference backward pass: the same
// softmax-attention gradients the synthesised backwardQuery and
// backwardKeyValue kernels produce via the dS^T scratch pass (spec
// §4.5), computed directly rather than blocked, since the CPU has no
// threadgroup-memory budget to respect. When GPU capability is
// present it additionally exercises the full five-dispatch
// forward+backward pass through dispatch.PlanAttentionPass, the same
// way AttentionForwardPod exercises the standalone forward dispatch.
type AttentionBackwardPod struct {
	cache *pipeline.Cache
}

func NewAttentionBackwardPod() *AttentionBackwardPod { return &AttentionBackwardPod{} }

func (AttentionBackwardPod) Name() string { return "ml/attention-backward" }

func (p *AttentionBackwardPod) Run(x *ExecContext, in any) (any, error) {
	args, ok := in.(AttentionBackwardIn)
	if !ok {
		return nil, errors.New("AttentionBackwardIn expected")
	}
	if len(args.Q) != args.R*args.D || len(args.K) != args.C*args.D ||
		len(args.V) != args.C*args.D || len(args.DO) != args.R*args.D {
		return nil, errors.New("bad shapes")
	}
	if args.RequireGPU && !x.UseGPU {
		return nil, ErrNoGPU
	}

	dq, dk, dv := cpuAttentionBackward(args)
	out := AttentionBackwardOut{DQ: dq, DK: dk, DV: dv}

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

// cpuAttentionBackward computes dQ, dK, dV for O = softmax(Q*K^T /
// sqrt(D)) * V given the incoming gradient DO, using the standard
// fused-attention backward identities (the same ones the
// backwardQuery/backwardKeyValue kernels realise blocked through
// dS^T, attention/shader.go's BackwardQuery/BackwardKeyValue cases):
//
//	P         = softmax(Q K^T * scale)         (R x C)
//	dV        = P^T dO                          (C x D)
//	dP        = dO V^T                           (R x C)
//	Drow_r    = sum_c P_rc * dP_rc               (= dO_r . O_r)
//	dS_rc     = P_rc * (dP_rc - Drow_r)          (R x C)
//	dQ        = (dS K) * scale                   (R x D)
//	dK        = (dS^T Q) * scale                 (C x D)
func cpuAttentionBackward(args AttentionBackwardIn) (dq, dk, dv []float32) {
	R, C, D := args.R, args.C, args.D
	scale := float32(1.0 / math.Sqrt(float64(D)))

	p := make([]float32, R*C)
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
		for c := 0; c < C; c++ {
			p[r*C+c] = scores[c] / sumExp
		}
	}

	dv = make([]float32, C*D)
	for c := 0; c < C; c++ {
		for r := 0; r < R; r++ {
			pr := p[r*C+c]
			for d := 0; d < D; d++ {
				dv[c*D+d] += pr * args.DO[r*D+d]
			}
		}
	}

	dq = make([]float32, R*D)
	dk = make([]float32, C*D)
	dpRow := make([]float32, C)
	dsRow := make([]float32, C)
	for r := 0; r < R; r++ {
		var rowD float32
		for c := 0; c < C; c++ {
			var dp float32
			for d := 0; d < D; d++ {
				dp += args.DO[r*D+d] * args.V[c*D+d]
			}
			dpRow[c] = dp
			rowD += p[r*C+c] * dp
		}
		for c := 0; c < C; c++ {
			dsRow[c] = p[r*C+c] * (dpRow[c] - rowD)
		}
		for d := 0; d < D; d++ {
			var acc float32
			for c := 0; c < C; c++ {
				acc += dsRow[c] * args.K[c*D+d]
			}
			dq[r*D+d] = acc * scale
		}
		for c := 0; c < C; c++ {
			ds := dsRow[c] * scale
			for d := 0; d < D; d++ {
				dk[c*D+d] += ds * args.Q[r*D+d]
			}
		}
	}

	return dq, dk, dv
}

func (p *AttentionBackwardPod) dispatchGPU(x *ExecContext, args AttentionBackwardIn) error {
	if p.cache == nil {
		p.cache = pipeline.NewCache(x.GPU)
	}

	prec, err := parsePrecisionName(args.Precision)
	if err != nil {
		return err
	}

	base := attention.Descriptor{
		Dimensions:       attention.Dimensions{R: uint32(args.R), C: uint32(args.C), D: uint16(args.D)},
		MemoryPrecisions: attention.OperandPrecisions{Q: prec, K: prec, V: prec, O: prec},
	}

	fwdDesc := base
	fwdDesc.Kind = attention.Forward
	fwdDesc.StoreLogsumexp = true
	fwdKernel, err := attention.Synthesize(fwdDesc)
	if err != nil {
		return fmt.Errorf("ml/attention-backward: synthesize forward: %w", err)
	}

	bqDesc := base
	bqDesc.Kind = attention.BackwardQuery
	bqKernel, err := attention.Synthesize(bqDesc)
	if err != nil {
		return fmt.Errorf("ml/attention-backward: synthesize backwardQuery: %w", err)
	}

	bkvDesc := base
	bkvDesc.Kind = attention.BackwardKeyValue
	bkvDesc.StoreDerivativeST = true
	bkvKernel, err := attention.Synthesize(bkvDesc)
	if err != nil {
		return fmt.Errorf("ml/attention-backward: synthesize backwardKeyValue: %w", err)
	}

	elemBytes := uint64(prec.ByteSize())
	qBuf, err := x.GPU.CreateBuffer(uint64(args.R) * uint64(args.D) * elemBytes)
	if err != nil {
		return err
	}
	kBuf, err := x.GPU.CreateBuffer(uint64(args.C) * uint64(args.D) * elemBytes)
	if err != nil {
		return err
	}
	vBuf, err := x.GPU.CreateBuffer(uint64(args.C) * uint64(args.D) * elemBytes)
	if err != nil {
		return err
	}
	oBuf, err := x.GPU.CreateBuffer(uint64(args.R) * uint64(args.D) * elemBytes)
	if err != nil {
		return err
	}
	doBuf, err := x.GPU.CreateBuffer(uint64(args.R) * uint64(args.D) * elemBytes)
	if err != nil {
		return err
	}
	lBuf, err := x.GPU.CreateBuffer(uint64(args.R) * 4)
	if err != nil {
		return err
	}
	dBuf, err := x.GPU.CreateBuffer(uint64(args.R) * 4)
	if err != nil {
		return err
	}
	dvBuf, err := x.GPU.CreateBuffer(uint64(args.C) * uint64(args.D) * elemBytes)
	if err != nil {
		return err
	}
	dqBuf, err := x.GPU.CreateBuffer(uint64(args.R) * uint64(args.D) * elemBytes)
	if err != nil {
		return err
	}
	dkBuf, err := x.GPU.CreateBuffer(uint64(args.C) * uint64(args.D) * elemBytes)
	if err != nil {
		return err
	}
	derivativeSTBuf, err := x.GPU.CreateBuffer(uint64(bkvKernel.LeadingDimensionDerivativeST) * uint64(args.R) * uint64(precision.BF16.ByteSize()))
	if err != nil {
		return err
	}

	buffers := dispatch.AttentionBuffers{
		Q: qBuf, K: kBuf, V: vBuf, O: oBuf, DO: doBuf,
		L: lBuf, D: dBuf,
		DV: dvBuf, DQ: dqBuf, DK: dkBuf,
		DerivativeST: derivativeSTBuf,
	}

	records, err := dispatch.PlanAttentionPass(fwdKernel, bqKernel, bkvKernel, buffers, x.GPU.Limits(), x.GPU.Class())
	if err != nil {
		return fmt.Errorf("ml/attention-backward: plan: %w", err)
	}

	for _, record := range records {
		fp := fmt.Sprintf("%s:%s", record.Kind, record.Source.Code)
		pl, err := p.cache.Register(x.Ctx, fp, record.Source, record.ThreadgroupMemoryBytes)
		if err != nil {
			return fmt.Errorf("ml/attention-backward: compile %s: %w", record.Kind, err)
		}
		d, err := x.GPU.EncodeDispatch(pl, record.Grid, record.Group, record.ThreadgroupMemoryBytes, record.Bindings)
		if err != nil {
			return fmt.Errorf("ml/attention-backward: dispatch %s: %w", record.Kind, err)
		}
		if err := d.Wait(x.Ctx); err != nil {
			return err
		}
	}
	return nil
}
