// Package pods wraps the kernel synthesiser and dispatch planner
// behind a small Pod/ExecContext framework, generalised from the
// teacher's scan/reduce/culling pod set to GEMM and attention. Each
// Pod always runs the CPU reference path and, when x.UseGPU is set,
// additionally dispatches through x.GPU, mirroring the teacher's "TODO GPU: ..." CPU-first pod bodies, except
// the GPU path here is fully wired rather than a placeholder.
package pods

import (
	"context"
	"time"

	"github.com/openfluke/kernelforge/detector"
)

// Pod is a unit of work (GEMM, attention forward, attention backward).
type Pod interface {
	Name() string
	Run(ctx *ExecContext, in any) (out any, err error)
}

// ExecContext carries execution choices and capabilities.
type ExecContext struct {
	Ctx    context.Context
	UseGPU bool             // high-level knob; pods may still fall back to CPU
	Report *detector.Report // detector output (limits, class)
	GPU    GPUHooks         // nil unless -tags=gpu and Open succeeded
	Now    time.Time
}

func NewContext(rep *detector.Report) *ExecContext {
	return &ExecContext{
		Ctx:    context.Background(),
		UseGPU: false,
		Report: rep,
		Now:    time.Now(),
	}
}

func (ec *ExecContext) WithGPU(g GPUHooks) *ExecContext {
	ec.GPU = g
	ec.UseGPU = g != nil
	return ec
}
