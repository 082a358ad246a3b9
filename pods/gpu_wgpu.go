//go:build gpu

package pods

import (
	"github.com/openfluke/kernelforge/backend/webgpu"
	"github.com/openfluke/kernelforge/detector"
	"github.com/openfluke/kernelforge/device"
)

// realGPU wraps backend/webgpu.Backend with the Limits/Class pair
// GPUHooks needs, probed once at OpenGPU time.
type realGPU struct {
	*webgpu.Backend
	limits device.Limits
	class  device.Class
}

func (g *realGPU) Limits() device.Limits { return g.limits }
func (g *realGPU) Class() device.Class   { return g.class }

// OpenGPU opens a real adapter and probes its limits, returning a
// GPUHooks an ExecContext can be built around. Callers should Close
// the returned Backend when done.
func OpenGPU() (*realGPU, error) {
	backend, err := webgpu.Open()
	if err != nil {
		return nil, err
	}
	report, err := detector.Probe()
	if err != nil {
		// Open succeeded but the separate detector probe failed; still
		// usable, just without a sharper-than-Integrated classification.
		return &realGPU{Backend: backend, class: device.Integrated}, nil
	}
	return &realGPU{Backend: backend, limits: report.Limits, class: report.Class}, nil
}
