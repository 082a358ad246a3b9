package pods

import (
	"context"

	"github.com/openfluke/kernelforge/device"
)

// GPUHooks is the optional GPU backend a pod dispatches against: it is
// a device.Capability plus the two values the dispatch planner and
// tile defaults need that aren't part of that interface, the device's
// Limits and its Class.
type GPUHooks interface {
	device.Capability
	Limits() device.Limits
	Class() device.Class
}

// GPU defaults to a no-op so everything builds/runs without -tags=gpu.
var GPU GPUHooks = noopGPU{}

type noopGPU struct{}

func (noopGPU) Compile(ctx context.Context, source device.Source) (device.Pipeline, error) {
	return nil, ErrNoGPU
}

func (noopGPU) CreateBuffer(bytes uint64) (device.Buffer, error) { return nil, ErrNoGPU }

func (noopGPU) EncodeDispatch(p device.Pipeline, grid, group [3]uint32, tgMemBytes uint32, bindings []device.Binding) (device.Dispatch, error) {
	return nil, ErrNoGPU
}

func (noopGPU) Limits() device.Limits { return device.Limits{} }
func (noopGPU) Class() device.Class   { return device.Integrated }

// gpu_wgpu.go (`//go:build gpu`) adds OpenGPU, which returns a real
// backend for ExecContext; it does not reassign GPU.
