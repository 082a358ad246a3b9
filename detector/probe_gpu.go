//go:build gpu

package detector

import (
	"fmt"
	"strings"

	"github.com/openfluke/kernelforge/device"
	"github.com/openfluke/webgpu/wgpu"
)

// Probe requests the highest-performance adapter available and returns
// its classification. The instance and adapter are released before
// returning; this call is meant for a one-shot CLI report, not a hot
// path, so it does not keep a device alive.
func Probe() (Report, error) {
	inst := wgpu.CreateInstance(nil)
	if inst == nil {
		return Report{}, fmt.Errorf("detector: wgpu.CreateInstance returned nil")
	}
	defer inst.Release()

	adapter, err := inst.RequestAdapter(&wgpu.RequestAdapterOptions{
		PowerPreference: wgpu.PowerPreferenceHighPerformance,
	})
	if err != nil {
		return Report{}, fmt.Errorf("detector: request adapter: %w", err)
	}
	if adapter == nil {
		return Report{}, fmt.Errorf("detector: no adapter available")
	}
	defer adapter.Release()

	info := adapter.GetInfo()
	limits := adapter.GetLimits().Limits

	dl := device.Limits{
		MaxComputeInvocationsPerWorkgroup: limits.MaxComputeInvocationsPerWorkgroup,
		MaxComputeWorkgroupSizeX:          limits.MaxComputeWorkgroupSizeX,
		MaxComputeWorkgroupSizeY:          limits.MaxComputeWorkgroupSizeY,
		MaxComputeWorkgroupSizeZ:          limits.MaxComputeWorkgroupSizeZ,
		MaxComputeWorkgroupsPerDimension:  limits.MaxComputeWorkgroupsPerDimension,
		MaxComputeWorkgroupStorageSize:    limits.MaxComputeWorkgroupStorageSize,
		MaxStorageBufferBindingSize:       limits.MaxStorageBufferBindingSize,
		MaxBufferSize:                     limits.MaxBufferSize,
	}

	return Report{
		Name:    strings.TrimSpace(info.Name),
		Backend: info.BackendType.String(),
		Limits:  dl,
		Class:   device.ClassifyLimits(dl),
	}, nil
}
