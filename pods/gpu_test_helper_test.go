package pods

import (
	"github.com/openfluke/kernelforge/backend/fake"
	"github.com/openfluke/kernelforge/device"
)

// fakeGPU adapts backend/fake.Backend to GPUHooks for tests, standing
// in for a real adapter the same way TestEncodeDispatchRecordsCall does
// in package fake itself.
type fakeGPU struct {
	*fake.Backend
	limits device.Limits
	class  device.Class
}

func newFakeGPU() *fakeGPU {
	return &fakeGPU{
		Backend: fake.New(),
		limits: device.Limits{
			MaxComputeInvocationsPerWorkgroup: 1024,
			MaxComputeWorkgroupSizeX:          1024,
			MaxComputeWorkgroupSizeY:          1024,
			MaxComputeWorkgroupSizeZ:          64,
			MaxComputeWorkgroupsPerDimension:  65535,
			MaxComputeWorkgroupStorageSize:    65536,
			MaxStorageBufferBindingSize:       1 << 30,
			MaxBufferSize:                     1 << 31,
		},
		class: device.Discrete,
	}
}

func (g *fakeGPU) Limits() device.Limits { return g.limits }
func (g *fakeGPU) Class() device.Class   { return g.class }
