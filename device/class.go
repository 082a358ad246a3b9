package device

import "fmt"

// Limits is the subset of adapter/device limits the tile-default table
// and dispatch-limit checks care about. It is a plain value so the
// synthesiser and planner can be exercised in tests without a real
// adapter; a concrete probe (package detector) fills one in from an
// actual device.
type Limits struct {
	MaxComputeInvocationsPerWorkgroup uint32
	MaxComputeWorkgroupSizeX          uint32
	MaxComputeWorkgroupSizeY          uint32
	MaxComputeWorkgroupSizeZ          uint32
	MaxComputeWorkgroupsPerDimension  uint32
	MaxComputeWorkgroupStorageSize    uint32
	MaxStorageBufferBindingSize       uint64
	MaxBufferSize                     uint64
}

// Class is a coarse bucket of device capability used only to key the
// GEMM tile-default table (spec §4.2); it never affects correctness.
type Class uint8

const (
	// Integrated covers mobile/integrated GPUs with small threadgroup
	// memory, where conservative tiles avoid spilling to device memory.
	Integrated Class = iota
	// Discrete covers typical desktop/workstation discrete GPUs.
	Discrete
	// Datacenter covers GPUs with large threadgroup-memory budgets,
	// where bigger tiles amortise more compute per async copy.
	Datacenter
)

// ParseClass parses the CLI/config-file spelling of a device class
// ("integrated", "discrete", "datacenter") used by both
// cmd/kernelforge's -device-class flag and config.TileOverride's
// device_class field, so the two don't drift into accepting different
// spellings of the same three buckets.
func ParseClass(s string) (Class, error) {
	switch s {
	case "integrated":
		return Integrated, nil
	case "discrete":
		return Discrete, nil
	case "datacenter":
		return Datacenter, nil
	default:
		return 0, fmt.Errorf("device: unknown device class %q, must be one of integrated, discrete, datacenter", s)
	}
}

func (c Class) String() string {
	switch c {
	case Integrated:
		return "integrated"
	case Discrete:
		return "discrete"
	case Datacenter:
		return "datacenter"
	default:
		return "unknown"
	}
}

// thresholds on threadgroup storage, in bytes, separating the three
// classes. Chosen to land common consumer iGPUs below 32KiB, desktop
// discrete GPUs in the 32-64KiB range, and datacenter parts above that.
const (
	integratedStorageCeiling = 32 * 1024
	discreteStorageCeiling   = 64 * 1024
)

// ClassifyLimits buckets a device's limits into a Class. It is pure and
// total: every Limits value classifies to some Class, and the zero
// value classifies to Integrated (the most conservative bucket), so a
// caller that can't probe a real device still gets safe tile defaults.
func ClassifyLimits(l Limits) Class {
	switch {
	case l.MaxComputeWorkgroupStorageSize > discreteStorageCeiling:
		return Datacenter
	case l.MaxComputeWorkgroupStorageSize > integratedStorageCeiling:
		return Discrete
	default:
		return Integrated
	}
}
