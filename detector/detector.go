// Package detector probes a real WebGPU adapter for the limits that
// determine the kernel synthesiser's device-class tile defaults (spec
// §4.2). It is the one place in the repository that talks to
// github.com/openfluke/webgpu directly on the probing path; everything
// downstream of Probe consumes the plain device.Limits/device.Class
// values and has no wgpu dependency.
//
// Build with -tags=gpu to enable; without it, Probe returns
// ErrNoAdapter so callers (notably the CLI's "detect" command)
// can fall back to an explicit -device-class flag.
package detector

import (
	"fmt"
	"strings"

	"github.com/openfluke/kernelforge/device"
)

// Report summarises one probed adapter: its limits, the Class they
// classify to, and a human-readable name for CLI/log output.
type Report struct {
	Name    string
	Backend string
	Limits  device.Limits
	Class   device.Class
}

func (r Report) String() string {
	return fmt.Sprintf("%s (backend=%s, class=%s, workgroup-storage=%dB)",
		strings.TrimSpace(r.Name), r.Backend, r.Class, r.Limits.MaxComputeWorkgroupStorageSize)
}
