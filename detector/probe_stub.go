//go:build !gpu

package detector

import "errors"

// ErrNoAdapter is returned by Probe when the binary was built without
// -tags=gpu, so no real adapter can be queried.
var ErrNoAdapter = errors.New("detector: built without -tags=gpu, no adapter probe available")

// Probe always fails in a non-gpu build. Callers should fall back to an
// explicit device.Class (e.g. a CLI flag or config default).
func Probe() (Report, error) {
	return Report{}, ErrNoAdapter
}
