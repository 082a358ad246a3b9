package config

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/openfluke/kernelforge/device"
	"github.com/openfluke/kernelforge/gemm"
	"github.com/openfluke/kernelforge/precision"
)

func TestLoadFromMissingFileReturnsZeroConfig(t *testing.T) {
	cfg, err := LoadFrom(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(cfg, Config{}) {
		t.Errorf("expected zero Config for a missing file, got %+v", cfg)
	}
}

func TestLoadFromEmptyPathReturnsZeroConfig(t *testing.T) {
	cfg, err := LoadFrom("")
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(cfg, Config{}) {
		t.Errorf("expected zero Config, got %+v", cfg)
	}
}

func TestLoadFromParsesYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	contents := `
log_level: debug
log_format: json
prefer_async_load: true
tile_overrides:
  - precision_class: mixed
    device_class: discrete
    block: {mb: 64, nb: 64, kb: 32}
    splits: {ms: 2, ns: 2}
`
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadFrom(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.LogLevel != "debug" || cfg.LogFormat != "json" {
		t.Errorf("log settings = %q/%q, want debug/json", cfg.LogLevel, cfg.LogFormat)
	}
	if cfg.PreferAsyncLoad == nil || !*cfg.PreferAsyncLoad {
		t.Error("expected prefer_async_load to parse true")
	}
	if len(cfg.TileOverrides) != 1 || cfg.TileOverrides[0].Block.Mb != 64 {
		t.Errorf("tile_overrides = %+v", cfg.TileOverrides)
	}
}

func TestLoadFromRejectsUnknownPrecisionClass(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	contents := `
tile_overrides:
  - precision_class: bogus
    device_class: discrete
`
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadFrom(path); err == nil {
		t.Fatal("expected rejection of an unknown precision_class")
	}
}

func TestApplyDescriptorDefaultsFillsUnsetFields(t *testing.T) {
	trueVal := true
	cfg := Config{PreferAsyncLoad: &trueVal}
	d := gemm.Descriptor{}
	got := ApplyDescriptorDefaults(d, cfg)
	if !got.PreferAsyncLoad {
		t.Error("expected PreferAsyncLoad to be filled from config")
	}
}

func tileOverride(precisionClass, deviceClass string, mb, nb, kb, ms, ns uint16) TileOverride {
	var o TileOverride
	o.PrecisionClass = precisionClass
	o.DeviceClass = deviceClass
	o.Block.Mb, o.Block.Nb, o.Block.Kb = mb, nb, kb
	o.Splits.Ms, o.Splits.Ns = ms, ns
	return o
}

func TestInstallTileOverridesReachesSynthesize(t *testing.T) {
	cfg := Config{TileOverrides: []TileOverride{tileOverride("fp32", "integrated", 16, 16, 8, 1, 1)}}
	if err := InstallTileOverrides(cfg); err != nil {
		t.Fatal(err)
	}

	d := gemm.Descriptor{
		Dimensions:       gemm.Dimensions{M: 16, N: 16, K: 8},
		MemoryPrecisions: gemm.Triple[precision.Precision]{A: precision.FP32, B: precision.FP32, C: precision.FP32},
	}
	k, err := gemm.Synthesize(d, device.Integrated)
	if err != nil {
		t.Fatal(err)
	}
	if k.Descriptor.BlockDimensions.Mb != 16 {
		t.Errorf("BlockDimensions.Mb = %d, want the installed override's 16", k.Descriptor.BlockDimensions.Mb)
	}

	// restore the static default so later tests in this package don't
	// observe the override this test just installed.
	restore := Config{TileOverrides: []TileOverride{tileOverride("fp32", "integrated", 32, 32, 8, 1, 1)}}
	if err := InstallTileOverrides(restore); err != nil {
		t.Fatal(err)
	}
}
