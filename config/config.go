// Package config loads kernelforge's on-disk tile-override and policy
// configuration. Grounded on mantle's cmd/mantle/config.go: the optional
// boolean policy fields are pointers so the loader can tell "absent"
// apart from "explicitly false"; a zero tile-override field means
// "keep the device-class tile table's value". Loaded with
// gopkg.in/yaml.v3.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/openfluke/kernelforge/device"
	"github.com/openfluke/kernelforge/gemm"
)

// TileOverride pins a GEMM tile choice for one (memoryPrecisionClass,
// deviceClass) bucket, bypassing the synthesiser's built-in table
// (spec §4.2 Tile-default table). A zero field within Block or Splits
// still means "unset, default that one field".
type TileOverride struct {
	PrecisionClass string `yaml:"precision_class"` // "fp32" or "mixed"
	DeviceClass    string `yaml:"device_class"`     // "integrated", "discrete", "datacenter"
	Block          struct {
		Mb uint16 `yaml:"mb"`
		Nb uint16 `yaml:"nb"`
		Kb uint16 `yaml:"kb"`
	} `yaml:"block"`
	Splits struct {
		Ms uint16 `yaml:"ms"`
		Ns uint16 `yaml:"ns"`
	} `yaml:"splits"`
}

// Config is kernelforge's on-disk configuration
// (~/.config/kernelforge/config.yaml).
type Config struct {
	// LogLevel and LogFormat control the CLI's xlog setup: "debug",
	// "info", "warn", "error"; "pretty" or "json".
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`

	// PreferAsyncLoad/PreferAsyncStore set the descriptor defaults a
	// bare CLI invocation uses when the caller didn't pass an explicit
	// flag (spec §3/§4.2: async-copy is a caller preference, not a
	// correctness requirement).
	PreferAsyncLoad  *bool `yaml:"prefer_async_load"`
	PreferAsyncStore *bool `yaml:"prefer_async_store"`

	// TileOverrides replace entries of the default tile table keyed on
	// (precisionClass, deviceClass); entries whose key doesn't match
	// any bucket are rejected at load time.
	TileOverrides []TileOverride `yaml:"tile_overrides"`
}

func defaultPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "kernelforge", "config.yaml")
}

// Load reads the config file at defaultPath, returning a zero Config
// (all defaults) if it doesn't exist.
func Load() (Config, error) {
	return LoadFrom(defaultPath())
}

// LoadFrom reads and validates the config file at path. An empty path
// or a missing file returns a zero Config, not an error.
func LoadFrom(path string) (Config, error) {
	if path == "" {
		return Config{}, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Config{}, nil
		}
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if err := validate(cfg); err != nil {
		return Config{}, fmt.Errorf("config: %s: %w", path, err)
	}
	return cfg, nil
}

func validate(cfg Config) error {
	for i, o := range cfg.TileOverrides {
		switch o.PrecisionClass {
		case "fp32", "mixed":
		default:
			return fmt.Errorf("tile_overrides[%d]: precision_class %q must be \"fp32\" or \"mixed\"", i, o.PrecisionClass)
		}
		if _, err := device.ParseClass(o.DeviceClass); err != nil {
			return fmt.Errorf("tile_overrides[%d]: %w", i, err)
		}
	}
	return nil
}

// InstallTileOverrides applies cfg.TileOverrides into package gemm's
// tile-default table (spec §4.2), so a fleet's config file can tune
// tile choices without recompiling. Load validates PrecisionClass and
// DeviceClass already, so the only remaining failure mode here is
// gemm.ApplyTileOverride rejecting a precision class it doesn't
// recognise, which validate's matching switch above makes unreachable
// in practice. Call once at process start, before any concurrent
// gemm.Synthesize call.
func InstallTileOverrides(cfg Config) error {
	for _, o := range cfg.TileOverrides {
		dc, err := device.ParseClass(o.DeviceClass)
		if err != nil {
			return err
		}
		block := gemm.BlockDimensions{Mb: o.Block.Mb, Nb: o.Block.Nb, Kb: o.Block.Kb}
		splits := gemm.Splits{Ms: o.Splits.Ms, Ns: o.Splits.Ns}
		if err := gemm.ApplyTileOverride(o.PrecisionClass, dc, block, splits); err != nil {
			return err
		}
	}
	return nil
}

// ApplyDescriptorDefaults fills d's async-copy preference fields from
// cfg wherever the caller left them at the zero value, mirroring
// applyRunConfig's "config fills in what the flag didn't set" pattern.
func ApplyDescriptorDefaults(d gemm.Descriptor, cfg Config) gemm.Descriptor {
	if cfg.PreferAsyncLoad != nil && !d.PreferAsyncLoad {
		d.PreferAsyncLoad = *cfg.PreferAsyncLoad
	}
	if cfg.PreferAsyncStore != nil && !d.PreferAsyncStore {
		d.PreferAsyncStore = *cfg.PreferAsyncStore
	}
	return d
}
