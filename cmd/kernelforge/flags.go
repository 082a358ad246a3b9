package main

import (
	"os"

	"github.com/urfave/cli/v3"

	"github.com/openfluke/kernelforge/config"
	"github.com/openfluke/kernelforge/device"
	"github.com/openfluke/kernelforge/precision"
	"github.com/openfluke/kernelforge/xlog"
)

// logLevel and logFormat are bound by loggingFlags and read by
// newLogger once the command's Action runs, mirroring mantle's
// package-level flag-destination pattern in cmd/mantle/flags.go.
var (
	logLevel  string
	logFormat string
)

func loggingFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "log-level",
			Value:       "info",
			Usage:       "debug, info, warn, or error",
			Destination: &logLevel,
		},
		&cli.StringFlag{
			Name:        "log-format",
			Value:       "pretty",
			Usage:       "pretty or json",
			Destination: &logFormat,
		},
	}
}

// newLogger builds the Logger the command's Action should use,
// applying any config-file default before the flags parsed above.
func newLogger() xlog.Logger {
	cfg, err := config.Load()
	level, format := logLevel, logFormat
	if err == nil {
		if level == "info" && cfg.LogLevel != "" {
			level = cfg.LogLevel
		}
		if format == "pretty" && cfg.LogFormat != "" {
			format = cfg.LogFormat
		}
	}
	lvl := xlog.ParseLevel(level)
	if format == "json" {
		return xlog.JSON(os.Stderr, lvl)
	}
	return xlog.Pretty(os.Stderr, lvl)
}

// devClassFlag returns a shared -device-class flag used by both
// "synthesize" and "plan", since both need a device.Class to resolve
// tile defaults but neither wants to require a live GPU probe.
func devClassFlag(dest *string) cli.Flag {
	return &cli.StringFlag{
		Name:        "device-class",
		Value:       "discrete",
		Usage:       "integrated, discrete, or datacenter",
		Destination: dest,
	}
}

func parsePrecision(s string) (precision.Precision, error) {
	switch s {
	case "fp32":
		return precision.FP32, nil
	case "fp16":
		return precision.FP16, nil
	case "bf16":
		return precision.BF16, nil
	default:
		return 0, cli.Exit("precision must be one of fp32, fp16, bf16, got "+s, 1)
	}
}

func parseDeviceClass(s string) (device.Class, error) {
	class, err := device.ParseClass(s)
	if err != nil {
		return 0, cli.Exit(err.Error(), 1)
	}
	return class, nil
}
