package main

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"

	"github.com/openfluke/kernelforge/backend/fake"
	"github.com/openfluke/kernelforge/device"
	"github.com/openfluke/kernelforge/dispatch"
	"github.com/openfluke/kernelforge/gemm"
	"github.com/openfluke/kernelforge/precision"
)

// planCmd dry-runs a dispatch plan against the in-memory fake backend,
// so grid/threadgroup sizing can be inspected without a GPU (the CLI
// is built without -tags=gpu by default).
func planCmd() *cli.Command {
	return &cli.Command{
		Name:  "plan",
		Usage: "Print the dispatch records a kernel would issue",
		Commands: []*cli.Command{
			planGEMMCmd(),
		},
	}
}

func planGEMMCmd() *cli.Command {
	var (
		m, n, k      int64
		memPrecision string
		deviceClass  string
	)

	return &cli.Command{
		Name:  "gemm",
		Usage: "Plan a single GEMM dispatch",
		Flags: append([]cli.Flag{
			&cli.Int64Flag{Name: "m", Value: 1024, Destination: &m},
			&cli.Int64Flag{Name: "n", Value: 1024, Destination: &n},
			&cli.Int64Flag{Name: "k", Value: 1024, Destination: &k},
			&cli.StringFlag{Name: "precision", Value: "fp32", Destination: &memPrecision},
			devClassFlag(&deviceClass),
		}, loggingFlags()...),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			log := newLogger()

			p, err := parsePrecision(memPrecision)
			if err != nil {
				return err
			}
			class, err := parseDeviceClass(deviceClass)
			if err != nil {
				return err
			}

			d := gemm.Descriptor{
				Dimensions:       gemm.Dimensions{M: uint32(m), N: uint32(n), K: uint32(k)},
				MemoryPrecisions: gemm.Triple[precision.Precision]{A: p, B: p, C: p},
			}

			kernel, err := gemm.Synthesize(d, class)
			if err != nil {
				return cli.Exit(err.Error(), 1)
			}

			backend := fake.New()
			a, _ := backend.CreateBuffer(uint64(m) * uint64(k) * 4)
			b, _ := backend.CreateBuffer(uint64(k) * uint64(n) * 4)
			c, _ := backend.CreateBuffer(uint64(m) * uint64(n) * 4)

			limits := device.Limits{
				MaxComputeInvocationsPerWorkgroup: 1024,
				MaxComputeWorkgroupSizeX:          1024,
				MaxComputeWorkgroupSizeY:          1024,
				MaxComputeWorkgroupSizeZ:          64,
				MaxComputeWorkgroupsPerDimension:  65535,
				MaxComputeWorkgroupStorageSize:    65536,
				MaxStorageBufferBindingSize:       1 << 30,
				MaxBufferSize:                     1 << 31,
			}

			record, err := dispatch.PlanGEMM(kernel, a, b, c, limits)
			if err != nil {
				log.Error("planning failed", "error", err)
				return cli.Exit(err.Error(), 1)
			}

			fmt.Printf("kind=%s grid=%v group=%v threadgroupMemory=%dB bindings=%d\n",
				record.Kind, record.Grid, record.Group, record.ThreadgroupMemoryBytes, len(record.Bindings))
			return nil
		},
	}
}
