package main

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"

	"github.com/openfluke/kernelforge/attention"
	"github.com/openfluke/kernelforge/config"
	"github.com/openfluke/kernelforge/gemm"
	"github.com/openfluke/kernelforge/precision"
)

func synthesizeCmd() *cli.Command {
	return &cli.Command{
		Name:  "synthesize",
		Usage: "Emit a kernel's shader source to stdout",
		Commands: []*cli.Command{
			synthesizeGEMMCmd(),
			synthesizeAttentionCmd(),
		},
	}
}

func synthesizeGEMMCmd() *cli.Command {
	var (
		m, n, k                int64
		memPrecision           string
		deviceClass            string
		transposeA, transposeB bool
		preferAsyncLoad        bool
	)

	return &cli.Command{
		Name:  "gemm",
		Usage: "Synthesise a tiled GEMM kernel",
		Flags: append([]cli.Flag{
			&cli.Int64Flag{Name: "m", Value: 1024, Destination: &m},
			&cli.Int64Flag{Name: "n", Value: 1024, Destination: &n},
			&cli.Int64Flag{Name: "k", Value: 1024, Destination: &k},
			&cli.StringFlag{Name: "precision", Value: "fp32", Usage: "fp32, fp16, or bf16", Destination: &memPrecision},
			&cli.BoolFlag{Name: "transpose-a", Destination: &transposeA},
			&cli.BoolFlag{Name: "transpose-b", Destination: &transposeB},
			&cli.BoolFlag{Name: "prefer-async-load", Destination: &preferAsyncLoad},
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

			cfg, err := config.Load()
			if err != nil {
				return cli.Exit(err.Error(), 1)
			}

			d := gemm.Descriptor{
				Dimensions:         gemm.Dimensions{M: uint32(m), N: uint32(n), K: uint32(k)},
				MemoryPrecisions:   gemm.Triple[precision.Precision]{A: p, B: p, C: p},
				TransposeState:     gemm.Pair[bool]{A: transposeA, B: transposeB},
				PreferAsyncLoad:    preferAsyncLoad,
			}
			d = config.ApplyDescriptorDefaults(d, cfg)

			kernel, err := gemm.Synthesize(d, class)
			if err != nil {
				log.Error("synthesis failed", "error", err)
				return cli.Exit(err.Error(), 1)
			}

			log.Debug("synthesised gemm kernel",
				"threadgroupSize", kernel.ThreadgroupSize,
				"threadgroupMemory", kernel.ThreadgroupMemoryAllocation)
			fmt.Println(kernel.Source.Code)
			return nil
		},
	}
}

func synthesizeAttentionCmd() *cli.Command {
	var (
		r, c, d      int64
		memPrecision string
		kind         string
		storeLSE     bool
		storeDST     bool
	)

	return &cli.Command{
		Name:  "attention",
		Usage: "Synthesise a FlashAttention-style kernel",
		Flags: append([]cli.Flag{
			&cli.Int64Flag{Name: "r", Value: 1024, Usage: "query rows", Destination: &r},
			&cli.Int64Flag{Name: "c", Value: 1024, Usage: "key/value columns", Destination: &c},
			&cli.Int64Flag{Name: "d", Value: 64, Usage: "head dimension", Destination: &d},
			&cli.StringFlag{Name: "precision", Value: "fp16", Destination: &memPrecision},
			&cli.StringFlag{Name: "kind", Value: "forward", Usage: "forward, backward-query, or backward-key-value", Destination: &kind},
			&cli.BoolFlag{Name: "store-logsumexp", Value: true, Destination: &storeLSE},
			&cli.BoolFlag{Name: "store-derivative-st", Value: true, Destination: &storeDST},
		}, loggingFlags()...),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			log := newLogger()

			p, err := parsePrecision(memPrecision)
			if err != nil {
				return err
			}
			k, err := parseAttentionKind(kind)
			if err != nil {
				return err
			}

			desc := attention.Descriptor{
				Dimensions:        attention.Dimensions{R: uint32(r), C: uint32(c), D: uint16(d)},
				MemoryPrecisions:  attention.OperandPrecisions{Q: p, K: p, V: p, O: p},
				Kind:              k,
				StoreLogsumexp:    storeLSE,
				StoreDerivativeST: storeDST,
			}

			kernel, err := attention.Synthesize(desc)
			if err != nil {
				log.Error("synthesis failed", "error", err)
				return cli.Exit(err.Error(), 1)
			}

			log.Debug("synthesised attention kernel",
				"blockDimension", kernel.BlockDimension,
				"leadingDimensionDerivativeST", kernel.LeadingDimensionDerivativeST)
			fmt.Println(kernel.Source.Code)
			return nil
		},
	}
}

func parseAttentionKind(s string) (attention.Kind, error) {
	switch s {
	case "forward":
		return attention.Forward, nil
	case "backward-query":
		return attention.BackwardQuery, nil
	case "backward-key-value":
		return attention.BackwardKeyValue, nil
	default:
		return 0, cli.Exit("kind must be one of forward, backward-query, backward-key-value, got "+s, 1)
	}
}
