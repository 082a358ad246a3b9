package main

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"

	"github.com/openfluke/kernelforge/detector"
)

// detectCmd probes the local adapter (only meaningful when this binary
// was built with -tags=gpu) and reports the device.Class the tile
// table would use for it.
func detectCmd() *cli.Command {
	return &cli.Command{
		Name:  "detect",
		Usage: "Probe the local GPU adapter and report its device class",
		Flags: loggingFlags(),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			log := newLogger()

			report, err := detector.Probe()
			if err != nil {
				log.Warn("adapter probe unavailable", "error", err)
				fmt.Println("no adapter probe available; rebuild with -tags=gpu or pass -device-class explicitly to synthesize/plan")
				return nil
			}

			fmt.Println(report.String())
			return nil
		},
	}
}
