package main

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"os"

	"github.com/fxnlabs/hashfill/internal/accel"
	"github.com/fxnlabs/hashfill/pkg/client"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
)

func runCommand() *cli.Command {
	return &cli.Command{
		Name:  "run",
		Usage: "Fill both hash tables for one input file",
		Description: "Writes the small table followed by the large table to --out,\n" +
			"each entry a little-endian uint32.",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "in", Usage: "Input file", Required: true},
			&cli.StringFlag{Name: "out", Usage: "Output file", Required: true},
			&cli.IntFlag{Name: "small", Value: -1, Usage: "Small table length; full capacity when negative"},
			&cli.IntFlag{Name: "large", Value: -1, Usage: "Large table length; full capacity when negative"},
			serverFlag,
		},
		Action: func(c *cli.Context) error {
			log := appLogger(c)
			input, err := os.ReadFile(c.String("in"))
			if err != nil {
				return err
			}

			var small, large []uint32
			var backend string
			if url := c.String("server"); url != "" {
				result, err := client.New(url, nil).Transform(c.Context, input, c.Int("small"), c.Int("large"))
				if err != nil {
					return err
				}
				small, large, backend = result.Small, result.Large, result.Backend
			} else {
				manager, err := accel.NewManager(appConfig(c).Accelerator, log)
				if err != nil {
					return err
				}
				defer manager.Close()

				caps := manager.Capacities()
				small = make([]uint32, lengthOr(c.Int("small"), caps.Small))
				large = make([]uint32, lengthOr(c.Int("large"), caps.Large))
				if err := manager.Execute(input, small, large); err != nil {
					return err
				}
				backend = manager.GetBackendType()
			}

			if err := writeTables(c.String("out"), small, large); err != nil {
				return err
			}
			log.Info("Tables written",
				zap.String("backend", backend),
				zap.String("out", c.String("out")),
				zap.Int("input_bytes", len(input)),
				zap.Int("small", len(small)),
				zap.Int("large", len(large)))
			return nil
		},
	}
}

func lengthOr(n, def int) int {
	if n < 0 {
		return def
	}
	return n
}

func writeTables(path string, small, large []uint32) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	w := bufio.NewWriter(f)
	if err := encodeTables(w, small, large); err != nil {
		f.Close()
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return f.Close()
}

func encodeTables(w io.Writer, small, large []uint32) error {
	if err := binary.Write(w, binary.LittleEndian, small); err != nil {
		return err
	}
	return binary.Write(w, binary.LittleEndian, large)
}
