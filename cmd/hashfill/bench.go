package main

import (
	"fmt"
	"io"
	"math/rand"
	"slices"
	"time"

	"github.com/fxnlabs/hashfill/internal/accel"
	"github.com/urfave/cli/v2"
	"gonum.org/v1/gonum/stat"
)

// benchReport summarizes per-call latencies in milliseconds.
type benchReport struct {
	Backend    string
	InputBytes int
	Iterations int
	Mean       float64
	StdDev     float64
	P50        float64
	P99        float64
	Min        float64
	Max        float64
}

func benchCommand() *cli.Command {
	return &cli.Command{
		Name:  "bench",
		Usage: "Measure round-trip latency of the configured backend",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "iterations", Aliases: []string{"n"}, Value: 100, Usage: "Number of timed transforms"},
			&cli.IntFlag{Name: "size", Usage: "Input bytes per transform; full capacity when 0"},
			&cli.Int64Flag{Name: "seed", Value: 1, Usage: "Seed for the random input"},
		},
		Action: func(c *cli.Context) error {
			if c.Int("iterations") <= 0 {
				return fmt.Errorf("iterations must be positive, got %d", c.Int("iterations"))
			}

			manager, err := accel.NewManager(appConfig(c).Accelerator, appLogger(c))
			if err != nil {
				return err
			}
			defer manager.Close()

			report, err := runBench(manager, c.Int("iterations"), c.Int("size"), c.Int64("seed"))
			if err != nil {
				return err
			}
			printReport(c.App.Writer, report)
			return nil
		},
	}
}

type benchTarget interface {
	Execute(input []byte, small, large []uint32) error
	Capacities() accel.Capacities
	GetBackendType() string
}

func runBench(target benchTarget, iterations, size int, seed int64) (benchReport, error) {
	caps := target.Capacities()
	if size <= 0 {
		size = caps.Input
	}
	if size > caps.Input {
		return benchReport{}, fmt.Errorf("%w: size %d > %d", accel.ErrCapacityExceeded, size, caps.Input)
	}

	input := make([]byte, size)
	rand.New(rand.NewSource(seed)).Read(input)
	small := make([]uint32, caps.Small)
	large := make([]uint32, caps.Large)

	// Warm up
	if err := target.Execute(input, small, large); err != nil {
		return benchReport{}, err
	}

	samples := make([]float64, iterations)
	for i := range samples {
		start := time.Now()
		if err := target.Execute(input, small, large); err != nil {
			return benchReport{}, err
		}
		samples[i] = float64(time.Since(start).Nanoseconds()) / 1e6
	}

	mean, std := stat.MeanStdDev(samples, nil)
	sorted := slices.Clone(samples)
	slices.Sort(sorted)
	return benchReport{
		Backend:    target.GetBackendType(),
		InputBytes: size,
		Iterations: iterations,
		Mean:       mean,
		StdDev:     std,
		P50:        stat.Quantile(0.5, stat.Empirical, sorted, nil),
		P99:        stat.Quantile(0.99, stat.Empirical, sorted, nil),
		Min:        sorted[0],
		Max:        sorted[len(sorted)-1],
	}, nil
}

func printReport(w io.Writer, r benchReport) {
	fmt.Fprintf(w, "Backend:     %s\n", r.Backend)
	fmt.Fprintf(w, "Input:       %d bytes\n", r.InputBytes)
	fmt.Fprintf(w, "Iterations:  %d\n", r.Iterations)
	fmt.Fprintf(w, "Mean:        %.3f ms (stddev %.3f ms)\n", r.Mean, r.StdDev)
	fmt.Fprintf(w, "p50 / p99:   %.3f / %.3f ms\n", r.P50, r.P99)
	fmt.Fprintf(w, "Min / max:   %.3f / %.3f ms\n", r.Min, r.Max)
	if r.Mean > 0 {
		fmt.Fprintf(w, "Throughput:  %.1f MB/s\n", float64(r.InputBytes)/(1<<20)/(r.Mean/1000))
	}
}
