package acceltest

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/fxnlabs/hashfill/internal/accel"
)

// Config writes a placeholder kernel binary into a temporary directory and
// returns an OpenCL config pointing at it. inputCapacity 0 keeps the default.
func Config(tb testing.TB, inputCapacity int) accel.Config {
	tb.Helper()

	cfg := accel.DefaultConfig()
	cfg.Backend = accel.BackendOpenCL
	cfg.BinaryDir = tb.TempDir()
	if inputCapacity > 0 {
		cfg.InputCapacity = inputCapacity
	}

	path := filepath.Join(cfg.BinaryDir, cfg.KernelBinary+".aocx")
	if err := os.WriteFile(path, []byte("fake aocx"), 0o644); err != nil {
		tb.Fatalf("failed to write kernel binary: %v", err)
	}
	return cfg
}
