package accel

import (
	"fmt"
	"runtime"
	"sync"

	"github.com/fxnlabs/hashfill/internal/dfast"
	"go.uber.org/zap"
)

// CPUExecutor implements Executor on the host. It keeps a persistent input
// buffer of the configured capacity so its results match the device's,
// including for bytes past the end of a short input.
type CPUExecutor struct {
	cfg  Config
	caps Capacities
	log  *zap.Logger

	mu          sync.Mutex
	initialized bool
	buf         []byte
}

// NewCPUExecutor creates a new CPU executor instance
func NewCPUExecutor(cfg Config, log *zap.Logger) *CPUExecutor {
	if log == nil {
		log = zap.NewNop()
	}
	return &CPUExecutor{
		cfg:  cfg,
		caps: cfg.Capacities(),
		log:  log.Named("cpu"),
	}
}

// Initialize allocates the input buffer.
func (c *CPUExecutor) Initialize() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.initialized {
		return nil
	}
	c.buf = make([]byte, c.caps.Input)
	c.initialized = true
	c.log.Info("CPU executor initialized",
		zap.Int("input_capacity", c.caps.Input),
		zap.Uint32("hash_bits_large", c.cfg.HashBitsLarge),
		zap.Uint32("hash_bits_small", c.cfg.HashBitsSmall))
	return nil
}

// Execute overwrites the start of the input buffer and fills both tables.
func (c *CPUExecutor) Execute(input []byte, small, large []uint32) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.initialized {
		return ErrNotReady
	}
	if err := c.caps.check(len(input), len(small), len(large)); err != nil {
		return err
	}

	copy(c.buf, input)
	dfast.Fill(c.buf, small, large, c.cfg.HashBitsSmall, c.cfg.HashBitsLarge)
	return nil
}

// Close drops the input buffer.
func (c *CPUExecutor) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.initialized = false
	c.buf = nil
	return nil
}

func (c *CPUExecutor) Capacities() Capacities {
	return c.caps
}

// DeviceInfo returns device information for CPU
func (c *CPUExecutor) DeviceInfo() DeviceInfo {
	return DeviceInfo{
		Platform:      "host",
		Name:          fmt.Sprintf("CPU (%s)", runtime.GOARCH),
		Vendor:        runtime.GOOS,
		DriverVersion: runtime.Version(),
		Type:          "CPU",
		ComputeUnits:  uint32(runtime.NumCPU()),
	}
}

func (c *CPUExecutor) Name() string {
	return BackendCPU
}
