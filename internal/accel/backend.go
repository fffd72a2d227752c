package accel

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unsafe"
)

const (
	BackendAuto   = "auto"
	BackendOpenCL = "opencl"
	BackendCPU    = "cpu"

	// DefaultInputCapacity is the input buffer size in bytes (2^17).
	DefaultInputCapacity = 1 << 17
	DefaultHashBitsLarge = 17
	DefaultHashBitsSmall = 16

	DefaultPlatform     = "Intel(R) FPGA SDK for OpenCL(TM)"
	DefaultKernelBinary = "zstdDoubleFast"
	DefaultKernelName   = "ZSTD_fillDoubleHashTable_cl"

	binaryExtension = ".aocx"
	wordSize        = int(unsafe.Sizeof(uint32(0)))
)

// DeviceInfo contains information about the device serving transforms
type DeviceInfo struct {
	Platform           string `json:"platform"`
	Name               string `json:"name"`
	Vendor             string `json:"vendor"`
	Version            string `json:"version"`
	DriverVersion      string `json:"driverVersion"`
	Type               string `json:"type"`
	ComputeUnits       uint32 `json:"computeUnits"`
	GlobalMemory       int64  `json:"globalMemory"` // in bytes
	MaxWorkGroupSize   int64  `json:"maxWorkGroupSize"`
	ProfilingSupported bool   `json:"profilingSupported"`
}

// Config selects the backend and fixes the buffer capacities and kernel
// parameters for the lifetime of an executor.
type Config struct {
	Backend      string `yaml:"backend"`
	Platform     string `yaml:"platform"`
	KernelBinary string `yaml:"kernelBinary"`
	KernelName   string `yaml:"kernelName"`
	// BinaryDir defaults to the directory of the running executable.
	BinaryDir     string `yaml:"binaryDir"`
	InputCapacity int    `yaml:"inputCapacity"`
	HashBitsLarge uint32 `yaml:"hashBitsLarge"`
	HashBitsSmall uint32 `yaml:"hashBitsSmall"`
}

// DefaultConfig returns the configuration matching the precompiled kernel.
func DefaultConfig() Config {
	return Config{
		Backend:       BackendAuto,
		Platform:      DefaultPlatform,
		KernelBinary:  DefaultKernelBinary,
		KernelName:    DefaultKernelName,
		InputCapacity: DefaultInputCapacity,
		HashBitsLarge: DefaultHashBitsLarge,
		HashBitsSmall: DefaultHashBitsSmall,
	}
}

// Validate checks that the configuration can back a session.
func (c Config) Validate() error {
	switch c.Backend {
	case BackendAuto, BackendOpenCL, BackendCPU:
	default:
		return fmt.Errorf("unknown backend %q", c.Backend)
	}
	if c.InputCapacity < 3 {
		return fmt.Errorf("input capacity must be at least 3 bytes, got %d", c.InputCapacity)
	}
	if c.HashBitsLarge == 0 || c.HashBitsLarge > 32 {
		return fmt.Errorf("hashBitsLarge must be in [1,32], got %d", c.HashBitsLarge)
	}
	if c.HashBitsSmall == 0 || c.HashBitsSmall > 32 {
		return fmt.Errorf("hashBitsSmall must be in [1,32], got %d", c.HashBitsSmall)
	}
	if c.Backend != BackendCPU {
		if c.Platform == "" {
			return fmt.Errorf("platform name is required for backend %q", c.Backend)
		}
		if c.KernelBinary == "" || c.KernelName == "" {
			return fmt.Errorf("kernel binary and kernel name are required for backend %q", c.Backend)
		}
	}
	return nil
}

// Capacities returns the buffer sizes derived from the input capacity.
func (c Config) Capacities() Capacities {
	return NewCapacities(c.InputCapacity)
}

// KernelBinaryPath resolves the precompiled kernel file.
func (c Config) KernelBinaryPath() (string, error) {
	dir := c.BinaryDir
	if dir == "" {
		exe, err := os.Executable()
		if err != nil {
			return "", fmt.Errorf("failed to locate executable: %w", err)
		}
		dir = filepath.Dir(exe)
	}
	name := c.KernelBinary
	if filepath.Ext(name) == "" {
		name += binaryExtension
	}
	return filepath.Join(dir, name), nil
}

// Capacities are the fixed buffer sizes of an executor. Input is in bytes,
// Small and Large in 32-bit words.
type Capacities struct {
	Input int `json:"input"`
	Small int `json:"small"`
	Large int `json:"large"`
}

// NewCapacities derives the output capacities from the input capacity:
// small = input/3, large = (input/3)*3.
func NewCapacities(input int) Capacities {
	workItems := input / 3
	return Capacities{
		Input: input,
		Small: workItems,
		Large: workItems * 3,
	}
}

// check rejects a request before any device work is issued.
func (c Capacities) check(inputLen, smallLen, largeLen int) error {
	switch {
	case inputLen > c.Input:
		return fmt.Errorf("%w: input %d bytes > %d", ErrCapacityExceeded, inputLen, c.Input)
	case smallLen == 0:
		return fmt.Errorf("%w: small output must hold at least one entry", ErrCapacityExceeded)
	case smallLen > c.Small:
		return fmt.Errorf("%w: small output %d words > %d", ErrCapacityExceeded, smallLen, c.Small)
	case largeLen > c.Large:
		return fmt.Errorf("%w: large output %d words > %d", ErrCapacityExceeded, largeLen, c.Large)
	}
	return nil
}

// Executor computes the double hash table fill for one request at a time.
// The accelerator Session and the CPU fallback both implement it, so the
// Manager can select either without callers noticing.
//
// Implementation notes:
//   - Execute blocks until both output slices are filled, or fails without
//     touching them
//   - len(small) is the work-item count; large receives up to three
//     entries per work-item
//   - Capacities are fixed when the executor is created
//   - Close releases every resource and is safe to call more than once
type Executor interface {
	Execute(input []byte, small, large []uint32) error
	Capacities() Capacities
	DeviceInfo() DeviceInfo
	Name() string
	Close() error
}

// wordsAsBytes views a word slice as its backing bytes in host order.
func wordsAsBytes(words []uint32) []byte {
	if len(words) == 0 {
		return nil
	}
	return unsafe.Slice((*byte)(unsafe.Pointer(&words[0])), len(words)*wordSize)
}

func platformMatches(name, want string) bool {
	return strings.Contains(name, want)
}
