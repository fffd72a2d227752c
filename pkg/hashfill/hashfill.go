// Package hashfill offers a process-wide transform session for callers that
// want the accelerator without managing its lifecycle.
//
// CreateSession opens the session once; FillDoubleHashTable may then be
// called from any goroutine and calls are serialized; ReleaseSession frees
// every device resource and may be called at any time, repeatedly.
package hashfill

import (
	"errors"
	"sync"

	"github.com/fxnlabs/hashfill/internal/accel"
	"go.uber.org/zap"
)

// Status codes returned by StatusCode.
const (
	StatusOK             = 0
	StatusDeviceNotFound = -1
	StatusError          = -2
)

type (
	Config     = accel.Config
	Capacities = accel.Capacities
	// Runtime is the native accelerator interface a session drives.
	Runtime = accel.Runtime
)

// DefaultConfig matches the precompiled zstdDoubleFast kernel. It requires
// the accelerator, so a missing device surfaces as ErrDeviceNotFound; set
// Backend to "auto" to fall back to the CPU instead.
func DefaultConfig() Config {
	cfg := accel.DefaultConfig()
	cfg.Backend = accel.BackendOpenCL
	return cfg
}

var (
	ErrDeviceNotFound   = accel.ErrDeviceNotFound
	ErrAlreadyOpen      = accel.ErrAlreadyOpen
	ErrNotReady         = accel.ErrNotReady
	ErrCapacityExceeded = accel.ErrCapacityExceeded
)

type options struct {
	log *zap.Logger
	rt  Runtime
}

type Option func(*options)

func WithLogger(log *zap.Logger) Option {
	return func(o *options) { o.log = log }
}

// WithRuntime drives rt instead of the native OpenCL runtime.
func WithRuntime(rt Runtime) Option {
	return func(o *options) { o.rt = rt }
}

var (
	mu      sync.Mutex
	manager *accel.Manager
)

// CreateSession opens the process-wide session. A second call without an
// intervening ReleaseSession fails with ErrAlreadyOpen and leaves the
// existing session untouched.
func CreateSession(cfg Config, opts ...Option) error {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	mu.Lock()
	defer mu.Unlock()

	if manager != nil {
		return ErrAlreadyOpen
	}

	var managerOpts []accel.ManagerOption
	if o.rt != nil {
		managerOpts = append(managerOpts, accel.WithRuntime(o.rt))
	}
	m, err := accel.NewManager(cfg, o.log, managerOpts...)
	if err != nil {
		return err
	}
	manager = m
	return nil
}

// ReleaseSession frees the process-wide session. It never fails.
func ReleaseSession() {
	mu.Lock()
	defer mu.Unlock()

	if manager == nil {
		return
	}
	_ = manager.Close()
	manager = nil
}

// FillDoubleHashTable writes input to the device and fills small and large.
// len(small) is the number of work-items. On error neither output is
// modified.
func FillDoubleHashTable(input []byte, small, large []uint32) error {
	mu.Lock()
	defer mu.Unlock()

	if manager == nil {
		return ErrNotReady
	}
	return manager.Execute(input, small, large)
}

// CurrentCapacities returns the open session's buffer sizes, or zero values when
// no session is open.
func CurrentCapacities() Capacities {
	mu.Lock()
	defer mu.Unlock()

	if manager == nil {
		return Capacities{}
	}
	return manager.Capacities()
}

// Backend returns the name of the backend serving the session.
func Backend() string {
	mu.Lock()
	defer mu.Unlock()

	if manager == nil {
		return "none"
	}
	return manager.GetBackendType()
}

// StatusCode maps a CreateSession result to the numeric status used by
// callers that cannot inspect Go errors.
func StatusCode(err error) int {
	switch {
	case err == nil:
		return StatusOK
	case errors.Is(err, accel.ErrDeviceNotFound):
		return StatusDeviceNotFound
	default:
		return StatusError
	}
}
