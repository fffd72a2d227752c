package accel

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/fxnlabs/hashfill/internal/metrics"
	"go.uber.org/zap"
)

// Manager handles executor selection and lifecycle
type Manager struct {
	cfg        Config
	log        *zap.Logger
	newRuntime func() (Runtime, error)

	mu       sync.RWMutex
	executor Executor
}

// ManagerOption customizes a Manager.
type ManagerOption func(*Manager)

// WithRuntime makes the manager drive rt instead of the OpenCL runtime.
func WithRuntime(rt Runtime) ManagerOption {
	return func(m *Manager) {
		m.newRuntime = func() (Runtime, error) { return rt, nil }
	}
}

// NewManager creates a manager and opens the executor selected by
// cfg.Backend. With BackendAuto an accelerator failure falls back to CPU.
func NewManager(cfg Config, log *zap.Logger, opts ...ManagerOption) (*Manager, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	m := &Manager{
		cfg:        cfg,
		log:        log.Named("accel"),
		newRuntime: NewOpenCLRuntime,
	}
	for _, opt := range opts {
		opt(m)
	}

	if err := m.detectAndInitialize(); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Manager) detectAndInitialize() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var executor Executor
	switch m.cfg.Backend {
	case BackendCPU:
		cpu, err := m.openCPU()
		if err != nil {
			return err
		}
		executor = cpu
	case BackendOpenCL:
		session, err := m.openSession()
		if err != nil {
			return err
		}
		executor = session
	default:
		session, err := m.openSession()
		if err == nil {
			executor = session
			break
		}
		m.log.Warn("accelerator unavailable, falling back to CPU", zap.Error(err))
		cpu, err := m.openCPU()
		if err != nil {
			return err
		}
		executor = cpu
	}

	m.executor = executor
	metrics.BackendSelected.WithLabelValues(executor.Name()).Inc()
	metrics.SessionOpen.Set(1)
	m.log.Info("executor selected",
		zap.String("backend", executor.Name()),
		zap.String("device", executor.DeviceInfo().Name))
	return nil
}

func (m *Manager) openSession() (*Session, error) {
	rt, err := m.newRuntime()
	if err != nil {
		metrics.SessionOpenFailures.WithLabelValues(Reason(err)).Inc()
		return nil, err
	}
	session := NewSession(m.cfg, rt, m.log)
	if err := session.Open(); err != nil {
		metrics.SessionOpenFailures.WithLabelValues(Reason(err)).Inc()
		return nil, err
	}
	return session, nil
}

func (m *Manager) openCPU() (*CPUExecutor, error) {
	cpu := NewCPUExecutor(m.cfg, m.log)
	if err := cpu.Initialize(); err != nil {
		return nil, fmt.Errorf("failed to initialize CPU executor: %w", err)
	}
	return cpu, nil
}

// GetExecutor returns the current executor
func (m *Manager) GetExecutor() Executor {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.executor
}

// Execute runs one transform on the selected executor and records metrics.
func (m *Manager) Execute(input []byte, small, large []uint32) error {
	executor := m.GetExecutor()
	if executor == nil {
		return ErrNotReady
	}

	backend := executor.Name()
	start := time.Now()
	err := executor.Execute(input, small, large)
	if err != nil {
		metrics.TransformFailures.WithLabelValues(backend, Reason(err)).Inc()
		if !errors.Is(err, ErrCapacityExceeded) {
			m.log.Error("transform failed", zap.String("backend", backend), zap.Error(err))
		}
		return err
	}

	metrics.TransformDuration.WithLabelValues(backend).Observe(float64(time.Since(start).Microseconds()) / 1000)
	metrics.TransformInputBytes.WithLabelValues(backend).Add(float64(len(input)))
	return nil
}

// Capacities returns the capacities of the current executor.
func (m *Manager) Capacities() Capacities {
	executor := m.GetExecutor()
	if executor == nil {
		return Capacities{}
	}
	return executor.Capacities()
}

// GetDeviceInfo returns device information from the current executor
func (m *Manager) GetDeviceInfo() DeviceInfo {
	executor := m.GetExecutor()
	if executor == nil {
		return DeviceInfo{Name: "No executor available"}
	}
	return executor.DeviceInfo()
}

// IsAcceleratorActive returns true if transforms run on the device
func (m *Manager) IsAcceleratorActive() bool {
	_, ok := m.GetExecutor().(*Session)
	return ok
}

// GetBackendType returns the name of the current backend
func (m *Manager) GetBackendType() string {
	executor := m.GetExecutor()
	if executor == nil {
		return "none"
	}
	return executor.Name()
}

// Close releases resources held by the current executor
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.executor == nil {
		return nil
	}
	err := m.executor.Close()
	m.executor = nil
	metrics.SessionOpen.Set(0)
	return err
}
