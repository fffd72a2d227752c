package accel

import (
	"fmt"
	"os"
	"sync"

	"go.uber.org/zap"
)

// Kernel argument slots of the double hash table fill kernel.
const (
	argInput uint32 = iota
	argLarge
	argSmall
	argHashBitsLarge
	argHashBitsSmall
)

// Session owns every runtime object needed to offload transforms to one
// accelerator device. Open acquires them in dependency order, Release frees
// them in reverse, and Execute drives one blocking round trip per call.
type Session struct {
	cfg  Config
	rt   Runtime
	log  *zap.Logger
	caps Capacities

	mu    sync.Mutex
	ready bool
	info  DeviceInfo

	platform Platform
	device   Device
	context  Context
	queue    Queue
	program  Program
	kernel   Kernel
	input    Buffer
	small    Buffer
	large    Buffer

	// Staging keeps a failed read from leaking partial results to callers.
	hostSmall []uint32
	hostLarge []uint32
}

// NewSession creates a closed session; call Open before Execute.
func NewSession(cfg Config, rt Runtime, log *zap.Logger) *Session {
	if log == nil {
		log = zap.NewNop()
	}
	return &Session{
		cfg:  cfg,
		rt:   rt,
		log:  log.Named("session"),
		caps: cfg.Capacities(),
	}
}

// Open resolves the device, builds the kernel, allocates the buffers and
// binds the kernel arguments. On failure every object created so far is
// released before the error is returned.
func (s *Session) Open() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ready {
		return ErrAlreadyOpen
	}

	if err := s.open(); err != nil {
		s.log.Error("failed to open session", zap.Error(err))
		s.release()
		return err
	}

	s.hostSmall = make([]uint32, s.caps.Small)
	s.hostLarge = make([]uint32, s.caps.Large)
	s.ready = true

	s.log.Info("session ready",
		zap.String("platform", s.info.Platform),
		zap.String("device", s.info.Name),
		zap.String("kernel", s.cfg.KernelName),
		zap.Int("input_capacity", s.caps.Input),
		zap.Int("small_capacity", s.caps.Small),
		zap.Int("large_capacity", s.caps.Large))
	return nil
}

func (s *Session) open() error {
	s.info = DeviceInfo{}
	if err := s.resolve(); err != nil {
		return err
	}
	s.describe()
	if err := s.build(); err != nil {
		return err
	}
	if err := s.allocate(); err != nil {
		return err
	}
	return s.bind()
}

// resolve selects the first device of the first platform whose name
// contains the configured platform name.
func (s *Session) resolve() error {
	platforms, err := s.rt.Platforms()
	if err != nil {
		return stepError(ErrDeviceNotFound, err)
	}

	for _, p := range platforms {
		info, err := s.rt.PlatformInfo(p)
		if err != nil {
			s.log.Warn("failed to query platform", zap.Error(err))
			continue
		}
		if !platformMatches(info.Name, s.cfg.Platform) {
			continue
		}

		devices, err := s.rt.Devices(p)
		if err != nil {
			return stepError(ErrDeviceNotFound, err)
		}
		if len(devices) == 0 {
			return fmt.Errorf("%w: platform %q has no devices", ErrDeviceNotFound, info.Name)
		}
		s.platform = p
		s.device = devices[0]
		s.info.Platform = info.Name
		return nil
	}

	return fmt.Errorf("%w: no platform matching %q", ErrDeviceNotFound, s.cfg.Platform)
}

// describe records device details for reporting. Failures are not fatal.
func (s *Session) describe() {
	info, err := s.rt.DeviceInfo(s.device)
	if err != nil {
		s.log.Warn("failed to query device info", zap.Error(err))
		return
	}
	info.Platform = s.info.Platform
	s.info = info
	s.log.Debug("selected device",
		zap.String("name", info.Name),
		zap.String("vendor", info.Vendor),
		zap.String("version", info.Version),
		zap.String("driver_version", info.DriverVersion),
		zap.Uint32("compute_units", info.ComputeUnits),
		zap.Int64("global_memory_mb", info.GlobalMemory/(1024*1024)),
		zap.Int64("max_work_group_size", info.MaxWorkGroupSize),
		zap.Bool("profiling_supported", info.ProfilingSupported))
}

func (s *Session) build() error {
	var err error

	s.context, err = s.rt.CreateContext(s.device)
	if err != nil {
		return stepError(ErrContextCreation, err)
	}

	s.queue, err = s.rt.CreateQueue(s.context, s.device, true)
	if err != nil {
		return stepError(ErrQueueCreation, err)
	}

	path, err := s.cfg.KernelBinaryPath()
	if err != nil {
		return stepError(ErrProgramLoad, err)
	}
	binary, err := os.ReadFile(path)
	if err != nil {
		return stepError(ErrProgramLoad, err)
	}
	if len(binary) == 0 {
		return fmt.Errorf("%w: %s is empty", ErrProgramLoad, path)
	}
	s.log.Info("loading kernel binary", zap.String("path", path), zap.Int("size", len(binary)))

	s.program, err = s.rt.CreateProgramWithBinary(s.context, s.device, binary)
	if err != nil {
		return stepError(ErrProgramLoad, err)
	}

	if err := s.rt.BuildProgram(s.program, s.device, ""); err != nil {
		return stepError(ErrBuild, err)
	}

	s.kernel, err = s.rt.CreateKernel(s.program, s.cfg.KernelName)
	if err != nil {
		return stepError(ErrKernelNotFound, err)
	}
	return nil
}

func (s *Session) allocate() error {
	var err error

	s.input, err = s.rt.CreateBuffer(s.context, MemReadOnly, s.caps.Input)
	if err != nil {
		return stepError(ErrAllocation, fmt.Errorf("input buffer: %w", err))
	}
	s.small, err = s.rt.CreateBuffer(s.context, MemWriteOnly, s.caps.Small*wordSize)
	if err != nil {
		return stepError(ErrAllocation, fmt.Errorf("small output buffer: %w", err))
	}
	s.large, err = s.rt.CreateBuffer(s.context, MemWriteOnly, s.caps.Large*wordSize)
	if err != nil {
		return stepError(ErrAllocation, fmt.Errorf("large output buffer: %w", err))
	}
	return nil
}

func (s *Session) bind() error {
	buffers := []struct {
		index uint32
		buf   Buffer
	}{
		{argInput, s.input},
		{argLarge, s.large},
		{argSmall, s.small},
	}
	for _, b := range buffers {
		if err := s.rt.SetKernelArgBuffer(s.kernel, b.index, b.buf); err != nil {
			return stepError(ErrBind, fmt.Errorf("arg %d: %w", b.index, err))
		}
	}

	scalars := []struct {
		index uint32
		value uint32
	}{
		{argHashBitsLarge, s.cfg.HashBitsLarge},
		{argHashBitsSmall, s.cfg.HashBitsSmall},
	}
	for _, v := range scalars {
		if err := s.rt.SetKernelArgUint32(s.kernel, v.index, v.value); err != nil {
			return stepError(ErrBind, fmt.Errorf("arg %d: %w", v.index, err))
		}
	}
	return nil
}

// Execute writes input to the device, runs the kernel over len(small)
// work-items, waits for the queue to drain and reads both tables back.
// Each step completes before the next begins. Outputs are only written
// when every step succeeded.
func (s *Session) Execute(input []byte, small, large []uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.ready {
		return ErrNotReady
	}
	if err := s.caps.check(len(input), len(small), len(large)); err != nil {
		return err
	}

	if len(input) > 0 {
		if err := s.rt.EnqueueWriteBuffer(s.queue, s.input, 0, input); err != nil {
			return stepError(ErrTransfer, err)
		}
	}

	if err := s.rt.EnqueueNDRangeKernel(s.queue, s.kernel, len(small)); err != nil {
		return stepError(ErrExecution, err)
	}
	if err := s.rt.Finish(s.queue); err != nil {
		return stepError(ErrExecution, err)
	}

	stageSmall := s.hostSmall[:len(small)]
	stageLarge := s.hostLarge[:len(large)]
	if err := s.rt.EnqueueReadBuffer(s.queue, s.small, 0, wordsAsBytes(stageSmall)); err != nil {
		return stepError(ErrTransfer, fmt.Errorf("small output: %w", err))
	}
	if len(large) > 0 {
		if err := s.rt.EnqueueReadBuffer(s.queue, s.large, 0, wordsAsBytes(stageLarge)); err != nil {
			return stepError(ErrTransfer, fmt.Errorf("large output: %w", err))
		}
	}

	copy(small, stageSmall)
	copy(large, stageLarge)
	return nil
}

// Release frees every valid runtime object: the three buffers, then kernel,
// program, queue and context. It is safe to call repeatedly and after a
// failed Open. Platform and device are queried, not owned, and are only
// forgotten.
func (s *Session) Release() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.release()
}

func (s *Session) release() {
	wasReady := s.ready
	s.ready = false

	for _, b := range []*Buffer{&s.input, &s.small, &s.large} {
		if b.Valid() {
			s.warn("clReleaseMemObject", s.rt.ReleaseMemObject(*b))
			*b = Buffer{}
		}
	}
	if s.kernel.Valid() {
		s.warn("clReleaseKernel", s.rt.ReleaseKernel(s.kernel))
		s.kernel = Kernel{}
	}
	if s.program.Valid() {
		s.warn("clReleaseProgram", s.rt.ReleaseProgram(s.program))
		s.program = Program{}
	}
	if s.queue.Valid() {
		s.warn("clReleaseCommandQueue", s.rt.ReleaseCommandQueue(s.queue))
		s.queue = Queue{}
	}
	if s.context.Valid() {
		s.warn("clReleaseContext", s.rt.ReleaseContext(s.context))
		s.context = Context{}
	}
	s.platform = Platform{}
	s.device = Device{}
	s.hostSmall = nil
	s.hostLarge = nil

	if wasReady {
		s.log.Info("session released")
	}
}

func (s *Session) warn(op string, err error) {
	if err != nil {
		s.log.Warn("release failed", zap.String("op", op), zap.Error(err))
	}
}

// Close releases the session. It never fails.
func (s *Session) Close() error {
	s.Release()
	return nil
}

// Ready reports whether Open completed and Release has not been called.
func (s *Session) Ready() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ready
}

func (s *Session) Capacities() Capacities {
	return s.caps
}

func (s *Session) DeviceInfo() DeviceInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.info
}

func (s *Session) Name() string {
	return BackendOpenCL
}
