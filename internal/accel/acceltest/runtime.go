// Package acceltest provides an in-process accel.Runtime for tests.
//
// The fake records every call, can be told to fail any operation, tracks
// which objects are still live, and runs dfast.Fill as its kernel when the
// queue is drained. Protocol violations (double release, use of a released
// handle, reads overlapping a pending dispatch) are collected as faults
// instead of panicking so tests can assert on them.
package acceltest

import (
	"encoding/binary"
	"fmt"
	"slices"
	"sync"

	"github.com/fxnlabs/hashfill/internal/accel"
	"github.com/fxnlabs/hashfill/internal/dfast"
)

// Operation names accepted by FailOn and reported by Calls.
const (
	OpPlatforms     = "Platforms"
	OpPlatformInfo  = "PlatformInfo"
	OpDevices       = "Devices"
	OpDeviceInfo    = "DeviceInfo"
	OpCreateContext = "CreateContext"
	OpCreateQueue   = "CreateQueue"
	OpCreateProgram = "CreateProgramWithBinary"
	OpBuildProgram  = "BuildProgram"
	OpCreateKernel  = "CreateKernel"
	OpCreateBuffer  = "CreateBuffer"
	OpSetArgBuffer  = "SetKernelArgBuffer"
	OpSetArgUint32  = "SetKernelArgUint32"
	OpWrite         = "EnqueueWriteBuffer"
	OpNDRange       = "EnqueueNDRangeKernel"
	OpFinish        = "Finish"
	OpRead          = "EnqueueReadBuffer"
	OpReleaseMem    = "ReleaseMemObject"
	OpReleaseKernel = "ReleaseKernel"
	OpReleaseProg   = "ReleaseProgram"
	OpReleaseQueue  = "ReleaseCommandQueue"
	OpReleaseCtx    = "ReleaseContext"
)

// Object kinds reported by Live.
const (
	KindContext = "context"
	KindQueue   = "queue"
	KindProgram = "program"
	KindKernel  = "kernel"
	KindBuffer  = "buffer"

	kindPlatform = "platform"
	kindDevice   = "device"
)

// PlatformSpec describes one fake platform.
type PlatformSpec struct {
	Name    string
	Devices int
}

type failure struct {
	call int // 0 fails every call
	err  error
}

type object struct {
	kind     string
	released bool

	// platform / device
	name    string
	devices []accel.Device

	// buffer
	data  []byte
	flags accel.MemFlags

	// kernel
	args map[uint32]any

	// queue
	pending int // work-items dispatched but not yet drained
	kernel  accel.Handle
}

// Runtime is a fake accel.Runtime.
type Runtime struct {
	mu sync.Mutex

	platformSpecs []PlatformSpec
	kernelNames   []string

	platforms []accel.Platform
	next      accel.Handle
	objects   map[accel.Handle]*object
	failures  map[string]failure
	counts    map[string]int
	calls     []string
	faults    []string
	options   []string
}

// Option configures a Runtime.
type Option func(*Runtime)

// WithPlatforms replaces the default single platform.
func WithPlatforms(specs ...PlatformSpec) Option {
	return func(r *Runtime) {
		r.platformSpecs = specs
	}
}

// WithKernels sets the entry points the fake binary exposes.
func WithKernels(names ...string) Option {
	return func(r *Runtime) {
		r.kernelNames = names
	}
}

// New returns a Runtime exposing one platform named accel.DefaultPlatform
// with one device and a binary exporting accel.DefaultKernelName.
func New(opts ...Option) *Runtime {
	r := &Runtime{
		platformSpecs: []PlatformSpec{{Name: accel.DefaultPlatform, Devices: 1}},
		kernelNames:   []string{accel.DefaultKernelName},
		objects:       make(map[accel.Handle]*object),
		failures:      make(map[string]failure),
		counts:        make(map[string]int),
	}
	for _, opt := range opts {
		opt(r)
	}

	for _, spec := range r.platformSpecs {
		p := &object{kind: kindPlatform, name: spec.Name}
		ph := r.add(p)
		for i := 0; i < spec.Devices; i++ {
			d := &object{kind: kindDevice, name: fmt.Sprintf("%s device %d", spec.Name, i)}
			p.devices = append(p.devices, accel.Device{Handle: r.add(d)})
		}
		r.platforms = append(r.platforms, accel.Platform{Handle: ph})
	}
	return r
}

// FailOn makes every call to op fail with err.
func (r *Runtime) FailOn(op string, err error) {
	r.FailOnCall(op, 0, err)
}

// FailOnCall makes the n-th call (1-based) to op fail with err. n == 0 fails
// every call. A nil err fails with a generic status error.
func (r *Runtime) FailOnCall(op string, n int, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failures[op] = failure{call: n, err: err}
}

// ClearFailures removes all injected failures.
func (r *Runtime) ClearFailures() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failures = make(map[string]failure)
}

// Calls returns every operation issued so far, in order.
func (r *Runtime) Calls() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.calls)
}

// CallCount returns how many times op was called.
func (r *Runtime) CallCount(op string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.counts[op]
}

// ResetCalls forgets the recorded calls but keeps object state.
func (r *Runtime) ResetCalls() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = nil
	r.counts = make(map[string]int)
}

// Faults returns the protocol violations observed so far.
func (r *Runtime) Faults() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.faults)
}

// Live returns the kinds of owned objects that have not been released,
// sorted.
func (r *Runtime) Live() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var live []string
	for _, o := range r.objects {
		if o.released || o.kind == kindPlatform || o.kind == kindDevice {
			continue
		}
		live = append(live, o.kind)
	}
	slices.Sort(live)
	return live
}

// Created returns how many objects of kind were ever created.
func (r *Runtime) Created(kind string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, o := range r.objects {
		if o.kind == kind {
			n++
		}
	}
	return n
}

// KernelArgs returns the values bound to the live kernel, keyed by slot.
// Buffer arguments are reported as their size in bytes.
func (r *Runtime) KernelArgs() map[uint32]any {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, o := range r.objects {
		if o.kind != KindKernel || o.released {
			continue
		}
		out := make(map[uint32]any, len(o.args))
		for k, v := range o.args {
			if h, ok := v.(accel.Handle); ok {
				if b, ok := r.objects[h]; ok {
					out[k] = len(b.data)
					continue
				}
			}
			out[k] = v
		}
		return out
	}
	return nil
}

// BuildOptions returns the option strings passed to BuildProgram.
func (r *Runtime) BuildOptions() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.options)
}

func (r *Runtime) add(o *object) accel.Handle {
	r.next++
	r.objects[r.next] = o
	return r.next
}

// enter records a call and returns the injected failure, if any.
func (r *Runtime) enter(op string) error {
	r.calls = append(r.calls, op)
	r.counts[op]++
	f, ok := r.failures[op]
	if !ok || (f.call != 0 && f.call != r.counts[op]) {
		return nil
	}
	if f.err != nil {
		return f.err
	}
	return &accel.StatusError{Op: op, Code: -5, Message: "CL_OUT_OF_RESOURCES"}
}

func (r *Runtime) fault(format string, args ...any) {
	r.faults = append(r.faults, fmt.Sprintf(format, args...))
}

func (r *Runtime) lookup(op string, h accel.Handle, kind string) (*object, error) {
	if !h.Valid() {
		r.fault("%s: unset %s handle", op, kind)
		return nil, &accel.StatusError{Op: op, Code: -30, Message: "CL_INVALID_VALUE"}
	}
	o, ok := r.objects[h]
	if !ok || o.kind != kind {
		r.fault("%s: handle %d is not a %s", op, h, kind)
		return nil, &accel.StatusError{Op: op, Code: -30, Message: "CL_INVALID_VALUE"}
	}
	if o.released {
		r.fault("%s: %s %d used after release", op, kind, h)
		return nil, &accel.StatusError{Op: op, Code: -38, Message: "CL_INVALID_MEM_OBJECT"}
	}
	return o, nil
}

func (r *Runtime) Platforms() ([]accel.Platform, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.enter(OpPlatforms); err != nil {
		return nil, err
	}
	return slices.Clone(r.platforms), nil
}

func (r *Runtime) PlatformInfo(p accel.Platform) (accel.PlatformInfo, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.enter(OpPlatformInfo); err != nil {
		return accel.PlatformInfo{}, err
	}
	o, err := r.lookup(OpPlatformInfo, p.Handle, kindPlatform)
	if err != nil {
		return accel.PlatformInfo{}, err
	}
	return accel.PlatformInfo{Name: o.name, Vendor: "acceltest", Version: "OpenCL 1.2 fake"}, nil
}

func (r *Runtime) Devices(p accel.Platform) ([]accel.Device, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.enter(OpDevices); err != nil {
		return nil, err
	}
	o, err := r.lookup(OpDevices, p.Handle, kindPlatform)
	if err != nil {
		return nil, err
	}
	return slices.Clone(o.devices), nil
}

func (r *Runtime) DeviceInfo(d accel.Device) (accel.DeviceInfo, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.enter(OpDeviceInfo); err != nil {
		return accel.DeviceInfo{}, err
	}
	o, err := r.lookup(OpDeviceInfo, d.Handle, kindDevice)
	if err != nil {
		return accel.DeviceInfo{}, err
	}
	return accel.DeviceInfo{
		Name:               o.name,
		Vendor:             "acceltest",
		Version:            "OpenCL 1.2 fake",
		DriverVersion:      "1.0",
		Type:               "Accelerator",
		ComputeUnits:       1,
		GlobalMemory:       1 << 30,
		MaxWorkGroupSize:   256,
		ProfilingSupported: true,
	}, nil
}

func (r *Runtime) CreateContext(d accel.Device) (accel.Context, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.enter(OpCreateContext); err != nil {
		return accel.Context{}, err
	}
	if _, err := r.lookup(OpCreateContext, d.Handle, kindDevice); err != nil {
		return accel.Context{}, err
	}
	return accel.Context{Handle: r.add(&object{kind: KindContext})}, nil
}

func (r *Runtime) CreateQueue(ctx accel.Context, d accel.Device, profiling bool) (accel.Queue, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.enter(OpCreateQueue); err != nil {
		return accel.Queue{}, err
	}
	if _, err := r.lookup(OpCreateQueue, ctx.Handle, KindContext); err != nil {
		return accel.Queue{}, err
	}
	if _, err := r.lookup(OpCreateQueue, d.Handle, kindDevice); err != nil {
		return accel.Queue{}, err
	}
	return accel.Queue{Handle: r.add(&object{kind: KindQueue})}, nil
}

func (r *Runtime) CreateProgramWithBinary(ctx accel.Context, d accel.Device, binary []byte) (accel.Program, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.enter(OpCreateProgram); err != nil {
		return accel.Program{}, err
	}
	if _, err := r.lookup(OpCreateProgram, ctx.Handle, KindContext); err != nil {
		return accel.Program{}, err
	}
	if len(binary) == 0 {
		return accel.Program{}, &accel.StatusError{Op: OpCreateProgram, Code: -42, Message: "CL_INVALID_BINARY"}
	}
	return accel.Program{Handle: r.add(&object{kind: KindProgram})}, nil
}

func (r *Runtime) BuildProgram(p accel.Program, d accel.Device, options string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.enter(OpBuildProgram); err != nil {
		return err
	}
	r.options = append(r.options, options)
	_, err := r.lookup(OpBuildProgram, p.Handle, KindProgram)
	return err
}

func (r *Runtime) CreateKernel(p accel.Program, name string) (accel.Kernel, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.enter(OpCreateKernel); err != nil {
		return accel.Kernel{}, err
	}
	if _, err := r.lookup(OpCreateKernel, p.Handle, KindProgram); err != nil {
		return accel.Kernel{}, err
	}
	if !slices.Contains(r.kernelNames, name) {
		return accel.Kernel{}, &accel.StatusError{Op: OpCreateKernel, Code: -46, Message: "CL_INVALID_KERNEL_NAME"}
	}
	return accel.Kernel{Handle: r.add(&object{kind: KindKernel, name: name, args: make(map[uint32]any)})}, nil
}

func (r *Runtime) CreateBuffer(ctx accel.Context, flags accel.MemFlags, size int) (accel.Buffer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.enter(OpCreateBuffer); err != nil {
		return accel.Buffer{}, err
	}
	if _, err := r.lookup(OpCreateBuffer, ctx.Handle, KindContext); err != nil {
		return accel.Buffer{}, err
	}
	if size <= 0 {
		return accel.Buffer{}, &accel.StatusError{Op: OpCreateBuffer, Code: -61, Message: "CL_INVALID_BUFFER_SIZE"}
	}
	return accel.Buffer{Handle: r.add(&object{kind: KindBuffer, data: make([]byte, size), flags: flags})}, nil
}

func (r *Runtime) SetKernelArgBuffer(k accel.Kernel, index uint32, b accel.Buffer) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.enter(OpSetArgBuffer); err != nil {
		return err
	}
	ko, err := r.lookup(OpSetArgBuffer, k.Handle, KindKernel)
	if err != nil {
		return err
	}
	if _, err := r.lookup(OpSetArgBuffer, b.Handle, KindBuffer); err != nil {
		return err
	}
	ko.args[index] = b.Handle
	return nil
}

func (r *Runtime) SetKernelArgUint32(k accel.Kernel, index uint32, v uint32) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.enter(OpSetArgUint32); err != nil {
		return err
	}
	ko, err := r.lookup(OpSetArgUint32, k.Handle, KindKernel)
	if err != nil {
		return err
	}
	ko.args[index] = v
	return nil
}

func (r *Runtime) EnqueueWriteBuffer(q accel.Queue, b accel.Buffer, offset int, data []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.enter(OpWrite); err != nil {
		return err
	}
	qo, err := r.lookup(OpWrite, q.Handle, KindQueue)
	if err != nil {
		return err
	}
	bo, err := r.lookup(OpWrite, b.Handle, KindBuffer)
	if err != nil {
		return err
	}
	if qo.pending > 0 {
		r.fault("%s: write overlaps pending kernel execution", OpWrite)
	}
	if offset < 0 || offset+len(data) > len(bo.data) {
		r.fault("%s: %d bytes at offset %d exceed buffer of %d", OpWrite, len(data), offset, len(bo.data))
		return &accel.StatusError{Op: OpWrite, Code: -30, Message: "CL_INVALID_VALUE"}
	}
	copy(bo.data[offset:], data)
	return nil
}

func (r *Runtime) EnqueueNDRangeKernel(q accel.Queue, k accel.Kernel, globalSize int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.enter(OpNDRange); err != nil {
		return err
	}
	qo, err := r.lookup(OpNDRange, q.Handle, KindQueue)
	if err != nil {
		return err
	}
	if _, err := r.lookup(OpNDRange, k.Handle, KindKernel); err != nil {
		return err
	}
	if globalSize <= 0 {
		return &accel.StatusError{Op: OpNDRange, Code: -63, Message: "CL_INVALID_GLOBAL_WORK_SIZE"}
	}
	qo.pending = globalSize
	qo.kernel = k.Handle
	return nil
}

// Finish runs the dispatched kernel: slot 0 input, slot 1 large output,
// slot 2 small output, slot 3 large hash bits, slot 4 small hash bits.
func (r *Runtime) Finish(q accel.Queue) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.enter(OpFinish); err != nil {
		return err
	}
	qo, err := r.lookup(OpFinish, q.Handle, KindQueue)
	if err != nil {
		return err
	}
	if qo.pending == 0 {
		return nil
	}
	defer func() { qo.pending = 0 }()

	ko, err := r.lookup(OpFinish, qo.kernel, KindKernel)
	if err != nil {
		return err
	}
	input, err1 := r.bufferArg(ko, 0)
	large, err2 := r.bufferArg(ko, 1)
	small, err3 := r.bufferArg(ko, 2)
	bitsLarge, ok4 := ko.args[3].(uint32)
	bitsSmall, ok5 := ko.args[4].(uint32)
	if err1 != nil || err2 != nil || err3 != nil || !ok4 || !ok5 {
		r.fault("%s: kernel arguments not fully bound", OpFinish)
		return &accel.StatusError{Op: OpFinish, Code: -52, Message: "CL_INVALID_KERNEL_ARGS"}
	}

	items := qo.pending
	if items*4 > len(small.data) {
		r.fault("%s: %d work-items overflow small buffer", OpFinish, items)
		items = len(small.data) / 4
	}
	smallWords := make([]uint32, items)
	largeWords := make([]uint32, min(items*dfast.Step, len(large.data)/4))
	dfast.Fill(input.data, smallWords, largeWords, bitsSmall, bitsLarge)
	for i, w := range smallWords {
		binary.NativeEndian.PutUint32(small.data[i*4:], w)
	}
	for i, w := range largeWords {
		binary.NativeEndian.PutUint32(large.data[i*4:], w)
	}
	return nil
}

func (r *Runtime) bufferArg(k *object, slot uint32) (*object, error) {
	h, ok := k.args[slot].(accel.Handle)
	if !ok {
		return nil, fmt.Errorf("slot %d is not a buffer", slot)
	}
	return r.lookup(OpFinish, h, KindBuffer)
}

func (r *Runtime) EnqueueReadBuffer(q accel.Queue, b accel.Buffer, offset int, dst []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.enter(OpRead); err != nil {
		return err
	}
	qo, err := r.lookup(OpRead, q.Handle, KindQueue)
	if err != nil {
		return err
	}
	bo, err := r.lookup(OpRead, b.Handle, KindBuffer)
	if err != nil {
		return err
	}
	if qo.pending > 0 {
		r.fault("%s: read overlaps pending kernel execution", OpRead)
	}
	if offset < 0 || offset+len(dst) > len(bo.data) {
		r.fault("%s: %d bytes at offset %d exceed buffer of %d", OpRead, len(dst), offset, len(bo.data))
		return &accel.StatusError{Op: OpRead, Code: -30, Message: "CL_INVALID_VALUE"}
	}
	copy(dst, bo.data[offset:])
	return nil
}

func (r *Runtime) release(op string, h accel.Handle, kind string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.enter(op); err != nil {
		return err
	}
	o, err := r.lookup(op, h, kind)
	if err != nil {
		return err
	}
	o.released = true
	return nil
}

func (r *Runtime) ReleaseMemObject(b accel.Buffer) error {
	return r.release(OpReleaseMem, b.Handle, KindBuffer)
}

func (r *Runtime) ReleaseKernel(k accel.Kernel) error {
	return r.release(OpReleaseKernel, k.Handle, KindKernel)
}

func (r *Runtime) ReleaseProgram(p accel.Program) error {
	return r.release(OpReleaseProg, p.Handle, KindProgram)
}

func (r *Runtime) ReleaseCommandQueue(q accel.Queue) error {
	return r.release(OpReleaseQueue, q.Handle, KindQueue)
}

func (r *Runtime) ReleaseContext(ctx accel.Context) error {
	return r.release(OpReleaseCtx, ctx.Handle, KindContext)
}

var _ accel.Runtime = (*Runtime)(nil)
