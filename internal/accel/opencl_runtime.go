//go:build opencl
// +build opencl

package accel

/*
#cgo linux LDFLAGS: -lOpenCL
#cgo windows LDFLAGS: -lOpenCL
#cgo darwin LDFLAGS: -framework OpenCL
#define CL_TARGET_OPENCL_VERSION 120
#define CL_USE_DEPRECATED_OPENCL_1_2_APIS
#ifdef __APPLE__
#include <OpenCL/opencl.h>
#else
#include <CL/cl.h>
#endif
#include <stdlib.h>

static const char* hashfill_cl_error_string(cl_int status) {
	switch (status) {
	case CL_SUCCESS: return "CL_SUCCESS";
	case CL_DEVICE_NOT_FOUND: return "CL_DEVICE_NOT_FOUND";
	case CL_DEVICE_NOT_AVAILABLE: return "CL_DEVICE_NOT_AVAILABLE";
	case CL_COMPILER_NOT_AVAILABLE: return "CL_COMPILER_NOT_AVAILABLE";
	case CL_MEM_OBJECT_ALLOCATION_FAILURE: return "CL_MEM_OBJECT_ALLOCATION_FAILURE";
	case CL_OUT_OF_RESOURCES: return "CL_OUT_OF_RESOURCES";
	case CL_OUT_OF_HOST_MEMORY: return "CL_OUT_OF_HOST_MEMORY";
	case CL_PROFILING_INFO_NOT_AVAILABLE: return "CL_PROFILING_INFO_NOT_AVAILABLE";
	case CL_BUILD_PROGRAM_FAILURE: return "CL_BUILD_PROGRAM_FAILURE";
	case CL_INVALID_VALUE: return "CL_INVALID_VALUE";
	case CL_INVALID_DEVICE_TYPE: return "CL_INVALID_DEVICE_TYPE";
	case CL_INVALID_PLATFORM: return "CL_INVALID_PLATFORM";
	case CL_INVALID_DEVICE: return "CL_INVALID_DEVICE";
	case CL_INVALID_CONTEXT: return "CL_INVALID_CONTEXT";
	case CL_INVALID_QUEUE_PROPERTIES: return "CL_INVALID_QUEUE_PROPERTIES";
	case CL_INVALID_COMMAND_QUEUE: return "CL_INVALID_COMMAND_QUEUE";
	case CL_INVALID_HOST_PTR: return "CL_INVALID_HOST_PTR";
	case CL_INVALID_MEM_OBJECT: return "CL_INVALID_MEM_OBJECT";
	case CL_INVALID_BINARY: return "CL_INVALID_BINARY";
	case CL_INVALID_BUILD_OPTIONS: return "CL_INVALID_BUILD_OPTIONS";
	case CL_INVALID_PROGRAM: return "CL_INVALID_PROGRAM";
	case CL_INVALID_PROGRAM_EXECUTABLE: return "CL_INVALID_PROGRAM_EXECUTABLE";
	case CL_INVALID_KERNEL_NAME: return "CL_INVALID_KERNEL_NAME";
	case CL_INVALID_KERNEL_DEFINITION: return "CL_INVALID_KERNEL_DEFINITION";
	case CL_INVALID_KERNEL: return "CL_INVALID_KERNEL";
	case CL_INVALID_ARG_INDEX: return "CL_INVALID_ARG_INDEX";
	case CL_INVALID_ARG_VALUE: return "CL_INVALID_ARG_VALUE";
	case CL_INVALID_ARG_SIZE: return "CL_INVALID_ARG_SIZE";
	case CL_INVALID_KERNEL_ARGS: return "CL_INVALID_KERNEL_ARGS";
	case CL_INVALID_WORK_DIMENSION: return "CL_INVALID_WORK_DIMENSION";
	case CL_INVALID_WORK_GROUP_SIZE: return "CL_INVALID_WORK_GROUP_SIZE";
	case CL_INVALID_WORK_ITEM_SIZE: return "CL_INVALID_WORK_ITEM_SIZE";
	case CL_INVALID_GLOBAL_OFFSET: return "CL_INVALID_GLOBAL_OFFSET";
	case CL_INVALID_EVENT_WAIT_LIST: return "CL_INVALID_EVENT_WAIT_LIST";
	case CL_INVALID_OPERATION: return "CL_INVALID_OPERATION";
	case CL_INVALID_BUFFER_SIZE: return "CL_INVALID_BUFFER_SIZE";
	case -1001: return "CL_PLATFORM_NOT_FOUND_KHR";
	default: return "CL_UNKNOWN_ERROR";
	}
}
*/
import "C"

import (
	"fmt"
	"sync"
	"unsafe"
)

// openCLRuntime implements Runtime over the system OpenCL ICD loader.
// Native object pointers never leave this file; callers see Handles that
// index into objects.
type openCLRuntime struct {
	mu      sync.Mutex
	next    Handle
	objects map[Handle]unsafe.Pointer
	handles map[unsafe.Pointer]Handle
}

// NewOpenCLRuntime returns the OpenCL-backed Runtime.
func NewOpenCLRuntime() (Runtime, error) {
	return &openCLRuntime{
		objects: make(map[Handle]unsafe.Pointer),
		handles: make(map[unsafe.Pointer]Handle),
	}, nil
}

func (r *openCLRuntime) put(p unsafe.Pointer) Handle {
	r.mu.Lock()
	defer r.mu.Unlock()
	if h, ok := r.handles[p]; ok {
		return h
	}
	r.next++
	r.objects[r.next] = p
	r.handles[p] = r.next
	return r.next
}

func (r *openCLRuntime) get(h Handle) (unsafe.Pointer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.objects[h]
	if !ok {
		return nil, &StatusError{Op: "lookup", Code: int32(C.CL_INVALID_VALUE), Message: fmt.Sprintf("unknown handle %d", h)}
	}
	return p, nil
}

func (r *openCLRuntime) drop(h Handle) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.objects[h]; ok {
		delete(r.handles, p)
		delete(r.objects, h)
	}
}

func statusError(op string, status C.cl_int) error {
	return &StatusError{
		Op:      op,
		Code:    int32(status),
		Message: C.GoString(C.hashfill_cl_error_string(status)),
	}
}

func (r *openCLRuntime) Platforms() ([]Platform, error) {
	var count C.cl_uint
	status := C.clGetPlatformIDs(0, nil, &count)
	if status != C.CL_SUCCESS {
		return nil, statusError("clGetPlatformIDs(count)", status)
	}
	if count == 0 {
		return nil, nil
	}

	ids := make([]C.cl_platform_id, int(count))
	status = C.clGetPlatformIDs(count, &ids[0], nil)
	if status != C.CL_SUCCESS {
		return nil, statusError("clGetPlatformIDs(list)", status)
	}

	platforms := make([]Platform, len(ids))
	for i, id := range ids {
		platforms[i] = Platform{r.put(unsafe.Pointer(id))}
	}
	return platforms, nil
}

func (r *openCLRuntime) PlatformInfo(p Platform) (PlatformInfo, error) {
	ptr, err := r.get(p.Handle)
	if err != nil {
		return PlatformInfo{}, err
	}
	id := C.cl_platform_id(ptr)

	name, err := platformString(id, C.CL_PLATFORM_NAME)
	if err != nil {
		return PlatformInfo{}, err
	}
	vendor, err := platformString(id, C.CL_PLATFORM_VENDOR)
	if err != nil {
		return PlatformInfo{}, err
	}
	version, err := platformString(id, C.CL_PLATFORM_VERSION)
	if err != nil {
		return PlatformInfo{}, err
	}
	return PlatformInfo{Name: name, Vendor: vendor, Version: version}, nil
}

func (r *openCLRuntime) Devices(p Platform) ([]Device, error) {
	ptr, err := r.get(p.Handle)
	if err != nil {
		return nil, err
	}
	platform := C.cl_platform_id(ptr)

	var count C.cl_uint
	status := C.clGetDeviceIDs(platform, C.CL_DEVICE_TYPE_ALL, 0, nil, &count)
	if status == C.CL_DEVICE_NOT_FOUND || (status == C.CL_SUCCESS && count == 0) {
		return nil, nil
	}
	if status != C.CL_SUCCESS {
		return nil, statusError("clGetDeviceIDs(count)", status)
	}

	ids := make([]C.cl_device_id, int(count))
	status = C.clGetDeviceIDs(platform, C.CL_DEVICE_TYPE_ALL, count, &ids[0], nil)
	if status != C.CL_SUCCESS {
		return nil, statusError("clGetDeviceIDs(list)", status)
	}

	devices := make([]Device, len(ids))
	for i, id := range ids {
		devices[i] = Device{r.put(unsafe.Pointer(id))}
	}
	return devices, nil
}

func (r *openCLRuntime) DeviceInfo(d Device) (DeviceInfo, error) {
	ptr, err := r.get(d.Handle)
	if err != nil {
		return DeviceInfo{}, err
	}
	id := C.cl_device_id(ptr)

	var info DeviceInfo
	strs := []struct {
		param C.cl_device_info
		dst   *string
	}{
		{C.CL_DEVICE_NAME, &info.Name},
		{C.CL_DEVICE_VENDOR, &info.Vendor},
		{C.CL_DEVICE_VERSION, &info.Version},
		{C.CL_DRIVER_VERSION, &info.DriverVersion},
	}
	for _, s := range strs {
		if *s.dst, err = deviceString(id, s.param); err != nil {
			return DeviceInfo{}, err
		}
	}

	var devType C.cl_device_type
	if err := deviceValue(id, C.CL_DEVICE_TYPE, unsafe.Pointer(&devType), unsafe.Sizeof(devType)); err != nil {
		return DeviceInfo{}, err
	}
	info.Type = deviceTypeName(devType)

	var units C.cl_uint
	if err := deviceValue(id, C.CL_DEVICE_MAX_COMPUTE_UNITS, unsafe.Pointer(&units), unsafe.Sizeof(units)); err != nil {
		return DeviceInfo{}, err
	}
	info.ComputeUnits = uint32(units)

	var mem C.cl_ulong
	if err := deviceValue(id, C.CL_DEVICE_GLOBAL_MEM_SIZE, unsafe.Pointer(&mem), unsafe.Sizeof(mem)); err != nil {
		return DeviceInfo{}, err
	}
	info.GlobalMemory = int64(mem)

	var wgs C.size_t
	if err := deviceValue(id, C.CL_DEVICE_MAX_WORK_GROUP_SIZE, unsafe.Pointer(&wgs), unsafe.Sizeof(wgs)); err != nil {
		return DeviceInfo{}, err
	}
	info.MaxWorkGroupSize = int64(wgs)

	var props C.cl_command_queue_properties
	if err := deviceValue(id, C.CL_DEVICE_QUEUE_PROPERTIES, unsafe.Pointer(&props), unsafe.Sizeof(props)); err != nil {
		return DeviceInfo{}, err
	}
	info.ProfilingSupported = props&C.CL_QUEUE_PROFILING_ENABLE != 0

	return info, nil
}

func (r *openCLRuntime) CreateContext(d Device) (Context, error) {
	ptr, err := r.get(d.Handle)
	if err != nil {
		return Context{}, err
	}
	device := C.cl_device_id(ptr)

	var status C.cl_int
	ctx := C.clCreateContext(nil, 1, &device, nil, nil, &status)
	if status != C.CL_SUCCESS {
		return Context{}, statusError("clCreateContext", status)
	}
	return Context{r.put(unsafe.Pointer(ctx))}, nil
}

func (r *openCLRuntime) CreateQueue(ctx Context, d Device, profiling bool) (Queue, error) {
	ctxPtr, err := r.get(ctx.Handle)
	if err != nil {
		return Queue{}, err
	}
	devPtr, err := r.get(d.Handle)
	if err != nil {
		return Queue{}, err
	}

	var props C.cl_command_queue_properties
	if profiling {
		props = C.CL_QUEUE_PROFILING_ENABLE
	}
	var status C.cl_int
	queue := C.clCreateCommandQueue(C.cl_context(ctxPtr), C.cl_device_id(devPtr), props, &status)
	if status != C.CL_SUCCESS {
		return Queue{}, statusError("clCreateCommandQueue", status)
	}
	return Queue{r.put(unsafe.Pointer(queue))}, nil
}

func (r *openCLRuntime) CreateProgramWithBinary(ctx Context, d Device, binary []byte) (Program, error) {
	ctxPtr, err := r.get(ctx.Handle)
	if err != nil {
		return Program{}, err
	}
	devPtr, err := r.get(d.Handle)
	if err != nil {
		return Program{}, err
	}
	if len(binary) == 0 {
		return Program{}, statusError("clCreateProgramWithBinary", C.CL_INVALID_VALUE)
	}

	device := C.cl_device_id(devPtr)
	data := (*C.uchar)(C.CBytes(binary))
	defer C.free(unsafe.Pointer(data))
	length := C.size_t(len(binary))

	var binaryStatus, status C.cl_int
	program := C.clCreateProgramWithBinary(C.cl_context(ctxPtr), 1, &device, &length, &data, &binaryStatus, &status)
	if status != C.CL_SUCCESS {
		return Program{}, statusError("clCreateProgramWithBinary", status)
	}
	if binaryStatus != C.CL_SUCCESS {
		C.clReleaseProgram(program)
		return Program{}, statusError("clCreateProgramWithBinary(binary)", binaryStatus)
	}
	return Program{r.put(unsafe.Pointer(program))}, nil
}

func (r *openCLRuntime) BuildProgram(p Program, d Device, options string) error {
	progPtr, err := r.get(p.Handle)
	if err != nil {
		return err
	}
	devPtr, err := r.get(d.Handle)
	if err != nil {
		return err
	}
	program := C.cl_program(progPtr)
	device := C.cl_device_id(devPtr)

	opts := C.CString(options)
	defer C.free(unsafe.Pointer(opts))

	status := C.clBuildProgram(program, 1, &device, opts, nil, nil)
	if status != C.CL_SUCCESS {
		serr := statusError("clBuildProgram", status).(*StatusError)
		if log := buildLog(program, device); log != "" {
			serr.Message += ": " + log
		}
		return serr
	}
	return nil
}

func (r *openCLRuntime) CreateKernel(p Program, name string) (Kernel, error) {
	ptr, err := r.get(p.Handle)
	if err != nil {
		return Kernel{}, err
	}

	cname := C.CString(name)
	defer C.free(unsafe.Pointer(cname))

	var status C.cl_int
	kernel := C.clCreateKernel(C.cl_program(ptr), cname, &status)
	if status != C.CL_SUCCESS {
		return Kernel{}, statusError(fmt.Sprintf("clCreateKernel(%s)", name), status)
	}
	return Kernel{r.put(unsafe.Pointer(kernel))}, nil
}

func (r *openCLRuntime) CreateBuffer(ctx Context, flags MemFlags, size int) (Buffer, error) {
	ptr, err := r.get(ctx.Handle)
	if err != nil {
		return Buffer{}, err
	}

	var clFlags C.cl_mem_flags
	switch flags {
	case MemReadOnly:
		clFlags = C.CL_MEM_READ_ONLY
	case MemWriteOnly:
		clFlags = C.CL_MEM_WRITE_ONLY
	default:
		clFlags = C.CL_MEM_READ_WRITE
	}

	var status C.cl_int
	mem := C.clCreateBuffer(C.cl_context(ptr), clFlags, C.size_t(size), nil, &status)
	if status != C.CL_SUCCESS {
		return Buffer{}, statusError("clCreateBuffer", status)
	}
	return Buffer{r.put(unsafe.Pointer(mem))}, nil
}

func (r *openCLRuntime) SetKernelArgBuffer(k Kernel, index uint32, b Buffer) error {
	kPtr, err := r.get(k.Handle)
	if err != nil {
		return err
	}
	bPtr, err := r.get(b.Handle)
	if err != nil {
		return err
	}

	mem := C.cl_mem(bPtr)
	status := C.clSetKernelArg(C.cl_kernel(kPtr), C.cl_uint(index), C.size_t(unsafe.Sizeof(mem)), unsafe.Pointer(&mem))
	if status != C.CL_SUCCESS {
		return statusError("clSetKernelArg", status)
	}
	return nil
}

func (r *openCLRuntime) SetKernelArgUint32(k Kernel, index uint32, v uint32) error {
	ptr, err := r.get(k.Handle)
	if err != nil {
		return err
	}

	value := C.cl_uint(v)
	status := C.clSetKernelArg(C.cl_kernel(ptr), C.cl_uint(index), C.size_t(unsafe.Sizeof(value)), unsafe.Pointer(&value))
	if status != C.CL_SUCCESS {
		return statusError("clSetKernelArg", status)
	}
	return nil
}

// EnqueueWriteBuffer issues a blocking write; data is not retained after
// return.
func (r *openCLRuntime) EnqueueWriteBuffer(q Queue, b Buffer, offset int, data []byte) error {
	if len(data) == 0 {
		return nil
	}
	qPtr, err := r.get(q.Handle)
	if err != nil {
		return err
	}
	bPtr, err := r.get(b.Handle)
	if err != nil {
		return err
	}

	status := C.clEnqueueWriteBuffer(C.cl_command_queue(qPtr), C.cl_mem(bPtr), C.CL_TRUE,
		C.size_t(offset), C.size_t(len(data)), unsafe.Pointer(&data[0]), 0, nil, nil)
	if status != C.CL_SUCCESS {
		return statusError("clEnqueueWriteBuffer", status)
	}
	return nil
}

func (r *openCLRuntime) EnqueueNDRangeKernel(q Queue, k Kernel, globalSize int) error {
	qPtr, err := r.get(q.Handle)
	if err != nil {
		return err
	}
	kPtr, err := r.get(k.Handle)
	if err != nil {
		return err
	}

	global := C.size_t(globalSize)
	status := C.clEnqueueNDRangeKernel(C.cl_command_queue(qPtr), C.cl_kernel(kPtr), 1, nil, &global, nil, 0, nil, nil)
	if status != C.CL_SUCCESS {
		return statusError("clEnqueueNDRangeKernel", status)
	}
	return nil
}

func (r *openCLRuntime) Finish(q Queue) error {
	ptr, err := r.get(q.Handle)
	if err != nil {
		return err
	}
	if status := C.clFinish(C.cl_command_queue(ptr)); status != C.CL_SUCCESS {
		return statusError("clFinish", status)
	}
	return nil
}

// EnqueueReadBuffer issues a blocking read into dst.
func (r *openCLRuntime) EnqueueReadBuffer(q Queue, b Buffer, offset int, dst []byte) error {
	if len(dst) == 0 {
		return nil
	}
	qPtr, err := r.get(q.Handle)
	if err != nil {
		return err
	}
	bPtr, err := r.get(b.Handle)
	if err != nil {
		return err
	}

	status := C.clEnqueueReadBuffer(C.cl_command_queue(qPtr), C.cl_mem(bPtr), C.CL_TRUE,
		C.size_t(offset), C.size_t(len(dst)), unsafe.Pointer(&dst[0]), 0, nil, nil)
	if status != C.CL_SUCCESS {
		return statusError("clEnqueueReadBuffer", status)
	}
	return nil
}

func (r *openCLRuntime) ReleaseMemObject(b Buffer) error {
	ptr, err := r.get(b.Handle)
	if err != nil {
		return err
	}
	r.drop(b.Handle)
	if status := C.clReleaseMemObject(C.cl_mem(ptr)); status != C.CL_SUCCESS {
		return statusError("clReleaseMemObject", status)
	}
	return nil
}

func (r *openCLRuntime) ReleaseKernel(k Kernel) error {
	ptr, err := r.get(k.Handle)
	if err != nil {
		return err
	}
	r.drop(k.Handle)
	if status := C.clReleaseKernel(C.cl_kernel(ptr)); status != C.CL_SUCCESS {
		return statusError("clReleaseKernel", status)
	}
	return nil
}

func (r *openCLRuntime) ReleaseProgram(p Program) error {
	ptr, err := r.get(p.Handle)
	if err != nil {
		return err
	}
	r.drop(p.Handle)
	if status := C.clReleaseProgram(C.cl_program(ptr)); status != C.CL_SUCCESS {
		return statusError("clReleaseProgram", status)
	}
	return nil
}

func (r *openCLRuntime) ReleaseCommandQueue(q Queue) error {
	ptr, err := r.get(q.Handle)
	if err != nil {
		return err
	}
	r.drop(q.Handle)
	if status := C.clReleaseCommandQueue(C.cl_command_queue(ptr)); status != C.CL_SUCCESS {
		return statusError("clReleaseCommandQueue", status)
	}
	return nil
}

func (r *openCLRuntime) ReleaseContext(ctx Context) error {
	ptr, err := r.get(ctx.Handle)
	if err != nil {
		return err
	}
	r.drop(ctx.Handle)
	if status := C.clReleaseContext(C.cl_context(ptr)); status != C.CL_SUCCESS {
		return statusError("clReleaseContext", status)
	}
	return nil
}

func platformString(id C.cl_platform_id, param C.cl_platform_info) (string, error) {
	var size C.size_t
	status := C.clGetPlatformInfo(id, param, 0, nil, &size)
	if status != C.CL_SUCCESS {
		return "", statusError("clGetPlatformInfo(size)", status)
	}
	if size == 0 {
		return "", nil
	}

	buf := make([]byte, int(size))
	status = C.clGetPlatformInfo(id, param, size, unsafe.Pointer(&buf[0]), nil)
	if status != C.CL_SUCCESS {
		return "", statusError("clGetPlatformInfo(value)", status)
	}
	return trimNull(buf), nil
}

func deviceString(id C.cl_device_id, param C.cl_device_info) (string, error) {
	var size C.size_t
	status := C.clGetDeviceInfo(id, param, 0, nil, &size)
	if status != C.CL_SUCCESS {
		return "", statusError("clGetDeviceInfo(size)", status)
	}
	if size == 0 {
		return "", nil
	}

	buf := make([]byte, int(size))
	status = C.clGetDeviceInfo(id, param, size, unsafe.Pointer(&buf[0]), nil)
	if status != C.CL_SUCCESS {
		return "", statusError("clGetDeviceInfo(value)", status)
	}
	return trimNull(buf), nil
}

func deviceValue(id C.cl_device_id, param C.cl_device_info, dst unsafe.Pointer, size uintptr) error {
	status := C.clGetDeviceInfo(id, param, C.size_t(size), dst, nil)
	if status != C.CL_SUCCESS {
		return statusError("clGetDeviceInfo", status)
	}
	return nil
}

func buildLog(program C.cl_program, device C.cl_device_id) string {
	var size C.size_t
	if C.clGetProgramBuildInfo(program, device, C.CL_PROGRAM_BUILD_LOG, 0, nil, &size) != C.CL_SUCCESS || size <= 1 {
		return ""
	}
	buf := make([]byte, int(size))
	if C.clGetProgramBuildInfo(program, device, C.CL_PROGRAM_BUILD_LOG, size, unsafe.Pointer(&buf[0]), nil) != C.CL_SUCCESS {
		return ""
	}
	return trimNull(buf)
}

func trimNull(buf []byte) string {
	if len(buf) > 0 && buf[len(buf)-1] == 0 {
		buf = buf[:len(buf)-1]
	}
	return string(buf)
}

func deviceTypeName(t C.cl_device_type) string {
	switch {
	case t&C.CL_DEVICE_TYPE_ACCELERATOR != 0:
		return "Accelerator"
	case t&C.CL_DEVICE_TYPE_GPU != 0:
		return "GPU"
	case t&C.CL_DEVICE_TYPE_CPU != 0:
		return "CPU"
	case t&C.CL_DEVICE_TYPE_DEFAULT != 0:
		return "Default"
	default:
		return "Unknown"
	}
}
