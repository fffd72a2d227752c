package accel

// Handle identifies an object owned by the native runtime. The zero value is
// unset and must never be passed to a release call.
type Handle uintptr

// Valid reports whether the handle refers to a live runtime object.
func (h Handle) Valid() bool {
	return h != 0
}

type (
	Platform struct{ Handle }
	Device   struct{ Handle }
	Context  struct{ Handle }
	Queue    struct{ Handle }
	Program  struct{ Handle }
	Kernel   struct{ Handle }
	Buffer   struct{ Handle }
)

// MemFlags describes buffer access from the device's point of view.
type MemFlags int

const (
	MemReadWrite MemFlags = iota
	MemReadOnly
	MemWriteOnly
)

func (f MemFlags) String() string {
	switch f {
	case MemReadOnly:
		return "read_only"
	case MemWriteOnly:
		return "write_only"
	default:
		return "read_write"
	}
}

// PlatformInfo describes an accelerator platform.
type PlatformInfo struct {
	Name    string `json:"name"`
	Vendor  string `json:"vendor"`
	Version string `json:"version"`
}

// Runtime is the native interop layer a Session drives. Every call reports
// failure through its error; write, read and Finish block until the device
// has completed the operation.
type Runtime interface {
	Platforms() ([]Platform, error)
	PlatformInfo(p Platform) (PlatformInfo, error)
	Devices(p Platform) ([]Device, error)
	DeviceInfo(d Device) (DeviceInfo, error)

	CreateContext(d Device) (Context, error)
	// CreateQueue creates an in-order queue; profiling only enables timing
	// instrumentation.
	CreateQueue(ctx Context, d Device, profiling bool) (Queue, error)
	CreateProgramWithBinary(ctx Context, d Device, binary []byte) (Program, error)
	BuildProgram(p Program, d Device, options string) error
	CreateKernel(p Program, name string) (Kernel, error)
	CreateBuffer(ctx Context, flags MemFlags, size int) (Buffer, error)

	SetKernelArgBuffer(k Kernel, index uint32, b Buffer) error
	SetKernelArgUint32(k Kernel, index uint32, v uint32) error

	EnqueueWriteBuffer(q Queue, b Buffer, offset int, data []byte) error
	EnqueueNDRangeKernel(q Queue, k Kernel, globalSize int) error
	Finish(q Queue) error
	EnqueueReadBuffer(q Queue, b Buffer, offset int, dst []byte) error

	ReleaseMemObject(b Buffer) error
	ReleaseKernel(k Kernel) error
	ReleaseProgram(p Program) error
	ReleaseCommandQueue(q Queue) error
	ReleaseContext(ctx Context) error
}
