//go:build !opencl
// +build !opencl

package accel

// NewOpenCLRuntime returns ErrNotBuilt when OpenCL support is not compiled in.
func NewOpenCLRuntime() (Runtime, error) {
	return nil, ErrNotBuilt
}
