package accel

import (
	"errors"
	"fmt"
)

var (
	// ErrDeviceNotFound is returned when no platform matches the configured
	// name, or the matching platform exposes no device.
	ErrDeviceNotFound = errors.New("accelerator device not found")

	ErrContextCreation  = errors.New("failed to create context")
	ErrQueueCreation    = errors.New("failed to create command queue")
	ErrProgramLoad      = errors.New("failed to load kernel binary")
	ErrBuild            = errors.New("failed to build program")
	ErrKernelNotFound   = errors.New("kernel entry point not found")
	ErrAllocation       = errors.New("failed to allocate device buffer")
	ErrBind             = errors.New("failed to bind kernel argument")
	ErrTransfer         = errors.New("device transfer failed")
	ErrExecution        = errors.New("kernel execution failed")
	ErrNotReady         = errors.New("session not ready")
	ErrAlreadyOpen      = errors.New("session already open")
	ErrCapacityExceeded = errors.New("request exceeds buffer capacity")

	// ErrNotBuilt is returned by the OpenCL runtime constructor when the
	// binary was built without the opencl tag.
	ErrNotBuilt = errors.New("opencl support requires building with '-tags opencl'")
)

// StatusError carries a non-success status code returned by the native
// runtime.
type StatusError struct {
	Op      string
	Code    int32
	Message string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s: status %d", e.Op, e.Code)
	}
	return fmt.Sprintf("%s: %s (%d)", e.Op, e.Message, e.Code)
}

// stepError wraps a runtime failure with the sentinel for the step it
// happened in, so callers can match either.
func stepError(kind error, err error) error {
	return fmt.Errorf("%w: %w", kind, err)
}

var reasons = []struct {
	err    error
	reason string
}{
	{ErrDeviceNotFound, "device_not_found"},
	{ErrContextCreation, "context"},
	{ErrQueueCreation, "queue"},
	{ErrProgramLoad, "program_load"},
	{ErrBuild, "build"},
	{ErrKernelNotFound, "kernel"},
	{ErrAllocation, "allocation"},
	{ErrBind, "bind"},
	{ErrTransfer, "transfer"},
	{ErrExecution, "execution"},
	{ErrNotReady, "not_ready"},
	{ErrAlreadyOpen, "already_open"},
	{ErrCapacityExceeded, "capacity"},
	{ErrNotBuilt, "not_built"},
}

// Reason maps an error to a short label for metrics.
func Reason(err error) string {
	if err == nil {
		return "none"
	}
	for _, r := range reasons {
		if errors.Is(err, r.err) {
			return r.reason
		}
	}
	return "unknown"
}
