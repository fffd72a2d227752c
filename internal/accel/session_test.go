package accel_test

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/fxnlabs/hashfill/internal/accel"
	"github.com/fxnlabs/hashfill/internal/accel/acceltest"
	"github.com/fxnlabs/hashfill/internal/dfast"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

const testCapacity = 300

func openSession(t *testing.T, capacity int) (*accel.Session, *acceltest.Runtime) {
	t.Helper()
	rt := acceltest.New()
	s := accel.NewSession(acceltest.Config(t, capacity), rt, zaptest.NewLogger(t))
	require.NoError(t, s.Open())
	t.Cleanup(s.Release)
	return s, rt
}

func releaseCalls(calls []string) []string {
	var out []string
	for _, c := range calls {
		if strings.HasPrefix(c, "Release") {
			out = append(out, c)
		}
	}
	return out
}

// reference computes the expected tables for a device whose input buffer
// holds buf.
func reference(buf []byte, smallLen, largeLen int) ([]uint32, []uint32) {
	small := make([]uint32, smallLen)
	large := make([]uint32, largeLen)
	dfast.Fill(buf, small, large, accel.DefaultHashBitsSmall, accel.DefaultHashBitsLarge)
	return small, large
}

func TestSession_Open(t *testing.T) {
	s, rt := openSession(t, testCapacity)

	assert.True(t, s.Ready())
	assert.Equal(t, []string{
		acceltest.OpPlatforms,
		acceltest.OpPlatformInfo,
		acceltest.OpDevices,
		acceltest.OpDeviceInfo,
		acceltest.OpCreateContext,
		acceltest.OpCreateQueue,
		acceltest.OpCreateProgram,
		acceltest.OpBuildProgram,
		acceltest.OpCreateKernel,
		acceltest.OpCreateBuffer,
		acceltest.OpCreateBuffer,
		acceltest.OpCreateBuffer,
		acceltest.OpSetArgBuffer,
		acceltest.OpSetArgBuffer,
		acceltest.OpSetArgBuffer,
		acceltest.OpSetArgUint32,
		acceltest.OpSetArgUint32,
	}, rt.Calls())

	caps := s.Capacities()
	assert.Equal(t, accel.Capacities{Input: 300, Small: 100, Large: 300}, caps)
	assert.Equal(t, map[uint32]any{
		0: caps.Input,
		1: caps.Large * 4,
		2: caps.Small * 4,
		3: uint32(17),
		4: uint32(16),
	}, rt.KernelArgs())

	assert.Equal(t, []string{
		acceltest.KindBuffer, acceltest.KindBuffer, acceltest.KindBuffer,
		acceltest.KindContext, acceltest.KindKernel, acceltest.KindProgram, acceltest.KindQueue,
	}, rt.Live())

	info := s.DeviceInfo()
	assert.Equal(t, accel.DefaultPlatform, info.Platform)
	assert.NotEmpty(t, info.Name)
	assert.Equal(t, accel.BackendOpenCL, s.Name())
	assert.Empty(t, rt.Faults())
}

func TestSession_ResolveSelectsFirstMatchingPlatformAndDevice(t *testing.T) {
	rt := acceltest.New(acceltest.WithPlatforms(
		acceltest.PlatformSpec{Name: "NVIDIA CUDA", Devices: 2},
		acceltest.PlatformSpec{Name: "Intel(R) FPGA SDK for OpenCL(TM)", Devices: 2},
		acceltest.PlatformSpec{Name: "Intel(R) FPGA SDK for OpenCL(TM) Emulation", Devices: 1},
	))
	s := accel.NewSession(acceltest.Config(t, testCapacity), rt, zaptest.NewLogger(t))
	require.NoError(t, s.Open())
	defer s.Release()

	info := s.DeviceInfo()
	assert.Equal(t, "Intel(R) FPGA SDK for OpenCL(TM)", info.Platform)
	assert.Equal(t, "Intel(R) FPGA SDK for OpenCL(TM) device 0", info.Name)
	assert.Equal(t, 1, rt.CallCount(acceltest.OpDevices))
}

func TestSession_DeviceNotFound(t *testing.T) {
	testCases := []struct {
		name  string
		setup func() *acceltest.Runtime
	}{
		{
			name: "no platforms",
			setup: func() *acceltest.Runtime {
				return acceltest.New(acceltest.WithPlatforms())
			},
		},
		{
			name: "no matching platform",
			setup: func() *acceltest.Runtime {
				return acceltest.New(acceltest.WithPlatforms(acceltest.PlatformSpec{Name: "Portable Computing Language", Devices: 1}))
			},
		},
		{
			name: "matching platform without devices",
			setup: func() *acceltest.Runtime {
				return acceltest.New(acceltest.WithPlatforms(acceltest.PlatformSpec{Name: accel.DefaultPlatform}))
			},
		},
		{
			name: "platform enumeration fails",
			setup: func() *acceltest.Runtime {
				rt := acceltest.New()
				rt.FailOn(acceltest.OpPlatforms, nil)
				return rt
			},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			rt := tc.setup()
			s := accel.NewSession(acceltest.Config(t, testCapacity), rt, zaptest.NewLogger(t))

			err := s.Open()
			require.ErrorIs(t, err, accel.ErrDeviceNotFound)
			assert.False(t, s.Ready())
			assert.Zero(t, rt.CallCount(acceltest.OpCreateContext))
			assert.Empty(t, releaseCalls(rt.Calls()))
			assert.Equal(t, "device_not_found", accel.Reason(err))
		})
	}
}

func TestSession_PartialFailureReleasesOnlyCreated(t *testing.T) {
	testCases := []struct {
		name         string
		op           string
		call         int
		wantErr      error
		wantReleases []string
	}{
		{
			name:         "context",
			op:           acceltest.OpCreateContext,
			wantErr:      accel.ErrContextCreation,
			wantReleases: nil,
		},
		{
			name:         "queue",
			op:           acceltest.OpCreateQueue,
			wantErr:      accel.ErrQueueCreation,
			wantReleases: []string{acceltest.OpReleaseCtx},
		},
		{
			name:         "program",
			op:           acceltest.OpCreateProgram,
			wantErr:      accel.ErrProgramLoad,
			wantReleases: []string{acceltest.OpReleaseQueue, acceltest.OpReleaseCtx},
		},
		{
			name:         "build",
			op:           acceltest.OpBuildProgram,
			wantErr:      accel.ErrBuild,
			wantReleases: []string{acceltest.OpReleaseProg, acceltest.OpReleaseQueue, acceltest.OpReleaseCtx},
		},
		{
			name:         "kernel",
			op:           acceltest.OpCreateKernel,
			wantErr:      accel.ErrKernelNotFound,
			wantReleases: []string{acceltest.OpReleaseProg, acceltest.OpReleaseQueue, acceltest.OpReleaseCtx},
		},
		{
			name:    "first buffer",
			op:      acceltest.OpCreateBuffer,
			call:    1,
			wantErr: accel.ErrAllocation,
			wantReleases: []string{
				acceltest.OpReleaseKernel, acceltest.OpReleaseProg, acceltest.OpReleaseQueue, acceltest.OpReleaseCtx,
			},
		},
		{
			name:    "last buffer",
			op:      acceltest.OpCreateBuffer,
			call:    3,
			wantErr: accel.ErrAllocation,
			wantReleases: []string{
				acceltest.OpReleaseMem, acceltest.OpReleaseMem,
				acceltest.OpReleaseKernel, acceltest.OpReleaseProg, acceltest.OpReleaseQueue, acceltest.OpReleaseCtx,
			},
		},
		{
			name:    "bind scalar",
			op:      acceltest.OpSetArgUint32,
			call:    2,
			wantErr: accel.ErrBind,
			wantReleases: []string{
				acceltest.OpReleaseMem, acceltest.OpReleaseMem, acceltest.OpReleaseMem,
				acceltest.OpReleaseKernel, acceltest.OpReleaseProg, acceltest.OpReleaseQueue, acceltest.OpReleaseCtx,
			},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			rt := acceltest.New()
			rt.FailOnCall(tc.op, tc.call, nil)
			s := accel.NewSession(acceltest.Config(t, testCapacity), rt, zaptest.NewLogger(t))

			err := s.Open()
			require.ErrorIs(t, err, tc.wantErr)

			var statusErr *accel.StatusError
			assert.True(t, errors.As(err, &statusErr), "runtime status should be preserved")

			assert.Equal(t, tc.wantReleases, releaseCalls(rt.Calls()))
			assert.Empty(t, rt.Live())
			assert.Empty(t, rt.Faults())

			// A later Release must not touch anything again.
			rt.ResetCalls()
			s.Release()
			assert.Empty(t, rt.Calls())
		})
	}
}

func TestSession_MissingBinary(t *testing.T) {
	rt := acceltest.New()
	cfg := acceltest.Config(t, testCapacity)
	require.NoError(t, os.Remove(filepath.Join(cfg.BinaryDir, cfg.KernelBinary+".aocx")))

	s := accel.NewSession(cfg, rt, zaptest.NewLogger(t))
	err := s.Open()

	require.ErrorIs(t, err, accel.ErrProgramLoad)
	assert.ErrorIs(t, err, os.ErrNotExist)
	assert.Zero(t, rt.CallCount(acceltest.OpCreateProgram))
	assert.Equal(t, []string{acceltest.OpReleaseQueue, acceltest.OpReleaseCtx}, releaseCalls(rt.Calls()))
	assert.Empty(t, rt.Live())
}

func TestSession_KernelEntryPointAbsent(t *testing.T) {
	rt := acceltest.New(acceltest.WithKernels("some_other_kernel"))
	s := accel.NewSession(acceltest.Config(t, testCapacity), rt, zaptest.NewLogger(t))

	err := s.Open()
	require.ErrorIs(t, err, accel.ErrKernelNotFound)
	assert.Contains(t, err.Error(), "CL_INVALID_KERNEL_NAME")
	assert.Empty(t, rt.Live())
}

func TestSession_ReleaseIdempotent(t *testing.T) {
	rt := acceltest.New()
	s := accel.NewSession(acceltest.Config(t, testCapacity), rt, zaptest.NewLogger(t))
	require.NoError(t, s.Open())
	rt.ResetCalls()

	s.Release()
	assert.Equal(t, []string{
		acceltest.OpReleaseMem, acceltest.OpReleaseMem, acceltest.OpReleaseMem,
		acceltest.OpReleaseKernel, acceltest.OpReleaseProg, acceltest.OpReleaseQueue, acceltest.OpReleaseCtx,
	}, rt.Calls())

	s.Release()
	require.NoError(t, s.Close())
	assert.Len(t, rt.Calls(), 7)
	assert.Empty(t, rt.Live())
	assert.Empty(t, rt.Faults())
	assert.False(t, s.Ready())
}

func TestSession_ReleaseBeforeOpen(t *testing.T) {
	rt := acceltest.New()
	s := accel.NewSession(acceltest.Config(t, testCapacity), rt, zaptest.NewLogger(t))

	assert.NotPanics(t, s.Release)
	assert.Empty(t, rt.Calls())
}

func TestSession_ReleaseFailureIsNotFatal(t *testing.T) {
	s, rt := openSession(t, testCapacity)
	rt.FailOn(acceltest.OpReleaseKernel, nil)

	assert.NotPanics(t, s.Release)
	assert.False(t, s.Ready())
	assert.Equal(t, 1, rt.CallCount(acceltest.OpReleaseCtx))
}

func TestSession_DoubleOpenRejected(t *testing.T) {
	s, rt := openSession(t, testCapacity)

	err := s.Open()
	require.ErrorIs(t, err, accel.ErrAlreadyOpen)
	assert.Equal(t, 1, rt.Created(acceltest.KindContext))
	assert.True(t, s.Ready(), "rejected Open must not disturb the live session")
}

func TestSession_ReopenAfterRelease(t *testing.T) {
	s, rt := openSession(t, testCapacity)
	s.Release()

	require.NoError(t, s.Open())
	assert.Equal(t, 2, rt.Created(acceltest.KindContext))
	assert.Len(t, rt.Live(), 7)

	small := make([]uint32, s.Capacities().Small)
	large := make([]uint32, s.Capacities().Large)
	assert.NoError(t, s.Execute(make([]byte, testCapacity), small, large))
}

func TestSession_ExecuteNotReady(t *testing.T) {
	rt := acceltest.New()
	s := accel.NewSession(acceltest.Config(t, testCapacity), rt, zaptest.NewLogger(t))

	err := s.Execute([]byte{1, 2, 3}, make([]uint32, 1), make([]uint32, 3))
	assert.ErrorIs(t, err, accel.ErrNotReady)
	assert.Empty(t, rt.Calls())

	require.NoError(t, s.Open())
	s.Release()
	err = s.Execute([]byte{1, 2, 3}, make([]uint32, 1), make([]uint32, 3))
	assert.ErrorIs(t, err, accel.ErrNotReady)
}

func TestSession_ExecuteRejectsOversizedRequests(t *testing.T) {
	s, rt := openSession(t, testCapacity)
	caps := s.Capacities()

	testCases := []struct {
		name     string
		inputLen int
		smallLen int
		largeLen int
	}{
		{"input over capacity", caps.Input + 1, caps.Small, caps.Large},
		{"small over capacity", caps.Input, caps.Small + 1, caps.Large},
		{"large over capacity", caps.Input, caps.Small, caps.Large + 1},
		{"empty small output", caps.Input, 0, caps.Large},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			rt.ResetCalls()
			err := s.Execute(make([]byte, tc.inputLen), make([]uint32, tc.smallLen), make([]uint32, tc.largeLen))
			require.ErrorIs(t, err, accel.ErrCapacityExceeded)
			assert.Empty(t, rt.Calls(), "no device call may precede validation")
		})
	}
}

func TestSession_ExecuteOrdering(t *testing.T) {
	s, rt := openSession(t, testCapacity)
	rt.ResetCalls()

	input := make([]byte, testCapacity)
	for i := range input {
		input[i] = byte(i)
	}
	small := make([]uint32, 100)
	large := make([]uint32, 300)
	require.NoError(t, s.Execute(input, small, large))

	assert.Equal(t, []string{
		acceltest.OpWrite,
		acceltest.OpNDRange,
		acceltest.OpFinish,
		acceltest.OpRead,
		acceltest.OpRead,
	}, rt.Calls())
	assert.Empty(t, rt.Faults())

	wantSmall, wantLarge := reference(input, 100, 300)
	assert.Equal(t, wantSmall, small)
	assert.Equal(t, wantLarge, large)
}

func TestSession_ExecuteShortOutputs(t *testing.T) {
	s, _ := openSession(t, testCapacity)

	input := []byte("abcdefghijklmnopqrstuvwxyz0123456789")
	small := make([]uint32, 12)
	large := make([]uint32, 36)
	require.NoError(t, s.Execute(input, small, large))

	buf := make([]byte, testCapacity)
	copy(buf, input)
	wantSmall, wantLarge := reference(buf, 12, 36)
	assert.Equal(t, wantSmall, small)
	assert.Equal(t, wantLarge, large)
}

func TestSession_EmptyInputSkipsWrite(t *testing.T) {
	s, rt := openSession(t, testCapacity)
	rt.ResetCalls()

	require.NoError(t, s.Execute(nil, make([]uint32, 1), nil))
	assert.Equal(t, []string{acceltest.OpNDRange, acceltest.OpFinish, acceltest.OpRead}, rt.Calls())
}

func TestSession_NoStaleDataOnFullRewrite(t *testing.T) {
	s, _ := openSession(t, testCapacity)
	caps := s.Capacities()

	first := make([]byte, caps.Input)
	for i := range first {
		first[i] = 0xFF
	}
	second := make([]byte, caps.Input)
	for i := range second {
		second[i] = byte(i * 31)
	}

	small := make([]uint32, caps.Small)
	large := make([]uint32, caps.Large)
	require.NoError(t, s.Execute(first, small, large))
	require.NoError(t, s.Execute(second, small, large))

	wantSmall, wantLarge := reference(second, caps.Small, caps.Large)
	assert.Equal(t, wantSmall, small)
	assert.Equal(t, wantLarge, large)
}

func TestSession_MatchesCPUExecutor(t *testing.T) {
	s, _ := openSession(t, testCapacity)
	cpu := accel.NewCPUExecutor(acceltest.Config(t, testCapacity), zaptest.NewLogger(t))
	require.NoError(t, cpu.Initialize())
	defer cpu.Close()

	// A short second input leaves the tail of the first one in both
	// executors' input buffers.
	inputs := [][]byte{
		[]byte(strings.Repeat("offload", 50)[:testCapacity]),
		[]byte("short"),
	}
	for _, in := range inputs {
		gotSmall, gotLarge := make([]uint32, 100), make([]uint32, 300)
		wantSmall, wantLarge := make([]uint32, 100), make([]uint32, 300)

		require.NoError(t, s.Execute(in, gotSmall, gotLarge))
		require.NoError(t, cpu.Execute(in, wantSmall, wantLarge))
		assert.Equal(t, wantSmall, gotSmall)
		assert.Equal(t, wantLarge, gotLarge)
	}
}

func TestSession_TransferAndExecutionFailures(t *testing.T) {
	testCases := []struct {
		name    string
		op      string
		call    int
		wantErr error
	}{
		{"write", acceltest.OpWrite, 0, accel.ErrTransfer},
		{"dispatch", acceltest.OpNDRange, 0, accel.ErrExecution},
		{"drain", acceltest.OpFinish, 0, accel.ErrExecution},
		{"small read", acceltest.OpRead, 1, accel.ErrTransfer},
		{"large read", acceltest.OpRead, 2, accel.ErrTransfer},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			s, rt := openSession(t, testCapacity)
			rt.ResetCalls()
			rt.FailOnCall(tc.op, tc.call, nil)

			small := make([]uint32, 100)
			large := make([]uint32, 300)
			for i := range small {
				small[i] = 0xA5A5A5A5
			}
			for i := range large {
				large[i] = 0x5A5A5A5A
			}

			err := s.Execute(make([]byte, testCapacity), small, large)
			require.ErrorIs(t, err, tc.wantErr)

			for _, v := range small {
				require.Equal(t, uint32(0xA5A5A5A5), v, "small output must be untouched")
			}
			for _, v := range large {
				require.Equal(t, uint32(0x5A5A5A5A), v, "large output must be untouched")
			}

			// The session stays usable once the fault clears.
			rt.ClearFailures()
			assert.True(t, s.Ready())
			assert.NoError(t, s.Execute(make([]byte, testCapacity), small, large))
		})
	}
}

func TestSession_EndToEndDefaultCapacities(t *testing.T) {
	s, rt := openSession(t, 0)
	caps := s.Capacities()
	require.Equal(t, accel.Capacities{Input: 131072, Small: 43690, Large: 131070}, caps)

	input := make([]byte, caps.Input)
	small1, large1 := make([]uint32, caps.Small), make([]uint32, caps.Large)
	small2, large2 := make([]uint32, caps.Small), make([]uint32, caps.Large)

	require.NoError(t, s.Execute(input, small1, large1))
	require.NoError(t, s.Execute(input, small2, large2))

	assert.Len(t, small1, 43690)
	assert.Len(t, large1, 131070)
	assert.Equal(t, small1, small2)
	assert.Equal(t, large1, large2)
	assert.Empty(t, rt.Faults())
}
