package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/fxnlabs/hashfill/internal/accel"
	"go.uber.org/zap"
)

// Accelerator is the part of accel.Manager the handlers need.
type Accelerator interface {
	Execute(input []byte, small, large []uint32) error
	Capacities() accel.Capacities
	GetDeviceInfo() accel.DeviceInfo
	GetBackendType() string
}

// TransformResponse is returned by POST /v1/transform.
type TransformResponse struct {
	Backend    string   `json:"backend"`
	Small      []uint32 `json:"small"`
	Large      []uint32 `json:"large"`
	DurationMs float64  `json:"durationMs"`
}

// DeviceResponse is returned by GET /v1/device.
type DeviceResponse struct {
	Backend    string           `json:"backend"`
	Device     accel.DeviceInfo `json:"device"`
	Capacities accel.Capacities `json:"capacities"`
}

// TransformHandler fills both hash tables for the request body. The
// optional "small" and "large" query parameters choose the output lengths
// and default to the full capacities.
func TransformHandler(acc Accelerator, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.Header().Set("Allow", http.MethodPost)
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}

		caps := acc.Capacities()
		input, err := io.ReadAll(io.LimitReader(r.Body, int64(caps.Input)+1))
		if err != nil {
			http.Error(w, "Failed to read request body", http.StatusBadRequest)
			return
		}
		if len(input) > caps.Input {
			http.Error(w, fmt.Sprintf("Input exceeds %d bytes", caps.Input), http.StatusRequestEntityTooLarge)
			return
		}

		smallLen, err := lengthParam(r, "small", caps.Small)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if smallLen == 0 {
			http.Error(w, "small length must be at least 1", http.StatusBadRequest)
			return
		}
		largeLen, err := lengthParam(r, "large", caps.Large)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if smallLen > caps.Small || largeLen > caps.Large {
			http.Error(w, fmt.Sprintf("Output lengths exceed capacities %d/%d", caps.Small, caps.Large), http.StatusRequestEntityTooLarge)
			return
		}

		small := make([]uint32, smallLen)
		large := make([]uint32, largeLen)
		start := time.Now()
		if err := acc.Execute(input, small, large); err != nil {
			log.Warn("transform failed", zap.Int("input_bytes", len(input)), zap.Error(err))
			http.Error(w, err.Error(), statusFor(err))
			return
		}

		writeJSON(w, log, TransformResponse{
			Backend:    acc.GetBackendType(),
			Small:      small,
			Large:      large,
			DurationMs: float64(time.Since(start).Microseconds()) / 1000,
		})
	}
}

// DeviceHandler reports the active backend and its device.
func DeviceHandler(acc Accelerator, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, log, DeviceResponse{
			Backend:    acc.GetBackendType(),
			Device:     acc.GetDeviceInfo(),
			Capacities: acc.Capacities(),
		})
	}
}

func HealthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	_, _ = w.Write([]byte("ok"))
}

func lengthParam(r *http.Request, name string, def int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid %s length %q", name, raw)
	}
	return n, nil
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, accel.ErrCapacityExceeded):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, accel.ErrNotReady):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, log *zap.Logger, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warn("failed to write response", zap.Error(err))
	}
}
