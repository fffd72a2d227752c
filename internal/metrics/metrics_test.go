package metrics

import (
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTransformMetrics(t *testing.T) {
	t.Run("TransformDuration", func(t *testing.T) {
		TransformDuration.WithLabelValues("cpu").Observe(0.8)
		TransformDuration.WithLabelValues("cpu").Observe(1.6)

		// One series per backend label.
		assert.GreaterOrEqual(t, testutil.CollectAndCount(TransformDuration), 1)
	})

	t.Run("TransformInputBytes", func(t *testing.T) {
		before := testutil.ToFloat64(TransformInputBytes.WithLabelValues("opencl"))
		TransformInputBytes.WithLabelValues("opencl").Add(131072)
		assert.Equal(t, before+131072, testutil.ToFloat64(TransformInputBytes.WithLabelValues("opencl")))
	})

	t.Run("TransformFailures", func(t *testing.T) {
		before := testutil.ToFloat64(TransformFailures.WithLabelValues("opencl", "transfer"))
		TransformFailures.WithLabelValues("opencl", "transfer").Inc()
		assert.Equal(t, before+1, testutil.ToFloat64(TransformFailures.WithLabelValues("opencl", "transfer")))
	})

	t.Run("SessionOpen", func(t *testing.T) {
		SessionOpen.Set(1)
		assert.Equal(t, float64(1), testutil.ToFloat64(SessionOpen))
		SessionOpen.Set(0)
		assert.Equal(t, float64(0), testutil.ToFloat64(SessionOpen))
	})

	t.Run("SessionOpenFailures", func(t *testing.T) {
		before := testutil.ToFloat64(SessionOpenFailures.WithLabelValues("device_not_found"))
		SessionOpenFailures.WithLabelValues("device_not_found").Inc()
		assert.Equal(t, before+1, testutil.ToFloat64(SessionOpenFailures.WithLabelValues("device_not_found")))
	})
}

func TestMetricsRegistration(t *testing.T) {
	collectors := map[string]prometheus.Collector{
		"endpoint_responses_total":               EndpointResponses,
		"hashfill_http_request_duration_seconds": RequestDuration,
		"hashfill_transform_duration_ms":         TransformDuration,
		"hashfill_transform_input_bytes_total":   TransformInputBytes,
		"hashfill_transform_failures_total":      TransformFailures,
		"hashfill_session_open":                  SessionOpen,
		"hashfill_session_open_failures_total":   SessionOpenFailures,
		"hashfill_backend_selected_total":        BackendSelected,
	}

	for name, c := range collectors {
		err := prometheus.Register(c)
		var already prometheus.AlreadyRegisteredError
		assert.ErrorAs(t, err, &already, "%s should already be registered", name)
	}
}

func TestMiddleware(t *testing.T) {
	testCases := []struct {
		name       string
		handler    http.HandlerFunc
		wantStatus string
	}{
		{
			name:       "implicit ok",
			handler:    func(w http.ResponseWriter, r *http.Request) { _, _ = w.Write([]byte("ok")) },
			wantStatus: "200",
		},
		{
			name:       "explicit error",
			handler:    func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusRequestEntityTooLarge) },
			wantStatus: "413",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			endpoint := "/test/" + tc.wantStatus
			counter := EndpointResponses.WithLabelValues(endpoint, tc.wantStatus)
			before := testutil.ToFloat64(counter)
			seriesBefore := testutil.CollectAndCount(RequestDuration)

			rec := httptest.NewRecorder()
			Middleware(tc.handler, endpoint).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, endpoint, nil))

			require.Equal(t, tc.wantStatus, strconv.Itoa(rec.Code))
			assert.Equal(t, before+1, testutil.ToFloat64(counter))
			// Each case uses its own endpoint label, adding one duration series.
			assert.Equal(t, seriesBefore+1, testutil.CollectAndCount(RequestDuration))
		})
	}
}

func BenchmarkMetricsObservation(b *testing.B) {
	b.Run("ObserveDuration", func(b *testing.B) {
		for i := 0; i < b.N; i++ {
			TransformDuration.WithLabelValues("cpu").Observe(float64(i % 1000))
		}
	})

	b.Run("IncCounter", func(b *testing.B) {
		for i := 0; i < b.N; i++ {
			TransformFailures.WithLabelValues("cpu", "capacity").Inc()
		}
	})
}
