package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	EndpointResponses = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "endpoint_responses_total",
		Help: "The total number of endpoint responses",
	}, []string{"endpoint", "status_code"})

	RequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "hashfill_http_request_duration_seconds",
		Help:    "Duration of HTTP requests by endpoint",
		Buckets: prometheus.DefBuckets,
	}, []string{"endpoint"})

	// Transform metrics
	TransformDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "hashfill_transform_duration_ms",
		Help:    "Duration of one write/execute/read round trip in milliseconds",
		Buckets: prometheus.ExponentialBuckets(0.05, 2, 16), // 50us to ~1.6s
	}, []string{"backend"})

	TransformInputBytes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hashfill_transform_input_bytes_total",
		Help: "Total number of input bytes transformed",
	}, []string{"backend"})

	TransformFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hashfill_transform_failures_total",
		Help: "Total number of failed transforms by reason",
	}, []string{"backend", "reason"})

	// Session metrics
	SessionOpen = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "hashfill_session_open",
		Help: "1 while an executor holds device resources, 0 otherwise",
	})

	SessionOpenFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hashfill_session_open_failures_total",
		Help: "Total number of failed session openings by reason",
	}, []string{"reason"})

	BackendSelected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hashfill_backend_selected_total",
		Help: "Total number of executor selections by backend",
	}, []string{"backend"})
)
