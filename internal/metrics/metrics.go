// Package metrics holds the gateway-wide Prometheus collectors shared by
// the prometheus plugin and the prometheusExporter endpoint.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registry = prometheus.NewRegistry()

	requestsCount = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "requests_count",
			Help: "total request count (since start of service)",
		},
		[]string{"request_method", "request_path", "response_status_code"},
	)

	errorsCount = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "errors_count",
			Help: "failed request count (since start of service)",
		},
		[]string{"request_method", "request_path", "response_status_code"},
	)

	requestDurationMs = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "request_duration_ms",
			Help:    "request duration histogram (in milliseconds, since start of service)",
			Buckets: []float64{1, 2.5, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000},
		},
		[]string{"request_method", "request_path", "response_status_code"},
	)
)

func init() {
	registry.MustRegister(requestsCount, errorsCount, requestDurationMs)
}

// Registry returns the gateway's metrics registry.
func Registry() *prometheus.Registry {
	return registry
}

// RecordRequest records one completed request.
func RecordRequest(method, path string, status int, duration time.Duration) {
	labels := prometheus.Labels{
		"request_method":       method,
		"request_path":         path,
		"response_status_code": strconv.Itoa(status),
	}
	requestsCount.With(labels).Inc()
	if status >= 500 {
		errorsCount.With(labels).Inc()
	}
	requestDurationMs.With(labels).Observe(float64(duration) / float64(time.Millisecond))
}
