package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// FUSEMetrics provides observability for the FUSE adapter.
//
// Implementations collect metrics about kernel filesystem operations and
// throughput. The interface is optional - if not provided to the adapter,
// a no-op implementation is used with zero overhead.
type FUSEMetrics interface {
	// RecordRequest records a completed kernel operation with its name
	// ("lookup", "read", "flush", ...), duration, and outcome.
	RecordRequest(op string, duration time.Duration, err error)

	// RecordBytesTransferred records payload bytes moved by read ("read")
	// or write ("write") operations.
	RecordBytesTransferred(direction string, bytes int64)
}

// fuseMetrics is the Prometheus implementation of FUSEMetrics.
type fuseMetrics struct {
	requestsTotal    *prometheus.CounterVec
	requestDuration  *prometheus.HistogramVec
	bytesTransferred *prometheus.CounterVec
}

// NewFUSEMetrics creates a new Prometheus-backed FUSEMetrics instance.
//
// Returns a no-op implementation if metrics are not enabled (InitRegistry
// not called).
func NewFUSEMetrics() FUSEMetrics {
	if !IsEnabled() {
		return &noopFUSEMetrics{}
	}

	reg := GetRegistry()

	return &fuseMetrics{
		requestsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "objectfs_fuse_requests_total",
				Help: "Total number of FUSE operations by name and status",
			},
			[]string{"op", "status"},
		),
		requestDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name: "objectfs_fuse_request_duration_seconds",
				Help: "Duration of FUSE operation handling in seconds",
				Buckets: []float64{
					0.0001, // 100us
					0.0005, // 500us
					0.001,  // 1ms
					0.005,  // 5ms
					0.01,   // 10ms
					0.05,   // 50ms
					0.1,    // 100ms
					0.5,    // 500ms
					1.0,    // 1s
				},
			},
			[]string{"op"},
		),
		bytesTransferred: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "objectfs_fuse_bytes_transferred_total",
				Help: "Total payload bytes transferred via FUSE reads and writes",
			},
			[]string{"direction"}, // read or write
		),
	}
}

func (m *fuseMetrics) RecordRequest(op string, duration time.Duration, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}

	m.requestsTotal.WithLabelValues(op, status).Inc()
	m.requestDuration.WithLabelValues(op).Observe(duration.Seconds())
}

func (m *fuseMetrics) RecordBytesTransferred(direction string, bytes int64) {
	m.bytesTransferred.WithLabelValues(direction).Add(float64(bytes))
}

// noopFUSEMetrics is a no-op implementation of FUSEMetrics with zero overhead.
type noopFUSEMetrics struct{}

func (noopFUSEMetrics) RecordRequest(op string, duration time.Duration, err error) {}
func (noopFUSEMetrics) RecordBytesTransferred(direction string, bytes int64)       {}
