package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// NinePMetrics provides observability for the 9P adapter.
//
// Implementations collect metrics about 9P messages, connection lifecycle,
// throughput, and rate limiting. The interface is optional - if not provided
// to the adapter, a no-op implementation is used with zero overhead.
//
// Example usage:
//
//	// With metrics enabled
//	m := metrics.NewNinePMetrics()
//	adapter := ninep.New(config, m)
//
//	// Without metrics (no-op)
//	adapter := ninep.New(config, nil)
type NinePMetrics interface {
	// RecordRequest records a completed 9P message with its type name
	// ("Twalk", "Tread", ...), duration, and outcome. The error is the
	// protocol-level failure: a request answered with Rerror counts as
	// an error even though the reply was delivered fine.
	RecordRequest(op string, duration time.Duration, err error)

	// RecordBytesTransferred records payload bytes moved by Tread ("read")
	// or Twrite ("write") messages.
	RecordBytesTransferred(direction string, bytes int64)

	// SetActiveConnections updates the current connection count.
	SetActiveConnections(count int32)

	// RecordConnectionAccepted increments the total accepted connections counter.
	RecordConnectionAccepted()

	// RecordConnectionClosed increments the total closed connections counter.
	RecordConnectionClosed()

	// RecordRateLimited increments the counter of messages rejected by the
	// request rate limiter.
	RecordRateLimited()
}

// ninepMetrics is the Prometheus implementation of NinePMetrics.
type ninepMetrics struct {
	requestsTotal       *prometheus.CounterVec
	requestDuration     *prometheus.HistogramVec
	bytesTransferred    *prometheus.CounterVec
	activeConnections   prometheus.Gauge
	connectionsAccepted prometheus.Counter
	connectionsClosed   prometheus.Counter
	rateLimited         prometheus.Counter
}

// NewNinePMetrics creates a new Prometheus-backed NinePMetrics instance.
//
// Returns a no-op implementation if metrics are not enabled (InitRegistry
// not called).
func NewNinePMetrics() NinePMetrics {
	if !IsEnabled() {
		return &noopNinePMetrics{}
	}

	reg := GetRegistry()

	return &ninepMetrics{
		requestsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "objectfs_ninep_requests_total",
				Help: "Total number of 9P messages by type and status",
			},
			[]string{"op", "status"},
		),
		requestDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name: "objectfs_ninep_request_duration_seconds",
				Help: "Duration of 9P message handling in seconds",
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
				Name: "objectfs_ninep_bytes_transferred_total",
				Help: "Total payload bytes transferred via 9P reads and writes",
			},
			[]string{"direction"}, // read or write
		),
		activeConnections: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Name: "objectfs_ninep_active_connections",
				Help: "Current number of active 9P connections",
			},
		),
		connectionsAccepted: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "objectfs_ninep_connections_accepted_total",
				Help: "Total number of 9P connections accepted",
			},
		),
		connectionsClosed: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "objectfs_ninep_connections_closed_total",
				Help: "Total number of 9P connections closed",
			},
		),
		rateLimited: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "objectfs_ninep_rate_limited_total",
				Help: "Total number of 9P messages rejected by the rate limiter",
			},
		),
	}
}

func (m *ninepMetrics) RecordRequest(op string, duration time.Duration, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}

	m.requestsTotal.WithLabelValues(op, status).Inc()
	m.requestDuration.WithLabelValues(op).Observe(duration.Seconds())
}

func (m *ninepMetrics) RecordBytesTransferred(direction string, bytes int64) {
	m.bytesTransferred.WithLabelValues(direction).Add(float64(bytes))
}

func (m *ninepMetrics) SetActiveConnections(count int32) {
	m.activeConnections.Set(float64(count))
}

func (m *ninepMetrics) RecordConnectionAccepted() {
	m.connectionsAccepted.Inc()
}

func (m *ninepMetrics) RecordConnectionClosed() {
	m.connectionsClosed.Inc()
}

func (m *ninepMetrics) RecordRateLimited() {
	m.rateLimited.Inc()
}

// noopNinePMetrics is a no-op implementation of NinePMetrics with zero overhead.
type noopNinePMetrics struct{}

func (noopNinePMetrics) RecordRequest(op string, duration time.Duration, err error) {}
func (noopNinePMetrics) RecordBytesTransferred(direction string, bytes int64)       {}
func (noopNinePMetrics) SetActiveConnections(count int32)                           {}
func (noopNinePMetrics) RecordConnectionAccepted()                                  {}
func (noopNinePMetrics) RecordConnectionClosed()                                    {}
func (noopNinePMetrics) RecordRateLimited()                                         {}
