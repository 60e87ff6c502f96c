package observability

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	transfers = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "peerwire",
			Subsystem: "transfer",
			Name:      "exchanges_total",
			Help:      "Completed payload exchanges by protocol, direction, and outcome.",
		},
		[]string{"protocol", "direction", "outcome"},
	)
	transferBytes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "peerwire",
			Subsystem: "transfer",
			Name:      "payload_bytes_total",
			Help:      "Payload bytes received, by protocol and direction.",
		},
		[]string{"protocol", "direction"},
	)
	transferDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "peerwire",
			Subsystem: "transfer",
			Name:      "duration_seconds",
			Help:      "Connection lifetime from register to close.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"protocol", "direction", "outcome"},
	)
	activeConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "peerwire",
			Subsystem: "conn",
			Name:      "active",
			Help:      "Connections currently registered with a manager loop.",
		},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(transfers, transferBytes, transferDuration, activeConnections)
	})
}

func RecordTransfer(protocol, direction, outcome string, bytes int64, duration time.Duration) {
	RegisterMetrics()
	if protocol == "" {
		protocol = "unresolved"
	}
	transfers.WithLabelValues(protocol, direction, outcome).Inc()
	transferBytes.WithLabelValues(protocol, direction).Add(float64(bytes))
	transferDuration.WithLabelValues(protocol, direction, outcome).Observe(duration.Seconds())
}

func ConnectionOpened() {
	RegisterMetrics()
	activeConnections.Inc()
}

func ConnectionClosed() {
	RegisterMetrics()
	activeConnections.Dec()
}
