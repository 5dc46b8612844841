package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	DirectionRx = "rx"
	DirectionTx = "tx"
)

var (
	registerOnce sync.Once

	serialBytes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "railbridge",
			Subsystem: "serial",
			Name:      "bytes_total",
			Help:      "Bytes moved over the serial link.",
		},
		[]string{"direction"},
	)
	framesDecoded = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "railbridge",
			Subsystem: "frame",
			Name:      "decoded_total",
			Help:      "Complete wire frames decoded from the serial stream.",
		},
		[]string{"type"},
	)
	framingErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "railbridge",
			Subsystem: "frame",
			Name:      "errors_total",
			Help:      "Framing errors that forced a resynchronization.",
		},
		[]string{"reason"},
	)
	messagesForwarded = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "railbridge",
			Subsystem: "bridge",
			Name:      "forwarded_total",
			Help:      "Messages translated and forwarded across the bridge.",
		},
		[]string{"direction", "type"},
	)
	messagesDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "railbridge",
			Subsystem: "bridge",
			Name:      "dropped_total",
			Help:      "Messages dropped by the bridge.",
		},
		[]string{"direction", "reason"},
	)
	sessions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "railbridge",
			Subsystem: "bridge",
			Name:      "sessions_total",
			Help:      "Bridge sessions by outcome.",
		},
		[]string{"outcome"},
	)
	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "railbridge",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total admin HTTP requests.",
		},
		[]string{"node", "method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "railbridge",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Admin HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"node", "method", "path", "status"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			serialBytes,
			framesDecoded,
			framingErrors,
			messagesForwarded,
			messagesDropped,
			sessions,
			httpRequests,
			httpDuration,
		)
	})
}

func RecordSerialBytes(direction string, n int) {
	RegisterMetrics()
	serialBytes.WithLabelValues(direction).Add(float64(n))
}

func RecordFrameDecoded(msgType string) {
	RegisterMetrics()
	framesDecoded.WithLabelValues(msgType).Inc()
}

func RecordFramingError(reason string) {
	RegisterMetrics()
	framingErrors.WithLabelValues(reason).Inc()
}

func RecordForwarded(direction, msgType string) {
	RegisterMetrics()
	messagesForwarded.WithLabelValues(direction, msgType).Inc()
}

func RecordDropped(direction, reason string) {
	RegisterMetrics()
	messagesDropped.WithLabelValues(direction, reason).Inc()
}

func RecordSession(outcome string) {
	RegisterMetrics()
	sessions.WithLabelValues(outcome).Inc()
}

func RecordHTTPRequest(node, method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(node, method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(node, method, path, statusLabel).Observe(duration.Seconds())
}
