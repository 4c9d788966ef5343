package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "watchlink"

var (
	registerOnce sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
	frames = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "link",
			Name:      "frames_total",
			Help:      "Frames moved over the device link.",
		},
		[]string{"direction", "endpoint"},
	)
	frameBytes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "link",
			Name:      "payload_bytes_total",
			Help:      "Payload bytes moved over the device link.",
		},
		[]string{"direction"},
	)
	framesDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "link",
			Name:      "frames_dropped_total",
			Help:      "Inbound frames with no handler.",
		},
		[]string{"endpoint"},
	)
	framesRejected = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "link",
			Name:      "frames_rejected_total",
			Help:      "Frames rejected by the codec.",
		},
		[]string{"direction", "reason"},
	)
	connectAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "link",
			Name:      "connect_attempts_total",
			Help:      "Connection attempts by result.",
		},
		[]string{"result"},
	)
	connectionState = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "link",
			Name:      "connection_state",
			Help:      "Connection state (0 disconnected, 1 discovering, 2 connecting, 3 connected).",
		},
	)
	requestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "link",
			Name:      "request_duration_seconds",
			Help:      "Time from request write to correlated reply.",
			Buckets:   []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"endpoint", "result"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			httpRequests, httpDuration,
			frames, frameBytes, framesDropped, framesRejected,
			connectAttempts, connectionState, requestDuration,
		)
	})
}

func RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(method, path, statusLabel).Observe(duration.Seconds())
}

// RecordFrame counts one frame; direction is "in" or "out".
func RecordFrame(direction, endpoint string, payloadLen int) {
	RegisterMetrics()
	frames.WithLabelValues(direction, endpoint).Inc()
	frameBytes.WithLabelValues(direction).Add(float64(payloadLen))
}

func RecordDroppedFrame(endpoint string) {
	RegisterMetrics()
	framesDropped.WithLabelValues(endpoint).Inc()
}

func RecordRejectedFrame(direction, reason string) {
	RegisterMetrics()
	framesRejected.WithLabelValues(direction, reason).Inc()
}

func RecordConnectAttempt(success bool) {
	RegisterMetrics()
	result := "failure"
	if success {
		result = "success"
	}
	connectAttempts.WithLabelValues(result).Inc()
}

func SetConnectionState(state int) {
	RegisterMetrics()
	connectionState.Set(float64(state))
}

func RecordRequest(endpoint, result string, duration time.Duration) {
	RegisterMetrics()
	requestDuration.WithLabelValues(endpoint, result).Observe(duration.Seconds())
}
