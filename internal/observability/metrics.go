package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "gazectl"

var (
	registerOnce sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP control requests.",
		},
		[]string{"node", "method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP control request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"node", "method", "path", "status"},
	)

	bytesReceived = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "tracker",
		Name:      "bytes_received_total",
		Help:      "Bytes read from the tracker connection.",
	})
	chunksReceived = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "tracker",
		Name:      "chunks_received_total",
		Help:      "Reads from the tracker connection that returned data.",
	})
	receiveTimeouts = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "tracker",
		Name:      "receive_timeouts_total",
		Help:      "Reads that hit the receive deadline without data.",
	})
	messages = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "tracker",
			Name:      "messages_total",
			Help:      "Parsed protocol messages by tag.",
		},
		[]string{"tag"},
	)
	malformed = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "tracker",
		Name:      "messages_malformed_total",
		Help:      "Lines that could not be parsed or never terminated.",
	})
	rowsWritten = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "tracker",
			Name:      "rows_written_total",
			Help:      "Rows written to an output sink.",
		},
		[]string{"sink"},
	)
	recordsDiscarded = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "tracker",
		Name:      "records_discarded_total",
		Help:      "Data records observed before calibration finished.",
	})
	calibrations = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "tracker",
		Name:      "calibrations_total",
		Help:      "Sessions that reached the calibrated state.",
	})
	sessionActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "tracker",
		Name:      "session_active",
		Help:      "1 while a tracking session is running.",
	})
	mirrorErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "mirror",
			Name:      "errors_total",
			Help:      "Failed writes to the live record mirror by operation.",
		},
		[]string{"op"},
	)
	pendingTail = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "tracker",
		Name:      "pending_tail_bytes",
		Help:      "Size of the unterminated partial line held between reads.",
	})
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			httpRequests, httpDuration,
			bytesReceived, chunksReceived, receiveTimeouts,
			messages, malformed, rowsWritten, recordsDiscarded,
			calibrations, sessionActive, pendingTail, mirrorErrors,
		)
	})
}

func RecordHTTPRequest(node, method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(node, method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(node, method, path, statusLabel).Observe(duration.Seconds())
}

func RecordChunk(n int) {
	RegisterMetrics()
	chunksReceived.Inc()
	bytesReceived.Add(float64(n))
}

func RecordReceiveTimeout() {
	RegisterMetrics()
	receiveTimeouts.Inc()
}

func RecordMessage(tag string) {
	RegisterMetrics()
	messages.WithLabelValues(tag).Inc()
}

func RecordMalformed() {
	RegisterMetrics()
	malformed.Inc()
}

func RecordRow(sink string) {
	RegisterMetrics()
	rowsWritten.WithLabelValues(sink).Inc()
}

func RecordDiscarded() {
	RegisterMetrics()
	recordsDiscarded.Inc()
}

func RecordCalibration() {
	RegisterMetrics()
	calibrations.Inc()
}

func SetSessionActive(active bool) {
	RegisterMetrics()
	if active {
		sessionActive.Set(1)
		return
	}
	sessionActive.Set(0)
}

func SetPendingTail(n int) {
	RegisterMetrics()
	pendingTail.Set(float64(n))
}

func RecordMirrorError(op string) {
	RegisterMetrics()
	mirrorErrors.WithLabelValues(op).Inc()
}
