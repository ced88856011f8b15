package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "integra"

var (
	registerOnce sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests.",
		},
		[]string{"node", "method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"node", "method", "path", "status"},
	)
	framesSent = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "datalink",
			Name:      "frames_sent_total",
			Help:      "Frames written to the channel, retransmissions included.",
		},
		[]string{"link", "kind"},
	)
	framesReceived = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "datalink",
			Name:      "frames_received_total",
			Help:      "Frames decoded from the channel by outcome.",
		},
		[]string{"link", "kind", "outcome"},
	)
	retransmits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "datalink",
			Name:      "retransmits_total",
			Help:      "Data frames sent again after an ACK timeout.",
		},
		[]string{"link"},
	)
	noAcks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "datalink",
			Name:      "noack_total",
			Help:      "Sends that exhausted their retries.",
		},
		[]string{"link"},
	)
	transactions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "terminal",
			Name:      "requests_total",
			Help:      "Request submissions by result kind.",
		},
		[]string{"terminal", "type", "result"},
	)
	transactionDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "terminal",
			Name:      "transaction_duration_seconds",
			Help:      "Time from submission to correlated response.",
			Buckets:   []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120},
		},
		[]string{"terminal", "type"},
	)
	orphans = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "terminal",
			Name:      "orphan_responses_total",
			Help:      "Responses that matched no pending request.",
		},
		[]string{"terminal"},
	)
	statusUpdates = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "terminal",
			Name:      "status_updates_total",
			Help:      "Unsolicited status notifications delivered.",
		},
		[]string{"terminal"},
	)
	connected = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "connected",
			Help:      "1 while the session channel is connected.",
		},
		[]string{"terminal"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			httpRequests, httpDuration,
			framesSent, framesReceived, retransmits, noAcks,
			transactions, transactionDuration, orphans, statusUpdates,
			connected,
		)
	})
}

func RecordHTTPRequest(node, method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(node, method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(node, method, path, statusLabel).Observe(duration.Seconds())
}

func RecordFrameSent(link, kind string, retransmit bool) {
	RegisterMetrics()
	framesSent.WithLabelValues(link, kind).Inc()
	if retransmit {
		retransmits.WithLabelValues(link).Inc()
	}
}

// RecordFrameReceived counts an inbound frame; outcome is one of delivered,
// duplicate, checksum, malformed or matched/unmatched for ACKs.
func RecordFrameReceived(link, kind, outcome string) {
	RegisterMetrics()
	framesReceived.WithLabelValues(link, kind, outcome).Inc()
}

func RecordNoAck(link string) {
	RegisterMetrics()
	noAcks.WithLabelValues(link).Inc()
}

func RecordRequest(terminal, typ, result string) {
	RegisterMetrics()
	transactions.WithLabelValues(terminal, typ, result).Inc()
}

func RecordTransaction(terminal, typ string, duration time.Duration) {
	RegisterMetrics()
	transactionDuration.WithLabelValues(terminal, typ).Observe(duration.Seconds())
}

func RecordOrphan(terminal string) {
	RegisterMetrics()
	orphans.WithLabelValues(terminal).Inc()
}

func RecordStatusUpdate(terminal string) {
	RegisterMetrics()
	statusUpdates.WithLabelValues(terminal).Inc()
}

func SetConnected(terminal string, up bool) {
	RegisterMetrics()
	v := 0.0
	if up {
		v = 1
	}
	connected.WithLabelValues(terminal).Set(v)
}
