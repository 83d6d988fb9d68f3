package observability

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	OutcomeSuccess = "success"
	OutcomeError   = "error"

	CallKindRequest      = "request"
	CallKindNotification = "notification"
)

var (
	registerOnce sync.Once

	clientCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "jrpc",
			Subsystem: "client",
			Name:      "calls_total",
			Help:      "Total JSON-RPC calls issued by the client.",
		},
		[]string{"method", "kind", "outcome", "error_kind"},
	)
	clientCallDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "jrpc",
			Subsystem: "client",
			Name:      "call_duration_seconds",
			Help:      "JSON-RPC call duration in seconds, including connect when needed.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "kind", "outcome"},
	)
	clientConnects = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "jrpc",
			Subsystem: "client",
			Name:      "connects_total",
			Help:      "Transport (re)connect attempts made by the client.",
		},
		[]string{"endpoint", "outcome"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(clientCalls, clientCallDuration, clientConnects)
	})
}

// RecordCall counts one finished call. errorKind is empty on success.
func RecordCall(method, kind, errorKind string, duration time.Duration) {
	RegisterMetrics()
	outcome := OutcomeSuccess
	if errorKind != "" {
		outcome = OutcomeError
	}
	clientCalls.WithLabelValues(method, kind, outcome, errorKind).Inc()
	clientCallDuration.WithLabelValues(method, kind, outcome).Observe(duration.Seconds())
}

func RecordConnect(endpoint string, success bool) {
	RegisterMetrics()
	outcome := OutcomeSuccess
	if !success {
		outcome = OutcomeError
	}
	clientConnects.WithLabelValues(endpoint, outcome).Inc()
}
