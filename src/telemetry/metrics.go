package telemetry

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	Registry = prometheus.NewRegistry()

	// ---- Protocol ----

	MessagesIn = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "gabble",
			Name:      "messages_in_total",
			Help:      "Total number of inbound envelopes, by body type.",
		},
		[]string{"type"},
	)

	MessagesOut = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "gabble",
			Name:      "messages_out_total",
			Help:      "Total number of outbound envelopes, by body type.",
		},
		[]string{"type"},
	)

	DecodeFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "gabble",
			Name:      "decode_failures_total",
			Help:      "Total number of inbound lines dropped as undecodable.",
		},
	)

	HandleDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "gabble",
			Name:      "handle_duration_seconds",
			Help:      "Latency of message handlers.",
			// Handlers are in-memory state transitions: 0.1ms .. ~0.4s.
			Buckets: prometheus.ExponentialBuckets(0.0001, 2, 13),
		},
		[]string{"type"},
	)

	// ---- Gossip ----

	GossipRetries = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "gabble",
			Name:      "gossip_retries_total",
			Help:      "Total number of gossip re-sends after a missed acknowledgment deadline.",
		},
	)

	PendingReplies = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "gabble",
			Name:      "pending_replies",
			Help:      "Outstanding requests awaiting a reply or a timeout.",
		},
	)

	SetSize = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "gabble",
			Name:      "broadcast_set_size",
			Help:      "Number of distinct values in the replicated set.",
		},
	)

	// ---- HTTP service ----

	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "gabble",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests.",
		},
		[]string{"op", "status"},
	)

	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "gabble",
			Name:      "request_duration_seconds",
			Help:      "Latency of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 13),
		},
		[]string{"op"},
	)

	// ---- Process / build info ----

	buildInfo = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "gabble",
			Name:      "build_info",
			Help:      "Build info (constant 1, labeled by version and git_sha).",
		},
		[]string{"version", "git_sha"},
	)

	startTime = time.Now()
	uptime    = prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Namespace: "gabble",
			Name:      "uptime_seconds",
			Help:      "Process uptime in seconds.",
		},
		func() float64 { return time.Since(startTime).Seconds() },
	)
)

func init() {
	Registry.MustRegister(
		MessagesIn,
		MessagesOut,
		DecodeFailures,
		HandleDuration,
		GossipRetries,
		PendingReplies,
		SetSize,
		RequestsTotal,
		RequestDuration,
		buildInfo,
		uptime,
	)
}

// MetricsHandler exposes /metrics. Mount it with
// mux.Handle("/metrics", telemetry.MetricsHandler()).
func MetricsHandler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// SetBuildInfo should be called once at startup, e.g. with ldflags-provided
// values.
func SetBuildInfo(version, gitSHA string) {
	buildInfo.WithLabelValues(version, gitSHA).Set(1)
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// Instrument wraps an http.Handler to record metrics under the provided
// "op" label.
func Instrument(op string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sw := &statusWriter{ResponseWriter: w, status: 200}
		start := time.Now()

		next.ServeHTTP(sw, r)

		class := strconv.Itoa(sw.status/100) + "xx"
		RequestsTotal.WithLabelValues(op, class).Inc()
		RequestDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	})
}
