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
	EnvelopesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "zephyrmesh",
			Name:      "envelopes_total",
			Help:      "Envelopes handled, by direction (in|out) and payload type.",
		},
		[]string{"direction", "type"},
	)

	EventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "zephyrmesh",
			Name:      "events_total",
			Help:      "Events drained by the node event loop, by kind.",
		},
		[]string{"kind"},
	)

	HandleDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "zephyrmesh",
			Name:      "handle_duration_seconds",
			Help:      "Time spent handling one event.",
			// 10µs .. ~80ms
			Buckets: prometheus.ExponentialBuckets(0.00001, 2, 14),
		},
		[]string{"kind"},
	)

	ReplicaValues = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "zephyrmesh",
			Name:      "replica_values",
			Help:      "Number of values in the local replica set.",
		},
	)

	ReplicaBytes = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "zephyrmesh",
			Name:      "replica_bytes",
			Help:      "Encoded size of the values in the local replica set.",
		},
	)

	OutstandingDeliveries = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "zephyrmesh",
			Name:      "outstanding_deliveries",
			Help:      "Broadcasts sent to a neighbor and not yet acknowledged.",
		},
	)

	RetriesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "zephyrmesh",
			Name:      "broadcast_retries_total",
			Help:      "Broadcasts re-sent on a retry tick.",
		},
	)

	GossipRoundsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "zephyrmesh",
			Name:      "gossip_rounds_total",
			Help:      "Gossip ticks, by outcome (sent|skipped).",
		},
		[]string{"outcome"},
	)

	// ---- Admin HTTP ----
	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "zephyrmesh",
			Name:      "admin_requests_total",
			Help:      "Total number of admin HTTP requests.",
		},
		[]string{"op", "status"},
	)

	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "zephyrmesh",
			Name:      "admin_request_duration_seconds",
			Help:      "Latency of admin HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 13),
		},
		[]string{"op"},
	)

	InFlight = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "zephyrmesh",
			Name:      "admin_in_flight_requests",
			Help:      "Current number of in-flight admin HTTP requests.",
		},
		[]string{"op"},
	)

	// ---- Process / build info ----
	buildInfo = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "zephyrmesh",
			Name:      "build_info",
			Help:      "Build info (constant 1, labeled by version, git_sha and strategy).",
		},
		[]string{"version", "git_sha", "strategy"},
	)

	startTime = time.Now()
	uptime    = prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Namespace: "zephyrmesh",
			Name:      "uptime_seconds",
			Help:      "Process uptime in seconds.",
		},
		func() float64 { return time.Since(startTime).Seconds() },
	)
)

func init() {
	Registry.MustRegister(
		EnvelopesTotal, EventsTotal, HandleDuration,
		ReplicaValues, ReplicaBytes, OutstandingDeliveries, RetriesTotal, GossipRoundsTotal,
		RequestsTotal, RequestDuration, InFlight,
		buildInfo, uptime,
	)
}

// MetricsHandler exposes /metrics. Mount it with mux.Handle("/metrics", telemetry.MetricsHandler()).
func MetricsHandler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// SetBuildInfo should be called once at startup, e.g. with ldflags-provided values.
func SetBuildInfo(version, gitSHA, strategy string) {
	buildInfo.WithLabelValues(version, gitSHA, strategy).Set(1)
}

// ObserveEnvelope counts one envelope in direction "in" or "out".
func ObserveEnvelope(direction, typ string) {
	EnvelopesTotal.WithLabelValues(direction, typ).Inc()
}

// ---- Middleware instrumentation ----

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// Instrument wraps an http.Handler to record metrics under the provided "op" label.
// Example:
//
//	mux.Handle("/info", telemetry.Instrument("info", http.HandlerFunc(s.Info)))
func Instrument(op string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sw := &statusWriter{ResponseWriter: w, status: 200}
		start := time.Now()

		InFlight.WithLabelValues(op).Inc()
		defer InFlight.WithLabelValues(op).Dec()

		next.ServeHTTP(sw, r)

		class := strconv.Itoa(sw.status/100) + "xx"
		RequestsTotal.WithLabelValues(op, class).Inc()
		RequestDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	})
}
