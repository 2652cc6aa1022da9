package observability

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	registerOnce sync.Once

	sessionsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "tablesync",
			Subsystem: "session",
			Name:      "active",
			Help:      "Sessions currently held in memory.",
		},
	)
	participantsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "tablesync",
			Subsystem: "session",
			Name:      "participants",
			Help:      "Participants joined across all sessions.",
		},
	)
	entriesApplied = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tablesync",
			Subsystem: "store",
			Name:      "entries_total",
			Help:      "Client entries applied, by outcome.",
		},
		[]string{"outcome"},
	)
	resyncs = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "tablesync",
			Subsystem: "store",
			Name:      "resyncs_total",
			Help:      "Corrective full snapshots sent after a rejected write.",
		},
	)
	departures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tablesync",
			Subsystem: "session",
			Name:      "departures_total",
			Help:      "Participants removed from a session, by reason.",
		},
		[]string{"reason"},
	)
	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tablesync",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "tablesync",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			sessionsActive, participantsActive, entriesApplied, resyncs,
			departures, httpRequests, httpDuration,
		)
	})
}

// Handler serves the default registry.
func Handler() http.Handler {
	RegisterMetrics()
	return promhttp.Handler()
}

func SessionOpened() {
	RegisterMetrics()
	sessionsActive.Inc()
}

func SessionClosed() {
	RegisterMetrics()
	sessionsActive.Dec()
}

func ParticipantJoined() {
	RegisterMetrics()
	participantsActive.Inc()
}

// ParticipantLeft records a departure. reason is one of "leave", "timeout",
// "slow" or "shutdown".
func ParticipantLeft(reason string) {
	RegisterMetrics()
	participantsActive.Dec()
	departures.WithLabelValues(reason).Inc()
}

func RecordEntries(accepted, rejected int) {
	RegisterMetrics()
	if accepted > 0 {
		entriesApplied.WithLabelValues("accepted").Add(float64(accepted))
	}
	if rejected > 0 {
		entriesApplied.WithLabelValues("rejected").Add(float64(rejected))
	}
}

func RecordResync() {
	RegisterMetrics()
	resyncs.Inc()
}

func RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(method, path, statusLabel).Observe(duration.Seconds())
}
