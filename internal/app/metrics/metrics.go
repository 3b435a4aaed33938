package metrics

import (
	"bufio"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry holds the application-specific Prometheus collectors.
	Registry = prometheus.NewRegistry()

	httpInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "paywall",
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "paywall",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"method", "path", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "paywall",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms to ~5s
		},
		[]string{"method", "path"},
	)

	visibilityDecisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "paywall",
			Subsystem: "access",
			Name:      "decisions_total",
			Help:      "Visibility decisions by result.",
		},
		[]string{"result"},
	)

	unlockOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "paywall",
			Subsystem: "unlock",
			Name:      "outcomes_total",
			Help:      "Unlock attempts by outcome status and reason.",
		},
		[]string{"status", "reason"},
	)

	unlockDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "paywall",
			Subsystem: "unlock",
			Name:      "duration_seconds",
			Help:      "End-to-end duration of unlock attempts.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12), // 5ms to ~20s
		},
		[]string{"status"},
	)

	settlementDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "paywall",
			Subsystem: "settlement",
			Name:      "duration_seconds",
			Help:      "Duration of settlement calls.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
		},
		[]string{"result"},
	)

	recordWriteFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "paywall",
			Subsystem: "unlock",
			Name:      "record_write_failures_total",
			Help:      "Settled payments whose purchase record could not be written.",
		},
	)

	duplicateSettlements = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "paywall",
			Subsystem: "unlock",
			Name:      "duplicate_settlements_total",
			Help:      "Settlements that lost the race to record a purchase and need a refund.",
		},
	)

	reconcileRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "paywall",
			Subsystem: "reconcile",
			Name:      "entries_total",
			Help:      "Journal entries processed by the reconciler, by result.",
		},
		[]string{"result"},
	)

	reconcilePending = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "paywall",
			Subsystem: "reconcile",
			Name:      "pending_entries",
			Help:      "Unresolved entries in the reconciliation journal.",
		},
	)

	feedSubscribers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "paywall",
			Subsystem: "feed",
			Name:      "subscribers",
			Help:      "Connected realtime feed clients.",
		},
	)
)

func init() {
	Registry.MustRegister(
		httpInFlight,
		httpRequests,
		httpDuration,
		visibilityDecisions,
		unlockOutcomes,
		unlockDuration,
		settlementDuration,
		recordWriteFailures,
		duplicateSettlements,
		reconcileRuns,
		reconcilePending,
		feedSubscribers,
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)
}

// Handler returns an HTTP handler exposing the registered Prometheus metrics.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// InstrumentHandler wraps the provided handler with HTTP metrics collection.
func InstrumentHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		httpInFlight.Inc()
		defer httpInFlight.Dec()

		next.ServeHTTP(rec, r)

		path := canonicalPath(r.URL.Path)
		method := strings.ToUpper(r.Method)

		httpRequests.WithLabelValues(method, path, strconv.Itoa(rec.status)).Inc()
		httpDuration.WithLabelValues(method, path).Observe(time.Since(start).Seconds())
	})
}

// RecordVisibility counts one access decision.
func RecordVisibility(result string) {
	visibilityDecisions.WithLabelValues(result).Inc()
}

// RecordUnlock records the outcome of an unlock attempt.
func RecordUnlock(status, reason string, duration time.Duration) {
	if reason == "" {
		reason = "none"
	}
	unlockOutcomes.WithLabelValues(status, reason).Inc()
	unlockDuration.WithLabelValues(status).Observe(duration.Seconds())
}

// RecordSettlement records a settlement call. result is ok, declined or error.
func RecordSettlement(result string, duration time.Duration) {
	settlementDuration.WithLabelValues(result).Observe(duration.Seconds())
}

// RecordWriteFailure counts a settled payment that was not recorded.
func RecordWriteFailure() {
	recordWriteFailures.Inc()
}

// RecordDuplicateSettlement counts a settlement that lost the recording race.
func RecordDuplicateSettlement() {
	duplicateSettlements.Inc()
}

// RecordReconcile counts processed journal entries and the remaining backlog.
func RecordReconcile(resolved, failed, pending int) {
	reconcileRuns.WithLabelValues("resolved").Add(float64(resolved))
	reconcileRuns.WithLabelValues("failed").Add(float64(failed))
	reconcilePending.Set(float64(pending))
}

// FeedSubscriberConnected adjusts the realtime subscriber gauge by delta.
func FeedSubscriberConnected(delta int) {
	feedSubscribers.Add(float64(delta))
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	return r.ResponseWriter.Write(b)
}

func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not support hijacking")
	}
	r.status = http.StatusSwitchingProtocols
	return hj.Hijack()
}

// canonicalPath collapses identifiers so label cardinality stays bounded:
// /api/posts/abc/unlock becomes /api/posts/:id/unlock.
func canonicalPath(raw string) string {
	trimmed := strings.Trim(raw, "/")
	if trimmed == "" {
		return "/"
	}
	parts := strings.Split(trimmed, "/")
	if parts[0] != "api" || len(parts) < 3 {
		return "/" + trimmed
	}
	switch parts[1] {
	case "posts", "users":
	default:
		return "/" + trimmed
	}
	switch parts[2] {
	case "me", "nonce", "wallet":
	case "by-username":
		if len(parts) > 3 {
			parts[3] = ":name"
		}
	default:
		parts[2] = ":id"
	}
	return "/" + strings.Join(parts, "/")
}
