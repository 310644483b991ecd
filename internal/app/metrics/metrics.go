package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry holds the application-specific Prometheus collectors.
	Registry = prometheus.NewRegistry()

	httpInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "library",
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "library",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"method", "path", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "library",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms to ~5s
		},
		[]string{"method", "path"},
	)

	loansCreated = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "library",
			Subsystem: "lending",
			Name:      "loans_created_total",
			Help:      "Total number of loans successfully created.",
		},
	)

	loansReturned = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "library",
			Subsystem: "lending",
			Name:      "loans_returned_total",
			Help:      "Total number of loans successfully returned.",
		},
	)

	policyDenials = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "library",
			Subsystem: "lending",
			Name:      "policy_denials_total",
			Help:      "Total number of borrow requests denied by lending policy.",
		},
	)

	overdueSweeps = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "library",
			Subsystem: "overdue",
			Name:      "sweep_runs_total",
			Help:      "Total number of overdue reconciliation sweeps executed.",
		},
	)

	overdueTransitions = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "library",
			Subsystem: "overdue",
			Name:      "transitions_total",
			Help:      "Total number of loans transitioned to OVERDUE.",
		},
	)
)

func init() {
	Registry.MustRegister(
		httpInFlight,
		httpRequests,
		httpDuration,
		loansCreated,
		loansReturned,
		policyDenials,
		overdueSweeps,
		overdueTransitions,
	)
}

// Handler exposes the registry for scraping.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// IncrementInFlight marks the start of an HTTP request.
func IncrementInFlight() { httpInFlight.Inc() }

// DecrementInFlight marks the end of an HTTP request.
func DecrementInFlight() { httpInFlight.Dec() }

// RecordHTTPRequest records one handled HTTP request.
func RecordHTTPRequest(method, path, status string, duration time.Duration) {
	httpRequests.WithLabelValues(method, path, status).Inc()
	httpDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordLoanCreated counts a successful loan creation.
func RecordLoanCreated() { loansCreated.Inc() }

// RecordLoanReturned counts a successful loan return.
func RecordLoanReturned() { loansReturned.Inc() }

// RecordPolicyDenial counts a borrow request denied by policy.
func RecordPolicyDenial() { policyDenials.Inc() }

// RecordOverdueSweep counts one sweep run and its transitions.
func RecordOverdueSweep(transitioned int) {
	overdueSweeps.Inc()
	overdueTransitions.Add(float64(transitioned))
}
