// Package obs holds the Prometheus collectors shared by the HTTP gateway and the services.
package obs

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/orgkeep/backend/internal/apperr"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "route", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route", "status"},
	)

	sessionEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "session_events_total",
			Help: "Session manager operations by outcome.",
		},
		[]string{"operation", "outcome"},
	)

	organizationEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "organization_events_total",
			Help: "Organization operations by outcome.",
		},
		[]string{"operation", "outcome"},
	)

	partialFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "partial_failures_total",
			Help: "Multi-write operations left for reconciliation, by failed step.",
		},
		[]string{"step"},
	)

	reconcileJobsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reconcile_jobs_total",
			Help: "Reconciliation jobs processed by the worker, by outcome.",
		},
		[]string{"step", "outcome"},
	)

	initOnce sync.Once
)

// Init registers the collectors in the default registry. Safe to call more than once.
func Init() {
	initOnce.Do(func() {
		prometheus.MustRegister(
			httpRequestsTotal,
			httpRequestDuration,
			sessionEventsTotal,
			organizationEventsTotal,
			partialFailuresTotal,
			reconcileJobsTotal,
		)
	})
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveHTTP records one finished request.
func ObserveHTTP(method, route string, status int, elapsed time.Duration) {
	if route == "" {
		route = "unmatched"
	}
	code := strconv.Itoa(status)
	httpRequestDuration.WithLabelValues(method, route, code).Observe(elapsed.Seconds())
	httpRequestsTotal.WithLabelValues(method, route, code).Inc()
}

// SessionEvent records the outcome of a session manager operation.
func SessionEvent(operation string, err error) {
	sessionEventsTotal.WithLabelValues(operation, outcome(err)).Inc()
}

// OrganizationEvent records the outcome of an organization operation.
func OrganizationEvent(operation string, err error) {
	organizationEventsTotal.WithLabelValues(operation, outcome(err)).Inc()
}

// PartialFailure counts a multi-write operation handed to reconciliation.
func PartialFailure(step apperr.Step) {
	partialFailuresTotal.WithLabelValues(string(step)).Inc()
}

// ReconcileJob records the outcome of one reconciliation job.
func ReconcileJob(step string, err error) {
	reconcileJobsTotal.WithLabelValues(step, outcome(err)).Inc()
}

func outcome(err error) string {
	if err == nil {
		return "ok"
	}
	if kind := apperr.KindOf(err); kind != "" {
		return string(kind)
	}
	return "error"
}
