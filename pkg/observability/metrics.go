package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the gatekeeper service
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Session resolution metrics
	ResolutionsTotal       *prometheus.CounterVec
	RoleLookupErrorsTotal  *prometheus.CounterVec
	MirrorMismatchesTotal  prometheus.Counter

	// Verification workflow metrics
	ApplicationsTotal *prometheus.CounterVec
	DecisionsTotal    *prometheus.CounterVec

	// Disclosure broker metrics
	DisclosuresTotal       *prometheus.CounterVec
	DisclosureErrorsTotal  *prometheus.CounterVec

	// Reconciler metrics
	ReconcileRunsTotal    prometheus.Counter
	ReconcileRepairsTotal *prometheus.CounterVec

	// Database metrics
	DBConnectionsActive prometheus.Gauge
	DBConnectionsIdle   prometheus.Gauge
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gatekeeper_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "gatekeeper_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		ResolutionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gatekeeper_resolutions_total",
				Help: "Total number of session resolutions",
			},
			[]string{"outcome"}, // resolved, anonymous, invalid, degraded
		),
		RoleLookupErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gatekeeper_role_lookup_errors_total",
				Help: "Role source read failures by source",
			},
			[]string{"source"}, // admin_registry, role_assignments
		),
		MirrorMismatchesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "gatekeeper_mirror_mismatches_total",
				Help: "Detected divergences between role registry and profile mirror",
			},
		),
		ApplicationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gatekeeper_verification_applications_total",
				Help: "Verification applications by outcome",
			},
			[]string{"outcome"}, // submitted, duplicate
		),
		DecisionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gatekeeper_verification_decisions_total",
				Help: "Verification decisions by result",
			},
			[]string{"decision"}, // approved, rejected
		),
		DisclosuresTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gatekeeper_disclosures_total",
				Help: "Document URL issuances by outcome",
			},
			[]string{"outcome"}, // issued, forbidden
		),
		DisclosureErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gatekeeper_disclosure_errors_total",
				Help: "Disclosure broker failures by kind",
			},
			[]string{"kind"}, // storage, other
		),
		ReconcileRunsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "gatekeeper_reconcile_runs_total",
				Help: "Reconciliation passes executed",
			},
		),
		ReconcileRepairsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gatekeeper_reconcile_repairs_total",
				Help: "Reconciliation repairs by kind",
			},
			[]string{"kind"}, // missing_grant, mirror_drift
		),
		DBConnectionsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "gatekeeper_db_connections_active",
				Help: "Active database connections",
			},
		),
		DBConnectionsIdle: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "gatekeeper_db_connections_idle",
				Help: "Idle database connections",
			},
		),
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.ResolutionsTotal,
		m.RoleLookupErrorsTotal,
		m.MirrorMismatchesTotal,
		m.ApplicationsTotal,
		m.DecisionsTotal,
		m.DisclosuresTotal,
		m.DisclosureErrorsTotal,
		m.ReconcileRunsTotal,
		m.ReconcileRepairsTotal,
		m.DBConnectionsActive,
		m.DBConnectionsIdle,
	)

	return m
}

// Handler returns the Prometheus metrics HTTP handler for a registry
func Handler(registry *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}

// HTTPMiddleware records request counts and durations
func (m *Metrics) HTTPMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		rw := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rw, r)

		duration := time.Since(start).Seconds()
		m.HTTPRequestsTotal.WithLabelValues(r.Method, r.URL.Path, strconv.Itoa(rw.status)).Inc()
		m.HTTPRequestDuration.WithLabelValues(r.Method, r.URL.Path).Observe(duration)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}
