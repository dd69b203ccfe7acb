package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Metrics holds all Prometheus metric collectors for the quotedesk server.
type Metrics struct {
	registry *prometheus.Registry

	// HTTP metrics.
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Quote lifecycle.
	QuoteTransitionsTotal *prometheus.CounterVec

	// Per-request organization activation.
	OrgActivationsTotal *prometheus.CounterVec

	RateLimitRejectionsTotal *prometheus.CounterVec

	// Audit collector.
	AuditFlushesTotal   *prometheus.CounterVec
	AuditFlushDuration  prometheus.Histogram
	AuditEntriesFlushed prometheus.Counter

	// Auth metrics.
	AuthFailuresTotal  *prometheus.CounterVec
	AuthSuccessesTotal *prometheus.CounterVec

	ServerStartTime prometheus.Gauge
}

// New creates and registers all Prometheus metrics on a private registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		registry: reg,

		HTTPRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "quotedesk_http_requests_total",
			Help: "Total number of HTTP requests.",
		}, []string{"method", "path_pattern", "status_code"}),

		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "quotedesk_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path_pattern"}),

		QuoteTransitionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "quotedesk_quote_transitions_total",
			Help: "Quote status changes attempted, by trigger and outcome.",
		}, []string{"trigger", "outcome"}),

		OrgActivationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "quotedesk_org_activations_total",
			Help: "Organization activations, by outcome.",
		}, []string{"outcome"}),

		RateLimitRejectionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "quotedesk_ratelimit_rejections_total",
			Help: "Total number of rate limit rejections.",
		}, []string{"scope"}),

		AuditFlushesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "quotedesk_audit_flushes_total",
			Help: "Total number of audit collector flushes.",
		}, []string{"status"}),

		AuditFlushDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "quotedesk_audit_flush_duration_seconds",
			Help:    "Duration of audit flush operations in seconds.",
			Buckets: prometheus.DefBuckets,
		}),

		AuditEntriesFlushed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "quotedesk_audit_entries_flushed_total",
			Help: "Total number of audit entries written.",
		}),

		AuthFailuresTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "quotedesk_auth_failures_total",
			Help: "Total number of authentication failures.",
		}, []string{"auth_type"}),

		AuthSuccessesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "quotedesk_auth_successes_total",
			Help: "Total number of successful authentications.",
		}, []string{"auth_type"}),

		ServerStartTime: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "quotedesk_server_start_time_seconds",
			Help: "Unix timestamp when the server started.",
		}),
	}

	reg.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.QuoteTransitionsTotal,
		m.OrgActivationsTotal,
		m.RateLimitRejectionsTotal,
		m.AuditFlushesTotal,
		m.AuditFlushDuration,
		m.AuditEntriesFlushed,
		m.AuthFailuresTotal,
		m.AuthSuccessesTotal,
		m.ServerStartTime,
	)

	m.ServerStartTime.Set(float64(time.Now().Unix()))

	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	return m
}

// Registry returns the private Prometheus registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// RegisterDBPoolCollector registers a custom DB pool stats collector.
func (m *Metrics) RegisterDBPoolCollector(statFunc DBPoolStatFunc) {
	m.registry.MustRegister(NewDBPoolCollector(statFunc))
}

// RegisterAuditBuffer exposes the number of entries waiting in the audit
// collector.
func (m *Metrics) RegisterAuditBuffer(pending func() int) {
	m.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "quotedesk_audit_buffer_size",
		Help: "Current number of buffered audit entries.",
	}, func() float64 { return float64(pending()) }))
}

// ObserveHTTP records one served request.
func (m *Metrics) ObserveHTTP(method, pattern string, status int, took time.Duration) {
	m.HTTPRequestsTotal.WithLabelValues(method, pattern, strconv.Itoa(status)).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, pattern).Observe(took.Seconds())
}

// ObserveTransition counts one attempted quote status change.
func (m *Metrics) ObserveTransition(trigger, outcome string) {
	m.QuoteTransitionsTotal.WithLabelValues(trigger, outcome).Inc()
}

// ObserveActivation counts one organization activation.
func (m *Metrics) ObserveActivation(outcome string) {
	m.OrgActivationsTotal.WithLabelValues(outcome).Inc()
}

// ObserveAuditFlush matches the audit collector's flush observer.
func (m *Metrics) ObserveAuditFlush(count int, err error, took time.Duration) {
	status := "ok"
	if err != nil {
		status = "error"
	} else {
		m.AuditEntriesFlushed.Add(float64(count))
	}
	m.AuditFlushesTotal.WithLabelValues(status).Inc()
	m.AuditFlushDuration.Observe(took.Seconds())
}

// IncRateLimitRejection increments the rate limit rejection counter.
func (m *Metrics) IncRateLimitRejection(scope string) {
	m.RateLimitRejectionsTotal.WithLabelValues(scope).Inc()
}

// IncAuthFailure increments the auth failure counter for the given auth type.
func (m *Metrics) IncAuthFailure(authType string) {
	m.AuthFailuresTotal.WithLabelValues(authType).Inc()
}

// IncAuthSuccess increments the auth success counter for the given auth type.
func (m *Metrics) IncAuthSuccess(authType string) {
	m.AuthSuccessesTotal.WithLabelValues(authType).Inc()
}
