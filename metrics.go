package auth

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsRecorder receives session and guard measurements
type MetricsRecorder interface {
	RecordSignIn(outcome string)
	RecordResolution(outcome string, duration time.Duration)
	RecordGuardDecision(state GuardState)
	SetActiveSessions(n int)
}

// PrometheusMetrics records to prometheus collectors
type PrometheusMetrics struct {
	signIns        *prometheus.CounterVec
	resolutions    *prometheus.CounterVec
	resolveLatency prometheus.Histogram
	guardDecisions *prometheus.CounterVec
	activeSessions prometheus.Gauge
}

var _ MetricsRecorder = (*PrometheusMetrics)(nil)

// NewPrometheusMetrics creates the collectors and registers them with reg
func NewPrometheusMetrics(reg prometheus.Registerer) *PrometheusMetrics {
	m := &PrometheusMetrics{
		signIns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "crypt_auth_sign_in_total",
			Help: "Sign in attempts by outcome",
		}, []string{"outcome"}),
		resolutions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "crypt_auth_profile_resolution_total",
			Help: "Profile resolutions by outcome",
		}, []string{"outcome"}),
		resolveLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "crypt_auth_profile_resolution_seconds",
			Help:    "Profile resolution latency in seconds",
			Buckets: prometheus.DefBuckets,
		}),
		guardDecisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "crypt_auth_guard_decision_total",
			Help: "Route guard decisions by state",
		}, []string{"state"}),
		activeSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "crypt_auth_active_sessions",
			Help: "Client sessions currently held in memory",
		}),
	}

	reg.MustRegister(
		m.signIns,
		m.resolutions,
		m.resolveLatency,
		m.guardDecisions,
		m.activeSessions,
	)

	return m
}

func (m *PrometheusMetrics) RecordSignIn(outcome string) {
	m.signIns.WithLabelValues(outcome).Inc()
}

func (m *PrometheusMetrics) RecordResolution(outcome string, duration time.Duration) {
	m.resolutions.WithLabelValues(outcome).Inc()
	m.resolveLatency.Observe(duration.Seconds())
}

func (m *PrometheusMetrics) RecordGuardDecision(state GuardState) {
	m.guardDecisions.WithLabelValues(state.String()).Inc()
}

func (m *PrometheusMetrics) SetActiveSessions(n int) {
	m.activeSessions.Set(float64(n))
}

type noopMetrics struct{}

func (noopMetrics) RecordSignIn(string) {}
func (noopMetrics) RecordResolution(string, time.Duration) {}
func (noopMetrics) RecordGuardDecision(GuardState) {}
func (noopMetrics) SetActiveSessions(int) {}

func normalizeMetrics(m MetricsRecorder) MetricsRecorder {
	if m == nil {
		return noopMetrics{}
	}
	return m
}

// MetricsHandler serves gatherer for prometheus scrapes
func MetricsHandler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
