package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Metrics holds all Prometheus metric collectors for the Roster API.
type Metrics struct {
	registry *prometheus.Registry

	// HTTP metrics.
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Membership metrics.
	MembershipChangesTotal *prometheus.CounterVec
	InvitesTotal           *prometheus.CounterVec

	// Billing metrics.
	WebhookEventsTotal *prometheus.CounterVec
	SeatSyncTotal      *prometheus.CounterVec
	SeatSyncDuration   prometheus.Histogram

	// Auth metrics.
	LoginCodesIssuedTotal prometheus.Counter
	AuthFailuresTotal     *prometheus.CounterVec
	AuthSuccessesTotal    *prometheus.CounterVec

	// Rate limiting.
	RateLimitRejectionsTotal *prometheus.CounterVec

	// Activity recorder.
	ActivityEventsTotal prometheus.Counter

	// Server lifecycle.
	ServerStartTime prometheus.Gauge
}

// New creates and registers all Prometheus metrics on a private registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		registry: reg,

		HTTPRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "roster_http_requests_total",
			Help: "Total number of HTTP requests.",
		}, []string{"method", "path_pattern", "status_code"}),

		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "roster_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path_pattern"}),

		MembershipChangesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "roster_membership_changes_total",
			Help: "Total number of membership mutations.",
		}, []string{"change"}),

		InvitesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "roster_invites_total",
			Help: "Total number of invite operations.",
		}, []string{"kind", "operation"}),

		WebhookEventsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "roster_billing_webhook_events_total",
			Help: "Total number of billing webhook events received.",
		}, []string{"type", "outcome"}),

		SeatSyncTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "roster_billing_seat_sync_total",
			Help: "Total number of seat quantity pushes to the billing provider.",
		}, []string{"outcome"}),

		SeatSyncDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "roster_billing_seat_sync_duration_seconds",
			Help:    "Duration of seat quantity pushes in seconds.",
			Buckets: prometheus.DefBuckets,
		}),

		LoginCodesIssuedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "roster_login_codes_issued_total",
			Help: "Total number of login codes issued.",
		}),

		AuthFailuresTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "roster_auth_failures_total",
			Help: "Total number of authentication failures.",
		}, []string{"auth_type"}),

		AuthSuccessesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "roster_auth_successes_total",
			Help: "Total number of successful authentications.",
		}, []string{"auth_type"}),

		RateLimitRejectionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "roster_ratelimit_rejections_total",
			Help: "Total number of rate limit rejections.",
		}, []string{"scope"}),

		ActivityEventsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "roster_activity_events_total",
			Help: "Total number of activity events recorded.",
		}),

		ServerStartTime: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "roster_server_start_time_seconds",
			Help: "Unix timestamp when the server started.",
		}),
	}

	reg.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.MembershipChangesTotal,
		m.InvitesTotal,
		m.WebhookEventsTotal,
		m.SeatSyncTotal,
		m.SeatSyncDuration,
		m.LoginCodesIssuedTotal,
		m.AuthFailuresTotal,
		m.AuthSuccessesTotal,
		m.RateLimitRejectionsTotal,
		m.ActivityEventsTotal,
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

// ObserveHTTPRequest records one served request.
func (m *Metrics) ObserveHTTPRequest(method, pathPattern string, statusCode int, seconds float64) {
	m.HTTPRequestsTotal.WithLabelValues(method, pathPattern, fmt.Sprintf("%d", statusCode)).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, pathPattern).Observe(seconds)
}

// IncMembershipChange increments the membership mutation counter.
// change is one of added, removed, role_changed.
func (m *Metrics) IncMembershipChange(change string) {
	m.MembershipChangesTotal.WithLabelValues(change).Inc()
}

// IncInvite increments the invite operation counter.
func (m *Metrics) IncInvite(kind, operation string) {
	m.InvitesTotal.WithLabelValues(kind, operation).Inc()
}

// IncWebhookEvent increments the webhook event counter.
func (m *Metrics) IncWebhookEvent(eventType, outcome string) {
	m.WebhookEventsTotal.WithLabelValues(eventType, outcome).Inc()
}

// ObserveSeatSync records one seat push attempt and its duration.
func (m *Metrics) ObserveSeatSync(outcome string, seconds float64) {
	m.SeatSyncTotal.WithLabelValues(outcome).Inc()
	m.SeatSyncDuration.Observe(seconds)
}

// IncAuthFailure increments the auth failure counter for the given auth type.
func (m *Metrics) IncAuthFailure(authType string) {
	m.AuthFailuresTotal.WithLabelValues(authType).Inc()
}

// IncAuthSuccess increments the auth success counter for the given auth type.
func (m *Metrics) IncAuthSuccess(authType string) {
	m.AuthSuccessesTotal.WithLabelValues(authType).Inc()
}

// IncRateLimitRejection increments the rate limit rejection counter.
func (m *Metrics) IncRateLimitRejection(scope string) {
	m.RateLimitRejectionsTotal.WithLabelValues(scope).Inc()
}
