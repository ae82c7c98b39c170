package utils

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Tracks performance metrics across the system
type MetricsCollector struct {
	registry *prometheus.Registry

	requests          *prometheus.CounterVec
	votes             *prometheus.CounterVec
	voteLatency       *prometheus.HistogramVec
	conflictRetries   prometheus.Counter
	achievements      *prometheus.CounterVec
	notifications     *prometheus.CounterVec
	broadcastFailures *prometheus.CounterVec
	sessions          prometheus.Gauge

	systemStartTime time.Time
}

// NewMetricsCollector builds a collector on its own registry so several
// instances (one per test server) never collide.
func NewMetricsCollector() *MetricsCollector {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	factory := promauto.With(reg)

	return &MetricsCollector{
		registry: reg,
		requests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "forum_http_requests_total",
			Help: "HTTP requests by route and status class",
		}, []string{"route", "status"}),
		votes: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "forum_votes_total",
			Help: "Votes processed by entity kind and outcome",
		}, []string{"kind", "outcome"}),
		voteLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "forum_vote_duration_seconds",
			Help:    "End-to-end castVote latency",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		}, []string{"kind"}),
		conflictRetries: factory.NewCounter(prometheus.CounterOpts{
			Name: "forum_vote_conflict_retries_total",
			Help: "Optimistic commits retried after a conflict",
		}),
		achievements: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "forum_achievements_unlocked_total",
			Help: "Achievements granted by name",
		}, []string{"name"}),
		notifications: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "forum_notifications_total",
			Help: "Notification records persisted, split by live delivery",
		}, []string{"delivery"}),
		broadcastFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "forum_broadcast_failures_total",
			Help: "Best-effort pushes that failed",
		}, []string{"event"}),
		sessions: factory.NewGauge(prometheus.GaugeOpts{
			Name: "forum_connected_sessions",
			Help: "Socket sessions currently registered",
		}),
		systemStartTime: time.Now(),
	}
}

func (mc *MetricsCollector) IncrementRequests(route string, status int) {
	mc.requests.WithLabelValues(route, statusClass(status)).Inc()
}

func (mc *MetricsCollector) ObserveVote(kind, outcome string, duration time.Duration) {
	mc.votes.WithLabelValues(kind, outcome).Inc()
	mc.voteLatency.WithLabelValues(kind).Observe(duration.Seconds())
}

func (mc *MetricsCollector) IncrementConflictRetries() {
	mc.conflictRetries.Inc()
}

func (mc *MetricsCollector) IncrementAchievement(name string) {
	mc.achievements.WithLabelValues(name).Inc()
}

func (mc *MetricsCollector) IncrementNotifications(delivered bool) {
	delivery := "stored"
	if delivered {
		delivery = "live"
	}
	mc.notifications.WithLabelValues(delivery).Inc()
}

func (mc *MetricsCollector) IncrementBroadcastFailures(event string) {
	mc.broadcastFailures.WithLabelValues(event).Inc()
}

func (mc *MetricsCollector) SetConnectedSessions(n int) {
	mc.sessions.Set(float64(n))
}

// Uptime reports how long the collector has existed.
func (mc *MetricsCollector) Uptime() time.Duration {
	return time.Since(mc.systemStartTime)
}

// Registry exposes the underlying registry, mainly for tests.
func (mc *MetricsCollector) Registry() *prometheus.Registry {
	return mc.registry
}

// Handler serves the collector in the Prometheus text format.
func (mc *MetricsCollector) Handler() http.Handler {
	return promhttp.HandlerFor(mc.registry, promhttp.HandlerOpts{})
}

func statusClass(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}
