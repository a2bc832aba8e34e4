// Package metrics holds the Prometheus collectors of the chat service.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups every collector. A nil *Metrics is valid and records nothing.
type Metrics struct {
	Registry *prometheus.Registry

	SearchAttempts   *prometheus.CounterVec
	PairingConflicts *prometheus.CounterVec
	SessionsStarted  prometheus.Counter
	SessionsEnded    prometheus.Counter
	MessagesSent     prometheus.Counter
	PublishFailures  prometheus.Counter
	DeliveryMode     *prometheus.CounterVec
	Subscribers      prometheus.Gauge
	HTTPRequests     *prometheus.CounterVec
	HTTPDuration     *prometheus.HistogramVec
}

// New creates the collectors on a private registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		Registry: reg,
		SearchAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "randomchat_search_attempts_total",
			Help: "StartSearch calls by outcome (matched, queued, resumed, error).",
		}, []string{"outcome"}),
		PairingConflicts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "randomchat_pairing_conflicts_total",
			Help: "Pairing attempts lost to a concurrent writer, by reason.",
		}, []string{"reason"}),
		SessionsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "randomchat_sessions_started_total",
			Help: "Chat sessions created by the matchmaker.",
		}),
		SessionsEnded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "randomchat_sessions_ended_total",
			Help: "Chat sessions moved to ended.",
		}),
		MessagesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "randomchat_messages_sent_total",
			Help: "Messages appended to the message log.",
		}),
		PublishFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "randomchat_publish_failures_total",
			Help: "Push notifications that could not be published.",
		}),
		DeliveryMode: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "randomchat_delivery_mode_switches_total",
			Help: "Delivery switches into push or poll mode.",
		}, []string{"mode"}),
		Subscribers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "randomchat_ws_subscribers",
			Help: "Connected WebSocket subscribers on this instance.",
		}),
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "randomchat_http_requests_total",
			Help: "HTTP requests by route and status.",
		}, []string{"method", "route", "status"}),
		HTTPDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "randomchat_http_request_duration_seconds",
			Help:    "HTTP request latency by route.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.SearchAttempts, m.PairingConflicts, m.SessionsStarted, m.SessionsEnded,
		m.MessagesSent, m.PublishFailures, m.DeliveryMode, m.Subscribers,
		m.HTTPRequests, m.HTTPDuration,
	)
	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}

func (m *Metrics) Search(outcome string) {
	if m != nil {
		m.SearchAttempts.WithLabelValues(outcome).Inc()
	}
}

func (m *Metrics) PairingConflict(reason string) {
	if m != nil {
		m.PairingConflicts.WithLabelValues(reason).Inc()
	}
}

func (m *Metrics) SessionStarted() {
	if m != nil {
		m.SessionsStarted.Inc()
	}
}

func (m *Metrics) SessionEnded() {
	if m != nil {
		m.SessionsEnded.Inc()
	}
}

func (m *Metrics) MessageSent() {
	if m != nil {
		m.MessagesSent.Inc()
	}
}

func (m *Metrics) PublishFailed() {
	if m != nil {
		m.PublishFailures.Inc()
	}
}

func (m *Metrics) DeliveryModeChanged(mode string) {
	if m != nil {
		m.DeliveryMode.WithLabelValues(mode).Inc()
	}
}

func (m *Metrics) SubscriberAdded() {
	if m != nil {
		m.Subscribers.Inc()
	}
}

func (m *Metrics) SubscriberRemoved() {
	if m != nil {
		m.Subscribers.Dec()
	}
}

// Middleware records request count and latency per matched route.
func (m *Metrics) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if m == nil {
			c.Next()
			return
		}
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		m.HTTPRequests.WithLabelValues(c.Request.Method, route, strconv.Itoa(c.Writer.Status())).Inc()
		m.HTTPDuration.WithLabelValues(c.Request.Method, route).Observe(time.Since(start).Seconds())
	}
}
