// Package metrics exposes Prometheus counters/gauges for the HTTP surface
// and the signaling-relay domain: connected clients, leadership
// transitions, queued-message depth, and reaper sweeps.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/patchline/relay/internal/common/config"
)

// Metrics owns the process's Prometheus registry and every metric relay
// components report through.
type Metrics struct {
	registry *prometheus.Registry

	httpReqCnt *prometheus.CounterVec
	httpDur    *prometheus.HistogramVec
	httpInfl   *prometheus.GaugeVec

	connectedClients  *prometheus.GaugeVec
	signalingMessages *prometheus.CounterVec
	queuedMessages    prometheus.Gauge
	leadershipChanges prometheus.Counter
	reaperEvictions   prometheus.Counter
}

// New builds and registers every metric under cfg.Namespace.
func New(cfg config.MetricsConfig) *Metrics {
	ns := cfg.Namespace
	r := prometheus.NewRegistry()
	r.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	r.MustRegister(collectors.NewGoCollector())

	httpReqCnt := prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: ns, Name: "http_requests_total"}, []string{"method", "route", "status"})
	httpDur := prometheus.NewHistogramVec(prometheus.HistogramOpts{Namespace: ns, Name: "http_request_duration_seconds", Buckets: cfg.Buckets}, []string{"method", "route", "status"})
	httpInfl := prometheus.NewGaugeVec(prometheus.GaugeOpts{Namespace: ns, Name: "http_requests_inflight"}, []string{"route"})
	r.MustRegister(httpReqCnt, httpDur, httpInfl)

	connectedClients := prometheus.NewGaugeVec(prometheus.GaugeOpts{Namespace: ns, Name: "connected_clients"}, []string{"client_type"})
	signalingMessages := prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: ns, Name: "signaling_messages_total"}, []string{"verb"})
	queuedMessages := prometheus.NewGauge(prometheus.GaugeOpts{Namespace: ns, Name: "queued_messages"})
	leadershipChanges := prometheus.NewCounter(prometheus.CounterOpts{Namespace: ns, Name: "leadership_changes_total"})
	reaperEvictions := prometheus.NewCounter(prometheus.CounterOpts{Namespace: ns, Name: "reaper_evictions_total"})
	r.MustRegister(connectedClients, signalingMessages, queuedMessages, leadershipChanges, reaperEvictions)

	return &Metrics{
		registry:          r,
		httpReqCnt:        httpReqCnt,
		httpDur:           httpDur,
		httpInfl:          httpInfl,
		connectedClients:  connectedClients,
		signalingMessages: signalingMessages,
		queuedMessages:    queuedMessages,
		leadershipChanges: leadershipChanges,
		reaperEvictions:   reaperEvictions,
	}
}

// ClientConnected increments the connected-client gauge for clientType
// ("controller" or "synth").
func (m *Metrics) ClientConnected(clientType string) {
	m.connectedClients.WithLabelValues(clientType).Inc()
}

// ClientDisconnected decrements it.
func (m *Metrics) ClientDisconnected(clientType string) {
	m.connectedClients.WithLabelValues(clientType).Dec()
}

// SignalingMessage records one relayed offer/answer/ice-candidate frame.
func (m *Metrics) SignalingMessage(verb string) {
	m.signalingMessages.WithLabelValues(verb).Inc()
}

// IncQueuedMessages reports one message written to the outbound KV queue.
func (m *Metrics) IncQueuedMessages() {
	m.queuedMessages.Inc()
}

// DecQueuedMessages reports one message drained from the outbound KV queue.
func (m *Metrics) DecQueuedMessages() {
	m.queuedMessages.Dec()
}

// LeadershipChanged records one ChangeNotification emission.
func (m *Metrics) LeadershipChanged() {
	m.leadershipChanges.Inc()
}

// ReaperEvicted records one synth removed by a sweep.
func (m *Metrics) ReaperEvicted() {
	m.reaperEvictions.Inc()
}

// Middleware instruments every gin request with the HTTP counters/histograms.
func (m *Metrics) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		route := c.FullPath()
		if route == "" {
			route = c.Request.URL.Path
		}
		m.httpInfl.WithLabelValues(route).Inc()
		start := time.Now()
		c.Next()
		status := strconv.Itoa(c.Writer.Status())
		m.httpReqCnt.WithLabelValues(c.Request.Method, route, status).Inc()
		m.httpDur.WithLabelValues(c.Request.Method, route, status).Observe(time.Since(start).Seconds())
		m.httpInfl.WithLabelValues(route).Dec()
	}
}

// Handler serves the Prometheus scrape endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
