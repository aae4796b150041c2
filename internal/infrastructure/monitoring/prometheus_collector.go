package monitoring

import (
	"net/http"

	"livecast/internal/core/domain"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PrometheusCollector implements the core metrics port on top of the
// default Prometheus registry.
type PrometheusCollector struct {
	sessionsOpen      prometheus.Gauge
	sessionsTotal     prometheus.Counter
	sessionStates     *prometheus.CounterVec
	reconnectAttempts prometheus.Counter
	messagesPublished *prometheus.CounterVec
	messagesReceived  *prometheus.CounterVec
	recordingBytes    prometheus.Histogram
}

func NewPrometheusCollector() *PrometheusCollector {
	return &PrometheusCollector{
		sessionsOpen: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "livecast_peer_sessions_open",
			Help: "Number of currently open peer sessions",
		}),

		sessionsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "livecast_peer_sessions_total",
			Help: "Total number of peer sessions opened",
		}),

		sessionStates: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "livecast_session_state_transitions_total",
			Help: "Peer session state transitions by resulting state",
		}, []string{"state"}),

		reconnectAttempts: promauto.NewCounter(prometheus.CounterOpts{
			Name: "livecast_reconnect_attempts_total",
			Help: "Total number of viewer reconnect attempts",
		}),

		messagesPublished: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "livecast_signaling_messages_published_total",
			Help: "Signaling messages published by type",
		}, []string{"type"}),

		messagesReceived: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "livecast_signaling_messages_received_total",
			Help: "Signaling messages received by type",
		}, []string{"type"}),

		recordingBytes: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "livecast_recording_size_bytes",
			Help:    "Size of finalized stream recordings",
			Buckets: prometheus.ExponentialBuckets(1024, 4, 10),
		}),
	}
}

func (c *PrometheusCollector) SessionOpened() {
	c.sessionsOpen.Inc()
	c.sessionsTotal.Inc()
}

func (c *PrometheusCollector) SessionClosed() {
	c.sessionsOpen.Dec()
}

func (c *PrometheusCollector) SessionStateChanged(state domain.SessionState) {
	c.sessionStates.WithLabelValues(string(state)).Inc()
}

func (c *PrometheusCollector) ReconnectAttempt() {
	c.reconnectAttempts.Inc()
}

func (c *PrometheusCollector) MessagePublished(t domain.MessageType) {
	c.messagesPublished.WithLabelValues(string(t)).Inc()
}

func (c *PrometheusCollector) MessageReceived(t domain.MessageType) {
	c.messagesReceived.WithLabelValues(string(t)).Inc()
}

func (c *PrometheusCollector) RecordingFinalized(bytes int) {
	c.recordingBytes.Observe(float64(bytes))
}

// Handler exposes the metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
