package monitoring

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Prometheus metrics for the connection manager. Scraped via /metrics.
var (
	ConnectionsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "wsrelay_connections_total",
		Help: "Total number of WebSocket connections established",
	})

	ConnectionsActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "wsrelay_connections_active",
		Help: "Current number of active WebSocket connections",
	})

	ConnectionsRejected = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "wsrelay_connections_rejected_total",
		Help: "Connection attempts rejected, by reason",
	}, []string{"reason"})

	MessagesSent = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "wsrelay_messages_sent_total",
		Help: "Total number of messages delivered to clients",
	})

	MessagesReceived = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "wsrelay_messages_received_total",
		Help: "Total number of messages received from clients",
	})

	SendFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "wsrelay_send_failures_total",
		Help: "Sends that failed on a connection's transport",
	})

	BroadcastsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "wsrelay_broadcasts_total",
		Help: "Total number of broadcast passes",
	})

	HeartbeatsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "wsrelay_heartbeats_total",
		Help: "Heartbeat broadcasts emitted by the scheduler",
	})

	RateLimited = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "wsrelay_rate_limited_total",
		Help: "Requests denied by rate limiting, by limiter",
	}, []string{"limiter"})
)

// Rejection reasons for ConnectionsRejected.
const (
	RejectReasonCapacity  = "capacity"
	RejectReasonRateLimit = "rate_limit"
	RejectReasonShutdown  = "shutdown"
)

func init() {
	prometheus.MustRegister(
		ConnectionsTotal,
		ConnectionsActive,
		ConnectionsRejected,
		MessagesSent,
		MessagesReceived,
		SendFailures,
		BroadcastsTotal,
		HeartbeatsTotal,
		RateLimited,
	)
}

// Handler returns the Prometheus scrape handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
