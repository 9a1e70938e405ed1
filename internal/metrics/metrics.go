package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	once sync.Once

	messagesAccepted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_messages_accepted_total",
			Help: "Messages persisted and broadcast, by sender type and source (ws/http).",
		},
		[]string{"sender_type", "source"},
	)

	messagesRejected = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_messages_rejected_total",
			Help: "Inbound frames or posts rejected, by error code.",
		},
		[]string{"code"},
	)

	openConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "chat_open_connections",
			Help: "WebSocket connections currently registered with a session actor.",
		},
	)

	liveActors = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "chat_live_actors",
			Help: "Session actors currently running in this instance.",
		},
	)

	evictions = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "chat_connection_evictions_total",
			Help: "Connections evicted after a failed write.",
		},
	)

	notificationFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "chat_notification_failures_total",
			Help: "Notification dispatches that returned an error.",
		},
	)
)

// MustRegister registers collectors with the default registry (idempotent).
func MustRegister() {
	once.Do(func() {
		prometheus.MustRegister(
			messagesAccepted, messagesRejected,
			openConnections, liveActors,
			evictions, notificationFailures,
		)
	})
}

func MessageAccepted(senderType, source string) {
	messagesAccepted.WithLabelValues(senderType, source).Inc()
}

func MessageRejected(code string) {
	messagesRejected.WithLabelValues(code).Inc()
}

func ConnectionOpened() { openConnections.Inc() }
func ConnectionClosed() { openConnections.Dec() }

func ActorStarted() { liveActors.Inc() }
func ActorStopped() { liveActors.Dec() }

func ConnectionEvicted() { evictions.Inc() }

func NotificationFailed() { notificationFailures.Inc() }
