package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	MessagesStored = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatsync_messages_stored_total",
			Help: "Total messages persisted",
		},
		[]string{"content_type"},
	)

	HistoryPagesServed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chatsync_history_pages_served_total",
			Help: "Total history pages served",
		},
	)

	StatusUpdates = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatsync_status_updates_total",
			Help: "Total delivery-status transitions broadcast",
		},
		[]string{"status"},
	)

	TypingEvents = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chatsync_typing_events_total",
			Help: "Total typing indicators fanned out",
		},
	)

	WSConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "chatsync_ws_connections",
			Help: "Currently open WebSocket connections",
		},
	)
)
