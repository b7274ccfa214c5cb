package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Request/response calls against the chat server.
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_requests_total",
			Help: "Total requests issued to the chat server",
		},
		[]string{"endpoint", "outcome"}, // outcome: ok, rejected, transport
	)

	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "relay_request_duration_seconds",
			Help:    "Chat server request duration",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		},
		[]string{"endpoint"},
	)

	// Presence channel lifecycle.
	ChannelOpens = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "relay_channel_opens_total",
			Help: "Total presence channel connections established",
		},
	)

	ChannelDisconnects = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_channel_disconnects_total",
			Help: "Total presence channel disconnects",
		},
		[]string{"cause"}, // closed, remote, timeout, error
	)

	ChannelEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_channel_events_total",
			Help: "Push events received on the presence channel",
		},
		[]string{"event"},
	)

	OnlineUsers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "relay_online_users",
			Help: "Size of the current presence set",
		},
	)

	// Sync engine.
	MessagesObserved = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_messages_observed_total",
			Help: "Messages observed by the sync engine",
		},
		[]string{"source"}, // push, send, fetch
	)

	DuplicatesSuppressed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "relay_duplicate_messages_total",
			Help: "Messages dropped because their id was already in the open conversation",
		},
	)

	StaleResponses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_stale_responses_total",
			Help: "Responses discarded because the selection or session moved on",
		},
		[]string{"kind"},
	)

	// Session manager.
	AuthFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "relay_auth_failures_total",
			Help: "Credential verifications that forced a logout",
		},
	)

	BusEventsDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_bus_events_dropped_total",
			Help: "Bus events dropped because a subscriber was full",
		},
		[]string{"namespace"},
	)
)
