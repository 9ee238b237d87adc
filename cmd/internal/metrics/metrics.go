// Package metrics exposes Prometheus instrumentation for the messaging core.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// MessagesAppended counts durable appends to conversation logs.
	MessagesAppended = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ripple_messages_appended_total",
		Help: "Messages durably appended to conversation logs.",
	})

	// SeenRecorded counts seen-cursor upserts (including idempotent repeats).
	SeenRecorded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ripple_seen_recorded_total",
		Help: "Seen-cursor record operations accepted by the store.",
	})

	// BusPublishes counts relay publishes by outcome ("ok" or "error").
	BusPublishes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ripple_bus_publishes_total",
		Help: "Event-bus publish attempts by outcome.",
	}, []string{"outcome"})

	// WSSessions tracks currently connected websocket sessions.
	WSSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ripple_ws_sessions",
		Help: "Currently connected websocket sessions.",
	})

	// SuggestionRequests counts LLM suggestion calls by outcome.
	SuggestionRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ripple_suggestion_requests_total",
		Help: "Reply-suggestion requests by outcome.",
	}, []string{"outcome"})
)
