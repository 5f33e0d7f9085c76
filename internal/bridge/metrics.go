package bridge

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics tracks the bridge's event flow.
type Metrics struct {
	// EventsReceived counts raw long-poll updates by kind (message|other).
	EventsReceived *prometheus.CounterVec

	// EventsDropped counts events discarded before completion, by reason
	// (non_message|self_echo|busy|foreign_chat|group_mismatch|unavailable|
	// empty_history|error).
	EventsDropped *prometheus.CounterVec

	// RepliesSent counts successfully delivered replies.
	RepliesSent prometheus.Counter

	// CursorRefreshes counts long-poll cursor re-acquisitions.
	CursorRefreshes prometheus.Counter

	// TokensUsed counts tokens consumed, by direction (input|output).
	TokensUsed *prometheus.CounterVec

	// InFlight gauges conversations with a reply being produced.
	InFlight prometheus.Gauge
}

// NewMetrics registers the bridge metrics with the registerer. A nil
// registerer selects the default registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		EventsReceived: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vkm_events_received_total",
				Help: "Total long-poll updates received, by kind",
			},
			[]string{"kind"},
		),
		EventsDropped: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vkm_events_dropped_total",
				Help: "Total events discarded before completion, by reason",
			},
			[]string{"reason"},
		),
		RepliesSent: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "vkm_replies_sent_total",
				Help: "Total replies delivered",
			},
		),
		CursorRefreshes: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "vkm_cursor_refreshes_total",
				Help: "Total long-poll cursor re-acquisitions",
			},
		),
		TokensUsed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vkm_tokens_total",
				Help: "Total completion tokens consumed, by direction",
			},
			[]string{"direction"},
		),
		InFlight: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "vkm_replies_in_flight",
				Help: "Conversations with a reply currently being produced",
			},
		),
	}
}
