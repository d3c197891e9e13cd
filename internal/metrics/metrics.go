// ABOUTME: Prometheus counters for the conversation pipeline.
// ABOUTME: Exposed through promhttp when the metrics endpoint is enabled.

// Package metrics collects operational counters for the gateway.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the pipeline counters. A single instance is shared by
// the gateway, dispatcher, and sweeps.
type Metrics struct {
	EventsReceived  prometheus.Counter
	EventsDuplicate prometheus.Counter
	EventsDiscarded prometheus.Counter
	TurnsProcessed  prometheus.Counter
	SendsOK         prometheus.Counter
	SendsFailed     prometheus.Counter
	Handoffs        prometheus.Counter
	SessionsExpired prometheus.Counter

	registry *prometheus.Registry
}

// New creates the counter set on its own registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	return &Metrics{
		EventsReceived: factory.NewCounter(prometheus.CounterOpts{
			Name: "agrobot_events_received_total",
			Help: "Webhook events extracted from inbound payloads.",
		}),
		EventsDuplicate: factory.NewCounter(prometheus.CounterOpts{
			Name: "agrobot_events_duplicate_total",
			Help: "Events rejected by the dedup cache.",
		}),
		EventsDiscarded: factory.NewCounter(prometheus.CounterOpts{
			Name: "agrobot_events_discarded_total",
			Help: "Malformed events discarded before processing.",
		}),
		TurnsProcessed: factory.NewCounter(prometheus.CounterOpts{
			Name: "agrobot_turns_processed_total",
			Help: "Dialogue turns completed.",
		}),
		SendsOK: factory.NewCounter(prometheus.CounterOpts{
			Name: "agrobot_sends_ok_total",
			Help: "Outbound deliveries accepted by the transport.",
		}),
		SendsFailed: factory.NewCounter(prometheus.CounterOpts{
			Name: "agrobot_sends_failed_total",
			Help: "Outbound deliveries rejected or errored; jobs dropped.",
		}),
		Handoffs: factory.NewCounter(prometheus.CounterOpts{
			Name: "agrobot_handoffs_total",
			Help: "Human handoff windows activated.",
		}),
		SessionsExpired: factory.NewCounter(prometheus.CounterOpts{
			Name: "agrobot_sessions_expired_total",
			Help: "Sessions removed by the TTL sweep.",
		}),
		registry: reg,
	}
}

// Handler serves the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
