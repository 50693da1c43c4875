package gateway

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the gateway's prometheus instruments. Passing a custom
// registerer keeps tests isolated from the default registry.
type Metrics struct {
	ConnectionsActive prometheus.Gauge
	CommandsTotal     *prometheus.CounterVec
	CommandDuration   prometheus.Histogram
	SecurityFailures  *prometheus.CounterVec
	RateLimited       prometheus.Counter
	IdempotencyHits   prometheus.Counter
	EventsDelivered   prometheus.Counter
	EventsDropped     prometheus.Counter
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ConnectionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "gateway_connections_active",
			Help: "Currently registered websocket connections.",
		}),
		CommandsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_commands_total",
			Help: "Commands processed, by type and result.",
		}, []string{"command", "result"}),
		CommandDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "gateway_command_duration_seconds",
			Help:    "End-to-end command processing latency.",
			Buckets: prometheus.DefBuckets,
		}),
		SecurityFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_security_failures_total",
			Help: "Message verification failures, by reason.",
		}, []string{"reason"}),
		RateLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gateway_rate_limited_total",
			Help: "Commands rejected by the rate limiter.",
		}),
		IdempotencyHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gateway_idempotency_hits_total",
			Help: "Commands answered from the idempotency cache.",
		}),
		EventsDelivered: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gateway_events_delivered_total",
			Help: "Events enqueued to subscribed connections.",
		}),
		EventsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gateway_events_dropped_total",
			Help: "Events dropped for slow consumers.",
		}),
	}
	reg.MustRegister(
		m.ConnectionsActive, m.CommandsTotal, m.CommandDuration,
		m.SecurityFailures, m.RateLimited, m.IdempotencyHits,
		m.EventsDelivered, m.EventsDropped,
	)
	return m
}
