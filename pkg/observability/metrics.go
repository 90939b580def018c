package observability

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/aretw0/pergola/pkg/domain"
)

// Metrics holds the bridge collectors. Create one per registry; the metric
// names are fixed, so registering twice on the same registry panics.
type Metrics struct {
	envelopesSent    *prometheus.CounterVec
	envelopesDropped *prometheus.CounterVec
	callsResolved    *prometheus.CounterVec
	callDuration     *prometheus.HistogramVec
	peersAttached    prometheus.Gauge
	readySignals     prometheus.Counter
}

// NewMetrics creates and registers the bridge collectors. Pass
// prometheus.DefaultRegisterer to publish on the default registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		envelopesSent: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pergola_envelopes_sent_total",
				Help: "Total number of envelopes posted toward peers",
			},
			[]string{"channel"},
		),
		envelopesDropped: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pergola_envelopes_dropped_total",
				Help: "Total number of envelopes discarded, by reason",
			},
			[]string{"reason"},
		),
		callsResolved: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pergola_calls_total",
				Help: "Total number of resolved operation calls",
			},
			[]string{"family", "outcome"},
		),
		callDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name: "pergola_call_duration_seconds",
				Help: "Time from OP_REQUEST to resolution",
			},
			[]string{"family"},
		),
		peersAttached: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "pergola_peers_attached",
			Help: "Number of currently attached peers",
		}),
		readySignals: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pergola_peer_ready_total",
			Help: "Total number of READY handshakes observed",
		}),
	}
	reg.MustRegister(
		m.envelopesSent,
		m.envelopesDropped,
		m.callsResolved,
		m.callDuration,
		m.peersAttached,
		m.readySignals,
	)
	return m
}

// Hooks returns lifecycle hooks feeding these collectors. Compose with other
// hook sets via domain.MergeHooks.
func (m *Metrics) Hooks() domain.LifecycleHooks {
	return domain.LifecycleHooks{
		OnEnvelopeSent: func(_ context.Context, e *domain.EnvelopeEvent) {
			m.envelopesSent.WithLabelValues(string(e.Channel)).Inc()
		},
		OnEnvelopeDropped: func(_ context.Context, e *domain.EnvelopeEvent) {
			m.envelopesDropped.WithLabelValues(string(e.Reason)).Inc()
		},
		OnPeerAttached: func(_ context.Context, _ *domain.PeerEvent) {
			m.peersAttached.Inc()
		},
		OnPeerDetached: func(_ context.Context, _ *domain.PeerEvent) {
			m.peersAttached.Dec()
		},
		OnPeerReady: func(_ context.Context, _ *domain.PeerEvent) {
			m.readySignals.Inc()
		},
		OnCallResolved: func(_ context.Context, e *domain.CallEvent) {
			m.callsResolved.WithLabelValues(e.Family, e.Outcome).Inc()
			m.callDuration.WithLabelValues(e.Family).Observe(e.Elapsed.Seconds())
		},
	}
}
