package blockmux

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds the prometheus collectors the multiplexer reports through.
// A nil *Metrics (the zero value returned by NewMetrics is never nil, but
// WithMetrics is optional) disables instrumentation entirely; every method
// below is a safe no-op on a nil receiver so callers that skip WithMetrics
// pay nothing.
type Metrics struct {
	reconnectsTotal    *prometheus.CounterVec
	updatesReceived    *prometheus.CounterVec
	blocksEmittedTotal prometheus.Counter
	fanoutLagTotal     prometheus.Counter
	sourcesConfigured  prometheus.Gauge
}

// NewMetrics builds and registers the multiplexer's collectors against reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		reconnectsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "blockmux",
			Name:      "source_reconnects_total",
			Help:      "Number of times a source connector re-entered NotConnected.",
		}, []string{"source"}),
		updatesReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "blockmux",
			Name:      "source_updates_received_total",
			Help:      "Number of updates received from a source's Recv loop.",
		}, []string{"source"}),
		blocksEmittedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "blockmux",
			Name:      "blocks_emitted_total",
			Help:      "Number of blocks forwarded by the fastest-wins filter.",
		}),
		fanoutLagTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "blockmux",
			Name:      "fanout_receiver_lag_events_total",
			Help:      "Number of values fanout receivers skipped due to lag.",
		}),
		sourcesConfigured: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "blockmux",
			Name:      "sources_configured",
			Help:      "Number of sources passed to CreateMultiplex.",
		}),
	}
	reg.MustRegister(m.reconnectsTotal, m.updatesReceived, m.blocksEmittedTotal, m.fanoutLagTotal, m.sourcesConfigured)
	return m
}

func (m *Metrics) reconnect(source string) {
	if m == nil {
		return
	}
	m.reconnectsTotal.WithLabelValues(source).Inc()
}

func (m *Metrics) updateReceived(source string) {
	if m == nil {
		return
	}
	m.updatesReceived.WithLabelValues(source).Inc()
}

func (m *Metrics) blockEmitted() {
	if m == nil {
		return
	}
	m.blocksEmittedTotal.Inc()
}

// ObserveFanoutLag records that a Fanout receiver skipped forward by n
// values after falling behind the ring buffer's capacity. Callers reading
// from a Fanout.Receiver typically call this whenever Recv reports lag > 0.
func (m *Metrics) ObserveFanoutLag(n uint64) {
	if m == nil || n == 0 {
		return
	}
	m.fanoutLagTotal.Add(float64(n))
}

func (m *Metrics) setSourcesConfigured(n int) {
	if m == nil {
		return
	}
	m.sourcesConfigured.Set(float64(n))
}
