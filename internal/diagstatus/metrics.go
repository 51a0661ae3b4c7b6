package diagstatus

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds the prometheus collectors the diagnostics server
// exposes at /metrics: cache footprint, send outcomes, and the sending
// state machine's current state. The cache gauges and the state gauge
// are refreshed on every /status request. BeaconsSent and SendFailures
// are registered, but nothing in the agent increments them, so both
// stay at zero.
type Metrics struct {
	CacheBytes   prometheus.Gauge
	CacheEntries prometheus.Gauge
	BeaconsSent  prometheus.Counter
	SendFailures prometheus.Counter
	State        *prometheus.GaugeVec
}

// NewMetrics registers a fresh set of collectors on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		CacheBytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "beacon_agent",
			Name:      "cache_bytes",
			Help:      "Total bytes currently buffered across all cached beacon entries.",
		}),
		CacheEntries: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "beacon_agent",
			Name:      "cache_entries",
			Help:      "Number of distinct BeaconKey entries currently cached.",
		}),
		BeaconsSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "beacon_agent",
			Name:      "beacons_sent_total",
			Help:      "Total number of beacon chunks successfully transmitted.",
		}),
		SendFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "beacon_agent",
			Name:      "send_failures_total",
			Help:      "Total number of beacon chunk send attempts that were rolled back.",
		}),
		State: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "beacon_agent",
			Name:      "sending_state",
			Help:      "1 for the sending state machine's current state, 0 for all others.",
		}, []string{"state"}),
	}

	reg.MustRegister(m.CacheBytes, m.CacheEntries, m.BeaconsSent, m.SendFailures, m.State)

	return m
}

// SetState zeroes every known state label and sets the current one to 1,
// so the gauge vector always reflects exactly one active state.
func (m *Metrics) SetState(current string, allStates []string) {
	for _, s := range allStates {
		v := 0.0
		if s == current {
			v = 1.0
		}
		m.State.WithLabelValues(s).Set(v)
	}
}
