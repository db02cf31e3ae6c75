package rcbatch

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics contains the engine-level prometheus collectors. All methods
// are nil-safe so callers that do not care about metrics can pass nil
// everywhere.
type Metrics struct {
	CallsTotal    *prometheus.CounterVec
	RoundsTotal   prometheus.Counter
	RoundDuration prometheus.Histogram
}

// NewMetrics creates the engine metrics collectors.
func NewMetrics() *Metrics {
	return &Metrics{
		CallsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "rcengine",
				Subsystem: "batch",
				Name:      "calls_total",
				Help:      "Total number of physical calls dispatched",
			},
			[]string{"endpoint"},
		),
		RoundsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "rcengine",
				Subsystem: "batch",
				Name:      "rounds_total",
				Help:      "Total number of executed call rounds",
			},
		),
		RoundDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "rcengine",
				Subsystem: "batch",
				Name:      "round_duration_seconds",
				Help:      "Wall time of one dispatched round",
				Buckets:   prometheus.DefBuckets,
			},
		),
	}
}

// Register registers all collectors with the given registerer.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	for _, collector := range []prometheus.Collector{m.CallsTotal, m.RoundsTotal, m.RoundDuration} {
		if err := reg.Register(collector); err != nil {
			return err
		}
	}
	return nil
}

func (m *Metrics) observeRound(calls []*Call, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.RoundsTotal.Inc()
	m.RoundDuration.Observe(elapsed.Seconds())
	for _, call := range calls {
		m.CallsTotal.WithLabelValues(call.Endpoint).Inc()
	}
}
