package engine

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics коллекторы движка.
//
// * fauna_ticks_total: counter
// * fauna_tick_duration_seconds: histogram
// * fauna_behavior_transitions_total{from,to}: counter
// * fauna_creatures_registered: gauge
// * fauna_herds: gauge
type Metrics struct {
	ticks        prometheus.Counter
	tickDuration prometheus.Histogram
	transitions  *prometheus.CounterVec
	registered   prometheus.GaugeFunc
	herds        prometheus.GaugeFunc
}

func newMetrics(reg prometheus.Registerer, registered, herds func() float64) *Metrics {
	m := &Metrics{
		ticks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fauna_ticks_total",
			Help: "Число обработанных тиков существ.",
		}),
		tickDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "fauna_tick_duration_seconds",
			Help:    "Длительность тика одного существа.",
			Buckets: []float64{0.00001, 0.00005, 0.0001, 0.0005, 0.001, 0.005, 0.01},
		}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fauna_behavior_transitions_total",
			Help: "Смены активного поведения.",
		}, []string{"from", "to"}),
		registered: prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "fauna_creatures_registered",
			Help: "Существа, зарегистрированные в движке.",
		}, registered),
		herds: prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "fauna_herds",
			Help: "Текущее число стад.",
		}, herds),
	}

	if reg != nil {
		reg.MustRegister(m.ticks, m.tickDuration, m.transitions, m.registered, m.herds)
	}
	return m
}
