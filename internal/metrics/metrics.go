package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the process-wide counters. A single instance is created at
// startup and threaded through the server and dispatcher.
type Metrics struct {
	IntentsCreated *prometheus.CounterVec
	Settlements    *prometheus.CounterVec
	Registry       *prometheus.Registry
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	return &Metrics{
		Registry: reg,
		IntentsCreated: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "fundline_intents_created_total",
			Help: "Funding intents created, by provider.",
		}, []string{"provider"}),
		Settlements: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "fundline_settlements_total",
			Help: "Settlement notifications processed, by provider and outcome.",
		}, []string{"provider", "outcome"}),
	}
}
