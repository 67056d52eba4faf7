package breaker

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// breakerState reports 0=closed, 1=half_open, 2=open per dependency.
	breakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "catalog_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half_open, 2=open)",
		},
		[]string{"name"},
	)

	shortCircuitsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "catalog_breaker_short_circuits_total",
			Help: "Calls rejected without reaching the dependency",
		},
		[]string{"name"},
	)

	fallbacksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "catalog_breaker_fallbacks_total",
			Help: "Fallback payloads served by reason",
		},
		[]string{"name", "reason"},
	)
)

func stateValue(s State) float64 {
	switch s {
	case StateHalfOpen:
		return 1
	case StateOpen:
		return 2
	default:
		return 0
	}
}
