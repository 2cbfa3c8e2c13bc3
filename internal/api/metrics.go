package api

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Calculation labels.
const (
	calcValuation  = "valuation"
	calcDCF        = "dcf"
	calcSignals    = "signals"
	calcTransition = "signal_transition"
	calcSimulation = "simulation"
)

// Metrics holds the Prometheus collectors for the API.
type Metrics struct {
	registry *prometheus.Registry

	CalculationDuration *prometheus.HistogramVec
	Calculations        *prometheus.CounterVec
	StaleValuations     prometheus.Counter
	SimulationSuccess   prometheus.Histogram
	HTTPRequests        *prometheus.CounterVec
}

// NewMetrics creates the collectors on a private registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		CalculationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "valuation_calculation_duration_seconds",
				Help:    "Duration of each calculation in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0},
			},
			[]string{"calculation", "result"},
		),
		Calculations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "valuation_calculations_total",
				Help: "Total calculations by type and result",
			},
			[]string{"calculation", "result"},
		),
		StaleValuations: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "valuation_stale_snapshots_total",
				Help: "Valuations answered from the last persisted snapshot",
			},
		),
		SimulationSuccess: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "valuation_simulation_success_rate",
				Help:    "Success rate (percent) of retirement simulations",
				Buckets: prometheus.LinearBuckets(0, 10, 11),
			},
		),
		HTTPRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "valuation_http_requests_total",
				Help: "HTTP requests by method, route, and status",
			},
			[]string{"method", "route", "status"},
		),
	}
	m.registry.MustRegister(
		m.CalculationDuration,
		m.Calculations,
		m.StaleValuations,
		m.SimulationSuccess,
		m.HTTPRequests,
	)
	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Observe records one calculation.
func (m *Metrics) Observe(calculation string, start time.Time, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.CalculationDuration.WithLabelValues(calculation, result).Observe(time.Since(start).Seconds())
	m.Calculations.WithLabelValues(calculation, result).Inc()
}
