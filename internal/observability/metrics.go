// Package observability provides Prometheus metrics for the simulator service.
package observability

import (
	"net/http"
	"strconv"
	"time"

	"trading-simulator-go/internal/models"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const defaultNamespace = "trading_simulator"

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	registry *prometheus.Registry

	// HTTP metrics
	HTTPRequests *prometheus.CounterVec
	HTTPDuration *prometheus.HistogramVec

	// Simulation metrics
	Simulations        *prometheus.CounterVec
	SimulationDuration prometheus.Histogram
	OrderOutcomes      *prometheus.CounterVec
	TradeResults       *prometheus.CounterVec
}

// NewMetrics creates a Metrics instance on its own registry, so several
// instances can coexist in one process.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = defaultNamespace
	}

	m := &Metrics{
		registry: prometheus.NewRegistry(),
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests by route and status code",
		}, []string{"method", "route", "status"}),
		HTTPDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency by route",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),
		Simulations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "simulations_total",
			Help:      "Simulation requests by result (ok, invalid, failed)",
		}, []string{"result"}),
		SimulationDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "simulation_duration_seconds",
			Help:      "Time spent matching the orders of one request",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 4, 10),
		}),
		OrderOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "order_outcomes_total",
			Help:      "Simulated orders by outcome status",
		}, []string{"status"}),
		TradeResults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "trade_results_total",
			Help:      "Closed trades by exit reason",
		}, []string{"result"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.HTTPRequests,
		m.HTTPDuration,
		m.Simulations,
		m.SimulationDuration,
		m.OrderOutcomes,
		m.TradeResults,
	)
	return m
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveRequest records one served HTTP request.
func (m *Metrics) ObserveRequest(method, route string, status int, took time.Duration) {
	m.HTTPRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.HTTPDuration.WithLabelValues(route).Observe(took.Seconds())
}

// ObserveSimulation records a finished simulation.
func (m *Metrics) ObserveSimulation(res *models.SimulationResult, took time.Duration) {
	m.Simulations.WithLabelValues("ok").Inc()
	m.SimulationDuration.Observe(took.Seconds())
	for _, o := range res.Outcomes {
		m.OrderOutcomes.WithLabelValues(string(o.Status)).Inc()
	}
	for _, t := range res.Trades {
		m.TradeResults.WithLabelValues(string(t.Result)).Inc()
	}
}

// ObserveFailure records a rejected (invalid) or failed simulation request.
func (m *Metrics) ObserveFailure(invalid bool) {
	if invalid {
		m.Simulations.WithLabelValues("invalid").Inc()
		return
	}
	m.Simulations.WithLabelValues("failed").Inc()
}
