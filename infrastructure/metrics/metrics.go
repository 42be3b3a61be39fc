// Package metrics provides the Prometheus collectors exported by the
// evolution loop: quality gauges, gate/ethics counters, provider request
// counters, and latency/cost histograms.
package metrics

import (
	"os"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/r3e-network/evo-core/infrastructure/runtime"
)

// Metrics holds all Prometheus collectors for one engine instance.
type Metrics struct {
	// Quality gauges (§6.5)
	LInf       prometheus.Gauge
	CaosPlus   prometheus.Gauge
	SR         prometheus.Gauge
	G          prometheus.Gauge
	DeltaLInf  prometheus.Gauge

	// Budget gauges
	SpendUSD     prometheus.Gauge
	RemainingUSD prometheus.Gauge
	UsagePercent prometheus.Gauge

	// Counters
	GateOutcomesTotal    *prometheus.CounterVec // labels: action (PROMOTE, ROLLBACK, BLOCK)
	EthicsViolationsTotal *prometheus.CounterVec // labels: gate
	ProviderRequestsTotal *prometheus.CounterVec // labels: provider, status

	// Histograms
	RequestLatency *prometheus.HistogramVec // labels: provider
	CostPerRequest prometheus.Histogram

	// Per-provider gauges
	ProviderCostUSD     *prometheus.GaugeVec
	ProviderSuccessRate *prometheus.GaugeVec

	ServiceInfo *prometheus.GaugeVec
}

// New creates a Metrics instance registered against the default registerer.
func New(serviceName string) *Metrics {
	return NewWithRegistry(serviceName, prometheus.DefaultRegisterer)
}

// NewWithRegistry creates a Metrics instance registered against registerer.
// A nil registerer skips registration (useful in tests that construct
// multiple instances in the same process).
func NewWithRegistry(serviceName string, registerer prometheus.Registerer) *Metrics {
	m := &Metrics{
		LInf:      prometheus.NewGauge(prometheus.GaugeOpts{Name: "evo_linf", Help: "Current L-infinity composite quality score"}),
		CaosPlus:  prometheus.NewGauge(prometheus.GaugeOpts{Name: "evo_caos_plus", Help: "Current CAOS+ amplifier value"}),
		SR:        prometheus.NewGauge(prometheus.GaugeOpts{Name: "evo_sr", Help: "Current reflexivity score"}),
		G:         prometheus.NewGauge(prometheus.GaugeOpts{Name: "evo_g", Help: "Current global coherence score"}),
		DeltaLInf: prometheus.NewGauge(prometheus.GaugeOpts{Name: "evo_delta_linf", Help: "L-infinity delta for the last cycle"}),

		SpendUSD:     prometheus.NewGauge(prometheus.GaugeOpts{Name: "evo_budget_spend_usd", Help: "USD spent today"}),
		RemainingUSD: prometheus.NewGauge(prometheus.GaugeOpts{Name: "evo_budget_remaining_usd", Help: "USD remaining today"}),
		UsagePercent: prometheus.NewGauge(prometheus.GaugeOpts{Name: "evo_budget_usage_percent", Help: "Percent of daily budget used"}),

		GateOutcomesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "evo_gate_outcomes_total", Help: "Cycle outcomes by action"},
			[]string{"action"},
		),
		EthicsViolationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "evo_ethics_violations_total", Help: "Ethics/safety gate failures by gate name"},
			[]string{"gate"},
		),
		ProviderRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "evo_provider_requests_total", Help: "Router requests by provider and status"},
			[]string{"provider", "status"},
		),

		RequestLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "evo_provider_request_latency_seconds",
				Help:    "Provider request latency in seconds",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 15, 30},
			},
			[]string{"provider"},
		),
		CostPerRequest: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "evo_cost_per_request_usd",
				Help:    "Cost per router request in USD",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 2},
			},
		),

		ProviderCostUSD: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{Name: "evo_provider_cost_usd_total", Help: "Cumulative cost in USD by provider"},
			[]string{"provider"},
		),
		ProviderSuccessRate: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{Name: "evo_provider_success_rate", Help: "Rolling success rate by provider"},
			[]string{"provider"},
		),

		ServiceInfo: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{Name: "evo_service_info", Help: "Static service build information"},
			[]string{"service", "version", "environment"},
		),
	}

	if registerer != nil {
		registerer.MustRegister(
			m.LInf, m.CaosPlus, m.SR, m.G, m.DeltaLInf,
			m.SpendUSD, m.RemainingUSD, m.UsagePercent,
			m.GateOutcomesTotal, m.EthicsViolationsTotal, m.ProviderRequestsTotal,
			m.RequestLatency, m.CostPerRequest,
			m.ProviderCostUSD, m.ProviderSuccessRate,
			m.ServiceInfo,
		)
	}

	m.ServiceInfo.WithLabelValues(serviceName, "1.0.0", getEnvironment()).Set(1)

	return m
}

// RecordCycle updates the quality gauges and the gate-outcome counter
// for one completed cycle.
func (m *Metrics) RecordCycle(lInf, caosPlus, sr, g, deltaLInf float64, action string) {
	m.LInf.Set(lInf)
	m.CaosPlus.Set(caosPlus)
	m.SR.Set(sr)
	m.G.Set(g)
	m.DeltaLInf.Set(deltaLInf)
	m.GateOutcomesTotal.WithLabelValues(action).Inc()
}

// RecordEthicsViolation increments the named gate's failure counter.
func (m *Metrics) RecordEthicsViolation(gate string) {
	m.EthicsViolationsTotal.WithLabelValues(gate).Inc()
}

// RecordBudget updates the budget gauges.
func (m *Metrics) RecordBudget(spent, remaining, usagePercent float64) {
	m.SpendUSD.Set(spent)
	m.RemainingUSD.Set(remaining)
	m.UsagePercent.Set(usagePercent)
}

// RecordProviderRequest records a single router dispatch.
func (m *Metrics) RecordProviderRequest(provider, status string, latency time.Duration, costUSD float64) {
	m.ProviderRequestsTotal.WithLabelValues(provider, status).Inc()
	m.RequestLatency.WithLabelValues(provider).Observe(latency.Seconds())
	m.CostPerRequest.Observe(costUSD)
}

// SetProviderTotals refreshes the per-provider gauges from the budget
// tracker's current snapshot.
func (m *Metrics) SetProviderTotals(provider string, costUSD, successRate float64) {
	m.ProviderCostUSD.WithLabelValues(provider).Set(costUSD)
	m.ProviderSuccessRate.WithLabelValues(provider).Set(successRate)
}

func getEnvironment() string {
	return string(runtime.Env())
}

// Enabled returns whether Prometheus metrics should be exposed.
//
// Defaults:
// - production: disabled unless explicitly enabled via METRICS_ENABLED
// - non-production: enabled unless explicitly disabled via METRICS_ENABLED
func Enabled() bool {
	raw := strings.ToLower(strings.TrimSpace(os.Getenv("METRICS_ENABLED")))
	if raw == "" {
		return !runtime.IsProduction()
	}
	switch raw {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}

// Global metrics instance
var (
	globalMetrics *Metrics
	globalMu      sync.Mutex
)

// Init initializes the global metrics instance.
func Init(serviceName string) *Metrics {
	globalMu.Lock()
	defer globalMu.Unlock()

	if globalMetrics == nil {
		globalMetrics = New(serviceName)
	}
	return globalMetrics
}

// Global returns the global metrics instance.
func Global() *Metrics {
	globalMu.Lock()
	defer globalMu.Unlock()

	if globalMetrics == nil {
		globalMetrics = New("evo-core")
	}
	return globalMetrics
}
