// Package metrics holds the gate service's prometheus collectors.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"
)

// Metrics is safe to use as a nil pointer; every method is then a no-op.
type Metrics struct {
	registry    *prometheus.Registry
	transitions *prometheus.CounterVec
	collected   *prometheus.CounterVec
	scans       *prometheus.CounterVec
	mismatches  prometheus.Counter
}

// New registers the collectors on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "parkgate",
			Name:      "session_transitions_total",
			Help:      "Session lifecycle operations by event and outcome code.",
		}, []string{"event", "outcome"}),
		collected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "parkgate",
			Name:      "collected_amount_total",
			Help:      "Money recorded in the payment ledger, by payment kind.",
		}, []string{"kind"}),
		scans: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "parkgate",
			Name:      "scanner_reads_total",
			Help:      "QR reads from gate scanners by gate mode and result.",
		}, []string{"mode", "result"}),
		mismatches: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "parkgate",
			Name:      "settlement_mismatches_total",
			Help:      "Exits where the backend's figures differed from the local quote.",
		}),
	}
	reg.MustRegister(
		m.transitions,
		m.collected,
		m.scans,
		m.mismatches,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler serves the registry in the prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Transition counts one lifecycle operation; outcome is "ok" or a lifecycle error code.
func (m *Metrics) Transition(event, outcome string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(event, outcome).Inc()
}

// Collected adds a recorded payment amount.
func (m *Metrics) Collected(kind string, amount decimal.Decimal) {
	if m == nil {
		return
	}
	m.collected.WithLabelValues(kind).Add(amount.InexactFloat64())
}

// Scan counts one scanner read.
func (m *Metrics) Scan(mode, result string) {
	if m == nil {
		return
	}
	m.scans.WithLabelValues(mode, result).Inc()
}

// SettlementMismatch counts an exit whose backend figures overrode the local quote.
func (m *Metrics) SettlementMismatch() {
	if m == nil {
		return
	}
	m.mismatches.Inc()
}
