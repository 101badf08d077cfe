// Package metrics exposes the activity of the trade driver as prometheus
// metrics:
//
//	tradecoord_phase_transitions_total{from,to}
//	tradecoord_phase{phase}                       1 for the current phase
//	tradecoord_signals_total{kind,scope,outcome}
//	tradecoord_reconciliations_total{outcome}
//	tradecoord_backend_requests_total{method,result}
//	tradecoord_backend_request_duration_seconds{method}
package metrics

import (
	"net/http"

	"github.com/escrowchat/tradecoord/internal/core/application/reconcile"
	"github.com/escrowchat/tradecoord/internal/core/domain"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "tradecoord"

var phases = []domain.Phase{
	domain.PhaseIdle,
	domain.PhaseSellerReady,
	domain.PhaseBuyerAccepted,
	domain.PhaseTradeCreated,
	domain.PhaseFundsReleased,
	domain.PhaseCompleted,
	domain.PhaseCancelled,
}

// Metrics owns a dedicated registry so that several instances can live in
// the same process.
type Metrics struct {
	registry        *prometheus.Registry
	transitions     *prometheus.CounterVec
	phase           *prometheus.GaugeVec
	signals         *prometheus.CounterVec
	reconciliations *prometheus.CounterVec
	backendRequests *prometheus.CounterVec
	backendDuration *prometheus.HistogramVec
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		transitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "phase_transitions_total",
				Help:      "Trade phase transitions",
			},
			[]string{"from", "to"},
		),
		phase: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "phase",
				Help:      "Phase of the current trade, one labeled series per phase",
			},
			[]string{"phase"},
		),
		signals: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "signals_total",
				Help:      "Signal messages received, by listener scope and outcome",
			},
			[]string{"kind", "scope", "outcome"},
		),
		reconciliations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "reconciliations_total",
				Help:      "Reconciliations against the ledger, by outcome",
			},
			[]string{"outcome"},
		),
		backendRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "backend_requests_total",
				Help:      "Requests to the ledger, by method and result",
			},
			[]string{"method", "result"},
		),
		backendDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "backend_request_duration_seconds",
				Help:      "Duration of the requests to the ledger",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method"},
		),
	}

	m.registry.MustRegister(
		m.transitions,
		m.phase,
		m.signals,
		m.reconciliations,
		m.backendRequests,
		m.backendDuration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m.setPhase(domain.PhaseIdle)
	return m
}

// Handler serves the registry in the prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) ObserveTransition(from, to domain.Phase) {
	m.transitions.WithLabelValues(from.String(), to.String()).Inc()
	m.setPhase(to)
}

func (m *Metrics) ObserveSignal(kind, scope, outcome string) {
	m.signals.WithLabelValues(kind, scope, outcome).Inc()
}

// ObserveReconciliation is meant to be registered as an observer of the
// reconcile.Engine.
func (m *Metrics) ObserveReconciliation(outcome reconcile.Outcome) {
	m.reconciliations.WithLabelValues(string(outcome)).Inc()
}

func (m *Metrics) setPhase(current domain.Phase) {
	for _, p := range phases {
		v := 0.0
		if p == current {
			v = 1
		}
		m.phase.WithLabelValues(p.String()).Set(v)
	}
}
