// Package metrics exposes Prometheus collectors fed by engine lifecycle hooks.
package metrics

import (
	"context"
	"net/http"

	"github.com/aretw0/flowbot/pkg/domain"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics owns a private registry so tests and multiple engines never collide.
type Metrics struct {
	registry *prometheus.Registry

	nodeVisits   *prometheus.CounterVec
	actionCalls  *prometheus.CounterVec
	turns        *prometheus.CounterVec
	turnDuration *prometheus.HistogramVec
	dispatches   *prometheus.CounterVec
}

// New registers the flowbot collectors plus the Go runtime collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		nodeVisits: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "flowbot_node_visits_total",
				Help: "Total number of node visits",
			},
			[]string{"node_type"},
		),
		actionCalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "flowbot_action_calls_total",
				Help: "Total number of action node executions",
			},
			[]string{"action", "result"},
		),
		turns: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "flowbot_turns_total",
				Help: "Total number of handled turns by outcome",
			},
			[]string{"outcome"},
		),
		turnDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "flowbot_turn_duration_seconds",
				Help:    "Duration of handled turns, lock to commit",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"outcome"},
		),
		dispatches: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "flowbot_webservice_dispatches_total",
				Help: "Total number of outbound webservice calls",
			},
			[]string{"result"},
		),
	}

	m.registry.MustRegister(
		m.nodeVisits,
		m.actionCalls,
		m.turns,
		m.turnDuration,
		m.dispatches,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Hooks returns lifecycle hooks that record into m.
func (m *Metrics) Hooks() domain.LifecycleHooks {
	return domain.LifecycleHooks{
		OnNodeEnter: func(_ context.Context, e *domain.NodeEvent) {
			m.nodeVisits.WithLabelValues(string(e.NodeType)).Inc()
		},
		OnActionReturn: func(_ context.Context, e *domain.ActionEvent) {
			result := "ok"
			if e.IsError {
				result = "error"
			}
			m.actionCalls.WithLabelValues(e.Action, result).Inc()
		},
		OnTurnEnd: func(_ context.Context, e *domain.TurnEvent) {
			m.ObserveTurn(e.Outcome, e.Duration.Seconds())
		},
	}
}

// ObserveTurn records one finished turn.
func (m *Metrics) ObserveTurn(outcome string, seconds float64) {
	m.turns.WithLabelValues(outcome).Inc()
	m.turnDuration.WithLabelValues(outcome).Observe(seconds)
}

// ObserveDispatch records the result of an outbound webservice call.
func (m *Metrics) ObserveDispatch(err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.dispatches.WithLabelValues(result).Inc()
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Combine chains several hook sets so each callback runs in order.
func Combine(sets ...domain.LifecycleHooks) domain.LifecycleHooks {
	var out domain.LifecycleHooks
	for _, h := range sets {
		out.OnNodeEnter = chain(out.OnNodeEnter, h.OnNodeEnter)
		out.OnNodeLeave = chain(out.OnNodeLeave, h.OnNodeLeave)
		out.OnActionCall = chain(out.OnActionCall, h.OnActionCall)
		out.OnActionReturn = chain(out.OnActionReturn, h.OnActionReturn)
		out.OnTurnEnd = chain(out.OnTurnEnd, h.OnTurnEnd)
	}
	return out
}

func chain[E any](a, b func(context.Context, E)) func(context.Context, E) {
	switch {
	case a == nil:
		return b
	case b == nil:
		return a
	}
	return func(ctx context.Context, e E) {
		a(ctx, e)
		b(ctx, e)
	}
}
