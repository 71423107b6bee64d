// Package metrics holds the Prometheus collectors of the checkout service.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	registry    *prometheus.Registry
	transitions *prometheus.CounterVec
	polls       *prometheus.CounterVec
	fallbacks   *prometheus.CounterVec
	sessions    prometheus.Gauge
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "checkout_transitions_total",
			Help: "Checkout state transitions by target state.",
		}, []string{"to"}),
		polls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "checkout_payment_polls_total",
			Help: "Payment status reads issued by pollers, by outcome.",
		}, []string{"outcome"}),
		fallbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "checkout_resolver_fallbacks_total",
			Help: "Degraded resolver answers, by resolver.",
		}, []string{"resolver"}),
		sessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "checkout_active_sessions",
			Help: "Checkout orchestrators currently held in memory.",
		}),
	}
	reg.MustRegister(
		m.transitions, m.polls, m.fallbacks, m.sessions,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Metrics) Transition(to string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(to).Inc()
}

func (m *Metrics) Poll(outcome string) {
	if m == nil {
		return
	}
	m.polls.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ResolverFallback(resolver string) {
	if m == nil {
		return
	}
	m.fallbacks.WithLabelValues(resolver).Inc()
}

func (m *Metrics) SessionOpened() {
	if m == nil {
		return
	}
	m.sessions.Inc()
}

func (m *Metrics) SessionClosed() {
	if m == nil {
		return
	}
	m.sessions.Dec()
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.HandlerFor(prometheus.NewRegistry(), promhttp.HandlerOpts{})
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
