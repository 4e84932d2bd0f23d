// Package metrics exposes the Prometheus counters of the back-office jobs
// and webhook handling. A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	registry *prometheus.Registry

	matchDispatch     *prometheus.CounterVec
	proposalDecisions *prometheus.CounterVec
	sweepItems        *prometheus.CounterVec
	sweepDuration     *prometheus.HistogramVec
	webhookEvents     *prometheus.CounterVec
	emailDelivery     *prometheus.CounterVec
	tokenValidations  *prometheus.CounterVec
}

// New registers all collectors on a fresh registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(registry)

	return &Metrics{
		registry: registry,
		matchDispatch: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "leadhub_match_dispatch_total",
				Help: "New-lead notifications per provider by result",
			},
			[]string{"result"},
		),
		proposalDecisions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "leadhub_proposal_decisions_total",
				Help: "Accept and reject attempts by outcome",
			},
			[]string{"decision", "outcome"},
		),
		sweepItems: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "leadhub_sweep_items_total",
				Help: "Items handled by the periodic passes",
			},
			[]string{"job", "outcome"},
		),
		sweepDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "leadhub_sweep_duration_seconds",
				Help:    "Duration of a periodic pass",
				Buckets: prometheus.ExponentialBuckets(0.01, 4, 8),
			},
			[]string{"job"},
		),
		webhookEvents: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "leadhub_payment_webhooks_total",
				Help: "Payment gateway callbacks by outcome",
			},
			[]string{"outcome"},
		),
		emailDelivery: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "leadhub_email_delivery_total",
				Help: "Email delivery attempts by result",
			},
			[]string{"result"},
		),
		tokenValidations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "leadhub_token_validations_total",
				Help: "Access token validations by result",
			},
			[]string{"result"},
		),
	}
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) MatchDispatch(result string) {
	if m == nil {
		return
	}
	m.matchDispatch.WithLabelValues(result).Inc()
}

func (m *Metrics) ProposalDecision(decision, outcome string) {
	if m == nil {
		return
	}
	m.proposalDecisions.WithLabelValues(decision, outcome).Inc()
}

// SweepItems adds n items with the given outcome for job.
func (m *Metrics) SweepItems(job, outcome string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.sweepItems.WithLabelValues(job, outcome).Add(float64(n))
}

func (m *Metrics) ObserveSweep(job string, d time.Duration) {
	if m == nil {
		return
	}
	m.sweepDuration.WithLabelValues(job).Observe(d.Seconds())
}

func (m *Metrics) WebhookEvent(outcome string) {
	if m == nil {
		return
	}
	m.webhookEvents.WithLabelValues(outcome).Inc()
}

func (m *Metrics) EmailDelivery(result string) {
	if m == nil {
		return
	}
	m.emailDelivery.WithLabelValues(result).Inc()
}

func (m *Metrics) TokenValidation(result string) {
	if m == nil {
		return
	}
	m.tokenValidations.WithLabelValues(result).Inc()
}
