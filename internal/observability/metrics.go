package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Turn outcomes
const (
	OutcomeAnswered  = "answered"
	OutcomeRejected  = "rejected"
	OutcomeFailed    = "failed"
	OutcomeCancelled = "cancelled"
)

// Context edit policies
const (
	PolicyCollapseToolOutputs = "collapse_tool_outputs"
	PolicyEvictTurns          = "evict_turns"
)

// Metrics groups all Prometheus instruments used by the service.
type Metrics struct {
	Turns               *prometheus.CounterVec
	ContextEdits        *prometheus.CounterVec
	TokenUsage          *prometheus.HistogramVec
	FirstEventLatency   prometheus.Histogram
	PersistenceFailures prometheus.Counter
	SideTaskRetries     *prometheus.CounterVec
}

// NewMetrics registers the instruments with reg
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Turns: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "turns_total",
			Help:      "Conversation turns by outcome.",
		}, []string{"outcome"}),
		ContextEdits: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "context_edits_total",
			Help:      "Context editing policies applied before a turn.",
		}, []string{"policy"}),
		TokenUsage: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "turn_tokens",
			Help:      "Token usage of the primary call by kind.",
			Buckets:   prometheus.ExponentialBuckets(500, 2, 10),
		}, []string{"kind"}),
		FirstEventLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "first_event_latency_ms",
			Help:      "Latency from request to the first streamed event in milliseconds.",
			Buckets:   []float64{100, 250, 500, 1000, 2000, 4000, 8000, 16000},
		}),
		PersistenceFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "persistence_failures_total",
			Help:      "Turns that streamed but could not be stored.",
		}),
		SideTaskRetries: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "side_task_retries_total",
			Help:      "Retries of guardrail and side tasks by task.",
		}, []string{"task"}),
	}
}

// ObserveFirstEventLatency records the time to the first outward event
func (m *Metrics) ObserveFirstEventLatency(d time.Duration) {
	if m == nil {
		return
	}
	m.FirstEventLatency.Observe(float64(d.Milliseconds()))
}

// ObserveTurn counts a finished turn
func (m *Metrics) ObserveTurn(outcome string) {
	if m == nil {
		return
	}
	m.Turns.WithLabelValues(outcome).Inc()
}

// ObserveContextEdit counts an applied policy
func (m *Metrics) ObserveContextEdit(policy string) {
	if m == nil {
		return
	}
	m.ContextEdits.WithLabelValues(policy).Inc()
}

// ObserveTokenUsage records input, cached, output and total tokens
func (m *Metrics) ObserveTokenUsage(input, cached, output, total int) {
	if m == nil {
		return
	}
	m.TokenUsage.WithLabelValues("input").Observe(float64(input))
	m.TokenUsage.WithLabelValues("cached").Observe(float64(cached))
	m.TokenUsage.WithLabelValues("output").Observe(float64(output))
	m.TokenUsage.WithLabelValues("total").Observe(float64(total))
}

// ObservePersistenceFailure counts a lost turn
func (m *Metrics) ObservePersistenceFailure() {
	if m == nil {
		return
	}
	m.PersistenceFailures.Inc()
}

// ObserveSideTaskRetry counts a retried side task
func (m *Metrics) ObserveSideTaskRetry(task string) {
	if m == nil {
		return
	}
	m.SideTaskRetries.WithLabelValues(task).Inc()
}

// MetricsHandler serves the metrics gathered by g
func MetricsHandler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
