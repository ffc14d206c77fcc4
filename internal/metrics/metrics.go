// Package metrics exports consultation telemetry to Prometheus and keeps
// per-model aggregates for the CLI and API.
package metrics

import (
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hugo-lorenzo-mato/quorum-consensus/internal/core"
)

// DefaultNamespace prefixes every exported metric.
const DefaultNamespace = "quorum_consensus"

// Outcome labels for consultations.
const (
	OutcomeComplete = "complete"
	OutcomeError    = "error"
)

// Collector records consultation telemetry. It satisfies the orchestrator's
// Observer interface and is safe for concurrent use.
type Collector struct {
	registry *prometheus.Registry

	modelCalls       *prometheus.CounterVec
	modelDuration    *prometheus.HistogramVec
	tokens           *prometheus.CounterVec
	phaseDuration    *prometheus.HistogramVec
	phaseSuccesses   *prometheus.HistogramVec
	consultations    *prometheus.CounterVec
	consultDuration  prometheus.Histogram
	refinedResponses prometheus.Counter

	mu     sync.RWMutex
	models map[string]*ModelStats
}

// ModelStats aggregates one model's calls since process start.
type ModelStats struct {
	Model         string        `json:"model"`
	Calls         int           `json:"calls"`
	Successes     int           `json:"successes"`
	Errors        int           `json:"errors"`
	Timeouts      int           `json:"timeouts"`
	InputTokens   int           `json:"input_tokens"`
	OutputTokens  int           `json:"output_tokens"`
	TotalDuration time.Duration `json:"total_duration"`
}

// AvgDuration returns the mean call duration.
func (s ModelStats) AvgDuration() time.Duration {
	if s.Calls == 0 {
		return 0
	}
	return s.TotalDuration / time.Duration(s.Calls)
}

// NewCollector creates a collector backed by its own registry, so several
// collectors can coexist in one process.
func NewCollector(namespace string) *Collector {
	if namespace == "" {
		namespace = DefaultNamespace
	}
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Collector{
		registry: reg,
		models:   make(map[string]*ModelStats),

		modelCalls: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "model_calls_total",
			Help:      "Provider calls by model, phase and status",
		}, []string{"model", "phase", "status"}),

		modelDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "model_call_duration_seconds",
			Help:      "Provider call latency in seconds",
			Buckets:   []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300, 600, 900},
		}, []string{"model", "phase"}),

		tokens: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tokens_total",
			Help:      "Tokens reported by providers",
		}, []string{"model", "type"}),

		phaseDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "phase_duration_seconds",
			Help:      "Wall-clock duration of a consultation phase",
			Buckets:   []float64{1, 5, 10, 30, 60, 120, 300, 600, 900, 1200},
		}, []string{"phase"}),

		phaseSuccesses: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "phase_successful_models",
			Help:      "Number of models that succeeded in a phase",
			Buckets:   prometheus.LinearBuckets(0, 1, 9),
		}, []string{"phase"}),

		consultations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "consultations_total",
			Help:      "Consultations by outcome and workflow type",
		}, []string{"outcome", "workflow"}),

		consultDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "consultation_duration_seconds",
			Help:      "End-to-end consultation duration",
			Buckets:   []float64{1, 5, 10, 30, 60, 120, 300, 600, 1200, 1800},
		}),

		refinedResponses: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "refined_responses_total",
			Help:      "Responses replaced by a successful refinement",
		}),
	}
}

// ObserveResult records one provider call.
func (c *Collector) ObserveResult(r core.ConsultationResult) {
	c.modelCalls.WithLabelValues(r.Model, string(r.Phase), string(r.Status)).Inc()
	c.modelDuration.WithLabelValues(r.Model, string(r.Phase)).Observe(r.Elapsed.Seconds())
	if r.OK() {
		c.tokens.WithLabelValues(r.Model, "input").Add(float64(r.Usage.InputTokens))
		c.tokens.WithLabelValues(r.Model, "output").Add(float64(r.Usage.OutputTokens))
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.models[r.Model]
	if !ok {
		s = &ModelStats{Model: r.Model}
		c.models[r.Model] = s
	}
	s.Calls++
	s.TotalDuration += r.Elapsed
	switch r.Status {
	case core.StatusSuccess:
		s.Successes++
		s.InputTokens += r.Usage.InputTokens
		s.OutputTokens += r.Usage.OutputTokens
	case core.StatusTimeout:
		s.Timeouts++
	default:
		s.Errors++
	}
}

// ObservePhase records one completed phase.
func (c *Collector) ObservePhase(phase core.Phase, elapsed time.Duration, outcome core.PhaseOutcome) {
	c.phaseDuration.WithLabelValues(string(phase)).Observe(elapsed.Seconds())
	c.phaseSuccesses.WithLabelValues(string(phase)).Observe(float64(len(outcome.Successes())))
}

// ObserveConsultation records one finished consultation. report is nil
// when the call failed as a whole.
func (c *Collector) ObserveConsultation(report *core.ConsensusReport, elapsed time.Duration, err error) {
	c.consultDuration.Observe(elapsed.Seconds())
	if err != nil || report == nil {
		c.consultations.WithLabelValues(OutcomeError, "").Inc()
		return
	}
	c.consultations.WithLabelValues(OutcomeComplete, report.Metadata.WorkflowType).Inc()
	c.refinedResponses.Add(float64(report.Metadata.ModelsWithRefinements))
}

// Snapshot returns per-model aggregates sorted by model.
func (c *Collector) Snapshot() []ModelStats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]ModelStats, 0, len(c.models))
	for _, s := range c.models {
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Model < out[j].Model })
	return out
}

// Registry exposes the underlying registry.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}
