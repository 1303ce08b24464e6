// Package telemetry tracks run metrics and LLM spend.
package telemetry

import (
	"log"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/mohammad-safakhou/alphy/config"
)

// Telemetry aggregates prometheus metrics and a cost tracker for LLM
// usage. It owns a private registry so multiple instances (tests, the
// CLI and the server) never collide.
type Telemetry struct {
	registry *prometheus.Registry

	llmRequests   *prometheus.CounterVec
	llmTokens     *prometheus.CounterVec
	llmCost       prometheus.Counter
	phaseDuration *prometheus.HistogramVec
	toolCalls     *prometheus.CounterVec
	runsTotal     *prometheus.CounterVec

	mu          sync.Mutex
	totalCost   float64
	costByModel map[string]float64
	costEnabled bool

	logger *log.Logger
}

func New(cfg config.TelemetryConfig) *Telemetry {
	reg := prometheus.NewRegistry()

	t := &Telemetry{
		registry: reg,
		llmRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "alphy_llm_requests_total",
			Help: "LLM requests by phase, model and outcome.",
		}, []string{"phase", "model", "outcome"}),
		llmTokens: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "alphy_llm_tokens_total",
			Help: "LLM tokens by direction.",
		}, []string{"model", "direction"}),
		llmCost: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "alphy_llm_cost_dollars_total",
			Help: "Estimated LLM spend in dollars.",
		}),
		phaseDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "alphy_phase_duration_seconds",
			Help:    "Wall time per workflow phase.",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 10),
		}, []string{"phase"}),
		toolCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "alphy_tool_calls_total",
			Help: "Tool invocations by tool and outcome.",
		}, []string{"tool", "outcome"}),
		runsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "alphy_runs_total",
			Help: "Research runs by outcome.",
		}, []string{"outcome"}),
		costByModel: map[string]float64{},
		costEnabled: cfg.CostTracking,
		logger:      log.New(log.Writer(), "[TELEMETRY] ", log.LstdFlags),
	}

	reg.MustRegister(t.llmRequests, t.llmTokens, t.llmCost, t.phaseDuration, t.toolCalls, t.runsTotal)
	return t
}

// Registry exposes the metric registry for an HTTP handler.
func (t *Telemetry) Registry() *prometheus.Registry { return t.registry }

// RecordLLMCall records one chat completion.
func (t *Telemetry) RecordLLMCall(phase, model string, inTokens, outTokens int64, cost float64, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	t.llmRequests.WithLabelValues(phase, model, outcome).Inc()
	t.llmTokens.WithLabelValues(model, "input").Add(float64(inTokens))
	t.llmTokens.WithLabelValues(model, "output").Add(float64(outTokens))
	if cost > 0 {
		t.llmCost.Add(cost)
	}

	if t.costEnabled && cost > 0 {
		t.mu.Lock()
		t.totalCost += cost
		t.costByModel[model] += cost
		t.mu.Unlock()
	}
}

// RecordToolCall records one tool invocation.
func (t *Telemetry) RecordToolCall(tool string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	t.toolCalls.WithLabelValues(tool, outcome).Inc()
}

// RecordPhase records a completed phase.
func (t *Telemetry) RecordPhase(phase string, d time.Duration) {
	t.phaseDuration.WithLabelValues(phase).Observe(d.Seconds())
}

// RecordRun records a finished run.
func (t *Telemetry) RecordRun(err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	t.runsTotal.WithLabelValues(outcome).Inc()
}

// TotalCost returns the accumulated spend estimate.
func (t *Telemetry) TotalCost() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.totalCost
}

// LogCostSummary prints the spend breakdown by model.
func (t *Telemetry) LogCostSummary() {
	if !t.costEnabled {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.logger.Printf("total estimated spend: $%.4f", t.totalCost)
	for model, cost := range t.costByModel {
		t.logger.Printf("  %s: $%.4f", model, cost)
	}
}
