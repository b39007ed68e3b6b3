// Package metrics provides Prometheus-based metrics recording and querying
// for patent analysis runs.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusRecorder records per-run LLM and workflow metrics.
type PrometheusRecorder struct {
	requestsTotal   *prometheus.CounterVec
	tokensTotal     *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	phaseDuration   *prometheus.HistogramVec
	conflictsTotal  *prometheus.CounterVec
	fallbacksTotal  *prometheus.CounterVec
}

// NewPrometheusRecorder creates a new Prometheus-based metrics recorder.
func NewPrometheusRecorder() *PrometheusRecorder {
	return &PrometheusRecorder{
		requestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "llm_requests_total",
				Help: "Total number of LLM requests by model, document, agent and status",
			},
			[]string{"model", "document_id", "agent", "status", "error_type"},
		),
		tokensTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "llm_tokens_total",
				Help: "Total number of tokens used in LLM requests",
			},
			[]string{"model", "document_id", "agent", "type"},
		),
		requestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "llm_request_duration_seconds",
				Help:    "Duration of LLM requests in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"model", "document_id", "agent"},
		),
		phaseDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "workflow_phase_duration_seconds",
				Help:    "Duration of workflow phases in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"phase"},
		),
		conflictsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "workflow_conflicts_total",
				Help: "Cross-validation conflicts detected, by type and severity",
			},
			[]string{"type", "severity"},
		),
		fallbacksTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "workflow_agent_fallbacks_total",
				Help: "Agent runs that ended in a fallback result",
			},
			[]string{"agent", "reason"},
		),
	}
}

// ObserveRequest records metrics for a completed LLM request.
func (p *PrometheusRecorder) ObserveRequest(
	model, documentID, agent string,
	promptTokens, completionTokens int,
	success bool,
	errorType string,
	duration time.Duration,
) {
	status := "success"
	if !success {
		status = "error"
	}

	p.requestsTotal.WithLabelValues(model, documentID, agent, status, errorType).Inc()

	if success {
		p.tokensTotal.WithLabelValues(model, documentID, agent, "prompt").Add(float64(promptTokens))
		p.tokensTotal.WithLabelValues(model, documentID, agent, "completion").Add(float64(completionTokens))
	}

	p.requestDuration.WithLabelValues(model, documentID, agent).Observe(duration.Seconds())
}

// ObservePhase records a workflow phase duration.
func (p *PrometheusRecorder) ObservePhase(phase string, duration time.Duration) {
	p.phaseDuration.WithLabelValues(phase).Observe(duration.Seconds())
}

// IncConflict counts a cross-validation conflict.
func (p *PrometheusRecorder) IncConflict(conflictType, severity string) {
	p.conflictsTotal.WithLabelValues(conflictType, severity).Inc()
}

// IncFallback counts an agent fallback.
func (p *PrometheusRecorder) IncFallback(agent, reason string) {
	p.fallbacksTotal.WithLabelValues(agent, reason).Inc()
}
