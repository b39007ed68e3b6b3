package agents

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"time"

	"patentflow/pkg/config"
	"patentflow/pkg/eventsink"
	"patentflow/pkg/llm"
	"patentflow/pkg/llm/llmerrors"
	"patentflow/pkg/logx"
	"patentflow/pkg/memory"
	"patentflow/pkg/workflow"
)

// Analyzer is the contract every analysis agent satisfies. Analyze returns
// an error only for infrastructure failures (LLM transport, credentials);
// content-level problems become issues inside the result.
type Analyzer interface {
	Name() string
	Analyze(ctx context.Context, state workflow.State, slice memory.ContextSlice) (workflow.AgentResult, error)
}

// FallbackRecorder counts fallback results, satisfied by the Prometheus
// recorder. Nil-able so tests and minimal deployments skip metrics.
type FallbackRecorder interface {
	IncFallback(agent, reason string)
}

// FailureFallback is the degraded result produced when an agent cannot
// complete at all: zero confidence and a single high-severity marker issue.
// The workflow keeps going; the report shows exactly what is missing.
func FailureFallback(agentName string, cause error) workflow.AgentResult {
	failType := agentName + "_analysis_failed"
	msg := "analysis unavailable"
	if cause != nil {
		msg = cause.Error()
	}
	return workflow.AgentResult{
		Kind:       workflow.ResultFallback,
		Agent:      agentName,
		Type:       failType,
		Confidence: 0.0,
		Issues: []workflow.Issue{{
			Type:       failType,
			Severity:   workflow.SeverityHigh,
			Message:    msg,
			Suggestion: "Re-run the analysis once the underlying service recovers",
		}},
		Error:     msg,
		Timestamp: time.Now().UTC(),
	}
}

// ParseFallback is the degraded result for an unparseable model response.
// The model did answer, so confidence stays at the neutral 0.5 and the
// deterministic findings gathered before the LLM call are preserved.
func ParseFallback(agentName string, deterministicIssues []workflow.Issue, cause error) workflow.AgentResult {
	issues := append([]workflow.Issue{}, deterministicIssues...)
	issues = append(issues, workflow.Issue{
		Type:       "analysis_error",
		Severity:   workflow.SeverityLow,
		Message:    "AI response parsing failed",
		Suggestion: "Manual review recommended",
	})
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	return workflow.AgentResult{
		Kind:       workflow.ResultFallback,
		Agent:      agentName,
		Type:       agentName + "_analysis",
		Confidence: 0.5,
		Issues:     issues,
		Error:      msg,
		Timestamp:  time.Now().UTC(),
	}
}

// Runner executes agents under the workflow's retry and persistence
// contract: transient failures are retried with backoff, exhaustion yields
// a fallback result, and whatever result emerges is persisted to the
// episodic tier keyed by (document, agent) so later runs can retrieve it.
type Runner struct {
	store    *memory.Store
	sink     eventsink.Sink
	retry    config.RetryPolicy
	recorder FallbackRecorder
	logger   *logx.Logger
}

// NewRunner creates an agent runner. recorder may be nil.
func NewRunner(store *memory.Store, sink eventsink.Sink, retry config.RetryPolicy, recorder FallbackRecorder) *Runner {
	if sink == nil {
		sink = eventsink.NoopSink{}
	}
	return &Runner{
		store:    store,
		sink:     sink,
		retry:    retry,
		recorder: recorder,
		logger:   logx.NewLogger("agent-runner"),
	}
}

// Run executes one agent with retries and always returns a usable result;
// it never returns an error. The returned attempt count is the number of
// retries consumed (0 when the first attempt succeeded).
func (r *Runner) Run(ctx context.Context, agent Analyzer, state workflow.State, slice memory.ContextSlice) (workflow.AgentResult, int) {
	name := agent.Name()
	ctx = llm.WithDocumentID(ctx, state.DocumentID)
	r.emit(eventsink.Event{
		Type:       eventsink.TypeAgentProgress,
		DocumentID: state.DocumentID,
		Agent:      name,
		Message:    "analysis started",
		Timestamp:  time.Now().UTC(),
	})

	var result workflow.AgentResult
	var lastErr error
	retries := 0

attempts:
	for attempt := 0; attempt <= r.retry.MaxRetries; attempt++ {
		if attempt > 0 {
			retries = attempt
			delay := r.backoffDelay(attempt)
			r.emit(eventsink.Event{
				Type:       eventsink.TypeAgentRetry,
				DocumentID: state.DocumentID,
				Agent:      name,
				Message:    fmt.Sprintf("retry %d after %v: %v", attempt, delay, lastErr),
				Data:       map[string]any{"attempt": attempt},
				Timestamp:  time.Now().UTC(),
			})

			select {
			case <-ctx.Done():
				lastErr = ctx.Err()
				break attempts
			case <-time.After(delay):
			}
		}

		res, err := agent.Analyze(ctx, state, slice)
		if err == nil {
			result = res
			lastErr = nil
			break
		}
		lastErr = err

		switch llmerrors.TypeOf(err) {
		case llmerrors.ErrorTypeAuth:
			// Missing or rejected credentials never self-heal; fall back now.
			r.logger.Error("agent %s configuration error, falling back: %v", name, err)
			break attempts
		case llmerrors.ErrorTypeBadPrompt, llmerrors.ErrorTypeParse:
			// Deterministic failures; retrying reproduces them.
			break attempts
		case llmerrors.ErrorTypeServiceUnavailable:
			// The LLM client already exhausted its own retries; another
			// round here would multiply the call budget.
			break attempts
		default:
			// Transient, rate-limit, empty-response, unknown: retry.
		}
	}

	if lastErr != nil {
		result = FailureFallback(name, lastErr)
		if r.recorder != nil {
			r.recorder.IncFallback(name, llmerrors.TypeOf(lastErr).String())
		}
		r.emit(eventsink.Event{
			Type:       eventsink.TypeAgentFallback,
			DocumentID: state.DocumentID,
			Agent:      name,
			Message:    lastErr.Error(),
			Timestamp:  time.Now().UTC(),
		})
	}

	r.persistFinding(ctx, state, name, result)

	r.emit(eventsink.Event{
		Type:       eventsink.TypeAgentProgress,
		DocumentID: state.DocumentID,
		Agent:      name,
		Message:    "analysis finished",
		Data: map[string]any{
			"kind":       string(result.Kind),
			"confidence": result.Confidence,
			"issues":     len(result.Issues),
		},
		Timestamp: time.Now().UTC(),
	})

	return result, retries
}

// persistFinding writes the agent's result to the episodic tier under a
// deterministic key so a retried run overwrites rather than duplicates.
// Storage failures degrade memory, not the analysis: log and continue.
func (r *Runner) persistFinding(ctx context.Context, state workflow.State, agentName string, result workflow.AgentResult) {
	payload, err := json.Marshal(result)
	if err != nil {
		r.logger.Warn("could not serialize %s finding for storage: %v", agentName, err)
		return
	}

	id := memory.FindingID(state.DocumentID, agentName)
	_, err = r.store.AddWithID(ctx, id, memory.TierEpisodic, string(payload), map[string]string{
		memory.MetaClientID:   state.ClientID,
		memory.MetaDocumentID: state.DocumentID,
		memory.MetaAgentName:  agentName,
		memory.MetaRecordType: memory.RecordTypeFinding,
		"confidence":          strconv.FormatFloat(result.Confidence, 'f', 2, 64),
		"issues_count":        strconv.Itoa(len(result.Issues)),
	})
	if err != nil {
		r.logger.Warn("persisting %s finding failed, continuing: %v", agentName, err)
	}
}

func (r *Runner) backoffDelay(attempt int) time.Duration {
	delay := time.Duration(float64(r.retry.InitialDelay) * math.Pow(2, float64(attempt-1)))
	if r.retry.MaxDelay > 0 && delay > r.retry.MaxDelay {
		delay = r.retry.MaxDelay
	}
	return delay
}

// emit delivers an event, swallowing sink failures after logging them.
func (r *Runner) emit(event eventsink.Event) {
	if err := r.sink.Send(event); err != nil {
		r.logger.Debug("event sink send failed: %v", err)
	}
}
