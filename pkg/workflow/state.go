// Package workflow implements the multi-agent patent analysis pipeline:
// typed run state, the four-phase coordinator, and the deterministic
// conflict/synthesis rules applied across agent results.
package workflow

import (
	"time"
)

// Phase identifies where a workflow run currently is.
type Phase string

const (
	PhaseInitializing     Phase = "initializing"
	PhaseStructure        Phase = "structure_analysis"
	PhaseParallel         Phase = "parallel_analysis"
	PhaseCrossValidation  Phase = "cross_validation"
	PhaseSynthesis        Phase = "synthesis"
	PhaseComplete         Phase = "complete"
	PhaseFailed           Phase = "error"
)

// Severity grades an issue or conflict.
type Severity string

const (
	SeverityHigh   Severity = "high"
	SeverityMedium Severity = "medium"
	SeverityLow    Severity = "low"
)

// TargetLocation pinpoints the document text an issue applies to.
type TargetLocation struct {
	Text     string `json:"text,omitempty"`
	Section  string `json:"section,omitempty"`
	Position string `json:"position,omitempty"` // before, after, replace
}

// ReplacementText is the corrected text an issue proposes for its target.
type ReplacementText struct {
	Type string `json:"type,omitempty"` // add, replace, insert
	Text string `json:"text,omitempty"`
}

// Issue is a single problem found by an agent. Target and Replacement are
// optional, but always travel together: an issue proposing an edit names
// both the exact text to find and the exact text to put there, so the
// editor can apply it mechanically.
type Issue struct {
	Type        string           `json:"type"`
	Severity    Severity         `json:"severity"`
	Message     string           `json:"message"`
	Suggestion  string           `json:"suggestion,omitempty"`
	Target      *TargetLocation  `json:"target,omitempty"`
	Replacement *ReplacementText `json:"replacement,omitempty"`
}

// ResultKind tags an AgentResult as a real analysis or a degraded fallback.
type ResultKind string

const (
	// ResultSuccess is a completed analysis, possibly with issues.
	ResultSuccess ResultKind = "success"
	// ResultFallback is a placeholder produced when the agent could not
	// complete (retries exhausted, parse failure, missing credentials).
	ResultFallback ResultKind = "fallback"
)

// AgentResult is the validated output of one agent for one document. It is
// a tagged union: Kind selects which fields are meaningful, and validation
// happens once, at construction, never downstream.
type AgentResult struct {
	Kind            ResultKind     `json:"kind"`
	Agent           string         `json:"agent"`
	Type            string         `json:"type"`
	Confidence      float64        `json:"confidence"`
	Issues          []Issue        `json:"issues"`
	Recommendations []string       `json:"recommendations,omitempty"`
	LegalReferences []string       `json:"legal_references,omitempty"`
	Details         map[string]any `json:"details,omitempty"`
	Error           string         `json:"error,omitempty"` // fallback only
	Timestamp       time.Time      `json:"timestamp"`
}

// ClampConfidence forces a confidence score into [0, 1]; NaN becomes the
// neutral 0.5.
func ClampConfidence(c float64) float64 {
	if c != c { // NaN
		return 0.5
	}
	if c < 0 {
		return 0
	}
	if c > 1 {
		return 1
	}
	return c
}

// Conflict records a disagreement between two agents found during
// cross-validation.
type Conflict struct {
	Type        string   `json:"type"` // confidence_divergence, issue_count_mismatch
	Severity    Severity `json:"severity"`
	AgentA      string   `json:"agent_a"`
	AgentB      string   `json:"agent_b"`
	Description string   `json:"description"`
	Delta       float64  `json:"delta,omitempty"`
}

// Resolution records how a conflict was settled.
type Resolution struct {
	ConflictType string `json:"conflict_type"`
	Strategy     string `json:"strategy"` // legal_precedence, prefer_legal
	ManualReview bool   `json:"manual_review"`
	Description  string `json:"description"`
}

// State is the immutable record threaded through workflow phases. Update
// methods return a modified copy; shared slices are never mutated in place,
// so a state captured by an event sink or a test stays stable.
type State struct {
	DocumentID   string
	ClientID     string
	DocumentText string

	CurrentPhase    Phase
	AgentResults    map[string]AgentResult
	Conflicts       []Conflict
	Resolutions     []Resolution
	Recommendations []string
	Errors          []string
	RetryAttempts   map[string]int

	StartedAt time.Time
}

// NewState creates the initial state for a run.
func NewState(documentID, clientID, documentText string) State {
	return State{
		DocumentID:   documentID,
		ClientID:     clientID,
		DocumentText: documentText,
		CurrentPhase: PhaseInitializing,
		AgentResults: map[string]AgentResult{},
		RetryAttempts: map[string]int{},
		StartedAt:    time.Now().UTC(),
	}
}

// WithPhase returns a copy with the phase advanced.
func (s State) WithPhase(phase Phase) State {
	s.CurrentPhase = phase
	return s
}

// WithAgentResult returns a copy with the agent's result recorded. Each
// agent writes its key once per run; a retry that produces a new result
// overwrites the previous one.
func (s State) WithAgentResult(agent string, result AgentResult) State {
	results := make(map[string]AgentResult, len(s.AgentResults)+1)
	for k, v := range s.AgentResults {
		results[k] = v
	}
	results[agent] = result
	s.AgentResults = results
	return s
}

// WithConflicts returns a copy with conflicts appended.
func (s State) WithConflicts(conflicts ...Conflict) State {
	s.Conflicts = append(append([]Conflict{}, s.Conflicts...), conflicts...)
	return s
}

// WithResolutions returns a copy with resolutions appended.
func (s State) WithResolutions(resolutions ...Resolution) State {
	s.Resolutions = append(append([]Resolution{}, s.Resolutions...), resolutions...)
	return s
}

// WithRecommendations returns a copy with recommendations appended.
func (s State) WithRecommendations(recs ...string) State {
	s.Recommendations = append(append([]string{}, s.Recommendations...), recs...)
	return s
}

// WithError returns a copy with an error message appended.
func (s State) WithError(msg string) State {
	s.Errors = append(append([]string{}, s.Errors...), msg)
	return s
}

// WithRetryAttempt returns a copy with the agent's retry counter set.
func (s State) WithRetryAttempt(agent string, attempts int) State {
	counts := make(map[string]int, len(s.RetryAttempts)+1)
	for k, v := range s.RetryAttempts {
		counts[k] = v
	}
	counts[agent] = attempts
	s.RetryAttempts = counts
	return s
}

// Result returns the recorded result for an agent, if any.
func (s State) Result(agent string) (AgentResult, bool) {
	r, ok := s.AgentResults[agent]
	return r, ok
}
