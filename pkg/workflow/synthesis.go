package workflow

import (
	"fmt"
	"math"
	"sort"
	"time"

	"patentflow/pkg/config"
)

// WorkflowVersion is stamped into every report's metadata.
const WorkflowVersion = "3.0"

// Report statuses.
const (
	StatusComplete    = "complete"
	StatusIssuesFound = "issues_found"
	StatusError       = "error"
)

// Conflict and resolution type names.
const (
	ConflictConfidenceDivergence = "confidence_divergence"
	ConflictIssueCountMismatch   = "issue_count_mismatch"

	StrategyLegalPrecedence = "legal_precedence"
	StrategyPreferLegal     = "prefer_legal"
)

// ReportMetadata describes how a report was produced.
type ReportMetadata struct {
	AgentsUsed      []string `json:"agents_used"`
	WorkflowVersion string   `json:"workflow_version"`
}

// Report is the final output of a successful workflow run.
type Report struct {
	Status            string         `json:"status"`
	DocumentID        string         `json:"document_id"`
	AnalysisTimestamp time.Time      `json:"analysis_timestamp"`
	OverallScore      float64        `json:"overall_score"`
	AllIssues         []Issue        `json:"all_issues"`
	Recommendations   []string       `json:"recommendations"`
	Conflicts         []Conflict     `json:"conflicts,omitempty"`
	Resolutions       []Resolution   `json:"resolutions,omitempty"`
	Metadata          ReportMetadata `json:"analysis_metadata"`
}

// ErrorReport is returned when a phase fails fatally. The run never
// surfaces a raw error to the caller; it surfaces this envelope.
type ErrorReport struct {
	Status     string    `json:"status"` // always "error"
	Error      string    `json:"error"`
	DocumentID string    `json:"document_id"`
	Timestamp  time.Time `json:"timestamp"`
}

// NewErrorReport builds the error envelope for a failed run.
func NewErrorReport(documentID string, err error) ErrorReport {
	return ErrorReport{
		Status:     StatusError,
		Error:      err.Error(),
		DocumentID: documentID,
		Timestamp:  time.Now().UTC(),
	}
}

// DetectConflicts compares every agent pair and returns the conflicts found.
// Pure function over its inputs; agent pairs are visited in sorted name
// order so output ordering is deterministic.
func DetectConflicts(results map[string]AgentResult, policy config.ConflictPolicy) []Conflict {
	names := make([]string, 0, len(results))
	for name := range results {
		names = append(names, name)
	}
	sort.Strings(names)

	var conflicts []Conflict
	for i := 0; i < len(names); i++ {
		for j := i + 1; j < len(names); j++ {
			a, b := results[names[i]], results[names[j]]

			// A confidence gap above the threshold means the agents read the
			// same document very differently. Strictly greater-than: a gap
			// exactly at the threshold is tolerated.
			delta := math.Abs(a.Confidence - b.Confidence)
			if delta > policy.ConfidenceDelta {
				conflicts = append(conflicts, Conflict{
					Type:     ConflictConfidenceDivergence,
					Severity: SeverityHigh,
					AgentA:   a.Agent,
					AgentB:   b.Agent,
					Delta:    delta,
					Description: fmt.Sprintf("confidence gap %.2f between %s (%.2f) and %s (%.2f)",
						delta, a.Agent, a.Confidence, b.Agent, b.Confidence),
				})
			}

			// Strongly asymmetric issue counts suggest one agent missed a
			// whole class of problems. Both the ratio and the absolute gap
			// must trip to avoid flagging 1-vs-3 noise.
			hi, lo := len(a.Issues), len(b.Issues)
			if lo > hi {
				hi, lo = lo, hi
			}
			gap := hi - lo
			ratioTripped := (lo == 0 && hi > 0) || (lo > 0 && float64(hi)/float64(lo) >= policy.IssueCountRatio)
			if ratioTripped && gap >= policy.IssueCountGap {
				conflicts = append(conflicts, Conflict{
					Type:     ConflictIssueCountMismatch,
					Severity: SeverityMedium,
					AgentA:   a.Agent,
					AgentB:   b.Agent,
					Description: fmt.Sprintf("issue count mismatch: %s found %d, %s found %d",
						a.Agent, len(a.Issues), b.Agent, len(b.Issues)),
				})
			}
		}
	}

	return conflicts
}

// ResolveConflicts applies the fixed precedence rules. Legal analysis wins
// every disagreement; confidence divergences additionally get flagged for
// manual attorney review because a large gap means at least one agent is
// badly wrong.
func ResolveConflicts(conflicts []Conflict) []Resolution {
	resolutions := make([]Resolution, 0, len(conflicts))
	for _, c := range conflicts {
		switch c.Type {
		case ConflictConfidenceDivergence:
			resolutions = append(resolutions, Resolution{
				ConflictType: c.Type,
				Strategy:     StrategyLegalPrecedence,
				ManualReview: true,
				Description:  "legal analysis takes precedence; flagged for manual review due to confidence gap",
			})
		case ConflictIssueCountMismatch:
			resolutions = append(resolutions, Resolution{
				ConflictType: c.Type,
				Strategy:     StrategyPreferLegal,
				ManualReview: false,
				Description:  "legal agent's issue set preferred for count mismatches",
			})
		default:
			resolutions = append(resolutions, Resolution{
				ConflictType: c.Type,
				Strategy:     StrategyLegalPrecedence,
				ManualReview: true,
				Description:  "unknown conflict type, defaulting to legal precedence with manual review",
			})
		}
	}
	return resolutions
}

// OverallScore is the arithmetic mean of all agent confidences, 0.0 when no
// results exist. Fallback results count: a failed agent drags the score
// down rather than disappearing from it.
func OverallScore(results map[string]AgentResult) float64 {
	if len(results) == 0 {
		return 0.0
	}
	var sum float64
	for _, r := range results {
		sum += r.Confidence
	}
	return math.Round(sum/float64(len(results))*100) / 100
}

// Synthesize builds the final report from a completed state.
func Synthesize(state State) Report {
	agents := make([]string, 0, len(state.AgentResults))
	for name := range state.AgentResults {
		agents = append(agents, name)
	}
	sort.Strings(agents)

	var allIssues []Issue
	var recommendations []string
	for _, name := range agents {
		r := state.AgentResults[name]
		allIssues = append(allIssues, r.Issues...)
		recommendations = append(recommendations, r.Recommendations...)
	}
	recommendations = append(recommendations, state.Recommendations...)

	status := StatusComplete
	for _, issue := range allIssues {
		if issue.Severity == SeverityHigh {
			status = StatusIssuesFound
			break
		}
	}

	if allIssues == nil {
		allIssues = []Issue{}
	}

	return Report{
		Status:            status,
		DocumentID:        state.DocumentID,
		AnalysisTimestamp: time.Now().UTC(),
		OverallScore:      OverallScore(state.AgentResults),
		AllIssues:         allIssues,
		Recommendations:   dedupe(recommendations),
		Conflicts:         state.Conflicts,
		Resolutions:       state.Resolutions,
		Metadata: ReportMetadata{
			AgentsUsed:      agents,
			WorkflowVersion: WorkflowVersion,
		},
	}
}

// dedupe removes duplicate strings preserving first-seen order.
func dedupe(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}
