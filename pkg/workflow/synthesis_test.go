package workflow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"patentflow/pkg/config"
)

func testPolicy() config.ConflictPolicy {
	return config.Default().Conflict
}

func result(agent string, confidence float64, issues ...Issue) AgentResult {
	return AgentResult{
		Kind:       ResultSuccess,
		Agent:      agent,
		Type:       agent + "_analysis",
		Confidence: confidence,
		Issues:     issues,
	}
}

func nIssues(n int) []Issue {
	issues := make([]Issue, n)
	for i := range issues {
		issues[i] = Issue{Type: "clarity_issue", Severity: SeverityLow, Message: "unclear antecedent"}
	}
	return issues
}

func TestConfidenceDivergenceDetected(t *testing.T) {
	results := map[string]AgentResult{
		"structure": result("structure", 0.9),
		"legal":     result("legal", 0.4),
	}

	conflicts := DetectConflicts(results, testPolicy())

	require.Len(t, conflicts, 1, "a 0.5 gap must produce exactly one conflict")
	assert.Equal(t, ConflictConfidenceDivergence, conflicts[0].Type)
	assert.Equal(t, SeverityHigh, conflicts[0].Severity)
	assert.InDelta(t, 0.5, conflicts[0].Delta, 1e-9)
}

func TestConfidenceGapAtThresholdTolerated(t *testing.T) {
	results := map[string]AgentResult{
		"structure": result("structure", 0.8),
		"legal":     result("legal", 0.4),
	}

	conflicts := DetectConflicts(results, testPolicy())
	assert.Empty(t, conflicts, "gap exactly at the threshold is not a conflict")
}

func TestIssueCountMismatchNeedsRatioAndGap(t *testing.T) {
	policy := testPolicy()

	// Ratio trips (7/1 >= 3) and gap trips (6 >= 5).
	results := map[string]AgentResult{
		"structure": result("structure", 0.8, nIssues(7)...),
		"legal":     result("legal", 0.8, nIssues(1)...),
	}
	conflicts := DetectConflicts(results, policy)
	require.Len(t, conflicts, 1)
	assert.Equal(t, ConflictIssueCountMismatch, conflicts[0].Type)
	assert.Equal(t, SeverityMedium, conflicts[0].Severity)

	// Ratio trips (4/1 >= 3) but gap does not (3 < 5).
	results["structure"] = result("structure", 0.8, nIssues(4)...)
	assert.Empty(t, DetectConflicts(results, policy), "small absolute gaps are noise")

	// Gap trips (6 >= 5) but ratio does not (10/4 < 3).
	results["structure"] = result("structure", 0.8, nIssues(10)...)
	results["legal"] = result("legal", 0.8, nIssues(4)...)
	assert.Empty(t, DetectConflicts(results, policy))
}

func TestIssueCountMismatchZeroVersusMany(t *testing.T) {
	results := map[string]AgentResult{
		"structure": result("structure", 0.8, nIssues(6)...),
		"legal":     result("legal", 0.8),
	}

	conflicts := DetectConflicts(results, testPolicy())
	require.Len(t, conflicts, 1)
	assert.Equal(t, ConflictIssueCountMismatch, conflicts[0].Type)
}

func TestResolveConflictsStrategies(t *testing.T) {
	conflicts := []Conflict{
		{Type: ConflictConfidenceDivergence, Severity: SeverityHigh},
		{Type: ConflictIssueCountMismatch, Severity: SeverityMedium},
	}

	resolutions := ResolveConflicts(conflicts)
	require.Len(t, resolutions, 2)

	assert.Equal(t, StrategyLegalPrecedence, resolutions[0].Strategy)
	assert.True(t, resolutions[0].ManualReview, "confidence gaps require attorney review")

	assert.Equal(t, StrategyPreferLegal, resolutions[1].Strategy)
	assert.False(t, resolutions[1].ManualReview)
}

func TestOverallScoreMean(t *testing.T) {
	results := map[string]AgentResult{
		"structure": result("structure", 0.9),
		"legal":     result("legal", 0.4),
	}
	assert.InDelta(t, 0.65, OverallScore(results), 1e-9)

	results["novelty"] = result("novelty", 0.5)
	assert.InDelta(t, 0.6, OverallScore(results), 1e-9)
}

func TestOverallScoreRounding(t *testing.T) {
	results := map[string]AgentResult{
		"a": result("a", 0.333),
		"b": result("b", 0.333),
		"c": result("c", 0.333),
	}
	assert.Equal(t, 0.33, OverallScore(results))
}

func TestOverallScoreEmpty(t *testing.T) {
	assert.Equal(t, 0.0, OverallScore(nil))
	assert.Equal(t, 0.0, OverallScore(map[string]AgentResult{}))
}

func TestOverallScoreIncludesFallbacks(t *testing.T) {
	results := map[string]AgentResult{
		"structure": result("structure", 0.8),
		"legal": {
			Kind:       ResultFallback,
			Agent:      "legal",
			Confidence: 0.0,
		},
	}
	assert.InDelta(t, 0.4, OverallScore(results), 1e-9, "fallbacks drag the score down")
}

func TestSynthesizeStatusFromSeverity(t *testing.T) {
	state := NewState("doc-1", "acme", "text").
		WithAgentResult("structure", result("structure", 0.9,
			Issue{Type: "missing_section", Severity: SeverityMedium, Message: "no abstract"})).
		WithAgentResult("legal", result("legal", 0.85,
			Issue{Type: "clarity_issue", Severity: SeverityLow, Message: "vague term"}))

	report := Synthesize(state)
	assert.Equal(t, "complete", report.Status, "no high-severity issue means complete")

	state = state.WithAgentResult("legal", result("legal", 0.85,
		Issue{Type: "no_claims", Severity: SeverityHigh, Message: "no claims found"}))
	report = Synthesize(state)
	assert.Equal(t, StatusIssuesFound, report.Status)
}

func TestSynthesizeAggregates(t *testing.T) {
	state := NewState("doc-1", "acme", "text").
		WithAgentResult("structure", AgentResult{
			Kind: ResultSuccess, Agent: "structure", Confidence: 0.9,
			Issues:          nIssues(2),
			Recommendations: []string{"renumber claims", "shorten abstract"},
		}).
		WithAgentResult("legal", AgentResult{
			Kind: ResultSuccess, Agent: "legal", Confidence: 0.7,
			Issues:          nIssues(1),
			Recommendations: []string{"renumber claims", "add 112 support"},
		}).
		WithRecommendations("file within the grace period")

	report := Synthesize(state)

	assert.Equal(t, "doc-1", report.DocumentID)
	assert.Len(t, report.AllIssues, 3)
	assert.Equal(t, []string{"renumber claims", "add 112 support", "shorten abstract", "file within the grace period"},
		report.Recommendations, "recommendations aggregate in sorted agent order and dedupe")
	assert.Equal(t, []string{"legal", "structure"}, report.Metadata.AgentsUsed)
	assert.Equal(t, WorkflowVersion, report.Metadata.WorkflowVersion)
	assert.InDelta(t, 0.8, report.OverallScore, 1e-9)
}

func TestSynthesizeEmptyState(t *testing.T) {
	report := Synthesize(NewState("doc-1", "acme", "text"))

	assert.Equal(t, StatusComplete, report.Status)
	assert.Equal(t, 0.0, report.OverallScore)
	assert.NotNil(t, report.AllIssues)
	assert.Empty(t, report.AllIssues)
}

func TestClampConfidence(t *testing.T) {
	assert.Equal(t, 0.0, ClampConfidence(-0.3))
	assert.Equal(t, 1.0, ClampConfidence(1.7))
	assert.Equal(t, 0.75, ClampConfidence(0.75))
	nan := 0.0
	nan /= nan
	assert.Equal(t, 0.5, ClampConfidence(nan), "NaN degrades to neutral confidence")
}

func TestStateImmutability(t *testing.T) {
	base := NewState("doc-1", "acme", "text")
	withResult := base.WithAgentResult("structure", result("structure", 0.9))

	assert.Empty(t, base.AgentResults, "updates must not mutate the original state")
	assert.Len(t, withResult.AgentResults, 1)

	withConflict := withResult.WithConflicts(Conflict{Type: ConflictConfidenceDivergence})
	assert.Empty(t, withResult.Conflicts)
	assert.Len(t, withConflict.Conflicts, 1)
}
