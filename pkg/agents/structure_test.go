package agents

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"patentflow/pkg/config"
	"patentflow/pkg/llm"
	"patentflow/pkg/memory"
	"patentflow/pkg/workflow"
)

const wellFormedPatent = `Adaptive Irrigation Controller With Soil Moisture Feedback

BACKGROUND OF THE INVENTION
Conventional irrigation timers run fixed schedules regardless of soil state.

SUMMARY OF THE INVENTION
A controller adjusts watering duration from soil moisture readings.

DETAILED DESCRIPTION OF THE PREFERRED EMBODIMENTS
As shown in FIG. 1, the controller 100 couples to moisture sensor 102.
FIG. 2 depicts the duty-cycle adjustment loop.

ABSTRACT
An irrigation controller that modulates watering from sensed soil moisture.

CLAIMS
1. An irrigation controller comprising a moisture sensor and a valve driver.
2. The controller of claim 1 wherein the sensor is capacitive.
3. The controller of claim 1 further comprising a rain gauge.
`

const claimlessPatent = `Adaptive Irrigation Controller With Soil Moisture Feedback

BACKGROUND OF THE INVENTION
Conventional irrigation timers run fixed schedules.

ABSTRACT
An irrigation controller that modulates watering.
`

func structureAgentConfig() config.AgentConfig {
	return config.Default().Agents["structure"]
}

func TestParseSectionsWellFormed(t *testing.T) {
	sections := ParseSections(wellFormedPatent)

	assert.Equal(t, "Adaptive Irrigation Controller With Soil Moisture Feedback", sections.Title)
	assert.NotEmpty(t, sections.Abstract)
	assert.NotEmpty(t, sections.Background)
	assert.NotEmpty(t, sections.Summary)
	assert.NotEmpty(t, sections.Detail)
	assert.Len(t, sections.Claims, 3)
	assert.Len(t, sections.FigureRefs, 2)
	assert.Contains(t, sections.Claims[0], "moisture sensor")
}

func TestParseSectionsClaimless(t *testing.T) {
	sections := ParseSections(claimlessPatent)
	assert.Empty(t, sections.Claims)
	assert.NotEmpty(t, sections.Abstract)
}

func TestScoreComplianceWellFormed(t *testing.T) {
	issues, score := ScoreCompliance(ParseSections(wellFormedPatent))
	assert.Empty(t, issues)
	assert.Equal(t, 1.0, score)
}

func TestScoreComplianceNoClaims(t *testing.T) {
	issues, score := ScoreCompliance(ParseSections(claimlessPatent))

	var found *workflow.Issue
	for i := range issues {
		if issues[i].Type == "no_claims" {
			found = &issues[i]
		}
	}
	require.NotNil(t, found, "a claimless document must carry a no_claims issue")
	assert.Equal(t, workflow.SeverityHigh, found.Severity)
	assert.Less(t, score, 0.7)
}

func TestScoreComplianceClaimNumberingGap(t *testing.T) {
	text := wellFormedPatent + "\n"
	sections := ParseSections(text)
	sections.ClaimsText = "1. A controller.\n3. The controller of claim 1."

	issues := checkClaimNumbering(sections.ClaimsText)
	require.Len(t, issues, 1)
	assert.Equal(t, "claim_issue", issues[0].Type)
}

func TestStructureAgentMergesDeterministicAndModelIssues(t *testing.T) {
	client := llm.NewMockLLMClient([]llm.CompletionResponse{
		{Content: `{"score": 0.9, "issues": [{"type": "clarity_issue", "severity": "low", "message": "claim 2 antecedent unclear"}], "recommendations": ["clarify claim 2"]}`},
	}, nil)
	agent := NewStructureAgent(client, structureAgentConfig(), 3000)

	result, err := agent.Analyze(context.Background(),
		workflow.NewState("doc-1", "acme", wellFormedPatent), memory.ContextSlice{})
	require.NoError(t, err)

	assert.Equal(t, workflow.ResultSuccess, result.Kind)
	assert.Equal(t, "structure_analysis", result.Type)
	// Compliance 1.0 and model score 0.9 average to 0.95.
	assert.InDelta(t, 0.95, result.Confidence, 1e-9)
	require.Len(t, result.Issues, 1)
	assert.Equal(t, "clarity_issue", result.Issues[0].Type)
	assert.Equal(t, []string{"clarify claim 2"}, result.Recommendations)
	assert.Equal(t, 3, result.Details["claim_count"])
}

func TestStructureAgentClaimlessDocument(t *testing.T) {
	client := llm.NewMockLLMClient([]llm.CompletionResponse{
		{Content: `{"score": 0.8, "issues": [], "recommendations": []}`},
	}, nil)
	agent := NewStructureAgent(client, structureAgentConfig(), 3000)

	result, err := agent.Analyze(context.Background(),
		workflow.NewState("doc-1", "acme", claimlessPatent), memory.ContextSlice{})
	require.NoError(t, err)

	var high []workflow.Issue
	for _, issue := range result.Issues {
		if issue.Severity == workflow.SeverityHigh {
			high = append(high, issue)
		}
	}
	require.Len(t, high, 1)
	assert.Equal(t, "no_claims", high[0].Type)

	state := workflow.NewState("doc-1", "acme", claimlessPatent).WithAgentResult("structure", result)
	report := workflow.Synthesize(state)
	assert.Equal(t, workflow.StatusIssuesFound, report.Status)
}

func TestStructureAgentParseFallbackKeepsFindings(t *testing.T) {
	client := llm.NewMockLLMClient([]llm.CompletionResponse{
		{Content: "The document structure looks mostly complete to me."},
	}, nil)
	agent := NewStructureAgent(client, structureAgentConfig(), 3000)

	result, err := agent.Analyze(context.Background(),
		workflow.NewState("doc-1", "acme", claimlessPatent), memory.ContextSlice{})
	require.NoError(t, err, "a parse failure degrades the result, it is not an agent error")

	assert.Equal(t, workflow.ResultFallback, result.Kind)
	assert.Equal(t, 0.5, result.Confidence)

	types := make([]string, 0, len(result.Issues))
	for _, issue := range result.Issues {
		types = append(types, issue.Type)
	}
	assert.Contains(t, types, "no_claims", "deterministic findings survive the parse failure")
	assert.Contains(t, types, "analysis_error")
}

func TestStructureAgentPropagatesTransportErrors(t *testing.T) {
	client := llm.NewMockLLMClient(nil, []error{assert.AnError})
	agent := NewStructureAgent(client, structureAgentConfig(), 3000)

	_, err := agent.Analyze(context.Background(),
		workflow.NewState("doc-1", "acme", wellFormedPatent), memory.ContextSlice{})
	require.Error(t, err, "transport failures go to the runner for retry")
}

func TestConvertIssuesDegradesUnknownSeverity(t *testing.T) {
	issues := convertIssues([]llmIssue{
		{Type: "clarity_issue", Severity: "critical", Message: "m"},
		{Severity: "high", Message: "n"},
	})

	require.Len(t, issues, 2)
	assert.Equal(t, workflow.SeverityLow, issues[0].Severity)
	assert.Equal(t, "clarity_issue", issues[1].Type, "untyped issues default to clarity_issue")
	assert.Equal(t, workflow.SeverityHigh, issues[1].Severity)
}

func TestConvertIssuesCarriesValidReplacement(t *testing.T) {
	issues := convertIssues([]llmIssue{{
		Type: "format_error", Severity: "low", Message: "misspelling",
		Target:      &llmTarget{Text: "recieve", Section: "detailed_description"},
		Replacement: &llmReplacement{Type: "replace", Text: "receive"},
	}})

	require.Len(t, issues, 1)
	require.NotNil(t, issues[0].Target)
	require.NotNil(t, issues[0].Replacement)
	assert.Equal(t, "recieve", issues[0].Target.Text)
	assert.Equal(t, "receive", issues[0].Replacement.Text)
	assert.Equal(t, "detailed_description", issues[0].Target.Section)
}

func TestConvertIssuesDropsOneSidedEdit(t *testing.T) {
	issues := convertIssues([]llmIssue{
		{Type: "clarity_issue", Severity: "low", Message: "m",
			Target: &llmTarget{Text: "vague term"}},
		{Type: "clarity_issue", Severity: "low", Message: "n",
			Replacement: &llmReplacement{Text: "precise term"}},
	})

	require.Len(t, issues, 2, "the issues survive; only the half-specified edits are dropped")
	assert.Nil(t, issues[0].Target)
	assert.Nil(t, issues[0].Replacement)
	assert.Nil(t, issues[1].Target)
	assert.Nil(t, issues[1].Replacement)
}

func TestValidReplacement(t *testing.T) {
	assert.True(t, validReplacement("recieve", "receive"), "spelling fix")
	assert.True(t, validReplacement("lightweight", "lightweight."), "adds punctuation")
	assert.False(t, validReplacement("device", "device"), "identical is a no-op")
	assert.False(t, validReplacement("is transparent and lightweight.",
		"is transparent and lightweight. is transparent and lightweight."), "duplicated target")
	assert.False(t, validReplacement("test", "test test test"), "target repeated")
	assert.False(t, validReplacement("", "anything"))
	assert.False(t, validReplacement("anything", ""))
}
