package agents

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"patentflow/pkg/config"
	"patentflow/pkg/llm"
	"patentflow/pkg/memory"
	"patentflow/pkg/utils"
	"patentflow/pkg/workflow"
)

// Section header patterns. Patent documents are rigidly conventional, so
// plain regex extraction is reliable enough to score compliance before any
// model sees the text.
var (
	abstractPattern   = regexp.MustCompile(`(?im)^\s*ABSTRACT\s*$`)
	backgroundPattern = regexp.MustCompile(`(?im)^\s*BACKGROUND(\s+OF\s+THE\s+INVENTION)?\s*$`)
	summaryPattern    = regexp.MustCompile(`(?im)^\s*SUMMARY(\s+OF\s+THE\s+INVENTION)?\s*$`)
	detailPattern     = regexp.MustCompile(`(?im)^\s*DETAILED\s+DESCRIPTION(\s+OF\s+THE\s+(PREFERRED\s+)?EMBODIMENTS?)?\s*$`)
	claimsPattern     = regexp.MustCompile(`(?im)^\s*(WHAT\s+IS\s+)?CLAIM(S|ED)?(\s+IS)?\s*:?\s*$`)
	claimSplitPattern = regexp.MustCompile(`(?m)^\s*(\d+)\.\s*`)
	figureRefPattern  = regexp.MustCompile(`FIG\.?\s*\d+|Figure\s*\d+`)
)

// DocumentSections is the deterministic parse of a patent document.
type DocumentSections struct {
	Title      string
	Abstract   string
	Background string
	Summary    string
	Detail     string
	ClaimsText string
	Claims     []string
	FigureRefs []string
}

// StructureAgent checks that a patent document has the sections, claims and
// figure references a filing needs. Deterministic parsing produces the hard
// findings; the model pass validates clarity and ordering on top.
type StructureAgent struct {
	client llm.LLMClient
	cfg    config.AgentConfig
	// maxContextChars bounds the shared-context portion of the prompt.
	maxContextChars int
	tokens          *utils.TokenCounter
}

// NewStructureAgent creates the structure agent.
func NewStructureAgent(client llm.LLMClient, cfg config.AgentConfig, maxContextChars int) *StructureAgent {
	return &StructureAgent{client: client, cfg: cfg, maxContextChars: maxContextChars, tokens: newTokenCounter()}
}

// Name implements Analyzer.
func (a *StructureAgent) Name() string { return "structure" }

// Analyze implements Analyzer.
func (a *StructureAgent) Analyze(ctx context.Context, state workflow.State, slice memory.ContextSlice) (workflow.AgentResult, error) {
	sections := ParseSections(state.DocumentText)
	detIssues, compliance := ScoreCompliance(sections)

	prompt := a.buildPrompt(state.DocumentText, sections, slice)
	resp, err := a.client.Complete(ctx, llm.CompletionRequest{
		Messages: []llm.CompletionMessage{
			llm.NewSystemMessage(structureSystemPrompt),
			llm.NewUserMessage(prompt),
		},
		Temperature: a.cfg.Temperature,
		MaxTokens:   a.cfg.MaxTokens,
	})
	if err != nil {
		return workflow.AgentResult{}, err
	}

	parsed, err := parseAnalysisJSON(resp.Content)
	if err != nil {
		var parseErr *ParseError
		if errors.As(err, &parseErr) {
			// The model answered but unusably; keep the deterministic
			// findings and mark the run for manual review. Not retried.
			return ParseFallback(a.Name(), detIssues, err), nil
		}
		return workflow.AgentResult{}, err
	}

	issues := append([]workflow.Issue{}, detIssues...)
	issues = append(issues, convertIssues(parsed.Issues)...)

	confidence := workflow.ClampConfidence((compliance + workflow.ClampConfidence(parsed.Score)) / 2)

	return workflow.AgentResult{
		Kind:            workflow.ResultSuccess,
		Agent:           a.Name(),
		Type:            "structure_analysis",
		Confidence:      confidence,
		Issues:          issues,
		Recommendations: parsed.Recommendations,
		Details: map[string]any{
			"title":            sections.Title,
			"claim_count":      len(sections.Claims),
			"figure_refs":      len(sections.FigureRefs),
			"compliance_score": compliance,
			"sections_present": presentSections(sections),
		},
		Timestamp: time.Now().UTC(),
	}, nil
}

const structureSystemPrompt = `You are a patent document structure analyst. ` +
	`Evaluate section completeness, claim clarity and internal consistency. ` +
	`Respond with JSON only: {"score": 0.0-1.0, "issues": [{"type", "severity", "message", "suggestion", ` +
	`"target": {"text", "section", "position"}, "replacement": {"type", "text"}}], "recommendations": []}. ` +
	`When an issue can be fixed by editing the document, include target and replacement together: ` +
	`target.text is the EXACT text to find (the misspelled word itself, not a description of it) ` +
	`and replacement.text is the EXACT corrected text. Omit both when no concrete edit applies.`

func (a *StructureAgent) buildPrompt(docText string, sections DocumentSections, slice memory.ContextSlice) string {
	var b strings.Builder

	contextText := memory.FormatSliceForPrompt(slice, a.maxContextChars)
	if contextText != "" {
		b.WriteString("Context from prior analyses and firm practice:\n")
		b.WriteString(contextText)
		b.WriteString("\n\n")
	}

	b.WriteString("Document structure summary:\n")
	fmt.Fprintf(&b, "- title: %q\n", sections.Title)
	fmt.Fprintf(&b, "- sections present: %s\n", strings.Join(presentSections(sections), ", "))
	fmt.Fprintf(&b, "- independent claims parsed: %d\n", len(sections.Claims))
	fmt.Fprintf(&b, "- figure references: %d\n\n", len(sections.FigureRefs))

	b.WriteString("Document text (truncated):\n")
	b.WriteString(docExcerpt(a.tokens, docText))

	return b.String()
}

// ParseSections extracts the conventional patent sections from raw text.
func ParseSections(text string) DocumentSections {
	sections := DocumentSections{
		Title:      extractTitle(text),
		Abstract:   extractSection(text, abstractPattern),
		Background: extractSection(text, backgroundPattern),
		Summary:    extractSection(text, summaryPattern),
		Detail:     extractSection(text, detailPattern),
		ClaimsText: extractSection(text, claimsPattern),
		FigureRefs: figureRefPattern.FindAllString(text, -1),
	}
	sections.Claims = splitClaims(sections.ClaimsText)
	return sections
}

// extractTitle takes the first substantial line that is not boilerplate.
func extractTitle(text string) string {
	lines := strings.Split(text, "\n")
	limit := 10
	if len(lines) < limit {
		limit = len(lines)
	}
	for _, line := range lines[:limit] {
		candidate := strings.TrimSpace(line)
		if len(candidate) <= 10 {
			continue
		}
		lower := strings.ToLower(candidate)
		if strings.HasPrefix(lower, "patent") ||
			strings.HasPrefix(lower, "application") ||
			strings.HasPrefix(lower, "field") {
			continue
		}
		return candidate
	}
	return ""
}

// extractSection returns the text between a section header and the next
// recognized header (or end of document).
func extractSection(text string, header *regexp.Regexp) string {
	loc := header.FindStringIndex(text)
	if loc == nil {
		return ""
	}
	rest := text[loc[1]:]

	// Find the nearest following header of any kind.
	end := len(rest)
	for _, p := range []*regexp.Regexp{abstractPattern, backgroundPattern, summaryPattern, detailPattern, claimsPattern} {
		if next := p.FindStringIndex(rest); next != nil && next[0] < end && next[0] > 0 {
			end = next[0]
		}
	}
	return strings.TrimSpace(rest[:end])
}

// splitClaims separates numbered claims from the claims section body.
func splitClaims(claimsText string) []string {
	if claimsText == "" {
		return nil
	}
	indices := claimSplitPattern.FindAllStringIndex(claimsText, -1)
	if len(indices) == 0 {
		return nil
	}

	var claims []string
	for i, idx := range indices {
		start := idx[1]
		end := len(claimsText)
		if i+1 < len(indices) {
			end = indices[i+1][0]
		}
		claim := strings.TrimSpace(claimsText[start:end])
		if claim != "" {
			claims = append(claims, claim)
		}
	}
	return claims
}

// ScoreCompliance produces deterministic structural issues and a compliance
// score in [0, 1]. A missing claims section is always a high-severity
// violation: a patent without claims protects nothing.
func ScoreCompliance(sections DocumentSections) ([]workflow.Issue, float64) {
	var issues []workflow.Issue
	score := 1.0

	if len(sections.Claims) == 0 {
		issues = append(issues, workflow.Issue{
			Type:       "no_claims",
			Severity:   workflow.SeverityHigh,
			Message:    "Document contains no claims section or no parseable claims",
			Suggestion: "Add a claims section with numbered claims",
		})
		score -= 0.4
	}

	if sections.Abstract == "" {
		issues = append(issues, workflow.Issue{
			Type:       "missing_section",
			Severity:   workflow.SeverityMedium,
			Message:    "Abstract section not found",
			Suggestion: "Add an abstract of 150 words or fewer",
		})
		score -= 0.15
	}

	if sections.Detail == "" {
		issues = append(issues, workflow.Issue{
			Type:       "missing_section",
			Severity:   workflow.SeverityMedium,
			Message:    "Detailed description section not found",
			Suggestion: "Add a detailed description supporting every claim",
		})
		score -= 0.15
	}

	if sections.Background == "" {
		issues = append(issues, workflow.Issue{
			Type:       "missing_section",
			Severity:   workflow.SeverityLow,
			Message:    "Background section not found",
			Suggestion: "Add background describing the field and prior approaches",
		})
		score -= 0.05
	}

	if sections.Title == "" {
		issues = append(issues, workflow.Issue{
			Type:       "format_error",
			Severity:   workflow.SeverityLow,
			Message:    "No title detected in the opening lines",
			Suggestion: "Start the document with a descriptive invention title",
		})
		score -= 0.05
	}

	issues = append(issues, checkClaimNumbering(sections.ClaimsText)...)

	if score < 0 {
		score = 0
	}
	return issues, score
}

// checkClaimNumbering flags gaps or disorder in claim numbers.
func checkClaimNumbering(claimsText string) []workflow.Issue {
	matches := claimSplitPattern.FindAllStringSubmatch(claimsText, -1)
	if len(matches) == 0 {
		return nil
	}

	numbers := make([]int, 0, len(matches))
	for _, m := range matches {
		if n, err := strconv.Atoi(m[1]); err == nil {
			numbers = append(numbers, n)
		}
	}

	sorted := sort.IntsAreSorted(numbers)
	sequential := true
	for i, n := range numbers {
		if n != i+1 {
			sequential = false
			break
		}
	}

	if !sorted || !sequential {
		return []workflow.Issue{{
			Type:       "claim_issue",
			Severity:   workflow.SeverityMedium,
			Message:    "Claim numbering is not sequential starting at 1",
			Suggestion: "Renumber claims consecutively",
		}}
	}
	return nil
}

func presentSections(s DocumentSections) []string {
	var present []string
	if s.Title != "" {
		present = append(present, "title")
	}
	if s.Abstract != "" {
		present = append(present, "abstract")
	}
	if s.Background != "" {
		present = append(present, "background")
	}
	if s.Summary != "" {
		present = append(present, "summary")
	}
	if s.Detail != "" {
		present = append(present, "detailed_description")
	}
	if len(s.Claims) > 0 {
		present = append(present, "claims")
	}
	return present
}

// convertIssues validates model-reported issues into typed ones. Unknown
// severities degrade to low rather than being dropped; a proposed edit is
// kept only when the target/replacement pair survives validReplacement.
func convertIssues(raw []llmIssue) []workflow.Issue {
	issues := make([]workflow.Issue, 0, len(raw))
	for _, r := range raw {
		sev := workflow.Severity(strings.ToLower(r.Severity))
		switch sev {
		case workflow.SeverityHigh, workflow.SeverityMedium, workflow.SeverityLow:
		default:
			sev = workflow.SeverityLow
		}
		issueType := r.Type
		if issueType == "" {
			issueType = "clarity_issue"
		}
		issue := workflow.Issue{
			Type:       issueType,
			Severity:   sev,
			Message:    r.Message,
			Suggestion: r.Suggestion,
		}
		if r.Target != nil && r.Replacement != nil && validReplacement(r.Target.Text, r.Replacement.Text) {
			issue.Target = &workflow.TargetLocation{
				Text:     r.Target.Text,
				Section:  r.Target.Section,
				Position: r.Target.Position,
			}
			issue.Replacement = &workflow.ReplacementText{
				Type: r.Replacement.Type,
				Text: r.Replacement.Text,
			}
		}
		issues = append(issues, issue)
	}
	return issues
}

// validReplacement enforces the both-or-neither edit contract: the target is
// the exact text to find, the replacement the exact text to put there. An
// identical replacement is a no-op, and one repeating the target is the
// model pasting the original alongside its fix.
func validReplacement(target, replacement string) bool {
	if target == "" || replacement == "" {
		return false
	}
	if replacement == target {
		return false
	}
	return strings.Count(replacement, target) < 2
}
