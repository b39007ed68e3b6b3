// Package agents implements the analysis agents: a common retry/fallback
// contract plus the structure and legal analyzers.
package agents

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// ParseError reports an LLM response that could not be decoded after one
// cleanup pass. It is never retried: re-asking the model for valid JSON is
// wasted budget, so the caller produces a degraded result instead.
type ParseError struct {
	Raw string
	Err error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("response parse failed: %v", e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// llmAnalysis is the JSON shape agents request from the model.
type llmAnalysis struct {
	Score           float64    `json:"score"`
	Issues          []llmIssue `json:"issues"`
	Recommendations []string   `json:"recommendations"`
	FilingStrategy  string     `json:"filing_strategy,omitempty"`
	Assessment      string     `json:"overall_assessment,omitempty"`
}

type llmIssue struct {
	Type        string          `json:"type"`
	Severity    string          `json:"severity"`
	Message     string          `json:"message"`
	Suggestion  string          `json:"suggestion,omitempty"`
	LegalBasis  string          `json:"legal_basis,omitempty"`
	Target      *llmTarget      `json:"target,omitempty"`
	Replacement *llmReplacement `json:"replacement,omitempty"`
}

type llmTarget struct {
	Text     string `json:"text"`
	Section  string `json:"section,omitempty"`
	Position string `json:"position,omitempty"`
}

type llmReplacement struct {
	Type string `json:"type,omitempty"`
	Text string `json:"text"`
}

var trailingCommaPattern = regexp.MustCompile(`,\s*([}\]])`)

// parseAnalysisJSON decodes a model response strictly, then applies exactly
// one cleanup pass (strip code fences, drop trailing commas) and tries
// again. Anything still malformed is a *ParseError.
func parseAnalysisJSON(raw string) (*llmAnalysis, error) {
	var out llmAnalysis
	if err := json.Unmarshal([]byte(raw), &out); err == nil {
		return &out, nil
	}

	cleaned := cleanupJSON(raw)
	if err := json.Unmarshal([]byte(cleaned), &out); err != nil {
		return nil, &ParseError{Raw: raw, Err: err}
	}
	return &out, nil
}

// cleanupJSON repairs the two failure modes models actually produce:
// markdown code fences around the payload and trailing commas.
func cleanupJSON(raw string) string {
	s := strings.TrimSpace(raw)

	if strings.HasPrefix(s, "```json") {
		s = strings.TrimPrefix(s, "```json")
	} else if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```")
	}
	if strings.HasSuffix(s, "```") {
		s = strings.TrimSuffix(s, "```")
	}
	s = strings.TrimSpace(s)

	s = trailingCommaPattern.ReplaceAllString(s, "$1")

	return s
}
