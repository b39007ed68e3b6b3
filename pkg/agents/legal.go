package agents

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"patentflow/pkg/config"
	"patentflow/pkg/llm"
	"patentflow/pkg/memory"
	"patentflow/pkg/priorart"
	"patentflow/pkg/utils"
	"patentflow/pkg/workflow"
)

// Regulatory anchors the legal review always consults. 35 USC 112 governs
// enablement and written description, the most common rejection grounds.
var defaultRegulatoryQueries = []string{"35 USC 112", "35 USC 101 eligibility"}

// LegalAgent reviews a patent document for statutory compliance. It gathers
// legal references from the knowledge context, consults the prior-art
// service (failing open), and asks the model for a legal opinion over that
// material.
type LegalAgent struct {
	client          llm.LLMClient
	cfg             config.AgentConfig
	priorArt        *priorart.Client
	maxContextChars int
	tokens          *utils.TokenCounter
}

// NewLegalAgent creates the legal agent. priorArt may be a disabled client.
func NewLegalAgent(client llm.LLMClient, cfg config.AgentConfig, priorArt *priorart.Client, maxContextChars int) *LegalAgent {
	if priorArt == nil {
		priorArt = priorart.NewClient("")
	}
	return &LegalAgent{client: client, cfg: cfg, priorArt: priorArt, maxContextChars: maxContextChars, tokens: newTokenCounter()}
}

// Name implements Analyzer.
func (a *LegalAgent) Name() string { return "legal" }

// Analyze implements Analyzer.
func (a *LegalAgent) Analyze(ctx context.Context, state workflow.State, slice memory.ContextSlice) (workflow.AgentResult, error) {
	references := a.collectReferences(ctx, slice)

	title := extractTitle(state.DocumentText)
	var artResults []priorart.Result
	if title != "" {
		artResults = a.priorArt.SearchPriorArt(ctx, title, 3)
	}

	prompt := a.buildPrompt(state.DocumentText, references, artResults, slice)
	resp, err := a.client.Complete(ctx, llm.CompletionRequest{
		Messages: []llm.CompletionMessage{
			llm.NewSystemMessage(legalSystemPrompt),
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
			result := ParseFallback(a.Name(), nil, err)
			result.LegalReferences = references
			return result, nil
		}
		return workflow.AgentResult{}, err
	}

	issues := convertIssues(parsed.Issues)
	for i, raw := range parsed.Issues {
		if raw.LegalBasis != "" && i < len(issues) {
			issues[i].Message = strings.TrimSpace(issues[i].Message + " [" + raw.LegalBasis + "]")
		}
	}

	details := map[string]any{
		"prior_art_hits": len(artResults),
	}
	if parsed.FilingStrategy != "" {
		details["filing_strategy"] = parsed.FilingStrategy
	}
	if parsed.Assessment != "" {
		details["overall_assessment"] = parsed.Assessment
	}

	return workflow.AgentResult{
		Kind:            workflow.ResultSuccess,
		Agent:           a.Name(),
		Type:            "legal_analysis",
		Confidence:      workflow.ClampConfidence(parsed.Score),
		Issues:          issues,
		Recommendations: parsed.Recommendations,
		LegalReferences: references,
		Details:         details,
		Timestamp:       time.Now().UTC(),
	}, nil
}

// collectReferences assembles legal citations from the knowledge slice and
// the regulatory search service. The legal agent always carries at least
// the references present in its context slice, which by construction is the
// widest legal view of any agent.
func (a *LegalAgent) collectReferences(ctx context.Context, slice memory.ContextSlice) []string {
	var refs []string
	seen := map[string]bool{}

	add := func(ref string) {
		ref = strings.TrimSpace(ref)
		if ref != "" && !seen[ref] {
			seen[ref] = true
			refs = append(refs, ref)
		}
	}

	for _, r := range slice.LegalKnowledge {
		if cite := r.Record.Metadata["citation"]; cite != "" {
			add(cite)
		} else {
			add(firstLine(r.Record.Content))
		}
	}

	for _, q := range defaultRegulatoryQueries {
		for _, res := range a.priorArt.SearchRegulations(ctx, q, 3) {
			if res.Reference != "" {
				add(res.Reference)
			} else {
				add(res.Title)
			}
		}
	}

	return refs
}

const legalSystemPrompt = `You are a patent attorney reviewing a draft application for statutory compliance ` +
	`(35 USC 101, 102, 103, 112). Ground every issue in a statute or case. ` +
	`Respond with JSON only: {"score": 0.0-1.0, "issues": [{"type", "severity", "message", "suggestion", "legal_basis", ` +
	`"target": {"text", "section", "position"}, "replacement": {"type", "text"}}], ` +
	`"recommendations": [], "filing_strategy": "", "overall_assessment": ""}. ` +
	`When an issue can be cured by amending the document, include target and replacement together: ` +
	`target.text is the EXACT offending text and replacement.text the EXACT amended text. ` +
	`Omit both when no concrete amendment applies.`

func (a *LegalAgent) buildPrompt(docText string, references []string, artResults []priorart.Result, slice memory.ContextSlice) string {
	var b strings.Builder

	contextText := memory.FormatSliceForPrompt(slice, a.maxContextChars)
	if contextText != "" {
		b.WriteString("Knowledge context:\n")
		b.WriteString(contextText)
		b.WriteString("\n\n")
	}

	if len(references) > 0 {
		b.WriteString("Relevant legal references:\n")
		for _, ref := range references {
			b.WriteString("- ")
			b.WriteString(ref)
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}

	if len(artResults) > 0 {
		b.WriteString("Potentially relevant prior art:\n")
		for _, art := range artResults {
			fmt.Fprintf(&b, "- %s (%s): %s\n", art.Title, art.Reference, firstLine(art.Summary))
		}
		b.WriteString("\n")
	}

	b.WriteString("Document text (truncated):\n")
	b.WriteString(docExcerpt(a.tokens, docText))

	return b.String()
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if idx := strings.IndexByte(s, '\n'); idx >= 0 {
		s = s[:idx]
	}
	if len(s) > 120 {
		s = s[:120]
	}
	return s
}
