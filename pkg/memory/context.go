package memory

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"patentflow/pkg/config"
	"patentflow/pkg/logx"
)

// Learning is an insight contributed by an agent during a run, flushed to
// the episodic tier when the context is persisted.
type Learning struct {
	Agent     string    `json:"agent"`
	Type      string    `json:"type"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// ContextSlice is the per-agent view of the shared context, weighted by the
// agent's needs: the legal agent sees everything legal, the structure agent
// leans on firm drafting practices.
type ContextSlice struct {
	AgentName      string        `json:"agent_name"`
	LegalKnowledge []QueryResult `json:"legal_knowledge"`
	FirmKnowledge  []QueryResult `json:"firm_knowledge"`
	CaseHistory    []QueryResult `json:"case_history"`
	Preferences    []QueryResult `json:"preferences"`
}

// SharedContext is the memory bundle shared by all agents in one workflow
// run. It is built once from the knowledge store, sliced per agent, and
// persisted exactly once at run end.
type SharedContext struct {
	ClientID   string
	DocumentID string

	legalKnowledge []QueryResult
	firmKnowledge  []QueryResult
	caseHistory    []QueryResult
	preferences    []QueryResult

	mu        sync.Mutex
	learnings []Learning
	persisted bool
}

// ContextBuilder constructs shared contexts from the knowledge store using
// configured tier budgets and per-agent weights.
type ContextBuilder struct {
	store   *Store
	budgets config.TierBudget
	weights func(agent string) config.ContextWeights
	logger  *logx.Logger
}

// NewContextBuilder creates a builder. cfg supplies tier budgets and the
// weighting table.
func NewContextBuilder(store *Store, cfg *config.Config) *ContextBuilder {
	return &ContextBuilder{
		store:   store,
		budgets: cfg.TierBudgets,
		weights: cfg.WeightsFor,
		logger:  logx.NewLogger("shared-context"),
	}
}

// preferenceQuery retrieves attorney writing preferences regardless of the
// document's subject matter.
const preferenceQuery = "writing preferences terminology style"

// Build queries each tier within its budget and assembles the shared
// context. Each tier is queried independently: a failing or empty tier
// contributes nothing and never blocks the others.
func (b *ContextBuilder) Build(ctx context.Context, clientID, documentID, docText string) *SharedContext {
	sc := &SharedContext{
		ClientID:   clientID,
		DocumentID: documentID,
	}

	legalQuery := firstN(docText, 1000)
	sc.legalKnowledge = b.store.Query(ctx, legalQuery, TierLegal, b.budgets.Legal, nil)

	firmQuery := "patent drafting practices " + firstN(docText, 500)
	sc.firmKnowledge = b.store.Query(ctx, firmQuery, TierFirm, b.budgets.Firm, nil)

	sc.caseHistory = b.store.Query(ctx, firstN(docText, 500), TierEpisodic, b.budgets.Episodic,
		map[string]string{MetaClientID: clientID})

	sc.preferences = b.store.Query(ctx, preferenceQuery, TierFirm, b.budgets.Preferences,
		map[string]string{MetaRecordType: RecordTypePreference})

	b.logger.Info("built shared context for client %s: %d legal, %d firm, %d case, %d preference records",
		clientID, len(sc.legalKnowledge), len(sc.firmKnowledge), len(sc.caseHistory), len(sc.preferences))

	return sc
}

// SliceFor returns the weighted view of the context for an agent.
func (sc *SharedContext) SliceFor(agent string, weights config.ContextWeights) ContextSlice {
	return ContextSlice{
		AgentName:      agent,
		LegalKnowledge: takeN(sc.legalKnowledge, weights.Legal),
		FirmKnowledge:  takeN(sc.firmKnowledge, weights.Firm),
		CaseHistory:    takeN(sc.caseHistory, weights.Episodic),
		Preferences:    takeN(sc.preferences, weights.Preferences),
	}
}

// Contribute records an in-run learning. Learnings live in memory until
// Persist flushes them to the episodic tier.
func (sc *SharedContext) Contribute(agent, learningType, content string) {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	sc.learnings = append(sc.learnings, Learning{
		Agent:     agent,
		Type:      learningType,
		Content:   content,
		Timestamp: time.Now().UTC(),
	})
}

// Learnings returns a copy of the contributed learnings.
func (sc *SharedContext) Learnings() []Learning {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	out := make([]Learning, len(sc.learnings))
	copy(out, sc.learnings)
	return out
}

// Persist flushes contributed learnings to the episodic tier. It succeeds at
// most once per context: a second call is an error, not a no-op, so callers
// notice double-flush bugs instead of silently duplicating records.
func (sc *SharedContext) Persist(ctx context.Context, store *Store) error {
	sc.mu.Lock()
	if sc.persisted {
		sc.mu.Unlock()
		return fmt.Errorf("shared context for document %s already persisted", sc.DocumentID)
	}
	sc.persisted = true
	learnings := make([]Learning, len(sc.learnings))
	copy(learnings, sc.learnings)
	sc.mu.Unlock()

	var firstErr error
	for _, l := range learnings {
		_, err := store.Add(ctx, TierEpisodic, l.Content, map[string]string{
			MetaClientID:   sc.ClientID,
			MetaDocumentID: sc.DocumentID,
			MetaAgentName:  l.Agent,
			MetaRecordType: RecordTypeLearning,
			"learning_type": l.Type,
		})
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	if firstErr != nil {
		return logx.Wrap(firstErr, fmt.Sprintf("persist learnings for document %s", sc.DocumentID))
	}
	return nil
}

// Persisted reports whether Persist has already run.
func (sc *SharedContext) Persisted() bool {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	return sc.persisted
}

// TruncationMarker terminates prompt context that was cut at the character
// budget.
const TruncationMarker = "..."

// FormatForPrompt renders an agent's slice as prompt-ready text, truncated
// at maxChars with a marker when over budget.
func (sc *SharedContext) FormatForPrompt(slice ContextSlice, maxChars int) string {
	return FormatSliceForPrompt(slice, maxChars)
}

// FormatSliceForPrompt renders a context slice as prompt-ready text.
func FormatSliceForPrompt(slice ContextSlice, maxChars int) string {
	var b strings.Builder

	writeSection := func(header string, results []QueryResult) {
		if len(results) == 0 {
			return
		}
		b.WriteString(header)
		b.WriteString("\n")
		for _, r := range results {
			b.WriteString("- ")
			b.WriteString(firstN(r.Record.Content, 300))
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}

	writeSection("=== LEVEL 1: LEGAL KNOWLEDGE ===", slice.LegalKnowledge)
	writeSection("=== LEVEL 2: FIRM KNOWLEDGE ===", slice.FirmKnowledge)
	writeSection("=== LEVEL 3: CASE HISTORY ===", slice.CaseHistory)
	writeSection("=== ATTORNEY PREFERENCES ===", slice.Preferences)

	out := b.String()
	if maxChars > 0 && len(out) > maxChars {
		cut := maxChars - len(TruncationMarker)
		if cut < 0 {
			cut = 0
		}
		out = out[:cut] + TruncationMarker
	}
	return out
}

// takeN returns the first n results; n < 0 means all.
func takeN(results []QueryResult, n int) []QueryResult {
	if n < 0 || n >= len(results) {
		return results
	}
	return results[:n]
}

func firstN(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
