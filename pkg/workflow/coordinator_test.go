package workflow

import (
	"context"
	"database/sql"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"patentflow/pkg/config"
	"patentflow/pkg/embed"
	"patentflow/pkg/eventsink"
	"patentflow/pkg/memory"
)

// fakeInvoker returns canned results and persists findings the way the real
// agent runner does, so cross-validation has store records to read back.
type fakeInvoker struct {
	store   *memory.Store
	results map[string]AgentResult
	// storedResults, when set, is what gets written to the store instead of
	// results; used to prove cross-validation trusts the store copy.
	storedResults map[string]AgentResult
	calls         []string
}

func (f *fakeInvoker) RunAgent(ctx context.Context, name string, state State, _ memory.ContextSlice) (AgentResult, int) {
	f.calls = append(f.calls, name)

	res := f.results[name]
	toStore := res
	if f.storedResults != nil {
		if alt, ok := f.storedResults[name]; ok {
			toStore = alt
		}
	}

	payload, _ := json.Marshal(toStore)
	_, _ = f.store.AddWithID(ctx, memory.FindingID(state.DocumentID, name), memory.TierEpisodic,
		string(payload), map[string]string{
			memory.MetaClientID:   state.ClientID,
			memory.MetaDocumentID: state.DocumentID,
			memory.MetaAgentName:  name,
			memory.MetaRecordType: memory.RecordTypeFinding,
		})

	return res, 0
}

func newCoordinatorHarness(t *testing.T, invoker *fakeInvoker, agents []string) (*Coordinator, *memory.Store, *sql.DB) {
	t.Helper()
	db, err := memory.OpenMemoryDB()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	store := memory.NewStore(db, embed.NewLocalEmbedder(64))
	invoker.store = store

	cfg := config.Default()
	builder := memory.NewContextBuilder(store, &cfg)
	coord := NewCoordinator(&cfg, store, builder, invoker, agents, eventsink.NoopSink{}, nil)
	return coord, store, db
}

func TestAnalyzeDocumentHappyPath(t *testing.T) {
	invoker := &fakeInvoker{results: map[string]AgentResult{
		"structure": result("structure", 0.85),
		"legal":     result("legal", 0.75),
	}}
	coord, _, _ := newCoordinatorHarness(t, invoker, []string{"structure", "legal"})

	report, errReport := coord.AnalyzeDocument(context.Background(), "doc-1", "acme", "A sensor apparatus.\n\nCLAIMS\n1. A sensor.")

	require.Nil(t, errReport)
	require.NotNil(t, report)
	assert.Equal(t, StatusComplete, report.Status)
	assert.InDelta(t, 0.8, report.OverallScore, 1e-9)
	assert.Equal(t, []string{"legal", "structure"}, report.Metadata.AgentsUsed)
	assert.Equal(t, []string{"structure", "legal"}, invoker.calls, "structure runs first")
}

func TestAnalyzeDocumentEmptyText(t *testing.T) {
	invoker := &fakeInvoker{results: map[string]AgentResult{}}
	coord, _, _ := newCoordinatorHarness(t, invoker, []string{"structure"})

	report, errReport := coord.AnalyzeDocument(context.Background(), "doc-1", "acme", "")

	assert.Nil(t, report)
	require.NotNil(t, errReport)
	assert.Equal(t, StatusError, errReport.Status)
	assert.Equal(t, "doc-1", errReport.DocumentID)
	assert.NotEmpty(t, errReport.Error)
	assert.Empty(t, invoker.calls, "no agent runs without a document")
}

func TestAnalyzeDocumentDetectsConflicts(t *testing.T) {
	invoker := &fakeInvoker{results: map[string]AgentResult{
		"structure": result("structure", 0.9),
		"legal":     result("legal", 0.4),
	}}
	coord, _, _ := newCoordinatorHarness(t, invoker, []string{"structure", "legal"})

	report, errReport := coord.AnalyzeDocument(context.Background(), "doc-1", "acme", "document text")

	require.Nil(t, errReport)
	require.Len(t, report.Conflicts, 1)
	assert.Equal(t, ConflictConfidenceDivergence, report.Conflicts[0].Type)
	require.Len(t, report.Resolutions, 1)
	assert.Equal(t, StrategyLegalPrecedence, report.Resolutions[0].Strategy)
	assert.True(t, report.Resolutions[0].ManualReview)
}

func TestCrossValidationUsesStoreCopy(t *testing.T) {
	// In-memory results agree; the store copies diverge. Conflicts must be
	// detected on the store copies.
	invoker := &fakeInvoker{
		results: map[string]AgentResult{
			"structure": result("structure", 0.8),
			"legal":     result("legal", 0.8),
		},
		storedResults: map[string]AgentResult{
			"structure": result("structure", 0.9),
			"legal":     result("legal", 0.3),
		},
	}
	coord, _, _ := newCoordinatorHarness(t, invoker, []string{"structure", "legal"})

	report, errReport := coord.AnalyzeDocument(context.Background(), "doc-1", "acme", "document text")

	require.Nil(t, errReport)
	require.Len(t, report.Conflicts, 1, "divergence exists only in the stored findings")
	assert.Equal(t, ConflictConfidenceDivergence, report.Conflicts[0].Type)
}

func TestStorageFailureDoesNotAbortRun(t *testing.T) {
	// Divergent results force a conflict, so the run contributes a learning
	// that synthesis will try to flush. With the database gone, every
	// episodic write fails; the analysis must still complete.
	invoker := &fakeInvoker{results: map[string]AgentResult{
		"structure": result("structure", 0.9),
		"legal":     result("legal", 0.4),
	}}
	coord, _, db := newCoordinatorHarness(t, invoker, []string{"structure", "legal"})
	require.NoError(t, db.Close())

	report, errReport := coord.AnalyzeDocument(context.Background(), "doc-1", "acme", "document text")

	require.Nil(t, errReport, "losing memory writes must not fail the analysis")
	require.NotNil(t, report)
	require.Len(t, report.Conflicts, 1, "conflict detected from the in-memory copies")
}

func TestAnalyzeDocumentPersistsSummary(t *testing.T) {
	invoker := &fakeInvoker{results: map[string]AgentResult{
		"structure": result("structure", 0.85),
	}}
	coord, store, _ := newCoordinatorHarness(t, invoker, []string{"structure"})

	_, errReport := coord.AnalyzeDocument(context.Background(), "doc-1", "acme", "document text")
	require.Nil(t, errReport)

	summaries := store.Query(context.Background(), "analysis of document doc-1", memory.TierEpisodic, 5,
		map[string]string{memory.MetaRecordType: memory.RecordTypeSummary})
	require.Len(t, summaries, 1)
	assert.Equal(t, "acme", summaries[0].Record.Metadata[memory.MetaClientID])
	assert.Equal(t, "doc-1", summaries[0].Record.Metadata[memory.MetaDocumentID])
}

func TestSecondRunSeesFirstRunHistory(t *testing.T) {
	invoker := &fakeInvoker{results: map[string]AgentResult{
		"structure": result("structure", 0.85),
	}}
	coord, store, _ := newCoordinatorHarness(t, invoker, []string{"structure"})
	ctx := context.Background()

	_, errReport := coord.AnalyzeDocument(ctx, "doc-1", "acme", "sensor apparatus with claims")
	require.Nil(t, errReport)

	cfg := config.Default()
	builder := memory.NewContextBuilder(store, &cfg)
	sc := builder.Build(ctx, "acme", "doc-2", "another sensor apparatus filing")
	slice := sc.SliceFor("structure", config.ContextWeights{Episodic: -1})
	assert.NotEmpty(t, slice.CaseHistory, "first run's episodic records feed the second run")
}

func TestFallbackResultStillSynthesized(t *testing.T) {
	invoker := &fakeInvoker{results: map[string]AgentResult{
		"structure": result("structure", 0.9),
		"legal": {
			Kind:       ResultFallback,
			Agent:      "legal",
			Type:       "legal_analysis_failed",
			Confidence: 0.0,
			Issues: []Issue{{
				Type:     "legal_analysis_failed",
				Severity: SeverityHigh,
				Message:  "service unavailable",
			}},
			Error: "service unavailable",
		},
	}}
	coord, _, _ := newCoordinatorHarness(t, invoker, []string{"structure", "legal"})

	report, errReport := coord.AnalyzeDocument(context.Background(), "doc-1", "acme", "document text")

	require.Nil(t, errReport, "an agent fallback never fails the run")
	assert.Equal(t, StatusIssuesFound, report.Status)
	assert.InDelta(t, 0.45, report.OverallScore, 1e-9)
}

func TestAnalyzeDocumentEmitsLifecycleEvents(t *testing.T) {
	invoker := &fakeInvoker{results: map[string]AgentResult{
		"structure": result("structure", 0.85),
	}}

	db, err := memory.OpenMemoryDB()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	store := memory.NewStore(db, embed.NewLocalEmbedder(64))
	invoker.store = store

	sink := eventsink.NewChannelSink(64)
	cfg := config.Default()
	coord := NewCoordinator(&cfg, store, memory.NewContextBuilder(store, &cfg), invoker,
		[]string{"structure"}, sink, nil)

	_, errReport := coord.AnalyzeDocument(context.Background(), "doc-1", "acme", "document text")
	require.Nil(t, errReport)
	sink.Close()

	var types []string
	for ev := range sink.Events() {
		types = append(types, ev.Type)
	}
	assert.Contains(t, types, eventsink.TypePhaseStarted)
	assert.Contains(t, types, eventsink.TypePhaseCompleted)
	assert.Contains(t, types, eventsink.TypeRunCompleted)
	assert.NotContains(t, types, eventsink.TypeRunFailed)
}

func TestBrokenSinkNeverBreaksRun(t *testing.T) {
	invoker := &fakeInvoker{results: map[string]AgentResult{
		"structure": result("structure", 0.85),
	}}

	db, err := memory.OpenMemoryDB()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	store := memory.NewStore(db, embed.NewLocalEmbedder(64))
	invoker.store = store

	broken := eventsink.FuncSink(func(eventsink.Event) error {
		return assert.AnError
	})
	cfg := config.Default()
	coord := NewCoordinator(&cfg, store, memory.NewContextBuilder(store, &cfg), invoker,
		[]string{"structure"}, broken, nil)

	report, errReport := coord.AnalyzeDocument(context.Background(), "doc-1", "acme", "document text")
	require.Nil(t, errReport)
	require.NotNil(t, report)
	assert.WithinDuration(t, time.Now(), report.AnalysisTimestamp, time.Minute)
}
