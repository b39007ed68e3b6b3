package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"patentflow/pkg/config"
	"patentflow/pkg/eventsink"
	"patentflow/pkg/logx"
	"patentflow/pkg/memory"
)

// AgentInvoker executes one agent against the current state. Implementations
// own retries and fallbacks: RunAgent always returns a usable result plus
// the number of retries consumed.
type AgentInvoker interface {
	RunAgent(ctx context.Context, name string, state State, slice memory.ContextSlice) (AgentResult, int)
}

// PhaseRecorder receives workflow-level metrics. Nil-able.
type PhaseRecorder interface {
	ObservePhase(phase string, duration time.Duration)
	IncConflict(conflictType, severity string)
}

// PhaseError marks a failure that aborts the run. Only coordinator-level
// problems (no document, broken store during synthesis) are phase errors;
// individual agent failures degrade to fallback results instead.
type PhaseError struct {
	Phase Phase
	Err   error
}

func (e *PhaseError) Error() string {
	return fmt.Sprintf("phase %s failed: %v", e.Phase, e.Err)
}

func (e *PhaseError) Unwrap() error { return e.Err }

// Coordinator drives the four-phase analysis pipeline:
//
//  1. structure analysis (sequential, its findings seed the rest)
//  2. parallel analysis (remaining agents, no interdependencies)
//  3. cross-validation (findings re-read from the knowledge store)
//  4. synthesis (conflict resolution, final report, memory flush)
//
// All collaborators are injected; the coordinator holds no globals.
type Coordinator struct {
	cfg      *config.Config
	store    *memory.Store
	builder  *memory.ContextBuilder
	invoker  AgentInvoker
	agents   []string // agent names; agents[0] runs phase 1
	sink     eventsink.Sink
	recorder PhaseRecorder
	logger   *logx.Logger
}

// NewCoordinator wires a coordinator. agents lists agent names in phase
// order: the first runs sequentially in phase 1, the rest concurrently in
// phase 2. recorder may be nil.
func NewCoordinator(cfg *config.Config, store *memory.Store, builder *memory.ContextBuilder, invoker AgentInvoker, agents []string, sink eventsink.Sink, recorder PhaseRecorder) *Coordinator {
	if sink == nil {
		sink = eventsink.NoopSink{}
	}
	return &Coordinator{
		cfg:      cfg,
		store:    store,
		builder:  builder,
		invoker:  invoker,
		agents:   agents,
		sink:     sink,
		recorder: recorder,
		logger:   logx.NewLogger("coordinator"),
	}
}

// AnalyzeDocument runs the full pipeline. It never surfaces a raw error:
// a fatal phase failure produces an ErrorReport envelope and a nil Report.
func (c *Coordinator) AnalyzeDocument(ctx context.Context, documentID, clientID, docText string) (*Report, *ErrorReport) {
	state := NewState(documentID, clientID, docText)

	report, err := c.run(ctx, state)
	if err != nil {
		c.logger.Error("analysis of document %s failed: %v", documentID, err)
		errReport := NewErrorReport(documentID, err)
		c.emit(eventsink.Event{
			Type:       eventsink.TypeRunFailed,
			DocumentID: documentID,
			Message:    err.Error(),
			Timestamp:  time.Now().UTC(),
		})
		return nil, &errReport
	}
	return report, nil
}

func (c *Coordinator) run(ctx context.Context, state State) (report *Report, err error) {
	// A panicking phase must still yield the error envelope, not unwind
	// into the caller.
	defer func() {
		if r := recover(); r != nil {
			report = nil
			err = &PhaseError{Phase: state.CurrentPhase, Err: fmt.Errorf("panic: %v", r)}
		}
	}()

	if state.DocumentText == "" {
		return nil, &PhaseError{Phase: PhaseInitializing, Err: fmt.Errorf("document %s has no content", state.DocumentID)}
	}
	if len(c.agents) == 0 {
		return nil, &PhaseError{Phase: PhaseInitializing, Err: fmt.Errorf("no agents configured")}
	}

	sc := c.builder.Build(ctx, state.ClientID, state.DocumentID, state.DocumentText)

	// Phase 1: structure analysis.
	state = c.startPhase(state, PhaseStructure)
	phaseStart := time.Now()
	first := c.agents[0]
	result, retries := c.invoker.RunAgent(ctx, first, state, sc.SliceFor(first, c.cfg.WeightsFor(first)))
	state = state.WithAgentResult(first, result).WithRetryAttempt(first, retries)
	if result.Kind == ResultFallback {
		state = state.WithError(fmt.Sprintf("%s produced a fallback result", first))
	}
	c.endPhase(state, PhaseStructure, phaseStart)

	// Phase 2: remaining agents in parallel. Results flow through a local
	// channel; state stays functional, mutated only on this goroutine.
	state = c.startPhase(state, PhaseParallel)
	phaseStart = time.Now()
	type agentOutcome struct {
		name    string
		result  AgentResult
		retries int
	}
	rest := c.agents[1:]
	outcomes := make(chan agentOutcome, len(rest))
	var wg sync.WaitGroup
	for _, name := range rest {
		wg.Add(1)
		go func(name string) {
			defer wg.Done()
			res, n := c.invoker.RunAgent(ctx, name, state, sc.SliceFor(name, c.cfg.WeightsFor(name)))
			outcomes <- agentOutcome{name: name, result: res, retries: n}
		}(name)
	}
	wg.Wait()
	close(outcomes)
	for o := range outcomes {
		state = state.WithAgentResult(o.name, o.result).WithRetryAttempt(o.name, o.retries)
		if o.result.Kind == ResultFallback {
			state = state.WithError(fmt.Sprintf("%s produced a fallback result", o.name))
		}
	}
	c.endPhase(state, PhaseParallel, phaseStart)

	// Phase 3: cross-validation over findings re-read from the knowledge
	// store. The store copy is the source of truth: it is what future runs
	// will see, so conflicts are detected on it rather than on in-memory
	// results.
	state = c.startPhase(state, PhaseCrossValidation)
	phaseStart = time.Now()
	stored := c.readBackFindings(ctx, state)
	conflicts := DetectConflicts(stored, c.cfg.Conflict)
	resolutions := ResolveConflicts(conflicts)
	state = state.WithConflicts(conflicts...).WithResolutions(resolutions...)
	for _, conflict := range conflicts {
		if c.recorder != nil {
			c.recorder.IncConflict(conflict.Type, string(conflict.Severity))
		}
		c.emit(eventsink.Event{
			Type:       eventsink.TypeConflictFound,
			DocumentID: state.DocumentID,
			Message:    conflict.Description,
			Data:       map[string]any{"type": conflict.Type, "severity": string(conflict.Severity)},
			Timestamp:  time.Now().UTC(),
		})
		sc.Contribute("coordinator", "conflict", conflict.Description)
	}
	if err := c.persistCrossValidation(ctx, state, conflicts, resolutions); err != nil {
		// Cross-validation records are an optimization for later runs.
		c.logger.Warn("storing cross-validation results failed, continuing: %v", err)
	}
	c.endPhase(state, PhaseCrossValidation, phaseStart)

	// Phase 4: synthesis.
	state = c.startPhase(state, PhaseSynthesis)
	phaseStart = time.Now()
	finalReport := Synthesize(state)

	if err := c.persistReport(ctx, state, &finalReport); err != nil {
		c.logger.Warn("storing analysis summary failed, continuing: %v", err)
	}

	// Flush in-run learnings exactly once. A storage failure degrades
	// memory, not the analysis; a second flush attempt is a coordinator bug
	// and surfaces as a phase error.
	if err := sc.Persist(ctx, c.store); err != nil {
		var storageErr *memory.StorageError
		if !errors.As(err, &storageErr) {
			return nil, &PhaseError{Phase: PhaseSynthesis, Err: err}
		}
		c.logger.Warn("flushing run learnings failed, continuing: %v", err)
	}
	c.endPhase(state, PhaseSynthesis, phaseStart)

	state = state.WithPhase(PhaseComplete)
	c.emit(eventsink.Event{
		Type:       eventsink.TypeRunCompleted,
		DocumentID: state.DocumentID,
		Message:    finalReport.Status,
		Data: map[string]any{
			"overall_score": finalReport.OverallScore,
			"issues":        len(finalReport.AllIssues),
			"conflicts":     len(finalReport.Conflicts),
		},
		Timestamp: time.Now().UTC(),
	})

	return &finalReport, nil
}

// readBackFindings loads each agent's persisted finding from the episodic
// tier. An unreadable finding falls back to the in-state copy so a storage
// hiccup cannot erase an agent from cross-validation.
func (c *Coordinator) readBackFindings(ctx context.Context, state State) map[string]AgentResult {
	findings := make(map[string]AgentResult, len(state.AgentResults))

	for name, inState := range state.AgentResults {
		rec, err := c.store.Get(ctx, memory.FindingID(state.DocumentID, name))
		if err != nil || rec == nil {
			c.logger.Warn("finding for agent %s not readable from store, using in-memory copy: %v", name, err)
			findings[name] = inState
			continue
		}
		var stored AgentResult
		if err := json.Unmarshal([]byte(rec.Content), &stored); err != nil {
			c.logger.Warn("finding for agent %s corrupt in store, using in-memory copy: %v", name, err)
			findings[name] = inState
			continue
		}
		findings[name] = stored
	}

	return findings
}

func (c *Coordinator) persistCrossValidation(ctx context.Context, state State, conflicts []Conflict, resolutions []Resolution) error {
	if len(conflicts) == 0 {
		return nil
	}
	payload, err := json.Marshal(map[string]any{
		"conflicts":   conflicts,
		"resolutions": resolutions,
	})
	if err != nil {
		return err
	}
	_, err = c.store.Add(ctx, memory.TierEpisodic, string(payload), map[string]string{
		memory.MetaClientID:   state.ClientID,
		memory.MetaDocumentID: state.DocumentID,
		memory.MetaRecordType: memory.RecordTypeValidation,
	})
	return err
}

// persistReport stores a compact summary of the run in the episodic tier so
// future analyses of similar documents can retrieve it.
func (c *Coordinator) persistReport(ctx context.Context, state State, report *Report) error {
	summary := fmt.Sprintf("Analysis of document %s: status=%s score=%.2f issues=%d conflicts=%d",
		report.DocumentID, report.Status, report.OverallScore, len(report.AllIssues), len(report.Conflicts))

	_, err := c.store.Add(ctx, memory.TierEpisodic, summary, map[string]string{
		memory.MetaClientID:   state.ClientID,
		memory.MetaDocumentID: state.DocumentID,
		memory.MetaRecordType: memory.RecordTypeSummary,
		"status":              report.Status,
		"overall_score":       strconv.FormatFloat(report.OverallScore, 'f', 2, 64),
	})
	return err
}

func (c *Coordinator) startPhase(state State, phase Phase) State {
	next := state.WithPhase(phase)
	c.logger.Info("document %s entering phase %s", state.DocumentID, phase)
	c.emit(eventsink.Event{
		Type:       eventsink.TypePhaseStarted,
		DocumentID: state.DocumentID,
		Phase:      string(phase),
		Timestamp:  time.Now().UTC(),
	})
	return next
}

func (c *Coordinator) endPhase(state State, phase Phase, started time.Time) {
	if c.recorder != nil {
		c.recorder.ObservePhase(string(phase), time.Since(started))
	}
	c.emit(eventsink.Event{
		Type:       eventsink.TypePhaseCompleted,
		DocumentID: state.DocumentID,
		Phase:      string(phase),
		Timestamp:  time.Now().UTC(),
	})
}

// emit delivers an event, swallowing sink failures after logging. Event
// delivery is best-effort: a broken observer never breaks an analysis.
func (c *Coordinator) emit(event eventsink.Event) {
	if err := c.sink.Send(event); err != nil {
		c.logger.Debug("event sink send failed: %v", err)
	}
}
