package agents

import (
	"context"
	"fmt"

	"patentflow/pkg/memory"
	"patentflow/pkg/workflow"
)

// Pool exposes a set of named analyzers through the workflow's AgentInvoker
// contract. The coordinator addresses agents by name and never imports this
// package.
type Pool struct {
	runner    *Runner
	analyzers map[string]Analyzer
}

// NewPool builds a pool over the given analyzers, keyed by Name().
func NewPool(runner *Runner, analyzers ...Analyzer) *Pool {
	byName := make(map[string]Analyzer, len(analyzers))
	for _, a := range analyzers {
		byName[a.Name()] = a
	}
	return &Pool{runner: runner, analyzers: byName}
}

// Names lists the registered agent names. Map order, not registration
// order; callers that care about ordering keep their own list.
func (p *Pool) Names() []string {
	names := make([]string, 0, len(p.analyzers))
	for name := range p.analyzers {
		names = append(names, name)
	}
	return names
}

// RunAgent implements workflow.AgentInvoker. An unknown agent name yields a
// failure fallback rather than an error: the workflow's contract is that
// every agent slot produces a result.
func (p *Pool) RunAgent(ctx context.Context, name string, state workflow.State, slice memory.ContextSlice) (workflow.AgentResult, int) {
	agent, ok := p.analyzers[name]
	if !ok {
		return FailureFallback(name, fmt.Errorf("no agent registered under %q", name)), 0
	}
	return p.runner.Run(ctx, agent, state, slice)
}
