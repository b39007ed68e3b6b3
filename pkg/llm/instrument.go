package llm

import (
	"context"
	"time"

	"patentflow/pkg/llm/llmerrors"
	"patentflow/pkg/utils"
)

// RequestObserver receives per-request metrics, satisfied by the Prometheus
// recorder.
type RequestObserver interface {
	ObserveRequest(model, documentID, agent string,
		promptTokens, completionTokens int,
		success bool, errorType string, duration time.Duration)
}

type docIDKey struct{}

// WithDocumentID attaches the document under analysis to the context so
// instrumented clients can label their metrics.
func WithDocumentID(ctx context.Context, documentID string) context.Context {
	return context.WithValue(ctx, docIDKey{}, documentID)
}

// DocumentIDFrom extracts the document ID set by WithDocumentID, if any.
func DocumentIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(docIDKey{}).(string)
	return id
}

// InstrumentedClient wraps an LLMClient and reports request counts, token
// usage and latency to an observer. Token counts are tokenizer estimates;
// providers do not all report usage, so estimates keep the metric uniform.
type InstrumentedClient struct {
	inner    LLMClient
	observer RequestObserver
	model    string
	agent    string
	tokens   *utils.TokenCounter
}

// NewInstrumentedClient wraps inner with metrics reporting under the given
// model and agent labels.
func NewInstrumentedClient(inner LLMClient, observer RequestObserver, model, agent string) *InstrumentedClient {
	counter, err := utils.NewTokenCounter()
	if err != nil {
		counter = &utils.TokenCounter{}
	}
	return &InstrumentedClient{
		inner:    inner,
		observer: observer,
		model:    model,
		agent:    agent,
		tokens:   counter,
	}
}

// Complete implements LLMClient.
func (c *InstrumentedClient) Complete(ctx context.Context, req CompletionRequest) (CompletionResponse, error) {
	start := time.Now()
	resp, err := c.inner.Complete(ctx, req)

	promptTokens := 0
	for _, msg := range req.Messages {
		promptTokens += c.tokens.CountTokens(msg.Content)
	}
	completionTokens := 0
	errorType := ""
	if err != nil {
		errorType = llmerrors.TypeOf(err).String()
	} else {
		completionTokens = c.tokens.CountTokens(resp.Content)
	}

	c.observer.ObserveRequest(c.model, DocumentIDFrom(ctx), c.agent,
		promptTokens, completionTokens, err == nil, errorType, time.Since(start))

	return resp, err
}

// Stream implements LLMClient. Stream setup is counted as a request; chunk
// tokens are not tracked.
func (c *InstrumentedClient) Stream(ctx context.Context, req CompletionRequest) (<-chan StreamChunk, error) {
	return c.inner.Stream(ctx, req)
}
