package llm

import (
	"context"
	"fmt"
)

// MockLLMClient provides a controllable implementation of LLMClient for testing.
type MockLLMClient struct {
	responses     []CompletionResponse
	responseIndex int
	errors        []error
	errorIndex    int
	requests      []CompletionRequest
}

// NewMockLLMClient creates a new mock client with predefined responses.
// Errors are consumed before responses: a nil entry in errors yields the
// next response instead.
func NewMockLLMClient(responses []CompletionResponse, errors []error) *MockLLMClient {
	return &MockLLMClient{
		responses: responses,
		errors:    errors,
	}
}

// Requests returns the completion requests seen so far, for assertions.
func (m *MockLLMClient) Requests() []CompletionRequest {
	return m.requests
}

// Complete returns the next predefined response or error.
func (m *MockLLMClient) Complete(_ context.Context, req CompletionRequest) (CompletionResponse, error) {
	m.requests = append(m.requests, req)

	if m.errorIndex < len(m.errors) {
		err := m.errors[m.errorIndex]
		m.errorIndex++
		if err != nil {
			return CompletionResponse{}, err
		}
	}

	if m.responseIndex >= len(m.responses) {
		return CompletionResponse{}, fmt.Errorf("mock client: no more responses")
	}

	resp := m.responses[m.responseIndex]
	m.responseIndex++
	return resp, nil
}

// Stream returns a channel that will receive predefined responses.
func (m *MockLLMClient) Stream(ctx context.Context, req CompletionRequest) (<-chan StreamChunk, error) {
	resp, err := m.Complete(ctx, req)
	if err != nil {
		return nil, err
	}

	ch := make(chan StreamChunk)
	go func() {
		defer close(ch)
		ch <- StreamChunk{
			Content: resp.Content,
			Done:    true,
		}
	}()

	return ch, nil
}
