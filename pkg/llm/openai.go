package llm

import (
	"context"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/responses"

	"patentflow/pkg/llm/llmerrors"
)

// OpenAIClient wraps the official OpenAI Go client to implement the LLMClient interface.
type OpenAIClient struct {
	client openai.Client
	model  string
}

// NewOpenAIClientWithModel creates a new OpenAI client with a specific model
// (raw client, retry middleware applied at a higher level).
func NewOpenAIClientWithModel(apiKey, model string) LLMClient {
	client := openai.NewClient(option.WithAPIKey(apiKey))
	return &OpenAIClient{
		client: client,
		model:  model,
	}
}

// Complete implements the LLMClient interface using the Responses API.
func (o *OpenAIClient) Complete(ctx context.Context, in CompletionRequest) (CompletionResponse, error) {
	// Combine messages into a single input string for the responses API
	var inputText string
	for i := range in.Messages {
		msg := &in.Messages[i]
		switch msg.Role {
		case RoleSystem:
			inputText += fmt.Sprintf("System: %s\n\n", msg.Content)
		case RoleUser:
			inputText += msg.Content
		case RoleAssistant:
			inputText += fmt.Sprintf("Assistant: %s\n\n", msg.Content)
		}
	}

	params := responses.ResponseNewParams{
		Model:           o.model,
		MaxOutputTokens: openai.Int(int64(in.MaxTokens)),
		Input:           responses.ResponseNewParamsInputUnion{OfString: openai.String(inputText)},
	}

	resp, err := o.client.Responses.New(ctx, params)
	if err != nil {
		return CompletionResponse{}, classifyProviderError(err)
	}

	if resp == nil {
		return CompletionResponse{}, llmerrors.NewError(llmerrors.ErrorTypeEmptyResponse, "empty response from OpenAI Responses API")
	}

	content := resp.OutputText()
	if content == "" {
		return CompletionResponse{}, llmerrors.NewError(llmerrors.ErrorTypeEmptyResponse, "response contained no text output")
	}

	return CompletionResponse{
		Content:    content,
		StopReason: "end_turn",
	}, nil
}

// Stream implements the LLMClient interface.
func (o *OpenAIClient) Stream(ctx context.Context, in CompletionRequest) (<-chan StreamChunk, error) {
	ch := make(chan StreamChunk, 1)
	go func() {
		defer close(ch)
		resp, err := o.Complete(ctx, in)
		if err != nil {
			ch <- StreamChunk{Error: err}
			return
		}
		ch <- StreamChunk{Content: resp.Content}
		ch <- StreamChunk{Done: true}
	}()
	return ch, nil
}

// GetModelName returns the model name for this client.
func (o *OpenAIClient) GetModelName() string {
	return o.model
}
