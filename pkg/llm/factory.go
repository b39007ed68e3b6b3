package llm

import (
	"fmt"

	"patentflow/pkg/llm/llmerrors"
)

// Provider identifies an LLM backend.
type Provider string

const (
	ProviderAnthropic Provider = "anthropic"
	ProviderOpenAI    Provider = "openai"
	ProviderOllama    Provider = "ollama"
	ProviderMock      Provider = "mock"
)

// ClientOptions carries provider-specific construction parameters.
type ClientOptions struct {
	Provider Provider
	Model    string
	APIKey   string
	HostURL  string // Ollama only
	Retry    RetryConfig
}

// NewClient constructs a retry-wrapped client for the given provider.
// A missing API key is a configuration error, not a transient one: callers
// surface it as an immediate fallback result rather than retrying.
func NewClient(opts ClientOptions) (LLMClient, error) {
	var raw LLMClient

	switch opts.Provider {
	case ProviderAnthropic:
		if opts.APIKey == "" {
			return nil, llmerrors.NewError(llmerrors.ErrorTypeAuth, "anthropic API key not configured")
		}
		raw = NewClaudeClientWithModel(opts.APIKey, opts.Model)
	case ProviderOpenAI:
		if opts.APIKey == "" {
			return nil, llmerrors.NewError(llmerrors.ErrorTypeAuth, "openai API key not configured")
		}
		raw = NewOpenAIClientWithModel(opts.APIKey, opts.Model)
	case ProviderOllama:
		host := opts.HostURL
		if host == "" {
			host = "http://localhost:11434"
		}
		raw = NewOllamaClientWithModel(host, opts.Model)
	case ProviderMock:
		raw = NewMockLLMClient(nil, nil)
	default:
		return nil, fmt.Errorf("unknown LLM provider: %q", opts.Provider)
	}

	retry := opts.Retry
	if retry.MaxRetries == 0 && retry.InitialDelay == 0 {
		retry = DefaultRetryConfig
	}

	return NewRetryableClient(raw, retry), nil
}
