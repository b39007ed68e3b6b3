package metrics

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/api"
	v1 "github.com/prometheus/client_golang/api/prometheus/v1"
	"github.com/prometheus/common/model"
)

// DocumentMetrics represents aggregated token usage for one analyzed document.
type DocumentMetrics struct {
	DocumentID       string `json:"document_id"`
	PromptTokens     int64  `json:"prompt_tokens"`
	CompletionTokens int64  `json:"completion_tokens"`
	TotalTokens      int64  `json:"total_tokens"`
}

// QueryService provides methods to query recorded metrics from Prometheus,
// used for per-document cost reporting after runs complete.
type QueryService struct {
	client   api.Client
	queryAPI v1.API
}

// NewQueryService creates a new metrics query service.
func NewQueryService(prometheusURL string) (*QueryService, error) {
	client, err := api.NewClient(api.Config{
		Address: prometheusURL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Prometheus client: %w", err)
	}

	return &QueryService{
		client:   client,
		queryAPI: v1.NewAPI(client),
	}, nil
}

// GetDocumentMetrics retrieves aggregated token metrics for a document
// across all agents that analyzed it.
func (q *QueryService) GetDocumentMetrics(ctx context.Context, documentID string) (*DocumentMetrics, error) {
	metrics := &DocumentMetrics{
		DocumentID: documentID,
	}

	promptQuery := fmt.Sprintf(`sum(llm_tokens_total{document_id=%q, type="prompt"})`, documentID)
	promptResult, _, err := q.queryAPI.Query(ctx, promptQuery, time.Now())
	if err != nil {
		return nil, fmt.Errorf("failed to query prompt tokens: %w", err)
	}
	if vector, ok := promptResult.(model.Vector); ok && len(vector) > 0 {
		metrics.PromptTokens = int64(vector[0].Value)
	}

	completionQuery := fmt.Sprintf(`sum(llm_tokens_total{document_id=%q, type="completion"})`, documentID)
	completionResult, _, err := q.queryAPI.Query(ctx, completionQuery, time.Now())
	if err != nil {
		return nil, fmt.Errorf("failed to query completion tokens: %w", err)
	}
	if vector, ok := completionResult.(model.Vector); ok && len(vector) > 0 {
		metrics.CompletionTokens = int64(vector[0].Value)
	}

	metrics.TotalTokens = metrics.PromptTokens + metrics.CompletionTokens
	return metrics, nil
}

// GetDocumentMetricsByAgent retrieves token metrics broken down by agent.
func (q *QueryService) GetDocumentMetricsByAgent(ctx context.Context, documentID string) (map[string]*DocumentMetrics, error) {
	result := make(map[string]*DocumentMetrics)

	agentsQuery := fmt.Sprintf(`group by (agent) (llm_tokens_total{document_id=%q})`, documentID)
	agentsResult, _, err := q.queryAPI.Query(ctx, agentsQuery, time.Now())
	if err != nil {
		return nil, fmt.Errorf("failed to query agents: %w", err)
	}

	var agents []string
	if vector, ok := agentsResult.(model.Vector); ok {
		for _, sample := range vector {
			if agentName, ok := sample.Metric["agent"]; ok {
				agents = append(agents, string(agentName))
			}
		}
	}

	for _, agent := range agents {
		metrics := &DocumentMetrics{
			DocumentID: documentID,
		}

		promptQuery := fmt.Sprintf(`sum(llm_tokens_total{document_id=%q, agent=%q, type="prompt"})`, documentID, agent)
		promptResult, _, err := q.queryAPI.Query(ctx, promptQuery, time.Now())
		if err != nil {
			return nil, fmt.Errorf("failed to query prompt tokens for agent %s: %w", agent, err)
		}
		if vector, ok := promptResult.(model.Vector); ok && len(vector) > 0 {
			metrics.PromptTokens = int64(vector[0].Value)
		}

		completionQuery := fmt.Sprintf(`sum(llm_tokens_total{document_id=%q, agent=%q, type="completion"})`, documentID, agent)
		completionResult, _, err := q.queryAPI.Query(ctx, completionQuery, time.Now())
		if err != nil {
			return nil, fmt.Errorf("failed to query completion tokens for agent %s: %w", agent, err)
		}
		if vector, ok := completionResult.(model.Vector); ok && len(vector) > 0 {
			metrics.CompletionTokens = int64(vector[0].Value)
		}

		metrics.TotalTokens = metrics.PromptTokens + metrics.CompletionTokens
		result[agent] = metrics
	}

	return result, nil
}
