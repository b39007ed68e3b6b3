// Command patentflow analyzes a patent document with the multi-agent
// workflow and prints the final report as JSON.
//
// Usage:
//
//	patentflow -file draft.txt -client acme
//	patentflow -config patentflow.yaml -file draft.txt -client acme -listen :8080
//	patentflow -doc-id doc-123 -client acme   # re-analyze a stored document
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"patentflow/pkg/agents"
	"patentflow/pkg/config"
	"patentflow/pkg/docstore"
	"patentflow/pkg/embed"
	"patentflow/pkg/eventsink"
	"patentflow/pkg/llm"
	"patentflow/pkg/logx"
	"patentflow/pkg/memory"
	"patentflow/pkg/metrics"
	"patentflow/pkg/priorart"
	"patentflow/pkg/utils"
	"patentflow/pkg/workflow"
)

func main() {
	var (
		configPath string
		filePath   string
		clientID   string
		documentID string
		mockMode   bool
		listenAddr string
	)
	flag.StringVar(&configPath, "config", "patentflow.yaml", "Path to config file")
	flag.StringVar(&filePath, "file", "", "Path to the patent document text to analyze")
	flag.StringVar(&clientID, "client", "", "Client identifier owning the document")
	flag.StringVar(&documentID, "doc-id", "", "Existing document ID to re-analyze (latest version)")
	flag.BoolVar(&mockMode, "mock", false, "Use mock LLM responses instead of live API calls")
	flag.StringVar(&listenAddr, "listen", "", "Serve /events (WebSocket) and /metrics on this address during the run")
	flag.Parse()

	if err := run(configPath, filePath, clientID, documentID, mockMode, listenAddr); err != nil {
		fmt.Fprintf(os.Stderr, "patentflow: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath, filePath, clientID, documentID string, mockMode bool, listenAddr string) error {
	logger := logx.NewLogger("patentflow")

	if clientID == "" {
		return fmt.Errorf("-client is required")
	}
	if filePath == "" && documentID == "" {
		return fmt.Errorf("one of -file or -doc-id is required")
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := memory.OpenDB(cfg.DBPath)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	store := memory.NewStore(db, embed.NewLocalEmbedder(cfg.EmbeddingDims))
	docs := docstore.NewStore(db)

	docID, docText, err := resolveDocument(ctx, docs, clientID, documentID, filePath)
	if err != nil {
		return err
	}

	sink, closeSinks, err := buildSinks(cfg, listenAddr, logger)
	if err != nil {
		return err
	}
	defer closeSinks()

	recorder := metrics.NewPrometheusRecorder()
	runner := agents.NewRunner(store, sink, cfg.Retry, recorder)

	structureClient, err := buildClient(cfg, "structure", mockMode)
	if err != nil {
		return err
	}
	legalClient, err := buildClient(cfg, "legal", mockMode)
	if err != nil {
		return err
	}
	structureClient = llm.NewInstrumentedClient(structureClient, recorder, cfg.Agents["structure"].Model, "structure")
	legalClient = llm.NewInstrumentedClient(legalClient, recorder, cfg.Agents["legal"].Model, "legal")

	pool := agents.NewPool(runner,
		agents.NewStructureAgent(structureClient, cfg.Agents["structure"], cfg.MaxContextChars),
		agents.NewLegalAgent(legalClient, cfg.Agents["legal"], priorart.NewClient(cfg.PriorArtURL), cfg.MaxContextChars),
	)

	coordinator := workflow.NewCoordinator(&cfg, store, memory.NewContextBuilder(store, &cfg), pool,
		[]string{"structure", "legal"}, sink, recorder)

	logger.Info("analyzing document %s for client %s", docID, clientID)
	report, errReport := coordinator.AnalyzeDocument(ctx, docID, clientID, docText)

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if errReport != nil {
		_ = enc.Encode(errReport)
		return fmt.Errorf("analysis failed: %s", errReport.Error)
	}
	if err := enc.Encode(report); err != nil {
		return err
	}

	reportTokenUsage(ctx, cfg, docID, logger)
	return nil
}

// reportTokenUsage logs per-agent token consumption for the run when a
// Prometheus server is configured. Best-effort: cost reporting never fails
// the command.
func reportTokenUsage(ctx context.Context, cfg config.Config, docID string, logger *logx.Logger) {
	if cfg.PrometheusURL == "" {
		return
	}
	query, err := metrics.NewQueryService(cfg.PrometheusURL)
	if err != nil {
		logger.Warn("metrics query service unavailable: %v", err)
		return
	}
	byAgent, err := query.GetDocumentMetricsByAgent(ctx, docID)
	if err != nil {
		logger.Warn("token usage lookup failed: %v", err)
		return
	}
	for agent, usage := range byAgent {
		logger.Info("agent %s used %d tokens (%d prompt, %d completion)",
			agent, usage.TotalTokens, usage.PromptTokens, usage.CompletionTokens)
	}
}

// resolveDocument loads the text to analyze. A -file argument creates a new
// stored document (or a new version of -doc-id); a bare -doc-id re-analyzes
// the latest stored version.
func resolveDocument(ctx context.Context, docs *docstore.Store, clientID, documentID, filePath string) (string, string, error) {
	if filePath == "" {
		ver, err := docs.GetLatestVersion(ctx, documentID)
		if err != nil {
			return "", "", fmt.Errorf("load document %s: %w", documentID, err)
		}
		return documentID, ver.Content, nil
	}

	data, err := os.ReadFile(filePath)
	if err != nil {
		return "", "", fmt.Errorf("read document file: %w", err)
	}
	// Exports from drafting tools often arrive with residual markup.
	text := utils.StripMarkup(string(data))

	if documentID != "" {
		if _, err := docs.CreateVersion(ctx, documentID, text); err != nil {
			return "", "", err
		}
		return documentID, text, nil
	}

	doc, err := docs.Create(ctx, clientID, documentTitle(text, filePath), text)
	if err != nil {
		return "", "", err
	}
	return doc.ID, text, nil
}

func documentTitle(text, filePath string) string {
	for _, line := range strings.SplitN(text, "\n", 10) {
		if candidate := strings.TrimSpace(line); len(candidate) > 10 {
			return candidate
		}
	}
	return filePath
}

func buildClient(cfg config.Config, agentName string, mockMode bool) (llm.LLMClient, error) {
	agentCfg, ok := cfg.Agents[agentName]
	if !ok {
		return nil, fmt.Errorf("agent %q has no configuration", agentName)
	}

	if mockMode {
		return llm.NewMockLLMClient([]llm.CompletionResponse{
			{Content: `{"score": 0.8, "issues": [], "recommendations": ["mock mode: configure a live provider for real analysis"]}`, StopReason: "stop"},
		}, nil), nil
	}

	opts := llm.ClientOptions{
		Provider: llm.Provider(agentCfg.Provider),
		Model:    agentCfg.Model,
		Retry: llm.RetryConfig{
			MaxRetries:    cfg.Retry.MaxRetries,
			InitialDelay:  cfg.Retry.InitialDelay,
			MaxDelay:      cfg.Retry.MaxDelay,
			BackoffFactor: 2.0,
			Jitter:        true,
		},
	}
	switch opts.Provider {
	case llm.ProviderAnthropic:
		opts.APIKey = config.AnthropicKey()
	case llm.ProviderOpenAI:
		opts.APIKey = config.OpenAIKey()
	case llm.ProviderOllama:
		opts.HostURL = config.OllamaHost()
	}
	return llm.NewClient(opts)
}

// buildSinks assembles the event fan-out: the daily JSONL audit log, a
// progress printer on stderr, and optionally a WebSocket broadcaster behind
// an HTTP listener that also exposes Prometheus metrics.
func buildSinks(cfg config.Config, listenAddr string, logger *logx.Logger) (eventsink.Sink, func(), error) {
	writer, err := eventsink.NewWriter(cfg.EventLogDir)
	if err != nil {
		return nil, nil, err
	}

	progress := eventsink.FuncSink(func(ev eventsink.Event) error {
		switch ev.Type {
		case eventsink.TypePhaseStarted:
			logger.Info("phase %s started", ev.Phase)
		case eventsink.TypeAgentRetry, eventsink.TypeAgentFallback, eventsink.TypeConflictFound:
			logger.Warn("%s: %s", ev.Type, ev.Message)
		}
		return nil
	})

	sinks := eventsink.MultiSink{writer, progress}

	var server *http.Server
	var wsSink *eventsink.WebSocketSink
	if listenAddr != "" {
		wsSink = eventsink.NewWebSocketSink()
		sinks = append(sinks, wsSink)

		mux := http.NewServeMux()
		mux.Handle("/events", wsSink)
		mux.Handle("/metrics", promhttp.Handler())
		server = &http.Server{Addr: listenAddr, Handler: mux}
		go func() {
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Warn("event server stopped: %v", err)
			}
		}()
		logger.Info("serving events and metrics on %s", listenAddr)
	}

	cleanup := func() {
		if server != nil {
			_ = server.Close()
		}
		if wsSink != nil {
			_ = wsSink.Close()
		}
		_ = writer.Close()
	}
	return sinks, cleanup, nil
}
