// Package di assembles the application from its configuration.
package di

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"souschef/internal/agent/app"
	"souschef/internal/agent/domain"
	"souschef/internal/agent/ports"
	"souschef/internal/checkpoint"
	"souschef/internal/config"
	apperrors "souschef/internal/errors"
	"souschef/internal/llm"
	"souschef/internal/logging"
	"souschef/internal/observability"
	"souschef/internal/rag"
	"souschef/internal/scraper/goodfood"
	"souschef/internal/toolregistry"
	recipetools "souschef/internal/tools/recipes"
)

// Container holds all application dependencies.
type Container struct {
	Config       config.Config
	Coordinator  *app.Coordinator
	Orchestrator *domain.Orchestrator
	Registry     *toolregistry.Registry
	Indexer      *rag.Indexer
	VectorStore  rag.VectorStore
	Checkpoints  ports.CheckpointStore
	LLM          ports.LLMClient
	Metrics      *observability.MetricsCollector
	Tracer       *observability.TracerProvider
}

// Option customises BuildContainer.
type Option func(*buildOptions)

type buildOptions struct {
	httpClient *http.Client
	logger     *observability.Logger
}

// WithHTTPClient routes every outbound call (model, embeddings, scraping)
// through client.
func WithHTTPClient(client *http.Client) Option {
	return func(o *buildOptions) { o.httpClient = client }
}

// WithBaseLogger replaces the logger built from the log section.
func WithBaseLogger(logger *observability.Logger) Option {
	return func(o *buildOptions) { o.logger = logger }
}

// BuildContainer wires every component. Call Cleanup when done.
func BuildContainer(cfg config.Config, opts ...Option) (*Container, error) {
	var options buildOptions
	for _, opt := range opts {
		opt(&options)
	}
	if options.logger == nil {
		options.logger = observability.NewLogger(cfg.Log)
	}
	logging.SetDefault(options.logger)
	logger := logging.NewComponentLogger("di")

	c := &Container{Config: cfg}
	ok := false
	defer func() {
		if !ok {
			_ = c.Cleanup(context.Background())
		}
	}()

	var err error
	if c.Tracer, err = observability.NewTracerProvider(cfg.Tracing); err != nil {
		return nil, fmt.Errorf("tracing: %w", err)
	}
	if c.Metrics, err = observability.NewMetricsCollector(cfg.Metrics); err != nil {
		return nil, fmt.Errorf("metrics: %w", err)
	}

	c.LLM, err = llm.NewClient(llm.Config{
		Provider:   cfg.LLM.Provider,
		Model:      cfg.LLM.Model,
		APIKey:     cfg.LLM.APIKey,
		BaseURL:    cfg.LLM.BaseURL,
		Timeout:    cfg.LLM.Timeout,
		MaxRetries: cfg.LLM.MaxRetries,
	}, options.httpClient, logging.NewComponentLogger("llm"))
	if err != nil {
		return nil, fmt.Errorf("llm: %w", err)
	}

	embedder, err := buildEmbedder(cfg, options.httpClient)
	if err != nil {
		return nil, fmt.Errorf("embedder: %w", err)
	}
	c.VectorStore, err = rag.NewVectorStore(rag.StoreConfig{
		PersistPath: cfg.Retriever.PersistDir,
		Collection:  cfg.Retriever.Collection,
	}, embedder)
	if err != nil {
		return nil, fmt.Errorf("vector store: %w", err)
	}
	retriever := rag.NewRetriever(rag.RetrieverConfig{
		TopK:          cfg.Retriever.TopK,
		MinSimilarity: cfg.Retriever.MinSimilarity,
	}, c.VectorStore, logging.NewComponentLogger("retriever"))

	scraper := goodfood.New(goodfood.Config{
		BaseURL:   cfg.Scraper.BaseURL,
		UserAgent: cfg.Scraper.UserAgent,
		Timeout:   cfg.Scraper.Timeout,
		CacheSize: cfg.Scraper.CacheSize,
		CacheTTL:  cfg.Scraper.CacheTTL,
	}, options.httpClient, logging.NewComponentLogger("scraper"))

	c.Indexer = rag.NewIndexer(rag.IndexerConfig{Concurrency: cfg.Retriever.IndexConcurrency},
		scraper, c.LLM, embedder, c.VectorStore, logging.NewComponentLogger("indexer"))

	c.Registry, err = toolregistry.New(
		toolregistry.WithCache(recipetools.NewRetriever(retriever), toolregistry.CacheConfig{TTL: cfg.Retriever.ResultCacheTTL}),
		recipetools.NewScraper(scraper),
	)
	if err != nil {
		return nil, fmt.Errorf("tools: %w", err)
	}

	invoker := domain.NewToolInvoker(c.Registry, domain.InvokerConfig{
		MaxConcurrent:   cfg.Agent.ToolMaxConcurrent,
		Timeout:         cfg.Agent.ToolTimeout,
		MaxResultTokens: cfg.Agent.MaxResultTokens,
	}, logging.NewComponentLogger("invoker"), c.Metrics)
	c.Orchestrator = domain.NewOrchestrator(c.LLM, c.Registry, invoker, domain.Config{
		MaxIterations: cfg.Agent.MaxIterations,
		SystemPrompt:  cfg.Agent.SystemPrompt,
		Temperature:   cfg.LLM.Temperature,
		MaxTokens:     cfg.LLM.MaxTokens,
	}, domain.WithLogger(logging.NewComponentLogger("orchestrator")), domain.WithLLMMetrics(c.Metrics))

	if c.Checkpoints, err = buildCheckpoints(cfg.Checkpoint); err != nil {
		return nil, fmt.Errorf("checkpoint: %w", err)
	}
	c.Coordinator = app.NewCoordinator(c.Orchestrator, c.Checkpoints,
		app.WithLogger(logging.NewComponentLogger("coordinator")),
		app.WithMetrics(c.Metrics),
		app.WithSaveTimeout(cfg.Agent.SaveTimeout),
	)

	logger.Info("Container built: provider=%s model=%s tools=%v checkpoints=%s indexed=%d",
		cfg.LLM.Provider, c.LLM.Model(), c.Registry.Names(), cfg.Checkpoint.Backend, c.VectorStore.Count())
	ok = true
	return c, nil
}

// buildEmbedder uses the offline embedder with the mock model so nothing
// needs network access.
func buildEmbedder(cfg config.Config, client *http.Client) (rag.Embedder, error) {
	if cfg.LLM.Provider == llm.ProviderMock {
		return rag.NewHashEmbedder(0), nil
	}
	return rag.NewEmbedder(rag.EmbedderConfig{
		Model:     cfg.Retriever.EmbeddingModel,
		APIKey:    cfg.LLM.APIKey,
		BaseURL:   cfg.LLM.BaseURL,
		CacheSize: cfg.Retriever.EmbeddingCacheSize,
		Timeout:   cfg.Retriever.EmbeddingTimeout,
		Retry:     apperrors.DefaultRetryConfig(),
	}, client, logging.NewComponentLogger("embedder"))
}

func buildCheckpoints(cfg config.CheckpointConfig) (ports.CheckpointStore, error) {
	switch cfg.Backend {
	case "file":
		return checkpoint.NewFileStore(cfg.Dir, logging.NewComponentLogger("checkpoint"))
	case "", "memory":
		return checkpoint.NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unsupported backend %q", cfg.Backend)
	}
}

// Cleanup closes the index and flushes telemetry.
func (c *Container) Cleanup(ctx context.Context) error {
	var errs []error
	if c.VectorStore != nil {
		errs = append(errs, c.VectorStore.Close())
	}
	if c.Metrics != nil {
		errs = append(errs, c.Metrics.Shutdown(ctx))
	}
	if c.Tracer != nil {
		errs = append(errs, c.Tracer.Shutdown(ctx))
	}
	return errors.Join(errs...)
}
