// Package kioku is the public API for embedding the memory processing
// engine.
//
// Consumers import this package to construct and run the pipeline against
// their own message store without forking it:
//
//	app, err := kioku.New(
//	    kioku.WithMessageStore(myConversationStore{}),
//	    kioku.WithLogger(logger),
//	    kioku.WithEventHook(myAnalyticsHook{}),
//	)
//	if err != nil { ... }
//	app.Start(ctx)
//	err := app.EnqueueConversation(ctx, conversationID)
//	...
//	_ = app.Shutdown(context.Background())
//
// The import graph enforces a strict no-cycle rule: kioku (root) imports
// internal/*, but internal/* never imports kioku (root). Public types
// (Memory, Message, etc.) are standalone structs with no internal imports;
// conversion helpers (toPublicMemory, toInternalMemory) live here because
// this is the only file that sees both sides of the boundary.
package kioku

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/joho/godotenv"

	"github.com/kioku-ai/kioku/internal/autoconfirm"
	"github.com/kioku-ai/kioku/internal/config"
	"github.com/kioku-ai/kioku/internal/dedup"
	"github.com/kioku-ai/kioku/internal/embedding"
	"github.com/kioku-ai/kioku/internal/llmclient"
	"github.com/kioku-ai/kioku/internal/model"
	"github.com/kioku-ai/kioku/internal/pipeline"
	"github.com/kioku-ai/kioku/internal/search"
	"github.com/kioku-ai/kioku/internal/storage"
	"github.com/kioku-ai/kioku/internal/telemetry"
	"github.com/kioku-ai/kioku/migrations"
)

// App is the memory processing engine's lifecycle. Construct with New,
// start processing with Start. App has no public fields — use New() options
// to configure it.
type App struct {
	cfg          config.Config
	db           *storage.DB
	orchestrator *pipeline.Orchestrator
	autoconfirm  *autoconfirm.Engine
	qdrantIndex  *search.QdrantIndex // nil when Qdrant is not configured
	otelShutdown func(context.Context) error
	logger       *slog.Logger
	version      string
}

// New initializes the engine: it connects to the database, runs migrations,
// wires the pipeline's stages, and returns a ready-to-run App. It does not
// start any goroutines — call Start.
func New(opts ...Option) (*App, error) {
	o := resolvedOptions{}
	for _, fn := range opts {
		fn(&o)
	}
	if o.messageStore == nil {
		return nil, fmt.Errorf("kioku: WithMessageStore is required")
	}

	logger := o.logger
	if logger == nil {
		logger = slog.Default()
	}

	// Load .env file if present (non-fatal; production won't have one).
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if o.databaseURL != "" {
		cfg.DatabaseURL = o.databaseURL
	}
	if o.notifyURL != "" {
		cfg.NotifyURL = o.notifyURL
	}
	version := o.version
	if version == "" {
		version = "dev"
	}

	logger.Info("kioku starting", "version", version)

	otelShutdown, err := telemetry.Init(context.Background(), cfg.OTELEndpoint, cfg.ServiceName, version, cfg.OTELInsecure)
	if err != nil {
		return nil, fmt.Errorf("telemetry: %w", err)
	}

	db, err := storage.New(context.Background(), cfg.DatabaseURL, cfg.NotifyURL, logger)
	if err != nil {
		_ = otelShutdown(context.Background())
		return nil, fmt.Errorf("storage: %w", err)
	}

	if err := db.RunMigrations(context.Background(), migrations.FS); err != nil {
		db.Close(context.Background())
		_ = otelShutdown(context.Background())
		return nil, fmt.Errorf("migrations: %w", err)
	}
	for i, extraFS := range o.extraMigrations {
		if err := db.RunMigrations(context.Background(), extraFS); err != nil {
			db.Close(context.Background())
			_ = otelShutdown(context.Background())
			return nil, fmt.Errorf("extra migrations[%d]: %w", i, err)
		}
	}

	// Embedding provider — external override takes priority over auto-detect.
	var embedder pipeline.Embedder
	if o.embeddingProvider != nil {
		embedder = o.embeddingProvider
	} else {
		embedder = newEmbeddingProvider(cfg, logger)
	}
	if _, ok := embedder.(*embedding.NoopProvider); ok {
		embedder = nil // pipeline treats a nil Embedder as "no enrichment configured"
	}

	// Qdrant-accelerated candidate finder and index mirror, optional.
	var qdrantIndex *search.QdrantIndex
	var finder dedup.CandidateFinder
	var indexer pipeline.Indexer
	if cfg.QdrantURL != "" {
		var idxErr error
		qdrantIndex, idxErr = search.NewQdrantIndex(search.Config{
			URL:        cfg.QdrantURL,
			APIKey:     cfg.QdrantAPIKey,
			Collection: cfg.QdrantCollection,
			Dims:       uint64(cfg.QdrantDims), //nolint:gosec // validated positive in config.Validate
		})
		if idxErr != nil {
			db.Close(context.Background())
			_ = otelShutdown(context.Background())
			return nil, fmt.Errorf("qdrant: %w", idxErr)
		}
		if err := qdrantIndex.EnsureCollection(context.Background()); err != nil {
			_ = qdrantIndex.Close()
			db.Close(context.Background())
			_ = otelShutdown(context.Background())
			return nil, fmt.Errorf("qdrant ensure collection: %w", err)
		}
		finder = qdrantIndex.WithResolver(db.FindMemoriesByID)
		indexer = qdrantIndex.AsIndexer()
		logger.Info("qdrant: enabled", "collection", cfg.QdrantCollection)
	} else {
		logger.Info("qdrant: disabled (no QDRANT_URL)")
	}

	// External Searcher override replaces the Qdrant candidate finder.
	if o.searcher != nil {
		finder = &searcherAdapter{s: o.searcher}
	}

	// LLM client — external override takes priority over the default HTTP client.
	var llm llmclient.Client
	if o.llmClient != nil {
		llm = &llmClientAdapter{c: o.llmClient}
	} else {
		httpClient, err := llmclient.NewHTTPClient(cfg.LLMAPIKey, cfg.LLMBaseURL)
		if err != nil {
			db.Close(context.Background())
			_ = otelShutdown(context.Background())
			return nil, fmt.Errorf("llm client: %w", err)
		}
		llm = httpClient
	}

	store := pipeline.Store(db)
	if len(o.eventHooks) > 0 {
		store = &hookedStore{Store: store, hooks: o.eventHooks, logger: logger}
	}

	orchestrator := pipeline.New(cfg.Pipeline(), pipeline.Deps{
		Messages: &messageStoreAdapter{s: o.messageStore},
		Store:    store,
		LLM:      llm,
		Finder:   finder,
		Embedder: embedder,
		Indexer:  indexer,
		Logger:   logger,
	})

	return &App{
		cfg:          cfg,
		db:           db,
		orchestrator: orchestrator,
		autoconfirm:  autoconfirm.New(db),
		qdrantIndex:  qdrantIndex,
		otelShutdown: otelShutdown,
		logger:       logger,
		version:      version,
	}, nil
}

// Start launches the bounded worker pool against ctx. Cancelling ctx (or
// calling Cancel) stops workers from taking further batches off the queue;
// batches already in progress share that context and are cut short at
// their next context check rather than run to completion.
func (a *App) Start(ctx context.Context) {
	a.orchestrator.Start(ctx)
}

// Cancel stops the worker pool: no further batches are dequeued, and
// batches already being processed are cut short at their next context
// check.
func (a *App) Cancel() {
	a.orchestrator.Cancel()
}

// Wait blocks until every worker has exited.
func (a *App) Wait() error {
	return a.orchestrator.Wait()
}

// EnqueueConversation lists a conversation's messages, batches them, and
// queues the result for processing.
func (a *App) EnqueueConversation(ctx context.Context, conversationID string) error {
	return a.orchestrator.EnqueueConversation(ctx, conversationID)
}

// Status returns a point-in-time ProgressSnapshot.
func (a *App) Status() ProgressSnapshot {
	s := a.orchestrator.Status()
	return ProgressSnapshot{
		BatchesCompleted:  s.BatchesCompleted,
		BatchesFailed:     s.BatchesFailed,
		MemoriesExtracted: s.MemoriesExtracted,
		AverageConfidence: s.AverageConfidence,
		AutoApproved:      s.AutoApproved,
		NeedsReview:       s.NeedsReview,
		AutoRejected:      s.AutoRejected,
		SpentUSD:          s.SpentUSD,
		Stopped:           s.Stopped,
	}
}

// NextForReview returns up to maxN needs-review memories ordered by
// validation priority, for presentation to a human reviewer.
func (a *App) NextForReview(ctx context.Context, maxN int) ([]Memory, error) {
	memories, err := a.db.NextForReview(ctx, maxN)
	if err != nil {
		return nil, err
	}
	out := make([]Memory, len(memories))
	for i, m := range memories {
		out[i] = toPublicMemory(m)
	}
	return out, nil
}

// SubmitFeedback records human review decisions and folds them into
// adaptive-threshold learning.
func (a *App) SubmitFeedback(ctx context.Context, feedback []Feedback) error {
	internal := make([]autoconfirm.Feedback, len(feedback))
	for i, f := range feedback {
		internal[i] = autoconfirm.Feedback{
			MemoryID:         f.MemoryID,
			OriginalDecision: model.ValidationState(f.OriginalDecision),
			HumanDecision:    model.ValidationState(f.HumanDecision),
		}
	}
	if err := a.db.SubmitFeedback(ctx, internal); err != nil {
		return fmt.Errorf("submit feedback: %w", err)
	}
	if _, err := a.autoconfirm.ApplyFeedback(ctx, internal); err != nil {
		return fmt.Errorf("apply feedback: %w", err)
	}
	return nil
}

// Shutdown closes the database pool, the Qdrant connection (if any), and
// the OTEL provider.
func (a *App) Shutdown(ctx context.Context) error {
	a.logger.Info("kioku shutting down")
	if a.qdrantIndex != nil {
		_ = a.qdrantIndex.Close()
	}
	_ = a.otelShutdown(context.Background())
	a.db.Close(ctx)
	a.logger.Info("kioku stopped")
	return nil
}

// ── Adapters (defined here because this file imports both sides) ───────────

// messageStoreAdapter wraps a public MessageStore to satisfy
// pipeline.MessageStore, converting at the model/public boundary.
type messageStoreAdapter struct {
	s MessageStore
}

func (a *messageStoreAdapter) ListMessages(ctx context.Context, conversationID string, since, until *time.Time) ([]model.Message, error) {
	messages, err := a.s.ListMessages(ctx, conversationID, since, until)
	if err != nil {
		return nil, err
	}
	out := make([]model.Message, len(messages))
	for i, m := range messages {
		out[i] = model.Message{
			ID:             m.ID,
			ConversationID: m.ConversationID,
			AuthorID:       m.AuthorID,
			Timestamp:      m.Timestamp,
			Text:           m.Text,
		}
	}
	return out, nil
}

// llmClientAdapter wraps a public LLMClient to satisfy llmclient.Client.
type llmClientAdapter struct {
	c LLMClient
}

func (a *llmClientAdapter) Call(ctx context.Context, prompt string, params llmclient.Params) (llmclient.RawResponse, error) {
	resp, err := a.c.Call(ctx, prompt, LLMParams{
		Model:       params.Model,
		Temperature: params.Temperature,
		MaxTokens:   params.MaxTokens,
		Timeout:     params.Timeout,
	})
	if err != nil {
		return llmclient.RawResponse{}, err
	}
	return llmclient.RawResponse{
		Content: resp.Content,
		Usage: llmclient.Usage{
			InputTokens:  resp.Usage.InputTokens,
			OutputTokens: resp.Usage.OutputTokens,
		},
	}, nil
}

// searcherAdapter wraps a public Searcher to satisfy dedup.CandidateFinder.
type searcherAdapter struct {
	s Searcher
}

func (a *searcherAdapter) FindCandidates(ctx context.Context, participantIDs []string, windowStart, windowEnd time.Time) ([]model.Memory, error) {
	memories, err := a.s.FindCandidates(ctx, participantIDs, windowStart, windowEnd)
	if err != nil {
		return nil, err
	}
	out := make([]model.Memory, len(memories))
	for i, m := range memories {
		out[i] = toInternalMemory(m)
	}
	return out, nil
}

// hookedStore embeds a pipeline.Store and overrides UpsertMemory /
// RecordBatchOutcome to fire registered EventHooks asynchronously after
// delegating to the wrapped store; every other method is promoted
// unchanged.
type hookedStore struct {
	pipeline.Store
	hooks  []EventHook
	logger *slog.Logger
}

func (s *hookedStore) UpsertMemory(ctx context.Context, m model.Memory) (inserted bool, id string, err error) {
	inserted, id, err = s.Store.UpsertMemory(ctx, m)
	if err == nil && inserted {
		s.fireMemoryPersisted(m)
	}
	return inserted, id, err
}

func (s *hookedStore) RecordBatchOutcome(ctx context.Context, outcome pipeline.BatchOutcome) error {
	err := s.Store.RecordBatchOutcome(ctx, outcome)
	if err == nil {
		s.fireBatchOutcome(outcome)
	}
	return err
}

func (s *hookedStore) fireMemoryPersisted(m model.Memory) {
	hooks := s.hooks
	logger := s.logger
	pub := toPublicMemory(m)
	go func() {
		hookCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		for _, h := range hooks {
			if err := h.OnMemoryPersisted(hookCtx, pub); err != nil {
				logger.Warn("event hook OnMemoryPersisted failed", "error", err)
			}
		}
	}()
}

func (s *hookedStore) fireBatchOutcome(outcome pipeline.BatchOutcome) {
	hooks := s.hooks
	logger := s.logger
	pub := BatchOutcome{
		BatchID:           outcome.BatchID,
		Status:            outcome.Status,
		ErrorClass:        outcome.ErrorClass,
		MemoriesExtracted: outcome.MemoriesExtracted,
		SpentUSD:          outcome.SpentUSD,
	}
	go func() {
		hookCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		for _, h := range hooks {
			if err := h.OnBatchOutcome(hookCtx, pub); err != nil {
				logger.Warn("event hook OnBatchOutcome failed", "error", err)
			}
		}
	}()
}

// ── Type converters ──────────────────────────────────────────────────────

// toPublicMemory converts an internal model.Memory to the public
// kioku.Memory. Lives here because this is the only file that imports both
// sides of the boundary.
func toPublicMemory(m model.Memory) Memory {
	participants := make([]Participant, len(m.Participants))
	for i, p := range m.Participants {
		participants[i] = Participant{ID: p.ID, DisplayName: p.DisplayName, Role: Role(p.Role)}
	}
	return Memory{
		ID:               m.ID,
		SourceMessageIDs: m.SourceMessageIDs,
		Participants:     participants,
		Summary:          m.Summary,
		Confidence:       m.Confidence,
		Significance:     m.Significance.Overall,
		MoodScore:        m.MoodScore.Score,
		Validation:       ValidationState(m.Validation),
		ContentHash:      m.ContentHash,
		ExtractedAt:      m.ExtractedAt,
	}
}

// toInternalMemory converts a public kioku.Memory back to model.Memory, for
// the Searcher adapter's return path. Only the fields a CandidateFinder
// result needs for dedup scoring are populated; callers resolving from a
// real store (the common case) should prefer returning full records instead.
func toInternalMemory(m Memory) model.Memory {
	participants := make([]model.Participant, len(m.Participants))
	for i, p := range m.Participants {
		participants[i] = model.Participant{ID: p.ID, DisplayName: p.DisplayName, Role: model.Role(p.Role)}
	}
	return model.Memory{
		ID:               m.ID,
		SourceMessageIDs: m.SourceMessageIDs,
		Participants:     participants,
		Summary:          m.Summary,
		Confidence:       m.Confidence,
		Significance:     model.SignificanceScore{Overall: m.Significance},
		MoodScore:        model.MoodScore{Score: m.MoodScore},
		Validation:       model.ValidationState(m.Validation),
		ContentHash:      m.ContentHash,
		ExtractedAt:      m.ExtractedAt,
	}
}

// ── Helpers ──────────────────────────────────────────────────────────────

// newEmbeddingProvider auto-detects an embedding provider the way
// cmd/akashi/main.go's embedding wiring does: "auto" probes Ollama first,
// then falls back to OpenAI if an API key is configured, else noop.
func newEmbeddingProvider(cfg config.Config, logger *slog.Logger) embedding.Provider {
	dims := cfg.EmbeddingDimensions

	switch cfg.EmbeddingProvider {
	case "openai":
		if cfg.LLMAPIKey == "" {
			logger.Error("KIOKU_LLM_API_KEY required when KIOKU_EMBEDDING_PROVIDER=openai")
			return embedding.NewNoopProvider(dims)
		}
		logger.Info("embedding provider: openai", "model", cfg.EmbeddingModel, "dimensions", dims)
		p, err := embedding.NewOpenAIProvider(cfg.LLMAPIKey, cfg.EmbeddingModel, dims)
		if err != nil {
			logger.Error("openai provider init failed", "error", err)
			return embedding.NewNoopProvider(dims)
		}
		return p
	case "ollama":
		logger.Info("embedding provider: ollama", "url", cfg.OllamaBaseURL, "model", cfg.EmbeddingModel, "dimensions", dims)
		return embedding.NewOllamaProvider(cfg.OllamaBaseURL, cfg.EmbeddingModel, dims)
	case "noop":
		logger.Info("embedding provider: noop (vector candidate refinement disabled)")
		return embedding.NewNoopProvider(dims)
	case "auto":
		fallthrough
	default:
		if ollamaReachable(cfg.OllamaBaseURL) {
			logger.Info("embedding provider: ollama (auto-detected)", "url", cfg.OllamaBaseURL, "model", cfg.EmbeddingModel, "dimensions", dims)
			return embedding.NewOllamaProvider(cfg.OllamaBaseURL, cfg.EmbeddingModel, dims)
		}
		if cfg.LLMAPIKey != "" {
			logger.Info("embedding provider: openai (auto-detected)", "model", cfg.EmbeddingModel, "dimensions", dims)
			p, err := embedding.NewOpenAIProvider(cfg.LLMAPIKey, cfg.EmbeddingModel, dims)
			if err != nil {
				logger.Error("openai provider init failed", "error", err)
				return embedding.NewNoopProvider(dims)
			}
			return p
		}
		logger.Warn("no embedding provider available, using noop (vector candidate refinement disabled)")
		return embedding.NewNoopProvider(dims)
	}
}

func ollamaReachable(baseURL string) bool {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/api/tags", nil)
	if err != nil {
		return false
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return false
	}
	_ = resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}
