// Package pipeline wires the stages (C2-C10) into the bounded worker pool
// described by §4.11 and §5: a shared queue of Batches, a rate limiter and
// cost ledger gating outbound calls, and a per-memory confidence →
// significance → auto-confirmation → dedup/merge → persistence chain.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kioku-ai/kioku/internal/autoconfirm"
	"github.com/kioku-ai/kioku/internal/batch"
	"github.com/kioku-ai/kioku/internal/confidence"
	"github.com/kioku-ai/kioku/internal/dedup"
	"github.com/kioku-ai/kioku/internal/hashsim"
	"github.com/kioku-ai/kioku/internal/llmclient"
	"github.com/kioku-ai/kioku/internal/model"
	"github.com/kioku-ai/kioku/internal/prompt"
	"github.com/kioku-ai/kioku/internal/ratelimit"
	"github.com/kioku-ai/kioku/internal/retry"
	"github.com/kioku-ai/kioku/internal/significance"
)

// moodDeltaWindow bounds how far back RecentMoodPoints looks (§4.8: 24h).
const moodDeltaWindow = 24 * time.Hour

// approxCostPerToken is a placeholder per-token rate used to translate
// llmclient.Usage into the cost-ledger's unit-agnostic budget (§6: maxUSD).
// Deployments with a real provider rate card inject their own via
// Config.CostPerToken.
const approxCostPerToken = 0.000002

// Config holds every tunable named in §6's configuration table.
type Config struct {
	MaxUSD                float64 // <=0 means unlimited
	RequestsPerSecond     float64
	RequestBurst          int
	RequestTimeoutSeconds int
	WorkerCount           int
	Batch                 batch.Config
	Thresholds            model.ThresholdConfig
	SignificanceWeights   model.SignificanceWeights
	SimilarityWeights     hashsim.Weights
	DuplicateAt           float64
	NearDuplicateAt       float64
	Model                 string
	CostPerToken          float64
	EnableOutcomeLedger   bool
}

// WithDefaults fills zero-valued fields with §6's documented defaults.
func (c Config) WithDefaults() Config {
	if c.RequestsPerSecond <= 0 {
		c.RequestsPerSecond = 1
	}
	if c.RequestBurst <= 0 {
		c.RequestBurst = 5
	}
	if c.RequestTimeoutSeconds <= 0 {
		c.RequestTimeoutSeconds = llmclient.DefaultTimeoutSeconds
	}
	if c.WorkerCount <= 0 {
		c.WorkerCount = min(runtime.NumCPU(), 8) // built-in min (Go 1.21+)
	}
	c.Batch = c.Batch.WithDefaults()
	if c.Thresholds == (model.ThresholdConfig{}) {
		c.Thresholds = model.DefaultThresholds()
	}
	if c.SignificanceWeights == (model.SignificanceWeights{}) {
		c.SignificanceWeights = model.DefaultSignificanceWeights()
	}
	if c.SimilarityWeights == (hashsim.Weights{}) {
		c.SimilarityWeights = hashsim.DefaultWeights()
	}
	if c.DuplicateAt <= 0 {
		c.DuplicateAt = 0.85
	}
	if c.NearDuplicateAt <= 0 {
		c.NearDuplicateAt = 0.70
	}
	if c.CostPerToken <= 0 {
		c.CostPerToken = approxCostPerToken
	}
	return c
}

// Embedder generates a summary embedding for a materialized Memory. Optional:
// when nil, memories are persisted without one and candidate lookup falls
// back to the participant/temporal scan.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Indexer mirrors a newly persisted, non-duplicate Memory into an
// acceleration index (e.g. search.QdrantIndex) for future candidate lookups.
// Optional: failures are logged and never fail the memory's own processing,
// since the Postgres row is already the durable record.
type Indexer interface {
	Upsert(ctx context.Context, m model.Memory) error
}

// Deps bundles the orchestrator's external collaborators (§6 consumed
// interfaces).
type Deps struct {
	Messages MessageStore
	Store    Store
	LLM      llmclient.Client
	Finder   dedup.CandidateFinder // optional; nil falls back to Store.FindMemoryCandidates
	Embedder Embedder              // optional
	Indexer  Indexer               // optional; only consulted when Embedder is also set
	Logger   *slog.Logger
}

// Orchestrator owns the bounded work queue and worker pool (C11).
type Orchestrator struct {
	cfg  Config
	deps Deps

	limiter     *ratelimit.Limiter
	ledger      *ratelimit.Ledger
	confidence  *confidence.Calculator
	significance *significance.Analyzer
	autoconfirm *autoconfirm.Engine
	dedup       *dedup.Engine

	queue    chan model.Batch
	progress progress

	cancel context.CancelFunc
	group  *errgroup.Group
}

// New builds an Orchestrator. Call Start to begin processing.
func New(cfg Config, deps Deps) *Orchestrator {
	cfg = cfg.WithDefaults()
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}

	dedupEngine := dedup.New(deps.Store).WithScorer(
		hashsim.NewScorer().WithWeights(cfg.SimilarityWeights).WithThresholds(cfg.DuplicateAt, cfg.NearDuplicateAt),
	)
	if deps.Finder != nil {
		dedupEngine = dedupEngine.WithCandidateFinder(deps.Finder)
	}

	return &Orchestrator{
		cfg:          cfg,
		deps:         deps,
		limiter:      ratelimit.New(cfg.RequestsPerSecond, cfg.RequestBurst),
		ledger:       ratelimit.NewLedger(cfg.MaxUSD),
		confidence:   confidence.New(),
		significance: significance.New().WithWeights(cfg.SignificanceWeights),
		autoconfirm:  autoconfirm.New(deps.Store),
		dedup:        dedupEngine,
		queue:        make(chan model.Batch, cfg.WorkerCount*2),
	}
}

// Start launches the worker pool against ctx. Cancelling ctx (or calling
// Cancel) stops workers from taking further batches off the queue. Batches
// already in progress run under the same context, so their rate-limit
// wait, LLM call, retry sleeps and store writes stop at the next point
// that checks it; such a batch does not run to completion.
func (o *Orchestrator) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	o.cancel = cancel
	group, gctx := errgroup.WithContext(ctx)
	o.group = group

	for i := 0; i < o.cfg.WorkerCount; i++ {
		group.Go(func() error {
			o.workerLoop(gctx)
			return nil
		})
	}
}

// Cancel cancels the context the workers run under: no further batches are
// dequeued, and batches already being processed are cut short at their next
// context check (see Start).
func (o *Orchestrator) Cancel() {
	if o.cancel != nil {
		o.cancel()
	}
}

// Wait blocks until every worker has exited (queue closed or ctx done).
func (o *Orchestrator) Wait() error {
	if o.group == nil {
		return nil
	}
	return o.group.Wait()
}

// EnqueueConversation lists a conversation's messages, batches them (C5),
// and pushes the result onto the work queue in emission order (§5:
// "Batches for a single conversation are processed in emission order by
// C5 when a single worker handles that conversation").
func (o *Orchestrator) EnqueueConversation(ctx context.Context, conversationID string) error {
	if o.progress.stopped.Load() {
		return &Error{Kind: KindBudgetExceeded, Message: "pipeline stopped accepting new work"}
	}

	messages, err := o.deps.Messages.ListMessages(ctx, conversationID, nil, nil)
	if err != nil {
		return fmt.Errorf("pipeline: list messages: %w", err)
	}

	batches := batch.Build(conversationID, messages, o.cfg.Batch)
	for _, b := range batches {
		select {
		case o.queue <- b:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// Status returns a point-in-time ProgressSnapshot (§4.11).
func (o *Orchestrator) Status() ProgressSnapshot {
	return o.progress.snapshot(o.ledger.Usage().Committed)
}

// workerLoop is the per-worker dequeue/process cycle (§4.11, §5).
func (o *Orchestrator) workerLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case b, ok := <-o.queue:
			if !ok {
				return
			}
			if o.progress.stopped.Load() {
				continue // fatal halt: drop queued-but-not-started work, in-flight already running completes elsewhere
			}
			o.processBatch(ctx, b)
		}
	}
}

// processBatch runs one Batch through rate-limit/cost-reserve/LLM-call/
// parse/per-memory pipeline and records the outcome (§4.11).
func (o *Orchestrator) processBatch(ctx context.Context, b model.Batch) {
	logger := o.deps.Logger.With("batch_id", b.ID, "conversation_id", b.ConversationID)

	if err := o.limiter.Acquire(ctx); err != nil {
		logger.Warn("rate limiter acquire aborted", "error", err)
		return
	}

	estimatedCost := float64(b.EstimatedCostTokens) * o.cfg.CostPerToken
	if err := o.ledger.Reserve(estimatedCost); err != nil {
		o.progress.markStopped()
		logger.Error("budget exceeded, stopping new work", "error", err)
		_ = o.deps.Store.RecordBatchOutcome(ctx, BatchOutcome{BatchID: b.ID, Status: "failed", ErrorClass: string(KindBudgetExceeded)})
		return
	}

	result, usage, err := o.callAndParse(ctx, b)
	if err != nil {
		o.ledger.Release(estimatedCost)
		o.progress.recordBatchFailed()
		if retry.Fatal(retry.Class(classOf(err))) {
			o.progress.markStopped() // auth failure: stop taking new work
		}
		logger.Warn("batch failed", "error", err)
		_ = o.deps.Store.RecordBatchOutcome(ctx, BatchOutcome{BatchID: b.ID, Status: "failed", ErrorClass: classOf(err)})
		return
	}

	actualCost := float64(usage.InputTokens+usage.OutputTokens) * o.cfg.CostPerToken
	o.ledger.Commit(estimatedCost, actualCost)

	participants := prompt.RosterFromMessages(b.Messages)
	extracted := 0
	for _, cand := range result.Candidates {
		m := o.materializeMemory(ctx, cand, b, participants)
		if err := o.processMemory(ctx, m); err != nil {
			logger.Warn("memory dropped", "error", err)
			continue
		}
		extracted++
	}

	o.progress.recordBatchCompleted()
	_ = o.deps.Store.RecordBatchOutcome(ctx, BatchOutcome{
		BatchID:           b.ID,
		Status:            "completed",
		MemoriesExtracted: extracted,
		SpentUSD:          actualCost,
	})
}

// callAndParse drives the LLM call through the transport retry strategy
// (§4.6) and the response through the parser, re-requesting with a
// tightened prompt on PARSE_FAIL/SCHEMA_FAIL up to that class's configured
// attempt count (§4.6, §7).
func (o *Orchestrator) callAndParse(ctx context.Context, b model.Batch) (prompt.ParseResult, llmclient.Usage, error) {
	participants := prompt.RosterFromMessages(b.Messages)
	promptText := prompt.Build(b, participants)
	params := llmclient.Params{Model: o.cfg.Model, Timeout: o.cfg.RequestTimeoutSeconds}

	parseAttempts := retry.StrategyFor(retry.ClassParseFail).MaxAttempts + 1
	var lastUsage llmclient.Usage

	for parseAttempt := 0; parseAttempt < parseAttempts; parseAttempt++ {
		var raw llmclient.RawResponse
		outcome, err := retry.Run(ctx, func(err error) retry.Class {
			return retry.FromLLMClass(llmclient.Classify(err))
		}, func(attempt int) (int, error) {
			resp, callErr := o.deps.LLM.Call(ctx, promptText, params)
			if callErr != nil {
				retryAfter := 0
				var ce *llmclient.CallError
				if errors.As(callErr, &ce) {
					retryAfter = ce.RetryAfter
				}
				return retryAfter, callErr
			}
			raw = resp
			return 0, nil
		})
		if err != nil {
			return prompt.ParseResult{}, lastUsage, fmt.Errorf("llm call failed after %d attempts (%s): %w", outcome.Attempts, outcome.Class, err)
		}
		lastUsage = raw.Usage

		result := prompt.Parse(raw.Content)
		if result.Outcome == prompt.OutcomeOK {
			return result, lastUsage, nil
		}
		promptText = prompt.TightenedPrompt(promptText)
	}

	return prompt.ParseResult{}, lastUsage, fmt.Errorf("batch %s: response failed to parse after %d attempts", b.ID, parseAttempts)
}

func classOf(err error) string {
	return string(retry.FromLLMClass(llmclient.Classify(err)))
}

// materializeMemory turns a parsed candidate and its batch context into a
// fully-addressed Memory, before confidence/significance scoring.
func (o *Orchestrator) materializeMemory(ctx context.Context, cand prompt.CandidateMemory, b model.Batch, participants []model.Participant) model.Memory {
	messageIDs := make([]string, 0, len(b.Messages))
	for _, m := range b.Messages {
		messageIDs = append(messageIDs, m.ID)
	}

	themes := make([]model.Theme, 0, len(cand.EmotionalContext.Themes))
	for _, t := range cand.EmotionalContext.Themes {
		themes = append(themes, model.Theme(t))
	}

	evidence := make([]model.EvidenceItem, 0, len(cand.Evidence))
	for _, e := range cand.Evidence {
		evidence = append(evidence, model.EvidenceItem{SourceMessageID: e.SourceMessageID, Excerpt: e.Excerpt, Relevance: e.Relevance})
	}

	modelConfidence := 0.0
	if cand.Confidence != nil {
		modelConfidence = *cand.Confidence
	}

	m := model.Memory{
		ID:               model.NewID(),
		SourceMessageIDs: messageIDs,
		Participants:     participants,
		EmotionalContext: model.EmotionalContext{
			PrimaryMood: model.Mood(cand.EmotionalContext.PrimaryMood),
			Intensity:   cand.EmotionalContext.Intensity,
			Valence:     cand.EmotionalContext.Valence,
			Themes:      themes,
		},
		RelationshipDynamics: model.RelationshipDynamics{
			Closeness:          cand.Relationship.Closeness,
			Tension:            cand.Relationship.Tension,
			Supportiveness:     cand.Relationship.Supportiveness,
			ConnectionStrength: cand.Relationship.ConnectionStrength,
		},
		MoodScore: model.MoodScore{
			Score:      cand.MoodScore.Score,
			Confidence: cand.MoodScore.Confidence,
		},
		Summary:     cand.Summary,
		Evidence:    evidence,
		Validation:  model.ValidationPending,
		ExtractedAt: time.Now(),
		Metadata: model.MemoryMetadata{
			PromptVersion: prompt.Version,
			BatchID:       b.ID,
		},
	}

	confScore := o.confidence.Compute(confidence.Input{
		Candidate:       m,
		SourceMessages:  b.Messages,
		ModelConfidence: modelConfidence,
	})
	m.Confidence = confScore.Overall
	m.ContentHash = hashsim.MemoryContentHash(m)

	if o.deps.Embedder != nil {
		vec, err := o.deps.Embedder.Embed(ctx, m.Summary)
		if err != nil {
			o.deps.Logger.Warn("embedding failed, continuing without vector", "error", err, "memory_id", m.ID)
		} else {
			m.Embedding = vec
		}
	}
	return m
}

// processMemory runs significance, mood-delta detection, auto-confirmation
// routing, dedup/merge, and persistence for one extracted memory (§4.11).
func (o *Orchestrator) processMemory(ctx context.Context, m model.Memory) error {
	priors, err := o.deps.Store.RecentMoodPoints(ctx, m.ParticipantIDs(), m.ExtractedAt.Add(-moodDeltaWindow))
	if err != nil {
		o.deps.Logger.Warn("mood point lookup failed, skipping delta detection", "error", err)
	} else {
		m.MoodScore.Delta = significance.DetectDelta(m, m.ExtractedAt, priors)
	}

	m.Significance = o.significance.Compute(m, m.ExtractedAt)
	m.Validation = autoconfirm.Route(m, o.cfg.Thresholds)

	resolved, err := o.dedup.Resolve(ctx, m)
	if err != nil {
		return fmt.Errorf("dedup resolve: %w", err)
	}

	if resolved.Outcome != dedup.OutcomeExactDuplicate {
		if _, _, err := o.deps.Store.UpsertMemory(ctx, resolved.Memory); err != nil {
			return fmt.Errorf("upsert memory: %w", err)
		}
		if o.deps.Indexer != nil && len(resolved.Memory.Embedding) > 0 {
			if err := o.deps.Indexer.Upsert(ctx, resolved.Memory); err != nil {
				o.deps.Logger.Warn("candidate index upsert failed", "error", err, "memory_id", resolved.Memory.ID)
			}
		}
	}

	o.progress.recordMemory(m.Confidence, routeOf(m.Validation))
	return nil
}

func routeOf(v model.ValidationState) memoryRoute {
	switch v {
	case model.ValidationAutoApproved:
		return routeAutoApproved
	case model.ValidationNeedsReview:
		return routeNeedsReview
	case model.ValidationAutoRejected:
		return routeAutoRejected
	default:
		return routeOther
	}
}
