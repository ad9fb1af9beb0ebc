package kioku

import (
	"context"
	"time"
)

// MessageStore is the consumed message source (§6): ordered messages for a
// conversation, optionally bounded by time. Required — App.New returns an
// error if WithMessageStore is never called.
type MessageStore interface {
	ListMessages(ctx context.Context, conversationID string, since, until *time.Time) ([]Message, error)
}

// LLMClient sends a prompt to a language model and returns its raw text and
// token usage, before C4's response parser runs over it. When provided via
// WithLLMClient, replaces the default HTTP client built from
// KIOKU_LLM_API_KEY / KIOKU_LLM_BASE_URL.
type LLMClient interface {
	Call(ctx context.Context, prompt string, params LLMParams) (LLMResponse, error)
}

// EmbeddingProvider generates vector embeddings from text, used to refine
// §4.10 candidate lookup beyond the participant/temporal scan. When
// provided via WithEmbeddingProvider, replaces the auto-detected
// Ollama/OpenAI/noop provider. Uses []float32 (not pgvector.Vector) to avoid
// forcing the pgvector dependency on external consumers.
type EmbeddingProvider interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimensions() int
}

// Searcher narrows §4.10's candidate search to a participant/temporal
// window, accelerating the default Postgres scan. When provided via
// WithSearcher, replaces the auto-detected Qdrant index.
type Searcher interface {
	FindCandidates(ctx context.Context, participantIDs []string, windowStart, windowEnd time.Time) ([]Memory, error)
}

// EventHook receives async notifications when a memory is persisted or a
// batch finishes processing. Multiple hooks may be registered via multiple
// WithEventHook calls. Hook methods run in goroutines — they must not block
// indefinitely. Failures are logged but never fail the originating work.
type EventHook interface {
	OnMemoryPersisted(ctx context.Context, m Memory) error
	OnBatchOutcome(ctx context.Context, outcome BatchOutcome) error
}
