package kioku

import (
	"io/fs"
	"log/slog"
)

// Option configures an App.
type Option func(*resolvedOptions)

// resolvedOptions holds all extension points after applying defaults.
// Unexported — callers use the With* functions.
type resolvedOptions struct {
	databaseURL       string
	notifyURL         string
	logger            *slog.Logger
	version           string
	messageStore      MessageStore
	llmClient         LLMClient
	embeddingProvider EmbeddingProvider
	searcher          Searcher
	eventHooks        []EventHook
	extraMigrations   []fs.FS
}

// WithDatabaseURL overrides the pooled Postgres connection string from
// config (DATABASE_URL env var).
func WithDatabaseURL(url string) Option {
	return func(o *resolvedOptions) { o.databaseURL = url }
}

// WithNotifyURL overrides the direct Postgres URL used for LISTEN/NOTIFY
// (NOTIFY_URL env var). Set this when DatabaseURL points at a connection
// pooler — LISTEN/NOTIFY requires a direct (non-pooled) connection.
func WithNotifyURL(url string) Option {
	return func(o *resolvedOptions) { o.notifyURL = url }
}

// WithLogger sets the structured logger for the App. If not set, the
// default slog logger is used.
func WithLogger(logger *slog.Logger) Option {
	return func(o *resolvedOptions) { o.logger = logger }
}

// WithVersion sets the version string reported in logs.
func WithVersion(version string) Option {
	return func(o *resolvedOptions) { o.version = version }
}

// WithMessageStore sets the collaborator the pipeline lists conversation
// messages from (§6). Required — New returns an error if this is never
// called.
func WithMessageStore(s MessageStore) Option {
	return func(o *resolvedOptions) { o.messageStore = s }
}

// WithLLMClient replaces the default HTTP client built from
// KIOKU_LLM_API_KEY / KIOKU_LLM_BASE_URL.
func WithLLMClient(c LLMClient) Option {
	return func(o *resolvedOptions) { o.llmClient = c }
}

// WithEmbeddingProvider replaces the auto-detected embedding provider
// (Ollama/OpenAI/noop).
func WithEmbeddingProvider(p EmbeddingProvider) Option {
	return func(o *resolvedOptions) { o.embeddingProvider = p }
}

// WithSearcher replaces the auto-detected Qdrant-backed candidate finder.
// When neither this nor Qdrant is configured, §4.10 candidate lookup falls
// back to the Postgres participant/temporal scan.
func WithSearcher(s Searcher) Option {
	return func(o *resolvedOptions) { o.searcher = s }
}

// WithEventHook registers an event hook to receive memory lifecycle
// notifications. Multiple hooks may be registered; all registered hooks
// receive every event.
func WithEventHook(hook EventHook) Option {
	return func(o *resolvedOptions) { o.eventHooks = append(o.eventHooks, hook) }
}

// WithExtraMigrations adds an additional SQL migration filesystem to run
// after the embedded migrations. Multiple filesystems may be registered;
// they are applied in registration order.
func WithExtraMigrations(dir fs.FS) Option {
	return func(o *resolvedOptions) { o.extraMigrations = append(o.extraMigrations, dir) }
}
