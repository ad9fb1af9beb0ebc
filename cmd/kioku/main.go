package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/kioku-ai/kioku"
	"github.com/kioku-ai/kioku/internal/config"
	"github.com/kioku-ai/kioku/internal/storage"
)

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	os.Exit(run0())
}

func run0() int {
	level := parseLogLevel(os.Getenv("KIOKU_LOG_LEVEL"))
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, logger); err != nil {
		slog.Error("fatal error", "error", err)
		return 1
	}
	return 0
}

// run opens a read path against the default `messages` table
// (migrations/002_messages.sql), constructs the App against it, enqueues any
// conversation ids passed on the command line, and blocks until ctx is
// cancelled, then shuts down gracefully.
func run(ctx context.Context, logger *slog.Logger) error {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	// A dedicated pool for the message read path, independent of the App's
	// own internal storage.DB connection used for persistence.
	msgDB, err := storage.New(ctx, cfg.DatabaseURL, "", logger)
	if err != nil {
		return fmt.Errorf("message store: %w", err)
	}
	defer msgDB.Close(context.Background())

	app, err := kioku.New(
		kioku.WithLogger(logger),
		kioku.WithVersion(version),
		kioku.WithMessageStore(messageStoreAdapter{db: msgDB}),
	)
	if err != nil {
		return fmt.Errorf("kioku: %w", err)
	}

	app.Start(ctx)

	for _, conversationID := range os.Args[1:] {
		if err := app.EnqueueConversation(ctx, conversationID); err != nil {
			logger.Error("enqueue conversation failed", "conversation_id", conversationID, "error", err)
		}
	}

	go statusLoop(ctx, app, logger)

	<-ctx.Done()
	app.Cancel()
	_ = app.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return app.Shutdown(shutdownCtx)
}

// statusLoop periodically logs the orchestrator's progress, useful when
// running as a long-lived worker rather than a one-shot backfill.
func statusLoop(ctx context.Context, app *kioku.App, logger *slog.Logger) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s := app.Status()
			logger.Info("pipeline status",
				"batches_completed", s.BatchesCompleted,
				"batches_failed", s.BatchesFailed,
				"memories_extracted", s.MemoriesExtracted,
				"auto_approved", s.AutoApproved,
				"needs_review", s.NeedsReview,
				"auto_rejected", s.AutoRejected,
				"spent_usd", s.SpentUSD,
				"stopped", s.Stopped,
			)
		}
	}
}

func parseLogLevel(raw string) slog.Level {
	switch raw {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// messageStoreAdapter satisfies kioku.MessageStore over the default
// Postgres `messages` table. Deployments with their own conversation store
// supply kioku.WithMessageStore instead and never need this type.
type messageStoreAdapter struct {
	db *storage.DB
}

func (a messageStoreAdapter) ListMessages(ctx context.Context, conversationID string, since, until *time.Time) ([]kioku.Message, error) {
	messages, err := a.db.ListMessages(ctx, conversationID, since, until)
	if err != nil {
		return nil, err
	}
	out := make([]kioku.Message, len(messages))
	for i, m := range messages {
		out[i] = kioku.Message{
			ID:             m.ID,
			ConversationID: m.ConversationID,
			AuthorID:       m.AuthorID,
			Timestamp:      m.Timestamp,
			Text:           m.Text,
		}
	}
	return out, nil
}
