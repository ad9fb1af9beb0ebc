package pipeline

import (
	"context"
	"time"

	"github.com/kioku-ai/kioku/internal/autoconfirm"
	"github.com/kioku-ai/kioku/internal/dedup"
	"github.com/kioku-ai/kioku/internal/model"
	"github.com/kioku-ai/kioku/internal/significance"
)

// MessageStore is the consumed message source (§6): ordered messages for a
// conversation, optionally bounded by time.
type MessageStore interface {
	ListMessages(ctx context.Context, conversationID string, since, until *time.Time) ([]model.Message, error)
}

// BatchOutcome is what recordBatchOutcome persists per completed batch
// (§6).
type BatchOutcome struct {
	BatchID           string
	Status            string // "completed" or "failed"
	ErrorClass        string
	MemoriesExtracted int
	SpentUSD          float64
}

// Store is the full persistence interface (§6) the orchestrator depends
// on: dedup's hash/candidate lookups, auto-confirmation's threshold CAS,
// the atomic-per-content-hash upsert, batch outcome recording, and a
// snapshot-consistent read of recent mood points for MoodDelta detection.
type Store interface {
	dedup.Store
	autoconfirm.ThresholdStore

	UpsertMemory(ctx context.Context, m model.Memory) (inserted bool, id string, err error)
	RecordBatchOutcome(ctx context.Context, outcome BatchOutcome) error
	RecentMoodPoints(ctx context.Context, participantIDs []string, since time.Time) ([]significance.PriorMoodPoint, error)
}
