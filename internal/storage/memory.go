package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pgvector/pgvector-go"

	"github.com/kioku-ai/kioku/internal/autoconfirm"
	"github.com/kioku-ai/kioku/internal/model"
	"github.com/kioku-ai/kioku/internal/pipeline"
	"github.com/kioku-ai/kioku/internal/significance"
)

// FindMemoryByHash implements dedup.Store: an exact content-hash lookup,
// the first step of the §4.10 decision sequence.
func (db *DB) FindMemoryByHash(ctx context.Context, hash string) (model.Memory, bool, error) {
	var payload []byte
	err := db.pool.QueryRow(ctx,
		`SELECT payload FROM memories WHERE content_hash = $1`, hash,
	).Scan(&payload)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Memory{}, false, nil
	}
	if err != nil {
		return model.Memory{}, false, fmt.Errorf("storage: find memory by hash: %w", err)
	}

	var m model.Memory
	if err := json.Unmarshal(payload, &m); err != nil {
		return model.Memory{}, false, fmt.Errorf("storage: unmarshal memory: %w", err)
	}
	return m, true, nil
}

// FindMemoriesByID resolves a set of memory ids to their full records. Used
// to back a search.QdrantIndex-accelerated dedup.CandidateFinder, which
// only tracks ids and window metadata itself.
func (db *DB) FindMemoriesByID(ctx context.Context, ids []string) ([]model.Memory, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	rows, err := db.pool.Query(ctx, `SELECT payload FROM memories WHERE id = ANY($1::text[])`, ids)
	if err != nil {
		return nil, fmt.Errorf("storage: find memories by id: %w", err)
	}
	defer rows.Close()

	var out []model.Memory
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("storage: scan memory by id: %w", err)
		}
		var m model.Memory
		if err := json.Unmarshal(payload, &m); err != nil {
			return nil, fmt.Errorf("storage: unmarshal memory by id: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// FindMemoryCandidates implements dedup.Store: memories sharing at least one
// participant whose extracted_at falls inside [windowStart, windowEnd], the
// fallback path when no CandidateFinder is injected (§4.10, §6).
func (db *DB) FindMemoryCandidates(ctx context.Context, participantIDs []string, windowStart, windowEnd time.Time) ([]model.Memory, error) {
	if len(participantIDs) == 0 {
		return nil, nil
	}

	rows, err := db.pool.Query(ctx,
		`SELECT payload FROM memories
		 WHERE participant_ids && $1::text[]
		   AND extracted_at >= $2 AND extracted_at <= $3`,
		participantIDs, windowStart, windowEnd,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: find memory candidates: %w", err)
	}
	defer rows.Close()

	var out []model.Memory
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("storage: scan memory candidate: %w", err)
		}
		var m model.Memory
		if err := json.Unmarshal(payload, &m); err != nil {
			return nil, fmt.Errorf("storage: unmarshal memory candidate: %w", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("storage: read memory candidates: %w", err)
	}
	return out, nil
}

// UpsertMemory implements §6's atomic-per-content-hash upsert: if a memory
// with the same content hash already exists, the call returns "merged"
// without writing (the caller — dedup.Engine — has already folded the
// candidate into the existing memory before calling this; a second writer
// racing on the same hash also lands here rather than double-inserting).
func (db *DB) UpsertMemory(ctx context.Context, m model.Memory) (inserted bool, id string, err error) {
	payload, err := json.Marshal(m)
	if err != nil {
		return false, "", fmt.Errorf("storage: marshal memory: %w", err)
	}

	var embedding *pgvector.Vector
	if len(m.Embedding) > 0 {
		v := pgvector.NewVector(m.Embedding)
		embedding = &v
	}

	tag, err := db.pool.Exec(ctx,
		`INSERT INTO memories (id, content_hash, participant_ids, summary, confidence,
		 validation, validation_priority, mood_score, extracted_at, embedding, payload)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		 ON CONFLICT (content_hash) DO NOTHING`,
		m.ID, m.ContentHash, m.ParticipantIDs(), m.Summary, m.Confidence,
		string(m.Validation), m.Significance.ValidationPriority, m.MoodScore.Score, m.ExtractedAt, embedding, payload,
	)
	if err != nil {
		return false, "", fmt.Errorf("storage: upsert memory: %w", err)
	}
	if tag.RowsAffected() == 0 {
		existing, found, err := db.FindMemoryByHash(ctx, m.ContentHash)
		if err != nil {
			return false, "", err
		}
		if !found {
			return false, "", fmt.Errorf("storage: upsert memory: conflict on %s but no row found", m.ContentHash)
		}
		return false, existing.ID, nil
	}
	return true, m.ID, nil
}

// RecordBatchOutcome implements §6's recordBatchOutcome: a row per completed
// or failed batch, upserted so a retried batch id overwrites its prior
// outcome rather than accumulating duplicates.
func (db *DB) RecordBatchOutcome(ctx context.Context, outcome pipeline.BatchOutcome) error {
	_, err := db.pool.Exec(ctx,
		`INSERT INTO batch_outcomes (batch_id, status, error_class, memories_extracted, spent_usd)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (batch_id) DO UPDATE SET
		   status = EXCLUDED.status,
		   error_class = EXCLUDED.error_class,
		   memories_extracted = EXCLUDED.memories_extracted,
		   spent_usd = EXCLUDED.spent_usd,
		   recorded_at = now()`,
		outcome.BatchID, outcome.Status, outcome.ErrorClass, outcome.MemoriesExtracted, outcome.SpentUSD,
	)
	if err != nil {
		return fmt.Errorf("storage: record batch outcome %s: %w", outcome.BatchID, err)
	}
	return nil
}

// RecentMoodPoints implements the §5 "snapshot-consistent read of the most
// recent prior Memory for the overlapping participant set" that MoodDelta
// detection (§4.8) depends on: every memory for any of participantIDs
// extracted since `since`, newest first.
func (db *DB) RecentMoodPoints(ctx context.Context, participantIDs []string, since time.Time) ([]significance.PriorMoodPoint, error) {
	if len(participantIDs) == 0 {
		return nil, nil
	}

	rows, err := db.pool.Query(ctx,
		`SELECT mood_score, extracted_at, participant_ids FROM memories
		 WHERE participant_ids && $1::text[] AND extracted_at >= $2
		 ORDER BY extracted_at DESC
		 LIMIT 32`,
		participantIDs, since,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: recent mood points: %w", err)
	}
	defer rows.Close()

	var out []significance.PriorMoodPoint
	for rows.Next() {
		var p significance.PriorMoodPoint
		if err := rows.Scan(&p.Score, &p.ExtractedAt, &p.Participants); err != nil {
			return nil, fmt.Errorf("storage: scan mood point: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("storage: read mood points: %w", err)
	}
	return out, nil
}

// NextForReview implements the validation hand-off's nextForReview(maxN):
// needs-review memories ordered by validationPriority descending (§6).
func (db *DB) NextForReview(ctx context.Context, maxN int) ([]model.Memory, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT payload FROM memories
		 WHERE validation = 'needs-review'
		 ORDER BY validation_priority DESC
		 LIMIT $1`,
		maxN,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: next for review: %w", err)
	}
	defer rows.Close()

	var out []model.Memory
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("storage: scan review candidate: %w", err)
		}
		var m model.Memory
		if err := json.Unmarshal(payload, &m); err != nil {
			return nil, fmt.Errorf("storage: unmarshal review candidate: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// SubmitFeedback records human review decisions and updates the
// corresponding memory's validation state (§6 submitFeedback). The same
// tuples are handed to autoconfirm.Engine.ApplyFeedback by the caller to
// drive adaptive-threshold learning.
func (db *DB) SubmitFeedback(ctx context.Context, feedback []autoconfirm.Feedback) error {
	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("storage: begin submit feedback tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	for _, f := range feedback {
		if _, err := tx.Exec(ctx,
			`INSERT INTO validation_feedback (memory_id, original_decision, human_decision)
			 VALUES ($1, $2, $3)`,
			f.MemoryID, string(f.OriginalDecision), string(f.HumanDecision),
		); err != nil {
			return fmt.Errorf("storage: record feedback for %s: %w", f.MemoryID, err)
		}
		if _, err := tx.Exec(ctx,
			`UPDATE memories SET validation = $1, updated_at = now() WHERE id = $2`,
			string(f.HumanDecision), f.MemoryID,
		); err != nil {
			return fmt.Errorf("storage: apply feedback for %s: %w", f.MemoryID, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("storage: commit submit feedback: %w", err)
	}
	return nil
}
