// Command rehash-content-hashes is a one-time migration script that
// recomputes content_hash for every memory in the database. Run this after
// changing the canonical-signature normalization rules (e.g. a NFKC or
// whitespace-collapsing fix to hashsim.NormalizeSummary).
//
// Usage:
//
//	DATABASE_URL=postgres://... go run ./scripts/rehash-content-hashes
//
// The script connects to the database, reads every memory's stored payload,
// recomputes the hash using the current hashsim algorithm, and updates any
// rows where the stored hash differs (both the indexed content_hash column
// and the embedded payload field, so they stay consistent).
//
// Safe to run multiple times — it's idempotent. Once all hashes match, it
// reports 0 updates and exits immediately.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"

	"github.com/kioku-ai/kioku/internal/hashsim"
	"github.com/kioku-ai/kioku/internal/model"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	_ = godotenv.Load()

	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	pool, err := pgxpool.New(ctx, dbURL)
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	defer pool.Close()

	rows, err := pool.Query(ctx,
		`SELECT id, payload, content_hash FROM memories ORDER BY created_at ASC`)
	if err != nil {
		return fmt.Errorf("query: %w", err)
	}
	defer rows.Close()

	type staleRow struct {
		id      string
		memory  model.Memory
		payload []byte
	}

	var stale []staleRow
	var total int
	for rows.Next() {
		var (
			id         string
			payload    []byte
			storedHash string
		)
		if err := rows.Scan(&id, &payload, &storedHash); err != nil {
			return fmt.Errorf("scan: %w", err)
		}
		total++

		var m model.Memory
		if err := json.Unmarshal(payload, &m); err != nil {
			log.Printf("unmarshal %s: %v", id, err)
			continue
		}

		expected := hashsim.MemoryContentHash(m)
		if storedHash != expected {
			stale = append(stale, staleRow{id: id, memory: m, payload: payload})
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("rows: %w", err)
	}

	fmt.Printf("scanned %d memories, %d have stale hashes\n", total, len(stale))

	if len(stale) == 0 {
		fmt.Println("nothing to do")
		return nil
	}

	updated := 0
	for _, r := range stale {
		expected := hashsim.MemoryContentHash(r.memory)
		r.memory.ContentHash = expected

		newPayload, err := json.Marshal(r.memory)
		if err != nil {
			log.Printf("marshal %s: %v", r.id, err)
			continue
		}

		tag, err := pool.Exec(ctx,
			`UPDATE memories SET content_hash = $1, payload = $2, updated_at = now() WHERE id = $3`,
			expected, newPayload, r.id)
		if err != nil {
			log.Printf("update %s: %v", r.id, err)
			continue
		}
		if tag.RowsAffected() > 0 {
			updated++
		}
	}

	fmt.Printf("updated %d/%d stale hashes\n", updated, len(stale))
	return nil
}
