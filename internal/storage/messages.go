package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/kioku-ai/kioku/internal/model"
)

// ListMessages implements pipeline.MessageStore against the default
// `messages` table (migrations/002_messages.sql): a conversation's messages
// ordered by timestamp ascending, optionally bounded by [since, until].
// Deployments with their own message store wire kioku.WithMessageStore
// instead of relying on this default.
func (db *DB) ListMessages(ctx context.Context, conversationID string, since, until *time.Time) ([]model.Message, error) {
	query := `SELECT id, conversation_id, author_id, text, ts FROM messages WHERE conversation_id = $1`
	args := []any{conversationID}

	if since != nil {
		args = append(args, *since)
		query += fmt.Sprintf(" AND ts >= $%d", len(args))
	}
	if until != nil {
		args = append(args, *until)
		query += fmt.Sprintf(" AND ts <= $%d", len(args))
	}
	query += " ORDER BY ts ASC"

	rows, err := db.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("storage: list messages: %w", err)
	}
	defer rows.Close()

	var out []model.Message
	for rows.Next() {
		var m model.Message
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.AuthorID, &m.Text, &m.Timestamp); err != nil {
			return nil, fmt.Errorf("storage: scan message: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}
