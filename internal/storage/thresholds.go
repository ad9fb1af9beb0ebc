package storage

import (
	"context"
	"fmt"

	"github.com/kioku-ai/kioku/internal/model"
)

// ErrThresholdConflict is returned by WriteThresholds when another writer
// already advanced the version counter (§6: "compare-and-swap on version
// counter").
var ErrThresholdConflict = fmt.Errorf("storage: threshold version conflict: %w", ErrNotFound)

// ReadThresholds implements autoconfirm.ThresholdStore: read the current
// singleton threshold row.
func (db *DB) ReadThresholds(ctx context.Context) (model.ThresholdConfig, error) {
	var cfg model.ThresholdConfig
	err := db.pool.QueryRow(ctx,
		`SELECT auto_approve, auto_reject, review_lower, version FROM thresholds WHERE singleton`,
	).Scan(&cfg.AutoApprove, &cfg.AutoReject, &cfg.ReviewLower, &cfg.Version)
	if err != nil {
		return model.ThresholdConfig{}, fmt.Errorf("storage: read thresholds: %w", err)
	}
	return cfg, nil
}

// WriteThresholds implements autoconfirm.ThresholdStore: a compare-and-swap
// write keyed on cfg.Version-1 -> cfg.Version (§4.9, §8: every update must
// leave the autoReject < reviewLower <= autoApprove invariant intact; the
// caller, autoconfirm.Engine, is responsible for rejecting invalid updates
// before they reach here — this method only enforces that the writer held
// the latest version).
func (db *DB) WriteThresholds(ctx context.Context, cfg model.ThresholdConfig) error {
	tag, err := db.pool.Exec(ctx,
		`UPDATE thresholds
		 SET auto_approve = $1, auto_reject = $2, review_lower = $3, version = $4
		 WHERE singleton AND version = $5`,
		cfg.AutoApprove, cfg.AutoReject, cfg.ReviewLower, cfg.Version, cfg.Version-1,
	)
	if err != nil {
		return fmt.Errorf("storage: write thresholds: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrThresholdConflict
	}
	return nil
}
