// Package autoconfirm implements the validation state machine (§4.9) that
// routes a freshly scored Memory to auto-approved, auto-rejected, or
// needs-review, and the adaptive-threshold learning loop that nudges the
// auto-approve cut point from human feedback.
package autoconfirm

import (
	"context"
	"fmt"

	"github.com/kioku-ai/kioku/internal/model"
)

// delta is the bounded per-feedback adjustment step (§4.9: δ = 0.01).
const delta = 0.01

// thresholdFloor and thresholdCeiling clamp autoApprove after adaptive
// updates (§4.9: [0.60, 0.95]).
const (
	thresholdFloor   = 0.60
	thresholdCeiling = 0.95
)

// Engine routes memories through the validation state machine and applies
// adaptive-threshold learning from feedback.
type Engine struct {
	store ThresholdStore
}

// ThresholdStore is the subset of the persistence interface (§6) the
// engine needs: read the current thresholds and write an updated config
// with optimistic concurrency (compare-and-swap on Version).
type ThresholdStore interface {
	ReadThresholds(ctx context.Context) (model.ThresholdConfig, error)
	WriteThresholds(ctx context.Context, cfg model.ThresholdConfig) error
}

// New builds an Engine backed by the given threshold store.
func New(store ThresholdStore) *Engine {
	return &Engine{store: store}
}

// Route returns the validation state the §4.9 state machine assigns to m
// given the current thresholds, judged on m.Confidence alone. It does not
// modify m and does not look at m.Validation, so callers route only
// memories that are still pending.
func Route(m model.Memory, cfg model.ThresholdConfig) model.ValidationState {
	switch {
	case m.Confidence >= cfg.AutoApprove:
		return model.ValidationAutoApproved
	case m.Confidence <= cfg.AutoReject:
		return model.ValidationAutoRejected
	default:
		return model.ValidationNeedsReview
	}
}

// BatchCounts summarizes routing outcomes across a batch of memories for
// the orchestrator's progress snapshot (§4.9: "Batch routing ... emits
// batch-level counts").
type BatchCounts struct {
	AutoApproved int
	NeedsReview  int
	AutoRejected int
}

// CountRoutes tallies BatchCounts for a slice of already-routed
// validation states.
func CountRoutes(states []model.ValidationState) BatchCounts {
	var c BatchCounts
	for _, s := range states {
		switch s {
		case model.ValidationAutoApproved:
			c.AutoApproved++
		case model.ValidationNeedsReview:
			c.NeedsReview++
		case model.ValidationAutoRejected:
			c.AutoRejected++
		}
	}
	return c
}

// Feedback is one human decision on a previously routed memory, used to
// update adaptive thresholds.
type Feedback struct {
	MemoryID         string
	OriginalDecision model.ValidationState
	HumanDecision    model.ValidationState // ValidationHumanApproved or ValidationHumanRejected
}

// ApplyFeedback folds a batch of feedback tuples into the adaptive
// threshold update (§4.9): each false positive (auto-approved then
// human-rejected) raises autoApprove by delta, each false negative
// (auto-rejected then human-approved) lowers it, clamped to [0.60, 0.95].
// Feedback on needs-review memories does not move the threshold. Updates persist via the ThresholdStore's
// compare-and-swap; on a version conflict the caller should re-read and
// retry, mirroring the teacher's storage.WithRetry pattern around
// optimistic-concurrency writes.
func (e *Engine) ApplyFeedback(ctx context.Context, feedback []Feedback) (model.ThresholdConfig, error) {
	cfg, err := e.store.ReadThresholds(ctx)
	if err != nil {
		return model.ThresholdConfig{}, fmt.Errorf("autoconfirm: read thresholds: %w", err)
	}

	step := 0.0
	for _, fb := range feedback {
		switch {
		case fb.OriginalDecision == model.ValidationAutoApproved && fb.HumanDecision == model.ValidationHumanRejected:
			step += delta // false positive: tighten approval bar
		case fb.OriginalDecision == model.ValidationAutoRejected && fb.HumanDecision == model.ValidationHumanApproved:
			step -= delta // false negative: loosen approval bar
		}
	}
	if step == 0 {
		return cfg, nil
	}

	updated := cfg
	updated.AutoApprove = clamp(cfg.AutoApprove+step, thresholdFloor, thresholdCeiling)
	updated.Version = cfg.Version + 1

	if !updated.Valid() {
		return cfg, fmt.Errorf("autoconfirm: rejected threshold update %+v: violates autoReject < reviewLower <= autoApprove", updated)
	}

	if err := e.store.WriteThresholds(ctx, updated); err != nil {
		return model.ThresholdConfig{}, fmt.Errorf("autoconfirm: write thresholds: %w", err)
	}
	return updated, nil
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
