package autoconfirm_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kioku-ai/kioku/internal/autoconfirm"
	"github.com/kioku-ai/kioku/internal/model"
)

type fakeStore struct {
	cfg      model.ThresholdConfig
	writeErr error
	writes   []model.ThresholdConfig
}

func (f *fakeStore) ReadThresholds(ctx context.Context) (model.ThresholdConfig, error) {
	return f.cfg, nil
}

func (f *fakeStore) WriteThresholds(ctx context.Context, cfg model.ThresholdConfig) error {
	if f.writeErr != nil {
		return f.writeErr
	}
	f.cfg = cfg
	f.writes = append(f.writes, cfg)
	return nil
}

func TestRoute_AboveAutoApproveApproves(t *testing.T) {
	cfg := model.DefaultThresholds()
	state := autoconfirm.Route(model.Memory{Confidence: 0.9}, cfg)
	assert.Equal(t, model.ValidationAutoApproved, state)
}

func TestRoute_BelowAutoRejectRejects(t *testing.T) {
	cfg := model.DefaultThresholds()
	state := autoconfirm.Route(model.Memory{Confidence: 0.1}, cfg)
	assert.Equal(t, model.ValidationAutoRejected, state)
}

func TestRoute_MiddleNeedsReview(t *testing.T) {
	cfg := model.DefaultThresholds()
	state := autoconfirm.Route(model.Memory{Confidence: 0.6}, cfg)
	assert.Equal(t, model.ValidationNeedsReview, state)
}

func TestCountRoutes(t *testing.T) {
	counts := autoconfirm.CountRoutes([]model.ValidationState{
		model.ValidationAutoApproved,
		model.ValidationAutoApproved,
		model.ValidationNeedsReview,
		model.ValidationAutoRejected,
	})
	assert.Equal(t, autoconfirm.BatchCounts{AutoApproved: 2, NeedsReview: 1, AutoRejected: 1}, counts)
}

func TestApplyFeedback_FalsePositiveRaisesAutoApprove(t *testing.T) {
	store := &fakeStore{cfg: model.DefaultThresholds()}
	e := autoconfirm.New(store)

	updated, err := e.ApplyFeedback(context.Background(), []autoconfirm.Feedback{
		{MemoryID: "m1", OriginalDecision: model.ValidationAutoApproved, HumanDecision: model.ValidationHumanRejected},
	})
	require.NoError(t, err)
	assert.InDelta(t, 0.76, updated.AutoApprove, 1e-9)
	assert.Equal(t, int64(2), updated.Version)
}

func TestApplyFeedback_FalseNegativeLowersAutoApprove(t *testing.T) {
	store := &fakeStore{cfg: model.DefaultThresholds()}
	e := autoconfirm.New(store)

	updated, err := e.ApplyFeedback(context.Background(), []autoconfirm.Feedback{
		{MemoryID: "m2", OriginalDecision: model.ValidationAutoRejected, HumanDecision: model.ValidationHumanApproved},
	})
	require.NoError(t, err)
	assert.InDelta(t, 0.74, updated.AutoApprove, 1e-9)
}

func TestApplyFeedback_NoSignalIsNoop(t *testing.T) {
	store := &fakeStore{cfg: model.DefaultThresholds()}
	e := autoconfirm.New(store)

	updated, err := e.ApplyFeedback(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, model.DefaultThresholds(), updated)
	assert.Empty(t, store.writes)
}

func TestApplyFeedback_ClampsAtCeiling(t *testing.T) {
	store := &fakeStore{cfg: model.ThresholdConfig{AutoApprove: 0.95, AutoReject: 0.30, ReviewLower: 0.50, Version: 1}}
	e := autoconfirm.New(store)

	updated, err := e.ApplyFeedback(context.Background(), []autoconfirm.Feedback{
		{OriginalDecision: model.ValidationAutoApproved, HumanDecision: model.ValidationHumanRejected},
	})
	require.NoError(t, err)
	assert.Equal(t, 0.95, updated.AutoApprove)
}

func TestApplyFeedback_RejectsInvariantViolatingUpdate(t *testing.T) {
	store := &fakeStore{cfg: model.ThresholdConfig{AutoApprove: 0.66, AutoReject: 0.30, ReviewLower: 0.66, Version: 1}}
	e := autoconfirm.New(store)

	_, err := e.ApplyFeedback(context.Background(), []autoconfirm.Feedback{
		{OriginalDecision: model.ValidationAutoRejected, HumanDecision: model.ValidationHumanApproved},
	})
	require.Error(t, err)
	assert.Empty(t, store.writes)
}
