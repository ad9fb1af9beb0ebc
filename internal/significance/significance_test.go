package significance_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/kioku-ai/kioku/internal/model"
	"github.com/kioku-ai/kioku/internal/significance"
)

func TestCompute_CategoryBuckets(t *testing.T) {
	now := time.Now()
	a := significance.New()

	low := a.Compute(model.Memory{MoodScore: model.MoodScore{Score: 5, Confidence: 1}, ExtractedAt: now}, now)
	assert.Equal(t, model.SignificanceLow, low.Category)

	crisis := model.Memory{
		MoodScore:        model.MoodScore{Score: 9, Confidence: 1},
		EmotionalContext: model.EmotionalContext{Themes: []model.Theme{"crisis", "loss"}},
		RelationshipDynamics: model.RelationshipDynamics{
			Closeness: 9, Tension: 8, Supportiveness: 2,
		},
		ExtractedAt: now,
	}
	high := a.Compute(crisis, now)
	assert.Contains(t, []model.SignificanceCategory{model.SignificanceHigh, model.SignificanceCritical}, high.Category)
}

func TestCompute_TemporalRelevanceDecaysWithAge(t *testing.T) {
	now := time.Now()
	a := significance.New()
	fresh := a.Compute(model.Memory{ExtractedAt: now}, now)
	old := a.Compute(model.Memory{ExtractedAt: now.Add(-60 * 24 * time.Hour)}, now)
	assert.Greater(t, fresh.Components.TemporalRelevance, old.Components.TemporalRelevance)
}

func TestCompute_ValidationPriorityHighForUncertainSignificant(t *testing.T) {
	now := time.Now()
	a := significance.New()
	significant := model.Memory{
		MoodScore: model.MoodScore{Score: 9, Confidence: 1},
		RelationshipDynamics: model.RelationshipDynamics{
			Closeness: 9, Tension: 9, Supportiveness: 1,
		},
		EmotionalContext: model.EmotionalContext{Themes: []model.Theme{"crisis"}},
		Confidence:       0.2, // uncertain
		ExtractedAt:      now,
	}
	score := a.Compute(significant, now)
	assert.Greater(t, score.ValidationPriority, 3.0)
}

func TestDetectDelta_Sudden(t *testing.T) {
	now := time.Now()
	current := model.Memory{
		Participants: []model.Participant{{ID: "alice"}},
		MoodScore:    model.MoodScore{Score: 7, Confidence: 0.9},
		ExtractedAt:  now,
	}
	priors := []significance.PriorMoodPoint{
		{Score: 4, ExtractedAt: now.Add(-20 * time.Minute), Participants: []string{"alice"}},
	}
	delta := significance.DetectDelta(current, now, priors)
	if assert.NotNil(t, delta) {
		assert.Equal(t, model.DeltaSudden, delta.Type)
		assert.Equal(t, model.DeltaPositive, delta.Direction)
	}
}

func TestDetectDelta_Repair(t *testing.T) {
	now := time.Now()
	current := model.Memory{
		Participants: []model.Participant{{ID: "bob"}},
		MoodScore:    model.MoodScore{Score: 6, Confidence: 0.8},
		ExtractedAt:  now,
	}
	priors := []significance.PriorMoodPoint{
		{Score: 3, ExtractedAt: now.Add(-2 * time.Hour), Participants: []string{"bob"}},
	}
	delta := significance.DetectDelta(current, now, priors)
	if assert.NotNil(t, delta) {
		assert.Equal(t, model.DeltaRepair, delta.Type)
	}
}

func TestDetectDelta_NoOverlapReturnsNil(t *testing.T) {
	now := time.Now()
	current := model.Memory{
		Participants: []model.Participant{{ID: "carol"}},
		MoodScore:    model.MoodScore{Score: 9},
		ExtractedAt:  now,
	}
	priors := []significance.PriorMoodPoint{
		{Score: 2, ExtractedAt: now.Add(-time.Hour), Participants: []string{"dave"}},
	}
	assert.Nil(t, significance.DetectDelta(current, now, priors))
}

func TestDetectDelta_SustainedSuppressesEmission(t *testing.T) {
	now := time.Now()
	current := model.Memory{
		Participants: []model.Participant{{ID: "alice"}},
		MoodScore:    model.MoodScore{Score: 5.5},
		ExtractedAt:  now,
	}
	priors := []significance.PriorMoodPoint{
		{Score: 5.0, ExtractedAt: now.Add(-1 * time.Hour), Participants: []string{"alice"}},
		{Score: 5.2, ExtractedAt: now.Add(-2 * time.Hour), Participants: []string{"alice"}},
		{Score: 4.8, ExtractedAt: now.Add(-3 * time.Hour), Participants: []string{"alice"}},
	}
	assert.Nil(t, significance.DetectDelta(current, now, priors))
}
