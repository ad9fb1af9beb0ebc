package confidence_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/kioku-ai/kioku/internal/confidence"
	"github.com/kioku-ai/kioku/internal/model"
)

func baseMemory(now time.Time) model.Memory {
	return model.Memory{
		Summary: "Alice apologized warmly to Bob after a long silence.",
		EmotionalContext: model.EmotionalContext{
			PrimaryMood: model.MoodPositive,
			Intensity:   7,
			Themes:      []model.Theme{"repair"},
		},
		RelationshipDynamics: model.RelationshipDynamics{
			Closeness: 7, Tension: 3, Supportiveness: 8, ConnectionStrength: 0.8,
		},
		Evidence: []model.EvidenceItem{
			{SourceMessageID: "m1", Excerpt: "sorry", Relevance: 0.6},
		},
		ExtractedAt: now,
	}
}

func TestCompute_WellFormedCandidateScoresHigh(t *testing.T) {
	now := time.Now()
	messages := []model.Message{
		{ID: "m1", Timestamp: now.Add(-time.Hour)},
		{ID: "m2", Timestamp: now.Add(-time.Minute)},
	}
	c := confidence.New()
	score := c.Compute(confidence.Input{
		Candidate:       baseMemory(now),
		SourceMessages:  messages,
		ModelConfidence: 0.9,
	})
	assert.Greater(t, score.Overall, 0.8)
	assert.Equal(t, 1.0, score.Factors.RelationshipAccuracy)
}

func TestCompute_MissingFieldsScoreZeroOnThatFactor(t *testing.T) {
	c := confidence.New()
	score := c.Compute(confidence.Input{Candidate: model.Memory{}})
	assert.Equal(t, 0.0, score.Factors.ModelConfidence)
	assert.Equal(t, 0.0, score.Factors.EmotionalCoherence)
	assert.Equal(t, 0.0, score.Factors.RelationshipAccuracy)
	assert.Equal(t, 0.0, score.Factors.TemporalConsistency)
}

func TestCompute_OutOfRangeModelConfidenceClamped(t *testing.T) {
	c := confidence.New()
	score := c.Compute(confidence.Input{Candidate: baseMemory(time.Now()), ModelConfidence: 1.5})
	assert.Equal(t, 1.0, score.Factors.ModelConfidence)
}

func TestCompute_NonMonotonicSourceMessagesPenalized(t *testing.T) {
	now := time.Now()
	messages := []model.Message{
		{ID: "m1", Timestamp: now},
		{ID: "m2", Timestamp: now.Add(-time.Hour)}, // out of order
	}
	c := confidence.New()
	score := c.Compute(confidence.Input{Candidate: baseMemory(now), SourceMessages: messages})
	assert.Equal(t, 0.0, score.Factors.TemporalConsistency)
}
