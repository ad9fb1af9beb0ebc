package batch_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kioku-ai/kioku/internal/batch"
	"github.com/kioku-ai/kioku/internal/model"
)

func msg(author, text string, at time.Time) model.Message {
	return model.Message{ID: model.NewID(), AuthorID: author, Text: text, Timestamp: at}
}

func TestBuild_SplitsOnTimeGap(t *testing.T) {
	base := time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)
	messages := []model.Message{
		msg("a", "hello", base),
		msg("b", "hi", base.Add(time.Minute)),
		msg("a", "back after a long gap", base.Add(2*time.Hour)),
	}
	batches := batch.Build("c1", messages, batch.Config{Min: 1})
	require.Len(t, batches, 2)
	assert.Len(t, batches[0].Messages, 2)
	assert.Len(t, batches[1].Messages, 1)
}

func TestBuild_SplitsOnParticipantDrift(t *testing.T) {
	base := time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)
	messages := []model.Message{
		msg("a", "hi", base),
		msg("b", "hi", base.Add(time.Minute)),
		msg("c", "new speaker entirely", base.Add(2*time.Minute)),
		msg("d", "another new one", base.Add(3*time.Minute)),
	}
	batches := batch.Build("c1", messages, batch.Config{Min: 1})
	assert.GreaterOrEqual(t, len(batches), 2)
}

func TestBuild_PreservesOriginalOrderWithinBatch(t *testing.T) {
	base := time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)
	messages := []model.Message{
		msg("a", "one", base),
		msg("a", "two", base.Add(time.Minute)),
		msg("a", "three", base.Add(2*time.Minute)),
	}
	batches := batch.Build("c1", messages, batch.Config{Min: 1, PriorityMode: model.PriorityThroughput})
	require.Len(t, batches, 1)
	assert.Equal(t, "one", batches[0].Messages[0].Text)
	assert.Equal(t, "three", batches[0].Messages[2].Text)
}

func TestBuild_QualityModeOrdersBySalienceDescending(t *testing.T) {
	base := time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)
	// Two separate windows far apart in time; one emotionally loaded, one flat.
	messages := []model.Message{
		msg("a", "just checking the weather report today", base),
		msg("a", "devastated and heartbroken after the breakup", base.Add(3*time.Hour)),
	}
	batches := batch.Build("c1", messages, batch.Config{Min: 1, PriorityMode: model.PriorityQuality})
	require.Len(t, batches, 2)
	assert.Greater(t, batches[0].PriorityScore, batches[1].PriorityScore)
}

func TestBuild_EmptyInputReturnsNoBatches(t *testing.T) {
	assert.Empty(t, batch.Build("c1", nil, batch.Config{}))
}

func TestBuild_OversizeWindowSplitsOnSpeakerChange(t *testing.T) {
	base := time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)
	var messages []model.Message
	for i := 0; i < 10; i++ {
		author := "a"
		if i%2 == 0 {
			author = "b"
		}
		messages = append(messages, msg(author, "turn", base.Add(time.Duration(i)*time.Second)))
	}
	batches := batch.Build("c1", messages, batch.Config{Min: 1, Max: 4})
	for _, b := range batches {
		assert.LessOrEqual(t, len(b.Messages), 4)
	}
}
