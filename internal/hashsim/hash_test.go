package hashsim_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kioku-ai/kioku/internal/hashsim"
	"github.com/kioku-ai/kioku/internal/model"
)

func TestContentHash_Stable(t *testing.T) {
	h1 := hashsim.ContentHash(model.MoodPositive, []string{"b", "a"}, "Alice felt relieved", []model.Theme{"repair", "milestone"})
	h2 := hashsim.ContentHash(model.MoodPositive, []string{"a", "b"}, "  Alice   felt relieved  ", []model.Theme{"milestone", "repair"})
	assert.Equal(t, h1, h2, "hash must be stable across participant order, theme order, and whitespace normalization")
	assert.Len(t, h1, 64, "sha256 hex digest is 64 chars")
}

func TestContentHash_CaseAndUnicodeNormalization(t *testing.T) {
	h1 := hashsim.ContentHash(model.MoodNeutral, []string{"a"}, "Café visit", nil)
	h2 := hashsim.ContentHash(model.MoodNeutral, []string{"a"}, "café VISIT", nil)
	assert.Equal(t, h1, h2)
}

func TestContentHash_DifferentInputsDiffer(t *testing.T) {
	h1 := hashsim.ContentHash(model.MoodPositive, []string{"a"}, "hello world", nil)
	h2 := hashsim.ContentHash(model.MoodNegative, []string{"a"}, "hello world", nil)
	assert.NotEqual(t, h1, h2)
}

func TestMemoryContentHash_MatchesFields(t *testing.T) {
	m := model.Memory{
		Participants:     []model.Participant{{ID: "bob"}, {ID: "alice"}},
		Summary:          "They talked it through",
		EmotionalContext: model.EmotionalContext{PrimaryMood: model.MoodMixed, Themes: []model.Theme{"conflict"}},
	}
	got := hashsim.MemoryContentHash(m)
	want := hashsim.ContentHash(model.MoodMixed, []string{"alice", "bob"}, "They talked it through", []model.Theme{"conflict"})
	require.Equal(t, want, got)
}
