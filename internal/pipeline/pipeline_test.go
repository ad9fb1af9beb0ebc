package pipeline_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kioku-ai/kioku/internal/llmclient"
	"github.com/kioku-ai/kioku/internal/model"
	"github.com/kioku-ai/kioku/internal/pipeline"
	"github.com/kioku-ai/kioku/internal/significance"
)

type fakeMessages struct {
	messages []model.Message
}

func (f *fakeMessages) ListMessages(ctx context.Context, conversationID string, since, until *time.Time) ([]model.Message, error) {
	return f.messages, nil
}

type fakeStore struct {
	mu        sync.Mutex
	byHash    map[string]model.Memory
	upserts   []model.Memory
	outcomes  []pipeline.BatchOutcome
	thresholds model.ThresholdConfig
}

func newFakeStore() *fakeStore {
	return &fakeStore{byHash: map[string]model.Memory{}, thresholds: model.DefaultThresholds()}
}

func (f *fakeStore) FindMemoryByHash(ctx context.Context, hash string) (model.Memory, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.byHash[hash]
	return m, ok, nil
}

func (f *fakeStore) FindMemoryCandidates(ctx context.Context, participantIDs []string, windowStart, windowEnd time.Time) ([]model.Memory, error) {
	return nil, nil
}

func (f *fakeStore) ReadThresholds(ctx context.Context) (model.ThresholdConfig, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.thresholds, nil
}

func (f *fakeStore) WriteThresholds(ctx context.Context, cfg model.ThresholdConfig) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.thresholds = cfg
	return nil
}

func (f *fakeStore) UpsertMemory(ctx context.Context, m model.Memory) (bool, string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, exists := f.byHash[m.ContentHash]; exists {
		return false, f.byHash[m.ContentHash].ID, nil
	}
	f.byHash[m.ContentHash] = m
	f.upserts = append(f.upserts, m)
	return true, m.ID, nil
}

func (f *fakeStore) RecordBatchOutcome(ctx context.Context, outcome pipeline.BatchOutcome) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.outcomes = append(f.outcomes, outcome)
	return nil
}

func (f *fakeStore) RecentMoodPoints(ctx context.Context, participantIDs []string, since time.Time) ([]significance.PriorMoodPoint, error) {
	return nil, nil
}

const scriptedResponse = `{
  "memories": [
    {
      "summary": "Alice and Bob reconnected warmly after a period of distance.",
      "emotional_context": {
        "primary_mood": "positive",
        "intensity": 7,
        "valence": 0.6,
        "themes": ["repair"]
      },
      "relationship_dynamics": {
        "closeness": 7,
        "tension": 2,
        "supportiveness": 8,
        "connection_strength": 0.7
      },
      "mood_score": { "score": 7, "confidence": 0.8 },
      "evidence": [{ "source_message_id": "m1", "excerpt": "good to hear from you", "relevance": 0.8 }],
      "confidence": 0.85
    }
  ]
}`

func testMessages(conversationID string, n int) []model.Message {
	now := time.Now().Add(-time.Duration(n) * time.Minute)
	msgs := make([]model.Message, 0, n)
	for i := 0; i < n; i++ {
		author := "alice"
		if i%2 == 1 {
			author = "bob"
		}
		msgs = append(msgs, model.Message{
			ID:             "m" + string(rune('0'+i)),
			ConversationID: conversationID,
			AuthorID:       author,
			Timestamp:      now.Add(time.Duration(i) * time.Minute),
			Text:           "hello there, how have you been doing lately",
		})
	}
	return msgs
}

func TestOrchestrator_ProcessesBatchEndToEnd(t *testing.T) {
	store := newFakeStore()
	messages := &fakeMessages{messages: testMessages("conv-1", 6)}
	client := &llmclient.FakeClient{Responses: []llmclient.FakeResponse{
		{Response: llmclient.RawResponse{Content: scriptedResponse, Usage: llmclient.Usage{InputTokens: 100, OutputTokens: 50}}},
	}}

	o := pipeline.New(pipeline.Config{WorkerCount: 1}, pipeline.Deps{
		Messages: messages,
		Store:    store,
		LLM:      client,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	o.Start(ctx)
	require.NoError(t, o.EnqueueConversation(ctx, "conv-1"))

	require.Eventually(t, func() bool {
		return o.Status().BatchesCompleted == 1
	}, time.Second, 10*time.Millisecond)

	snapshot := o.Status()
	assert.Equal(t, int64(1), snapshot.BatchesCompleted)
	assert.Equal(t, int64(1), snapshot.MemoriesExtracted)
	assert.Greater(t, snapshot.AverageConfidence, 0.0)

	store.mu.Lock()
	defer store.mu.Unlock()
	assert.Len(t, store.upserts, 1)
	assert.Len(t, store.outcomes, 1)
	assert.Equal(t, "completed", store.outcomes[0].Status)
}

func TestOrchestrator_BudgetExceededStopsNewWork(t *testing.T) {
	store := newFakeStore()
	messages := &fakeMessages{messages: testMessages("conv-1", 6)}
	client := &llmclient.FakeClient{Repeat: true, Responses: []llmclient.FakeResponse{
		{Response: llmclient.RawResponse{Content: scriptedResponse, Usage: llmclient.Usage{InputTokens: 100, OutputTokens: 50}}},
	}}

	o := pipeline.New(pipeline.Config{WorkerCount: 1, MaxUSD: 1e-12}, pipeline.Deps{
		Messages: messages,
		Store:    store,
		LLM:      client,
	})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	o.Start(ctx)
	require.NoError(t, o.EnqueueConversation(ctx, "conv-1"))

	require.Eventually(t, func() bool {
		return o.Status().Stopped
	}, time.Second, 10*time.Millisecond)

	err := o.EnqueueConversation(ctx, "conv-1")
	assert.Error(t, err)
}
