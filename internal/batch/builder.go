// Package batch segments a conversation's messages into context windows,
// scores each window's emotional salience with cheap heuristics, and
// packs windows into size-bounded Batches ready for the LLM call.
package batch

import (
	"sort"
	"strings"
	"time"

	"github.com/kioku-ai/kioku/internal/model"
)

// Defaults match §6's configuration table.
const (
	DefaultGap           = 30 * time.Minute
	DefaultTokenBudget   = 8000
	DefaultMin           = 20
	DefaultMax           = 200
	jaccardWindowFloor   = 0.5
	charsPerTokenApprox  = 4
	promptScaffoldTokens = 300 // rough fixed overhead for roster/directive/schema sections
)

// Config parameterizes segmentation and packing. Zero-value fields fall
// back to their package default via WithDefaults.
type Config struct {
	Gap             time.Duration
	TokenBudget     int
	Min             int
	Max             int
	PriorityMode    model.PriorityMode
}

// WithDefaults fills any zero fields with the spec's defaults.
func (c Config) WithDefaults() Config {
	if c.Gap <= 0 {
		c.Gap = DefaultGap
	}
	if c.TokenBudget <= 0 {
		c.TokenBudget = DefaultTokenBudget
	}
	if c.Min <= 0 {
		c.Min = DefaultMin
	}
	if c.Max <= 0 {
		c.Max = DefaultMax
	}
	if c.PriorityMode == "" {
		c.PriorityMode = model.PriorityQuality
	}
	return c
}

// window is an intermediate context window before packing into Batches.
type window struct {
	messages []model.Message
	salience float64
}

// Build runs the full segment → score → pack → prioritize pipeline
// (§4.5) over one conversation's messages, which must already be ordered
// by timestamp ascending (the message store's contract, §6).
func Build(conversationID string, messages []model.Message, cfg Config) []model.Batch {
	cfg = cfg.WithDefaults()
	if len(messages) == 0 {
		return nil
	}

	windows := segment(messages, cfg)
	for i := range windows {
		windows[i].salience = scoreSalience(windows[i].messages)
	}

	batches := pack(conversationID, windows, cfg)
	prioritize(batches, cfg.PriorityMode)
	return batches
}

// segment splits messages into windows on timestamp gap, participant-set
// drift, or accumulated token budget — the three triggers in §4.5 step 1.
func segment(messages []model.Message, cfg Config) []window {
	var windows []window
	var current []model.Message
	var currentTokens int

	flush := func() {
		if len(current) > 0 {
			windows = append(windows, window{messages: current})
		}
	}

	for _, m := range messages {
		tokens := estimateTokens(m.Text)

		if len(current) == 0 {
			current = []model.Message{m}
			currentTokens = tokens
			continue
		}

		last := current[len(current)-1]
		gapExceeded := m.Timestamp.Sub(last.Timestamp) > cfg.Gap
		tokenExceeded := currentTokens+tokens > cfg.TokenBudget
		participantDrift := jaccard(trailingAuthors(current, participantLookback), trailingAuthors(append(current, m), participantLookback)) < jaccardWindowFloor

		if gapExceeded || participantDrift || tokenExceeded {
			flush()
			current = []model.Message{m}
			currentTokens = tokens
			continue
		}

		current = append(current, m)
		currentTokens += tokens
	}
	flush()
	return windows
}

// participantLookback bounds the trailing window used to detect
// participant-set drift (§4.5 step 1b) to the last few speakers, so a
// long-running two-party conversation never accumulates an ever-growing
// author set that could never again register as "changed".
const participantLookback = 2

// trailingAuthors returns the set of distinct author ids among the last
// n messages of the slice (or all of it, if shorter).
func trailingAuthors(messages []model.Message, n int) map[string]bool {
	start := len(messages) - n
	if start < 0 {
		start = 0
	}
	set := make(map[string]bool, n)
	for _, m := range messages[start:] {
		set[m.AuthorID] = true
	}
	return set
}

func jaccard(a, b map[string]bool) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 1
	}
	intersection := 0
	for k := range a {
		if b[k] {
			intersection++
		}
	}
	union := len(a) + len(b) - intersection
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}

// affectLexicon is a cheap, fixed set of emotionally loaded terms used
// purely to rank windows before any LLM call is made (§4.5 step 2
// explicitly forbids calling the model here).
var affectLexicon = map[string]bool{
	"love": true, "hate": true, "furious": true, "devastated": true,
	"thrilled": true, "heartbroken": true, "grief": true, "crisis": true,
	"breakthrough": true, "euphoric": true, "sorry": true, "apologize": true,
	"scared": true, "anxious": true, "proud": true, "betrayed": true,
	"relieved": true, "grateful": true, "lonely": true, "overwhelmed": true,
}

// scoreSalience estimates emotional weight via affect-term density ×
// turn count × participant count, all computable without a model call.
func scoreSalience(messages []model.Message) float64 {
	if len(messages) == 0 {
		return 0
	}
	var affectHits, totalWords int
	authors := map[string]bool{}
	for _, m := range messages {
		words := strings.Fields(strings.ToLower(m.Text))
		totalWords += len(words)
		for _, w := range words {
			if affectLexicon[strings.Trim(w, ".,!?\"'")] {
				affectHits++
			}
		}
		authors[m.AuthorID] = true
	}
	density := 0.0
	if totalWords > 0 {
		density = float64(affectHits) / float64(totalWords)
	}
	return density * float64(len(messages)) * float64(len(authors))
}

func estimateTokens(text string) int {
	n := len(text) / charsPerTokenApprox
	if n == 0 && text != "" {
		n = 1
	}
	return n
}

// pack groups windows into Batches of at most cfg.Max messages, splitting
// oversize windows at the nearest speaker change (§4.5 step 3). A batch is
// closed as soon as it holds cfg.Min messages or its estimated tokens,
// including prompt scaffolding overhead, reach cfg.TokenBudget (§4.5 step
// 4). No batch is rejected: the chunk that crosses the budget stays in the
// batch, so a batch can exceed cfg.TokenBudget, and the final batch of a
// conversation can hold fewer than cfg.Min messages.
func pack(conversationID string, windows []window, cfg Config) []model.Batch {
	var batches []model.Batch
	var currentMsgs []model.Message
	var currentSalience float64

	flush := func() {
		if len(currentMsgs) == 0 {
			return
		}
		batches = append(batches, model.Batch{
			ID:                  model.NewID(),
			ConversationID:      conversationID,
			Messages:            append([]model.Message(nil), currentMsgs...),
			EstimatedCostTokens: estimateBatchTokens(currentMsgs),
			PriorityScore:       currentSalience,
			WindowStart:         currentMsgs[0].Timestamp,
			WindowEnd:           currentMsgs[len(currentMsgs)-1].Timestamp,
		})
		currentMsgs = nil
		currentSalience = 0
	}

	for _, w := range windows {
		for _, chunk := range splitOversize(w.messages, cfg.Max) {
			if len(currentMsgs)+len(chunk) > cfg.Max {
				flush()
			}
			currentMsgs = append(currentMsgs, chunk...)
			currentSalience += w.salience
			if len(currentMsgs) >= cfg.Min || estimateBatchTokens(currentMsgs) >= cfg.TokenBudget {
				flush()
			}
		}
	}
	flush()
	return batches
}

// splitOversize breaks a window exceeding max into sub-chunks at speaker
// changes, so no conversational turn is ever split mid-utterance.
func splitOversize(messages []model.Message, max int) [][]model.Message {
	if len(messages) <= max {
		return [][]model.Message{messages}
	}
	var chunks [][]model.Message
	var current []model.Message
	for i, m := range messages {
		if len(current) >= max && (i == 0 || m.AuthorID != messages[i-1].AuthorID) {
			chunks = append(chunks, current)
			current = nil
		}
		current = append(current, m)
	}
	if len(current) > 0 {
		chunks = append(chunks, current)
	}
	return chunks
}

func estimateBatchTokens(messages []model.Message) int {
	total := promptScaffoldTokens
	for _, m := range messages {
		total += estimateTokens(m.Text)
	}
	return total
}

// prioritize reorders batches for emission per §4.5 step 5: salience
// descending under "quality", chronological under "throughput", cost
// ascending under "cost". Sorting is stable so ties preserve original
// (chronological) order.
func prioritize(batches []model.Batch, mode model.PriorityMode) {
	switch mode {
	case model.PriorityQuality:
		sort.SliceStable(batches, func(i, j int) bool { return batches[i].PriorityScore > batches[j].PriorityScore })
	case model.PriorityCost:
		sort.SliceStable(batches, func(i, j int) bool { return batches[i].EstimatedCostTokens < batches[j].EstimatedCostTokens })
	case model.PriorityThroughput:
		// already chronological from pack()
	}
}
