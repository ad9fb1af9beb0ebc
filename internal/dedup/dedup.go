// Package dedup implements the deduplication and merge engine (§4.10):
// exact-hash lookup, candidate similarity scoring within a temporal and
// participant window, and the commutative/associative merge rule that
// folds a new candidate into an existing memory.
package dedup

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/kioku-ai/kioku/internal/hashsim"
	"github.com/kioku-ai/kioku/internal/model"
)

// candidateWindow bounds how far before and after a candidate's
// extraction time findMemoryCandidates looks for participant-overlapping
// memories (§4.10: "72h temporal window").
const candidateWindow = 72 * time.Hour

// mergeConfidenceDecay scales a merged memory's confidence down to reflect
// the extra uncertainty introduced by folding two extractions together
// (§4.10).
const mergeConfidenceDecay = 0.95

// maxEvidence caps the merged evidence list (§4.10: "cap at 10 by relevance").
const maxEvidence = 10

// Store is the subset of the persistence interface (§6) the engine needs:
// exact-hash lookup and a temporal/participant-windowed candidate scan.
// CandidateFinder implementations (e.g. a Qdrant-backed index) may sit in
// front of a Store to narrow the scan before it ever reaches Postgres.
type Store interface {
	FindMemoryByHash(ctx context.Context, hash string) (model.Memory, bool, error)
	FindMemoryCandidates(ctx context.Context, participantIDs []string, windowStart, windowEnd time.Time) ([]model.Memory, error)
}

// CandidateFinder is an optional accelerated candidate source (the pack's
// Qdrant-backed index) that narrows the participant/temporal scan before
// it ever reaches the Store. When nil, Engine relies on
// Store.FindMemoryCandidates alone.
type CandidateFinder interface {
	FindCandidates(ctx context.Context, participantIDs []string, windowStart, windowEnd time.Time) ([]model.Memory, error)
}

// Outcome classifies what Resolve did with a candidate memory.
type Outcome int

const (
	// OutcomeInserted means no duplicate or near-duplicate was found; the
	// candidate should be inserted as-is.
	OutcomeInserted Outcome = iota
	// OutcomeExactDuplicate means a memory with the same content hash
	// already exists; the candidate is discarded and the existing id
	// returned.
	OutcomeExactDuplicate
	// OutcomeMerged means the candidate was folded into an existing
	// memory per the merge rule; the result is a new Memory superseding
	// both.
	OutcomeMerged
)

// Result is what Resolve returns for a single candidate memory.
type Result struct {
	Outcome   Outcome
	Memory    model.Memory // the memory to persist: candidate, merged result, or the existing duplicate
	ExistingID string      // set for OutcomeExactDuplicate and OutcomeMerged
}

// Engine resolves a freshly extracted candidate Memory against existing
// state: exact-hash match, similarity-scored merge, or plain insertion.
type Engine struct {
	store   Store
	finder  CandidateFinder
	scorer  *hashsim.Scorer
}

// New builds an Engine with the spec's default similarity scorer.
func New(store Store) *Engine {
	return &Engine{store: store, scorer: hashsim.NewScorer()}
}

// WithCandidateFinder injects an accelerated candidate source. Returns the
// receiver for chaining.
func (e *Engine) WithCandidateFinder(f CandidateFinder) *Engine {
	e.finder = f
	return e
}

// WithScorer overrides the similarity scorer (weights/thresholds). Returns
// the receiver for chaining.
func (e *Engine) WithScorer(s *hashsim.Scorer) *Engine {
	e.scorer = s
	return e
}

// Resolve applies the §4.10 decision sequence to a candidate memory:
// exact-hash lookup, then windowed candidate scoring, then merge-or-insert.
func (e *Engine) Resolve(ctx context.Context, candidate model.Memory) (Result, error) {
	if candidate.ContentHash == "" {
		candidate.ContentHash = hashsim.MemoryContentHash(candidate)
	}

	existing, found, err := e.store.FindMemoryByHash(ctx, candidate.ContentHash)
	if err != nil {
		return Result{}, fmt.Errorf("dedup: find by hash: %w", err)
	}
	if found {
		return Result{Outcome: OutcomeExactDuplicate, Memory: existing, ExistingID: existing.ID}, nil
	}

	candidates, err := e.windowedCandidates(ctx, candidate)
	if err != nil {
		return Result{}, fmt.Errorf("dedup: find candidates: %w", err)
	}

	best, bestScore, ok := e.bestMatch(candidate, candidates)
	if !ok {
		return Result{Outcome: OutcomeInserted, Memory: candidate}, nil
	}

	switch e.scorer.Classify(false, bestScore) {
	case hashsim.RelationDuplicate, hashsim.RelationNearDuplicate:
		merged, err := Merge(best, candidate)
		if err != nil {
			return Result{}, fmt.Errorf("dedup: merge: %w", err)
		}
		return Result{Outcome: OutcomeMerged, Memory: merged, ExistingID: best.ID}, nil
	default:
		return Result{Outcome: OutcomeInserted, Memory: candidate}, nil
	}
}

func (e *Engine) windowedCandidates(ctx context.Context, candidate model.Memory) ([]model.Memory, error) {
	windowStart := candidate.ExtractedAt.Add(-candidateWindow)
	windowEnd := candidate.ExtractedAt.Add(candidateWindow)
	participantIDs := candidate.ParticipantIDs()

	if e.finder != nil {
		found, err := e.finder.FindCandidates(ctx, participantIDs, windowStart, windowEnd)
		if err != nil {
			return nil, fmt.Errorf("candidate finder: %w", err)
		}
		return found, nil
	}

	return e.store.FindMemoryCandidates(ctx, participantIDs, windowStart, windowEnd)
}

func (e *Engine) bestMatch(candidate model.Memory, pool []model.Memory) (model.Memory, hashsim.Score, bool) {
	var (
		best      model.Memory
		bestScore hashsim.Score
		found     bool
	)
	for _, m := range pool {
		sc := e.scorer.Compute(candidate, m)
		if !found || sc.Overall > bestScore.Overall {
			best, bestScore, found = m, sc, true
		}
	}
	return best, bestScore, found
}

// Merge folds b into a per the §4.10 merge rule. The rule is commutative
// and associative: Merge(a, b) and Merge(b, a) produce the same logical
// result (summary/validation ties break deterministically on id rather
// than argument order). Returns an error if either side is a terminal
// rejection, since a rejected memory blocks merging outright.
func Merge(a, b model.Memory) (model.Memory, error) {
	if a.Validation.IsRejected() || b.Validation.IsRejected() {
		return model.Memory{}, fmt.Errorf("dedup: cannot merge rejected memory (a=%s b=%s)", a.Validation, b.Validation)
	}
	// Order the pair by id so every tie below resolves the same way for
	// Merge(a, b) and Merge(b, a).
	if b.ID < a.ID {
		a, b = b, a
	}

	out := model.Memory{
		ID:               model.NewID(),
		SourceMessageIDs: unionStrings(a.SourceMessageIDs, b.SourceMessageIDs),
		Participants:     unionParticipants(a.Participants, b.Participants),
		Validation:       model.Stricter(a.Validation, b.Validation),
		ExtractedAt:      earlier(a.ExtractedAt, b.ExtractedAt),
		Metadata: model.MemoryMetadata{
			Model:         pick(a.Confidence >= b.Confidence, a.Metadata.Model, b.Metadata.Model),
			PromptVersion: pick(a.Confidence >= b.Confidence, a.Metadata.PromptVersion, b.Metadata.PromptVersion),
			BatchID:       pick(a.Confidence >= b.Confidence, a.Metadata.BatchID, b.Metadata.BatchID),
			MergedFrom:    unionStrings([]string{a.ID}, []string{b.ID}),
		},
	}

	wa, wb := weightOf(a), weightOf(b)

	out.EmotionalContext = mergeEmotionalContext(a.EmotionalContext, b.EmotionalContext, wa, wb)
	out.RelationshipDynamics = mergeRelationshipDynamics(a.RelationshipDynamics, b.RelationshipDynamics, wa, wb)
	out.MoodScore = mergeMoodScore(a.MoodScore, b.MoodScore, wa, wb)
	out.Summary = pickSummary(a, b)
	out.Evidence = mergeEvidence(a.Evidence, b.Evidence)
	out.Confidence = round1(weightedMean(a.Confidence, b.Confidence, wa, wb) * mergeConfidenceDecay)
	out.Significance = pickSignificance(a, b)

	out.ContentHash = hashsim.MemoryContentHash(out)
	return out, nil
}

// weightOf is a memory's merge weight: its own confidence, floored so a
// zero-confidence memory still contributes some signal instead of being
// silently erased from the weighted mean.
func weightOf(m model.Memory) float64 {
	if m.Confidence <= 0 {
		return 0.01
	}
	return m.Confidence
}

func weightedMean(va, vb, wa, wb float64) float64 {
	if wa+wb == 0 {
		return (va + vb) / 2
	}
	return (va*wa + vb*wb) / (wa + wb)
}

func round1(v float64) float64 {
	return float64(int(v*10+0.5)) / 10
}

func earlier(a, b time.Time) time.Time {
	if a.Before(b) {
		return a
	}
	return b
}

func pick(cond bool, a, b string) string {
	if cond {
		return a
	}
	return b
}

func pickSummary(a, b model.Memory) string {
	switch {
	case a.Confidence > b.Confidence:
		return a.Summary
	case b.Confidence > a.Confidence:
		return b.Summary
	case len(a.Summary) >= len(b.Summary):
		return a.Summary
	default:
		return b.Summary
	}
}

func pickSignificance(a, b model.Memory) model.SignificanceScore {
	if a.Significance.Overall >= b.Significance.Overall {
		return a.Significance
	}
	return b.Significance
}

func mergeEmotionalContext(a, b model.EmotionalContext, wa, wb float64) model.EmotionalContext {
	mood := a.PrimaryMood
	if wb > wa {
		mood = b.PrimaryMood
	}
	return model.EmotionalContext{
		PrimaryMood:      mood,
		Intensity:        round1(weightedMean(a.Intensity, b.Intensity, wa, wb)),
		Valence:          round1(weightedMean(a.Valence, b.Valence, wa, wb)),
		Themes:           mergeThemes(a.Themes, b.Themes),
		EmotionalMarkers: mergeMarkers(a.EmotionalMarkers, b.EmotionalMarkers),
		ContextualEvents: append(append([]model.Event{}, a.ContextualEvents...), b.ContextualEvents...),
		TemporalPatterns: append(append([]model.Pattern{}, a.TemporalPatterns...), b.TemporalPatterns...),
	}
}

func mergeRelationshipDynamics(a, b model.RelationshipDynamics, wa, wb float64) model.RelationshipDynamics {
	quality := a.InteractionQuality
	if wb > wa {
		quality = b.InteractionQuality
	}
	return model.RelationshipDynamics{
		Closeness:             round1(weightedMean(a.Closeness, b.Closeness, wa, wb)),
		Tension:               round1(weightedMean(a.Tension, b.Tension, wa, wb)),
		Supportiveness:        round1(weightedMean(a.Supportiveness, b.Supportiveness, wa, wb)),
		CommunicationPatterns: append(append([]model.Pattern{}, a.CommunicationPatterns...), b.CommunicationPatterns...),
		InteractionQuality:    quality,
		ConnectionStrength:    round1(weightedMean(a.ConnectionStrength, b.ConnectionStrength, wa, wb)),
	}
}

func mergeMoodScore(a, b model.MoodScore, wa, wb float64) model.MoodScore {
	delta := a.Delta
	if delta == nil {
		delta = b.Delta
	}
	return model.MoodScore{
		Score:       round1(weightedMean(a.Score, b.Score, wa, wb)),
		Confidence:  round1(weightedMean(a.Confidence, b.Confidence, wa, wb)),
		Descriptors: mergeStringsDedup(a.Descriptors, b.Descriptors),
		Factors:     append(append([]model.MoodFactor{}, a.Factors...), b.Factors...),
		Delta:       delta,
	}
}

func mergeThemes(a, b []model.Theme) []model.Theme {
	seen := make(map[model.Theme]bool)
	out := make([]model.Theme, 0, len(a)+len(b))
	for _, t := range append(append([]model.Theme{}, a...), b...) {
		if !seen[t] {
			seen[t] = true
			out = append(out, t)
		}
	}
	return out
}

// mergeMarkers unions emotional markers deduplicated by phrase, keeping the
// max strength per phrase (§4.10).
func mergeMarkers(a, b []model.EmotionalMarker) []model.EmotionalMarker {
	byPhrase := make(map[string]model.EmotionalMarker)
	order := make([]string, 0, len(a)+len(b))
	for _, m := range append(append([]model.EmotionalMarker{}, a...), b...) {
		existing, ok := byPhrase[m.Phrase]
		if !ok {
			order = append(order, m.Phrase)
			byPhrase[m.Phrase] = m
			continue
		}
		if m.Strength > existing.Strength {
			byPhrase[m.Phrase] = m
		}
	}
	out := make([]model.EmotionalMarker, 0, len(order))
	for _, p := range order {
		out = append(out, byPhrase[p])
	}
	return out
}

func mergeStringsDedup(a, b []string) []string {
	seen := make(map[string]bool)
	out := make([]string, 0, len(a)+len(b))
	for _, s := range append(append([]string{}, a...), b...) {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}

func unionStrings(a, b []string) []string {
	return mergeStringsDedup(a, b)
}

func unionParticipants(a, b []model.Participant) []model.Participant {
	seen := make(map[string]bool)
	out := make([]model.Participant, 0, len(a)+len(b))
	for _, p := range append(append([]model.Participant{}, a...), b...) {
		if !seen[p.ID] {
			seen[p.ID] = true
			out = append(out, p)
		}
	}
	return out
}

// mergeEvidence unions evidence deduplicated by source message id (keeping
// the higher-relevance item on a collision), then caps the result at
// maxEvidence by descending relevance (§4.10).
func mergeEvidence(a, b []model.EvidenceItem) []model.EvidenceItem {
	byMessage := make(map[string]model.EvidenceItem)
	order := make([]string, 0, len(a)+len(b))
	for _, e := range append(append([]model.EvidenceItem{}, a...), b...) {
		existing, ok := byMessage[e.SourceMessageID]
		if !ok {
			order = append(order, e.SourceMessageID)
			byMessage[e.SourceMessageID] = e
			continue
		}
		if e.Relevance > existing.Relevance {
			byMessage[e.SourceMessageID] = e
		}
	}
	merged := make([]model.EvidenceItem, 0, len(order))
	for _, id := range order {
		merged = append(merged, byMessage[id])
	}
	sort.SliceStable(merged, func(i, j int) bool { return merged[i].Relevance > merged[j].Relevance })
	if len(merged) > maxEvidence {
		merged = merged[:maxEvidence]
	}
	return merged
}
