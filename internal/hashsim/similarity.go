package hashsim

import (
	"math"
	"strings"
	"time"

	"github.com/kioku-ai/kioku/internal/model"
)

// temporalWindow bounds the temporal similarity axis (§4.1): beyond this
// gap, two memories score zero temporal similarity.
const temporalWindow = 72 * time.Hour

// defaultDuplicateAt and defaultNearDuplicateAt are the overall-similarity cut
// points (§4.1, §4.10). Configurable via Scorer.WithThresholds.
const (
	defaultDuplicateAt     = 0.85
	defaultNearDuplicateAt = 0.70
)

// Weights are the coefficients applied to each similarity axis to compute
// Overall. Defaults match §4.1: 0.35 emotional + 0.25 participant +
// 0.15 temporal + 0.25 content.
type Weights struct {
	Emotional   float64
	Participant float64
	Temporal    float64
	Content     float64
}

// DefaultWeights returns the spec's default similarity weighting.
func DefaultWeights() Weights {
	return Weights{Emotional: 0.35, Participant: 0.25, Temporal: 0.15, Content: 0.25}
}

// Score is the decomposed similarity between two memories, each axis in
// [0,1].
type Score struct {
	Overall     float64
	Emotional   float64
	Participant float64
	Temporal    float64
	Content     float64
}

// Scorer computes similarity scores and classifies the result as an exact
// duplicate, near-duplicate, or distinct memory.
type Scorer struct {
	weights        Weights
	duplicateAt    float64
	nearDuplicateAt float64
}

// NewScorer builds a Scorer with the spec's default weights and cut points.
func NewScorer() *Scorer {
	return &Scorer{weights: DefaultWeights(), duplicateAt: defaultDuplicateAt, nearDuplicateAt: defaultNearDuplicateAt}
}

// WithWeights overrides the axis weights. Returns the receiver for chaining.
func (s *Scorer) WithWeights(w Weights) *Scorer {
	s.weights = w
	return s
}

// WithThresholds overrides the duplicate/near-duplicate cut points.
func (s *Scorer) WithThresholds(duplicateAt, nearDuplicateAt float64) *Scorer {
	s.duplicateAt = duplicateAt
	s.nearDuplicateAt = nearDuplicateAt
	return s
}

// Compute returns the similarity decomposition between two memories.
// Compute(a, b) == Compute(b, a) (symmetric) and Compute(a, a).Overall == 1.
func (s *Scorer) Compute(a, b model.Memory) Score {
	sc := Score{
		Emotional:   emotionalSimilarity(a, b),
		Participant: jaccard(a.ParticipantIDs(), b.ParticipantIDs()),
		Temporal:    temporalSimilarity(a.ExtractedAt, b.ExtractedAt),
		Content:     contentSimilarity(a.Summary, b.Summary),
	}
	sc.Overall = s.weights.Emotional*sc.Emotional +
		s.weights.Participant*sc.Participant +
		s.weights.Temporal*sc.Temporal +
		s.weights.Content*sc.Content
	return sc
}

// Relation classifies a similarity outcome for dedup routing (§4.1, §4.10).
type Relation int

const (
	RelationDistinct Relation = iota
	RelationNearDuplicate
	RelationDuplicate
)

// Classify returns how two memories relate given a hash-equality flag and
// the computed score. Hash equality always wins as an exact duplicate,
// matching §4.1 ("A Memory is a duplicate iff hashes match, or overall >= 0.85").
func (s *Scorer) Classify(sameHash bool, sc Score) Relation {
	switch {
	case sameHash || sc.Overall >= s.duplicateAt:
		return RelationDuplicate
	case sc.Overall >= s.nearDuplicateAt:
		return RelationNearDuplicate
	default:
		return RelationDistinct
	}
}

// emotionalSimilarity is cosine similarity over (mood one-hot,
// intensity/10, theme Jaccard), per §4.1.
func emotionalSimilarity(a, b model.Memory) float64 {
	intensityA := clamp01(a.EmotionalContext.Intensity / 10)
	intensityB := clamp01(b.EmotionalContext.Intensity / 10)
	themeJaccard := jaccard(themeStrings(a.EmotionalContext.Themes), themeStrings(b.EmotionalContext.Themes))

	// The first two components stand in for the mood one-hot vectors: equal
	// moods give identical unit vectors, distinct moods orthogonal ones.
	va := []float64{1, 0, intensityA, themeJaccard}
	vb := []float64{1, 0, intensityB, themeJaccard}
	if a.EmotionalContext.PrimaryMood != b.EmotionalContext.PrimaryMood {
		vb[0], vb[1] = 0, 1
	}
	return cosine(va, vb)
}

func cosine(a, b []float64) float64 {
	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// temporalSimilarity rescales the gap between two timestamps against the
// 72h window: max(0, 1 - |delta|/Twindow).
func temporalSimilarity(a, b time.Time) float64 {
	delta := a.Sub(b)
	if delta < 0 {
		delta = -delta
	}
	return math.Max(0, 1-float64(delta)/float64(temporalWindow))
}

// contentSimilarity is token-set Jaccard over normalized summary tokens of
// length >= 2.
func contentSimilarity(a, b string) float64 {
	return jaccard(contentTokens(a), contentTokens(b))
}

func contentTokens(s string) []string {
	normalized := NormalizeSummary(s)
	fields := strings.Fields(normalized)
	tokens := make([]string, 0, len(fields))
	for _, f := range fields {
		if len(f) >= 2 {
			tokens = append(tokens, f)
		}
	}
	return tokens
}

func themeStrings(themes []model.Theme) []string {
	out := make([]string, len(themes))
	for i, t := range themes {
		out[i] = string(t)
	}
	return out
}

// jaccard computes |A cap B| / |A cup B| over two string slices treated as
// sets. Returns 1 when both sets are empty (vacuously identical), 0 when
// exactly one is empty.
func jaccard(a, b []string) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 1
	}
	setA := toSet(a)
	setB := toSet(b)
	if len(setA) == 0 || len(setB) == 0 {
		return 0
	}
	intersection := 0
	for k := range setA {
		if setB[k] {
			intersection++
		}
	}
	union := len(setA) + len(setB) - intersection
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}

func toSet(items []string) map[string]bool {
	set := make(map[string]bool, len(items))
	for _, it := range items {
		set[it] = true
	}
	return set
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
