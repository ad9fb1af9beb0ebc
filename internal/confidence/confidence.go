// Package confidence implements the five-factor confidence score (§4.7)
// combined over a parsed extraction candidate and its source batch. Each
// factor is computed independently and clamped to [0,1] so a single
// missing or malformed input degrades one factor rather than the whole
// score; the result keeps the decomposition for traceability, the
// teacher's additive-scoring style (internal/service/quality in the
// original decision-audit service) generalized to a struct of named
// factors instead of inline comments on a single float.
package confidence

import (
	"math"
	"strings"

	"github.com/kioku-ai/kioku/internal/model"
)

// Weights are the coefficients applied to each factor to compute Overall.
// Defaults match §4.7: 0.25/0.25/0.20/0.15/0.15.
type Weights struct {
	ModelConfidence       float64
	EmotionalCoherence    float64
	RelationshipAccuracy  float64
	TemporalConsistency   float64
	ContentQuality        float64
}

// DefaultWeights returns the spec's default factor weighting.
func DefaultWeights() Weights {
	return Weights{
		ModelConfidence:      0.25,
		EmotionalCoherence:   0.25,
		RelationshipAccuracy: 0.20,
		TemporalConsistency:  0.15,
		ContentQuality:       0.15,
	}
}

// Factors is the decomposed per-factor score, each in [0,1].
type Factors struct {
	ModelConfidence      float64
	EmotionalCoherence   float64
	RelationshipAccuracy float64
	TemporalConsistency  float64
	ContentQuality       float64
}

// Score is the combined confidence result with its decomposition.
type Score struct {
	Overall float64
	Factors Factors
}

// Input bundles everything the calculator needs about one candidate
// memory and the batch it was extracted from.
type Input struct {
	Candidate       model.Memory
	SourceMessages  []model.Message // the batch's messages, for temporal consistency
	ModelConfidence float64         // as reported by the LLM, may be 0 if absent
}

// Calculator computes Score from an Input using a configured weighting.
type Calculator struct {
	weights Weights
}

// New builds a Calculator with the spec's default weights.
func New() *Calculator {
	return &Calculator{weights: DefaultWeights()}
}

// WithWeights overrides the factor weighting. Returns the receiver for
// chaining.
func (c *Calculator) WithWeights(w Weights) *Calculator {
	c.weights = w
	return c
}

// Compute runs all five factors and combines them by weighted sum.
func (c *Calculator) Compute(in Input) Score {
	f := Factors{
		ModelConfidence:      clamp01(in.ModelConfidence),
		EmotionalCoherence:   emotionalCoherence(in.Candidate),
		RelationshipAccuracy: relationshipAccuracy(in.Candidate),
		TemporalConsistency:  temporalConsistency(in.Candidate, in.SourceMessages),
		ContentQuality:       contentQuality(in.Candidate),
	}
	overall := c.weights.ModelConfidence*f.ModelConfidence +
		c.weights.EmotionalCoherence*f.EmotionalCoherence +
		c.weights.RelationshipAccuracy*f.RelationshipAccuracy +
		c.weights.TemporalConsistency*f.TemporalConsistency +
		c.weights.ContentQuality*f.ContentQuality
	return Score{Overall: clamp01(overall), Factors: f}
}

// emotionalCoherence is 1 - normalized entropy across declared
// themes/mood, plus an intensity-mood alignment check (§4.7).
func emotionalCoherence(m model.Memory) float64 {
	ec := m.EmotionalContext
	if ec.PrimaryMood == "" {
		return 0
	}

	// Normalized entropy over theme "votes": a single dominant theme set
	// is maximally coherent, while many equally-weighted themes (here
	// every declared theme counts once) pulls entropy toward 1.
	entropy := 0.0
	n := len(ec.Themes)
	if n > 1 {
		p := 1.0 / float64(n)
		for i := 0; i < n; i++ {
			entropy -= p * math.Log2(p)
		}
		entropy /= math.Log2(float64(n)) // normalize to [0,1]
	}
	coherence := 1 - entropy

	// Intensity-mood alignment: a positive/negative mood with near-zero
	// intensity, or a neutral mood with high intensity, is internally
	// inconsistent and penalized.
	alignment := 1.0
	switch ec.PrimaryMood {
	case model.MoodNeutral:
		if ec.Intensity > 6 {
			alignment = 0.5
		}
	case model.MoodPositive, model.MoodNegative:
		if ec.Intensity < 2 {
			alignment = 0.5
		}
	}

	return clamp01(coherence * alignment)
}

// relationshipAccuracy scores structural completeness of
// RelationshipDynamics: non-null closeness/tension/support and a present
// connection strength (§4.7).
func relationshipAccuracy(m model.Memory) float64 {
	rd := m.RelationshipDynamics
	present := 0
	total := 4
	if rd.Closeness > 0 {
		present++
	}
	if rd.Tension > 0 {
		present++
	}
	if rd.Supportiveness > 0 {
		present++
	}
	if rd.ConnectionStrength > 0 {
		present++
	}
	return float64(present) / float64(total)
}

// temporalConsistency checks validity of extractedAt and source message
// timestamps and their monotonicity (§4.7).
func temporalConsistency(m model.Memory, sourceMessages []model.Message) float64 {
	if m.ExtractedAt.IsZero() {
		return 0
	}
	if len(sourceMessages) == 0 {
		return 0.5 // can't verify monotonicity, but extractedAt itself is valid
	}
	for i := 1; i < len(sourceMessages); i++ {
		if sourceMessages[i].Timestamp.Before(sourceMessages[i-1].Timestamp) {
			return 0
		}
	}
	last := sourceMessages[len(sourceMessages)-1].Timestamp
	if m.ExtractedAt.Before(last) {
		return 0.5 // extraction claims to precede its own source material
	}
	return 1
}

// contentQuality checks summary length, evidence count, and mean evidence
// relevance against the §4.7 thresholds.
func contentQuality(m model.Memory) float64 {
	score := 0.0
	const parts = 3

	l := len(strings.TrimSpace(m.Summary))
	if l >= 16 && l <= 1000 {
		score++
	}
	if len(m.Evidence) >= 1 {
		score++
	}
	if len(m.Evidence) > 0 {
		var sum float64
		for _, e := range m.Evidence {
			sum += e.Relevance
		}
		if sum/float64(len(m.Evidence)) >= 0.4 {
			score++
		}
	}
	return score / parts
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
