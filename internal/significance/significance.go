// Package significance computes a memory's SignificanceScore (§4.8) — the
// four-component emotional/relational/contextual/temporal weighting that
// drives human-review prioritization — and detects MoodDelta transitions
// against the most recent prior memory for overlapping participants.
package significance

import (
	"math"
	"time"

	"github.com/kioku-ai/kioku/internal/model"
)

// lifeEventThemes get a contextualImportance boost (§4.8).
var lifeEventThemes = map[model.Theme]bool{
	"milestone": true, "loss": true, "health": true, "transition": true,
}

// highImpactLexemes get an emotionalSalience boost when present among a
// memory's emotional markers or theme identifiers (§4.8).
var highImpactLexemes = map[string]bool{
	"grief": true, "crisis": true, "breakthrough": true, "euphoric": true,
}

// urgencyMarkers get an emotionalSalience boost, distinct from the
// high-impact lexeme set, representing time-pressure rather than
// intensity of feeling.
var urgencyMarkers = map[string]bool{
	"emergency": true, "urgent": true, "now": true, "immediately": true,
}

const recencyHalfLife = 30 * 24 * time.Hour

// Analyzer computes SignificanceScore and MoodDelta.
type Analyzer struct {
	weights model.SignificanceWeights
}

// New builds an Analyzer with the spec's default significance weights.
func New() *Analyzer {
	return &Analyzer{weights: model.DefaultSignificanceWeights()}
}

// WithWeights overrides the component weighting. Returns the receiver for
// chaining.
func (a *Analyzer) WithWeights(w model.SignificanceWeights) *Analyzer {
	a.weights = w
	return a
}

// Compute scores a candidate memory's significance. now is the reference
// time for temporal-recency decay (normally time.Now(), injected for
// deterministic tests).
func (a *Analyzer) Compute(m model.Memory, now time.Time) model.SignificanceScore {
	components := model.SignificanceComponents{
		EmotionalSalience:    emotionalSalience(m),
		RelationshipImpact:   relationshipImpact(m),
		ContextualImportance: contextualImportance(m),
		TemporalRelevance:    temporalRelevance(m.ExtractedAt, now),
	}
	overall := a.weights.EmotionalSalience*components.EmotionalSalience +
		a.weights.RelationshipImpact*components.RelationshipImpact +
		a.weights.ContextualImportance*components.ContextualImportance +
		a.weights.TemporalRelevance*components.TemporalRelevance

	category := categoryFor(overall)
	confidence := m.Confidence
	priority := validationPriority(overall, confidence)

	return model.SignificanceScore{
		Overall:            overall,
		Components:         components,
		Category:           category,
		ValidationPriority: priority,
		Confidence:         confidence,
	}
}

func categoryFor(overall float64) model.SignificanceCategory {
	switch {
	case overall >= 8:
		return model.SignificanceCritical
	case overall >= 6:
		return model.SignificanceHigh
	case overall >= 4:
		return model.SignificanceMedium
	default:
		return model.SignificanceLow
	}
}

// validationPriority is overall * (1 - confidence) rescaled to [0,10]: an
// uncertain-yet-significant memory floats to the top of the review queue.
func validationPriority(overall, confidence float64) float64 {
	c := clamp01(confidence)
	return clamp010(overall * (1 - c))
}

// emotionalSalience rescales |moodScore-5|, weighted by model confidence,
// plus bonuses for high-impact lexemes and urgency markers (§4.8).
func emotionalSalience(m model.Memory) float64 {
	delta := math.Abs(m.MoodScore.Score-5) / 5 * 10 // rescale [0,5] delta to [0,10]
	base := delta * clamp01(m.MoodScore.Confidence)

	bonus := 0.0
	for _, t := range m.EmotionalContext.Themes {
		if highImpactLexemes[string(t)] {
			bonus += 1.5
		}
	}
	for _, marker := range m.EmotionalContext.EmotionalMarkers {
		if highImpactLexemes[lower(marker.Phrase)] {
			bonus += 1.5 * marker.Strength
		}
		if urgencyMarkers[lower(marker.Phrase)] {
			bonus += 1.0 * marker.Strength
		}
	}
	return clamp010(base + bonus)
}

// relationshipImpact is the mean of |closeness-5|, tension,
// |supportiveness-5|, boosted for close-tie participants and vulnerability
// markers (§4.8).
func relationshipImpact(m model.Memory) float64 {
	rd := m.RelationshipDynamics
	mean := (math.Abs(rd.Closeness-5) + rd.Tension + math.Abs(rd.Supportiveness-5)) / 3

	boost := 0.0
	for _, p := range m.Participants {
		if p.Role == model.RolePartner || p.Role == model.RoleFamily {
			boost += 1.0
			break
		}
	}
	for _, marker := range m.EmotionalContext.EmotionalMarkers {
		if isVulnerabilityMarker(marker.Phrase) {
			boost += 0.5 * marker.Strength
		}
	}
	return clamp010(mean + boost)
}

var vulnerabilityMarkers = map[string]bool{
	"scared": true, "ashamed": true, "vulnerable": true, "afraid": true,
	"betrayed": true, "abandoned": true,
}

func isVulnerabilityMarker(phrase string) bool {
	return vulnerabilityMarkers[lower(phrase)]
}

// contextualImportance boosts life-event themes and extended conversation
// windows (§4.8).
func contextualImportance(m model.Memory) float64 {
	base := 3.0 // neutral baseline when nothing else distinguishes the episode
	for _, t := range m.EmotionalContext.Themes {
		if lifeEventThemes[t] {
			base += 2.5
		}
	}
	if len(m.SourceMessageIDs) > 20 {
		base += 0.5
	}
	return clamp010(base)
}

// temporalRelevance applies exponential recency decay with a 30-day
// half-life (§4.8), rescaled to [0,10] (10 = just extracted).
func temporalRelevance(extractedAt, now time.Time) float64 {
	if extractedAt.IsZero() {
		return 0
	}
	age := now.Sub(extractedAt)
	if age < 0 {
		age = 0
	}
	decay := math.Exp(-math.Ln2 * float64(age) / float64(recencyHalfLife))
	return clamp010(decay * 10)
}

func lower(s string) string {
	out := make([]byte, len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c >= 'A' && c <= 'Z' {
			c += 'a' - 'A'
		}
		out[i] = c
	}
	return string(out)
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

func clamp010(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 10 {
		return 10
	}
	return v
}
