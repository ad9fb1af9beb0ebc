package significance

import (
	"time"

	"github.com/kioku-ai/kioku/internal/model"
)

// PriorMoodPoint is one prior data point needed for MoodDelta detection:
// the conversation's most recent prior memories for overlapping
// participants, newest first. DetectDelta only needs the mood score,
// timestamp, and participant set of each.
type PriorMoodPoint struct {
	Score        float64
	ExtractedAt  time.Time
	Participants []string
}

// overlapWindow bounds how far back a prior memory can be and still count
// toward delta detection (§4.8: "within 24h").
const overlapWindow = 24 * time.Hour

// DetectDelta compares current against the most recent prior point for
// overlapping participants within the 24h window and classifies the
// transition (§4.8). priors must be ordered newest-first; only the head
// of the slice that overlaps in participants and falls within the window
// is used as "the most recent prior score". Returns nil if no qualifying
// prior exists.
func DetectDelta(current model.Memory, now time.Time, priors []PriorMoodPoint) *model.MoodDelta {
	currentParticipants := toSet(current.ParticipantIDs())

	var prev *PriorMoodPoint
	for i := range priors {
		p := priors[i]
		if now.Sub(p.ExtractedAt) > overlapWindow {
			continue
		}
		if !overlaps(currentParticipants, p.Participants) {
			continue
		}
		prev = &priors[i]
		break
	}
	if prev == nil {
		return nil
	}

	if sustained(priors) {
		return nil
	}

	magnitude := current.MoodScore.Score - prev.Score
	absMagnitude := magnitude
	if absMagnitude < 0 {
		absMagnitude = -absMagnitude
	}
	elapsed := current.ExtractedAt.Sub(prev.ExtractedAt)

	direction := model.DeltaPositive
	if magnitude < 0 {
		direction = model.DeltaNegative
	}

	deltaType := classifyType(prev.Score, current.MoodScore.Score, absMagnitude, elapsed)
	significance := classifySignificance(absMagnitude)

	return &model.MoodDelta{
		PreviousScore: prev.Score,
		CurrentScore:  current.MoodScore.Score,
		Magnitude:     absMagnitude,
		Direction:     direction,
		Significance:  significance,
		Type:          deltaType,
		Confidence:    clamp01(current.MoodScore.Confidence),
		DetectedAt:    now,
	}
}

// classifyType applies the §4.8 precedence: repair and spike are checked
// before the generic sudden/gradual shape classification, since both can
// co-occur with a magnitude >= 2.0 move.
func classifyType(previous, current, absMagnitude float64, elapsed time.Duration) model.MoodDeltaType {
	switch {
	case previous < 4 && current >= 5:
		return model.DeltaRepair
	case current >= 8 && absMagnitude >= 2.0 && current > previous:
		return model.DeltaSpike
	case absMagnitude >= 2.0 && elapsed <= 30*time.Minute:
		return model.DeltaSudden
	case absMagnitude >= 2.0 && elapsed > 60*time.Minute:
		return model.DeltaGradual
	default:
		return model.DeltaGradual
	}
}

func classifySignificance(absMagnitude float64) model.MoodDeltaSignificance {
	switch {
	case absMagnitude >= 3.0:
		return model.DeltaHigh
	case absMagnitude >= 1.5:
		return model.DeltaMedium
	default:
		return model.DeltaLow
	}
}

// sustained reports whether the three most recent prior scores are all
// within +/-1 of each other, in which case §4.8 suppresses delta emission
// entirely regardless of the current score's movement.
func sustained(priors []PriorMoodPoint) bool {
	if len(priors) < 3 {
		return false
	}
	scores := []float64{priors[0].Score, priors[1].Score, priors[2].Score}
	min, max := scores[0], scores[0]
	for _, s := range scores[1:] {
		if s < min {
			min = s
		}
		if s > max {
			max = s
		}
	}
	return max-min <= 1.0
}

func overlaps(set map[string]bool, ids []string) bool {
	for _, id := range ids {
		if set[id] {
			return true
		}
	}
	return false
}

func toSet(ids []string) map[string]bool {
	set := make(map[string]bool, len(ids))
	for _, id := range ids {
		set[id] = true
	}
	return set
}
