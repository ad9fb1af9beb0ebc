// Package model holds the core data types shared by every stage of the
// memory processing pipeline: messages in, memories out, and the
// intermediate batch/score/delta types that connect the stages.
package model

import (
	"time"

	"github.com/google/uuid"
)

// Message is an immutable, time-ordered conversational message supplied by
// the upstream message store. The core never mutates a Message.
type Message struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	AuthorID       string    `json:"author_id"`
	Timestamp      time.Time `json:"timestamp"`
	Text           string    `json:"text"`
}

// Role enumerates a participant's relationship to the conversation owner.
type Role string

const (
	RolePartner      Role = "partner"
	RoleFamily       Role = "family"
	RoleFriend       Role = "friend"
	RoleColleague    Role = "colleague"
	RoleProfessional Role = "professional"
	RoleSelf         Role = "self"
	RoleOther        Role = "other"
)

// Participant is a speaker in a conversation.
type Participant struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	Role        Role   `json:"role"`
}

// Mood enumerates the primary emotional tone of an episode.
type Mood string

const (
	MoodPositive  Mood = "positive"
	MoodNegative  Mood = "negative"
	MoodNeutral   Mood = "neutral"
	MoodMixed     Mood = "mixed"
	MoodAmbiguous Mood = "ambiguous"
)

// Theme identifies a recurring emotional or life-event topic.
type Theme string

// EmotionalMarker is a phrase the extractor flagged as emotionally salient,
// with a strength in [0,1].
type EmotionalMarker struct {
	Phrase   string  `json:"phrase"`
	Strength float64 `json:"strength"`
}

// Event is a contextual life event referenced by a conversation window.
type Event struct {
	Description string    `json:"description"`
	OccurredAt  time.Time `json:"occurred_at,omitempty"`
}

// Pattern is a recurring temporal or communication pattern observed across
// messages (e.g. "late-night check-ins", "apology then silence").
type Pattern struct {
	Description string `json:"description"`
}

// EmotionalContext captures the affective content of an extracted episode.
type EmotionalContext struct {
	PrimaryMood       Mood              `json:"primary_mood"`
	Intensity         float64           `json:"intensity"` // [1,10]
	Valence           float64           `json:"valence"`   // [-1,1]
	Themes            []Theme           `json:"themes"`
	EmotionalMarkers  []EmotionalMarker `json:"emotional_markers"`
	ContextualEvents  []Event           `json:"contextual_events"`
	TemporalPatterns  []Pattern         `json:"temporal_patterns"`
}

// InteractionQuality summarizes the overall tenor of an interaction.
type InteractionQuality string

const (
	InteractionPositive InteractionQuality = "positive"
	InteractionNeutral  InteractionQuality = "neutral"
	InteractionNegative InteractionQuality = "negative"
	InteractionMixed    InteractionQuality = "mixed"
)

// RelationshipDynamics captures the relational texture of an episode.
type RelationshipDynamics struct {
	Closeness            float64             `json:"closeness"`    // [1,10]
	Tension              float64             `json:"tension"`      // [1,10]
	Supportiveness       float64             `json:"supportiveness"` // [1,10]
	CommunicationPatterns []Pattern          `json:"communication_patterns"`
	InteractionQuality   InteractionQuality  `json:"interaction_quality"`
	ConnectionStrength   float64             `json:"connection_strength"` // [0,1]
}

// MoodFactorType classifies a contributor to a MoodScore.
type MoodFactorType string

const (
	FactorSentiment     MoodFactorType = "sentiment"
	FactorPsychological MoodFactorType = "psychological"
	FactorRelational    MoodFactorType = "relational"
	FactorConversational MoodFactorType = "conversational"
	FactorBaseline      MoodFactorType = "baseline"
)

// MoodFactor is one weighted contributor to a MoodScore, with supporting
// evidence excerpts for traceability.
type MoodFactor struct {
	Type     MoodFactorType `json:"type"`
	Weight   float64        `json:"weight"` // [0,1]
	Evidence []string       `json:"evidence"`
}

// MoodDeltaDirection is the sign of a mood change.
type MoodDeltaDirection string

const (
	DeltaPositive MoodDeltaDirection = "positive"
	DeltaNegative MoodDeltaDirection = "negative"
)

// MoodDeltaSignificance classifies how notable a mood change is.
type MoodDeltaSignificance string

const (
	DeltaLow    MoodDeltaSignificance = "low"
	DeltaMedium MoodDeltaSignificance = "medium"
	DeltaHigh   MoodDeltaSignificance = "high"
)

// MoodDeltaType classifies the shape of a mood transition.
type MoodDeltaType string

const (
	DeltaSudden    MoodDeltaType = "sudden"
	DeltaGradual   MoodDeltaType = "gradual"
	DeltaRepair    MoodDeltaType = "repair"
	DeltaSpike     MoodDeltaType = "spike"
	DeltaSustained MoodDeltaType = "sustained"
)

// MoodDelta describes a detected change in mood between two consecutive
// memories for overlapping participants.
type MoodDelta struct {
	PreviousScore float64               `json:"previous_score"`
	CurrentScore  float64               `json:"current_score"`
	Magnitude     float64               `json:"magnitude"`
	Direction     MoodDeltaDirection    `json:"direction"`
	Significance  MoodDeltaSignificance `json:"significance"`
	Type          MoodDeltaType         `json:"type"`
	Confidence    float64               `json:"confidence"`
	DetectedAt    time.Time             `json:"detected_at"`
}

// MoodScore is the extractor's assessment of the episode's overall mood.
type MoodScore struct {
	Score       float64      `json:"score"` // [0,10]
	Confidence  float64      `json:"confidence"` // [0,1]
	Descriptors []string     `json:"descriptors"`
	Factors     []MoodFactor `json:"factors"`
	Delta       *MoodDelta   `json:"delta,omitempty"`
}

// EvidenceItem links a Memory claim back to the source message that
// supports it.
type EvidenceItem struct {
	SourceMessageID string  `json:"source_message_id"`
	Excerpt         string  `json:"excerpt"`
	Relevance       float64 `json:"relevance"` // [0,1]
}

// SignificanceCategory buckets an overall significance score.
type SignificanceCategory string

const (
	SignificanceLow      SignificanceCategory = "low"
	SignificanceMedium   SignificanceCategory = "medium"
	SignificanceHigh     SignificanceCategory = "high"
	SignificanceCritical SignificanceCategory = "critical"
)

// SignificanceComponents are the four weighted factors behind an overall
// significance score.
type SignificanceComponents struct {
	EmotionalSalience    float64 `json:"emotional_salience"`
	RelationshipImpact   float64 `json:"relationship_impact"`
	ContextualImportance float64 `json:"contextual_importance"`
	TemporalRelevance    float64 `json:"temporal_relevance"`
}

// SignificanceScore is the output of the significance analyzer (C8).
type SignificanceScore struct {
	Overall           float64                 `json:"overall"` // [0,10]
	Components        SignificanceComponents  `json:"components"`
	Category          SignificanceCategory    `json:"category"`
	ValidationPriority float64                `json:"validation_priority"` // [0,10]
	Confidence        float64                 `json:"confidence"`          // [0,1]
}

// SignificanceWeights are the coefficients applied to SignificanceComponents
// to compute Overall. Must sum to 1.
type SignificanceWeights struct {
	EmotionalSalience    float64
	RelationshipImpact   float64
	ContextualImportance float64
	TemporalRelevance    float64
}

// DefaultSignificanceWeights matches spec defaults (0.30/0.30/0.20/0.20).
func DefaultSignificanceWeights() SignificanceWeights {
	return SignificanceWeights{
		EmotionalSalience:    0.30,
		RelationshipImpact:   0.30,
		ContextualImportance: 0.20,
		TemporalRelevance:    0.20,
	}
}

// ValidationState is a Memory's position in the auto-confirmation state
// machine (C9).
type ValidationState string

const (
	ValidationPending        ValidationState = "pending"
	ValidationAutoApproved   ValidationState = "auto-approved"
	ValidationNeedsReview    ValidationState = "needs-review"
	ValidationAutoRejected   ValidationState = "auto-rejected"
	ValidationHumanApproved  ValidationState = "human-approved"
	ValidationHumanRejected  ValidationState = "human-rejected"
)

// validationRank orders states for the dedup merge rule (§4.10): the
// strictest of two states wins a merge. Rejections are not ranked here —
// callers must check IsRejected first, since a merge with a rejected side
// is blocked outright rather than resolved by rank.
var validationRank = map[ValidationState]int{
	ValidationPending:       0,
	ValidationNeedsReview:   1,
	ValidationAutoApproved:  2,
	ValidationHumanApproved: 3,
}

// IsRejected reports whether a validation state is a terminal rejection.
func (v ValidationState) IsRejected() bool {
	return v == ValidationAutoRejected || v == ValidationHumanRejected
}

// Stricter returns the stricter (higher-ranked) of two non-rejected
// validation states. Callers must check IsRejected on both inputs first.
func Stricter(a, b ValidationState) ValidationState {
	if validationRank[a] >= validationRank[b] {
		return a
	}
	return b
}

// MemoryMetadata records the provenance of an extracted Memory.
type MemoryMetadata struct {
	Model         string   `json:"model"`
	PromptVersion string   `json:"prompt_version"`
	BatchID       string   `json:"batch_id"`
	MergedFrom    []string `json:"merged_from,omitempty"`
}

// Memory is the immutable (after write) output record of the pipeline.
// A merge (§4.10) produces a new Memory superseding its originals rather
// than mutating one in place.
type Memory struct {
	ID                   string               `json:"id"`
	SourceMessageIDs     []string             `json:"source_message_ids"`
	Participants         []Participant        `json:"participants"`
	EmotionalContext     EmotionalContext     `json:"emotional_context"`
	RelationshipDynamics RelationshipDynamics `json:"relationship_dynamics"`
	MoodScore            MoodScore            `json:"mood_score"`
	Significance         SignificanceScore    `json:"significance"`
	Summary              string               `json:"summary"`
	Evidence             []EvidenceItem       `json:"evidence"`
	Confidence           float64              `json:"confidence"` // [0,1]
	Validation           ValidationState      `json:"validation"`
	ContentHash          string               `json:"content_hash"` // hex SHA-256, 64 chars
	ExtractedAt          time.Time            `json:"extracted_at"`
	Metadata             MemoryMetadata       `json:"metadata"`

	// Embedding is an optional summary vector used to accelerate §4.10
	// candidate lookup beyond the participant/temporal window scan. Nil
	// when no embedding provider is configured; never consulted by the
	// §4.1 similarity formulas themselves.
	Embedding []float32 `json:"embedding,omitempty"`
}

// ParticipantIDs returns the ids of the memory's participants in the order
// the participants are listed; the ids are neither sorted nor deduplicated.
func (m Memory) ParticipantIDs() []string {
	ids := make([]string, 0, len(m.Participants))
	for _, p := range m.Participants {
		ids = append(ids, p.ID)
	}
	return ids
}

// PriorityMode selects how the batch builder orders emitted batches.
type PriorityMode string

const (
	PriorityQuality    PriorityMode = "quality"
	PriorityThroughput PriorityMode = "throughput"
	PriorityCost       PriorityMode = "cost"
)

// Batch is an immutable, ordered, non-empty group of messages submitted as
// one LLM request.
type Batch struct {
	ID                 string    `json:"id"`
	ConversationID     string    `json:"conversation_id"`
	Messages           []Message `json:"messages"`
	EstimatedCostTokens int      `json:"estimated_cost_tokens"`
	PriorityScore      float64   `json:"priority_score"`
	WindowStart        time.Time `json:"window_start"`
	WindowEnd          time.Time `json:"window_end"`
}

// ThresholdConfig holds the three auto-confirmation cut points. The
// invariant autoReject < reviewLower <= autoApprove must hold after every
// update (§4.9, §8).
type ThresholdConfig struct {
	AutoApprove float64 `json:"auto_approve"`
	AutoReject  float64 `json:"auto_reject"`
	ReviewLower float64 `json:"review_lower"`
	Version     int64   `json:"version"` // optimistic-concurrency counter (§6 writeThresholds CAS)
}

// DefaultThresholds matches the spec's §6 configuration defaults.
func DefaultThresholds() ThresholdConfig {
	return ThresholdConfig{AutoApprove: 0.75, AutoReject: 0.30, ReviewLower: 0.50, Version: 1}
}

// Valid reports whether the threshold ordering invariant holds.
func (t ThresholdConfig) Valid() bool {
	return t.AutoReject < t.ReviewLower && t.ReviewLower <= t.AutoApprove
}

// NewID generates a random identifier for entities that don't derive their
// id from content (Batch.ID, Memory.ID before a content hash is known).
func NewID() string {
	return uuid.NewString()
}
