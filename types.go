package kioku

import "time"

// Role mirrors a participant's relationship to the conversation owner.
type Role string

const (
	RolePartner      Role = "partner"
	RoleFamily       Role = "family"
	RoleFriend       Role = "friend"
	RoleColleague    Role = "colleague"
	RoleProfessional Role = "professional"
	RoleSelf         Role = "self"
)

// ValidationState is a memory's position in the auto-confirmation lifecycle.
type ValidationState string

const (
	ValidationPending       ValidationState = "pending"
	ValidationAutoApproved  ValidationState = "auto-approved"
	ValidationNeedsReview   ValidationState = "needs-review"
	ValidationAutoRejected  ValidationState = "auto-rejected"
	ValidationHumanApproved ValidationState = "human-approved"
	ValidationHumanRejected ValidationState = "human-rejected"
)

// Message is the public representation of a consumed conversational message.
// It is a curated view of internal/model.Message for use in extension
// interfaces — no internal package imports, safe to use from outside the
// module.
type Message struct {
	ID             string
	ConversationID string
	AuthorID       string
	Timestamp      time.Time
	Text           string
}

// Participant is a curated view of internal/model.Participant.
type Participant struct {
	ID          string
	DisplayName string
	Role        Role
}

// Memory is the public representation of an extracted emotional memory. It
// is a curated view of internal/model.Memory: the fields a consumer of
// NextForReview/SubmitFeedback or an EventHook needs, without exposing the
// full nested scoring internals.
type Memory struct {
	ID               string
	SourceMessageIDs []string
	Participants     []Participant
	Summary          string
	Confidence       float64
	Significance     float64
	MoodScore        float64
	Validation       ValidationState
	ContentHash      string
	ExtractedAt      time.Time
}

// ParticipantIDs returns the ids of the memory's participants.
func (m Memory) ParticipantIDs() []string {
	ids := make([]string, 0, len(m.Participants))
	for _, p := range m.Participants {
		ids = append(ids, p.ID)
	}
	return ids
}

// BatchOutcome reports what happened to one processed batch, for
// EventHook.OnBatchOutcome.
type BatchOutcome struct {
	BatchID           string
	Status            string // "completed" or "failed"
	ErrorClass        string
	MemoriesExtracted int
	SpentUSD          float64
}

// Feedback is a human review decision fed back into adaptive-threshold
// learning via SubmitFeedback.
type Feedback struct {
	MemoryID         string
	OriginalDecision ValidationState
	HumanDecision    ValidationState // ValidationHumanApproved or ValidationHumanRejected
}

// ProgressSnapshot is a point-in-time read of the orchestrator's counters.
type ProgressSnapshot struct {
	BatchesCompleted  int64
	BatchesFailed     int64
	MemoriesExtracted int64
	AverageConfidence float64
	AutoApproved      int64
	NeedsReview       int64
	AutoRejected      int64
	SpentUSD          float64
	Stopped           bool
}

// LLMParams carries the per-call tunables passed to an LLMClient.
type LLMParams struct {
	Model       string
	Temperature float64
	MaxTokens   int
	Timeout     int // seconds
}

// LLMUsage reports token consumption for one LLM call, used to update the
// cost ledger.
type LLMUsage struct {
	InputTokens  int
	OutputTokens int
}

// LLMResponse is the raw text and usage returned by an LLMClient call,
// before C4's prompt/response parser runs over it.
type LLMResponse struct {
	Content string
	Usage   LLMUsage
}
