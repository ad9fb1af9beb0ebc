package prompt

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/kioku-ai/kioku/internal/model"
)

// ParseOutcome classifies how a Parse attempt concluded. The parser never
// panics or returns a Go error on malformed model output — a ParseResult
// with Outcome set is the only failure channel, so callers don't need a
// try/catch shape around every LLM response.
type ParseOutcome string

const (
	OutcomeOK          ParseOutcome = "ok"
	OutcomeParseFail   ParseOutcome = "PARSE_FAIL"
	OutcomeSchemaFail  ParseOutcome = "SCHEMA_FAIL"
)

// ParseResult is the sum type §4.4 describes: exactly one of Candidates
// (on OutcomeOK) or Reason (otherwise) is meaningful.
type ParseResult struct {
	Outcome    ParseOutcome
	Candidates []CandidateMemory
	Reason     string
}

// CandidateMemory is the raw, not-yet-validated shape of one extracted
// memory straight off the wire: every field optional, ranges unchecked.
// C7/C8 and model.Memory construction are downstream of this.
type CandidateMemory struct {
	Summary          string                  `json:"summary"`
	EmotionalContext candidateEmotional      `json:"emotional_context"`
	Relationship     candidateRelationship   `json:"relationship_dynamics"`
	MoodScore        candidateMoodScore      `json:"mood_score"`
	Evidence         []candidateEvidence     `json:"evidence"`
	Confidence       *float64                `json:"confidence"`
}

type candidateEmotional struct {
	PrimaryMood string   `json:"primary_mood"`
	Intensity   float64  `json:"intensity"`
	Valence     float64  `json:"valence"`
	Themes      []string `json:"themes"`
}

type candidateRelationship struct {
	Closeness          float64 `json:"closeness"`
	Tension            float64 `json:"tension"`
	Supportiveness     float64 `json:"supportiveness"`
	ConnectionStrength float64 `json:"connection_strength"`
}

type candidateMoodScore struct {
	Score      float64 `json:"score"`
	Confidence float64 `json:"confidence"`
}

type candidateEvidence struct {
	SourceMessageID string  `json:"source_message_id"`
	Excerpt         string  `json:"excerpt"`
	Relevance       float64 `json:"relevance"`
}

type extractionResponse struct {
	Memories []CandidateMemory `json:"memories"`
}

// Parse strips leading/trailing non-JSON noise, extracts the outermost
// balanced {...} object, and unmarshals it against the extraction
// schema. It never returns a Go error; malformed input surfaces as a
// ParseResult with OutcomeParseFail or OutcomeSchemaFail.
func Parse(raw string) ParseResult {
	obj, ok := extractOutermostObject(raw)
	if !ok {
		return ParseResult{Outcome: OutcomeParseFail, Reason: "no balanced JSON object found in response"}
	}

	var resp extractionResponse
	if err := json.Unmarshal([]byte(obj), &resp); err != nil {
		return ParseResult{Outcome: OutcomeParseFail, Reason: "json unmarshal: " + err.Error()}
	}

	for i, c := range resp.Memories {
		if reason, ok := validateCandidate(c); !ok {
			return ParseResult{Outcome: OutcomeSchemaFail, Reason: "memory " + strconv.Itoa(i) + ": " + reason}
		}
	}

	return ParseResult{Outcome: OutcomeOK, Candidates: resp.Memories}
}

// validateCandidate checks the required-field/range constraints §4.4
// assigns to C4 (missing required field or out-of-range value is
// SCHEMA_FAIL, not PARSE_FAIL — the JSON itself was well-formed).
func validateCandidate(c CandidateMemory) (string, bool) {
	if strings.TrimSpace(c.Summary) == "" {
		return "summary is required", false
	}
	if c.EmotionalContext.PrimaryMood == "" {
		return "emotional_context.primary_mood is required", false
	}
	switch model.Mood(c.EmotionalContext.PrimaryMood) {
	case model.MoodPositive, model.MoodNegative, model.MoodNeutral, model.MoodMixed, model.MoodAmbiguous:
	default:
		return "emotional_context.primary_mood is not a recognized mood", false
	}
	if c.EmotionalContext.Intensity < 1 || c.EmotionalContext.Intensity > 10 {
		return "emotional_context.intensity out of range [1,10]", false
	}
	if c.Confidence != nil && (*c.Confidence < 0 || *c.Confidence > 1) {
		return "confidence out of range [0,1]", false
	}
	return "", true
}

// extractOutermostObject finds the first '{' and its matching '}' by
// bracket-depth counting, ignoring braces inside JSON string literals so
// text like {"excerpt": "he said \"ok\""} doesn't confuse the scan.
func extractOutermostObject(s string) (string, bool) {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return "", false
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1], true
			}
		}
	}
	return "", false
}
