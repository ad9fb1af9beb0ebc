// Package prompt builds deterministic extraction prompts from message
// batches and tolerantly parses the model's JSON response back into
// memory candidates.
package prompt

import (
	"fmt"
	"sort"
	"strings"

	"github.com/kioku-ai/kioku/internal/model"
)

// Version identifies the prompt template in use. Embedded in every
// extracted Memory's metadata so a later change to section wording or
// output schema doesn't retroactively confuse provenance.
const Version = "v1"

const analysisDirective = `Analyze the conversation window above and, for each distinct emotionally
significant episode you find, extract a memory. For every memory report:
  - primary mood and intensity
  - themes (recurring topics or life events)
  - relationship dynamics (closeness, tension, supportiveness)
  - evidence excerpts quoting the supporting messages
  - your confidence in this extraction, from 0 to 1

If nothing in the window is emotionally significant, return an empty list.`

const schemaStanza = `Respond with a single JSON object and nothing else:
{
  "memories": [
    {
      "summary": string,
      "emotional_context": {
        "primary_mood": "positive"|"negative"|"neutral"|"mixed"|"ambiguous",
        "intensity": number (1-10),
        "valence": number (-1 to 1),
        "themes": [string]
      },
      "relationship_dynamics": {
        "closeness": number (1-10),
        "tension": number (1-10),
        "supportiveness": number (1-10),
        "connection_strength": number (0-1)
      },
      "mood_score": { "score": number (0-10), "confidence": number (0-1) },
      "evidence": [{ "source_message_id": string, "excerpt": string, "relevance": number (0-1) }],
      "confidence": number (0-1)
    }
  ]
}
Omit any field you cannot determine; do not fabricate values. Do not include
contentHash, validation, or extractedAt — those are computed, not extracted.`

// Build assembles the four fixed-order sections (§4.4): participant
// roster, conversation window, analysis directive, output-schema stanza.
// The result is a pure function of batch.Messages and participants —
// same inputs always produce the same prompt text, which is what makes
// Version meaningful as a reproducibility marker.
func Build(batch model.Batch, participants []model.Participant) string {
	var b strings.Builder

	b.WriteString("## Participants\n")
	for _, p := range rosterSorted(participants) {
		fmt.Fprintf(&b, "- %s", p.ID)
		if p.DisplayName != "" {
			fmt.Fprintf(&b, " (%s)", p.DisplayName)
		}
		if p.Role != "" {
			fmt.Fprintf(&b, " [%s]", p.Role)
		}
		b.WriteString("\n")
	}

	b.WriteString("\n## Conversation\n")
	for _, m := range batch.Messages {
		fmt.Fprintf(&b, "%s — %s: %s\n", m.Timestamp.UTC().Format("2006-01-02T15:04:05Z"), m.AuthorID, m.Text)
	}

	b.WriteString("\n## Task\n")
	b.WriteString(analysisDirective)
	b.WriteString("\n\n## Output format\n")
	b.WriteString(schemaStanza)

	return b.String()
}

// TightenedPrompt appends the retry-controller's schema-compliance nudge
// (§4.6: PARSE_FAIL/SCHEMA_FAIL retry strategy) to an already-built
// prompt, rather than rebuilding it from scratch.
func TightenedPrompt(original string) string {
	return original + "\n\nReturn only valid JSON matching the schema above."
}

// rosterSorted returns participants ordered by id so the roster section
// of the prompt is stable across calls with the same input set.
func rosterSorted(participants []model.Participant) []model.Participant {
	out := append([]model.Participant(nil), participants...)
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// RosterFromMessages derives the distinct-author participant roster from
// a batch's messages when no richer Participant records are available
// (display name and role default empty).
func RosterFromMessages(messages []model.Message) []model.Participant {
	seen := make(map[string]bool)
	var out []model.Participant
	for _, m := range messages {
		if seen[m.AuthorID] {
			continue
		}
		seen[m.AuthorID] = true
		out = append(out, model.Participant{ID: m.AuthorID})
	}
	return out
}
