// Package hashsim provides content-addressed hashing and cross-axis
// similarity scoring for extracted memories. Every function here is pure
// and deterministic: same inputs, same outputs, across process restarts.
package hashsim

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"

	"github.com/kioku-ai/kioku/internal/model"
)

// fieldSeparator delimits canonical-signature fields. 0x1F (unit separator)
// is a control character that ordinary summary text and mood/theme
// identifiers do not contain; NormalizeSummary does not strip it, so a
// summary that does contain it is not escaped.
const fieldSeparator = 0x1F

// ContentHash computes the SHA-256 hex digest of a Memory's canonical
// signature (§4.1): primary mood, sorted participant ids, normalized
// summary, sorted theme ids, joined by a 0x1F separator.
func ContentHash(primaryMood model.Mood, participantIDs []string, summary string, themes []model.Theme) string {
	sig := CanonicalSignature(primaryMood, participantIDs, summary, themes)
	sum := sha256.Sum256([]byte(sig))
	return hex.EncodeToString(sum[:])
}

// MemoryContentHash is a convenience wrapper over ContentHash for a Memory.
func MemoryContentHash(m model.Memory) string {
	return ContentHash(m.EmotionalContext.PrimaryMood, m.ParticipantIDs(), m.Summary, m.EmotionalContext.Themes)
}

// CanonicalSignature builds the ordered, separator-joined string that
// ContentHash digests. Exposed so callers can verify hash stability
// (hash(m) == hash(permute_themes(m)) == hash(normalize_whitespace(m)))
// without recomputing SHA-256 themselves.
func CanonicalSignature(primaryMood model.Mood, participantIDs []string, summary string, themes []model.Theme) string {
	parts := []string{
		string(primaryMood),
		joinSortedIDs(participantIDs),
		NormalizeSummary(summary),
		joinSortedThemes(themes),
	}
	return strings.Join(parts, string(rune(fieldSeparator)))
}

func joinSortedIDs(ids []string) string {
	sorted := append([]string(nil), ids...)
	sort.Strings(sorted)
	return strings.Join(sorted, ",")
}

func joinSortedThemes(themes []model.Theme) string {
	strs := make([]string, len(themes))
	for i, t := range themes {
		strs[i] = string(t)
	}
	sort.Strings(strs)
	return strings.Join(strs, ",")
}

// NormalizeSummary applies NFKC normalization, lowercasing, trimming, and
// internal whitespace collapsing, exactly the transform the content hash
// depends on for stability across equivalent renderings of the same text.
func NormalizeSummary(summary string) string {
	nfkc := norm.NFKC.String(summary)
	lower := strings.ToLower(nfkc)
	fields := strings.FieldsFunc(lower, unicode.IsSpace)
	return strings.Join(fields, " ")
}
