package pipeline

// Kind is the error taxonomy (§7), independent of which component raised
// the failure or which language/runtime mechanism carries it.
type Kind string

const (
	// KindBudgetExceeded is raised by the cost ledger (C2). Fatal:
	// drain in-flight work and stop accepting new batches.
	KindBudgetExceeded Kind = "BudgetExceeded"
	// KindAuthError is raised by the LLM client (C3). Fatal.
	KindAuthError Kind = "AuthError"
	// KindRateLimited is raised by the LLM client (C3). Retried per §4.6.
	KindRateLimited Kind = "RateLimited"
	// KindTransportError covers server5xx/timeout/network failures from
	// the LLM client (C3). Retried per §4.6.
	KindTransportError Kind = "TransportError"
	// KindParseError covers PARSE_FAIL/SCHEMA_FAIL from the response
	// parser (C4). Re-requested up to 2x with a tightened prompt, else
	// the batch is marked failed.
	KindParseError Kind = "ParseError"
	// KindOversizeError is raised when a batch's response can't fit a
	// single request (C4/C3). The batch is split and resubmitted.
	KindOversizeError Kind = "OversizeError"
	// KindValidationError covers an out-of-range or missing-required
	// candidate field (C4/C7). The memory is dropped; the reason is
	// recorded, the rest of the batch proceeds.
	KindValidationError Kind = "ValidationError"
	// KindDedupConflict is raised on a concurrent upsert of the same
	// content hash (C10). The caller re-reads and merges.
	KindDedupConflict Kind = "DedupConflict"
)

// Fatal reports whether a Kind stops the pipeline from accepting new work
// (§7): only budget and auth errors qualify.
func (k Kind) Fatal() bool {
	return k == KindBudgetExceeded || k == KindAuthError
}

// Error wraps a Kind with a scope-appropriate message. Kind alone is
// enough for callers to branch on; Error satisfies the error interface
// for normal Go error-handling idioms.
type Error struct {
	Kind    Kind
	Message string
}

func (e *Error) Error() string {
	return string(e.Kind) + ": " + e.Message
}
