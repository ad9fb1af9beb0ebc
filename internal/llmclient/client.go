// Package llmclient is the pure request/response boundary to the
// extraction model. It knows nothing about prompts, batches, or parsing —
// it sends text, returns text, and classifies failures by kind so the
// retry controller can decide what to do about them.
package llmclient

import (
	"context"
	"errors"
	"net/http"
)

// ErrorClass is the category a call failure falls into. Callers branch on
// this, never on the underlying error type, so swapping HTTP providers
// never changes retry behavior.
type ErrorClass string

const (
	ClassAuth      ErrorClass = "auth"
	ClassRateLimit ErrorClass = "rateLimit"
	ClassServer5xx ErrorClass = "server5xx"
	ClassTimeout   ErrorClass = "timeout"
	ClassNetwork   ErrorClass = "network"
	ClassMalformed ErrorClass = "malformed"
	ClassOther     ErrorClass = "other"
)

// CallError wraps a classified failure from a Client.Call. RetryAfter is
// populated when the provider supplied a Retry-After hint (rateLimit only).
type CallError struct {
	Class      ErrorClass
	RetryAfter int // seconds; 0 if not supplied
	Err        error
}

func (e *CallError) Error() string {
	return "llmclient: " + string(e.Class) + ": " + e.Err.Error()
}

func (e *CallError) Unwrap() error { return e.Err }

// Classify reports whether err is a *CallError and, if not, maps common
// stdlib/context errors onto a class so upstream callers never need to
// type-switch on provider-specific error types.
func Classify(err error) ErrorClass {
	if err == nil {
		return ""
	}
	var ce *CallError
	if errors.As(err, &ce) {
		return ce.Class
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ClassTimeout
	}
	return ClassOther
}

// Usage reports token accounting for a single call, used to commit actual
// cost against the ratelimit.Ledger reservation.
type Usage struct {
	InputTokens  int
	OutputTokens int
}

// RawResponse is the untouched model output plus accounting metadata. C4
// is solely responsible for interpreting Content as JSON.
type RawResponse struct {
	Content string
	Usage   Usage
	Model   string
}

// Params configures a single call. Timeout defaults to 60s (§4.3) when
// zero.
type Params struct {
	Model       string
	Temperature float64
	MaxTokens   int
	Timeout     int // seconds; 0 means DefaultTimeoutSeconds
}

// DefaultTimeoutSeconds is applied when Params.Timeout is unset.
const DefaultTimeoutSeconds = 60

// Client is the single call boundary the rest of the pipeline depends on.
// Implementations must not retry internally — that's the retry
// controller's job (§4.6) — and must return a *CallError for every
// failure so Classify can route it.
type Client interface {
	Call(ctx context.Context, prompt string, params Params) (RawResponse, error)
}

// classifyHTTPStatus maps an HTTP status code to an ErrorClass, the way
// an HTTP-backed Client implementation should before wrapping a
// *CallError. It is unexported, so only transports inside this package
// share the status-to-class table.
func classifyHTTPStatus(status int) ErrorClass {
	switch {
	case status == http.StatusUnauthorized, status == http.StatusForbidden:
		return ClassAuth
	case status == http.StatusTooManyRequests:
		return ClassRateLimit
	case status >= 500:
		return ClassServer5xx
	default:
		return ClassOther
	}
}
