// Package retry selects and executes the per-error-class recovery strategy
// (§4.6) that wraps any pipeline stage liable to fail transiently: waiting
// out a rate limit, retrying a transport fault, tightening a prompt after a
// parse failure, or shrinking an oversize batch. It never decides whether a
// failure is fatal — that's the error class itself (§7) — only how many
// times, and with what backoff, a retriable class gets another attempt.
package retry

import (
	"context"
	"math/rand/v2"
	"time"

	"github.com/kioku-ai/kioku/internal/llmclient"
)

// Class identifies the error taxonomy bucket (§7) a failure falls into,
// independent of which component raised it.
type Class string

const (
	ClassRateLimit    Class = "rateLimit"
	ClassServer5xx    Class = "server5xx"
	ClassTimeout      Class = "timeout"
	ClassNetwork      Class = "network"
	ClassParseFail    Class = "PARSE_FAIL"
	ClassSchemaFail   Class = "SCHEMA_FAIL"
	ClassOversize     Class = "oversize"
	ClassAuth         Class = "auth"
	ClassBudget       Class = "BUDGET_EXCEEDED"
	ClassOther        Class = "other"
)

// FromLLMClass maps an llmclient.ErrorClass onto the retry taxonomy. Classes
// with no llmclient equivalent (ClassParseFail, ClassOversize, ClassBudget)
// are produced directly by C4/C2/C11, never derived here.
func FromLLMClass(c llmclient.ErrorClass) Class {
	switch c {
	case llmclient.ClassAuth:
		return ClassAuth
	case llmclient.ClassRateLimit:
		return ClassRateLimit
	case llmclient.ClassServer5xx:
		return ClassServer5xx
	case llmclient.ClassTimeout:
		return ClassTimeout
	case llmclient.ClassNetwork:
		return ClassNetwork
	default:
		return ClassOther
	}
}

// Strategy is the recovery behavior assigned to one error class (§4.6 table).
type Strategy struct {
	MaxAttempts int // additional attempts beyond the first; 0 means fatal, no retry
	BaseBackoff time.Duration
	CapBackoff  time.Duration
	JitterFrac  float64 // +/- fraction of the computed backoff
}

// Table is the §4.6 strategy assignment. Classes absent from the table
// (ClassAuth, ClassBudget, ClassOther) are fatal: MaxAttempts 0.
var Table = map[Class]Strategy{
	ClassRateLimit:  {MaxAttempts: 6, BaseBackoff: time.Second, CapBackoff: 60 * time.Second, JitterFrac: 0.20},
	ClassServer5xx:  {MaxAttempts: 4, BaseBackoff: time.Second, CapBackoff: 30 * time.Second, JitterFrac: 0.20},
	ClassTimeout:    {MaxAttempts: 4, BaseBackoff: time.Second, CapBackoff: 30 * time.Second, JitterFrac: 0.20},
	ClassNetwork:    {MaxAttempts: 4, BaseBackoff: time.Second, CapBackoff: 30 * time.Second, JitterFrac: 0.20},
	ClassParseFail:  {MaxAttempts: 2},
	ClassSchemaFail: {MaxAttempts: 2},
	ClassOversize:   {MaxAttempts: 1},
}

// StrategyFor returns the configured Strategy for a class, or the zero
// Strategy (fatal, no retry) if the class isn't in the table.
func StrategyFor(c Class) Strategy {
	return Table[c]
}

// Fatal reports whether a class stops new pipeline work outright (§7:
// only BudgetExceeded, AuthError, and Cancelled do this; ClassOther is
// fatal to its own batch but not to the pipeline as a whole).
func Fatal(c Class) bool {
	return c == ClassAuth || c == ClassBudget
}

// Backoff computes the jittered exponential delay for a given attempt
// (0-indexed: the delay before the *second* try is Backoff(s, 0)).
func Backoff(s Strategy, attempt int, retryAfterSeconds int) time.Duration {
	if retryAfterSeconds > 0 {
		return time.Duration(retryAfterSeconds) * time.Second
	}
	if s.BaseBackoff <= 0 {
		return 0
	}
	d := s.BaseBackoff * time.Duration(1<<attempt)
	if s.CapBackoff > 0 && d > s.CapBackoff {
		d = s.CapBackoff
	}
	if s.JitterFrac > 0 {
		jitter := float64(d) * s.JitterFrac
		// Symmetric jitter in [-jitter, +jitter].
		d += time.Duration((rand.Float64()*2 - 1) * jitter)
		if d < 0 {
			d = 0
		}
	}
	return d
}

// Sleep blocks for d or until ctx is cancelled, whichever comes first
// (§5: "retry backoff sleeps are interruptible").
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Outcome is what a Run loop reports back to its caller once it stops
// retrying, whether because it succeeded or exhausted its attempts.
type Outcome struct {
	Attempts int
	Class    Class // zero value if the final attempt succeeded
}

// Run drives fn through the §4.6 attempt/backoff loop for a single error
// class. fn returns (retryAfterSeconds, error); a nil error ends the loop
// successfully. Run does not itself decide the class per attempt — classify
// is called on every non-nil error so a transport call that starts as
// ClassServer5xx and later degrades to ClassTimeout still gets the right
// per-class attempt count reset by the caller if it wants that; Run simply
// follows whatever classify returns each time against the Table.
func Run(ctx context.Context, classify func(error) Class, fn func(attempt int) (retryAfterSeconds int, err error)) (Outcome, error) {
	var lastErr error
	for attempt := 0; ; attempt++ {
		retryAfter, err := fn(attempt)
		if err == nil {
			return Outcome{Attempts: attempt + 1}, nil
		}
		lastErr = err
		class := classify(err)
		strategy := StrategyFor(class)
		if attempt >= strategy.MaxAttempts {
			return Outcome{Attempts: attempt + 1, Class: class}, lastErr
		}
		if err := Sleep(ctx, Backoff(strategy, attempt, retryAfter)); err != nil {
			return Outcome{Attempts: attempt + 1, Class: class}, err
		}
	}
}
