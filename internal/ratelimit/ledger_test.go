package ratelimit_test

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kioku-ai/kioku/internal/ratelimit"
)

func TestLedger_ReserveWithinBudget(t *testing.T) {
	l := ratelimit.NewLedger(10)
	require.NoError(t, l.Reserve(4))

	u := l.Usage()
	assert.Equal(t, 4.0, u.Reserved)
	assert.Equal(t, 6.0, u.Remaining)
}

func TestLedger_ReserveOverBudgetFails(t *testing.T) {
	l := ratelimit.NewLedger(5)
	require.NoError(t, l.Reserve(5))
	assert.ErrorIs(t, l.Reserve(0.01), ratelimit.ErrBudgetExceeded)
}

func TestLedger_CommitReplacesReservationWithActual(t *testing.T) {
	l := ratelimit.NewLedger(10)
	require.NoError(t, l.Reserve(3))
	l.Commit(3, 5) // actual cost ran higher than estimate

	u := l.Usage()
	assert.Equal(t, 0.0, u.Reserved)
	assert.Equal(t, 5.0, u.Committed)
	assert.Equal(t, 5.0, u.Remaining)
}

func TestLedger_ReleaseFreesReservation(t *testing.T) {
	l := ratelimit.NewLedger(10)
	require.NoError(t, l.Reserve(4))
	l.Release(4)

	u := l.Usage()
	assert.Equal(t, 0.0, u.Reserved)
	assert.Equal(t, 10.0, u.Remaining)
}

func TestLedger_UnlimitedCapNeverRejects(t *testing.T) {
	l := ratelimit.NewLedger(0)
	require.NoError(t, l.Reserve(1_000_000))
	assert.True(t, math.IsInf(l.Usage().Remaining, 1))
}
