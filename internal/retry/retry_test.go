package retry_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kioku-ai/kioku/internal/retry"
)

func TestRun_SucceedsAfterTransientRetries(t *testing.T) {
	attempts := 0
	outcome, err := retry.Run(context.Background(),
		func(error) retry.Class { return retry.ClassServer5xx },
		func(attempt int) (int, error) {
			attempts++
			if attempt < 2 {
				return 0, errors.New("boom")
			}
			return 0, nil
		})
	require.NoError(t, err)
	assert.Equal(t, 3, outcome.Attempts)
	assert.Equal(t, 3, attempts)
}

func TestRun_FatalClassNeverRetries(t *testing.T) {
	attempts := 0
	_, err := retry.Run(context.Background(),
		func(error) retry.Class { return retry.ClassAuth },
		func(int) (int, error) {
			attempts++
			return 0, errors.New("unauthorized")
		})
	require.Error(t, err)
	assert.Equal(t, 1, attempts)
}

func TestRun_ExhaustsMaxAttempts(t *testing.T) {
	attempts := 0
	outcome, err := retry.Run(context.Background(),
		func(error) retry.Class { return retry.ClassOversize },
		func(int) (int, error) {
			attempts++
			return 0, errors.New("too big")
		})
	require.Error(t, err)
	assert.Equal(t, retry.ClassOversize, outcome.Class)
	// MaxAttempts=1 means one retry beyond the first try.
	assert.Equal(t, 2, attempts)
}

func TestFatal(t *testing.T) {
	assert.True(t, retry.Fatal(retry.ClassAuth))
	assert.True(t, retry.Fatal(retry.ClassBudget))
	assert.False(t, retry.Fatal(retry.ClassServer5xx))
}

func TestBackoff_RetryAfterOverridesExponential(t *testing.T) {
	s := retry.StrategyFor(retry.ClassRateLimit)
	d := retry.Backoff(s, 5, 7)
	assert.Equal(t, int64(7), d.Milliseconds()/1000)
}
