package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errNotVisible = errors.New("record not visible")

func TestDoSucceedsAfterTransientFailures(t *testing.T) {
	calls := 0
	var notified []int
	p := Fixed(5, time.Millisecond)
	p.OnRetry = func(attempt int, _ error, _ time.Duration) { notified = append(notified, attempt) }

	got, err := Do(context.Background(), p, func(context.Context) (string, error) {
		calls++
		if calls < 3 {
			return "", errNotVisible
		}
		return "CA123", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "CA123", got)
	assert.Equal(t, 3, calls)
	assert.Equal(t, []int{1, 2}, notified)
}

func TestDoExhaustsAttempts(t *testing.T) {
	calls := 0
	_, err := Do(context.Background(), Fixed(4, time.Millisecond), func(context.Context) (int, error) {
		calls++
		return 0, errNotVisible
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrExhausted)
	assert.ErrorIs(t, err, errNotVisible)
	assert.Equal(t, 4, calls)
}

func TestDoStopsOnNonRetryable(t *testing.T) {
	fatal := errors.New("connection refused")
	calls := 0
	p := Fixed(5, time.Millisecond)
	p.Retryable = func(err error) bool { return errors.Is(err, errNotVisible) }

	_, err := Do(context.Background(), p, func(context.Context) (int, error) {
		calls++
		return 0, fatal
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, fatal)
	assert.NotErrorIs(t, err, ErrExhausted)
	assert.Equal(t, 1, calls)
}

func TestDoHonorsInitialDelayCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	calls := 0
	_, err := Do(ctx, Policy{Attempts: 3, Delay: time.Millisecond, InitialDelay: time.Hour}, func(context.Context) (int, error) {
		calls++
		return 1, nil
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, calls)
}

func TestDoExponentialPolicy(t *testing.T) {
	calls := 0
	p := Policy{Attempts: 3, Delay: time.Millisecond, Multiplier: 2}
	_, err := Do(context.Background(), p, func(context.Context) (int, error) {
		calls++
		return 0, errNotVisible
	})
	assert.ErrorIs(t, err, ErrExhausted)
	assert.Equal(t, 3, calls)
}
