package stream

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newTestReconnector(t *testing.T) *reconnector {
	t.Helper()
	return newReconnector(ReconnectConfig{
		InitialDelay:      time.Millisecond,
		MaxDelay:          8 * time.Millisecond,
		BackoffMultiplier: 2.0,
		JitterPercent:     0.2,
	}, zaptest.NewLogger(t))
}

func TestBackoffGrowsAndCaps(t *testing.T) {
	t.Parallel()

	r := newTestReconnector(t)
	assert.Equal(t, time.Millisecond, r.currentBackoff)

	for i := 0; i < 10; i++ {
		r.incrementBackoff()
	}
	assert.Equal(t, 8*time.Millisecond, r.currentBackoff, "backoff saturates at the cap")

	r.reset()
	assert.Equal(t, time.Millisecond, r.currentBackoff)
}

func TestNextBackoffJittersUpward(t *testing.T) {
	t.Parallel()

	r := newTestReconnector(t)
	for i := 0; i < 50; i++ {
		got := r.nextBackoff()
		assert.GreaterOrEqual(t, got, time.Millisecond)
		assert.LessOrEqual(t, got, time.Duration(float64(time.Millisecond)*1.2))
	}
}

func TestReconnect_RetriesUntilSuccess(t *testing.T) {
	t.Parallel()

	r := newTestReconnector(t)

	attempts := 0
	err := r.reconnect(context.Background(), func(ctx context.Context) error {
		attempts++
		if attempts < 3 {
			return errors.New("still down")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
	assert.Equal(t, time.Millisecond, r.currentBackoff, "success resets the backoff")
}

func TestReconnect_StopsOnCancel(t *testing.T) {
	t.Parallel()

	r := newTestReconnector(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := r.reconnect(ctx, func(ctx context.Context) error {
		return errors.New("never succeeds")
	})
	require.ErrorIs(t, err, context.Canceled)
}
