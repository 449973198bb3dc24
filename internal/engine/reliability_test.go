package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestWrapper() *ReliabilityWrapper {
	return NewReliabilityWrapper(ReliabilitySettings{
		Name:           "test",
		RateLimit:      1000,
		RateBurst:      100,
		Attempts:       3,
		AttemptTimeout: time.Second,
	}, NewMetrics(prometheus.NewRegistry()))
}

func TestReliabilityWrapper_RetriesTransientErrors(t *testing.T) {
	w := newTestWrapper()

	calls := 0
	err := w.Do(context.Background(), func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("connection reset")
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestReliabilityWrapper_PermanentStopsRetries(t *testing.T) {
	w := newTestWrapper()
	notFound := errors.New("404 not found")

	calls := 0
	err := w.Do(context.Background(), func(ctx context.Context) error {
		calls++
		return Permanent(notFound)
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, notFound)
	assert.Equal(t, 1, calls)
}

func TestReliabilityWrapper_HonoursRetryAfter(t *testing.T) {
	w := newTestWrapper()

	calls := 0
	start := time.Now()
	err := w.Do(context.Background(), func(ctx context.Context) error {
		calls++
		if calls == 1 {
			return &ThrottleError{RetryAfter: 20 * time.Millisecond, Cause: errors.New("429")}
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 2, calls)
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
}

func TestReliabilityWrapper_GivesUpAfterAttempts(t *testing.T) {
	w := newTestWrapper()

	calls := 0
	err := w.Do(context.Background(), func(ctx context.Context) error {
		calls++
		return errors.New("boom")
	})

	require.Error(t, err)
	assert.Equal(t, 3, calls)
}

func TestReliabilityWrapper_AttemptHasDeadline(t *testing.T) {
	w := newTestWrapper()

	err := w.Do(context.Background(), func(ctx context.Context) error {
		_, ok := ctx.Deadline()
		assert.True(t, ok)
		return nil
	})
	require.NoError(t, err)
}

func TestPermanentNil(t *testing.T) {
	assert.NoError(t, Permanent(nil))
}
