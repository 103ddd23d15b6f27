package resilience

import (
	"context"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDoSucceedsFirstTry(t *testing.T) {
	calls := 0
	err := Do(context.Background(), RetryConfig{MaxAttempts: 3, InitialBackoff: time.Millisecond}, func(ctx context.Context) error {
		calls++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestDoRetriesTransient(t *testing.T) {
	calls := 0
	err := Do(context.Background(), RetryConfig{MaxAttempts: 3, InitialBackoff: time.Millisecond}, func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return NewTransientError(eris.New("boom"), 503)
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDoStopsOnNonTransient(t *testing.T) {
	calls := 0
	err := Do(context.Background(), RetryConfig{MaxAttempts: 3, InitialBackoff: time.Millisecond}, func(ctx context.Context) error {
		calls++
		return eris.New("parse failure")
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestDoValReturnsValue(t *testing.T) {
	calls := 0
	got, err := DoVal(context.Background(), RetryConfig{MaxAttempts: 2, InitialBackoff: time.Millisecond}, func(ctx context.Context) (int, error) {
		calls++
		if calls == 1 {
			return 0, NewTransientError(eris.New("flaky"), 0)
		}
		return 42, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 42, got)
}

func TestDoRespectsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := Do(ctx, RetryConfig{MaxAttempts: 5, InitialBackoff: 50 * time.Millisecond}, func(ctx context.Context) error {
		calls++
		cancel()
		return NewTransientError(eris.New("flaky"), 0)
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestLinearBackoff(t *testing.T) {
	cfg := applyDefaults(FetchRetryConfig(3))
	assert.Equal(t, 2*time.Second, computeBackoff(0, cfg))
	assert.Equal(t, 4*time.Second, computeBackoff(1, cfg))
	assert.Equal(t, 6*time.Second, computeBackoff(2, cfg))
}

func TestStorageRetryConfigRetriesConnTermination(t *testing.T) {
	cfg := StorageRetryConfig(3)
	cfg.InitialBackoff = time.Millisecond
	calls := 0
	err := Do(context.Background(), cfg, func(ctx context.Context) error {
		calls++
		if calls < 2 {
			return eris.New("ERROR: connection terminated unexpectedly")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}
