package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDo_Success(t *testing.T) {
	cfg := Config{
		MaxAttempts:    3,
		InitialBackoff: 10 * time.Millisecond,
	}

	called := 0
	err := Do(context.Background(), cfg, func() error {
		called++
		return nil
	}, nil)

	require.NoError(t, err)
	assert.Equal(t, 1, called, "should succeed on first attempt")
}

func TestDo_SuccessAfterRetries(t *testing.T) {
	cfg := Config{
		MaxAttempts:    5,
		InitialBackoff: 1 * time.Millisecond,
	}

	called := 0
	err := Do(context.Background(), cfg, func() error {
		called++
		if called < 3 {
			return errors.New("temporary error")
		}
		return nil
	}, func(err error) bool {
		return true
	})

	require.NoError(t, err)
	assert.Equal(t, 3, called, "should succeed on third attempt")
}

func TestDo_ExhaustedAttempts(t *testing.T) {
	cfg := Config{
		MaxAttempts:    3,
		InitialBackoff: 1 * time.Millisecond,
	}

	called := 0
	testErr := errors.New("persistent error")
	err := Do(context.Background(), cfg, func() error {
		called++
		return testErr
	}, func(err error) bool {
		return true
	})

	require.Error(t, err)
	assert.Equal(t, 3, called, "should attempt MaxAttempts times")
	assert.ErrorIs(t, err, testErr)
	assert.Contains(t, err.Error(), "failed after 3 attempts")
}

func TestDo_NonRetryableError(t *testing.T) {
	cfg := Config{
		MaxAttempts:    5,
		InitialBackoff: 1 * time.Millisecond,
	}

	fatal := errors.New("credential rejected")

	called := 0
	err := Do(context.Background(), cfg, func() error {
		called++
		return fatal
	}, func(err error) bool {
		return !errors.Is(err, fatal)
	})

	require.Error(t, err)
	assert.Equal(t, 1, called, "should stop on non-retryable error")
	assert.ErrorIs(t, err, fatal)
}

func TestDo_ContextCanceled(t *testing.T) {
	cfg := Config{
		MaxAttempts:    10,
		InitialBackoff: 50 * time.Millisecond,
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	called := 0
	err := Do(ctx, cfg, func() error {
		called++
		if called == 1 {
			cancel()
		}
		return errors.New("error")
	}, nil)

	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.LessOrEqual(t, called, 2, "should stop soon after context canceled")
}

func TestBackoff_GrowsAndCaps(t *testing.T) {
	b := NewBackoff(1*time.Millisecond, 4*time.Millisecond)

	assert.Equal(t, 1*time.Millisecond, b.Next())

	require.NoError(t, b.Wait(context.Background()))
	assert.Equal(t, 2*time.Millisecond, b.Next())

	require.NoError(t, b.Wait(context.Background()))
	assert.Equal(t, 4*time.Millisecond, b.Next())

	// Capped from here on.
	require.NoError(t, b.Wait(context.Background()))
	assert.Equal(t, 4*time.Millisecond, b.Next())

	b.Reset()
	assert.Equal(t, 1*time.Millisecond, b.Next())
}

func TestBackoff_ContextCanceled(t *testing.T) {
	b := NewBackoff(1*time.Second, 1*time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := b.Wait(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestBackoff_Defaults(t *testing.T) {
	b := NewBackoff(0, 0)
	assert.Equal(t, 100*time.Millisecond, b.Next())
}
