package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func fastConfig() Config {
	return Config{
		MaxRetries:   3,
		InitialDelay: time.Millisecond,
		MaxDelay:     2 * time.Millisecond,
		Multiplier:   2.0,
	}
}

func TestWithBackoffSucceedsAfterRetries(t *testing.T) {
	attempts := 0
	err := WithBackoff(context.Background(), fastConfig(), zap.NewNop(), "test-op", func() error {
		attempts++
		if attempts < 3 {
			return errors.New("transient")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestWithBackoffExhaustsRetries(t *testing.T) {
	cause := errors.New("still down")
	attempts := 0
	err := WithBackoff(context.Background(), fastConfig(), zap.NewNop(), "test-op", func() error {
		attempts++
		return cause
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, cause))
	assert.Equal(t, 3, attempts)
}

func TestWithBackoffPermanentAborts(t *testing.T) {
	cause := errors.New("rejected")
	attempts := 0
	err := WithBackoff(context.Background(), fastConfig(), zap.NewNop(), "test-op", func() error {
		attempts++
		return Permanent(cause)
	})
	require.Error(t, err)
	assert.Equal(t, cause, err)
	assert.Equal(t, 1, attempts)
}

func TestWithBackoffCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := WithBackoff(ctx, fastConfig(), zap.NewNop(), "test-op", func() error {
		return errors.New("never reached")
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestPermanentNil(t *testing.T) {
	assert.NoError(t, Permanent(nil))
}

func TestCalculateBackoffCapsAtMaxDelay(t *testing.T) {
	cfg := Config{InitialDelay: time.Second, MaxDelay: 3 * time.Second, Multiplier: 10}
	assert.Equal(t, time.Second, calculateBackoff(cfg, 1))
	assert.Equal(t, 3*time.Second, calculateBackoff(cfg, 2))
	assert.Equal(t, 3*time.Second, calculateBackoff(cfg, 5))
}
