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

func TestNextDelayGrowth(t *testing.T) {
	cfg := Config{
		InitialDelay:  time.Second,
		MaxDelay:      time.Minute,
		Multiplier:    2.0,
		JitterEnabled: false,
	}

	assert.Equal(t, time.Second, NextDelay(cfg, 1))
	assert.Equal(t, 2*time.Second, NextDelay(cfg, 2))
	assert.Equal(t, 4*time.Second, NextDelay(cfg, 3))
	assert.Equal(t, 32*time.Second, NextDelay(cfg, 6))
}

func TestNextDelayCapped(t *testing.T) {
	cfg := Config{
		InitialDelay:  time.Second,
		MaxDelay:      10 * time.Second,
		Multiplier:    2.0,
		JitterEnabled: false,
	}

	assert.Equal(t, 10*time.Second, NextDelay(cfg, 5))
	assert.Equal(t, 10*time.Second, NextDelay(cfg, 50), "cap holds for arbitrarily late attempts")
}

func TestNextDelayJitterBounds(t *testing.T) {
	cfg := Config{
		InitialDelay:  time.Second,
		MaxDelay:      time.Minute,
		Multiplier:    2.0,
		JitterEnabled: true,
	}

	for i := 0; i < 100; i++ {
		d := NextDelay(cfg, 3)
		assert.GreaterOrEqual(t, d, time.Duration(float64(4*time.Second)*0.85))
		assert.LessOrEqual(t, d, time.Duration(float64(4*time.Second)*1.15))
	}
}

func TestWithBackoffEventualSuccess(t *testing.T) {
	cfg := Config{
		MaxRetries:   5,
		InitialDelay: time.Millisecond,
		MaxDelay:     2 * time.Millisecond,
		Multiplier:   2.0,
	}

	calls := 0
	err := WithBackoff(context.Background(), cfg, zap.NewNop(), "flaky", func() error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestWithBackoffExhaustion(t *testing.T) {
	cfg := Config{
		MaxRetries:   3,
		InitialDelay: time.Millisecond,
		MaxDelay:     2 * time.Millisecond,
		Multiplier:   2.0,
	}

	sentinel := errors.New("still broken")
	calls := 0
	err := WithBackoff(context.Background(), cfg, zap.NewNop(), "doomed", func() error {
		calls++
		return sentinel
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, sentinel)
	assert.Equal(t, 3, calls)
}
