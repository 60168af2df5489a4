package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "token-broker/internal/common/errors"
)

func TestStrategies(t *testing.T) {
	tests := []struct {
		name     string
		strategy Strategy
		want     []time.Duration
	}{
		{
			name:     "fixed",
			strategy: FixedBackoff{Interval: 2 * time.Second},
			want:     []time.Duration{2 * time.Second, 2 * time.Second, 2 * time.Second},
		},
		{
			name:     "linear",
			strategy: LinearBackoff{Initial: time.Second, Increment: 500 * time.Millisecond},
			want:     []time.Duration{time.Second, 1500 * time.Millisecond, 2 * time.Second},
		},
		{
			name:     "exponential",
			strategy: ExponentialBackoff{Initial: time.Second, Multiplier: 2},
			want:     []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second},
		},
		{
			name:     "exponential capped",
			strategy: ExponentialBackoff{Initial: time.Second, Multiplier: 3, Max: 5 * time.Second},
			want:     []time.Duration{time.Second, 3 * time.Second, 5 * time.Second, 5 * time.Second},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for i, want := range tt.want {
				assert.Equal(t, want, tt.strategy.Delay(i), "attempt %d", i)
			}
		})
	}
}

func TestJitter(t *testing.T) {
	j := Jitter{Base: FixedBackoff{Interval: time.Second}, Factor: 0.1}
	for i := 0; i < 50; i++ {
		d := j.Delay(i)
		assert.GreaterOrEqual(t, d, time.Second)
		assert.Less(t, d, 1100*time.Millisecond)
	}
	assert.Equal(t, time.Second, Jitter{Base: FixedBackoff{Interval: time.Second}}.Delay(0))
}

func noSleep(delays *[]time.Duration) func(context.Context, time.Duration) error {
	return func(_ context.Context, d time.Duration) error {
		*delays = append(*delays, d)
		return nil
	}
}

func TestDo_ExhaustsAttempts(t *testing.T) {
	var delays []time.Duration
	cfg := Config{
		Strategy:    FixedBackoff{Interval: 0},
		MaxAttempts: 3,
		Sleep:       noSleep(&delays),
	}

	calls := 0
	final := errors.New("attempt 3 failed")
	err := cfg.Do(context.Background(), func(context.Context) error {
		calls++
		if calls == 3 {
			return final
		}
		return errors.New("transient")
	})

	assert.Equal(t, 3, calls)
	var exhausted *ExhaustedError
	require.True(t, errors.As(err, &exhausted))
	assert.Equal(t, 3, exhausted.Attempts)
	assert.Same(t, final, exhausted.Last)
	assert.True(t, errors.Is(err, final))
	assert.Len(t, delays, 2)
}

func TestDo_NonRetryablePropagatesImmediately(t *testing.T) {
	var delays []time.Duration
	original := errors.New("invalid_client")
	cfg := Config{
		Strategy:    FixedBackoff{Interval: time.Second},
		MaxAttempts: 5,
		ShouldRetry: func(error) bool { return false },
		Sleep:       noSleep(&delays),
	}

	calls := 0
	err := cfg.Do(context.Background(), func(context.Context) error {
		calls++
		return original
	})

	assert.Equal(t, 1, calls)
	assert.Same(t, original, err)
	assert.Empty(t, delays)
}

func TestDo_SucceedsAfterRetries(t *testing.T) {
	var delays []time.Duration
	var observed []int
	cfg := Config{
		Strategy:    LinearBackoff{Initial: time.Second, Increment: time.Second},
		MaxAttempts: 4,
		OnRetry: func(attempt int, err error, delay time.Duration) {
			observed = append(observed, attempt)
		},
		Sleep: noSleep(&delays),
	}

	calls := 0
	got, err := Execute(context.Background(), cfg, func(context.Context) (string, error) {
		calls++
		if calls < 3 {
			return "", errors.New("transient")
		}
		return "T1", nil
	})

	require.NoError(t, err)
	assert.Equal(t, "T1", got)
	assert.Equal(t, []int{0, 1}, observed)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, delays)
}

func TestDo_ContextCancelledDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	cfg := Config{Strategy: FixedBackoff{Interval: time.Hour}, MaxAttempts: 3}

	calls := 0
	err := cfg.Do(ctx, func(context.Context) error {
		calls++
		return errors.New("transient")
	})

	assert.Equal(t, 1, calls)
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestDo_SingleAttempt(t *testing.T) {
	calls := 0
	err := Config{}.Do(context.Background(), func(context.Context) error {
		calls++
		return errors.New("boom")
	})

	assert.Equal(t, 1, calls)
	var exhausted *ExhaustedError
	assert.True(t, errors.As(err, &exhausted))
}

func TestLegacy(t *testing.T) {
	cfg := Legacy()
	assert.Equal(t, 3, cfg.MaxAttempts)
	assert.Equal(t, time.Second, cfg.Strategy.Delay(0))
	assert.Equal(t, 2*time.Second, cfg.Strategy.Delay(1))

	var delays []time.Duration
	cfg.Sleep = noSleep(&delays)

	t.Run("network errors retry", func(t *testing.T) {
		delays = nil
		calls := 0
		err := cfg.Do(context.Background(), func(context.Context) error {
			calls++
			return apperrors.ConnectionError("refused", nil)
		})
		assert.Equal(t, 3, calls)
		assert.True(t, apperrors.HasCode(err, apperrors.CodeNetworkConnection))
		assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, delays)
	})

	t.Run("authentication errors do not", func(t *testing.T) {
		calls := 0
		err := cfg.Do(context.Background(), func(context.Context) error {
			calls++
			return apperrors.AcquisitionError("invalid_client", nil)
		})
		assert.Equal(t, 1, calls)
		assert.Equal(t, apperrors.CodeTokenAcquisitionFailed, apperrors.GetCode(err))
	})
}
