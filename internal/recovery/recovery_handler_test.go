package recovery

import (
	"context"
	stderrors "errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vmaliev/crypto/internal/errors"
	"github.com/vmaliev/crypto/internal/logger"
)

func newGuard(t *testing.T, cfg Config) (*Guard, *[]time.Duration) {
	t.Helper()
	var waits []time.Duration
	g := NewGuard(cfg, logger.NewNop()).WithSleep(func(_ context.Context, d time.Duration) error {
		waits = append(waits, d)
		return nil
	})
	return g, &waits
}

func TestCredentialErrorHaltsIntake(t *testing.T) {
	g, _ := newGuard(t, DefaultConfig())

	var reasons []string
	g.OnHalt(func(reason string) { reasons = append(reasons, reason) })

	res := g.HandleError(stderrors.New("invalid api key"), "exchange", "GetAccountInfo", 0)
	assert.True(t, res.Halt)
	assert.Equal(t, errors.RecoveryActionStop, res.Action)
	assert.Equal(t, errors.ErrorCategoryCredentials, res.Error.Category)

	halted, reason := g.Halted()
	assert.True(t, halted)
	assert.Contains(t, reason, "CREDENTIALS")
	assert.False(t, g.HaltedAt().IsZero())

	g.HandleError(errors.NewFatalError("engine", "Start", "boom"), "engine", "Start", 0)
	require.Len(t, reasons, 1)
	_, reason2 := g.Halted()
	assert.Equal(t, reason, reason2)

	g.Resume()
	halted, _ = g.Halted()
	assert.False(t, halted)
	assert.Zero(t, g.Stats().TotalErrors())
}

func TestTransientErrorsRetryWithBackoff(t *testing.T) {
	g, _ := newGuard(t, DefaultConfig())

	res := g.HandleError(stderrors.New("dial tcp: connection refused"), "exchange", "GetTicker", 0)
	assert.False(t, res.Halt)
	assert.Equal(t, errors.RecoveryActionRetry, res.Action)
	assert.Equal(t, time.Second, res.Delay)

	res = g.HandleError(stderrors.New("dial tcp: connection refused"), "exchange", "GetTicker", 2)
	assert.Equal(t, 2250*time.Millisecond, res.Delay)

	res = g.HandleError(stderrors.New("dial tcp: connection refused"), "exchange", "GetTicker", 5)
	assert.Equal(t, errors.RecoveryActionSkip, res.Action)
	assert.Contains(t, res.Message, "maximum retries")
}

func TestBackoff(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxDelay = 3 * time.Second
	g, _ := newGuard(t, cfg)

	assert.Equal(t, time.Second, g.Backoff(errors.ErrorCategoryNetwork, 0))
	assert.Equal(t, 1500*time.Millisecond, g.Backoff(errors.ErrorCategoryNetwork, 1))
	assert.Equal(t, 3*time.Second, g.Backoff(errors.ErrorCategoryNetwork, 10))
	assert.Equal(t, 3*time.Second, g.Backoff(errors.ErrorCategoryRateLimit, 0))
}

func TestRepeatedOrderErrorsHaltIntake(t *testing.T) {
	cfg := DefaultConfig()
	cfg.BurstLimit = 3
	now := time.Date(2024, 1, 2, 3, 0, 0, 0, time.UTC)
	g, _ := newGuard(t, cfg)
	g.WithClock(func() time.Time { return now })

	orderErr := errors.NewOrderError("execution", "PlaceOrder", stderrors.New("reduce-only rejected"))
	for i := 0; i < 2; i++ {
		res := g.HandleError(orderErr, "execution", "PlaceOrder", 0)
		assert.False(t, res.Halt)
		now = now.Add(10 * time.Minute)
	}
	halted, _ := g.Halted()
	assert.False(t, halted, "errors outside the window do not count")

	g.HandleError(orderErr, "execution", "PlaceOrder", 0)
	g.HandleError(orderErr, "execution", "PlaceOrder", 0)
	res := g.HandleError(orderErr, "execution", "PlaceOrder", 0)
	assert.True(t, res.Halt)
	assert.Contains(t, res.Message, "3 ORDER errors")
}

func TestNetworkBurstDoesNotHalt(t *testing.T) {
	cfg := DefaultConfig()
	cfg.BurstLimit = 2
	g, _ := newGuard(t, cfg)

	for i := 0; i < 5; i++ {
		g.HandleError(stderrors.New("connection reset"), "exchange", "GetPositions", 0)
	}
	halted, _ := g.Halted()
	assert.False(t, halted)
}

func TestRun(t *testing.T) {
	t.Run("succeeds after transient failures", func(t *testing.T) {
		g, waits := newGuard(t, DefaultConfig())
		calls := 0
		err := g.Run(context.Background(), "engine", "refreshAccount", func(context.Context) error {
			calls++
			if calls < 3 {
				return stderrors.New("connection refused")
			}
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, 3, calls)
		assert.Equal(t, []time.Duration{time.Second, 1500 * time.Millisecond}, *waits)
	})

	t.Run("stops on non-retryable error", func(t *testing.T) {
		g, waits := newGuard(t, DefaultConfig())
		calls := 0
		want := errors.NewValidationError("engine", "refreshAccount", "bad symbol")
		err := g.Run(context.Background(), "engine", "refreshAccount", func(context.Context) error {
			calls++
			return want
		})
		assert.ErrorIs(t, err, want)
		assert.Equal(t, 1, calls)
		assert.Empty(t, *waits)
	})

	t.Run("gives up after max retries", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.MaxRetries = map[errors.ErrorCategory]int{errors.ErrorCategoryTimeout: 2}
		g, waits := newGuard(t, cfg)
		calls := 0
		err := g.Run(context.Background(), "engine", "refreshAccount", func(context.Context) error {
			calls++
			return context.DeadlineExceeded
		})
		assert.ErrorIs(t, err, context.DeadlineExceeded)
		assert.Equal(t, 3, calls)
		assert.Len(t, *waits, 2)
	})

	t.Run("respects cancelled context", func(t *testing.T) {
		g, _ := newGuard(t, DefaultConfig())
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		err := g.Run(ctx, "engine", "refreshAccount", func(context.Context) error {
			t.Fatal("must not be called")
			return nil
		})
		assert.ErrorIs(t, err, context.Canceled)
	})
}
