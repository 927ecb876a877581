package safety

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRateLimiterRefill(t *testing.T) {
	clock := &fakeClock{t: time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)}
	rl := NewRateLimiter("webhook", 2, 1).WithClock(clock.Now)

	assert.True(t, rl.Allow())
	assert.True(t, rl.Allow())
	assert.False(t, rl.Allow())

	clock.Advance(500 * time.Millisecond)
	assert.False(t, rl.Allow())

	clock.Advance(500 * time.Millisecond)
	assert.True(t, rl.Allow())

	clock.Advance(time.Hour)
	assert.True(t, rl.AllowN(2))
	assert.False(t, rl.Allow())

	stats := rl.GetStats()
	assert.Equal(t, "webhook", stats.Name)
	assert.Equal(t, int64(4), stats.Allowed)
	assert.Equal(t, int64(3), stats.Rejected)
}

func TestRateLimiterWaitHonoursContext(t *testing.T) {
	rl := NewRateLimiter("exchange", 1, 0.001)
	require.NoError(t, rl.Wait(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, rl.Wait(ctx), context.DeadlineExceeded)
}

func TestKeyedRateLimiter(t *testing.T) {
	clock := &fakeClock{t: time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)}
	k := NewKeyedRateLimiter("ip", 1, 1, time.Minute).WithClock(clock.Now)

	assert.True(t, k.Allow("10.0.0.1"))
	assert.False(t, k.Allow("10.0.0.1"))
	assert.True(t, k.Allow("10.0.0.2"))
	assert.Equal(t, 2, k.Len())

	clock.Advance(2 * time.Minute)
	assert.Equal(t, 2, k.Prune())
	assert.Equal(t, 0, k.Len())
}
