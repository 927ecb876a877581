package signal

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vmaliev/crypto/pkg/types"
)

func recentSignal(action types.Action, strength types.Strength, price float64, ago time.Duration) types.Signal {
	return types.Signal{
		Symbol:    "BTCUSDT",
		Action:    action,
		Strength:  strength,
		Price:     price,
		Timestamp: fixedNow.Add(-ago),
	}
}

func scored(action types.Action, strength types.Strength, price float64) types.ScoredSignal {
	return types.ScoredSignal{
		Signal:     recentSignal(action, strength, price, 0),
		IsValid:    true,
		Confidence: 1.0,
	}
}

func TestConsistencyCheck(t *testing.T) {
	checker := NewConsistencyChecker(DefaultConsistencyConfig())

	tests := []struct {
		name       string
		current    types.ScoredSignal
		recent     []types.Signal
		confidence float64
	}{
		{
			name:       "no history",
			current:    scored(types.ActionBuy, types.StrengthMedium, 50000),
			confidence: 1.0,
		},
		{
			name:    "flip flop",
			current: scored(types.ActionClose, types.StrengthMedium, 50000),
			recent: []types.Signal{
				recentSignal(types.ActionBuy, types.StrengthMedium, 48000, 30*time.Minute),
				recentSignal(types.ActionSell, types.StrengthMedium, 49000, 20*time.Minute),
			},
			confidence: 0.85,
		},
		{
			name:    "near duplicate",
			current: scored(types.ActionBuy, types.StrengthMedium, 50010),
			recent: []types.Signal{
				recentSignal(types.ActionBuy, types.StrengthMedium, 50000, 30*time.Second),
			},
			confidence: 0.80,
		},
		{
			name:    "same action outside duplicate interval",
			current: scored(types.ActionBuy, types.StrengthMedium, 50000),
			recent: []types.Signal{
				recentSignal(types.ActionBuy, types.StrengthMedium, 50000, 2*time.Minute),
			},
			confidence: 1.0,
		},
		{
			name:    "strength deviates from recent average",
			current: scored(types.ActionBuy, types.StrengthStrong, 50000),
			recent: []types.Signal{
				recentSignal(types.ActionBuy, types.StrengthWeak, 45000, time.Hour),
				recentSignal(types.ActionBuy, types.StrengthWeak, 46000, 50*time.Minute),
			},
			confidence: 0.90,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := checker.Check(tt.current, tt.recent)
			assert.InDelta(t, tt.confidence, got.Confidence, 1e-9, "warnings: %v", got.Warnings)
		})
	}
}

func TestConsistencyIgnoresInvalidSignals(t *testing.T) {
	checker := NewConsistencyChecker(DefaultConsistencyConfig())
	invalid := types.ScoredSignal{Signal: types.Signal{Symbol: "BTCUSDT"}, IsValid: false}

	got := checker.CheckAndTrack(invalid)
	assert.Equal(t, invalid, got)
	assert.Empty(t, checker.Recent("BTCUSDT"))
}

func TestConsistencyWindowIsBounded(t *testing.T) {
	cfg := DefaultConsistencyConfig()
	cfg.WindowSize = 3
	checker := NewConsistencyChecker(cfg)

	for i := 0; i < 7; i++ {
		checker.CheckAndTrack(scored(types.ActionBuy, types.StrengthMedium, float64(50000+i*1000)))
	}

	recent := checker.Recent("BTCUSDT")
	require.Len(t, recent, 3)
	assert.Equal(t, 54000.0, recent[0].Price)
	assert.Equal(t, 56000.0, recent[2].Price)
	assert.Empty(t, checker.Recent("ETHUSDT"))
}

func TestConsistencyConfidenceClamped(t *testing.T) {
	cfg := DefaultConsistencyConfig()
	cfg.DuplicatePenalty = 0.9
	cfg.StrengthPenalty = 0.9
	checker := NewConsistencyChecker(cfg)

	current := scored(types.ActionBuy, types.StrengthStrong, 50000)
	current.Confidence = 0.5
	got := checker.Check(current, []types.Signal{
		recentSignal(types.ActionBuy, types.StrengthWeak, 50000, 10*time.Second),
	})
	assert.Equal(t, 0.0, got.Confidence)
}
