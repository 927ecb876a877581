package risk

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vmaliev/crypto/pkg/types"
)

var _ RiskManager = (*Manager)(nil)

func buySignal() types.Signal {
	return types.Signal{Symbol: "BTCUSDT", Action: types.ActionBuy, Price: 50000}
}

func ptr(v float64) *float64 { return &v }

func TestFixedStopsForBuyAndSell(t *testing.T) {
	cfg := DefaultConfig()
	cfg.StopLossPercent = 2
	cfg.TakeProfitPercent = 5
	m := NewManager(cfg)

	buy := m.CheckTradeRisk(buySignal(), 50000, 10000, nil, ptr(10))
	require.True(t, buy.ShouldTrade)
	assert.Equal(t, types.RiskLow, buy.RiskLevel)
	assert.InDelta(t, 50000*(1-0.02), buy.StopLossPrice, 1e-6)
	assert.InDelta(t, 50000*(1+0.05), buy.TakeProfitPrice, 1e-6)
	assert.Nil(t, buy.TrailingStopPrice)
	assert.InDelta(t, 200, buy.MaxPositionSize, 1e-9)

	sell := buySignal()
	sell.Action = types.ActionSell
	got := m.CheckTradeRisk(sell, 50000, 10000, nil, nil)
	assert.InDelta(t, 51000, got.StopLossPrice, 1e-6)
	assert.InDelta(t, 47500, got.TakeProfitPrice, 1e-6)
}

func TestVolatilityStops(t *testing.T) {
	cfg := DefaultConfig()
	cfg.UseVolatilityStops = true
	cfg.RewardRiskRatio = 2
	m := NewManager(cfg)

	got := m.CheckTradeRisk(buySignal(), 1000, 10000, nil, ptr(5))
	assert.InDelta(t, 900, got.StopLossPrice, 1e-9)
	assert.InDelta(t, 1200, got.TakeProfitPrice, 1e-9)
	require.NotNil(t, got.TrailingStopPrice)
	assert.InDelta(t, 925, *got.TrailingStopPrice, 1e-9)

	fixed := m.CheckTradeRisk(buySignal(), 1000, 10000, nil, nil)
	assert.InDelta(t, 980, fixed.StopLossPrice, 1e-9)
	assert.Nil(t, fixed.TrailingStopPrice)
}

func TestDailyLossBlocksTrading(t *testing.T) {
	now := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	m := NewManager(DefaultConfig()).WithClock(func() time.Time { return now })

	m.RecordPnL(-150)
	ok := m.CheckTradeRisk(buySignal(), 50000, 10000, nil, nil)
	assert.True(t, ok.ShouldTrade)

	m.RecordPnL(-100)
	blocked := m.CheckTradeRisk(buySignal(), 50000, 10000, nil, nil)
	assert.False(t, blocked.ShouldTrade)
	assert.Equal(t, types.RiskCritical, blocked.RiskLevel)
	assert.Equal(t, 0.0, blocked.MaxPositionSize)

	now = now.Add(24 * time.Hour)
	nextDay := m.CheckTradeRisk(buySignal(), 50000, 10000, nil, nil)
	assert.True(t, nextDay.ShouldTrade)
	assert.Equal(t, 0.0, m.Metrics().DailyPnL)
}

func TestDrawdownBlocksTrading(t *testing.T) {
	m := NewManager(DefaultConfig())
	m.UpdateBalance(10000)

	ok := m.CheckTradeRisk(buySignal(), 50000, 9500, nil, nil)
	assert.True(t, ok.ShouldTrade)

	blocked := m.CheckTradeRisk(buySignal(), 50000, 8900, nil, nil)
	assert.False(t, blocked.ShouldTrade)
	assert.Equal(t, types.RiskCritical, blocked.RiskLevel)

	metrics := m.Metrics()
	assert.Equal(t, 10000.0, metrics.PeakBalance)
	assert.InDelta(t, 11, metrics.MaxDrawdown, 1e-9)
}

func TestConcentrationAndVolatilityWarn(t *testing.T) {
	m := NewManager(DefaultConfig())
	positions := []types.Position{{Symbol: "BTCUSDT", Side: types.SideLong, Size: 0.01}}

	got := m.CheckTradeRisk(buySignal(), 50000, 10000, positions, ptr(60))
	assert.True(t, got.ShouldTrade)
	assert.Equal(t, types.RiskHigh, got.RiskLevel)
	assert.Len(t, got.Warnings, 2)
	assert.InDelta(t, 80, got.MaxPositionSize, 1e-9)

	other := m.CheckTradeRisk(types.Signal{Symbol: "ETHUSDT", Action: types.ActionBuy}, 3000, 10000, positions, nil)
	assert.Equal(t, types.RiskLow, other.RiskLevel)
}

func TestCheckPositionRisk(t *testing.T) {
	m := NewManager(DefaultConfig())

	tests := []struct {
		name  string
		pos   types.Position
		close bool
	}{
		{"long stop", types.Position{Side: types.SideLong, MarkPrice: 95, StopLoss: 96, TakeProfit: 110}, true},
		{"long target", types.Position{Side: types.SideLong, MarkPrice: 111, StopLoss: 96, TakeProfit: 110}, true},
		{"long trailing", types.Position{Side: types.SideLong, MarkPrice: 100, StopLoss: 90, TrailingStop: 101}, true},
		{"long inside", types.Position{Side: types.SideLong, MarkPrice: 100, StopLoss: 96, TakeProfit: 110}, false},
		{"short stop", types.Position{Side: types.SideShort, MarkPrice: 105, StopLoss: 104, TakeProfit: 90}, true},
		{"short target", types.Position{Side: types.SideShort, MarkPrice: 89, StopLoss: 104, TakeProfit: 90}, true},
		{"short inside", types.Position{Side: types.SideShort, MarkPrice: 100, StopLoss: 104, TakeProfit: 90}, false},
		{"no levels", types.Position{Side: types.SideLong, MarkPrice: 100}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := m.CheckPositionRisk(tt.pos)
			assert.Equal(t, tt.close, got.ShouldClose)
			if tt.close {
				assert.NotEmpty(t, got.Reason)
			}
		})
	}
}

func TestTrailingSuggestion(t *testing.T) {
	cfg := DefaultConfig()
	cfg.UseVolatilityStops = true
	m := NewManager(cfg)
	for _, p := range []float64{100, 102, 100, 102, 100} {
		m.ObservePrice("BTCUSDT", p)
	}

	got := m.CheckPositionRisk(types.Position{Symbol: "BTCUSDT", Side: types.SideLong, MarkPrice: 100, TrailingStop: 90})
	assert.False(t, got.ShouldClose)
	require.NotNil(t, got.TrailingStop)
	assert.Greater(t, *got.TrailingStop, 90.0)
	assert.Less(t, *got.TrailingStop, 100.0)

	short := m.CheckPositionRisk(types.Position{Symbol: "BTCUSDT", Side: types.SideShort, MarkPrice: 100})
	require.NotNil(t, short.TrailingStop)
	assert.Greater(t, *short.TrailingStop, 100.0)
}

func TestVolatilityTracker(t *testing.T) {
	v := NewVolatilityTracker(3)
	assert.Equal(t, 0.0, v.Volatility("BTCUSDT"))
	assert.Nil(t, v.Known("BTCUSDT"))

	v.AddPrice("BTCUSDT", 100)
	assert.Equal(t, 0.0, v.Volatility("BTCUSDT"))

	v.AddPrice("BTCUSDT", 110)
	assert.Equal(t, 0.0, v.Volatility("BTCUSDT"), "a single return has zero deviation")

	v.AddPrice("BTCUSDT", 99)
	// returns +10% and -10%: mean 0, population stdev 10%
	assert.InDelta(t, 10, v.Volatility("BTCUSDT"), 1e-9)

	v.AddPrice("BTCUSDT", 0)
	v.AddPrice("BTCUSDT", math.NaN())
	assert.Equal(t, 3, v.Observations("BTCUSDT"))

	v.AddPrice("BTCUSDT", 99)
	assert.Equal(t, 3, v.Observations("BTCUSDT"))
	require.NotNil(t, v.Known("BTCUSDT"))
}

func TestSnapshotRestore(t *testing.T) {
	now := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	m := NewManager(DefaultConfig()).WithClock(func() time.Time { return now })
	m.UpdateBalance(10000)
	m.UpdateBalance(9000)
	m.RecordPnL(-150)

	restored := NewManager(DefaultConfig()).WithClock(func() time.Time { return now })
	restored.Restore(m.Snapshot())
	restored.UpdateBalance(9000)

	metrics := restored.Metrics()
	assert.Equal(t, -150.0, metrics.DailyPnL)
	assert.Equal(t, 10000.0, metrics.PeakBalance)
	assert.InDelta(t, 10, metrics.Drawdown, 1e-9)
	assert.InDelta(t, 10, metrics.MaxDrawdown, 1e-9)

	now = now.Add(24 * time.Hour)
	assert.Zero(t, restored.Metrics().DailyPnL)
}
