package types

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRiskLevelEscalate(t *testing.T) {
	tests := []struct {
		from, to, want RiskLevel
	}{
		{RiskLow, RiskHigh, RiskHigh},
		{RiskHigh, RiskMedium, RiskHigh},
		{RiskCritical, RiskLow, RiskCritical},
		{"", RiskLow, RiskLow},
		{RiskMedium, RiskCritical, RiskCritical},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.from.Escalate(tt.to), "%s -> %s", tt.from, tt.to)
	}
}

func TestRiskLevelPositionMultiplier(t *testing.T) {
	assert.Equal(t, 1.0, RiskLow.PositionMultiplier())
	assert.Equal(t, 0.7, RiskMedium.PositionMultiplier())
	assert.Equal(t, 0.4, RiskHigh.PositionMultiplier())
	assert.Equal(t, 0.0, RiskCritical.PositionMultiplier())
}

func TestTimeframeValid(t *testing.T) {
	assert.True(t, Timeframe("15m").Valid())
	assert.True(t, Timeframe("1M").Valid())
	assert.False(t, Timeframe("7m").Valid())
	assert.False(t, Timeframe("").Valid())
}

func TestPositionPnL(t *testing.T) {
	long := Position{Side: SideLong, Size: 2, EntryPrice: 100}
	short := Position{Side: SideShort, Size: 2, EntryPrice: 100}

	assert.InDelta(t, 20.0, long.PnLAt(110), 1e-9)
	assert.InDelta(t, -20.0, short.PnLAt(110), 1e-9)
	assert.InDelta(t, 200.0, long.Notional(), 1e-9)
}

func TestNewPerformanceSnapshot(t *testing.T) {
	win, loss := 12.5, -4.0
	trades := []Trade{
		{Status: TradeClosed, PnL: &win},
		{Status: TradeClosed, PnL: &loss},
		{Status: TradeOpen},
	}
	now := time.Now()
	snap := NewPerformanceSnapshot(trades, 3.2, now)

	assert.Equal(t, 2, snap.TotalTrades)
	assert.Equal(t, 1, snap.WinningTrades)
	assert.Equal(t, 1, snap.LosingTrades)
	assert.InDelta(t, 50.0, snap.WinRate, 1e-9)
	assert.InDelta(t, 8.5, snap.TotalPnL, 1e-9)
	assert.Equal(t, 3.2, snap.MaxDrawdown)
}
