// Package storetest holds the behaviour every storage.Store must share.
package storetest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vmaliev/crypto/internal/storage"
	"github.com/vmaliev/crypto/pkg/types"
)

var base = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func trade(id, symbol string, entry time.Time) types.Trade {
	return types.Trade{
		ID:         id,
		SignalID:   "sig-" + id,
		OrderID:    "ord-" + id,
		Symbol:     symbol,
		Side:       types.SideLong,
		Quantity:   0.01,
		EntryPrice: 50000,
		Fees:       0.3,
		Status:     types.TradeOpen,
		EntryTime:  entry,
		StopLoss:   49000,
		TakeProfit: 52000,
		Confidence: 0.85,
		Strategy:   "mfi-rsi",
	}
}

// Run exercises a fresh store returned by newStore for every subtest
func Run(t *testing.T, newStore func(t *testing.T) storage.Store) {
	t.Run("Signals", func(t *testing.T) { testSignals(t, newStore(t)) })
	t.Run("TradeLifecycle", func(t *testing.T) { testTradeLifecycle(t, newStore(t)) })
	t.Run("TradeHistory", func(t *testing.T) { testTradeHistory(t, newStore(t)) })
	t.Run("Sessions", func(t *testing.T) { testSessions(t, newStore(t)) })
	t.Run("Snapshots", func(t *testing.T) { testSnapshots(t, newStore(t)) })
}

func testSignals(t *testing.T, s storage.Store) {
	ctx := context.Background()
	sig := types.ScoredSignal{
		Signal: types.Signal{
			ID: "sig-1", Symbol: "BTCUSDT", Action: types.ActionBuy, Strength: types.StrengthStrong,
			Price: 45000, MFI: 18, RSI: 25, Timeframe: "15m", Strategy: "mfi-rsi",
			Timestamp: base, ReceivedAt: base.Add(time.Second),
		},
		IsValid:    true,
		Warnings:   []string{"timestamp outside freshness window"},
		Confidence: 0.95,
	}

	require.NoError(t, s.StoreSignal(ctx, sig))
	assert.ErrorIs(t, s.StoreSignal(ctx, sig), storage.ErrDuplicateKey)
	assert.ErrorIs(t, s.StoreSignal(ctx, types.ScoredSignal{}), storage.ErrInvalidInput)

	rec, err := s.GetSignal(ctx, "sig-1")
	require.NoError(t, err)
	assert.False(t, rec.Processed)
	assert.Equal(t, types.ActionBuy, rec.Signal.Action)
	assert.Equal(t, types.Timeframe("15m"), rec.Signal.Timeframe)
	assert.Equal(t, 0.95, rec.Signal.Confidence)
	assert.True(t, rec.Signal.Timestamp.Equal(base))
	assert.Equal(t, sig.Warnings, rec.Signal.Warnings)
	assert.Empty(t, rec.Signal.Errors)

	require.NoError(t, s.MarkSignalProcessed(ctx, "sig-1", base.Add(time.Minute)))
	rec, err = s.GetSignal(ctx, "sig-1")
	require.NoError(t, err)
	assert.True(t, rec.Processed)
	require.NotNil(t, rec.ProcessedAt)
	assert.True(t, rec.ProcessedAt.Equal(base.Add(time.Minute)))

	assert.ErrorIs(t, s.MarkSignalProcessed(ctx, "missing", base), storage.ErrNotFound)
	_, err = s.GetSignal(ctx, "missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func testTradeLifecycle(t *testing.T, s storage.Store) {
	ctx := context.Background()
	tr := trade("t1", "BTCUSDT", base)

	require.NoError(t, s.StoreTrade(ctx, tr))
	assert.ErrorIs(t, s.StoreTrade(ctx, tr), storage.ErrDuplicateKey)

	got, err := s.GetTrade(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, types.TradeOpen, got.Status)
	assert.Equal(t, 0.01, got.Quantity)
	assert.Equal(t, 50000.0, got.EntryPrice)
	assert.Equal(t, 49000.0, got.StopLoss)
	assert.Equal(t, 52000.0, got.TakeProfit)
	assert.Nil(t, got.ExitPrice)
	assert.Nil(t, got.PnL)

	open, err := s.GetOpenTrades(ctx, "BTCUSDT")
	require.NoError(t, err)
	assert.Len(t, open, 1)

	exit := storage.TradeExit{ExitPrice: 51000, PnL: 10, Fees: 0.3, ExitTime: base.Add(time.Hour)}
	require.NoError(t, s.UpdateTradeExit(ctx, "t1", exit))

	got, err = s.GetTrade(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, types.TradeClosed, got.Status)
	require.NotNil(t, got.ExitPrice)
	assert.Equal(t, 51000.0, *got.ExitPrice)
	assert.Equal(t, 10.0, got.RealizedPnL())
	assert.InDelta(t, 0.6, got.Fees, 1e-9)
	require.NotNil(t, got.ExitTime)
	assert.True(t, got.ExitTime.Equal(base.Add(time.Hour)))

	assert.ErrorIs(t, s.UpdateTradeExit(ctx, "t1", exit), storage.ErrTradeClosed)
	assert.ErrorIs(t, s.UpdateTradeExit(ctx, "missing", exit), storage.ErrNotFound)

	open, err = s.GetOpenTrades(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, open)
}

func testTradeHistory(t *testing.T, s storage.Store) {
	ctx := context.Background()
	require.NoError(t, s.StoreTrade(ctx, trade("a", "BTCUSDT", base)))
	require.NoError(t, s.StoreTrade(ctx, trade("b", "ETHUSDT", base.Add(time.Minute))))
	require.NoError(t, s.StoreTrade(ctx, trade("c", "BTCUSDT", base.Add(2*time.Minute))))

	all, err := s.GetTradeHistory(ctx, "", 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, []string{"c", "b", "a"}, []string{all[0].ID, all[1].ID, all[2].ID})

	btc, err := s.GetTradeHistory(ctx, "BTCUSDT", 0)
	require.NoError(t, err)
	assert.Len(t, btc, 2)

	limited, err := s.GetTradeHistory(ctx, "", 1)
	require.NoError(t, err)
	require.Len(t, limited, 1)
	assert.Equal(t, "c", limited[0].ID)

	open, err := s.GetOpenTrades(ctx, "")
	require.NoError(t, err)
	require.Len(t, open, 3)
	assert.Equal(t, "a", open[0].ID)
}

func testSessions(t *testing.T, s storage.Store) {
	ctx := context.Background()
	_, err := s.LatestSession(ctx)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	first := types.Session{ID: "s1", StartTime: base}
	second := types.Session{ID: "s2", StartTime: base.Add(time.Hour)}
	require.NoError(t, s.StoreSession(ctx, first))
	require.NoError(t, s.StoreSession(ctx, second))

	end := base.Add(2 * time.Hour)
	second.EndTime = &end
	second.TradeCount = 4
	second.TotalPnL = -12.5
	require.NoError(t, s.StoreSession(ctx, second))

	latest, err := s.LatestSession(ctx)
	require.NoError(t, err)
	assert.Equal(t, "s2", latest.ID)
	assert.Equal(t, 4, latest.TradeCount)
	assert.Equal(t, -12.5, latest.TotalPnL)
	require.NotNil(t, latest.EndTime)
	assert.True(t, latest.EndTime.Equal(end))
}

func testSnapshots(t *testing.T, s storage.Store) {
	ctx := context.Background()
	_, err := s.LatestPerformance(ctx)
	assert.ErrorIs(t, err, storage.ErrNotFound)
	_, err = s.LatestRiskMetrics(ctx)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	require.NoError(t, s.StorePerformance(ctx, types.PerformanceSnapshot{Timestamp: base, TotalTrades: 1}))
	require.NoError(t, s.StorePerformance(ctx, types.PerformanceSnapshot{Timestamp: base.Add(time.Hour), TotalTrades: 2, WinRate: 50}))

	perf, err := s.LatestPerformance(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, perf.TotalTrades)
	assert.Equal(t, 50.0, perf.WinRate)

	require.NoError(t, s.StoreRiskMetrics(ctx, types.RiskMetrics{Timestamp: base, DailyPnL: -5, OpenPositions: 1}))
	require.NoError(t, s.StoreRiskMetrics(ctx, types.RiskMetrics{Timestamp: base.Add(time.Minute), DailyPnL: -8, ConsecutiveLosses: 2}))

	m, err := s.LatestRiskMetrics(ctx)
	require.NoError(t, err)
	assert.Equal(t, -8.0, m.DailyPnL)
	assert.Equal(t, 2, m.ConsecutiveLosses)
}
