package reporting

import (
	"bytes"
	"encoding/csv"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/vmaliev/crypto/pkg/types"
)

var base = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func closedTrade(id, symbol string, pnl float64, exitAfter time.Duration) types.Trade {
	exit := base.Add(exitAfter)
	price := 100 + pnl
	return types.Trade{
		ID:         id,
		SignalID:   "sig-" + id,
		Symbol:     symbol,
		Side:       types.SideLong,
		Quantity:   1,
		EntryPrice: 100,
		ExitPrice:  &price,
		PnL:        &pnl,
		Fees:       0.1,
		Status:     types.TradeClosed,
		EntryTime:  base,
		ExitTime:   &exit,
		StopLoss:   98,
		TakeProfit: 104,
		Strategy:   "mfi_rsi",
	}
}

func sampleTrades() []types.Trade {
	return []types.Trade{
		closedTrade("t1", "BTCUSDT", 10, time.Hour),
		closedTrade("t2", "BTCUSDT", -4, 3*time.Hour),
		closedTrade("t3", "ETHUSDT", -6, 2*time.Hour),
		closedTrade("t4", "ETHUSDT", 5, 4*time.Hour),
		{ID: "t5", Symbol: "ETHUSDT", Side: types.SideShort, Quantity: 2, EntryPrice: 50, Status: types.TradeOpen, EntryTime: base},
	}
}

func TestSummarize(t *testing.T) {
	s := Summarize(sampleTrades())

	assert.Equal(t, 5, s.TotalTrades)
	assert.Equal(t, 1, s.OpenTrades)
	assert.Equal(t, 4, s.ClosedTrades)
	assert.Equal(t, 2, s.WinningTrades)
	assert.Equal(t, 2, s.LosingTrades)
	assert.InDelta(t, 50.0, s.WinRate, 1e-9)
	assert.InDelta(t, 5.0, s.TotalPnL, 1e-9)
	assert.InDelta(t, 0.4, s.TotalFees, 1e-9)
	assert.InDelta(t, 15.0/10.0, s.ProfitFactor, 1e-9)
	assert.InDelta(t, 7.5, s.AverageWin, 1e-9)
	assert.InDelta(t, 5.0, s.AverageLoss, 1e-9)
	assert.Equal(t, 10.0, s.BestTrade)
	assert.Equal(t, -6.0, s.WorstTrade)

	// Exit order is t1 (+10), t3 (-6), t2 (-4), t4 (+5): peak 10, trough 0.
	assert.InDelta(t, 10.0, s.MaxDrawdown, 1e-9)

	require.Len(t, s.BySymbol, 2)
	assert.Equal(t, "BTCUSDT", s.BySymbol[0].Symbol)
	assert.InDelta(t, 6.0, s.BySymbol[0].TotalPnL, 1e-9)
	assert.InDelta(t, 50.0, s.BySymbol[0].WinRate, 1e-9)
	assert.Equal(t, "ETHUSDT", s.BySymbol[1].Symbol)
	assert.Equal(t, 2, s.BySymbol[1].Trades)
}

func TestSummarizeEdgeCases(t *testing.T) {
	s := Summarize(nil)
	assert.Zero(t, s.TotalTrades)
	assert.Zero(t, s.ProfitFactor)
	assert.Empty(t, s.BySymbol)

	s = Summarize([]types.Trade{closedTrade("w", "BTCUSDT", 3, time.Hour)})
	assert.True(t, math.IsInf(s.ProfitFactor, 1))
	assert.Zero(t, s.MaxDrawdown)
}

func TestTableReporter(t *testing.T) {
	var buf bytes.Buffer
	r := NewTableReporter(&buf)
	trades := sampleTrades()

	r.PrintTrades(trades)
	r.PrintSummary(Summarize(trades))
	r.PrintRisk(types.RiskMetrics{CurrentBalance: 1234.5, ConsecutiveLosses: 2}, types.SafetyStatus{
		IsTradingEnabled:     false,
		CircuitBreakerActive: true,
		Warnings:             []string{"daily loss limit reached"},
	})

	out := buf.String()
	assert.Contains(t, out, "TRADE HISTORY")
	assert.Contains(t, out, "ETHUSDT")
	assert.Contains(t, out, "PERFORMANCE SUMMARY")
	assert.Contains(t, out, "BY SYMBOL")
	assert.Contains(t, out, "50.0%")
	assert.Contains(t, out, "$1234.50")
	assert.Contains(t, out, "ACTIVE")
	assert.Contains(t, out, "daily loss limit reached")
}

func TestTableReporterNoTrades(t *testing.T) {
	var buf bytes.Buffer
	NewTableReporter(&buf).PrintTrades(nil)
	assert.Contains(t, buf.String(), "no trades")
}

func TestWriteTradesCSV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "trades.csv")
	require.NoError(t, NewCSVReporter().WriteTradesCSV(sampleTrades(), path))

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)

	require.Len(t, rows, 6)
	assert.Equal(t, "Trade_ID", rows[0][0])
	assert.Equal(t, []string{"t1", "sig-t1", "BTCUSDT", "LONG", "CLOSED"}, rows[1][:5])
	assert.Equal(t, "10", rows[1][12])
	assert.Equal(t, "", rows[5][9], "open trades have no exit price")
	assert.Equal(t, "OPEN", rows[5][4])
}

func TestWriteTradesXLSX(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trades.xlsx")
	// The CSV writer delegates .xlsx paths to the workbook writer.
	require.NoError(t, NewCSVReporter().WriteTradesCSV(sampleTrades(), path))

	fx, err := excelize.OpenFile(path)
	require.NoError(t, err)
	defer fx.Close()

	assert.Equal(t, []string{tradesSheet, summarySheet, symbolSheet}, fx.GetSheetList())

	rows, err := fx.GetRows(tradesSheet)
	require.NoError(t, err)
	require.Len(t, rows, 6)
	assert.Equal(t, "Trade ID", rows[0][0])
	assert.Equal(t, "t1", rows[1][0])

	v, err := fx.GetCellValue(summarySheet, "A2")
	require.NoError(t, err)
	assert.Equal(t, "Total Trades", v)
	v, err = fx.GetCellValue(summarySheet, "B2")
	require.NoError(t, err)
	assert.Equal(t, "5", v)

	rows, err = fx.GetRows(symbolSheet)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, "ETHUSDT", rows[2][0])
}

func TestDefaultReportPath(t *testing.T) {
	assert.Equal(t, filepath.Join("results", "BTCUSDT", "trades_20260301_120000.csv"), DefaultReportPath(" btcusdt ", ".CSV", base))
	assert.Equal(t, filepath.Join("results", "ALL", "trades_20260301_120000.xlsx"), DefaultReportPath("", "", base))
}

func TestFilterTrades(t *testing.T) {
	trades := sampleTrades()
	assert.Len(t, FilterTrades(trades, ""), 5)
	assert.Len(t, FilterTrades(trades, "ethusdt"), 3)
	assert.Empty(t, FilterTrades(trades, "SOLUSDT"))
}
