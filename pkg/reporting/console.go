package reporting

import (
	"fmt"
	"io"
	"math"
	"os"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/vmaliev/crypto/pkg/types"
)

const timeLayout = "2006-01-02 15:04:05"

// TableReporter prints go-pretty tables
type TableReporter struct {
	out io.Writer
}

// NewTableReporter writes to out, or stdout when out is nil
func NewTableReporter(out io.Writer) *TableReporter {
	if out == nil {
		out = os.Stdout
	}
	return &TableReporter{out: out}
}

func (r *TableReporter) newTable(title string) table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(r.out)
	t.SetTitle(title)
	t.SetStyle(table.StyleRounded)
	return t
}

// PrintTrades renders one row per trade
func (r *TableReporter) PrintTrades(trades []types.Trade) {
	t := r.newTable("TRADE HISTORY")
	t.AppendHeader(table.Row{"Entry Time", "Symbol", "Side", "Qty", "Entry", "Exit", "SL", "TP", "PnL", "Status"})

	for _, tr := range trades {
		exit, pnl := "-", "-"
		if tr.ExitPrice != nil {
			exit = fmt.Sprintf("%.4f", *tr.ExitPrice)
		}
		if tr.PnL != nil {
			pnl = colorPnL(*tr.PnL)
		}
		t.AppendRow(table.Row{
			tr.EntryTime.Format(timeLayout),
			tr.Symbol,
			tr.Side,
			fmt.Sprintf("%.4f", tr.Quantity),
			fmt.Sprintf("%.4f", tr.EntryPrice),
			exit,
			levelOrDash(tr.StopLoss),
			levelOrDash(tr.TakeProfit),
			pnl,
			tr.Status,
		})
	}
	if len(trades) == 0 {
		t.AppendRow(table.Row{"no trades", "", "", "", "", "", "", "", "", ""})
	}

	t.SetColumnConfigs([]table.ColumnConfig{
		{Number: 4, Align: text.AlignRight},
		{Number: 5, Align: text.AlignRight},
		{Number: 6, Align: text.AlignRight},
		{Number: 9, Align: text.AlignRight},
	})
	t.Render()
	fmt.Fprintln(r.out)
}

// PrintSummary renders the aggregate and per-symbol results
func (r *TableReporter) PrintSummary(s Summary) {
	t := r.newTable("PERFORMANCE SUMMARY")
	t.AppendRows([]table.Row{
		{"🔄 Total Trades", s.TotalTrades},
		{"📂 Open / Closed", fmt.Sprintf("%d / %d", s.OpenTrades, s.ClosedTrades)},
		{"✅ Winning Trades", s.WinningTrades},
		{"❌ Losing Trades", s.LosingTrades},
		{"🎯 Win Rate", fmt.Sprintf("%.1f%%", s.WinRate)},
	})
	t.AppendSeparator()
	t.AppendRows([]table.Row{
		{"💰 Total PnL", colorPnL(s.TotalPnL)},
		{"💸 Fees", fmt.Sprintf("$%.2f", s.TotalFees)},
		{"💹 Profit Factor", formatFactor(s.ProfitFactor)},
		{"📈 Average Win", fmt.Sprintf("$%.2f", s.AverageWin)},
		{"📉 Average Loss", fmt.Sprintf("$%.2f", s.AverageLoss)},
		{"🏆 Best / Worst", fmt.Sprintf("$%.2f / $%.2f", s.BestTrade, s.WorstTrade)},
		{"📉 Max Drawdown", fmt.Sprintf("$%.2f", s.MaxDrawdown)},
	})
	t.SetColumnConfigs([]table.ColumnConfig{
		{Number: 1, WidthMin: 18, WidthMax: 18, Align: text.AlignLeft},
		{Number: 2, WidthMin: 20, WidthMax: 30, Align: text.AlignRight},
	})
	t.Render()

	if len(s.BySymbol) == 0 {
		fmt.Fprintln(r.out)
		return
	}
	bt := r.newTable("BY SYMBOL")
	bt.AppendHeader(table.Row{"Symbol", "Trades", "Win Rate", "PnL"})
	for _, sym := range s.BySymbol {
		bt.AppendRow(table.Row{sym.Symbol, sym.Trades, fmt.Sprintf("%.1f%%", sym.WinRate), colorPnL(sym.TotalPnL)})
	}
	bt.Render()
	fmt.Fprintln(r.out)
}

// PrintRisk renders the safety latches and risk accumulators
func (r *TableReporter) PrintRisk(m types.RiskMetrics, s types.SafetyStatus) {
	t := r.newTable("SAFETY & RISK")
	t.AppendRows([]table.Row{
		{"🚦 Trading Enabled", yesNo(s.IsTradingEnabled)},
		{"⚡ Circuit Breaker", activeOrClear(s.CircuitBreakerActive)},
		{"🛑 Emergency Stop", activeOrClear(s.EmergencyStopActive)},
		{"⚠️ Risk Level", s.RiskLevel},
	})
	t.AppendSeparator()
	t.AppendRows([]table.Row{
		{"💰 Balance", fmt.Sprintf("$%.2f", m.CurrentBalance)},
		{"📊 Daily PnL", colorPnL(m.DailyPnL)},
		{"📉 Drawdown", fmt.Sprintf("%.2f%% (max %.2f%%)", m.Drawdown, m.MaxDrawdown)},
		{"🌊 Volatility", fmt.Sprintf("%.2f%%", m.Volatility)},
		{"❌ Loss Streak", m.ConsecutiveLosses},
		{"📦 Open Positions", m.OpenPositions},
		{"💵 Exposure", fmt.Sprintf("$%.2f", m.TotalExposure)},
	})
	for _, w := range s.Warnings {
		t.AppendFooter(table.Row{"warning", w})
	}
	t.SetColumnConfigs([]table.ColumnConfig{
		{Number: 1, WidthMin: 18, WidthMax: 18, Align: text.AlignLeft},
		{Number: 2, WidthMin: 20, WidthMax: 40, Align: text.AlignLeft},
	})
	t.Render()
	fmt.Fprintln(r.out)
}

func colorPnL(v float64) string {
	s := fmt.Sprintf("$%.2f", v)
	switch {
	case v > 0:
		return text.FgGreen.Sprint(s)
	case v < 0:
		return text.FgRed.Sprint(s)
	default:
		return s
	}
}

func levelOrDash(v float64) string {
	if v <= 0 {
		return "-"
	}
	return fmt.Sprintf("%.4f", v)
}

func formatFactor(f float64) string {
	if math.IsInf(f, 1) {
		return "∞"
	}
	return fmt.Sprintf("%.2f", f)
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "NO"
}

func activeOrClear(b bool) string {
	if b {
		return "ACTIVE"
	}
	return "clear"
}
