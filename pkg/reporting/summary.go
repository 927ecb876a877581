package reporting

import (
	"math"
	"sort"
	"time"

	"github.com/vmaliev/crypto/pkg/types"
)

// Summary aggregates a trade history
type Summary struct {
	TotalTrades   int
	OpenTrades    int
	ClosedTrades  int
	WinningTrades int
	LosingTrades  int
	WinRate       float64 // percent of closed trades
	TotalPnL      float64
	TotalFees     float64
	GrossProfit   float64
	GrossLoss     float64
	ProfitFactor  float64
	AverageWin    float64
	AverageLoss   float64
	BestTrade     float64
	WorstTrade    float64
	MaxDrawdown   float64 // peak-to-trough of cumulative PnL in quote currency
	BySymbol      []SymbolSummary
}

// SymbolSummary is the per-symbol slice of a Summary
type SymbolSummary struct {
	Symbol   string
	Trades   int
	Wins     int
	TotalPnL float64
	WinRate  float64
}

// Summarize computes the summary of trades; closed trades are walked in exit order
func Summarize(trades []types.Trade) Summary {
	var s Summary
	s.TotalTrades = len(trades)

	closed := make([]types.Trade, 0, len(trades))
	for _, t := range trades {
		s.TotalFees += t.Fees
		if t.Status == types.TradeClosed && t.PnL != nil {
			closed = append(closed, t)
		} else if t.Status == types.TradeOpen {
			s.OpenTrades++
		}
	}
	sort.SliceStable(closed, func(i, j int) bool { return exitTime(closed[i]).Before(exitTime(closed[j])) })
	s.ClosedTrades = len(closed)

	bySymbol := make(map[string]*SymbolSummary)
	var cumulative, peak float64
	for i, t := range closed {
		pnl := *t.PnL
		s.TotalPnL += pnl
		if i == 0 || pnl > s.BestTrade {
			s.BestTrade = pnl
		}
		if i == 0 || pnl < s.WorstTrade {
			s.WorstTrade = pnl
		}

		sym, ok := bySymbol[t.Symbol]
		if !ok {
			sym = &SymbolSummary{Symbol: t.Symbol}
			bySymbol[t.Symbol] = sym
		}
		sym.Trades++
		sym.TotalPnL += pnl

		if pnl > 0 {
			s.WinningTrades++
			s.GrossProfit += pnl
			sym.Wins++
		} else if pnl < 0 {
			s.LosingTrades++
			s.GrossLoss += -pnl
		}

		cumulative += pnl
		peak = math.Max(peak, cumulative)
		s.MaxDrawdown = math.Max(s.MaxDrawdown, peak-cumulative)
	}

	if s.ClosedTrades > 0 {
		s.WinRate = float64(s.WinningTrades) / float64(s.ClosedTrades) * 100
	}
	if s.WinningTrades > 0 {
		s.AverageWin = s.GrossProfit / float64(s.WinningTrades)
	}
	if s.LosingTrades > 0 {
		s.AverageLoss = s.GrossLoss / float64(s.LosingTrades)
	}
	switch {
	case s.GrossLoss > 0:
		s.ProfitFactor = s.GrossProfit / s.GrossLoss
	case s.GrossProfit > 0:
		s.ProfitFactor = math.Inf(1)
	}

	for _, sym := range bySymbol {
		if sym.Trades > 0 {
			sym.WinRate = float64(sym.Wins) / float64(sym.Trades) * 100
		}
		s.BySymbol = append(s.BySymbol, *sym)
	}
	sort.Slice(s.BySymbol, func(i, j int) bool { return s.BySymbol[i].Symbol < s.BySymbol[j].Symbol })
	return s
}

func exitTime(t types.Trade) time.Time {
	if t.ExitTime != nil {
		return *t.ExitTime
	}
	return t.EntryTime
}
