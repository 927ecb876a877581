package types

import "time"

// TradeStatus is the lifecycle state of a persisted trade
type TradeStatus string

const (
	TradeOpen      TradeStatus = "OPEN"
	TradeClosed    TradeStatus = "CLOSED"
	TradeCancelled TradeStatus = "CANCELLED"
)

// Trade is the durable record of one entry and its eventual exit
type Trade struct {
	ID         string       `json:"id"`
	SignalID   string       `json:"signal_id"`
	Symbol     string       `json:"symbol"`
	Side       PositionSide `json:"side"`
	Quantity   float64      `json:"quantity"`
	EntryPrice float64      `json:"entry_price"`
	ExitPrice  *float64     `json:"exit_price,omitempty"`
	PnL        *float64     `json:"pnl,omitempty"`
	Fees       float64      `json:"fees"`
	Status     TradeStatus  `json:"status"`
	EntryTime  time.Time    `json:"entry_time"`
	ExitTime   *time.Time   `json:"exit_time,omitempty"`
	StopLoss   float64      `json:"stop_loss"`
	TakeProfit float64      `json:"take_profit"`
	Confidence float64      `json:"confidence"`
	Strategy   string       `json:"strategy"`
	OrderID    string       `json:"order_id"`
}

// RealizedPnL returns the closed PnL or zero for open trades
func (t Trade) RealizedPnL() float64 {
	if t.PnL == nil {
		return 0
	}
	return *t.PnL
}

// OrderStatus is the normalized status of a managed order
type OrderStatus string

const (
	OrderPending   OrderStatus = "PENDING"
	OrderFilled    OrderStatus = "FILLED"
	OrderCancelled OrderStatus = "CANCELLED"
	OrderRejected  OrderStatus = "REJECTED"
)

// Terminal reports whether no further transitions are expected
func (s OrderStatus) Terminal() bool {
	return s == OrderFilled || s == OrderCancelled || s == OrderRejected
}

// ManagedOrder is an entry order tracked until it reaches a terminal status
type ManagedOrder struct {
	OrderID       string       `json:"order_id"`
	ClientOrderID string       `json:"client_order_id"`
	Symbol        string       `json:"symbol"`
	Side          PositionSide `json:"side"`
	Quantity      float64      `json:"quantity"`
	Price         float64      `json:"price"`
	StopLoss      float64      `json:"stop_loss,omitempty"`
	TakeProfit    float64      `json:"take_profit,omitempty"`
	Status        OrderStatus  `json:"status"`
	Timestamp     time.Time    `json:"timestamp"`
	RetryCount    int          `json:"retry_count"`
	FillPrice     float64      `json:"fill_price,omitempty"`
}

// Session summarizes one run of the bot
type Session struct {
	ID         string     `json:"id"`
	StartTime  time.Time  `json:"start_time"`
	EndTime    *time.Time `json:"end_time,omitempty"`
	TradeCount int        `json:"trade_count"`
	TotalPnL   float64    `json:"total_pnl"`
}

// PerformanceSnapshot aggregates closed trade results at a point in time
type PerformanceSnapshot struct {
	Timestamp     time.Time `json:"timestamp"`
	TotalTrades   int       `json:"total_trades"`
	WinningTrades int       `json:"winning_trades"`
	LosingTrades  int       `json:"losing_trades"`
	WinRate       float64   `json:"win_rate"`
	TotalPnL      float64   `json:"total_pnl"`
	MaxDrawdown   float64   `json:"max_drawdown"`
}

// NewPerformanceSnapshot summarizes the closed trades in the list
func NewPerformanceSnapshot(trades []Trade, maxDrawdown float64, now time.Time) PerformanceSnapshot {
	snap := PerformanceSnapshot{Timestamp: now, MaxDrawdown: maxDrawdown}
	for _, t := range trades {
		if t.Status != TradeClosed {
			continue
		}
		snap.TotalTrades++
		pnl := t.RealizedPnL()
		snap.TotalPnL += pnl
		if pnl > 0 {
			snap.WinningTrades++
		} else if pnl < 0 {
			snap.LosingTrades++
		}
	}
	if snap.TotalTrades > 0 {
		snap.WinRate = float64(snap.WinningTrades) / float64(snap.TotalTrades) * 100
	}
	return snap
}
