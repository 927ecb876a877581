package types

import "time"

// Ticker is the last traded price snapshot for a symbol
type Ticker struct {
	Symbol    string    `json:"symbol"`
	Price     float64   `json:"price"`
	MarkPrice float64   `json:"mark_price,omitempty"`
	Volume    float64   `json:"volume,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// PositionSide is the direction of an open futures position
type PositionSide string

const (
	SideLong  PositionSide = "LONG"
	SideShort PositionSide = "SHORT"
)

// Opposite returns the side that reduces a position of this side
func (s PositionSide) Opposite() PositionSide {
	if s == SideLong {
		return SideShort
	}
	return SideLong
}

// Position represents an open futures position as reported by the exchange
type Position struct {
	Symbol        string       `json:"symbol"`
	Side          PositionSide `json:"side"`
	Size          float64      `json:"size"`
	EntryPrice    float64      `json:"entry_price"`
	MarkPrice     float64      `json:"mark_price"`
	UnrealizedPnL float64      `json:"unrealized_pnl"`
	Leverage      float64      `json:"leverage"`
	StopLoss      float64      `json:"stop_loss,omitempty"`
	TakeProfit    float64      `json:"take_profit,omitempty"`
	TrailingStop  float64      `json:"trailing_stop,omitempty"`
	OpenedAt      time.Time    `json:"opened_at"`
}

// CurrentPrice returns the mark price, falling back to the entry price
func (p Position) CurrentPrice() float64 {
	if p.MarkPrice > 0 {
		return p.MarkPrice
	}
	return p.EntryPrice
}

// Notional returns the position value at the current price
func (p Position) Notional() float64 {
	return p.Size * p.CurrentPrice()
}

// PnLAt returns the unrealized profit of the position if it were closed at price
func (p Position) PnLAt(price float64) float64 {
	if p.Side == SideShort {
		return (p.EntryPrice - price) * p.Size
	}
	return (price - p.EntryPrice) * p.Size
}

// AccountInfo is a snapshot of the futures wallet
type AccountInfo struct {
	TotalBalance     float64   `json:"total_balance"`
	AvailableBalance float64   `json:"available_balance"`
	Equity           float64   `json:"equity"`
	UnrealizedPnL    float64   `json:"unrealized_pnl"`
	Leverage         float64   `json:"leverage"`
	UpdatedAt        time.Time `json:"updated_at"`
}
