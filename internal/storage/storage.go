// Package storage defines the persistence boundary of the trading pipeline.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/vmaliev/crypto/pkg/types"
)

var (
	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = errors.New("not found")

	// ErrDuplicateKey is returned when inserting a record whose key already exists.
	ErrDuplicateKey = errors.New("duplicate key")

	// ErrInvalidInput is returned when a record is missing its key.
	ErrInvalidInput = errors.New("invalid input")

	// ErrTradeClosed is returned when an exit is recorded for a trade that is already closed.
	ErrTradeClosed = errors.New("trade already closed")
)

// SignalRecord is a scored signal together with its processing state
type SignalRecord struct {
	Signal      types.ScoredSignal `json:"signal"`
	Processed   bool               `json:"processed"`
	ProcessedAt *time.Time         `json:"processed_at,omitempty"`
}

// TradeExit is the closing half of a trade
type TradeExit struct {
	ExitPrice float64   `json:"exit_price"`
	PnL       float64   `json:"pnl"`
	Fees      float64   `json:"fees"`
	ExitTime  time.Time `json:"exit_time"`
}

// Store persists signals, trades, sessions and periodic account snapshots
type Store interface {
	// StoreSignal inserts a signal. Returns ErrDuplicateKey if its id exists.
	StoreSignal(ctx context.Context, s types.ScoredSignal) error

	// MarkSignalProcessed flags a stored signal. Returns ErrNotFound if absent.
	MarkSignalProcessed(ctx context.Context, signalID string, at time.Time) error

	// GetSignal retrieves a signal by id. Returns ErrNotFound if absent.
	GetSignal(ctx context.Context, signalID string) (*SignalRecord, error)

	// StoreTrade inserts a new trade. Returns ErrDuplicateKey if its id exists.
	StoreTrade(ctx context.Context, t types.Trade) error

	// UpdateTradeExit closes an OPEN trade. Returns ErrNotFound or ErrTradeClosed.
	UpdateTradeExit(ctx context.Context, tradeID string, exit TradeExit) error

	// GetTrade retrieves a trade by id. Returns ErrNotFound if absent.
	GetTrade(ctx context.Context, tradeID string) (*types.Trade, error)

	// GetOpenTrades lists OPEN trades, all symbols when symbol is empty, oldest first.
	GetOpenTrades(ctx context.Context, symbol string) ([]types.Trade, error)

	// GetTradeHistory lists trades newest first; limit <= 0 returns all.
	GetTradeHistory(ctx context.Context, symbol string, limit int) ([]types.Trade, error)

	// StoreSession inserts or replaces a session record.
	StoreSession(ctx context.Context, s types.Session) error

	// LatestSession returns the most recently started session. Returns ErrNotFound if none.
	LatestSession(ctx context.Context) (*types.Session, error)

	StorePerformance(ctx context.Context, p types.PerformanceSnapshot) error

	// LatestPerformance returns the newest snapshot. Returns ErrNotFound if none.
	LatestPerformance(ctx context.Context) (*types.PerformanceSnapshot, error)

	StoreRiskMetrics(ctx context.Context, m types.RiskMetrics) error

	// LatestRiskMetrics returns the newest snapshot. Returns ErrNotFound if none.
	LatestRiskMetrics(ctx context.Context) (*types.RiskMetrics, error)

	Close() error
}

// CloseTrade applies exit to an OPEN trade in place
func CloseTrade(t *types.Trade, exit TradeExit) error {
	if t.Status != types.TradeOpen {
		return ErrTradeClosed
	}
	exitPrice, pnl, exitTime := exit.ExitPrice, exit.PnL, exit.ExitTime.UTC()
	t.ExitPrice = &exitPrice
	t.PnL = &pnl
	t.ExitTime = &exitTime
	t.Fees += exit.Fees
	t.Status = types.TradeClosed
	return nil
}
