// Package sqlite is the durable storage.Store backed by a single SQLite file.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/vmaliev/crypto/internal/storage"
	"github.com/vmaliev/crypto/pkg/types"
)

// Store persists records through database/sql
type Store struct {
	db *sql.DB
}

var _ storage.Store = (*Store)(nil)

// Open opens or creates the database at path and applies the schema
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, err
	}
	// one writer; SQLite serializes anyway and this avoids SQLITE_BUSY
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{db: db}, nil
}

func isDuplicate(err error) bool {
	var se sqlite3.Error
	return errors.As(err, &se) && se.Code == sqlite3.ErrConstraint
}

func nullTime(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.UTC()
}

func nullFloat(f *float64) interface{} {
	if f == nil {
		return nil
	}
	return *f
}

func (s *Store) StoreSignal(ctx context.Context, sig types.ScoredSignal) error {
	if sig.ID == "" {
		return storage.ErrInvalidInput
	}
	errs, err := json.Marshal(nonNil(sig.Errors))
	if err != nil {
		return err
	}
	warnings, err := json.Marshal(nonNil(sig.Warnings))
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO signals
		(id, symbol, action, strength, price, mfi, rsi, timeframe, strategy,
		 signal_time, received_at, is_valid, confidence, errors, warnings)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sig.ID, sig.Symbol, string(sig.Action), string(sig.Strength), sig.Price, sig.MFI, sig.RSI,
		string(sig.Timeframe), sig.Strategy, sig.Timestamp.UTC(), sig.ReceivedAt.UTC(),
		sig.IsValid, sig.Confidence, string(errs), string(warnings),
	)
	if isDuplicate(err) {
		return storage.ErrDuplicateKey
	}
	return err
}

func nonNil(items []string) []string {
	if items == nil {
		return []string{}
	}
	return items
}

func (s *Store) MarkSignalProcessed(ctx context.Context, signalID string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `UPDATE signals SET processed = 1, processed_at = ? WHERE id = ?`, at.UTC(), signalID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (s *Store) GetSignal(ctx context.Context, signalID string) (*storage.SignalRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, symbol, action, strength, price, mfi, rsi, timeframe, strategy,
		       signal_time, received_at, is_valid, confidence, errors, warnings, processed, processed_at
		FROM signals WHERE id = ?`, signalID)

	var (
		rec                  storage.SignalRecord
		action, strength, tf string
		errs, warnings       string
		processedAt          sql.NullTime
	)
	sig := &rec.Signal
	err := row.Scan(&sig.ID, &sig.Symbol, &action, &strength, &sig.Price, &sig.MFI, &sig.RSI, &tf, &sig.Strategy,
		&sig.Timestamp, &sig.ReceivedAt, &sig.IsValid, &sig.Confidence, &errs, &warnings, &rec.Processed, &processedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	sig.Action = types.Action(action)
	sig.Strength = types.Strength(strength)
	sig.Timeframe = types.Timeframe(tf)
	if err := json.Unmarshal([]byte(errs), &sig.Errors); err != nil {
		return nil, fmt.Errorf("decode signal errors: %w", err)
	}
	if err := json.Unmarshal([]byte(warnings), &sig.Warnings); err != nil {
		return nil, fmt.Errorf("decode signal warnings: %w", err)
	}
	if processedAt.Valid {
		rec.ProcessedAt = &processedAt.Time
	}
	return &rec, nil
}

func (s *Store) StoreTrade(ctx context.Context, t types.Trade) error {
	if t.ID == "" {
		return storage.ErrInvalidInput
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO trades
		(id, signal_id, order_id, symbol, side, quantity, entry_price, exit_price, pnl, fees, status,
		 entry_time, exit_time, stop_loss, take_profit, confidence, strategy)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.SignalID, t.OrderID, t.Symbol, string(t.Side), t.Quantity, t.EntryPrice,
		nullFloat(t.ExitPrice), nullFloat(t.PnL), t.Fees, string(t.Status),
		t.EntryTime.UTC(), nullTime(t.ExitTime), t.StopLoss, t.TakeProfit, t.Confidence, t.Strategy,
	)
	if isDuplicate(err) {
		return storage.ErrDuplicateKey
	}
	return err
}

func (s *Store) UpdateTradeExit(ctx context.Context, tradeID string, exit storage.TradeExit) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE trades SET exit_price = ?, pnl = ?, fees = fees + ?, exit_time = ?, status = ?
		WHERE id = ? AND status = ?`,
		exit.ExitPrice, exit.PnL, exit.Fees, exit.ExitTime.UTC(), string(types.TradeClosed),
		tradeID, string(types.TradeOpen),
	)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}

	var status string
	err = s.db.QueryRowContext(ctx, `SELECT status FROM trades WHERE id = ?`, tradeID).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return storage.ErrNotFound
	}
	if err != nil {
		return err
	}
	return storage.ErrTradeClosed
}

const tradeColumns = `id, signal_id, order_id, symbol, side, quantity, entry_price, exit_price, pnl, fees, status,
	entry_time, exit_time, stop_loss, take_profit, confidence, strategy`

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanTrade(row scanner) (types.Trade, error) {
	var (
		t              types.Trade
		side, status   string
		exitPrice, pnl sql.NullFloat64
		exitTime       sql.NullTime
	)
	err := row.Scan(&t.ID, &t.SignalID, &t.OrderID, &t.Symbol, &side, &t.Quantity, &t.EntryPrice,
		&exitPrice, &pnl, &t.Fees, &status, &t.EntryTime, &exitTime,
		&t.StopLoss, &t.TakeProfit, &t.Confidence, &t.Strategy)
	if err != nil {
		return t, err
	}
	t.Side = types.PositionSide(side)
	t.Status = types.TradeStatus(status)
	if exitPrice.Valid {
		t.ExitPrice = &exitPrice.Float64
	}
	if pnl.Valid {
		t.PnL = &pnl.Float64
	}
	if exitTime.Valid {
		t.ExitTime = &exitTime.Time
	}
	return t, nil
}

func (s *Store) queryTrades(ctx context.Context, query string, args ...interface{}) ([]types.Trade, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []types.Trade
	for rows.Next() {
		t, err := scanTrade(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *Store) GetTrade(ctx context.Context, tradeID string) (*types.Trade, error) {
	t, err := scanTrade(s.db.QueryRowContext(ctx, `SELECT `+tradeColumns+` FROM trades WHERE id = ?`, tradeID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (s *Store) GetOpenTrades(ctx context.Context, symbol string) ([]types.Trade, error) {
	return s.queryTrades(ctx, `SELECT `+tradeColumns+` FROM trades
		WHERE status = ? AND (? = '' OR symbol = ?)
		ORDER BY entry_time ASC`, string(types.TradeOpen), symbol, symbol)
}

func (s *Store) GetTradeHistory(ctx context.Context, symbol string, limit int) ([]types.Trade, error) {
	if limit <= 0 {
		limit = -1
	}
	return s.queryTrades(ctx, `SELECT `+tradeColumns+` FROM trades
		WHERE (? = '' OR symbol = ?)
		ORDER BY entry_time DESC, id DESC
		LIMIT ?`, symbol, symbol, limit)
}

func (s *Store) StoreSession(ctx context.Context, session types.Session) error {
	if session.ID == "" {
		return storage.ErrInvalidInput
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (id, start_time, end_time, trade_count, total_pnl)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			end_time = excluded.end_time,
			trade_count = excluded.trade_count,
			total_pnl = excluded.total_pnl`,
		session.ID, session.StartTime.UTC(), nullTime(session.EndTime), session.TradeCount, session.TotalPnL,
	)
	return err
}

func (s *Store) LatestSession(ctx context.Context) (*types.Session, error) {
	var (
		session types.Session
		endTime sql.NullTime
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, start_time, end_time, trade_count, total_pnl
		FROM sessions ORDER BY start_time DESC LIMIT 1`).
		Scan(&session.ID, &session.StartTime, &endTime, &session.TradeCount, &session.TotalPnL)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if endTime.Valid {
		session.EndTime = &endTime.Time
	}
	return &session, nil
}

func (s *Store) StorePerformance(ctx context.Context, p types.PerformanceSnapshot) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO performance
		(time, total_trades, winning_trades, losing_trades, win_rate, total_pnl, max_drawdown)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		p.Timestamp.UTC(), p.TotalTrades, p.WinningTrades, p.LosingTrades, p.WinRate, p.TotalPnL, p.MaxDrawdown,
	)
	return err
}

func (s *Store) LatestPerformance(ctx context.Context) (*types.PerformanceSnapshot, error) {
	var p types.PerformanceSnapshot
	err := s.db.QueryRowContext(ctx, `
		SELECT time, total_trades, winning_trades, losing_trades, win_rate, total_pnl, max_drawdown
		FROM performance ORDER BY time DESC, rowid DESC LIMIT 1`).
		Scan(&p.Timestamp, &p.TotalTrades, &p.WinningTrades, &p.LosingTrades, &p.WinRate, &p.TotalPnL, &p.MaxDrawdown)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *Store) StoreRiskMetrics(ctx context.Context, m types.RiskMetrics) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO risk_metrics
		(time, daily_pnl, drawdown, max_drawdown, peak_balance, current_balance, volatility,
		 consecutive_losses, total_exposure, open_positions)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.Timestamp.UTC(), m.DailyPnL, m.Drawdown, m.MaxDrawdown, m.PeakBalance, m.CurrentBalance,
		m.Volatility, m.ConsecutiveLosses, m.TotalExposure, m.OpenPositions,
	)
	return err
}

func (s *Store) LatestRiskMetrics(ctx context.Context) (*types.RiskMetrics, error) {
	var m types.RiskMetrics
	err := s.db.QueryRowContext(ctx, `
		SELECT time, daily_pnl, drawdown, max_drawdown, peak_balance, current_balance, volatility,
		       consecutive_losses, total_exposure, open_positions
		FROM risk_metrics ORDER BY time DESC, rowid DESC LIMIT 1`).
		Scan(&m.Timestamp, &m.DailyPnL, &m.Drawdown, &m.MaxDrawdown, &m.PeakBalance, &m.CurrentBalance,
			&m.Volatility, &m.ConsecutiveLosses, &m.TotalExposure, &m.OpenPositions)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}
