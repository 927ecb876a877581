// Package memory is an in-process storage.Store used for dry runs and tests.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/vmaliev/crypto/internal/storage"
	"github.com/vmaliev/crypto/pkg/types"
)

// Store keeps every record in maps guarded by one lock
type Store struct {
	mu          sync.RWMutex
	signals     map[string]*storage.SignalRecord
	trades      map[string]*types.Trade
	sessions    map[string]*types.Session
	performance []types.PerformanceSnapshot
	risk        []types.RiskMetrics
}

var _ storage.Store = (*Store)(nil)

// New creates an empty store
func New() *Store {
	return &Store{
		signals:  make(map[string]*storage.SignalRecord),
		trades:   make(map[string]*types.Trade),
		sessions: make(map[string]*types.Session),
	}
}

func (s *Store) StoreSignal(_ context.Context, sig types.ScoredSignal) error {
	if sig.ID == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.signals[sig.ID]; exists {
		return storage.ErrDuplicateKey
	}
	sig.Errors = append([]string(nil), sig.Errors...)
	sig.Warnings = append([]string(nil), sig.Warnings...)
	s.signals[sig.ID] = &storage.SignalRecord{Signal: sig}
	return nil
}

func (s *Store) MarkSignalProcessed(_ context.Context, signalID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.signals[signalID]
	if !ok {
		return storage.ErrNotFound
	}
	at = at.UTC()
	rec.Processed = true
	rec.ProcessedAt = &at
	return nil
}

func (s *Store) GetSignal(_ context.Context, signalID string) (*storage.SignalRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.signals[signalID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	cp := *rec
	return &cp, nil
}

func (s *Store) StoreTrade(_ context.Context, t types.Trade) error {
	if t.ID == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.trades[t.ID]; exists {
		return storage.ErrDuplicateKey
	}
	s.trades[t.ID] = &t
	return nil
}

func (s *Store) UpdateTradeExit(_ context.Context, tradeID string, exit storage.TradeExit) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.trades[tradeID]
	if !ok {
		return storage.ErrNotFound
	}
	return storage.CloseTrade(t, exit)
}

func (s *Store) GetTrade(_ context.Context, tradeID string) (*types.Trade, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.trades[tradeID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (s *Store) GetOpenTrades(_ context.Context, symbol string) ([]types.Trade, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []types.Trade
	for _, t := range s.trades {
		if t.Status == types.TradeOpen && (symbol == "" || t.Symbol == symbol) {
			out = append(out, *t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EntryTime.Before(out[j].EntryTime) })
	return out, nil
}

func (s *Store) GetTradeHistory(_ context.Context, symbol string, limit int) ([]types.Trade, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []types.Trade
	for _, t := range s.trades {
		if symbol == "" || t.Symbol == symbol {
			out = append(out, *t)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].EntryTime.Equal(out[j].EntryTime) {
			return out[i].ID > out[j].ID
		}
		return out[i].EntryTime.After(out[j].EntryTime)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) StoreSession(_ context.Context, session types.Session) error {
	if session.ID == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[session.ID] = &session
	return nil
}

func (s *Store) LatestSession(_ context.Context) (*types.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var latest *types.Session
	for _, session := range s.sessions {
		if latest == nil || session.StartTime.After(latest.StartTime) {
			latest = session
		}
	}
	if latest == nil {
		return nil, storage.ErrNotFound
	}
	cp := *latest
	return &cp, nil
}

func (s *Store) StorePerformance(_ context.Context, p types.PerformanceSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.performance = append(s.performance, p)
	return nil
}

func (s *Store) LatestPerformance(_ context.Context) (*types.PerformanceSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.performance) == 0 {
		return nil, storage.ErrNotFound
	}
	latest := s.performance[0]
	for _, p := range s.performance[1:] {
		if !p.Timestamp.Before(latest.Timestamp) {
			latest = p
		}
	}
	return &latest, nil
}

func (s *Store) StoreRiskMetrics(_ context.Context, m types.RiskMetrics) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.risk = append(s.risk, m)
	return nil
}

func (s *Store) LatestRiskMetrics(_ context.Context) (*types.RiskMetrics, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.risk) == 0 {
		return nil, storage.ErrNotFound
	}
	latest := s.risk[0]
	for _, m := range s.risk[1:] {
		if !m.Timestamp.Before(latest.Timestamp) {
			latest = m
		}
	}
	return &latest, nil
}

// Close is a no-op
func (s *Store) Close() error { return nil }
