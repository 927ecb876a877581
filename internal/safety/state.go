package safety

import (
	"sync"
	"time"
)

// EmergencyStop is an operator-controlled latch that overrides every other check
type EmergencyStop struct {
	Active      bool      `json:"active"`
	ActivatedAt time.Time `json:"activated_at,omitempty"`
	Reason      string    `json:"reason,omitempty"`
}

// State holds the process-wide safety accumulators. It is owned by the
// trading engine and injected into the Manager; all access goes through mu.
type State struct {
	mu sync.Mutex

	DailyPnL          float64
	ConsecutiveLosses int
	PeakBalance       float64
	MaxDrawdown       float64
	LastReset         time.Time
	CircuitBreaker    CircuitBreaker
	EmergencyStop     EmergencyStop
}

// NewState returns an empty state whose day starts at now
func NewState(now time.Time) *State {
	return &State{
		LastReset:      now,
		CircuitBreaker: CircuitBreaker{State: StateInactive},
	}
}

// Snapshot is a lock-free copy of State used for persistence and reporting
type Snapshot struct {
	DailyPnL          float64        `json:"daily_pnl"`
	ConsecutiveLosses int            `json:"consecutive_losses"`
	PeakBalance       float64        `json:"peak_balance"`
	MaxDrawdown       float64        `json:"max_drawdown"`
	LastReset         time.Time      `json:"last_reset"`
	CircuitBreaker    CircuitBreaker `json:"circuit_breaker"`
	EmergencyStop     EmergencyStop  `json:"emergency_stop"`
	SavedAt           time.Time      `json:"saved_at"`
}

// Snapshot copies the current accumulators
func (s *State) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		DailyPnL:          s.DailyPnL,
		ConsecutiveLosses: s.ConsecutiveLosses,
		PeakBalance:       s.PeakBalance,
		MaxDrawdown:       s.MaxDrawdown,
		LastReset:         s.LastReset,
		CircuitBreaker:    s.CircuitBreaker,
		EmergencyStop:     s.EmergencyStop,
		SavedAt:           time.Now(),
	}
}

// Restore replaces the accumulators with a previously saved snapshot
func (s *State) Restore(snap Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.DailyPnL = snap.DailyPnL
	s.ConsecutiveLosses = snap.ConsecutiveLosses
	s.PeakBalance = snap.PeakBalance
	s.MaxDrawdown = snap.MaxDrawdown
	s.LastReset = snap.LastReset
	s.CircuitBreaker = snap.CircuitBreaker
	if s.CircuitBreaker.State == "" {
		s.CircuitBreaker.State = StateInactive
	}
	s.EmergencyStop = snap.EmergencyStop
}

func sameDay(a, b time.Time) bool {
	y1, m1, d1 := a.Date()
	y2, m2, d2 := b.Date()
	return y1 == y2 && m1 == m2 && d1 == d2
}

// startOfDay is local midnight of the calendar day holding t
func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}
