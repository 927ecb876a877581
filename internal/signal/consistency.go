package signal

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/vmaliev/crypto/pkg/types"
)

// ConsistencyConfig tunes the cross-signal checks
type ConsistencyConfig struct {
	WindowSize              int           `json:"window_size" yaml:"window_size"`
	MaxDistinctActions      int           `json:"max_distinct_actions" yaml:"max_distinct_actions"`
	DuplicateInterval       time.Duration `json:"duplicate_interval" yaml:"duplicate_interval"`
	DuplicatePriceTolerance float64       `json:"duplicate_price_tolerance" yaml:"duplicate_price_tolerance"`
	MaxStrengthDeviation    float64       `json:"max_strength_deviation" yaml:"max_strength_deviation"`
	FlipFlopPenalty         float64       `json:"flip_flop_penalty" yaml:"flip_flop_penalty"`
	DuplicatePenalty        float64       `json:"duplicate_penalty" yaml:"duplicate_penalty"`
	StrengthPenalty         float64       `json:"strength_penalty" yaml:"strength_penalty"`
}

// DefaultConsistencyConfig returns a window of 5 with the standard penalties
func DefaultConsistencyConfig() ConsistencyConfig {
	return ConsistencyConfig{
		WindowSize:              5,
		MaxDistinctActions:      2,
		DuplicateInterval:       time.Minute,
		DuplicatePriceTolerance: 0.001,
		MaxStrengthDeviation:    1.0,
		FlipFlopPenalty:         0.15,
		DuplicatePenalty:        0.20,
		StrengthPenalty:         0.10,
	}
}

// ConsistencyChecker scores a signal against the recent signals for the same symbol
type ConsistencyChecker struct {
	cfg    ConsistencyConfig
	mu     sync.Mutex
	recent map[string][]types.Signal
}

// NewConsistencyChecker creates a checker; a non-positive window uses the defaults
func NewConsistencyChecker(cfg ConsistencyConfig) *ConsistencyChecker {
	if cfg.WindowSize <= 0 {
		cfg = DefaultConsistencyConfig()
	}
	return &ConsistencyChecker{cfg: cfg, recent: make(map[string][]types.Signal)}
}

// Recent returns a copy of the tracked window for a symbol, oldest first
func (c *ConsistencyChecker) Recent(symbol string) []types.Signal {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]types.Signal(nil), c.recent[symbol]...)
}

// Track appends a signal to its symbol window, evicting the oldest beyond the window size
func (c *ConsistencyChecker) Track(sig types.Signal) {
	c.mu.Lock()
	defer c.mu.Unlock()

	window := append(c.recent[sig.Symbol], sig)
	if len(window) > c.cfg.WindowSize {
		window = window[len(window)-c.cfg.WindowSize:]
	}
	c.recent[sig.Symbol] = window
}

// CheckAndTrack scores the signal against the tracked window and then records it
func (c *ConsistencyChecker) CheckAndTrack(s types.ScoredSignal) types.ScoredSignal {
	out := c.Check(s, c.Recent(s.Symbol))
	if s.IsValid {
		c.Track(s.Signal)
	}
	return out
}

// Check applies the flip-flop, duplicate and strength rules against recent.
// Invalid signals are returned unchanged.
func (c *ConsistencyChecker) Check(s types.ScoredSignal, recent []types.Signal) types.ScoredSignal {
	if !s.IsValid || len(recent) == 0 {
		return s
	}
	s.Warnings = append([]string(nil), s.Warnings...)

	window := recent
	if len(window) > c.cfg.WindowSize {
		window = window[len(window)-c.cfg.WindowSize:]
	}

	actions := map[types.Action]bool{s.Action: true}
	for _, r := range window {
		actions[r.Action] = true
	}
	if len(actions) > c.cfg.MaxDistinctActions {
		s.Confidence -= c.cfg.FlipFlopPenalty
		s.Warnings = append(s.Warnings, fmt.Sprintf("flip-flopping: %d distinct actions in last %d signals", len(actions), len(window)+1))
	}

	for _, r := range window {
		if r.Action != s.Action {
			continue
		}
		gap := s.Timestamp.Sub(r.Timestamp)
		if gap < 0 {
			gap = -gap
		}
		if gap >= c.cfg.DuplicateInterval || r.Price <= 0 {
			continue
		}
		if math.Abs(s.Price-r.Price)/r.Price <= c.cfg.DuplicatePriceTolerance {
			s.Confidence -= c.cfg.DuplicatePenalty
			s.Warnings = append(s.Warnings, fmt.Sprintf("near-duplicate of %s signal %s ago", r.Action, gap.Round(time.Second)))
			break
		}
	}

	var total float64
	for _, r := range window {
		total += r.Strength.Score()
	}
	avg := total / float64(len(window))
	if math.Abs(s.Strength.Score()-avg) > c.cfg.MaxStrengthDeviation {
		s.Confidence -= c.cfg.StrengthPenalty
		s.Warnings = append(s.Warnings, fmt.Sprintf("strength %s deviates from recent average %.2f", s.Strength, avg))
	}

	s.Confidence = clamp01(s.Confidence)
	return s
}
