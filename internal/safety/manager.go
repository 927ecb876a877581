package safety

import (
	"fmt"
	"sort"
	"time"

	"github.com/vmaliev/crypto/pkg/types"
)

// Config holds account-level guardrails; percentages are in percent units
type Config struct {
	MinAccountBalance        float64       `json:"min_account_balance" yaml:"min_account_balance"`
	MaxDailyLossPercent      float64       `json:"max_daily_loss_percent" yaml:"max_daily_loss_percent"`
	MaxDrawdownPercent       float64       `json:"max_drawdown_percent" yaml:"max_drawdown_percent"`
	MaxOpenPositions         int           `json:"max_open_positions" yaml:"max_open_positions"`
	MaxTotalExposurePercent  float64       `json:"max_total_exposure_percent" yaml:"max_total_exposure_percent"`
	MaxConsecutiveLosses     int           `json:"max_consecutive_losses" yaml:"max_consecutive_losses"`
	MaxVolatility            float64       `json:"max_volatility" yaml:"max_volatility"`
	MaxLeverage              float64       `json:"max_leverage" yaml:"max_leverage"`
	CircuitBreakerCooldown   time.Duration `json:"circuit_breaker_cooldown" yaml:"circuit_breaker_cooldown"`
	AutoResetCircuitBreaker  bool          `json:"auto_reset_circuit_breaker" yaml:"auto_reset_circuit_breaker"`
	EmergencyStopLossPercent float64       `json:"emergency_stop_loss_percent" yaml:"emergency_stop_loss_percent"`
	MaxPositionPercent       float64       `json:"max_position_percent" yaml:"max_position_percent"`
}

// DefaultConfig returns the standard guardrails
func DefaultConfig() Config {
	return Config{
		MinAccountBalance:        100,
		MaxDailyLossPercent:      5,
		MaxDrawdownPercent:       15,
		MaxOpenPositions:         5,
		MaxTotalExposurePercent:  50,
		MaxConsecutiveLosses:     3,
		MaxVolatility:            50,
		MaxLeverage:              3,
		CircuitBreakerCooldown:   30 * time.Minute,
		AutoResetCircuitBreaker:  true,
		EmergencyStopLossPercent: 10,
		MaxPositionPercent:       10,
	}
}

// Logger is the subset of the bot logger used for safety events
type Logger interface {
	Risk(format string, args ...interface{})
}

// BreakerEvent describes a circuit breaker or emergency stop transition
type BreakerEvent struct {
	Kind   string    `json:"kind"`
	Active bool      `json:"active"`
	Reason string    `json:"reason"`
	At     time.Time `json:"at"`
}

const (
	EventCircuitBreaker = "circuit_breaker"
	EventEmergencyStop  = "emergency_stop"
)

// Manager enforces account-wide guardrails over an injected State
type Manager struct {
	cfg      Config
	state    *State
	logger   Logger
	now      func() time.Time
	onChange func(BreakerEvent)
}

// NewManager creates a safety manager; a nil state starts fresh
func NewManager(cfg Config, state *State, logger Logger) *Manager {
	if cfg.CircuitBreakerCooldown <= 0 {
		cfg.CircuitBreakerCooldown = DefaultConfig().CircuitBreakerCooldown
	}
	if cfg.MaxPositionPercent <= 0 {
		cfg.MaxPositionPercent = DefaultConfig().MaxPositionPercent
	}
	if state == nil {
		state = NewState(time.Now())
	}
	return &Manager{cfg: cfg, state: state, logger: logger, now: time.Now}
}

// WithClock overrides the time source used for cooldowns and day boundaries
func (m *Manager) WithClock(now func() time.Time) *Manager {
	m.now = now
	return m
}

// OnStateChange registers a callback for breaker and emergency stop transitions.
// The callback runs after the state lock is released.
func (m *Manager) OnStateChange(fn func(BreakerEvent)) {
	m.onChange = fn
}

// State returns the injected accumulator state
func (m *Manager) State() *State {
	return m.state
}

// Config returns the active guardrails
func (m *Manager) Config() Config {
	return m.cfg
}

// CheckSafety evaluates whether new trades may be opened
func (m *Manager) CheckSafety(account types.AccountInfo, positions []types.Position, metrics types.RiskMetrics, recentTrades []types.Trade) types.SafetyStatus {
	now := m.now()
	m.state.mu.Lock()
	status, events := m.evaluateLocked(now, account, positions, metrics, recentTrades)
	m.state.mu.Unlock()

	m.emit(events)
	if !status.IsTradingEnabled || status.RiskLevel.Rank() >= types.RiskHigh.Rank() {
		m.logf("safety check: enabled=%t level=%s warnings=%v", status.IsTradingEnabled, status.RiskLevel, status.Warnings)
	}
	return status
}

func (m *Manager) evaluateLocked(now time.Time, account types.AccountInfo, positions []types.Position, metrics types.RiskMetrics, recentTrades []types.Trade) (types.SafetyStatus, []BreakerEvent) {
	s := m.state
	var events []BreakerEvent

	if s.EmergencyStop.Active {
		return types.SafetyStatus{
			IsTradingEnabled:     false,
			CircuitBreakerActive: s.CircuitBreaker.Active(),
			EmergencyStopActive:  true,
			Warnings:             []string{fmt.Sprintf("emergency stop active: %s", s.EmergencyStop.Reason)},
			RiskLevel:            types.RiskCritical,
		}, nil
	}

	m.rollDayLocked(now)

	if s.CircuitBreaker.Active() {
		if !s.CircuitBreaker.tryAutoReset(now, m.cfg.CircuitBreakerCooldown, m.cfg.AutoResetCircuitBreaker) {
			return types.SafetyStatus{
				IsTradingEnabled:     false,
				CircuitBreakerActive: true,
				Warnings: []string{fmt.Sprintf("circuit breaker active: %s (%s remaining)",
					s.CircuitBreaker.Reason, s.CircuitBreaker.Remaining(now, m.cfg.CircuitBreakerCooldown).Round(time.Second))},
				RiskLevel: types.RiskHigh,
			}, nil
		}
		events = append(events, BreakerEvent{Kind: EventCircuitBreaker, Active: false, Reason: "cooldown elapsed", At: now})
	}

	status := types.SafetyStatus{IsTradingEnabled: true, RiskLevel: types.RiskLow}
	warn := func(level types.RiskLevel, format string, args ...interface{}) {
		status.RiskLevel = status.RiskLevel.Escalate(level)
		status.Warnings = append(status.Warnings, fmt.Sprintf(format, args...))
	}
	trip := func(reason string) {
		status.IsTradingEnabled = false
		if s.CircuitBreaker.trip(reason, now) {
			events = append(events, BreakerEvent{Kind: EventCircuitBreaker, Active: true, Reason: reason, At: now})
		}
	}

	balance := account.TotalBalance
	if balance > s.PeakBalance {
		s.PeakBalance = balance
	}
	var drawdown float64
	if s.PeakBalance > 0 && balance > 0 {
		drawdown = (s.PeakBalance - balance) / s.PeakBalance * 100
	}
	if drawdown > s.MaxDrawdown {
		s.MaxDrawdown = drawdown
	}

	if balance < m.cfg.MinAccountBalance {
		status.IsTradingEnabled = false
		warn(types.RiskCritical, "balance %.2f below minimum %.2f", balance, m.cfg.MinAccountBalance)
	}

	if limit := balance * m.cfg.MaxDailyLossPercent / 100; m.cfg.MaxDailyLossPercent > 0 && s.DailyPnL < -limit {
		warn(types.RiskCritical, "daily loss %.2f exceeds limit %.2f", s.DailyPnL, limit)
		trip("daily loss limit breached")
	}

	if m.cfg.MaxDrawdownPercent > 0 && drawdown > m.cfg.MaxDrawdownPercent {
		warn(types.RiskCritical, "drawdown %.2f%% exceeds %.2f%%", drawdown, m.cfg.MaxDrawdownPercent)
		trip("max drawdown breached")
	}

	open := 0
	var exposure float64
	for _, p := range positions {
		if p.Size <= 0 {
			continue
		}
		open++
		exposure += p.Notional()
	}

	if max := m.cfg.MaxOpenPositions; max > 0 {
		switch {
		case open >= max:
			warn(types.RiskHigh, "open positions at limit (%d/%d)", open, max)
		case max > 1 && open >= max-1:
			warn(types.RiskHigh, "open positions near limit (%d/%d)", open, max)
		}
	}

	if m.cfg.MaxTotalExposurePercent > 0 && balance > 0 {
		if limit := balance * m.cfg.MaxTotalExposurePercent / 100; exposure > limit {
			warn(types.RiskHigh, "total exposure %.2f over cap %.2f", exposure, limit)
		}
	}

	if recentTrades != nil {
		s.ConsecutiveLosses = ConsecutiveLosses(closedSince(recentTrades, startOfDay(now)))
	}
	if m.cfg.MaxConsecutiveLosses > 0 && s.ConsecutiveLosses >= m.cfg.MaxConsecutiveLosses {
		warn(types.RiskHigh, "%d consecutive losses", s.ConsecutiveLosses)
		trip(fmt.Sprintf("%d consecutive losses", s.ConsecutiveLosses))
	}

	if m.cfg.MaxVolatility > 0 && metrics.Volatility > m.cfg.MaxVolatility {
		warn(types.RiskMedium, "volatility %.2f over cap %.2f", metrics.Volatility, m.cfg.MaxVolatility)
	}

	if m.cfg.MaxLeverage > 0 && balance > 0 {
		if lev := exposure / balance; lev > m.cfg.MaxLeverage {
			warn(types.RiskHigh, "leverage %.2fx over cap %.2fx", lev, m.cfg.MaxLeverage)
		}
	}

	status.CircuitBreakerActive = s.CircuitBreaker.Active()
	if status.CircuitBreakerActive {
		status.IsTradingEnabled = false
	}
	return status, events
}

func (m *Manager) rollDayLocked(now time.Time) {
	if sameDay(m.state.LastReset, now) {
		return
	}
	m.state.DailyPnL = 0
	m.state.ConsecutiveLosses = 0
	m.state.LastReset = now
}

// UpdateDailyLoss accumulates realized PnL into the day; a new calendar day
// restarts the total at pnl and clears the consecutive loss counter
func (m *Manager) UpdateDailyLoss(pnl float64) {
	now := m.now()
	m.state.mu.Lock()
	defer m.state.mu.Unlock()
	m.updateDailyLossLocked(pnl, now)
}

func (m *Manager) updateDailyLossLocked(pnl float64, now time.Time) {
	s := m.state
	if !sameDay(s.LastReset, now) {
		s.DailyPnL = pnl
		s.ConsecutiveLosses = 0
		s.LastReset = now
		return
	}
	s.DailyPnL += pnl
}

// RecordTradeResult books a closed trade into the daily total and the loss streak
func (m *Manager) RecordTradeResult(pnl float64) {
	now := m.now()
	m.state.mu.Lock()
	defer m.state.mu.Unlock()

	m.updateDailyLossLocked(pnl, now)
	if pnl < 0 {
		m.state.ConsecutiveLosses++
	} else {
		m.state.ConsecutiveLosses = 0
	}
}

// ConsecutiveLosses counts the run of losing closed trades ending at the most recent one
func ConsecutiveLosses(trades []types.Trade) int {
	closed := make([]types.Trade, 0, len(trades))
	for _, t := range trades {
		if t.Status == types.TradeClosed && t.PnL != nil {
			closed = append(closed, t)
		}
	}
	sort.SliceStable(closed, func(i, j int) bool {
		return closeTime(closed[i]).After(closeTime(closed[j]))
	})

	n := 0
	for _, t := range closed {
		if *t.PnL >= 0 {
			break
		}
		n++
	}
	return n
}

func closeTime(t types.Trade) time.Time {
	if t.ExitTime != nil {
		return *t.ExitTime
	}
	return t.EntryTime
}

func closedSince(trades []types.Trade, since time.Time) []types.Trade {
	out := make([]types.Trade, 0, len(trades))
	for _, t := range trades {
		if !closeTime(t).Before(since) {
			out = append(out, t)
		}
	}
	return out
}

// ShouldForceClosePosition flags a position whose loss or size is out of bounds for the account
func (m *Manager) ShouldForceClosePosition(position types.Position, currentPrice, accountBalance float64) (bool, string) {
	if position.Size <= 0 || accountBalance <= 0 {
		return false, ""
	}
	if currentPrice <= 0 {
		currentPrice = position.CurrentPrice()
	}

	pnl := position.PnLAt(currentPrice)
	if limit := accountBalance * m.cfg.EmergencyStopLossPercent / 100; m.cfg.EmergencyStopLossPercent > 0 && -pnl > limit {
		return true, fmt.Sprintf("unrealized loss %.2f exceeds emergency limit %.2f", -pnl, limit)
	}

	if limit := accountBalance * m.cfg.MaxPositionPercent / 100; position.Size*currentPrice > limit {
		return true, fmt.Sprintf("position notional %.2f exceeds %.0f%% of balance", position.Size*currentPrice, m.cfg.MaxPositionPercent)
	}
	return false, ""
}

// ActivateEmergencyStop latches trading off until explicitly deactivated
func (m *Manager) ActivateEmergencyStop(reason string) {
	now := m.now()
	m.state.mu.Lock()
	changed := !m.state.EmergencyStop.Active
	m.state.EmergencyStop = EmergencyStop{Active: true, ActivatedAt: now, Reason: reason}
	m.state.mu.Unlock()

	m.logf("emergency stop activated: %s", reason)
	if changed {
		m.emit([]BreakerEvent{{Kind: EventEmergencyStop, Active: true, Reason: reason, At: now}})
	}
}

// DeactivateEmergencyStop clears the emergency latch
func (m *Manager) DeactivateEmergencyStop() {
	now := m.now()
	m.state.mu.Lock()
	changed := m.state.EmergencyStop.Active
	m.state.EmergencyStop = EmergencyStop{}
	m.state.mu.Unlock()

	if changed {
		m.logf("emergency stop deactivated")
		m.emit([]BreakerEvent{{Kind: EventEmergencyStop, Active: false, Reason: "operator", At: now}})
	}
}

// TriggerCircuitBreaker trips the breaker for an external reason
func (m *Manager) TriggerCircuitBreaker(reason string) {
	now := m.now()
	m.state.mu.Lock()
	changed := m.state.CircuitBreaker.trip(reason, now)
	m.state.mu.Unlock()

	if changed {
		m.logf("circuit breaker triggered: %s", reason)
		m.emit([]BreakerEvent{{Kind: EventCircuitBreaker, Active: true, Reason: reason, At: now}})
	}
}

// ResetCircuitBreaker clears the breaker regardless of cooldown
func (m *Manager) ResetCircuitBreaker() {
	now := m.now()
	m.state.mu.Lock()
	changed := m.state.CircuitBreaker.reset()
	m.state.mu.Unlock()

	if changed {
		m.logf("circuit breaker reset by operator")
		m.emit([]BreakerEvent{{Kind: EventCircuitBreaker, Active: false, Reason: "operator reset", At: now}})
	}
}

// Status reports the latch states without evaluating account metrics
func (m *Manager) Status() types.SafetyStatus {
	now := m.now()
	m.state.mu.Lock()
	defer m.state.mu.Unlock()

	status := types.SafetyStatus{
		IsTradingEnabled:     true,
		CircuitBreakerActive: m.state.CircuitBreaker.Active(),
		EmergencyStopActive:  m.state.EmergencyStop.Active,
		RiskLevel:            types.RiskLow,
	}
	if status.CircuitBreakerActive {
		status.IsTradingEnabled = false
		status.RiskLevel = types.RiskHigh
		status.Warnings = append(status.Warnings, fmt.Sprintf("circuit breaker active: %s (%s remaining)",
			m.state.CircuitBreaker.Reason, m.state.CircuitBreaker.Remaining(now, m.cfg.CircuitBreakerCooldown).Round(time.Second)))
	}
	if status.EmergencyStopActive {
		status.IsTradingEnabled = false
		status.RiskLevel = types.RiskCritical
		status.Warnings = append(status.Warnings, fmt.Sprintf("emergency stop active: %s", m.state.EmergencyStop.Reason))
	}
	return status
}

// Metrics returns the safety accumulators as risk metrics
func (m *Manager) Metrics() types.RiskMetrics {
	m.state.mu.Lock()
	defer m.state.mu.Unlock()
	return types.RiskMetrics{
		Timestamp:         m.now(),
		DailyPnL:          m.state.DailyPnL,
		MaxDrawdown:       m.state.MaxDrawdown,
		PeakBalance:       m.state.PeakBalance,
		ConsecutiveLosses: m.state.ConsecutiveLosses,
	}
}

func (m *Manager) emit(events []BreakerEvent) {
	if m.onChange == nil {
		return
	}
	for _, e := range events {
		m.onChange(e)
	}
}

func (m *Manager) logf(format string, args ...interface{}) {
	if m.logger != nil {
		m.logger.Risk(format, args...)
	}
}
