package risk

import (
	"fmt"
	"sync"
	"time"

	"github.com/vmaliev/crypto/pkg/types"
)

// Manager implements trade-level risk gating and bracket level computation
type Manager struct {
	cfg        Config
	volatility *VolatilityTracker

	mu             sync.Mutex
	dailyPnL       float64
	lastReset      time.Time
	peakBalance    float64
	currentBalance float64
	maxDrawdown    float64

	now func() time.Time
}

// NewManager creates a risk manager with its own volatility tracker
func NewManager(cfg Config) *Manager {
	cfg = cfg.withDefaults()
	return &Manager{
		cfg:        cfg,
		volatility: NewVolatilityTracker(cfg.VolatilityWindow),
		now:        time.Now,
	}
}

// WithClock overrides the time source used for the daily reset
func (m *Manager) WithClock(now func() time.Time) *Manager {
	m.now = now
	return m
}

// Config returns the active risk limits
func (m *Manager) Config() Config {
	return m.cfg
}

// Volatility exposes the per-symbol volatility tracker
func (m *Manager) Volatility() *VolatilityTracker {
	return m.volatility
}

// ObservePrice feeds a price into the volatility window and returns the
// symbol volatility, or nil while fewer than two prices are known
func (m *Manager) ObservePrice(symbol string, price float64) *float64 {
	m.volatility.AddPrice(symbol, price)
	return m.volatility.Known(symbol)
}

// UpdateBalance records the current account balance and raises the peak if needed
func (m *Manager) UpdateBalance(balance float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.observeBalanceLocked(balance)
}

func (m *Manager) observeBalanceLocked(balance float64) {
	if balance <= 0 {
		return
	}
	m.currentBalance = balance
	if balance > m.peakBalance {
		m.peakBalance = balance
	}
	if dd := m.drawdownLocked(); dd > m.maxDrawdown {
		m.maxDrawdown = dd
	}
}

func (m *Manager) drawdownLocked() float64 {
	if m.peakBalance <= 0 || m.currentBalance <= 0 {
		return 0
	}
	return (m.peakBalance - m.currentBalance) / m.peakBalance * 100
}

// RecordPnL adds realized profit or loss to the current day
func (m *Manager) RecordPnL(pnl float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rollDayLocked()
	m.dailyPnL += pnl
}

func (m *Manager) rollDayLocked() {
	now := m.now()
	if m.lastReset.IsZero() {
		m.lastReset = now
		return
	}
	y1, m1, d1 := m.lastReset.Date()
	y2, m2, d2 := now.Date()
	if y1 != y2 || m1 != m2 || d1 != d2 {
		m.dailyPnL = 0
		m.lastReset = now
	}
}

// CheckTradeRisk runs the daily loss, drawdown, concentration and volatility checks
// and computes stop-loss, take-profit and trailing levels for the entry
func (m *Manager) CheckTradeRisk(signal types.Signal, currentPrice, accountBalance float64, openPositions []types.Position, volatility *float64) types.RiskCheckResult {
	m.mu.Lock()
	m.rollDayLocked()
	m.observeBalanceLocked(accountBalance)
	dailyPnL := m.dailyPnL
	drawdown := m.drawdownLocked()
	m.mu.Unlock()

	result := types.RiskCheckResult{ShouldTrade: true, RiskLevel: types.RiskLow}

	if limit := accountBalance * m.cfg.MaxRiskPerTrade / 100; dailyPnL < -limit {
		result.ShouldTrade = false
		result.RiskLevel = types.RiskCritical
		result.Warnings = append(result.Warnings, fmt.Sprintf("daily loss %.2f exceeds limit %.2f", dailyPnL, limit))
	}

	if drawdown > m.cfg.MaxDrawdownPercent {
		result.ShouldTrade = false
		result.RiskLevel = types.RiskCritical
		result.Warnings = append(result.Warnings, fmt.Sprintf("drawdown %.2f%% exceeds %.2f%%", drawdown, m.cfg.MaxDrawdownPercent))
	}

	for _, p := range openPositions {
		if p.Symbol == signal.Symbol && p.Size > 0 {
			result.RiskLevel = result.RiskLevel.Escalate(types.RiskHigh)
			result.Warnings = append(result.Warnings, fmt.Sprintf("existing %s position in %s", p.Side, p.Symbol))
			break
		}
	}

	if volatility != nil && *volatility > m.cfg.MaxVolatility {
		result.RiskLevel = result.RiskLevel.Escalate(types.RiskHigh)
		result.Warnings = append(result.Warnings, fmt.Sprintf("volatility %.2f above %.2f", *volatility, m.cfg.MaxVolatility))
	}

	if signal.Action != types.ActionClose {
		m.applyLevels(&result, signal.Action, currentPrice, volatility)
	}

	result.MaxPositionSize = accountBalance * m.cfg.BasePositionPercent / 100 * result.RiskLevel.PositionMultiplier()
	return result
}

func (m *Manager) applyLevels(result *types.RiskCheckResult, action types.Action, price float64, volatility *float64) {
	var stopDistance, targetDistance float64
	volStops := m.cfg.UseVolatilityStops && volatility != nil && *volatility > 0

	if volStops {
		stopDistance = m.cfg.StopVolatilityFactor * (*volatility / 100) * price
		targetDistance = stopDistance * m.cfg.RewardRiskRatio
	} else {
		stopDistance = price * m.cfg.StopLossPercent / 100
		targetDistance = price * m.cfg.TakeProfitPercent / 100
	}

	sign := 1.0
	if action == types.ActionSell {
		sign = -1.0
	}
	result.StopLossPrice = price - sign*stopDistance
	result.TakeProfitPrice = price + sign*targetDistance

	if volStops {
		trailing := price - sign*m.cfg.TrailingVolatilityRate*(*volatility/100)*price
		result.TrailingStopPrice = &trailing
	}
}

// CheckPositionRisk closes a position whose price crossed its stop, target or
// trailing level; otherwise it may suggest a tighter trailing stop
func (m *Manager) CheckPositionRisk(position types.Position) PositionRiskResult {
	price := position.CurrentPrice()
	long := position.Side != types.SideShort

	crossedDown := func(level float64) bool { return level > 0 && price <= level }
	crossedUp := func(level float64) bool { return level > 0 && price >= level }

	if long {
		switch {
		case crossedDown(position.StopLoss):
			return PositionRiskResult{ShouldClose: true, Reason: fmt.Sprintf("stop loss hit at %.4f", price)}
		case crossedUp(position.TakeProfit):
			return PositionRiskResult{ShouldClose: true, Reason: fmt.Sprintf("take profit hit at %.4f", price)}
		case crossedDown(position.TrailingStop):
			return PositionRiskResult{ShouldClose: true, Reason: fmt.Sprintf("trailing stop hit at %.4f", price)}
		}
	} else {
		switch {
		case crossedUp(position.StopLoss):
			return PositionRiskResult{ShouldClose: true, Reason: fmt.Sprintf("stop loss hit at %.4f", price)}
		case crossedDown(position.TakeProfit):
			return PositionRiskResult{ShouldClose: true, Reason: fmt.Sprintf("take profit hit at %.4f", price)}
		case crossedUp(position.TrailingStop):
			return PositionRiskResult{ShouldClose: true, Reason: fmt.Sprintf("trailing stop hit at %.4f", price)}
		}
	}

	if !m.cfg.UseVolatilityStops {
		return PositionRiskResult{}
	}
	vol := m.volatility.Volatility(position.Symbol)
	if vol <= 0 {
		return PositionRiskResult{}
	}

	offset := m.cfg.TrailingVolatilityRate * (vol / 100) * price
	if long {
		suggested := price - offset
		if suggested > position.TrailingStop {
			return PositionRiskResult{TrailingStop: &suggested}
		}
	} else {
		suggested := price + offset
		if position.TrailingStop == 0 || suggested < position.TrailingStop {
			return PositionRiskResult{TrailingStop: &suggested}
		}
	}
	return PositionRiskResult{}
}

// Metrics returns the current risk metrics snapshot
func (m *Manager) Metrics() types.RiskMetrics {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rollDayLocked()
	return types.RiskMetrics{
		Timestamp:      m.now(),
		DailyPnL:       m.dailyPnL,
		Drawdown:       m.drawdownLocked(),
		MaxDrawdown:    m.maxDrawdown,
		PeakBalance:    m.peakBalance,
		CurrentBalance: m.currentBalance,
	}
}

// Snapshot copies the accumulators that survive a restart
func (m *Manager) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Snapshot{
		DailyPnL:    m.dailyPnL,
		LastReset:   m.lastReset,
		PeakBalance: m.peakBalance,
		MaxDrawdown: m.maxDrawdown,
	}
}

// Restore reloads accumulators saved by Snapshot; a stale day is rolled on the next read
func (m *Manager) Restore(snap Snapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dailyPnL = snap.DailyPnL
	m.lastReset = snap.LastReset
	m.peakBalance = snap.PeakBalance
	m.maxDrawdown = snap.MaxDrawdown
}
