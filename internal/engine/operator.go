package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/vmaliev/crypto/internal/monitoring"
	"github.com/vmaliev/crypto/internal/notifications"
	"github.com/vmaliev/crypto/pkg/types"
)

// Status is the operator view of the engine
type Status struct {
	Running      bool                    `json:"running"`
	Exchange     string                  `json:"exchange"`
	Session      types.Session           `json:"session"`
	Safety       types.SafetyStatus      `json:"safety"`
	Risk         types.RiskMetrics       `json:"risk"`
	Account      *types.AccountInfo      `json:"account,omitempty"`
	Positions    []types.Position        `json:"positions"`
	ActiveOrders int                     `json:"active_orders"`
	IntakeHalted bool                    `json:"intake_halted"`
	HaltReason   string                  `json:"halt_reason,omitempty"`
	LastRefresh  time.Time               `json:"last_refresh"`
	Health       monitoring.HealthStatus `json:"health"`
}

// Status aggregates safety, risk, account and session state
func (e *Engine) Status() Status {
	account, positions := e.snapshot()
	halted, reason := e.guard.Halted()

	e.mu.RLock()
	running := e.running
	lastRefresh := e.lastRefresh
	e.mu.RUnlock()

	if positions == nil {
		positions = []types.Position{}
	}
	return Status{
		Running:      running,
		Exchange:     e.venue.Name(),
		Session:      e.Session(),
		Safety:       e.SafetyStatus(),
		Risk:         e.RiskMetrics(),
		Account:      account,
		Positions:    positions,
		ActiveOrders: len(e.executor.ActiveOrders()),
		IntakeHalted: halted,
		HaltReason:   reason,
		LastRefresh:  lastRefresh,
		Health:       e.health.Status(),
	}
}

// SafetyStatus reports the breaker and emergency latches
func (e *Engine) SafetyStatus() types.SafetyStatus {
	return e.safety.Status()
}

// RiskMetrics merges the risk and safety accumulators with the last exposure snapshot
func (e *Engine) RiskMetrics() types.RiskMetrics {
	m := e.risk.Metrics()
	m.ConsecutiveLosses = e.safety.Metrics().ConsecutiveLosses

	_, positions := e.snapshot()
	for _, p := range positions {
		if p.Size <= 0 {
			continue
		}
		m.OpenPositions++
		m.TotalExposure += p.Notional()
	}
	return m
}

// ActiveOrders lists tracked orders that have not reached a terminal status
func (e *Engine) ActiveOrders() []types.ManagedOrder {
	return e.executor.ActiveOrders()
}

// OrderHistory lists tracked orders that finished
func (e *Engine) OrderHistory() []types.ManagedOrder {
	return e.executor.OrderHistory()
}

// Session returns a copy of the current session record
func (e *Engine) Session() types.Session {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.session
}

// Events exposes the operator event stream
func (e *Engine) Events() *Publisher {
	return e.events
}

// Metrics returns the prometheus collectors
func (e *Engine) Metrics() *monitoring.Metrics {
	return e.metrics
}

// Health returns the health checker
func (e *Engine) Health() *monitoring.HealthChecker {
	return e.health
}

// ForceCloseAll flattens every open position and returns how many were closed
func (e *Engine) ForceCloseAll(ctx context.Context, reason string) (int, error) {
	if reason == "" {
		reason = "operator close-all"
	}
	callCtx, cancel := context.WithTimeout(ctx, e.cfg.CallTimeout)
	positions, err := e.venue.GetPositions(callCtx)
	cancel()
	if err != nil {
		e.reportError(err, "GetPositions")
		return 0, fmt.Errorf("failed to list positions: %w", err)
	}

	var errs []error
	closed := 0
	for _, pos := range positions {
		if pos.Size <= 0 {
			continue
		}
		unlock := e.locks.Lock(pos.Symbol)
		_, err := e.closePosition(ctx, pos, reason)
		unlock()
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", pos.Symbol, err))
			continue
		}
		e.metrics.RecordForceClose(pos.Symbol, reason)
		closed++
	}

	e.logger.Risk("Force closed %d of %d position(s): %s", closed, len(positions), reason)
	if err := e.refreshAccount(ctx); err != nil {
		e.logger.LogWarning("Close All", "refresh after close-all failed: %v", err)
	}
	return closed, errors.Join(errs...)
}

// ActivateEmergencyStop blocks new trades until deactivated
func (e *Engine) ActivateEmergencyStop(reason string) {
	if reason == "" {
		reason = "operator"
	}
	e.safety.ActivateEmergencyStop(reason)
}

// DeactivateEmergencyStop clears the emergency latch
func (e *Engine) DeactivateEmergencyStop() {
	e.safety.DeactivateEmergencyStop()
}

// ResetCircuitBreaker clears a tripped breaker before its cooldown ends
func (e *Engine) ResetCircuitBreaker() {
	e.safety.ResetCircuitBreaker()
}

// ResumeIntake re-enables signal intake after a halt. It reports whether intake was halted.
func (e *Engine) ResumeIntake() bool {
	halted, reason := e.guard.Halted()
	if !halted {
		return false
	}
	e.guard.Resume()
	e.health.SetIntakeHalted(false, "")
	e.health.ClearErrors()
	e.events.Publish(Event{Type: EventIntakeResumed, Data: map[string]string{"previous_reason": reason}})
	e.send(notifications.Message{
		Title:    "Signal intake resumed",
		Body:     "Previously halted: " + reason,
		Severity: notifications.SeverityInfo,
		Priority: notifications.PriorityNormal,
	})
	go e.saveState()
	return true
}
