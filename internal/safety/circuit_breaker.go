package safety

import "time"

// CircuitBreakerState represents the state of the account circuit breaker
type CircuitBreakerState string

const (
	StateInactive CircuitBreakerState = "INACTIVE"
	StateActive   CircuitBreakerState = "ACTIVE"
)

// CircuitBreaker is a time-bounded trading halt tripped by a risk threshold breach.
// It has no lock of its own; callers hold State.mu.
type CircuitBreaker struct {
	State       CircuitBreakerState `json:"state"`
	TriggeredAt time.Time           `json:"triggered_at,omitempty"`
	Reason      string              `json:"reason,omitempty"`
	TripCount   int                 `json:"trip_count"`
}

// Active reports whether trading is currently halted by the breaker
func (cb *CircuitBreaker) Active() bool {
	return cb.State == StateActive
}

// trip moves INACTIVE -> ACTIVE and reports whether the state changed.
// An already active breaker keeps its original trigger time and reason.
func (cb *CircuitBreaker) trip(reason string, now time.Time) bool {
	if cb.Active() {
		return false
	}
	cb.State = StateActive
	cb.TriggeredAt = now
	cb.Reason = reason
	cb.TripCount++
	return true
}

// cooldownElapsed reports whether at least cooldown has passed since the trip
func (cb *CircuitBreaker) cooldownElapsed(now time.Time, cooldown time.Duration) bool {
	return now.Sub(cb.TriggeredAt) >= cooldown
}

// tryAutoReset moves ACTIVE -> INACTIVE once the cooldown has elapsed and auto reset is enabled
func (cb *CircuitBreaker) tryAutoReset(now time.Time, cooldown time.Duration, autoReset bool) bool {
	if !cb.Active() || !autoReset || !cb.cooldownElapsed(now, cooldown) {
		return false
	}
	cb.reset()
	return true
}

// Remaining returns how long until the cooldown ends, zero when inactive or elapsed
func (cb *CircuitBreaker) Remaining(now time.Time, cooldown time.Duration) time.Duration {
	if !cb.Active() {
		return 0
	}
	left := cooldown - now.Sub(cb.TriggeredAt)
	if left < 0 {
		return 0
	}
	return left
}

func (cb *CircuitBreaker) reset() bool {
	if !cb.Active() {
		return false
	}
	cb.State = StateInactive
	cb.Reason = ""
	cb.TriggeredAt = time.Time{}
	return true
}
