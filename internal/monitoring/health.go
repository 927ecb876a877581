package monitoring

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"
)

// Health states reported by the checker
const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
)

type HealthChecker struct {
	mu            sync.RWMutex
	startTime     time.Time
	lastSignal    time.Time
	lastTrade     time.Time
	lastRefresh   time.Time
	isConnected   bool
	intakeHalted  bool
	haltReason    string
	errors        []string
	maxErrors     int
	refreshMaxAge time.Duration
	now           func() time.Time
}

type HealthStatus struct {
	Status       string    `json:"status"`
	Timestamp    time.Time `json:"timestamp"`
	LastSignal   time.Time `json:"last_signal"`
	LastTrade    time.Time `json:"last_trade"`
	LastRefresh  time.Time `json:"last_account_refresh"`
	IsConnected  bool      `json:"is_connected"`
	IntakeHalted bool      `json:"intake_halted"`
	HaltReason   string    `json:"halt_reason,omitempty"`
	Uptime       string    `json:"uptime"`
	Errors       []string  `json:"errors,omitempty"`
}

// NewHealthChecker creates a checker; an account refresh older than
// refreshMaxAge degrades health
func NewHealthChecker(refreshMaxAge time.Duration) *HealthChecker {
	return &HealthChecker{
		startTime:     time.Now(),
		errors:        make([]string, 0),
		maxErrors:     10,
		refreshMaxAge: refreshMaxAge,
		now:           time.Now,
	}
}

// WithClock replaces the wall clock
func (h *HealthChecker) WithClock(now func() time.Time) *HealthChecker {
	h.now = now
	h.startTime = now()
	return h
}

func (h *HealthChecker) MarkSignal() {
	h.mu.Lock()
	h.lastSignal = h.now()
	h.mu.Unlock()
}

func (h *HealthChecker) MarkTrade() {
	h.mu.Lock()
	h.lastTrade = h.now()
	h.mu.Unlock()
}

// MarkRefresh records the outcome of an account refresh
func (h *HealthChecker) MarkRefresh(err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.isConnected = err == nil
	if err == nil {
		h.lastRefresh = h.now()
		return
	}
	h.recordErrorLocked(err.Error())
}

// RecordError keeps the most recent error strings
func (h *HealthChecker) RecordError(msg string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.recordErrorLocked(msg)
}

func (h *HealthChecker) recordErrorLocked(msg string) {
	h.errors = append(h.errors, msg)
	if len(h.errors) > h.maxErrors {
		h.errors = h.errors[len(h.errors)-h.maxErrors:]
	}
}

// ClearErrors forgets recorded errors
func (h *HealthChecker) ClearErrors() {
	h.mu.Lock()
	h.errors = h.errors[:0]
	h.mu.Unlock()
}

// SetIntakeHalted reflects whether new signals are being refused
func (h *HealthChecker) SetIntakeHalted(halted bool, reason string) {
	h.mu.Lock()
	h.intakeHalted = halted
	h.haltReason = reason
	h.mu.Unlock()
}

// Status evaluates current health
func (h *HealthChecker) Status() HealthStatus {
	h.mu.RLock()
	defer h.mu.RUnlock()

	now := h.now()
	status := StatusHealthy
	stale := h.refreshMaxAge > 0 && (h.lastRefresh.IsZero() || now.Sub(h.lastRefresh) > h.refreshMaxAge)
	if !h.isConnected || stale || len(h.errors) > 0 {
		status = StatusDegraded
	}
	if h.intakeHalted {
		status = StatusUnhealthy
	}

	return HealthStatus{
		Status:       status,
		Timestamp:    now,
		LastSignal:   h.lastSignal,
		LastTrade:    h.lastTrade,
		LastRefresh:  h.lastRefresh,
		IsConnected:  h.isConnected,
		IntakeHalted: h.intakeHalted,
		HaltReason:   h.haltReason,
		Uptime:       now.Sub(h.startTime).Truncate(time.Second).String(),
		Errors:       append([]string(nil), h.errors...),
	}
}

func (h *HealthChecker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	health := h.Status()

	w.Header().Set("Content-Type", "application/json")
	switch health.Status {
	case StatusUnhealthy:
		w.WriteHeader(http.StatusServiceUnavailable)
	default:
		w.WriteHeader(http.StatusOK)
	}
	json.NewEncoder(w).Encode(health)
}
