package recovery

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/vmaliev/crypto/internal/errors"
)

// Guard classifies errors raised around the trading pipeline, suggests how
// to react, and halts signal intake when a fatal pattern shows up. A halted
// guard keeps monitoring alive; only new entries are refused.
type Guard struct {
	cfg        Config
	errorStats *errors.ErrorStats
	logger     Logger

	mu       sync.RWMutex
	halted   bool
	reason   string
	haltedAt time.Time
	onHalt   []func(reason string)

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// Config defines retry limits, backoff and the halt thresholds
type Config struct {
	MaxRetries map[errors.ErrorCategory]int `json:"max_retries" yaml:"max_retries"`
	BaseDelay  time.Duration                `json:"base_delay" yaml:"base_delay"`
	MaxDelay   time.Duration                `json:"max_delay" yaml:"max_delay"`
	Multiplier float64                      `json:"multiplier" yaml:"multiplier"`

	// RateLimitDelay replaces BaseDelay for rate limit errors
	RateLimitDelay time.Duration `json:"rate_limit_delay" yaml:"rate_limit_delay"`

	// BurstWindow and BurstLimit halt intake when one non-transient category repeats too often
	BurstWindow     time.Duration `json:"burst_window" yaml:"burst_window"`
	BurstLimit      int           `json:"burst_limit" yaml:"burst_limit"`
	MaxRecentErrors int           `json:"max_recent_errors" yaml:"max_recent_errors"`
}

// DefaultConfig returns the standard recovery limits
func DefaultConfig() Config {
	return Config{
		MaxRetries: map[errors.ErrorCategory]int{
			errors.ErrorCategoryNetwork:   5,
			errors.ErrorCategoryTimeout:   3,
			errors.ErrorCategoryTemporary: 3,
			errors.ErrorCategoryRateLimit: 10,
			errors.ErrorCategoryOrder:     2,
			errors.ErrorCategoryPosition:  3,
			errors.ErrorCategoryExchange:  2,
		},
		BaseDelay:       time.Second,
		MaxDelay:        30 * time.Second,
		Multiplier:      1.5,
		RateLimitDelay:  5 * time.Second,
		BurstWindow:     5 * time.Minute,
		BurstLimit:      10,
		MaxRecentErrors: 50,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.MaxRetries == nil {
		c.MaxRetries = def.MaxRetries
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = def.BaseDelay
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = def.MaxDelay
	}
	if c.Multiplier < 1 {
		c.Multiplier = def.Multiplier
	}
	if c.RateLimitDelay <= 0 {
		c.RateLimitDelay = def.RateLimitDelay
	}
	if c.BurstWindow <= 0 {
		c.BurstWindow = def.BurstWindow
	}
	if c.BurstLimit <= 0 {
		c.BurstLimit = def.BurstLimit
	}
	if c.MaxRecentErrors <= 0 {
		c.MaxRecentErrors = def.MaxRecentErrors
	}
	return c
}

// Logger interface for the guard
type Logger interface {
	Info(format string, args ...interface{})
	LogWarning(component, message string, args ...interface{})
	Error(format string, args ...interface{})
	LogDebugOnly(format string, args ...interface{})
}

// Result is the suggested reaction to one error
type Result struct {
	Error   *errors.BotError
	Action  errors.RecoveryAction
	Delay   time.Duration
	Halt    bool
	Message string
}

// NewGuard creates a guard; logger must not be nil
func NewGuard(cfg Config, logger Logger) *Guard {
	cfg = cfg.withDefaults()
	return &Guard{
		cfg:        cfg,
		errorStats: errors.NewErrorStats(cfg.MaxRecentErrors),
		logger:     logger,
		now:        time.Now,
		sleep:      sleepContext,
	}
}

// WithClock overrides the time source used for burst detection
func (g *Guard) WithClock(now func() time.Time) *Guard {
	g.now = now
	return g
}

// WithSleep overrides the wait used between attempts in Run
func (g *Guard) WithSleep(sleep func(ctx context.Context, d time.Duration) error) *Guard {
	g.sleep = sleep
	return g
}

// OnHalt registers a callback invoked once each time intake is halted
func (g *Guard) OnHalt(fn func(reason string)) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.onHalt = append(g.onHalt, fn)
}

// HandleError records err and returns the recovery decision for the given attempt (0-based)
func (g *Guard) HandleError(err error, component, operation string, attempt int) *Result {
	botError := errors.CategorizeError(err, component, operation)
	if botError == nil {
		return &Result{Action: errors.RecoveryActionSkip}
	}
	g.errorStats.RecordErrorAt(botError, g.now())
	g.logError(botError, attempt)

	if reason, halt := g.haltReason(botError); halt {
		g.Halt(reason)
		return &Result{Error: botError, Action: errors.RecoveryActionStop, Halt: true, Message: reason}
	}

	action := botError.GetRecoveryAction()
	if max, ok := g.cfg.MaxRetries[botError.Category]; ok && attempt >= max &&
		(action == errors.RecoveryActionRetry || action == errors.RecoveryActionWait) {
		return &Result{
			Error:   botError,
			Action:  errors.RecoveryActionSkip,
			Message: fmt.Sprintf("maximum retries (%d) exceeded for %s errors", max, botError.Category),
		}
	}

	return &Result{
		Error:   botError,
		Action:  action,
		Delay:   g.Backoff(botError.Category, attempt),
		Message: recoveryMessage(action, botError, attempt),
	}
}

// haltReason reports whether the error means new trades must stop
func (g *Guard) haltReason(botError *errors.BotError) (string, bool) {
	if botError.IsFatal() {
		return fmt.Sprintf("%s error in %s.%s: %s", botError.Category, botError.Component, botError.Operation, botError.Message), true
	}

	if !transient(botError.Category) {
		since := g.now().Add(-g.cfg.BurstWindow)
		if n := g.errorStats.CountSince(botError.Category, since); n >= g.cfg.BurstLimit {
			return fmt.Sprintf("%d %s errors within %s", n, botError.Category, g.cfg.BurstWindow), true
		}
	}

	if g.errorStats.TotalErrors() > 10 && g.errorStats.GetErrorRate(errors.ErrorCategoryOrder) > 0.8 {
		return "order rejection rate above 80%", true
	}
	return "", false
}

// Backoff returns the exponential delay for the attempt (0-based), capped at MaxDelay
func (g *Guard) Backoff(category errors.ErrorCategory, attempt int) time.Duration {
	base := g.cfg.BaseDelay
	if category == errors.ErrorCategoryRateLimit {
		base = g.cfg.RateLimitDelay
	}

	delay := float64(base)
	for i := 0; i < attempt; i++ {
		delay *= g.cfg.Multiplier
		if delay >= float64(g.cfg.MaxDelay) {
			return g.cfg.MaxDelay
		}
	}
	if time.Duration(delay) > g.cfg.MaxDelay {
		return g.cfg.MaxDelay
	}
	return time.Duration(delay)
}

// Halt stops signal intake; repeated calls keep the first reason
func (g *Guard) Halt(reason string) {
	g.mu.Lock()
	if g.halted {
		g.mu.Unlock()
		return
	}
	g.halted = true
	g.reason = reason
	g.haltedAt = g.now()
	callbacks := append([]func(string){}, g.onHalt...)
	g.mu.Unlock()

	g.logger.Error("Signal intake halted: %s", reason)
	for _, fn := range callbacks {
		fn(reason)
	}
}

// Resume re-enables intake and clears the error history
func (g *Guard) Resume() {
	g.mu.Lock()
	wasHalted := g.halted
	g.halted = false
	g.reason = ""
	g.haltedAt = time.Time{}
	g.mu.Unlock()

	g.errorStats.Reset()
	if wasHalted {
		g.logger.Info("Signal intake resumed")
	}
}

// Halted reports whether intake is stopped and why
func (g *Guard) Halted() (bool, string) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.halted, g.reason
}

// HaltedAt returns when intake was halted, zero when running
func (g *Guard) HaltedAt() time.Time {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.haltedAt
}

// Run executes fn, retrying per the recovery decision until it succeeds,
// the error is not retryable, retries are exhausted or ctx is done
func (g *Guard) Run(ctx context.Context, component, operation string, fn func(ctx context.Context) error) error {
	for attempt := 0; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := fn(ctx)
		if err == nil {
			if attempt > 0 {
				g.logger.Info("Operation %s.%s succeeded after %d attempts", component, operation, attempt+1)
			}
			return nil
		}

		result := g.HandleError(err, component, operation, attempt)
		switch result.Action {
		case errors.RecoveryActionRetry, errors.RecoveryActionWait:
			g.logger.LogDebugOnly("Waiting %v before retry: %s", result.Delay, result.Message)
			if serr := g.sleep(ctx, result.Delay); serr != nil {
				return serr
			}
		default:
			if result.Message != "" {
				g.logger.LogWarning("Recovery", "%s.%s gave up: %s", component, operation, result.Message)
			}
			return err
		}
	}
}

// Stats exposes the recorded error statistics
func (g *Guard) Stats() *errors.ErrorStats {
	return g.errorStats
}

// transient categories clear up on their own and never latch a halt
func transient(category errors.ErrorCategory) bool {
	switch category {
	case errors.ErrorCategoryNetwork, errors.ErrorCategoryTimeout,
		errors.ErrorCategoryRateLimit, errors.ErrorCategoryTemporary:
		return true
	}
	return false
}

func (g *Guard) logError(botError *errors.BotError, attempt int) {
	switch {
	case botError.IsFatal():
		g.logger.Error("FATAL ERROR: %s", botError.Error())
	case attempt > 0:
		g.logger.LogWarning("Error Recovery", "Attempt %d - %s", attempt+1, botError.Error())
	default:
		g.logger.LogDebugOnly("Error occurred: %s", botError.Error())
	}
}

func recoveryMessage(action errors.RecoveryAction, botError *errors.BotError, attempt int) string {
	switch action {
	case errors.RecoveryActionRetry:
		return fmt.Sprintf("retrying %s (attempt %d) after %s error", botError.Operation, attempt+2, botError.Category)
	case errors.RecoveryActionWait:
		return fmt.Sprintf("waiting before retry due to %s", botError.Category)
	case errors.RecoveryActionSkip:
		return fmt.Sprintf("skipping operation due to non-retryable %s error", botError.Category)
	case errors.RecoveryActionFallback:
		return fmt.Sprintf("using fallback for %s error", botError.Category)
	}
	return fmt.Sprintf("stopping due to %s error", botError.Category)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
