// Package engine wires the signal pipeline together: it validates alerts,
// gates them through safety and risk, sizes and executes entries, and keeps
// the session, persistence and operator views in sync.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	boterrors "github.com/vmaliev/crypto/internal/errors"
	"github.com/vmaliev/crypto/internal/exchange"
	"github.com/vmaliev/crypto/internal/execution"
	"github.com/vmaliev/crypto/internal/monitoring"
	"github.com/vmaliev/crypto/internal/notifications"
	"github.com/vmaliev/crypto/internal/recovery"
	"github.com/vmaliev/crypto/internal/risk"
	"github.com/vmaliev/crypto/internal/safety"
	"github.com/vmaliev/crypto/internal/signal"
	"github.com/vmaliev/crypto/internal/sizing"
	"github.com/vmaliev/crypto/internal/state"
	"github.com/vmaliev/crypto/internal/storage"
	"github.com/vmaliev/crypto/pkg/id"
	"github.com/vmaliev/crypto/pkg/types"
)

const component = "engine"

// Logger is the bot logger surface used by the engine and the components it builds
type Logger interface {
	Info(format string, args ...interface{})
	Warning(format string, args ...interface{})
	Error(format string, args ...interface{})
	Trade(format string, args ...interface{})
	Risk(format string, args ...interface{})
	LogDebugOnly(format string, args ...interface{})
	LogWarning(context string, message string, args ...interface{})
	LogSizingDecision(symbol string, price, balance, confidence, quantity, notional, riskAmount float64, strategy string, warnings []string)
	LogTradeExecution(symbol, side, orderID string, quantity, price, stopLoss, takeProfit float64, attempts int)
	LogRiskEvent(source, symbol string, level string, allowed bool, warnings []string)
}

// Config holds the engine schedule plus the settings of every pipeline stage
type Config struct {
	// Symbols get leverage configured and open orders reconciled at startup
	Symbols []string `json:"symbols" yaml:"symbols"`

	CallTimeout             time.Duration `json:"call_timeout" yaml:"call_timeout"`
	AccountRefreshInterval  time.Duration `json:"account_refresh_interval" yaml:"account_refresh_interval"`
	OrderPollInterval       time.Duration `json:"order_poll_interval" yaml:"order_poll_interval"`
	StaleSweepInterval      time.Duration `json:"stale_sweep_interval" yaml:"stale_sweep_interval"`
	PositionMonitorInterval time.Duration `json:"position_monitor_interval" yaml:"position_monitor_interval"`
	StateSaveInterval       time.Duration `json:"state_save_interval" yaml:"state_save_interval"`
	RecentTrades            int           `json:"recent_trades" yaml:"recent_trades"`
	WebhookSecret           string        `json:"-" yaml:"-"`

	Signal      signal.Config            `json:"signal" yaml:"signal"`
	Consistency signal.ConsistencyConfig `json:"consistency" yaml:"consistency"`
	Sizing      sizing.Config            `json:"sizing" yaml:"sizing"`
	Risk        risk.Config              `json:"risk" yaml:"risk"`
	Safety      safety.Config            `json:"safety" yaml:"safety"`
	Execution   execution.Config         `json:"execution" yaml:"execution"`
	Recovery    recovery.Config          `json:"recovery" yaml:"recovery"`
}

// DefaultConfig returns the production schedule and stage defaults
func DefaultConfig() Config {
	return Config{
		CallTimeout:             5 * time.Second,
		AccountRefreshInterval:  30 * time.Second,
		OrderPollInterval:       10 * time.Second,
		StaleSweepInterval:      time.Hour,
		PositionMonitorInterval: 15 * time.Second,
		StateSaveInterval:       time.Minute,
		RecentTrades:            50,
		Signal:                  signal.DefaultConfig(),
		Consistency:             signal.DefaultConsistencyConfig(),
		Sizing:                  sizing.DefaultConfig(),
		Risk:                    risk.DefaultConfig(),
		Safety:                  safety.DefaultConfig(),
		Execution:               execution.DefaultConfig(),
		Recovery:                recovery.DefaultConfig(),
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.CallTimeout <= 0 {
		c.CallTimeout = d.CallTimeout
	}
	if c.AccountRefreshInterval <= 0 {
		c.AccountRefreshInterval = d.AccountRefreshInterval
	}
	if c.OrderPollInterval <= 0 {
		c.OrderPollInterval = d.OrderPollInterval
	}
	if c.StaleSweepInterval <= 0 {
		c.StaleSweepInterval = d.StaleSweepInterval
	}
	if c.PositionMonitorInterval <= 0 {
		c.PositionMonitorInterval = d.PositionMonitorInterval
	}
	if c.StateSaveInterval <= 0 {
		c.StateSaveInterval = d.StateSaveInterval
	}
	if c.RecentTrades <= 0 {
		c.RecentTrades = d.RecentTrades
	}
	return c
}

// Deps are the collaborators the engine drives; Exchange, Store and Logger are required
type Deps struct {
	Exchange    exchange.Exchange
	Store       storage.Store
	Logger      Logger
	Notifier    notifications.Notifier
	Metrics     *monitoring.Metrics
	Health      *monitoring.HealthChecker
	Persistence *state.Persistence
	Clock       func() time.Time
}

// Engine is the trading orchestrator
type Engine struct {
	cfg    Config
	venue  exchange.Exchange
	store  storage.Store
	logger Logger
	notify notifications.Notifier

	metrics     *monitoring.Metrics
	health      *monitoring.HealthChecker
	persistence *state.Persistence
	events      *Publisher

	validator   *signal.Validator
	consistency *signal.ConsistencyChecker
	auth        *signal.Authenticator
	sizer       *sizing.Sizer
	risk        *risk.Manager
	safety      *safety.Manager
	executor    *execution.Engine
	guard       *recovery.Guard

	locks *keyedMutex
	now   func() time.Time

	mu          sync.RWMutex
	account     *types.AccountInfo
	positions   []types.Position
	lastRefresh time.Time
	session     types.Session
	trailing    map[string]float64
	running     bool
	cancel      context.CancelFunc
	wg          sync.WaitGroup
}

// New builds the engine and every pipeline stage from cfg
func New(cfg Config, deps Deps) (*Engine, error) {
	if deps.Exchange == nil {
		return nil, boterrors.NewConfigurationError(component, "New", "exchange is required")
	}
	if deps.Store == nil {
		return nil, boterrors.NewConfigurationError(component, "New", "store is required")
	}
	if deps.Logger == nil {
		return nil, boterrors.NewConfigurationError(component, "New", "logger is required")
	}

	cfg = cfg.withDefaults()
	now := deps.Clock
	if now == nil {
		now = time.Now
	}
	metrics := deps.Metrics
	if metrics == nil {
		metrics = monitoring.NewMetrics()
	}
	health := deps.Health
	if health == nil {
		health = monitoring.NewHealthChecker(3 * cfg.AccountRefreshInterval)
	}
	notify := deps.Notifier
	if notify == nil {
		notify = notifications.NewDispatcher(deps.Logger)
	}

	e := &Engine{
		cfg:         cfg,
		venue:       deps.Exchange,
		store:       deps.Store,
		logger:      deps.Logger,
		notify:      notify,
		metrics:     metrics,
		health:      health,
		persistence: deps.Persistence,
		events:      NewPublisher(128),
		validator:   signal.NewValidator(cfg.Signal).WithClock(now),
		consistency: signal.NewConsistencyChecker(cfg.Consistency),
		auth:        signal.NewAuthenticator(cfg.WebhookSecret),
		sizer:       sizing.NewSizer(cfg.Sizing, deps.Logger),
		risk:        risk.NewManager(cfg.Risk).WithClock(now),
		safety:      safety.NewManager(cfg.Safety, safety.NewState(now()), deps.Logger).WithClock(now),
		executor:    execution.NewEngine(cfg.Execution, deps.Exchange, deps.Logger).WithClock(now),
		guard:       recovery.NewGuard(cfg.Recovery, deps.Logger).WithClock(now),
		locks:       newKeyedMutex(),
		now:         now,
		trailing:    make(map[string]float64),
	}

	e.safety.OnStateChange(e.onBreakerEvent)
	e.guard.OnHalt(e.onIntakeHalt)
	return e, nil
}

// WithSleep replaces every backoff wait, tests pass a no-op
func (e *Engine) WithSleep(sleep func(ctx context.Context, d time.Duration) error) *Engine {
	e.executor.WithSleep(sleep)
	e.guard.WithSleep(sleep)
	return e
}

// Start restores persisted state, prepares the venue, opens a session and
// launches the background loops. It returns once startup work is done.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return fmt.Errorf("engine already running")
	}
	e.running = true
	e.mu.Unlock()

	e.restoreState()
	e.configureLeverage(ctx)

	if err := e.refreshAccount(ctx); err != nil {
		e.logger.LogWarning("Startup", "Initial account refresh failed: %v", err)
	}

	callCtx, cancel := context.WithTimeout(ctx, 3*e.cfg.CallTimeout)
	_, err := e.executor.Reconcile(callCtx, e.cfg.Symbols)
	cancel()
	if err != nil {
		e.reportError(err, "Reconcile")
	}
	e.syncClosedTrades(ctx)

	e.startSession(ctx)

	loopCtx, stop := context.WithCancel(context.Background())
	e.mu.Lock()
	e.cancel = stop
	e.mu.Unlock()

	e.runEvery(loopCtx, e.cfg.AccountRefreshInterval, "account refresh", func(ctx context.Context) {
		if err := e.refreshAccount(ctx); err != nil {
			e.logger.LogWarning("Account Refresh", "keeping last snapshot: %v", err)
		}
	})
	e.runEvery(loopCtx, e.cfg.OrderPollInterval, "order poll", e.pollOrders)
	e.runEvery(loopCtx, e.cfg.StaleSweepInterval, "stale sweep", func(context.Context) { e.sweepStale() })
	e.runEvery(loopCtx, e.cfg.PositionMonitorInterval, "position monitor", e.monitorPositions)
	if e.persistence != nil {
		e.runEvery(loopCtx, e.cfg.StateSaveInterval, "state save", func(context.Context) { e.saveState() })
	}

	e.logger.Info("Trading engine started on %s (session %s)", e.venue.Name(), e.Session().ID)
	return nil
}

// Stop ends the background loops, closes the session and saves state.
// Open positions are left to their brackets.
func (e *Engine) Stop(ctx context.Context) {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return
	}
	e.running = false
	stop := e.cancel
	e.cancel = nil
	e.mu.Unlock()

	if stop != nil {
		stop()
	}
	e.wg.Wait()

	e.endSession(ctx)
	e.saveState()
	e.logger.Info("Trading engine stopped")
}

// Running reports whether Start has been called without a matching Stop
func (e *Engine) Running() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.running
}

// runEvery calls fn on every tick until ctx is done; fn gets a per-run timeout
func (e *Engine) runEvery(ctx context.Context, interval time.Duration, name string, fn func(ctx context.Context)) {
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				e.logger.LogDebugOnly("Stop signal received - ending %s loop", name)
				return
			case <-ticker.C:
				runCtx, cancel := context.WithTimeout(ctx, interval)
				fn(runCtx)
				cancel()
			}
		}
	}()
}

// configureLeverage sets the sizing leverage on every configured symbol when the venue supports it
func (e *Engine) configureLeverage(ctx context.Context) {
	setter, ok := e.venue.(exchange.LeverageSetter)
	if !ok || e.cfg.Sizing.Leverage <= 0 {
		return
	}
	for _, symbol := range e.cfg.Symbols {
		callCtx, cancel := context.WithTimeout(ctx, e.cfg.CallTimeout)
		err := setter.SetLeverage(callCtx, symbol, e.cfg.Sizing.Leverage)
		cancel()
		if err != nil {
			e.reportError(err, "SetLeverage")
			continue
		}
		e.logger.Info("Leverage for %s set to %.1fx", symbol, e.cfg.Sizing.Leverage)
	}
}

// refreshAccount pulls the wallet and positions and updates every view of them
func (e *Engine) refreshAccount(ctx context.Context) error {
	var (
		account   *types.AccountInfo
		positions []types.Position
	)
	err := e.guard.Run(ctx, component, "refreshAccount", func(ctx context.Context) error {
		callCtx, cancel := context.WithTimeout(ctx, e.cfg.CallTimeout)
		defer cancel()

		var err error
		if account, err = e.venue.GetAccountInfo(callCtx); err != nil {
			return err
		}
		positions, err = e.venue.GetPositions(callCtx)
		return err
	})
	e.health.MarkRefresh(err)
	if err != nil {
		e.recordError(err)
		return err
	}

	e.mu.Lock()
	e.account = account
	e.positions = positions
	e.lastRefresh = e.now()
	e.mu.Unlock()

	e.risk.UpdateBalance(account.TotalBalance)
	e.metrics.UpdateRiskMetrics(e.RiskMetrics())
	return nil
}

// snapshot returns the last known wallet and positions
func (e *Engine) snapshot() (*types.AccountInfo, []types.Position) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.account == nil {
		return nil, nil
	}
	acc := *e.account
	return &acc, append([]types.Position(nil), e.positions...)
}

func (e *Engine) startSession(ctx context.Context) {
	session := types.Session{ID: id.New(), StartTime: e.now()}
	e.mu.Lock()
	e.session = session
	e.mu.Unlock()

	e.persistSession(ctx, session)
	e.events.Publish(Event{Type: EventSession, Time: session.StartTime, Data: session})
}

func (e *Engine) endSession(ctx context.Context) {
	now := e.now()
	e.mu.Lock()
	e.session.EndTime = &now
	session := e.session
	e.mu.Unlock()

	e.persistSession(ctx, session)
	e.storePerformance(ctx)
	e.events.Publish(Event{Type: EventSession, Time: now, Data: session})

	e.logger.Info("Session %s ended: %d trade(s), PnL %.2f", session.ID, session.TradeCount, session.TotalPnL)
}

// updateSession applies fn to the live session and persists the result
func (e *Engine) updateSession(ctx context.Context, fn func(*types.Session)) {
	e.mu.Lock()
	if e.session.ID == "" {
		e.mu.Unlock()
		return
	}
	fn(&e.session)
	session := e.session
	e.mu.Unlock()
	e.persistSession(ctx, session)
}

func (e *Engine) persistSession(ctx context.Context, session types.Session) {
	if err := e.store.StoreSession(ctx, session); err != nil {
		e.reportError(boterrors.NewPersistenceError(component, "StoreSession", err), "StoreSession")
	}
}

func (e *Engine) storePerformance(ctx context.Context) {
	history, err := e.store.GetTradeHistory(ctx, "", 0)
	if err != nil {
		e.reportError(boterrors.NewPersistenceError(component, "GetTradeHistory", err), "GetTradeHistory")
		return
	}
	snap := types.NewPerformanceSnapshot(history, e.RiskMetrics().MaxDrawdown, e.now())
	if err := e.store.StorePerformance(ctx, snap); err != nil {
		e.reportError(boterrors.NewPersistenceError(component, "StorePerformance", err), "StorePerformance")
	}
}

func (e *Engine) restoreState() {
	if e.persistence == nil {
		return
	}
	st, err := e.persistence.Load()
	if err != nil {
		e.logger.LogWarning("State", "Could not load saved state: %v", err)
		return
	}
	if st == nil {
		return
	}
	e.safety.State().Restore(st.Safety)
	e.risk.Restore(st.Risk)
	if st.IntakeHalt != "" {
		e.guard.Halt("restored: " + st.IntakeHalt)
	}
	e.logger.Info("Restored safety state (daily PnL %.2f, breaker %s, emergency stop %t)",
		st.Safety.DailyPnL, st.Safety.CircuitBreaker.State, st.Safety.EmergencyStop.Active)
}

func (e *Engine) saveState() {
	if e.persistence == nil {
		return
	}
	_, reason := e.guard.Halted()
	session := e.Session()
	st := state.SystemState{
		Safety:     e.safety.State().Snapshot(),
		Risk:       e.risk.Snapshot(),
		IntakeHalt: reason,
	}
	if session.ID != "" {
		st.Session = &session
	}
	if err := e.persistence.Save(st); err != nil {
		e.logger.LogWarning("State", "Failed to save state: %v", err)
	}
}

// reportError feeds an error to the recovery guard, metrics and health
func (e *Engine) reportError(err error, operation string) {
	if err == nil {
		return
	}
	e.guard.HandleError(err, component, operation, 0)
	e.recordError(err)
	e.logger.Error("%s failed: %v", operation, err)
}

func (e *Engine) recordError(err error) {
	category := "UNKNOWN"
	if be := boterrors.CategorizeError(err, component, ""); be != nil {
		category = string(be.Category)
	}
	e.metrics.RecordError(category)
	e.health.RecordError(err.Error())
}

func (e *Engine) onBreakerEvent(ev safety.BreakerEvent) {
	e.events.Publish(Event{Type: EventSafety, Time: ev.At, Data: ev})
	e.metrics.UpdateSafety(e.safety.Status())

	severity := notifications.SeverityWarning
	title := "Circuit breaker"
	if ev.Kind == safety.EventEmergencyStop {
		title = "Emergency stop"
		severity = notifications.SeverityCritical
	}
	label := "cleared"
	if ev.Active {
		label = "ACTIVE"
	} else {
		severity = notifications.SeverityInfo
	}
	e.send(notifications.Message{
		Title:    fmt.Sprintf("%s %s", title, label),
		Body:     ev.Reason,
		Severity: severity,
		Priority: notifications.PriorityHigh,
		Data:     map[string]interface{}{"kind": ev.Kind, "active": ev.Active},
	})
	go e.saveState()
}

func (e *Engine) onIntakeHalt(reason string) {
	e.health.SetIntakeHalted(true, reason)
	e.events.Publish(Event{Type: EventIntakeHalted, Data: map[string]string{"reason": reason}})
	e.send(notifications.Message{
		Title:    "Signal intake halted",
		Body:     reason + "\nMonitoring stays active. Resume from the operator API once resolved.",
		Severity: notifications.SeverityCritical,
		Priority: notifications.PriorityUrgent,
	})
}

// send delivers a notification without letting it block the caller for long
func (e *Engine) send(msg notifications.Message) {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = e.now()
	}
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := e.notify.Send(ctx, msg); err != nil {
		e.logger.LogWarning("Notification", "%s: %v", msg.Title, err)
	}
}

func isNotFound(err error) bool {
	return errors.Is(err, storage.ErrNotFound) || errors.Is(err, exchange.ErrOrderNotFound)
}
