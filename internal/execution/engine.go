// Package execution turns approved trade decisions into bracketed exchange orders
// and tracks entry orders until the venue reports a terminal status.
package execution

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	boterrors "github.com/vmaliev/crypto/internal/errors"
	"github.com/vmaliev/crypto/internal/exchange"
	"github.com/vmaliev/crypto/internal/logger"
	"github.com/vmaliev/crypto/internal/safety"
	"github.com/vmaliev/crypto/pkg/id"
	"github.com/vmaliev/crypto/pkg/types"
)

const component = "execution"

// Client order id suffixes for the protective legs of a bracket
const (
	StopLossSuffix   = "-sl"
	TakeProfitSuffix = "-tp"
	closeSuffix      = "-close"
)

// Logger is the subset of the bot logger the engine writes to
type Logger interface {
	Info(format string, args ...interface{})
	Warning(format string, args ...interface{})
	Error(format string, args ...interface{})
	LogTradeExecution(symbol, side, orderID string, quantity, price, stopLoss, takeProfit float64, attempts int)
}

// Config controls retry and order bookkeeping
type Config struct {
	MaxAttempts           int           `json:"max_attempts" yaml:"max_attempts"`
	RetryDelay            time.Duration `json:"retry_delay" yaml:"retry_delay"`
	OrderTimeout          time.Duration `json:"order_timeout" yaml:"order_timeout"`
	CloseOnBracketFailure bool          `json:"close_on_bracket_failure" yaml:"close_on_bracket_failure"`
	OrderMaxAge           time.Duration `json:"order_max_age" yaml:"order_max_age"`
	HistoryLimit          int           `json:"history_limit" yaml:"history_limit"`
}

// DefaultConfig returns the production defaults
func DefaultConfig() Config {
	return Config{
		MaxAttempts:           3,
		RetryDelay:            time.Second,
		OrderTimeout:          5 * time.Second,
		CloseOnBracketFailure: true,
		OrderMaxAge:           24 * time.Hour,
		HistoryLimit:          1000,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = d.MaxAttempts
	}
	if c.RetryDelay < 0 {
		c.RetryDelay = 0
	}
	if c.OrderTimeout <= 0 {
		c.OrderTimeout = d.OrderTimeout
	}
	if c.OrderMaxAge <= 0 {
		c.OrderMaxAge = d.OrderMaxAge
	}
	if c.HistoryLimit <= 0 {
		c.HistoryLimit = d.HistoryLimit
	}
	return c
}

// TradeRequest bundles the upstream decisions for one entry
type TradeRequest struct {
	Signal       types.ScoredSignal
	PositionSize *types.PositionSizeResult
	RiskCheck    *types.RiskCheckResult
	CurrentPrice float64
}

// TradeExecutionResult reports what reached the exchange
type TradeExecutionResult struct {
	Success           bool               `json:"success"`
	OrderID           string             `json:"order_id,omitempty"`
	ClientOrderID     string             `json:"client_order_id,omitempty"`
	Symbol            string             `json:"symbol"`
	Side              types.PositionSide `json:"side"`
	Quantity          float64            `json:"quantity"`
	EntryPrice        float64            `json:"entry_price"`
	StopLossOrderID   string             `json:"stop_loss_order_id,omitempty"`
	TakeProfitOrderID string             `json:"take_profit_order_id,omitempty"`
	StopLossPrice     float64            `json:"stop_loss_price"`
	TakeProfitPrice   float64            `json:"take_profit_price"`
	Attempts          int                `json:"attempts"`
	Warnings          []string           `json:"warnings,omitempty"`
	Error             string             `json:"error,omitempty"`
	Err               error              `json:"-"`
	// Unprotected is set when the entry stands without a stop-loss or take-profit
	Unprotected bool      `json:"unprotected"`
	Flattened   bool      `json:"flattened"`
	ExecutedAt  time.Time `json:"executed_at"`
}

func (r *TradeExecutionResult) fail(err error) *TradeExecutionResult {
	r.Success = false
	r.Err = err
	r.Error = err.Error()
	return r
}

// SleepFunc waits for d or until ctx is done
type SleepFunc func(ctx context.Context, d time.Duration) error

func contextSleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Engine places entry and bracket orders and keeps the active-order table
type Engine struct {
	cfg       Config
	venue     exchange.Exchange
	validator *safety.OrderValidator
	logger    Logger
	sleep     SleepFunc
	now       func() time.Time

	mu      sync.RWMutex
	active  map[string]*types.ManagedOrder
	history []types.ManagedOrder
}

// NewEngine creates an execution engine for venue
func NewEngine(cfg Config, venue exchange.Exchange, log Logger) *Engine {
	if log == nil {
		log = logger.NewNop()
	}
	return &Engine{
		cfg:       cfg.withDefaults(),
		venue:     venue,
		validator: safety.NewOrderValidator(),
		logger:    log,
		sleep:     contextSleep,
		now:       time.Now,
		active:    make(map[string]*types.ManagedOrder),
	}
}

// WithSleep replaces the backoff wait, tests pass a no-op
func (e *Engine) WithSleep(sleep SleepFunc) *Engine {
	e.sleep = sleep
	return e
}

// WithClock replaces the wall clock
func (e *Engine) WithClock(now func() time.Time) *Engine {
	e.now = now
	return e
}

// Config returns the effective configuration
func (e *Engine) Config() Config { return e.cfg }

// ExecuteTrade submits a market entry with retry, then its protective legs.
// Nothing is sent to the exchange unless the risk check approved the trade
// and the sizer produced a positive quantity.
func (e *Engine) ExecuteTrade(ctx context.Context, req TradeRequest) *TradeExecutionResult {
	sig := req.Signal
	result := &TradeExecutionResult{
		Symbol:     sig.Symbol,
		Side:       sig.Action.PositionSide(),
		ExecutedAt: e.now(),
	}

	if err := e.checkPreconditions(req); err != nil {
		e.logger.Warning("Execution skipped for %s: %v", sig.Symbol, err)
		return result.fail(err)
	}

	price := req.CurrentPrice
	if price <= 0 {
		price = sig.Price
	}
	result.Quantity = req.PositionSize.Quantity
	result.EntryPrice = price
	result.StopLossPrice = req.RiskCheck.StopLossPrice
	result.TakeProfitPrice = req.RiskCheck.TakeProfitPrice
	result.ClientOrderID = id.New()

	entrySide := exchange.SideForPosition(result.Side)
	entry := exchange.OrderRequest{
		Symbol:        sig.Symbol,
		Side:          entrySide,
		Type:          exchange.OrderMarket,
		Quantity:      result.Quantity,
		ClientOrderID: result.ClientOrderID,
	}

	ack, attempts, err := e.submit(ctx, entry, e.cfg.MaxAttempts)
	result.Attempts = attempts
	if err != nil {
		e.logger.Error("Entry order for %s failed after %d attempt(s): %v", sig.Symbol, attempts, err)
		return result.fail(fmt.Errorf("entry order failed after %d attempt(s): %w", attempts, err))
	}
	result.OrderID = ack.OrderID

	e.track(types.ManagedOrder{
		OrderID:       ack.OrderID,
		ClientOrderID: result.ClientOrderID,
		Symbol:        sig.Symbol,
		Side:          result.Side,
		Quantity:      result.Quantity,
		Price:         price,
		StopLoss:      result.StopLossPrice,
		TakeProfit:    result.TakeProfitPrice,
		Status:        types.OrderPending,
		Timestamp:     result.ExecutedAt,
		RetryCount:    attempts - 1,
	})

	result.Success = true
	e.placeBrackets(ctx, result, entrySide.Opposite())

	if result.Success {
		e.logger.LogTradeExecution(result.Symbol, string(result.Side), result.OrderID, result.Quantity,
			result.EntryPrice, result.StopLossPrice, result.TakeProfitPrice, result.Attempts)
	}
	return result
}

func (e *Engine) checkPreconditions(req TradeRequest) error {
	sig := req.Signal
	if sig.Action == types.ActionClose {
		return boterrors.NewValidationError(component, "execute trade", "CLOSE signals are executed through ClosePosition")
	}
	if req.RiskCheck == nil {
		return boterrors.NewValidationError(component, "execute trade", "missing risk check")
	}
	if !req.RiskCheck.ShouldTrade {
		return boterrors.NewValidationError(component, "execute trade",
			"risk check rejected trade: "+joinOr(req.RiskCheck.Warnings, "no reason given"))
	}
	if req.PositionSize == nil || req.PositionSize.Quantity <= 0 {
		var warnings []string
		if req.PositionSize != nil {
			warnings = req.PositionSize.Warnings
		}
		return boterrors.NewValidationError(component, "execute trade",
			"position size is zero: "+joinOr(warnings, "no quantity"))
	}

	price := req.CurrentPrice
	if price <= 0 {
		price = sig.Price
	}
	if r := e.validator.ValidateSymbol(sig.Symbol); !r.Valid {
		return boterrors.NewValidationError(component, "execute trade", r.Message).WithContext("code", r.Code)
	}
	if r := e.validator.ValidateOrderValue(price, req.PositionSize.Quantity, sig.Symbol); !r.Valid {
		return boterrors.NewValidationError(component, "execute trade", r.Message).WithContext("code", r.Code)
	}
	long := sig.Action.PositionSide() == types.SideLong
	if r := e.validator.ValidateBracket(long, price, req.RiskCheck.StopLossPrice, req.RiskCheck.TakeProfitPrice); !r.Valid {
		return boterrors.NewValidationError(component, "execute trade", r.Message).WithContext("code", r.Code)
	}
	return nil
}

func joinOr(items []string, fallback string) string {
	if len(items) == 0 {
		return fallback
	}
	return strings.Join(items, "; ")
}

// submit places req, retrying up to maxAttempts with linear backoff.
// The client order id is reused across attempts; before each retry the venue
// is asked whether an earlier attempt landed despite the error.
func (e *Engine) submit(ctx context.Context, req exchange.OrderRequest, maxAttempts int) (*exchange.OrderAck, int, error) {
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if attempt > 1 {
			if err := e.sleep(ctx, e.cfg.RetryDelay*time.Duration(attempt-1)); err != nil {
				return nil, attempt - 1, lastErr
			}
			if ack, ok := e.landed(ctx, req); ok {
				return ack, attempt - 1, nil
			}
		}

		attemptCtx, cancel := context.WithTimeout(ctx, e.cfg.OrderTimeout)
		ack, err := e.venue.PlaceOrder(attemptCtx, req)
		cancel()
		if err == nil {
			return ack, attempt, nil
		}

		lastErr = boterrors.CategorizeError(err, component, "place order")
		e.logger.Warning("Order %s %s attempt %d/%d failed: %v", req.ClientOrderID, req.Symbol, attempt, maxAttempts, err)
		if !retryable(ctx, lastErr) {
			return nil, attempt, lastErr
		}
	}
	return nil, maxAttempts, lastErr
}

// retryable treats transport and exchange rejections alike; only credential,
// configuration and fatal errors or a cancelled caller stop the loop early
func retryable(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	botErr, ok := boterrors.As(err)
	if !ok {
		return true
	}
	switch botErr.Category {
	case boterrors.ErrorCategoryCredentials, boterrors.ErrorCategoryConfiguration, boterrors.ErrorCategoryFatal:
		return false
	}
	return true
}

func (e *Engine) landed(ctx context.Context, req exchange.OrderRequest) (*exchange.OrderAck, bool) {
	if req.ClientOrderID == "" {
		return nil, false
	}
	probeCtx, cancel := context.WithTimeout(ctx, e.cfg.OrderTimeout)
	defer cancel()
	state, err := e.venue.GetOrderStatus(probeCtx, req.Symbol, req.ClientOrderID)
	if err != nil || state == nil || MapOrderStatus(state.Status) == types.OrderRejected {
		return nil, false
	}
	e.logger.Info("Order %s found on %s after a failed attempt, not resubmitting", req.ClientOrderID, e.venue.Name())
	return &exchange.OrderAck{OrderID: state.OrderID, ClientOrderID: state.ClientOrderID}, true
}

// placeBrackets submits the reduce-only stop and target. Each leg gets one
// retry; a leg still missing afterwards either flattens the entry or leaves
// it flagged as unprotected, depending on CloseOnBracketFailure.
func (e *Engine) placeBrackets(ctx context.Context, result *TradeExecutionResult, exitSide exchange.OrderSide) {
	var failures []error

	if result.StopLossPrice > 0 {
		ack, _, err := e.submit(ctx, exchange.OrderRequest{
			Symbol:        result.Symbol,
			Side:          exitSide,
			Type:          exchange.OrderStopMarket,
			Quantity:      result.Quantity,
			TriggerPrice:  result.StopLossPrice,
			ReduceOnly:    true,
			ClientOrderID: result.ClientOrderID + StopLossSuffix,
		}, 2)
		if err != nil {
			failures = append(failures, fmt.Errorf("stop-loss: %w", err))
		} else {
			result.StopLossOrderID = ack.OrderID
		}
	} else {
		result.Warnings = append(result.Warnings, "no stop-loss level supplied")
	}

	if result.TakeProfitPrice > 0 {
		ack, _, err := e.submit(ctx, exchange.OrderRequest{
			Symbol:        result.Symbol,
			Side:          exitSide,
			Type:          exchange.OrderLimit,
			Quantity:      result.Quantity,
			Price:         result.TakeProfitPrice,
			ReduceOnly:    true,
			ClientOrderID: result.ClientOrderID + TakeProfitSuffix,
		}, 2)
		if err != nil {
			failures = append(failures, fmt.Errorf("take-profit: %w", err))
		} else {
			result.TakeProfitOrderID = ack.OrderID
		}
	} else {
		result.Warnings = append(result.Warnings, "no take-profit level supplied")
	}

	if len(failures) == 0 {
		return
	}

	bracketErr := boterrors.NewBracketError(component, "place bracket", errors.Join(failures...)).
		WithContext("client_order_id", result.ClientOrderID)
	for _, f := range failures {
		result.Warnings = append(result.Warnings, "bracket order failed: "+f.Error())
	}
	result.Err = bracketErr
	e.logger.Error("Bracket incomplete for %s %s: %v", result.Symbol, result.ClientOrderID, bracketErr)

	if !e.cfg.CloseOnBracketFailure {
		result.Unprotected = true
		return
	}

	e.cancelLeg(ctx, result.Symbol, result.StopLossOrderID, result.ClientOrderID+StopLossSuffix)
	e.cancelLeg(ctx, result.Symbol, result.TakeProfitOrderID, result.ClientOrderID+TakeProfitSuffix)

	closeRes := e.ClosePosition(ctx, result.Symbol, result.Side, result.Quantity)
	if !closeRes.Success {
		result.Unprotected = true
		result.Warnings = append(result.Warnings, "flatten after bracket failure failed: "+closeRes.Error)
		e.logger.Error("Position %s left UNPROTECTED: %s", result.Symbol, closeRes.Error)
		return
	}
	result.Flattened = true
	result.Success = false
	result.Error = "bracket incomplete, position flattened: " + bracketErr.Error()
}

func (e *Engine) cancelLeg(ctx context.Context, symbol, orderID, clientOrderID string) {
	if orderID == "" {
		return
	}
	cancelCtx, cancel := context.WithTimeout(ctx, e.cfg.OrderTimeout)
	defer cancel()
	if err := e.venue.CancelOrder(cancelCtx, symbol, clientOrderID); err != nil {
		e.logger.Warning("Cancel %s: %v", clientOrderID, err)
	}
}

// ClosePosition sends one reduce-only market order against a held position
func (e *Engine) ClosePosition(ctx context.Context, symbol string, side types.PositionSide, quantity float64) *TradeExecutionResult {
	result := &TradeExecutionResult{
		Symbol:        symbol,
		Side:          side,
		Quantity:      quantity,
		ClientOrderID: id.New() + closeSuffix,
		ExecutedAt:    e.now(),
	}
	if r := e.validator.ValidateQuantity(quantity, symbol); !r.Valid {
		return result.fail(boterrors.NewValidationError(component, "close position", r.Message))
	}

	closeCtx, cancel := context.WithTimeout(ctx, e.cfg.OrderTimeout)
	defer cancel()

	result.Attempts = 1
	ack, err := e.venue.PlaceOrder(closeCtx, exchange.OrderRequest{
		Symbol:        symbol,
		Side:          exchange.SideForPosition(side).Opposite(),
		Type:          exchange.OrderMarket,
		Quantity:      quantity,
		ReduceOnly:    true,
		ClientOrderID: result.ClientOrderID,
	})
	if err != nil {
		e.logger.Error("Close %s %s failed: %v", side, symbol, err)
		return result.fail(boterrors.NewPositionError(component, "close position", err))
	}
	result.Success = true
	result.OrderID = ack.OrderID
	e.logger.Info("Closed %s %s qty=%.6f order=%s", side, symbol, quantity, ack.OrderID)
	return result
}

// MapOrderStatus folds venue statuses onto the local lifecycle
func MapOrderStatus(status string) types.OrderStatus {
	switch status {
	case exchange.StatusFilled, exchange.StatusPartiallyFilledCanceled:
		return types.OrderFilled
	case exchange.StatusCancelled, exchange.StatusDeactivated:
		return types.OrderCancelled
	case exchange.StatusRejected:
		return types.OrderRejected
	}
	return types.OrderPending
}

func (e *Engine) track(order types.ManagedOrder) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.active[order.ClientOrderID] = &order
}

// finishLocked moves an order from the active table to history
func (e *Engine) finishLocked(order *types.ManagedOrder) {
	delete(e.active, order.ClientOrderID)
	e.history = append(e.history, *order)
	if over := len(e.history) - e.cfg.HistoryLimit; over > 0 {
		e.history = append([]types.ManagedOrder(nil), e.history[over:]...)
	}
}

// UpdateOrderStatus polls the venue for one tracked order
func (e *Engine) UpdateOrderStatus(ctx context.Context, clientOrderID string) (*types.ManagedOrder, error) {
	e.mu.RLock()
	tracked, ok := e.active[clientOrderID]
	var symbol string
	if ok {
		symbol = tracked.Symbol
	}
	e.mu.RUnlock()
	if !ok {
		return nil, boterrors.NewOrderError(component, "update order status", exchange.ErrOrderNotFound).
			WithRetryable(false).WithContext("client_order_id", clientOrderID)
	}

	statusCtx, cancel := context.WithTimeout(ctx, e.cfg.OrderTimeout)
	defer cancel()
	state, err := e.venue.GetOrderStatus(statusCtx, symbol, clientOrderID)
	if err != nil {
		return nil, boterrors.CategorizeError(err, component, "update order status")
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	order, ok := e.active[clientOrderID]
	if !ok {
		return nil, boterrors.NewOrderError(component, "update order status", exchange.ErrOrderNotFound).WithRetryable(false)
	}
	order.Status = MapOrderStatus(state.Status)
	if state.OrderID != "" {
		order.OrderID = state.OrderID
	}
	if order.Status == types.OrderFilled {
		order.FillPrice = state.AvgPrice
		if state.FilledQty > 0 {
			order.Quantity = state.FilledQty
		}
	}
	cp := *order
	if order.Status.Terminal() {
		e.finishLocked(order)
		e.logger.Info("Order %s %s -> %s", clientOrderID, order.Symbol, order.Status)
	}
	return &cp, nil
}

// PollActiveOrders refreshes every tracked order and returns those that
// reached a terminal status in this pass
func (e *Engine) PollActiveOrders(ctx context.Context) []types.ManagedOrder {
	var done []types.ManagedOrder
	for _, o := range e.ActiveOrders() {
		if ctx.Err() != nil {
			break
		}
		updated, err := e.UpdateOrderStatus(ctx, o.ClientOrderID)
		if err != nil {
			e.logger.Warning("Order status %s: %v", o.ClientOrderID, err)
			continue
		}
		if updated.Status.Terminal() {
			done = append(done, *updated)
		}
	}
	return done
}

// SweepStale drops tracked orders older than maxAge, or OrderMaxAge when
// maxAge is zero, and returns how many were removed
func (e *Engine) SweepStale(maxAge time.Duration) int {
	if maxAge <= 0 {
		maxAge = e.cfg.OrderMaxAge
	}
	cutoff := e.now().Add(-maxAge)

	e.mu.Lock()
	defer e.mu.Unlock()
	removed := 0
	for key, o := range e.active {
		if o.Timestamp.Before(cutoff) {
			delete(e.active, key)
			removed++
			e.logger.Warning("Dropping stale order %s %s (status %s, placed %s)", key, o.Symbol, o.Status, o.Timestamp.Format(time.RFC3339))
		}
	}
	return removed
}

// ActiveOrders returns tracked orders oldest first
func (e *Engine) ActiveOrders() []types.ManagedOrder {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]types.ManagedOrder, 0, len(e.active))
	for _, o := range e.active {
		out = append(out, *o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out
}

// OrderHistory returns orders that reached a terminal status, oldest first
func (e *Engine) OrderHistory() []types.ManagedOrder {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return append([]types.ManagedOrder(nil), e.history...)
}

// Reconcile imports the venue's resting orders into the active table so a
// restarted process keeps polling and sweeping them. An empty symbol list
// asks the venue for every open order.
func (e *Engine) Reconcile(ctx context.Context, symbols []string) (int, error) {
	if len(symbols) == 0 {
		symbols = []string{""}
	}

	var open []exchange.OrderState
	for _, symbol := range symbols {
		listCtx, cancel := context.WithTimeout(ctx, e.cfg.OrderTimeout)
		orders, err := e.venue.GetOpenOrders(listCtx, symbol)
		cancel()
		if err != nil {
			return 0, boterrors.CategorizeError(err, component, "reconcile")
		}
		open = append(open, orders...)
	}

	now := e.now()
	e.mu.Lock()
	defer e.mu.Unlock()
	imported := 0
	for _, o := range open {
		key := o.ClientOrderID
		if key == "" {
			key = o.OrderID
		}
		if _, known := e.active[key]; known {
			continue
		}
		side := types.SideLong
		if o.Side == exchange.OrderSell {
			side = types.SideShort
		}
		e.active[key] = &types.ManagedOrder{
			OrderID:       o.OrderID,
			ClientOrderID: key,
			Symbol:        o.Symbol,
			Side:          side,
			Quantity:      o.Quantity,
			Price:         o.Price,
			Status:        types.OrderPending,
			Timestamp:     timestampFor(key, now),
		}
		imported++
	}
	if imported > 0 {
		e.logger.Info("Reconciled %d open order(s) from %s", imported, e.venue.Name())
	}
	return imported, nil
}

// timestampFor recovers the placement time embedded in our own client ids
func timestampFor(clientOrderID string, fallback time.Time) time.Time {
	base := clientOrderID
	for _, suffix := range []string{StopLossSuffix, TakeProfitSuffix, closeSuffix} {
		base = strings.TrimSuffix(base, suffix)
	}
	if t, ok := id.Time(base); ok {
		return t
	}
	return fallback
}
