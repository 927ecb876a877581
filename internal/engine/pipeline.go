package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	boterrors "github.com/vmaliev/crypto/internal/errors"
	"github.com/vmaliev/crypto/internal/execution"
	"github.com/vmaliev/crypto/internal/monitoring"
	"github.com/vmaliev/crypto/internal/notifications"
	"github.com/vmaliev/crypto/internal/sizing"
	"github.com/vmaliev/crypto/internal/storage"
	"github.com/vmaliev/crypto/pkg/types"
)

// Outcome reports how far one signal travelled through the pipeline.
// Status is one of the monitoring Outcome* values.
type Outcome struct {
	SignalID  string                          `json:"signal_id"`
	Symbol    string                          `json:"symbol,omitempty"`
	Action    types.Action                    `json:"action,omitempty"`
	Status    string                          `json:"status"`
	Reason    string                          `json:"reason,omitempty"`
	Signal    *types.ScoredSignal             `json:"signal,omitempty"`
	Safety    *types.SafetyStatus             `json:"safety,omitempty"`
	Risk      *types.RiskCheckResult          `json:"risk,omitempty"`
	Size      *types.PositionSizeResult       `json:"size,omitempty"`
	Execution *execution.TradeExecutionResult `json:"execution,omitempty"`
	Trade     *types.Trade                    `json:"trade,omitempty"`
	Duration  time.Duration                   `json:"duration"`
}

// Accepted reports whether the signal reached a terminal decision without being refused at intake
func (o *Outcome) Accepted() bool {
	switch o.Status {
	case monitoring.OutcomeInvalid, monitoring.OutcomeUnauthorized,
		monitoring.OutcomeDuplicate, monitoring.OutcomeIntakeHalted:
		return false
	}
	return true
}

// Ingest authenticates, validates, scores and stores a raw alert body, then
// runs it through ProcessSignal
func (e *Engine) Ingest(ctx context.Context, body []byte, signatureHeader string) *Outcome {
	start := e.now()
	e.health.MarkSignal()

	scored := e.validator.ValidateJSON(body)
	out := &Outcome{SignalID: scored.ID, Symbol: scored.Symbol, Action: scored.Action}

	if !e.auth.Authenticate(body, signatureHeader, scored.Secret) {
		e.logger.LogWarning("Webhook", "Rejected unauthenticated signal for %q", scored.Symbol)
		return e.finish(out, monitoring.OutcomeUnauthorized, "invalid signature or secret", start)
	}
	if !scored.IsValid {
		out.Signal = &scored
		e.logger.LogWarning("Signal Validation", "Invalid signal: %s", strings.Join(scored.Errors, "; "))
		return e.finish(out, monitoring.OutcomeInvalid, strings.Join(scored.Errors, "; "), start)
	}

	storeCtx, cancel := context.WithTimeout(ctx, e.cfg.CallTimeout)
	defer cancel()
	if _, err := e.store.GetSignal(storeCtx, scored.ID); err == nil {
		return e.finish(out, monitoring.OutcomeDuplicate, "signal already received", start)
	}

	scored = e.consistency.CheckAndTrack(scored)
	e.metrics.ObserveConfidence(scored.Confidence)

	err := e.store.StoreSignal(storeCtx, scored)
	if errors.Is(err, storage.ErrDuplicateKey) {
		return e.finish(out, monitoring.OutcomeDuplicate, "signal already received", start)
	}
	if err != nil {
		e.reportError(boterrors.NewPersistenceError(component, "StoreSignal", err), "StoreSignal")
	}

	e.events.Publish(Event{Type: EventSignal, Symbol: scored.Symbol, Data: scored})
	e.logger.Info("Signal %s: %s %s %s @ %.4f confidence %.2f", scored.ID, scored.Symbol, scored.Action,
		scored.Strength, scored.Price, scored.Confidence)
	if len(scored.Warnings) > 0 {
		e.logger.LogWarning("Signal Validation", "%s: %s", scored.Symbol, strings.Join(scored.Warnings, "; "))
	}

	if halted, reason := e.guard.Halted(); halted {
		out.Signal = &scored
		return e.finish(out, monitoring.OutcomeIntakeHalted, reason, start)
	}

	processed := e.ProcessSignal(ctx, scored)
	processed.Duration = e.now().Sub(start)
	return processed
}

// ProcessSignal runs a validated signal through safety, risk, sizing and
// execution. Signals for the same symbol are processed one at a time.
func (e *Engine) ProcessSignal(ctx context.Context, scored types.ScoredSignal) *Outcome {
	start := e.now()
	out := &Outcome{SignalID: scored.ID, Symbol: scored.Symbol, Action: scored.Action, Signal: &scored}

	unlock := e.locks.Lock(scored.Symbol)
	defer unlock()

	if err := e.refreshAccount(ctx); err != nil {
		e.logger.LogWarning("Pipeline", "Account refresh failed, using last snapshot: %v", err)
	}
	account, positions := e.snapshot()
	if account == nil {
		return e.finish(out, monitoring.OutcomeNoAccount, "no account snapshot available", start)
	}

	if scored.Action == types.ActionClose {
		return e.handleClose(ctx, out, positions, start)
	}

	tickCtx, cancel := context.WithTimeout(ctx, e.cfg.CallTimeout)
	ticker, err := e.venue.GetTicker(tickCtx, scored.Symbol)
	cancel()
	if err != nil || ticker == nil || ticker.Price <= 0 {
		if err != nil {
			e.reportError(err, "GetTicker")
		}
		return e.finish(out, monitoring.OutcomeNoPrice, fmt.Sprintf("no current price for %s", scored.Symbol), start)
	}
	price := ticker.Price
	e.metrics.UpdatePrice(scored.Symbol, price)
	vol := e.risk.ObservePrice(scored.Symbol, price)

	recentCtx, cancel := context.WithTimeout(ctx, e.cfg.CallTimeout)
	recent, err := e.store.GetTradeHistory(recentCtx, "", e.cfg.RecentTrades)
	cancel()
	if err != nil {
		e.reportError(boterrors.NewPersistenceError(component, "GetTradeHistory", err), "GetTradeHistory")
	}

	metrics := e.RiskMetrics()
	if vol != nil {
		metrics.Volatility = *vol
	}
	status := e.safety.CheckSafety(*account, positions, metrics, recent)
	out.Safety = &status
	e.metrics.UpdateSafety(status)
	if !status.IsTradingEnabled {
		e.logger.LogRiskEvent("safety", scored.Symbol, string(status.RiskLevel), false, status.Warnings)
		return e.finish(out, monitoring.OutcomeSafetyBlocked, strings.Join(status.Warnings, "; "), start)
	}

	riskCheck := e.risk.CheckTradeRisk(scored.Signal, price, account.TotalBalance, positions, vol)
	out.Risk = &riskCheck
	e.logger.LogRiskEvent("risk", scored.Symbol, string(riskCheck.RiskLevel), riskCheck.ShouldTrade, riskCheck.Warnings)
	if !riskCheck.ShouldTrade {
		return e.finish(out, monitoring.OutcomeRiskRejected, strings.Join(riskCheck.Warnings, "; "), start)
	}

	size, err := e.sizer.Size(sizing.Request{
		Symbol:           scored.Symbol,
		Price:            price,
		AccountBalance:   account.TotalBalance,
		Strength:         scored.Strength,
		Confidence:       scored.Confidence,
		Volatility:       vol,
		CurrentPositions: openCount(positions),
	})
	if err != nil {
		return e.finish(out, monitoring.OutcomeZeroSize, err.Error(), start)
	}
	e.capToRiskLimit(size, price, account.TotalBalance, riskCheck.MaxPositionSize)
	out.Size = size
	if size.Quantity <= 0 {
		return e.finish(out, monitoring.OutcomeZeroSize, joinOr(size.Warnings, "position size is zero"), start)
	}
	margin := *account
	if e.cfg.Sizing.Leverage > margin.Leverage {
		margin.Leverage = e.cfg.Sizing.Leverage
	}
	if err := sizing.ValidatePositionSize(size.Quantity, price, margin); err != nil {
		return e.finish(out, monitoring.OutcomeRiskRejected, err.Error(), start)
	}

	result := e.executor.ExecuteTrade(ctx, execution.TradeRequest{
		Signal:       scored,
		PositionSize: size,
		RiskCheck:    &riskCheck,
		CurrentPrice: price,
	})
	out.Execution = result
	if !result.Success && !result.Flattened {
		if result.Err != nil {
			e.reportError(result.Err, "ExecuteTrade")
		}
		e.send(notifications.Message{
			Title:    fmt.Sprintf("Order failed: %s %s", result.Side, scored.Symbol),
			Body:     result.Error,
			Severity: notifications.SeverityError,
			Priority: notifications.PriorityHigh,
			Data:     map[string]interface{}{"signal_id": scored.ID, "attempts": result.Attempts},
		})
		return e.finish(out, monitoring.OutcomeExecutionError, result.Error, start)
	}

	if result.Err != nil {
		e.reportError(result.Err, "placeBrackets")
	}

	trade := e.recordEntry(ctx, scored, result)
	out.Trade = &trade
	if result.Flattened {
		return e.finish(out, monitoring.OutcomeExecutionError, result.Error, start)
	}
	return e.finish(out, monitoring.OutcomeExecuted, "", start)
}

// capToRiskLimit shrinks the sized quantity so its notional stays within the risk limit
func (e *Engine) capToRiskLimit(size *types.PositionSizeResult, price, balance, limit float64) {
	if size.Quantity <= 0 || limit <= 0 || size.NotionalValue <= limit {
		return
	}
	qty := limit / price
	if qty < e.cfg.Sizing.MinQuantity {
		size.Warnings = append(size.Warnings, fmt.Sprintf("risk limit %.2f leaves quantity below minimum %.6f", limit, e.cfg.Sizing.MinQuantity))
		qty = 0
	} else {
		size.Warnings = append(size.Warnings, fmt.Sprintf("notional capped to risk limit %.2f", limit))
	}
	e.sizer.Resize(size, qty, price, balance)
}

// recordEntry persists the opened trade and fans out the execution result
func (e *Engine) recordEntry(ctx context.Context, scored types.ScoredSignal, result *execution.TradeExecutionResult) types.Trade {
	trade := types.Trade{
		ID:         result.ClientOrderID,
		SignalID:   scored.ID,
		Symbol:     result.Symbol,
		Side:       result.Side,
		Quantity:   result.Quantity,
		EntryPrice: result.EntryPrice,
		Status:     types.TradeOpen,
		EntryTime:  result.ExecutedAt,
		StopLoss:   result.StopLossPrice,
		TakeProfit: result.TakeProfitPrice,
		Confidence: scored.Confidence,
		Strategy:   scored.Strategy,
		OrderID:    result.OrderID,
	}
	if result.Flattened {
		trade.StopLoss, trade.TakeProfit = 0, 0
	}

	storeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.cfg.CallTimeout)
	defer cancel()

	if err := e.store.StoreTrade(storeCtx, trade); err != nil {
		e.reportError(boterrors.NewPersistenceError(component, "StoreTrade", err), "StoreTrade")
	}
	if err := e.store.MarkSignalProcessed(storeCtx, scored.ID, e.now()); err != nil && !errors.Is(err, storage.ErrNotFound) {
		e.reportError(boterrors.NewPersistenceError(component, "MarkSignalProcessed", err), "MarkSignalProcessed")
	}
	if err := e.store.StoreRiskMetrics(storeCtx, e.RiskMetrics()); err != nil {
		e.reportError(boterrors.NewPersistenceError(component, "StoreRiskMetrics", err), "StoreRiskMetrics")
	}
	e.updateSession(storeCtx, func(s *types.Session) { s.TradeCount++ })

	e.metrics.RecordTrade(result.Symbol, result.Side, result.Quantity*result.EntryPrice, result.Attempts)
	e.health.MarkTrade()
	e.events.Publish(Event{Type: EventTradeOpened, Symbol: trade.Symbol, Data: trade})

	if result.Flattened {
		e.closeFlattened(storeCtx, trade)
	}

	if result.Unprotected || result.Flattened {
		e.metrics.RecordBracketFailure(result.Symbol, result.Flattened)
		e.events.Publish(Event{Type: EventBracketFailure, Symbol: result.Symbol, Data: result})
		body := "Position is open WITHOUT full bracket protection."
		if result.Flattened {
			body = "Bracket placement failed; position was flattened."
		}
		e.send(notifications.Message{
			Title:    fmt.Sprintf("Bracket failure on %s %s", result.Side, result.Symbol),
			Body:     body + "\n" + strings.Join(result.Warnings, "\n"),
			Severity: notifications.SeverityCritical,
			Priority: notifications.PriorityUrgent,
			Data: map[string]interface{}{
				"order_id":    result.OrderID,
				"quantity":    result.Quantity,
				"entry_price": result.EntryPrice,
			},
		})
		return trade
	}

	e.send(notifications.Message{
		Title:    fmt.Sprintf("Opened %s %s", result.Side, result.Symbol),
		Body:     fmt.Sprintf("%s signal executed with confidence %.2f", scored.Strength, scored.Confidence),
		Severity: notifications.SeveritySuccess,
		Priority: notifications.PriorityNormal,
		Data: map[string]interface{}{
			"quantity":    result.Quantity,
			"entry_price": result.EntryPrice,
			"stop_loss":   result.StopLossPrice,
			"take_profit": result.TakeProfitPrice,
			"attempts":    result.Attempts,
		},
	})
	return trade
}

// closeFlattened closes the trade record of an entry that was flattened after a bracket failure
func (e *Engine) closeFlattened(ctx context.Context, trade types.Trade) {
	exit := trade.EntryPrice
	tickCtx, cancel := context.WithTimeout(ctx, e.cfg.CallTimeout)
	if t, err := e.venue.GetTicker(tickCtx, trade.Symbol); err == nil && t.Price > 0 {
		exit = t.Price
	}
	cancel()
	e.closeTrade(ctx, trade, exit, "flattened after bracket failure")
}

// handleClose flattens the open position for the signal's symbol
func (e *Engine) handleClose(ctx context.Context, out *Outcome, positions []types.Position, start time.Time) *Outcome {
	pos, ok := findPosition(positions, out.Symbol)
	if !ok {
		e.logger.Info("CLOSE signal for %s but no open position", out.Symbol)
		return e.finish(out, monitoring.OutcomeNothingToClose, "no open position", start)
	}

	result, err := e.closePosition(ctx, pos, "close signal")
	out.Execution = result
	if err != nil {
		return e.finish(out, monitoring.OutcomeExecutionError, err.Error(), start)
	}
	return e.finish(out, monitoring.OutcomeClosed, "", start)
}

// closePosition sends the reduce-only close, cancels bracket legs and settles
// every open trade record for the symbol
func (e *Engine) closePosition(ctx context.Context, pos types.Position, reason string) (*execution.TradeExecutionResult, error) {
	result := e.executor.ClosePosition(ctx, pos.Symbol, pos.Side, pos.Size)
	if !result.Success {
		e.reportError(result.Err, "ClosePosition")
		e.send(notifications.Message{
			Title:    fmt.Sprintf("Close failed: %s %s", pos.Side, pos.Symbol),
			Body:     fmt.Sprintf("%s: %s", reason, result.Error),
			Severity: notifications.SeverityCritical,
			Priority: notifications.PriorityUrgent,
		})
		return result, result.Err
	}

	exit := pos.CurrentPrice()
	tickCtx, cancel := context.WithTimeout(ctx, e.cfg.CallTimeout)
	if t, err := e.venue.GetTicker(tickCtx, pos.Symbol); err == nil && t.Price > 0 {
		exit = t.Price
	}
	cancel()

	storeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*e.cfg.CallTimeout)
	defer cancel()

	trades, err := e.store.GetOpenTrades(storeCtx, pos.Symbol)
	if err != nil {
		e.reportError(boterrors.NewPersistenceError(component, "GetOpenTrades", err), "GetOpenTrades")
	}
	for _, t := range trades {
		e.cancelBrackets(storeCtx, t)
		e.closeTrade(storeCtx, t, exit, reason)
	}

	e.mu.Lock()
	delete(e.trailing, pos.Symbol)
	e.mu.Unlock()
	e.forgetPosition(pos.Symbol)
	return result, nil
}

func (e *Engine) cancelBrackets(ctx context.Context, t types.Trade) {
	for _, leg := range []string{t.ID + execution.StopLossSuffix, t.ID + execution.TakeProfitSuffix} {
		callCtx, cancel := context.WithTimeout(ctx, e.cfg.CallTimeout)
		err := e.venue.CancelOrder(callCtx, t.Symbol, leg)
		cancel()
		if err != nil && !isNotFound(err) {
			e.logger.LogDebugOnly("Cancel bracket leg %s: %v", leg, err)
		}
	}
}

// closeTrade marks an open trade closed at exitPrice and updates every PnL accumulator
func (e *Engine) closeTrade(ctx context.Context, t types.Trade, exitPrice float64, reason string) {
	now := e.now()
	pnl := (exitPrice - t.EntryPrice) * t.Quantity
	if t.Side == types.SideShort {
		pnl = -pnl
	}

	err := e.store.UpdateTradeExit(ctx, t.ID, storage.TradeExit{ExitPrice: exitPrice, PnL: pnl, ExitTime: now})
	switch {
	case errors.Is(err, storage.ErrTradeClosed):
		return
	case err != nil:
		e.reportError(boterrors.NewPersistenceError(component, "UpdateTradeExit", err), "UpdateTradeExit")
		return
	}

	e.safety.RecordTradeResult(pnl)
	e.risk.RecordPnL(pnl)
	e.updateSession(ctx, func(s *types.Session) { s.TotalPnL += pnl })
	e.storePerformance(ctx)
	e.metrics.UpdateRiskMetrics(e.RiskMetrics())

	t.Status = types.TradeClosed
	t.ExitPrice = &exitPrice
	t.PnL = &pnl
	t.ExitTime = &now
	e.events.Publish(Event{Type: EventTradeClosed, Symbol: t.Symbol, Data: t})
	e.logger.Trade("Closed %s %s qty=%.6f entry=%.4f exit=%.4f pnl=%.2f (%s)",
		t.Side, t.Symbol, t.Quantity, t.EntryPrice, exitPrice, pnl, reason)

	severity := notifications.SeveritySuccess
	if pnl < 0 {
		severity = notifications.SeverityWarning
	}
	e.send(notifications.Message{
		Title:    fmt.Sprintf("Closed %s %s", t.Side, t.Symbol),
		Body:     fmt.Sprintf("%s. PnL %.2f", reason, pnl),
		Severity: severity,
		Priority: notifications.PriorityNormal,
		Data: map[string]interface{}{
			"entry_price": t.EntryPrice,
			"exit_price":  exitPrice,
			"quantity":    t.Quantity,
			"pnl":         pnl,
		},
	})
}

// finish stamps the outcome, records metrics and logs refusals
func (e *Engine) finish(out *Outcome, status, reason string, start time.Time) *Outcome {
	out.Status = status
	out.Reason = reason
	out.Duration = e.now().Sub(start)

	e.metrics.RecordSignal(out.Symbol, out.Action, status)
	e.metrics.ObservePipeline(out.Duration)
	switch status {
	case monitoring.OutcomeExecuted, monitoring.OutcomeClosed:
		e.logger.Info("Signal %s %s: %s", out.SignalID, out.Symbol, status)
	default:
		e.logger.Info("Signal %s %s: %s (%s)", out.SignalID, out.Symbol, status, reason)
	}
	return out
}

func findPosition(positions []types.Position, symbol string) (types.Position, bool) {
	for _, p := range positions {
		if p.Symbol == symbol && p.Size > 0 {
			return p, true
		}
	}
	return types.Position{}, false
}

func openCount(positions []types.Position) int {
	n := 0
	for _, p := range positions {
		if p.Size > 0 {
			n++
		}
	}
	return n
}

func joinOr(items []string, fallback string) string {
	if len(items) == 0 {
		return fallback
	}
	return strings.Join(items, "; ")
}
