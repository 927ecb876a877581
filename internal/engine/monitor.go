package engine

import (
	"context"
	"fmt"

	boterrors "github.com/vmaliev/crypto/internal/errors"
	"github.com/vmaliev/crypto/internal/exchange"
	"github.com/vmaliev/crypto/internal/execution"
	"github.com/vmaliev/crypto/internal/notifications"
	"github.com/vmaliev/crypto/pkg/types"
)

// pollOrders refreshes tracked orders and reports the ones that finished
func (e *Engine) pollOrders(ctx context.Context) {
	for _, o := range e.executor.PollActiveOrders(ctx) {
		e.logger.LogDebugOnly("Order %s %s finished as %s (fill %.4f)", o.ClientOrderID, o.Symbol, o.Status, o.FillPrice)
		if o.Status == types.OrderRejected {
			e.logger.LogWarning("Orders", "Order %s for %s was rejected by %s", o.ClientOrderID, o.Symbol, e.venue.Name())
		}
	}
	e.metrics.SetActiveOrders(len(e.executor.ActiveOrders()))
}

func (e *Engine) sweepStale() {
	if n := e.executor.SweepStale(0); n > 0 {
		e.logger.LogWarning("Orders", "Swept %d stale order(s) from the active table", n)
	}
	e.metrics.SetActiveOrders(len(e.executor.ActiveOrders()))
}

// monitorPositions checks every open position against its exit levels and
// the account safety limits, then settles trades whose position is gone
func (e *Engine) monitorPositions(ctx context.Context) {
	account, positions := e.snapshot()
	if account == nil {
		return
	}

	trades, err := e.store.GetOpenTrades(ctx, "")
	if err != nil {
		e.reportError(boterrors.NewPersistenceError(component, "GetOpenTrades", err), "GetOpenTrades")
	}

	for _, pos := range positions {
		if pos.Size <= 0 {
			continue
		}
		if ctx.Err() != nil {
			return
		}
		e.checkPosition(ctx, e.withLevels(pos, trades), account.TotalBalance)
	}

	e.syncClosedTrades(ctx)
}

// withLevels fills exit levels the venue does not report from the open trade and trailing map
func (e *Engine) withLevels(pos types.Position, trades []types.Trade) types.Position {
	for _, t := range trades {
		if t.Symbol != pos.Symbol || t.Side != pos.Side {
			continue
		}
		if pos.StopLoss == 0 {
			pos.StopLoss = t.StopLoss
		}
		if pos.TakeProfit == 0 {
			pos.TakeProfit = t.TakeProfit
		}
		break
	}
	e.mu.RLock()
	if trailing, ok := e.trailing[pos.Symbol]; ok && pos.TrailingStop == 0 {
		pos.TrailingStop = trailing
	}
	e.mu.RUnlock()
	return pos
}

func (e *Engine) checkPosition(ctx context.Context, pos types.Position, balance float64) {
	price := pos.MarkPrice
	if price <= 0 {
		tickCtx, cancel := context.WithTimeout(ctx, e.cfg.CallTimeout)
		t, err := e.venue.GetTicker(tickCtx, pos.Symbol)
		cancel()
		if err != nil || t.Price <= 0 {
			e.logger.LogWarning("Position Monitor", "No price for %s: %v", pos.Symbol, err)
			return
		}
		price = t.Price
		pos.MarkPrice = price
	}
	e.risk.ObservePrice(pos.Symbol, price)
	e.metrics.UpdatePrice(pos.Symbol, price)

	if force, reason := e.safety.ShouldForceClosePosition(pos, price, balance); force {
		e.forceClose(ctx, pos, reason)
		return
	}

	check := e.risk.CheckPositionRisk(pos)
	if check.ShouldClose {
		unlock := e.locks.Lock(pos.Symbol)
		defer unlock()
		live, ok := e.livePosition(ctx, pos)
		if !ok {
			return
		}
		e.logger.Risk("Closing %s %s: %s", live.Side, live.Symbol, check.Reason)
		if _, err := e.closePosition(ctx, live, check.Reason); err != nil {
			e.logger.Error("Failed to close %s: %v", pos.Symbol, err)
		}
		return
	}
	if check.TrailingStop != nil {
		e.mu.Lock()
		e.trailing[pos.Symbol] = *check.TrailingStop
		e.mu.Unlock()
		e.logger.LogDebugOnly("Trailing stop for %s moved to %.4f", pos.Symbol, *check.TrailingStop)
	}
}

func (e *Engine) forceClose(ctx context.Context, pos types.Position, reason string) {
	unlock := e.locks.Lock(pos.Symbol)
	defer unlock()

	pos, ok := e.livePosition(ctx, pos)
	if !ok {
		return
	}
	e.logger.Risk("Force closing %s %s: %s", pos.Side, pos.Symbol, reason)
	e.metrics.RecordForceClose(pos.Symbol, reason)
	e.events.Publish(Event{Type: EventForceClose, Symbol: pos.Symbol, Data: map[string]interface{}{
		"side":   pos.Side,
		"size":   pos.Size,
		"reason": reason,
	}})

	_, err := e.closePosition(ctx, pos, "force close: "+reason)
	body := reason
	if err != nil {
		body = fmt.Sprintf("%s\nClose FAILED: %v", reason, err)
	}
	e.send(notifications.Message{
		Title:    fmt.Sprintf("Force close %s %s", pos.Side, pos.Symbol),
		Body:     body,
		Severity: notifications.SeverityCritical,
		Priority: notifications.PriorityUrgent,
		Data:     map[string]interface{}{"size": pos.Size, "mark_price": pos.MarkPrice},
	})
}

// livePosition re-reads pos from the venue so a close never acts on a stale
// snapshot. The caller holds the symbol lock.
func (e *Engine) livePosition(ctx context.Context, pos types.Position) (types.Position, bool) {
	callCtx, cancel := context.WithTimeout(ctx, e.cfg.CallTimeout)
	positions, err := e.venue.GetPositions(callCtx)
	cancel()
	if err != nil {
		e.logger.LogWarning("Position Monitor", "Position check for %s failed: %v", pos.Symbol, err)
		return types.Position{}, false
	}

	live, ok := findPosition(positions, pos.Symbol)
	if !ok || live.Side != pos.Side {
		e.forgetPosition(pos.Symbol)
		e.logger.LogDebugOnly("%s %s already closed on %s", pos.Side, pos.Symbol, e.venue.Name())
		return types.Position{}, false
	}
	live.StopLoss, live.TakeProfit, live.TrailingStop = pos.StopLoss, pos.TakeProfit, pos.TrailingStop
	if live.MarkPrice <= 0 {
		live.MarkPrice = pos.MarkPrice
	}
	return live, true
}

// forgetPosition drops symbol from the cached snapshot until the next account refresh
func (e *Engine) forgetPosition(symbol string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	kept := e.positions[:0:0]
	for _, p := range e.positions {
		if p.Symbol != symbol {
			kept = append(kept, p)
		}
	}
	e.positions = kept
}

// syncClosedTrades settles open trade records whose position no longer exists
// on the venue, typically because a stop-loss or take-profit leg filled
func (e *Engine) syncClosedTrades(ctx context.Context) {
	trades, err := e.store.GetOpenTrades(ctx, "")
	if err != nil {
		e.reportError(boterrors.NewPersistenceError(component, "GetOpenTrades", err), "GetOpenTrades")
		return
	}
	if len(trades) == 0 {
		return
	}

	bySymbol := make(map[string][]types.Trade)
	var symbols []string
	for _, t := range trades {
		if _, ok := bySymbol[t.Symbol]; !ok {
			symbols = append(symbols, t.Symbol)
		}
		bySymbol[t.Symbol] = append(bySymbol[t.Symbol], t)
	}

	for _, symbol := range symbols {
		if ctx.Err() != nil {
			return
		}
		e.syncSymbol(ctx, symbol, bySymbol[symbol])
	}
}

func (e *Engine) syncSymbol(ctx context.Context, symbol string, trades []types.Trade) {
	unlock := e.locks.Lock(symbol)
	defer unlock()

	callCtx, cancel := context.WithTimeout(ctx, e.cfg.CallTimeout)
	positions, err := e.venue.GetPositions(callCtx)
	cancel()
	if err != nil {
		e.reportError(err, "GetPositions")
		return
	}
	if _, open := findPosition(positions, symbol); open {
		return
	}

	for _, t := range trades {
		exit, reason := e.exitFromBrackets(ctx, t)
		if exit <= 0 {
			exit, reason = t.EntryPrice, "position closed on exchange"
			tickCtx, cancel := context.WithTimeout(ctx, e.cfg.CallTimeout)
			if tk, err := e.venue.GetTicker(tickCtx, symbol); err == nil && tk.Price > 0 {
				exit = tk.Price
			}
			cancel()
		}
		e.cancelBrackets(ctx, t)
		e.closeTrade(ctx, t, exit, reason)
	}

	e.mu.Lock()
	delete(e.trailing, symbol)
	e.mu.Unlock()
}

// exitFromBrackets returns the fill price of whichever bracket leg closed the trade
func (e *Engine) exitFromBrackets(ctx context.Context, t types.Trade) (float64, string) {
	legs := []struct {
		suffix string
		reason string
	}{
		{execution.StopLossSuffix, "stop loss filled"},
		{execution.TakeProfitSuffix, "take profit filled"},
	}
	for _, leg := range legs {
		callCtx, cancel := context.WithTimeout(ctx, e.cfg.CallTimeout)
		st, err := e.venue.GetOrderStatus(callCtx, t.Symbol, t.ID+leg.suffix)
		cancel()
		if err != nil {
			if !isNotFound(err) {
				e.logger.LogWarning("Reconcile", "status of %s%s: %v", t.ID, leg.suffix, err)
			}
			continue
		}
		if st.Status == exchange.StatusFilled && st.AvgPrice > 0 {
			return st.AvgPrice, leg.reason
		}
	}
	return 0, ""
}
