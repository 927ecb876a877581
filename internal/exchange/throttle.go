package exchange

import (
	"context"

	"github.com/vmaliev/crypto/pkg/types"
)

// Limiter blocks until a request may proceed
type Limiter interface {
	Wait(ctx context.Context) error
}

// Throttled wraps an Exchange so every call first takes a token from the limiter
type Throttled struct {
	inner   Exchange
	limiter Limiter
}

var _ Exchange = (*Throttled)(nil)

// NewThrottled wraps inner; a nil limiter returns inner unchanged
func NewThrottled(inner Exchange, limiter Limiter) Exchange {
	if limiter == nil {
		return inner
	}
	return &Throttled{inner: inner, limiter: limiter}
}

// Unwrap returns the wrapped venue
func (t *Throttled) Unwrap() Exchange { return t.inner }

func (t *Throttled) Name() string { return t.inner.Name() }

func (t *Throttled) PlaceOrder(ctx context.Context, req OrderRequest) (*OrderAck, error) {
	if err := t.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return t.inner.PlaceOrder(ctx, req)
}

func (t *Throttled) CancelOrder(ctx context.Context, symbol, clientOrderID string) error {
	if err := t.limiter.Wait(ctx); err != nil {
		return err
	}
	return t.inner.CancelOrder(ctx, symbol, clientOrderID)
}

func (t *Throttled) GetOrderStatus(ctx context.Context, symbol, clientOrderID string) (*OrderState, error) {
	if err := t.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return t.inner.GetOrderStatus(ctx, symbol, clientOrderID)
}

func (t *Throttled) GetOpenOrders(ctx context.Context, symbol string) ([]OrderState, error) {
	if err := t.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return t.inner.GetOpenOrders(ctx, symbol)
}

func (t *Throttled) GetPositions(ctx context.Context) ([]types.Position, error) {
	if err := t.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return t.inner.GetPositions(ctx)
}

func (t *Throttled) GetAccountInfo(ctx context.Context) (*types.AccountInfo, error) {
	if err := t.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return t.inner.GetAccountInfo(ctx)
}

func (t *Throttled) GetTicker(ctx context.Context, symbol string) (*types.Ticker, error) {
	if err := t.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return t.inner.GetTicker(ctx, symbol)
}

// LeverageSetter is implemented by venues that support per-symbol leverage
type LeverageSetter interface {
	SetLeverage(ctx context.Context, symbol string, leverage float64) error
}

// SetLeverage forwards to the wrapped venue when it supports leverage
func (t *Throttled) SetLeverage(ctx context.Context, symbol string, leverage float64) error {
	ls, ok := t.inner.(LeverageSetter)
	if !ok {
		return nil
	}
	if err := t.limiter.Wait(ctx); err != nil {
		return err
	}
	return ls.SetLeverage(ctx, symbol, leverage)
}
