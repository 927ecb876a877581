package adapters

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	boterrors "github.com/vmaliev/crypto/internal/errors"
	"github.com/vmaliev/crypto/internal/exchange"
	"github.com/vmaliev/crypto/internal/exchange/bybit"
	"github.com/vmaliev/crypto/pkg/types"
)

const bybitComponent = "bybit"

// BybitAdapter implements exchange.Exchange for Bybit linear futures
type BybitAdapter struct {
	client *bybit.Client
}

var _ exchange.Exchange = (*BybitAdapter)(nil)

// NewBybitAdapter creates a new Bybit adapter instance
func NewBybitAdapter(cfg exchange.BybitConfig) (*BybitAdapter, error) {
	if cfg.APIKey == "" || cfg.APISecret == "" {
		return nil, boterrors.NewConfigurationError(bybitComponent, "new adapter", "Bybit API key and secret are required")
	}
	client := bybit.NewClient(bybit.Config{
		APIKey:    cfg.APIKey,
		APISecret: cfg.APISecret,
		Testnet:   cfg.Testnet,
		Demo:      cfg.Demo,
		BaseURL:   cfg.BaseURL,
	})
	return &BybitAdapter{client: client}, nil
}

// Name returns the exchange name
func (b *BybitAdapter) Name() string {
	return "bybit-" + b.client.GetEnvironment()
}

// PlaceOrder maps a generic order onto Bybit's v5 order parameters
func (b *BybitAdapter) PlaceOrder(ctx context.Context, req exchange.OrderRequest) (*exchange.OrderAck, error) {
	params := bybit.PlaceOrderParams{
		Symbol:      req.Symbol,
		Side:        bybit.OrderSide(req.Side),
		Qty:         req.Quantity,
		OrderLinkID: req.ClientOrderID,
		ReduceOnly:  req.ReduceOnly,
	}

	switch req.Type {
	case exchange.OrderMarket:
		params.OrderType = bybit.OrderTypeMarket
	case exchange.OrderLimit:
		params.OrderType = bybit.OrderTypeLimit
		params.Price = req.Price
	case exchange.OrderStopMarket:
		// A sell stop protects a long and fires on a fall; a buy stop protects a short
		params.OrderType = bybit.OrderTypeMarket
		params.TriggerPrice = req.TriggerPrice
		params.TriggerDirection = bybit.TriggerFall
		if req.Side == exchange.OrderBuy {
			params.TriggerDirection = bybit.TriggerRise
		}
		params.CloseOnTrigger = req.ReduceOnly
	default:
		return nil, boterrors.NewValidationError(bybitComponent, "place order", fmt.Sprintf("unsupported order type %q", req.Type))
	}

	result, err := b.client.PlaceOrder(ctx, params)
	if err != nil {
		return nil, convertError("place order", err)
	}
	return &exchange.OrderAck{OrderID: result.OrderID, ClientOrderID: result.OrderLinkID}, nil
}

// CancelOrder cancels an order by client order id
func (b *BybitAdapter) CancelOrder(ctx context.Context, symbol, clientOrderID string) error {
	if err := b.client.CancelOrder(ctx, symbol, clientOrderID); err != nil {
		return convertError("cancel order", err)
	}
	return nil
}

// GetOrderStatus returns the venue's view of an order
func (b *BybitAdapter) GetOrderStatus(ctx context.Context, symbol, clientOrderID string) (*exchange.OrderState, error) {
	order, err := b.client.GetOrderByLinkID(ctx, symbol, clientOrderID)
	if err != nil {
		return nil, convertError("order status", err)
	}
	state := toOrderState(*order)
	return &state, nil
}

// GetOpenOrders lists resting orders
func (b *BybitAdapter) GetOpenOrders(ctx context.Context, symbol string) ([]exchange.OrderState, error) {
	orders, err := b.client.GetOpenOrders(ctx, symbol, "")
	if err != nil {
		return nil, convertError("open orders", err)
	}
	out := make([]exchange.OrderState, 0, len(orders))
	for _, o := range orders {
		out = append(out, toOrderState(o))
	}
	return out, nil
}

// GetPositions lists non-empty positions
func (b *BybitAdapter) GetPositions(ctx context.Context) ([]types.Position, error) {
	infos, err := b.client.GetPositions(ctx)
	if err != nil {
		return nil, convertError("positions", err)
	}

	positions := make([]types.Position, 0, len(infos))
	for _, p := range infos {
		size := parseFloat(p.Size)
		if size <= 0 {
			continue
		}
		side := types.SideLong
		if p.Side == string(bybit.OrderSideSell) {
			side = types.SideShort
		}
		positions = append(positions, types.Position{
			Symbol:        p.Symbol,
			Side:          side,
			Size:          size,
			EntryPrice:    parseFloat(p.AvgPrice),
			MarkPrice:     parseFloat(p.MarkPrice),
			UnrealizedPnL: parseFloat(p.UnrealisedPnl),
			Leverage:      parseFloat(p.Leverage),
			StopLoss:      parseFloat(p.StopLoss),
			TakeProfit:    parseFloat(p.TakeProfit),
			TrailingStop:  parseFloat(p.TrailingStop),
			OpenedAt:      parseMillis(p.CreatedTime),
		})
	}
	return positions, nil
}

// GetAccountInfo returns the unified account summary
func (b *BybitAdapter) GetAccountInfo(ctx context.Context) (*types.AccountInfo, error) {
	wallet, err := b.client.GetWalletBalance(ctx, bybit.AccountTypeUnified)
	if err != nil {
		return nil, convertError("account info", err)
	}

	info := &types.AccountInfo{
		TotalBalance:     parseFloat(wallet.TotalWalletBalance),
		AvailableBalance: parseFloat(wallet.TotalAvailableBalance),
		Equity:           parseFloat(wallet.TotalEquity),
		UnrealizedPnL:    parseFloat(wallet.TotalPerpUPL),
		UpdatedAt:        time.Now(),
	}
	if im := parseFloat(wallet.TotalInitialMargin); im > 0 && info.Equity > 0 {
		info.Leverage = im / info.Equity
	}
	return info, nil
}

// GetTicker returns the last traded price for symbol
func (b *BybitAdapter) GetTicker(ctx context.Context, symbol string) (*types.Ticker, error) {
	t, err := b.client.GetTicker(ctx, symbol)
	if err != nil {
		return nil, convertError("ticker", err)
	}
	return &types.Ticker{
		Symbol:    t.Symbol,
		Price:     parseFloat(t.LastPrice),
		MarkPrice: parseFloat(t.MarkPrice),
		Volume:    parseFloat(t.Volume24h),
		Timestamp: time.Now(),
	}, nil
}

// SetLeverage applies the configured leverage to symbol
func (b *BybitAdapter) SetLeverage(ctx context.Context, symbol string, leverage float64) error {
	if err := b.client.SetLeverage(ctx, symbol, leverage); err != nil {
		return convertError("set leverage", err)
	}
	return nil
}

func toOrderState(o bybit.Order) exchange.OrderState {
	orderType := exchange.OrderType(o.OrderType)
	if o.TriggerPrice != "" && parseFloat(o.TriggerPrice) > 0 && o.OrderType == string(bybit.OrderTypeMarket) {
		orderType = exchange.OrderStopMarket
	}
	price := parseFloat(o.Price)
	if orderType == exchange.OrderStopMarket {
		price = parseFloat(o.TriggerPrice)
	}
	return exchange.OrderState{
		OrderID:       o.OrderID,
		ClientOrderID: o.OrderLinkID,
		Symbol:        o.Symbol,
		Side:          exchange.OrderSide(o.Side),
		Type:          orderType,
		Status:        o.OrderStatus,
		Quantity:      parseFloat(o.Qty),
		Price:         price,
		FilledQty:     parseFloat(o.CumExecQty),
		AvgPrice:      parseFloat(o.AvgPrice),
		ReduceOnly:    o.ReduceOnly,
	}
}

// convertError maps Bybit failures onto bot error categories
func convertError(operation string, err error) error {
	if err == nil {
		return nil
	}
	switch {
	case bybit.IsAuthenticationError(err):
		return boterrors.NewCredentialsError(bybitComponent, operation, err)
	case bybit.IsRateLimitError(err):
		return boterrors.NewRateLimitError(bybitComponent, operation, err)
	case bybit.IsRetryableError(err):
		return boterrors.WrapError(err, boterrors.ErrorCategoryTemporary, bybitComponent, operation)
	case bybit.IsOrderNotFoundError(err):
		return boterrors.NewOrderError(bybitComponent, operation, fmt.Errorf("%w: %v", exchange.ErrOrderNotFound, err)).WithRetryable(false)
	case bybit.IsInsufficientBalanceError(err):
		return boterrors.NewOrderError(bybitComponent, operation, err).WithRetryable(false)
	}
	var be *bybit.BybitError
	if errors.As(err, &be) {
		return boterrors.NewExchangeError(bybitComponent, operation, err)
	}
	return boterrors.CategorizeError(err, bybitComponent, operation)
}

func parseFloat(s string) float64 {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return v
}

func parseMillis(s string) time.Time {
	ms, err := strconv.ParseInt(s, 10, 64)
	if err != nil || ms <= 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}
