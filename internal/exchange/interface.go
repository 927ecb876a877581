package exchange

import (
	"context"
	"errors"

	"github.com/vmaliev/crypto/pkg/types"
)

// OrderSide is the direction of an order on the exchange
type OrderSide string

const (
	OrderBuy  OrderSide = "Buy"
	OrderSell OrderSide = "Sell"
)

// Opposite returns the side that would reduce a fill on this side
func (s OrderSide) Opposite() OrderSide {
	if s == OrderBuy {
		return OrderSell
	}
	return OrderBuy
}

// SideForPosition returns the order side that opens a position of side p
func SideForPosition(p types.PositionSide) OrderSide {
	if p == types.SideShort {
		return OrderSell
	}
	return OrderBuy
}

// OrderType is the execution style of an order
type OrderType string

const (
	OrderMarket     OrderType = "Market"
	OrderLimit      OrderType = "Limit"
	OrderStopMarket OrderType = "StopMarket"
)

// Exchange order status strings as reported by the venue
const (
	StatusNew                     = "New"
	StatusPartiallyFilled         = "PartiallyFilled"
	StatusFilled                  = "Filled"
	StatusCancelled               = "Cancelled"
	StatusRejected                = "Rejected"
	StatusUntriggered             = "Untriggered"
	StatusTriggered               = "Triggered"
	StatusDeactivated             = "Deactivated"
	StatusPartiallyFilledCanceled = "PartiallyFilledCanceled"
)

// ErrOrderNotFound is returned when the venue has no record of a client order id
var ErrOrderNotFound = errors.New("order not found")

// OrderRequest describes an order to submit
type OrderRequest struct {
	Symbol        string    `json:"symbol"`
	Side          OrderSide `json:"side"`
	Type          OrderType `json:"type"`
	Quantity      float64   `json:"quantity"`
	Price         float64   `json:"price,omitempty"`
	TriggerPrice  float64   `json:"trigger_price,omitempty"`
	ReduceOnly    bool      `json:"reduce_only"`
	ClientOrderID string    `json:"client_order_id"`
}

// OrderAck is the venue's acknowledgement of a placed order
type OrderAck struct {
	OrderID       string `json:"order_id"`
	ClientOrderID string `json:"client_order_id"`
}

// OrderState is the venue's current view of an order
type OrderState struct {
	OrderID       string    `json:"order_id"`
	ClientOrderID string    `json:"client_order_id"`
	Symbol        string    `json:"symbol"`
	Side          OrderSide `json:"side"`
	Type          OrderType `json:"type"`
	Status        string    `json:"status"`
	Quantity      float64   `json:"quantity"`
	Price         float64   `json:"price"`
	FilledQty     float64   `json:"filled_qty"`
	AvgPrice      float64   `json:"avg_price"`
	ReduceOnly    bool      `json:"reduce_only"`
}

// Exchange is the venue surface the trading pipeline depends on
type Exchange interface {
	Name() string

	PlaceOrder(ctx context.Context, req OrderRequest) (*OrderAck, error)
	CancelOrder(ctx context.Context, symbol, clientOrderID string) error
	GetOrderStatus(ctx context.Context, symbol, clientOrderID string) (*OrderState, error)
	// GetOpenOrders lists resting orders; an empty symbol lists all of them
	GetOpenOrders(ctx context.Context, symbol string) ([]OrderState, error)

	GetPositions(ctx context.Context) ([]types.Position, error)
	GetAccountInfo(ctx context.Context) (*types.AccountInfo, error)
	GetTicker(ctx context.Context, symbol string) (*types.Ticker, error)
}
