// Package paper is an in-process venue that fills orders against a settable
// price feed. It backs --dry-run and the pipeline tests.
package paper

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strconv"
	"sync"
	"time"

	boterrors "github.com/vmaliev/crypto/internal/errors"
	"github.com/vmaliev/crypto/internal/exchange"
	"github.com/vmaliev/crypto/pkg/types"
)

const component = "paper"

// Exchange simulates a one-way-mode linear futures account
type Exchange struct {
	mu        sync.Mutex
	balance   float64
	feeRate   float64
	prices    map[string]float64
	positions map[string]*types.Position
	orders    map[string]*exchange.OrderState
	order     []string
	seq       int
	faults    map[string][]error
	now       func() time.Time
}

var _ exchange.Exchange = (*Exchange)(nil)

// New creates a paper venue seeded from cfg
func New(cfg exchange.PaperConfig) *Exchange {
	e := &Exchange{
		balance:   cfg.InitialBalance,
		feeRate:   cfg.FeeRate,
		prices:    make(map[string]float64),
		positions: make(map[string]*types.Position),
		orders:    make(map[string]*exchange.OrderState),
		faults:    make(map[string][]error),
		now:       time.Now,
	}
	for symbol, price := range cfg.Prices {
		e.prices[symbol] = price
	}
	return e
}

// Name returns the venue name
func (e *Exchange) Name() string { return exchange.NamePaper }

// FailNext queues err to be returned by the next call of op
// ("place", "cancel", "status", "open", "positions", "account", "ticker")
func (e *Exchange) FailNext(op string, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.faults[op] = append(e.faults[op], err)
}

func (e *Exchange) fault(op string) error {
	queue := e.faults[op]
	if len(queue) == 0 {
		return nil
	}
	e.faults[op] = queue[1:]
	return queue[0]
}

// SetPrice moves the market and fires any resting orders the move crosses
func (e *Exchange) SetPrice(symbol string, price float64) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.prices[symbol] = price
	if pos, ok := e.positions[symbol]; ok {
		pos.MarkPrice = price
		pos.UnrealizedPnL = pos.PnLAt(price)
	}

	for _, id := range e.order {
		o := e.orders[id]
		if o.Symbol != symbol || !resting(o.Status) {
			continue
		}
		switch o.Type {
		case exchange.OrderStopMarket:
			if (o.Side == exchange.OrderSell && price <= o.Price) || (o.Side == exchange.OrderBuy && price >= o.Price) {
				e.fillLocked(o, price)
			}
		case exchange.OrderLimit:
			if (o.Side == exchange.OrderSell && price >= o.Price) || (o.Side == exchange.OrderBuy && price <= o.Price) {
				e.fillLocked(o, o.Price)
			}
		}
	}
}

func resting(status string) bool {
	return status == exchange.StatusNew || status == exchange.StatusUntriggered
}

// PlaceOrder fills market orders immediately and rests limit and stop orders
func (e *Exchange) PlaceOrder(ctx context.Context, req exchange.OrderRequest) (*exchange.OrderAck, error) {
	if err := ctx.Err(); err != nil {
		return nil, boterrors.CategorizeError(err, component, "place order")
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.fault("place"); err != nil {
		return nil, err
	}
	if req.Quantity <= 0 || math.IsNaN(req.Quantity) {
		return nil, boterrors.NewValidationError(component, "place order", fmt.Sprintf("invalid quantity %v", req.Quantity))
	}
	if req.ClientOrderID != "" {
		if _, dup := e.orders[req.ClientOrderID]; dup {
			return nil, boterrors.NewOrderError(component, "place order", fmt.Errorf("duplicate client order id %s", req.ClientOrderID)).WithRetryable(false)
		}
	}
	price, ok := e.prices[req.Symbol]
	if !ok {
		return nil, boterrors.NewExchangeError(component, "place order", fmt.Errorf("no market for %s", req.Symbol))
	}

	if req.ReduceOnly {
		pos, has := e.positions[req.Symbol]
		if !has || exchange.SideForPosition(pos.Side) == req.Side {
			return nil, boterrors.NewOrderError(component, "place order", fmt.Errorf("reduce-only %s order has no %s position to reduce", req.Side, req.Symbol)).WithRetryable(false)
		}
	}

	e.seq++
	o := &exchange.OrderState{
		OrderID:       "paper-" + strconv.Itoa(e.seq),
		ClientOrderID: req.ClientOrderID,
		Symbol:        req.Symbol,
		Side:          req.Side,
		Type:          req.Type,
		Quantity:      req.Quantity,
		ReduceOnly:    req.ReduceOnly,
	}
	if o.ClientOrderID == "" {
		o.ClientOrderID = o.OrderID
	}

	switch req.Type {
	case exchange.OrderMarket:
		o.Status = exchange.StatusNew
		e.track(o)
		e.fillLocked(o, price)
	case exchange.OrderLimit:
		if req.Price <= 0 {
			return nil, boterrors.NewValidationError(component, "place order", "limit order requires a price")
		}
		o.Price = req.Price
		o.Status = exchange.StatusNew
		e.track(o)
	case exchange.OrderStopMarket:
		if req.TriggerPrice <= 0 {
			return nil, boterrors.NewValidationError(component, "place order", "stop order requires a trigger price")
		}
		o.Price = req.TriggerPrice
		o.Status = exchange.StatusUntriggered
		e.track(o)
	default:
		return nil, boterrors.NewValidationError(component, "place order", fmt.Sprintf("unsupported order type %q", req.Type))
	}

	return &exchange.OrderAck{OrderID: o.OrderID, ClientOrderID: o.ClientOrderID}, nil
}

func (e *Exchange) track(o *exchange.OrderState) {
	e.orders[o.ClientOrderID] = o
	e.order = append(e.order, o.ClientOrderID)
}

// fillLocked applies a fill to the position and wallet
func (e *Exchange) fillLocked(o *exchange.OrderState, price float64) {
	qty := o.Quantity
	pos, has := e.positions[o.Symbol]
	if o.ReduceOnly {
		if !has || exchange.SideForPosition(pos.Side) == o.Side {
			o.Status = exchange.StatusDeactivated
			return
		}
		qty = math.Min(qty, pos.Size)
	}

	e.balance -= qty * price * e.feeRate
	o.FilledQty = qty
	o.AvgPrice = price
	o.Status = exchange.StatusFilled

	side := types.SideLong
	if o.Side == exchange.OrderSell {
		side = types.SideShort
	}

	switch {
	case !has:
		e.positions[o.Symbol] = &types.Position{
			Symbol: o.Symbol, Side: side, Size: qty, EntryPrice: price, MarkPrice: price, Leverage: 1, OpenedAt: e.now(),
		}
	case pos.Side == side:
		total := pos.Size + qty
		pos.EntryPrice = (pos.EntryPrice*pos.Size + price*qty) / total
		pos.Size = total
	default:
		closing := math.Min(qty, pos.Size)
		e.balance += pos.PnLAt(price) / pos.Size * closing
		pos.Size -= closing
		remainder := qty - closing
		if pos.Size <= 1e-12 {
			delete(e.positions, o.Symbol)
			e.deactivateReduceOnlyLocked(o.Symbol)
			if remainder > 1e-12 {
				e.positions[o.Symbol] = &types.Position{
					Symbol: o.Symbol, Side: side, Size: remainder, EntryPrice: price, MarkPrice: price, Leverage: 1, OpenedAt: e.now(),
				}
			}
		}
	}
	if p, ok := e.positions[o.Symbol]; ok {
		p.MarkPrice = price
		p.UnrealizedPnL = p.PnLAt(price)
	}
}

func (e *Exchange) deactivateReduceOnlyLocked(symbol string) {
	for _, o := range e.orders {
		if o.Symbol == symbol && o.ReduceOnly && resting(o.Status) {
			o.Status = exchange.StatusDeactivated
		}
	}
}

// CancelOrder cancels a resting order
func (e *Exchange) CancelOrder(ctx context.Context, symbol, clientOrderID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.fault("cancel"); err != nil {
		return err
	}
	o, ok := e.orders[clientOrderID]
	if !ok || o.Symbol != symbol {
		return boterrors.NewOrderError(component, "cancel order", exchange.ErrOrderNotFound).WithRetryable(false)
	}
	if !resting(o.Status) {
		return boterrors.NewOrderError(component, "cancel order", fmt.Errorf("order %s is %s", clientOrderID, o.Status)).WithRetryable(false)
	}
	o.Status = exchange.StatusCancelled
	return nil
}

// GetOrderStatus returns a copy of the tracked order
func (e *Exchange) GetOrderStatus(ctx context.Context, symbol, clientOrderID string) (*exchange.OrderState, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.fault("status"); err != nil {
		return nil, err
	}
	o, ok := e.orders[clientOrderID]
	if !ok || o.Symbol != symbol {
		return nil, boterrors.NewOrderError(component, "order status", exchange.ErrOrderNotFound).WithRetryable(false)
	}
	cp := *o
	return &cp, nil
}

// GetOpenOrders lists resting orders in placement order
func (e *Exchange) GetOpenOrders(ctx context.Context, symbol string) ([]exchange.OrderState, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.fault("open"); err != nil {
		return nil, err
	}
	var out []exchange.OrderState
	for _, id := range e.order {
		o := e.orders[id]
		if resting(o.Status) && (symbol == "" || o.Symbol == symbol) {
			out = append(out, *o)
		}
	}
	return out, nil
}

// GetPositions lists open positions sorted by symbol
func (e *Exchange) GetPositions(ctx context.Context) ([]types.Position, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.fault("positions"); err != nil {
		return nil, err
	}
	out := make([]types.Position, 0, len(e.positions))
	for _, p := range e.positions {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out, nil
}

// GetAccountInfo reports wallet balance plus unrealized PnL
func (e *Exchange) GetAccountInfo(ctx context.Context) (*types.AccountInfo, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.fault("account"); err != nil {
		return nil, err
	}
	var upnl, margin float64
	for _, p := range e.positions {
		upnl += p.UnrealizedPnL
		margin += p.Notional()
	}
	equity := e.balance + upnl
	info := &types.AccountInfo{
		TotalBalance:     e.balance,
		AvailableBalance: math.Max(0, equity-margin),
		Equity:           equity,
		UnrealizedPnL:    upnl,
		UpdatedAt:        e.now(),
	}
	if equity > 0 {
		info.Leverage = margin / equity
	}
	return info, nil
}

// GetTicker returns the current simulated price
func (e *Exchange) GetTicker(ctx context.Context, symbol string) (*types.Ticker, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.fault("ticker"); err != nil {
		return nil, err
	}
	price, ok := e.prices[symbol]
	if !ok {
		return nil, boterrors.NewExchangeError(component, "ticker", fmt.Errorf("no market for %s", symbol))
	}
	return &types.Ticker{Symbol: symbol, Price: price, MarkPrice: price, Timestamp: e.now()}, nil
}
