package bybit

import (
	"context"
	"fmt"
)

// PlaceOrderParams holds parameters for a linear futures order
type PlaceOrderParams struct {
	Symbol      string
	Side        OrderSide
	OrderType   OrderType
	Qty         float64
	Price       float64
	OrderLinkID string
	ReduceOnly  bool

	// Conditional orders fire once the last price crosses TriggerPrice in TriggerDirection
	TriggerPrice     float64
	TriggerDirection TriggerDirection
	CloseOnTrigger   bool
}

// PlaceOrderResult is the acknowledgement of an accepted order
type PlaceOrderResult struct {
	OrderID     string `json:"orderId"`
	OrderLinkID string `json:"orderLinkId"`
}

// PlaceOrder submits an order; quantity and prices are snapped to the instrument filters
func (c *Client) PlaceOrder(ctx context.Context, params PlaceOrderParams) (*PlaceOrderResult, error) {
	if params.Symbol == "" {
		return nil, fmt.Errorf("symbol is required")
	}
	if params.Side == "" {
		return nil, fmt.Errorf("side is required")
	}
	if params.OrderType == "" {
		return nil, fmt.Errorf("orderType is required")
	}
	if params.OrderType == OrderTypeLimit && params.Price <= 0 {
		return nil, fmt.Errorf("price is required for limit orders")
	}

	qty, err := c.instruments.formatQuantity(ctx, params.Symbol, params.Qty)
	if err != nil {
		return nil, err
	}

	apiParams := map[string]interface{}{
		"category":  CategoryLinear,
		"symbol":    params.Symbol,
		"side":      string(params.Side),
		"orderType": string(params.OrderType),
		"qty":       qty,
	}
	if params.OrderType == OrderTypeLimit {
		apiParams["price"] = c.instruments.formatPrice(ctx, params.Symbol, params.Price)
		apiParams["timeInForce"] = "GTC"
	}
	if params.OrderLinkID != "" {
		apiParams["orderLinkId"] = params.OrderLinkID
	}
	if params.ReduceOnly {
		apiParams["reduceOnly"] = true
	}
	if params.TriggerPrice > 0 {
		apiParams["triggerPrice"] = c.instruments.formatPrice(ctx, params.Symbol, params.TriggerPrice)
		apiParams["triggerDirection"] = int(params.TriggerDirection)
		apiParams["triggerBy"] = "LastPrice"
	}
	if params.CloseOnTrigger {
		apiParams["closeOnTrigger"] = true
	}

	response, err := c.httpClient.NewUtaBybitServiceWithParams(apiParams).PlaceOrder(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to place order: %w", err)
	}

	var result PlaceOrderResult
	if err := decodeResult("place order", response, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// CancelOrder cancels a resting order by its client order id
func (c *Client) CancelOrder(ctx context.Context, symbol, orderLinkID string) error {
	params := map[string]interface{}{
		"category":    CategoryLinear,
		"symbol":      symbol,
		"orderLinkId": orderLinkID,
	}
	response, err := c.httpClient.NewUtaBybitServiceWithParams(params).CancelOrder(ctx)
	if err != nil {
		return fmt.Errorf("failed to cancel order: %w", err)
	}
	return decodeResult("cancel order", response, nil)
}

// GetOpenOrders lists active and untriggered orders. An empty symbol lists all USDT contracts.
func (c *Client) GetOpenOrders(ctx context.Context, symbol, orderLinkID string) ([]Order, error) {
	params := map[string]interface{}{"category": CategoryLinear}
	if symbol != "" {
		params["symbol"] = symbol
	} else {
		params["settleCoin"] = "USDT"
	}
	if orderLinkID != "" {
		params["orderLinkId"] = orderLinkID
	}

	var list orderList
	err := c.readWithRetry(ctx, func() error {
		response, err := c.httpClient.NewUtaBybitServiceWithParams(params).GetOpenOrders(ctx)
		if err != nil {
			return fmt.Errorf("failed to get open orders: %w", err)
		}
		return decodeResult("open orders", response, &list)
	})
	if err != nil {
		return nil, err
	}
	return list.List, nil
}

// GetOrderHistory looks up closed orders, optionally filtered by client order id
func (c *Client) GetOrderHistory(ctx context.Context, symbol, orderLinkID string, limit int) ([]Order, error) {
	params := map[string]interface{}{
		"category": CategoryLinear,
		"symbol":   symbol,
	}
	if orderLinkID != "" {
		params["orderLinkId"] = orderLinkID
	}
	if limit > 0 {
		params["limit"] = limit
	}

	var list orderList
	err := c.readWithRetry(ctx, func() error {
		response, err := c.httpClient.NewUtaBybitServiceWithParams(params).GetOrderHistory(ctx)
		if err != nil {
			return fmt.Errorf("failed to get order history: %w", err)
		}
		return decodeResult("order history", response, &list)
	})
	if err != nil {
		return nil, err
	}
	return list.List, nil
}

// GetOrderByLinkID finds an order by client id in the realtime list, then in history
func (c *Client) GetOrderByLinkID(ctx context.Context, symbol, orderLinkID string) (*Order, error) {
	open, err := c.GetOpenOrders(ctx, symbol, orderLinkID)
	if err != nil {
		return nil, err
	}
	for i := range open {
		if open[i].OrderLinkID == orderLinkID {
			return &open[i], nil
		}
	}

	history, err := c.GetOrderHistory(ctx, symbol, orderLinkID, 1)
	if err != nil {
		return nil, err
	}
	for i := range history {
		if history[i].OrderLinkID == orderLinkID {
			return &history[i], nil
		}
	}
	return nil, &BybitError{Code: ErrCodeOrderNotFound, Message: "order not found", Operation: "order lookup"}
}

// GetPositions lists open linear positions settled in USDT
func (c *Client) GetPositions(ctx context.Context) ([]PositionInfo, error) {
	params := map[string]interface{}{
		"category":   CategoryLinear,
		"settleCoin": "USDT",
	}

	var list positionList
	err := c.readWithRetry(ctx, func() error {
		response, err := c.httpClient.NewUtaBybitServiceWithParams(params).GetPositionList(ctx)
		if err != nil {
			return fmt.Errorf("failed to get positions: %w", err)
		}
		return decodeResult("positions", response, &list)
	})
	if err != nil {
		return nil, err
	}
	return list.List, nil
}

// SetLeverage sets buy and sell leverage for symbol. Bybit answers 110043 when
// the leverage is already at the requested value, which is not an error here.
func (c *Client) SetLeverage(ctx context.Context, symbol string, leverage float64) error {
	lev := fmt.Sprintf("%g", leverage)
	params := map[string]interface{}{
		"category":     CategoryLinear,
		"symbol":       symbol,
		"buyLeverage":  lev,
		"sellLeverage": lev,
	}
	response, err := c.httpClient.NewUtaBybitServiceWithParams(params).SetPositionLeverage(ctx)
	if err != nil {
		return fmt.Errorf("failed to set leverage: %w", err)
	}
	err = decodeResult("set leverage", response, nil)
	if be, ok := asBybitError(err); ok && be.Code == ErrCodeLeverageNotModified {
		return nil
	}
	return err
}
