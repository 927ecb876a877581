package bybit

// OrderSide represents the side of an order
type OrderSide string

const (
	OrderSideBuy  OrderSide = "Buy"
	OrderSideSell OrderSide = "Sell"
)

// OrderType represents the type of an order
type OrderType string

const (
	OrderTypeMarket OrderType = "Market"
	OrderTypeLimit  OrderType = "Limit"
)

// TriggerDirection tells a conditional order which way the price must cross
type TriggerDirection int

const (
	TriggerRise TriggerDirection = 1
	TriggerFall TriggerDirection = 2
)

// Order is the v5 order record returned by realtime and history queries
type Order struct {
	OrderID       string `json:"orderId"`
	OrderLinkID   string `json:"orderLinkId"`
	Symbol        string `json:"symbol"`
	Side          string `json:"side"`
	OrderType     string `json:"orderType"`
	Qty           string `json:"qty"`
	Price         string `json:"price"`
	TriggerPrice  string `json:"triggerPrice"`
	OrderStatus   string `json:"orderStatus"`
	CumExecQty    string `json:"cumExecQty"`
	CumExecValue  string `json:"cumExecValue"`
	AvgPrice      string `json:"avgPrice"`
	StopOrderType string `json:"stopOrderType"`
	ReduceOnly    bool   `json:"reduceOnly"`
	CreatedTime   string `json:"createdTime"`
	UpdatedTime   string `json:"updatedTime"`
}

type orderList struct {
	Category       string  `json:"category"`
	List           []Order `json:"list"`
	NextPageCursor string  `json:"nextPageCursor"`
}

// PositionInfo is one entry from the position list
type PositionInfo struct {
	Symbol        string `json:"symbol"`
	Side          string `json:"side"`
	Size          string `json:"size"`
	AvgPrice      string `json:"avgPrice"`
	MarkPrice     string `json:"markPrice"`
	UnrealisedPnl string `json:"unrealisedPnl"`
	Leverage      string `json:"leverage"`
	StopLoss      string `json:"stopLoss"`
	TakeProfit    string `json:"takeProfit"`
	TrailingStop  string `json:"trailingStop"`
	PositionIdx   int    `json:"positionIdx"`
	CreatedTime   string `json:"createdTime"`
	UpdatedTime   string `json:"updatedTime"`
}

type positionList struct {
	Category       string         `json:"category"`
	List           []PositionInfo `json:"list"`
	NextPageCursor string         `json:"nextPageCursor"`
}

// WalletInfo is the unified account summary
type WalletInfo struct {
	AccountType           string `json:"accountType"`
	TotalEquity           string `json:"totalEquity"`
	TotalWalletBalance    string `json:"totalWalletBalance"`
	TotalAvailableBalance string `json:"totalAvailableBalance"`
	TotalPerpUPL          string `json:"totalPerpUPL"`
	TotalInitialMargin    string `json:"totalInitialMargin"`
}

type walletList struct {
	List []WalletInfo `json:"list"`
}

// TickerInfo is a linear ticker snapshot
type TickerInfo struct {
	Symbol    string `json:"symbol"`
	LastPrice string `json:"lastPrice"`
	MarkPrice string `json:"markPrice"`
	Volume24h string `json:"volume24h"`
}

type tickerList struct {
	Category string       `json:"category"`
	List     []TickerInfo `json:"list"`
}
