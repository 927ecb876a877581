package bybit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// InstrumentInfo holds the lot and price filters of a linear contract
type InstrumentInfo struct {
	Symbol      string `json:"symbol"`
	Status      string `json:"status"`
	PriceFilter struct {
		MinPrice string `json:"minPrice"`
		MaxPrice string `json:"maxPrice"`
		TickSize string `json:"tickSize"`
	} `json:"priceFilter"`
	LotSizeFilter struct {
		MinNotionalValue string `json:"minNotionalValue"`
		MaxOrderQty      string `json:"maxOrderQty"`
		MaxMktOrderQty   string `json:"maxMktOrderQty"`
		MinOrderQty      string `json:"minOrderQty"`
		QtyStep          string `json:"qtyStep"`
	} `json:"lotSizeFilter"`
}

type instrumentList struct {
	Category string           `json:"category"`
	List     []InstrumentInfo `json:"list"`
}

// InstrumentManager caches instrument filters and snaps order values to them
type InstrumentManager struct {
	client *Client

	mutex       sync.RWMutex
	instruments map[string]cachedInstrument
	ttl         time.Duration
}

type cachedInstrument struct {
	info      *InstrumentInfo
	fetchedAt time.Time
}

// NewInstrumentManager creates a new instrument manager
func NewInstrumentManager(client *Client) *InstrumentManager {
	return &InstrumentManager{
		client:      client,
		instruments: make(map[string]cachedInstrument),
		ttl:         time.Hour,
	}
}

// Put seeds the cache, used for symbols whose filters are known up front
func (im *InstrumentManager) Put(info *InstrumentInfo) {
	im.mutex.Lock()
	defer im.mutex.Unlock()
	im.instruments[info.Symbol] = cachedInstrument{info: info, fetchedAt: time.Now()}
}

// GetInstrumentInfo retrieves and caches instrument information
func (im *InstrumentManager) GetInstrumentInfo(ctx context.Context, symbol string) (*InstrumentInfo, error) {
	im.mutex.RLock()
	cached, ok := im.instruments[symbol]
	im.mutex.RUnlock()
	if ok && time.Since(cached.fetchedAt) < im.ttl {
		return cached.info, nil
	}

	params := map[string]interface{}{
		"category": CategoryLinear,
		"symbol":   symbol,
	}
	result, err := im.client.httpClient.NewUtaBybitServiceWithParams(params).GetInstrumentInfo(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch instrument info: %w", err)
	}

	var list instrumentList
	if err := decodeResult("instrument info", result, &list); err != nil {
		return nil, err
	}
	for i := range list.List {
		if list.List[i].Symbol == symbol {
			info := &list.List[i]
			im.Put(info)
			return info, nil
		}
	}
	return nil, fmt.Errorf("instrument %s not found", symbol)
}

// FormatQuantity rounds qty down to the lot step and checks the min and max order size
func (info *InstrumentInfo) FormatQuantity(qty float64) (string, error) {
	d := decimal.NewFromFloat(qty)
	step, err := decimal.NewFromString(info.LotSizeFilter.QtyStep)
	if err == nil && step.IsPositive() {
		d = d.Div(step).Floor().Mul(step)
	}

	if min, err := decimal.NewFromString(info.LotSizeFilter.MinOrderQty); err == nil && d.LessThan(min) {
		return "", fmt.Errorf("quantity %s below minimum %s for %s", d.String(), min.String(), info.Symbol)
	}
	if max, err := decimal.NewFromString(info.LotSizeFilter.MaxOrderQty); err == nil && max.IsPositive() && d.GreaterThan(max) {
		d = max
	}
	return d.String(), nil
}

// FormatPrice rounds price to the nearest tick
func (info *InstrumentInfo) FormatPrice(price float64) string {
	d := decimal.NewFromFloat(price)
	tick, err := decimal.NewFromString(info.PriceFilter.TickSize)
	if err == nil && tick.IsPositive() {
		d = d.Div(tick).Round(0).Mul(tick)
	}
	return d.String()
}

// formatQuantity snaps qty for symbol, falling back to plain formatting when filters are unavailable
func (im *InstrumentManager) formatQuantity(ctx context.Context, symbol string, qty float64) (string, error) {
	info, err := im.GetInstrumentInfo(ctx, symbol)
	if err != nil {
		return decimal.NewFromFloat(qty).String(), nil
	}
	return info.FormatQuantity(qty)
}

func (im *InstrumentManager) formatPrice(ctx context.Context, symbol string, price float64) string {
	info, err := im.GetInstrumentInfo(ctx, symbol)
	if err != nil {
		return decimal.NewFromFloat(price).String()
	}
	return info.FormatPrice(price)
}
