package bybit

import (
	"context"
	"fmt"
)

// GetTicker gets the latest linear ticker for symbol
func (c *Client) GetTicker(ctx context.Context, symbol string) (*TickerInfo, error) {
	params := map[string]interface{}{
		"category": CategoryLinear,
		"symbol":   symbol,
	}

	var list tickerList
	err := c.readWithRetry(ctx, func() error {
		response, err := c.httpClient.NewUtaBybitServiceWithParams(params).GetMarketTickers(ctx)
		if err != nil {
			return fmt.Errorf("failed to get ticker: %w", err)
		}
		return decodeResult("ticker", response, &list)
	})
	if err != nil {
		return nil, err
	}

	for i := range list.List {
		if list.List[i].Symbol == symbol {
			return &list.List[i], nil
		}
	}
	return nil, fmt.Errorf("no ticker data found for %s", symbol)
}
