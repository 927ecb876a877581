package adapters

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	boterrors "github.com/vmaliev/crypto/internal/errors"
	"github.com/vmaliev/crypto/internal/exchange"
	"github.com/vmaliev/crypto/internal/exchange/bybit"
)

func TestConvertError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		category boterrors.ErrorCategory
	}{
		{"credentials", &bybit.BybitError{Code: bybit.ErrCodeInvalidAPIKey}, boterrors.ErrorCategoryCredentials},
		{"rate limit", &bybit.BybitError{Code: bybit.ErrCodeRateLimitExceeded}, boterrors.ErrorCategoryRateLimit},
		{"busy", &bybit.BybitError{Code: bybit.ErrCodeServerBusy}, boterrors.ErrorCategoryTemporary},
		{"insufficient", &bybit.BybitError{Code: bybit.ErrCodeInsufficientBalance}, boterrors.ErrorCategoryOrder},
		{"rejected", &bybit.BybitError{Code: bybit.ErrCodeInvalidPrice}, boterrors.ErrorCategoryExchange},
		{"transport", errors.New("dial tcp: connection refused"), boterrors.ErrorCategoryNetwork},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := boterrors.As(convertError("op", tt.err))
			require.True(t, ok)
			assert.Equal(t, tt.category, got.Category)
		})
	}

	notFound := convertError("status", &bybit.BybitError{Code: bybit.ErrCodeOrderNotFound})
	assert.ErrorIs(t, notFound, exchange.ErrOrderNotFound)
}

func TestToOrderStateDetectsStops(t *testing.T) {
	stop := toOrderState(bybit.Order{
		OrderLinkID: "x-sl", Symbol: "BTCUSDT", Side: "Sell", OrderType: "Market",
		TriggerPrice: "49000", OrderStatus: "Untriggered", Qty: "0.01", ReduceOnly: true,
	})
	assert.Equal(t, exchange.OrderStopMarket, stop.Type)
	assert.Equal(t, 49000.0, stop.Price)
	assert.True(t, stop.ReduceOnly)

	limit := toOrderState(bybit.Order{OrderType: "Limit", Price: "52000", OrderStatus: "New"})
	assert.Equal(t, exchange.OrderLimit, limit.Type)
	assert.Equal(t, 52000.0, limit.Price)
}

func TestFactory(t *testing.T) {
	f := NewFactory()

	_, err := f.CreateExchange(exchange.Config{Name: "binance"})
	assert.Error(t, err)

	_, err = f.CreateExchange(exchange.Config{Name: "bybit"})
	assert.Error(t, err, "missing credentials")

	venue, err := f.CreateExchange(exchange.Config{
		Name:              "Paper",
		Paper:             exchange.PaperConfig{InitialBalance: 1000, Prices: map[string]float64{"ETHUSDT": 3000}},
		RequestsPerSecond: 10,
	})
	require.NoError(t, err)
	_, throttled := venue.(*exchange.Throttled)
	assert.True(t, throttled)

	ticker, err := venue.GetTicker(context.Background(), "ETHUSDT")
	require.NoError(t, err)
	assert.Equal(t, 3000.0, ticker.Price)
}
