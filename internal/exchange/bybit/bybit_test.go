package bybit

import (
	"fmt"
	"testing"

	bybit_api "github.com/bybit-exchange/bybit.go.api"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeResult(t *testing.T) {
	resp := &bybit_api.ServerResponse{
		RetCode: 0,
		RetMsg:  "OK",
		Result: map[string]interface{}{
			"orderId":     "1321003749386327552",
			"orderLinkId": "01J0ABC",
		},
	}

	var ack PlaceOrderResult
	require.NoError(t, decodeResult("place order", resp, &ack))
	assert.Equal(t, "1321003749386327552", ack.OrderID)
	assert.Equal(t, "01J0ABC", ack.OrderLinkID)
}

func TestDecodeResultErrors(t *testing.T) {
	err := decodeResult("place order", &bybit_api.ServerResponse{RetCode: ErrCodeInsufficientBalance, RetMsg: "ab not enough"}, nil)
	require.Error(t, err)
	assert.True(t, IsInsufficientBalanceError(err))
	assert.Contains(t, err.Error(), "place order")

	err = decodeResult("ticker", "not a response", nil)
	assert.Error(t, err)
}

func TestErrorClassification(t *testing.T) {
	tests := []struct {
		code      int
		retryable bool
		auth      bool
	}{
		{ErrCodeRateLimitExceeded, true, false},
		{ErrCodeServerBusy, true, false},
		{ErrCodeInvalidAPIKey, false, true},
		{ErrCodeInvalidSignature, false, true},
		{ErrCodeOrderNotFound, false, false},
		{ErrCodeInvalidQuantity, false, false},
	}

	for _, tt := range tests {
		t.Run(GetErrorDescription(tt.code), func(t *testing.T) {
			err := fmt.Errorf("wrapped: %w", &BybitError{Code: tt.code})
			assert.Equal(t, tt.retryable, IsRetryableError(err))
			assert.Equal(t, tt.auth, IsAuthenticationError(err))
		})
	}

	assert.False(t, IsRetryableError(fmt.Errorf("plain")))
}

func TestInstrumentFormatting(t *testing.T) {
	info := &InstrumentInfo{Symbol: "BTCUSDT"}
	info.LotSizeFilter.QtyStep = "0.001"
	info.LotSizeFilter.MinOrderQty = "0.001"
	info.LotSizeFilter.MaxOrderQty = "100"
	info.PriceFilter.TickSize = "0.10"

	qty, err := info.FormatQuantity(0.01234)
	require.NoError(t, err)
	assert.Equal(t, "0.012", qty)

	qty, err = info.FormatQuantity(250)
	require.NoError(t, err)
	assert.Equal(t, "100", qty)

	_, err = info.FormatQuantity(0.0004)
	assert.Error(t, err)

	assert.Equal(t, "49000.1", info.FormatPrice(49000.12))
	assert.Equal(t, "52000", info.FormatPrice(51999.96))
}

func TestRetryDelay(t *testing.T) {
	cfg := DefaultRetryConfig()
	assert.Equal(t, cfg.InitialDelay, cfg.delay(0))
	assert.Equal(t, 2*cfg.InitialDelay, cfg.delay(1))
	assert.Equal(t, cfg.MaxDelay, cfg.delay(10))
}
