package safety

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestOrderValidator(t *testing.T) {
	v := NewOrderValidator()

	assert.True(t, v.ValidateSymbol("BTCUSDT").Valid)
	assert.Equal(t, "SYMBOL_INVALID_CHARS", v.ValidateSymbol("btc-usdt").Code)
	assert.Equal(t, "SYMBOL_LENGTH", v.ValidateSymbol("BT").Code)

	assert.Equal(t, "PRICE_NOT_FINITE", v.ValidatePrice(math.NaN(), "BTCUSDT").Code)
	assert.Equal(t, "PRICE_NON_POSITIVE", v.ValidatePrice(0, "BTCUSDT").Code)
	assert.Equal(t, "QUANTITY_NON_POSITIVE", v.ValidateQuantity(-1, "BTCUSDT").Code)

	assert.True(t, v.ValidateOrderValue(50000, 0.01, "BTCUSDT").Valid)
	assert.Equal(t, "ORDER_VALUE_TOO_SMALL", v.ValidateOrderValue(0.5, 1, "XRPUSDT").Code)
}

func TestValidateBracket(t *testing.T) {
	v := NewOrderValidator()

	tests := []struct {
		name   string
		long   bool
		sl, tp float64
		code   string
	}{
		{"long ok", true, 98, 104, ""},
		{"long stop above", true, 101, 104, "STOP_WRONG_SIDE"},
		{"long target below", true, 98, 99, "TARGET_WRONG_SIDE"},
		{"short ok", false, 102, 96, ""},
		{"short stop below", false, 99, 96, "STOP_WRONG_SIDE"},
		{"no legs", false, 0, 0, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := v.ValidateBracket(tt.long, 100, tt.sl, tt.tp)
			assert.Equal(t, tt.code == "", got.Valid)
			assert.Equal(t, tt.code, got.Code)
		})
	}
}

func TestSafeDivision(t *testing.T) {
	_, err := SafeDivision(1, 0)
	assert.Error(t, err)

	got, err := SafeDivision(10, 4)
	assert.NoError(t, err)
	assert.Equal(t, 2.5, got)
}
