package paper

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vmaliev/crypto/internal/exchange"
	"github.com/vmaliev/crypto/pkg/types"
)

func newVenue() *Exchange {
	return New(exchange.PaperConfig{
		InitialBalance: 10000,
		Prices:         map[string]float64{"BTCUSDT": 50000},
	})
}

func TestMarketOrderOpensPosition(t *testing.T) {
	ctx := context.Background()
	e := newVenue()

	ack, err := e.PlaceOrder(ctx, exchange.OrderRequest{
		Symbol: "BTCUSDT", Side: exchange.OrderBuy, Type: exchange.OrderMarket, Quantity: 0.01, ClientOrderID: "entry-1",
	})
	require.NoError(t, err)
	assert.Equal(t, "entry-1", ack.ClientOrderID)

	state, err := e.GetOrderStatus(ctx, "BTCUSDT", "entry-1")
	require.NoError(t, err)
	assert.Equal(t, exchange.StatusFilled, state.Status)
	assert.Equal(t, 50000.0, state.AvgPrice)

	positions, err := e.GetPositions(ctx)
	require.NoError(t, err)
	require.Len(t, positions, 1)
	assert.Equal(t, types.SideLong, positions[0].Side)
	assert.Equal(t, 0.01, positions[0].Size)
}

func TestStopTriggersAndDeactivatesSibling(t *testing.T) {
	ctx := context.Background()
	e := newVenue()

	_, err := e.PlaceOrder(ctx, exchange.OrderRequest{Symbol: "BTCUSDT", Side: exchange.OrderBuy, Type: exchange.OrderMarket, Quantity: 0.1, ClientOrderID: "e"})
	require.NoError(t, err)
	_, err = e.PlaceOrder(ctx, exchange.OrderRequest{Symbol: "BTCUSDT", Side: exchange.OrderSell, Type: exchange.OrderStopMarket, TriggerPrice: 49000, Quantity: 0.1, ReduceOnly: true, ClientOrderID: "e-sl"})
	require.NoError(t, err)
	_, err = e.PlaceOrder(ctx, exchange.OrderRequest{Symbol: "BTCUSDT", Side: exchange.OrderSell, Type: exchange.OrderLimit, Price: 52000, Quantity: 0.1, ReduceOnly: true, ClientOrderID: "e-tp"})
	require.NoError(t, err)

	open, err := e.GetOpenOrders(ctx, "")
	require.NoError(t, err)
	assert.Len(t, open, 2)

	e.SetPrice("BTCUSDT", 48900)

	sl, _ := e.GetOrderStatus(ctx, "BTCUSDT", "e-sl")
	tp, _ := e.GetOrderStatus(ctx, "BTCUSDT", "e-tp")
	assert.Equal(t, exchange.StatusFilled, sl.Status)
	assert.Equal(t, exchange.StatusDeactivated, tp.Status)

	positions, _ := e.GetPositions(ctx)
	assert.Empty(t, positions)

	account, err := e.GetAccountInfo(ctx)
	require.NoError(t, err)
	assert.InDelta(t, 10000-110, account.TotalBalance, 1e-6)
}

func TestReduceOnlyWithoutPositionRejected(t *testing.T) {
	e := newVenue()
	_, err := e.PlaceOrder(context.Background(), exchange.OrderRequest{
		Symbol: "BTCUSDT", Side: exchange.OrderSell, Type: exchange.OrderMarket, Quantity: 0.01, ReduceOnly: true,
	})
	assert.Error(t, err)
}

func TestDuplicateClientOrderID(t *testing.T) {
	ctx := context.Background()
	e := newVenue()
	req := exchange.OrderRequest{Symbol: "BTCUSDT", Side: exchange.OrderBuy, Type: exchange.OrderMarket, Quantity: 0.01, ClientOrderID: "dup"}

	_, err := e.PlaceOrder(ctx, req)
	require.NoError(t, err)
	_, err = e.PlaceOrder(ctx, req)
	assert.Error(t, err)
}

func TestFailNextAndUnknownMarket(t *testing.T) {
	ctx := context.Background()
	e := newVenue()

	boom := errors.New("connection reset")
	e.FailNext("ticker", boom)
	_, err := e.GetTicker(ctx, "BTCUSDT")
	assert.ErrorIs(t, err, boom)

	ticker, err := e.GetTicker(ctx, "BTCUSDT")
	require.NoError(t, err)
	assert.Equal(t, 50000.0, ticker.Price)

	_, err = e.GetTicker(ctx, "ETHUSDT")
	assert.Error(t, err)
}

func TestCancelOrder(t *testing.T) {
	ctx := context.Background()
	e := newVenue()
	_, err := e.PlaceOrder(ctx, exchange.OrderRequest{Symbol: "BTCUSDT", Side: exchange.OrderBuy, Type: exchange.OrderLimit, Price: 45000, Quantity: 0.01, ClientOrderID: "l"})
	require.NoError(t, err)

	require.NoError(t, e.CancelOrder(ctx, "BTCUSDT", "l"))
	state, _ := e.GetOrderStatus(ctx, "BTCUSDT", "l")
	assert.Equal(t, exchange.StatusCancelled, state.Status)

	assert.ErrorIs(t, e.CancelOrder(ctx, "BTCUSDT", "missing"), exchange.ErrOrderNotFound)
}
