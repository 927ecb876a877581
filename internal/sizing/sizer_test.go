package sizing

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vmaliev/crypto/pkg/types"
)

type recordingLogger struct {
	calls    int
	lastQty  float64
	strategy string
}

func (r *recordingLogger) LogSizingDecision(symbol string, price, balance, confidence, quantity, notional, riskAmount float64, strategy string, warnings []string) {
	r.calls++
	r.lastQty = quantity
	r.strategy = strategy
}

func vol(v float64) *float64 { return &v }

func baseRequest() Request {
	return Request{
		Symbol:         "BTCUSDT",
		Price:          50000,
		AccountBalance: 10000,
		Strength:       types.StrengthStrong,
		Confidence:     0.9,
		Volatility:     vol(20),
	}
}

func TestSizeRejectsInvalidInputs(t *testing.T) {
	s := NewSizer(DefaultConfig(), nil)

	req := baseRequest()
	req.Price = 0
	_, err := s.Size(req)
	assert.ErrorIs(t, err, ErrInvalidPrice)

	req = baseRequest()
	req.AccountBalance = -1
	_, err = s.Size(req)
	assert.ErrorIs(t, err, ErrInvalidBalance)
}

func TestSizeCappedByNotional(t *testing.T) {
	log := &recordingLogger{}
	s := NewSizer(DefaultConfig(), log)

	got, err := s.Size(baseRequest())
	require.NoError(t, err)

	assert.InDelta(t, 0.01, got.Quantity, 1e-12)
	assert.InDelta(t, 500, got.NotionalValue, 1e-9)
	assert.InDelta(t, 10, got.RiskAmount, 1e-9)
	assert.InDelta(t, 0.1, got.RiskPercentage, 1e-9)
	assert.Equal(t, StrategyBlended, got.Strategy)
	require.Len(t, got.Warnings, 1)
	assert.Contains(t, got.Warnings[0], "capped")

	assert.Equal(t, 1, log.calls)
	assert.Equal(t, got.Quantity, log.lastQty)
}

func TestResizeKeepsFieldsConsistent(t *testing.T) {
	s := NewSizer(DefaultConfig(), nil)
	got, err := s.Size(baseRequest())
	require.NoError(t, err)

	s.Resize(got, 0.004, 50000, 10000)
	assert.InDelta(t, 0.004, got.Quantity, 1e-12)
	assert.InDelta(t, 200, got.NotionalValue, 1e-9)
	assert.InDelta(t, 4, got.RiskAmount, 1e-9)
	assert.InDelta(t, 0.04, got.RiskPercentage, 1e-9)
	assert.InDelta(t, 0.02, got.Leverage, 1e-12)

	s.Resize(got, -1, 50000, 10000)
	assert.Zero(t, got.Quantity)
	assert.Zero(t, got.RiskAmount)
	assert.Zero(t, got.Leverage)
}

func TestSizeReducedByMaxRisk(t *testing.T) {
	cfg := DefaultConfig()
	cfg.StopLossPercent = 10
	cfg.MaxRiskPerTrade = 0.1
	s := NewSizer(cfg, nil)

	got, err := s.Size(baseRequest())
	require.NoError(t, err)

	assert.InDelta(t, 0.002, got.Quantity, 1e-12)
	assert.LessOrEqual(t, got.RiskAmount, 10.0+1e-9)
	require.Len(t, got.Warnings, 1)
	assert.Contains(t, got.Warnings[0], "exceeds max per trade")
}

func TestSizeBelowMinimumIsZero(t *testing.T) {
	s := NewSizer(DefaultConfig(), nil)
	req := baseRequest()
	req.AccountBalance = 100
	req.Strength = types.StrengthWeak
	req.Confidence = 0.3

	got, err := s.Size(req)
	require.NoError(t, err)
	assert.Equal(t, 0.0, got.Quantity)
	assert.Equal(t, 0.0, got.NotionalValue)
	assert.NotEmpty(t, got.Warnings)
}

func TestSizeMaxPositionsShortCircuits(t *testing.T) {
	log := &recordingLogger{}
	s := NewSizer(DefaultConfig(), log)
	req := baseRequest()
	req.CurrentPositions = 5

	got, err := s.Size(req)
	require.NoError(t, err)
	assert.Equal(t, 0.0, got.Quantity)
	assert.Equal(t, StrategyNone, got.Strategy)
	assert.Contains(t, got.Warnings[0], "max open positions")
	assert.Equal(t, StrategyNone, log.strategy)
}

func TestUnknownVolatilityShrinksSize(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxNotionalPercent = 100
	s := NewSizer(cfg, nil)

	withVol, err := s.Size(baseRequest())
	require.NoError(t, err)

	req := baseRequest()
	req.Volatility = nil
	withoutVol, err := s.Size(req)
	require.NoError(t, err)

	assert.Less(t, withoutVol.Quantity, withVol.Quantity)
}

func TestSizeNeverNegative(t *testing.T) {
	s := NewSizer(DefaultConfig(), nil)
	for _, conf := range []float64{0, 0.05, 0.2, 0.5, 0.8, 1} {
		for _, v := range []float64{0, 50, 100, 250} {
			req := baseRequest()
			req.Confidence = conf
			req.Volatility = vol(v)
			got, err := s.Size(req)
			require.NoError(t, err)
			assert.GreaterOrEqual(t, got.Quantity, 0.0)
			assert.LessOrEqual(t, got.NotionalValue, req.AccountBalance*0.05+1e-9)
		}
	}
}

func TestWeightsFor(t *testing.T) {
	tests := []struct {
		confidence float64
		want       Weights
	}{
		{0.9, Weights{Fixed: 0.20, Kelly: 0.35, Volatility: 0.15, Confidence: 0.30}},
		{0.65, Weights{Fixed: 0.30, Kelly: 0.25, Volatility: 0.25, Confidence: 0.20}},
		{0.3, Weights{Fixed: 0.40, Kelly: 0.15, Volatility: 0.35, Confidence: 0.10}},
	}
	for _, tt := range tests {
		got := WeightsFor(tt.confidence)
		assert.InDelta(t, tt.want.Fixed, got.Fixed, 1e-9)
		assert.InDelta(t, tt.want.Kelly, got.Kelly, 1e-9)
		assert.InDelta(t, tt.want.Volatility, got.Volatility, 1e-9)
		assert.InDelta(t, tt.want.Confidence, got.Confidence, 1e-9)
		assert.InDelta(t, 1.0, got.Fixed+got.Kelly+got.Volatility+got.Confidence, 1e-9)
	}
}

func TestKellyFlooredAtZero(t *testing.T) {
	req := baseRequest()
	req.Confidence = 0.1
	assert.Equal(t, 0.0, kellySize(req))

	req.Confidence = 0.9
	assert.InDelta(t, 0.043, kellySize(req), 1e-12)
}

func TestValidatePositionSize(t *testing.T) {
	account := types.AccountInfo{AvailableBalance: 1000, Leverage: 3}

	assert.NoError(t, ValidatePositionSize(0.05, 50000, account))
	err := ValidatePositionSize(0.07, 50000, account)
	assert.True(t, errors.Is(err, ErrExceedsMargin))
	assert.Error(t, ValidatePositionSize(0, 50000, account))
	assert.ErrorIs(t, ValidatePositionSize(1, 0, account), ErrInvalidPrice)

	noLeverage := types.AccountInfo{AvailableBalance: 1000}
	assert.Error(t, ValidatePositionSize(0.03, 50000, noLeverage))
}
