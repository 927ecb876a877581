package sizing

import (
	"errors"
	"fmt"
	"math"

	"github.com/vmaliev/crypto/pkg/types"
)

var (
	// ErrInvalidPrice is returned when the sizing price is not positive
	ErrInvalidPrice = errors.New("sizing: price must be positive")
	// ErrInvalidBalance is returned when the account balance is not positive
	ErrInvalidBalance = errors.New("sizing: account balance must be positive")
	// ErrExceedsMargin is returned when an order's notional exceeds available margin
	ErrExceedsMargin = errors.New("sizing: notional exceeds available balance times leverage")
)

// StrategyBlended tags sizes produced by the weighted blend of candidates
const (
	StrategyBlended = "blended"
	StrategyNone    = "none"
)

// Kelly parameters
const (
	kellyRewardRisk = 2.5
	kellyFraction   = 0.25
)

// Config holds sizing limits; percentages are in percent units (2 means 2%)
type Config struct {
	BasePositionPercent float64 `json:"base_position_percent" yaml:"base_position_percent"`
	MaxRiskPerTrade     float64 `json:"max_risk_per_trade" yaml:"max_risk_per_trade"`
	StopLossPercent     float64 `json:"stop_loss_percent" yaml:"stop_loss_percent"`
	MaxNotionalPercent  float64 `json:"max_notional_percent" yaml:"max_notional_percent"`
	MinQuantity         float64 `json:"min_quantity" yaml:"min_quantity"`
	MaxOpenPositions    int     `json:"max_open_positions" yaml:"max_open_positions"`
	Leverage            float64 `json:"leverage" yaml:"leverage"`
}

// DefaultConfig returns the standard sizing limits
func DefaultConfig() Config {
	return Config{
		BasePositionPercent: 2,
		MaxRiskPerTrade:     2,
		StopLossPercent:     2,
		MaxNotionalPercent:  5,
		MinQuantity:         0.001,
		MaxOpenPositions:    5,
		Leverage:            1,
	}
}

// Request carries everything a sizing decision depends on
type Request struct {
	Symbol           string
	Price            float64
	AccountBalance   float64
	Strength         types.Strength
	Confidence       float64
	Volatility       *float64
	CurrentPositions int
}

// Logger is the subset of the bot logger used for sizing decisions
type Logger interface {
	LogSizingDecision(symbol string, price, balance, confidence, quantity, notional, riskAmount float64, strategy string, warnings []string)
}

// Weights blends the four candidate sizes
type Weights struct {
	Fixed      float64
	Kelly      float64
	Volatility float64
	Confidence float64
}

// Sizer computes a risk-bounded order quantity
type Sizer struct {
	cfg    Config
	logger Logger
}

// NewSizer creates a sizer; logger may be nil
func NewSizer(cfg Config, logger Logger) *Sizer {
	def := DefaultConfig()
	if cfg.MaxOpenPositions <= 0 {
		cfg.MaxOpenPositions = def.MaxOpenPositions
	}
	if cfg.Leverage <= 0 {
		cfg.Leverage = def.Leverage
	}
	return &Sizer{cfg: cfg, logger: logger}
}

// Config returns the active sizing limits
func (s *Sizer) Config() Config {
	return s.cfg
}

// Size computes the order quantity for req
func (s *Sizer) Size(req Request) (*types.PositionSizeResult, error) {
	if req.Price <= 0 || math.IsNaN(req.Price) || math.IsInf(req.Price, 0) {
		return nil, ErrInvalidPrice
	}
	if req.AccountBalance <= 0 || math.IsNaN(req.AccountBalance) || math.IsInf(req.AccountBalance, 0) {
		return nil, ErrInvalidBalance
	}

	result := &types.PositionSizeResult{
		Strategy:   StrategyBlended,
		Confidence: req.Confidence,
		Leverage:   s.cfg.Leverage,
	}

	if req.CurrentPositions >= s.cfg.MaxOpenPositions {
		result.Strategy = StrategyNone
		result.Warnings = append(result.Warnings,
			fmt.Sprintf("max open positions reached (%d/%d)", req.CurrentPositions, s.cfg.MaxOpenPositions))
		s.log(req, result)
		return result, nil
	}

	fixed := s.fixedSize(req)
	kelly := kellySize(req)
	volAdj := volatilityAdjustedSize(fixed, req.Volatility)
	conf := confidenceSize(fixed, req.Confidence)

	w := WeightsFor(req.Confidence)
	qty := w.Fixed*fixed + w.Kelly*kelly + w.Volatility*volAdj + w.Confidence*conf

	qty, result.Warnings = s.applyConstraints(qty, req, result.Warnings)

	s.Resize(result, qty, req.Price, req.AccountBalance)

	s.log(req, result)
	return result, nil
}

// Resize sets result to qty and recomputes the notional, risk and leverage fields from it
func (s *Sizer) Resize(result *types.PositionSizeResult, qty, price, balance float64) {
	result.Quantity = math.Max(0, qty)
	result.NotionalValue = result.Quantity * price
	result.RiskAmount = result.NotionalValue * s.cfg.StopLossPercent / 100
	result.RiskPercentage = 0
	result.Leverage = 0
	if balance > 0 {
		result.RiskPercentage = result.RiskAmount / balance * 100
		result.Leverage = result.NotionalValue / balance
	}
}

// WeightsFor returns the blend weights for a confidence level
func WeightsFor(confidence float64) Weights {
	w := Weights{Fixed: 0.30, Kelly: 0.25, Volatility: 0.25, Confidence: 0.20}
	switch {
	case confidence > 0.8:
		w.Fixed -= 0.1
		w.Volatility -= 0.1
		w.Kelly += 0.1
		w.Confidence += 0.1
	case confidence < 0.5:
		w.Fixed += 0.1
		w.Volatility += 0.1
		w.Kelly -= 0.1
		w.Confidence -= 0.1
	}
	return w
}

func (s *Sizer) fixedSize(req Request) float64 {
	return req.AccountBalance * s.cfg.BasePositionPercent / 100 * req.Strength.Multiplier() / req.Price
}

// kellySize uses a fixed reward/risk of 2.5 and a quarter-Kelly fraction, floored at 0
func kellySize(req Request) float64 {
	p := req.Confidence
	q := 1 - p
	f := (kellyRewardRisk*p - q) / kellyRewardRisk
	f = math.Max(0, f) * kellyFraction
	return req.AccountBalance * f / req.Price
}

func volatilityAdjustedSize(fixed float64, volatility *float64) float64 {
	if volatility == nil {
		return 0
	}
	return fixed * math.Max(0.1, 1-*volatility/100)
}

func confidenceSize(fixed, confidence float64) float64 {
	if confidence <= 0 {
		return 0
	}
	return fixed * math.Pow(confidence, 1.5)
}

func (s *Sizer) applyConstraints(qty float64, req Request, warnings []string) (float64, []string) {
	if s.cfg.StopLossPercent > 0 && s.cfg.MaxRiskPerTrade > 0 {
		maxRisk := req.AccountBalance * s.cfg.MaxRiskPerTrade / 100
		risk := qty * req.Price * s.cfg.StopLossPercent / 100
		if risk > maxRisk {
			qty = maxRisk / (req.Price * s.cfg.StopLossPercent / 100)
			warnings = append(warnings, fmt.Sprintf("risk %.2f exceeds max per trade %.2f, size reduced", risk, maxRisk))
		}
	}

	if qty < s.cfg.MinQuantity {
		warnings = append(warnings, fmt.Sprintf("quantity %.8f below minimum %.8f", qty, s.cfg.MinQuantity))
		qty = 0
	}

	if s.cfg.MaxNotionalPercent > 0 {
		maxNotional := req.AccountBalance * s.cfg.MaxNotionalPercent / 100
		if notional := qty * req.Price; notional > maxNotional {
			qty = maxNotional / req.Price
			warnings = append(warnings, fmt.Sprintf("notional %.2f capped at %.2f", notional, maxNotional))
		}
	}

	return qty, warnings
}

func (s *Sizer) log(req Request, r *types.PositionSizeResult) {
	if s.logger == nil {
		return
	}
	s.logger.LogSizingDecision(req.Symbol, req.Price, req.AccountBalance, req.Confidence,
		r.Quantity, r.NotionalValue, r.RiskAmount, r.Strategy, r.Warnings)
}

// ValidatePositionSize rejects orders whose notional exceeds available balance times leverage
func ValidatePositionSize(quantity, price float64, account types.AccountInfo) error {
	if quantity <= 0 {
		return fmt.Errorf("sizing: quantity must be positive, got %v", quantity)
	}
	if price <= 0 {
		return ErrInvalidPrice
	}
	leverage := account.Leverage
	if leverage <= 0 {
		leverage = 1
	}
	notional := quantity * price
	limit := account.AvailableBalance * leverage
	if notional > limit {
		return fmt.Errorf("%w: %.2f > %.2f", ErrExceedsMargin, notional, limit)
	}
	return nil
}
