package risk

import "time"

// Config holds risk limits; percentages are in percent units
type Config struct {
	MaxRiskPerTrade        float64 `json:"max_risk_per_trade" yaml:"max_risk_per_trade"`
	MaxDrawdownPercent     float64 `json:"max_drawdown_percent" yaml:"max_drawdown_percent"`
	StopLossPercent        float64 `json:"stop_loss_percent" yaml:"stop_loss_percent"`
	TakeProfitPercent      float64 `json:"take_profit_percent" yaml:"take_profit_percent"`
	RewardRiskRatio        float64 `json:"reward_risk_ratio" yaml:"reward_risk_ratio"`
	UseVolatilityStops     bool    `json:"use_volatility_stops" yaml:"use_volatility_stops"`
	MaxVolatility          float64 `json:"max_volatility" yaml:"max_volatility"`
	BasePositionPercent    float64 `json:"base_position_percent" yaml:"base_position_percent"`
	StopVolatilityFactor   float64 `json:"stop_volatility_factor" yaml:"stop_volatility_factor"`
	TrailingVolatilityRate float64 `json:"trailing_volatility_rate" yaml:"trailing_volatility_rate"`
	VolatilityWindow       int     `json:"volatility_window" yaml:"volatility_window"`
}

// DefaultConfig returns the standard risk limits
func DefaultConfig() Config {
	return Config{
		MaxRiskPerTrade:        2,
		MaxDrawdownPercent:     10,
		StopLossPercent:        2,
		TakeProfitPercent:      4,
		RewardRiskRatio:        2,
		UseVolatilityStops:     false,
		MaxVolatility:          50,
		BasePositionPercent:    2,
		StopVolatilityFactor:   2,
		TrailingVolatilityRate: 1.5,
		VolatilityWindow:       100,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.MaxDrawdownPercent <= 0 {
		c.MaxDrawdownPercent = def.MaxDrawdownPercent
	}
	if c.StopLossPercent <= 0 {
		c.StopLossPercent = def.StopLossPercent
	}
	if c.TakeProfitPercent <= 0 {
		c.TakeProfitPercent = def.TakeProfitPercent
	}
	if c.RewardRiskRatio <= 0 {
		c.RewardRiskRatio = def.RewardRiskRatio
	}
	if c.MaxVolatility <= 0 {
		c.MaxVolatility = def.MaxVolatility
	}
	if c.BasePositionPercent <= 0 {
		c.BasePositionPercent = def.BasePositionPercent
	}
	if c.StopVolatilityFactor <= 0 {
		c.StopVolatilityFactor = def.StopVolatilityFactor
	}
	if c.TrailingVolatilityRate <= 0 {
		c.TrailingVolatilityRate = def.TrailingVolatilityRate
	}
	if c.VolatilityWindow <= 1 {
		c.VolatilityWindow = def.VolatilityWindow
	}
	return c
}

// PositionRiskResult is the one-shot exit decision for an open position
type PositionRiskResult struct {
	ShouldClose  bool     `json:"should_close"`
	Reason       string   `json:"reason,omitempty"`
	TrailingStop *float64 `json:"trailing_stop,omitempty"`
}

// Snapshot is the persisted part of the manager's accumulators
type Snapshot struct {
	DailyPnL    float64   `json:"daily_pnl"`
	LastReset   time.Time `json:"last_reset"`
	PeakBalance float64   `json:"peak_balance"`
	MaxDrawdown float64   `json:"max_drawdown"`
}
