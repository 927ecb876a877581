package types

import "time"

// RiskLevel grades how dangerous a trade or the account state is
type RiskLevel string

const (
	RiskLow      RiskLevel = "LOW"
	RiskMedium   RiskLevel = "MEDIUM"
	RiskHigh     RiskLevel = "HIGH"
	RiskCritical RiskLevel = "CRITICAL"
)

// Rank orders risk levels, LOW being 0
func (r RiskLevel) Rank() int {
	switch r {
	case RiskMedium:
		return 1
	case RiskHigh:
		return 2
	case RiskCritical:
		return 3
	}
	return 0
}

// Escalate returns the worse of the two levels
func (r RiskLevel) Escalate(other RiskLevel) RiskLevel {
	if other.Rank() > r.Rank() {
		return other
	}
	if r == "" {
		return RiskLow
	}
	return r
}

// PositionMultiplier scales the base position allowance for the level
func (r RiskLevel) PositionMultiplier() float64 {
	switch r {
	case RiskLow:
		return 1.0
	case RiskMedium:
		return 0.7
	case RiskHigh:
		return 0.4
	}
	return 0
}

// PositionSizeResult is the outcome of a sizing decision
type PositionSizeResult struct {
	Quantity       float64  `json:"quantity"`
	NotionalValue  float64  `json:"notional_value"`
	RiskAmount     float64  `json:"risk_amount"`
	RiskPercentage float64  `json:"risk_percentage"`
	Leverage       float64  `json:"leverage"`
	Strategy       string   `json:"strategy"`
	Confidence     float64  `json:"confidence"`
	Warnings       []string `json:"warnings,omitempty"`
}

// RiskCheckResult is the per-trade risk verdict with bracket levels
type RiskCheckResult struct {
	ShouldTrade       bool      `json:"should_trade"`
	RiskLevel         RiskLevel `json:"risk_level"`
	Warnings          []string  `json:"warnings,omitempty"`
	MaxPositionSize   float64   `json:"max_position_size"`
	StopLossPrice     float64   `json:"stop_loss_price"`
	TakeProfitPrice   float64   `json:"take_profit_price"`
	TrailingStopPrice *float64  `json:"trailing_stop_price,omitempty"`
}

// SafetyStatus is the account-level trading permission
type SafetyStatus struct {
	IsTradingEnabled     bool      `json:"is_trading_enabled"`
	CircuitBreakerActive bool      `json:"circuit_breaker_active"`
	EmergencyStopActive  bool      `json:"emergency_stop_active"`
	Warnings             []string  `json:"warnings,omitempty"`
	RiskLevel            RiskLevel `json:"risk_level"`
}

// RiskMetrics is a point-in-time view of account risk
type RiskMetrics struct {
	Timestamp         time.Time `json:"timestamp"`
	DailyPnL          float64   `json:"daily_pnl"`
	Drawdown          float64   `json:"drawdown"`
	MaxDrawdown       float64   `json:"max_drawdown"`
	PeakBalance       float64   `json:"peak_balance"`
	CurrentBalance    float64   `json:"current_balance"`
	Volatility        float64   `json:"volatility"`
	ConsecutiveLosses int       `json:"consecutive_losses"`
	TotalExposure     float64   `json:"total_exposure"`
	OpenPositions     int       `json:"open_positions"`
}
