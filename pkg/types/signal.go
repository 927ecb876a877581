package types

import "time"

// Action is the trading intent carried by an alert
type Action string

const (
	ActionBuy   Action = "BUY"
	ActionSell  Action = "SELL"
	ActionClose Action = "CLOSE"
)

// Valid reports whether the action is one of the supported intents
func (a Action) Valid() bool {
	switch a {
	case ActionBuy, ActionSell, ActionClose:
		return true
	}
	return false
}

// PositionSide returns the position side opened by the action
func (a Action) PositionSide() PositionSide {
	if a == ActionSell {
		return SideShort
	}
	return SideLong
}

// Strength is the sender's own grading of an alert
type Strength string

const (
	StrengthStrong Strength = "STRONG"
	StrengthMedium Strength = "MEDIUM"
	StrengthWeak   Strength = "WEAK"
)

// Valid reports whether the strength is a known grade
func (s Strength) Valid() bool {
	switch s {
	case StrengthStrong, StrengthMedium, StrengthWeak:
		return true
	}
	return false
}

// Score maps the grade onto 3/2/1, 0 for unknown
func (s Strength) Score() float64 {
	switch s {
	case StrengthStrong:
		return 3
	case StrengthMedium:
		return 2
	case StrengthWeak:
		return 1
	}
	return 0
}

// Multiplier is the fixed-fraction sizing multiplier for the grade
func (s Strength) Multiplier() float64 {
	switch s {
	case StrengthStrong:
		return 1.2
	case StrengthMedium:
		return 1.0
	case StrengthWeak:
		return 0.7
	}
	return 0
}

// Timeframe is the bar period the alert was generated on
type Timeframe string

var validTimeframes = map[Timeframe]bool{
	"1m": true, "3m": true, "5m": true, "15m": true, "30m": true,
	"1h": true, "2h": true, "4h": true, "6h": true, "8h": true, "12h": true,
	"1d": true, "3d": true, "1w": true, "1M": true,
}

// Valid reports whether the timeframe is one of the enumerated bar periods
func (t Timeframe) Valid() bool {
	return validTimeframes[t]
}

// Signal is an inbound trading alert after schema parsing
type Signal struct {
	ID         string    `json:"id"`
	Symbol     string    `json:"symbol"`
	Action     Action    `json:"action"`
	Strength   Strength  `json:"signal_strength"`
	Price      float64   `json:"price"`
	MFI        float64   `json:"mfi_value"`
	RSI        float64   `json:"rsi_value"`
	Timeframe  Timeframe `json:"timeframe"`
	Strategy   string    `json:"strategy"`
	Timestamp  time.Time `json:"timestamp"`
	Secret     string    `json:"-"`
	ReceivedAt time.Time `json:"received_at"`
}

// ScoredSignal is a signal annotated with validation results
type ScoredSignal struct {
	Signal
	IsValid    bool     `json:"is_valid"`
	Errors     []string `json:"errors,omitempty"`
	Warnings   []string `json:"warnings,omitempty"`
	Confidence float64  `json:"confidence"`
}
