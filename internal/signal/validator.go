package signal

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/vmaliev/crypto/pkg/types"
)

// Confidence penalties applied by the soft rules
const (
	PenaltyIndicatorCorrelation = 0.20
	PenaltyStrengthConsistency  = 0.15
	PenaltyPriceSanity          = 0.10
	PenaltyStaleTimestamp       = 0.05
	PenaltyBuyOverbought        = 0.10
	PenaltySellOversold         = 0.10
)

// PriceRange bounds a plausible price for a symbol family
type PriceRange struct {
	Min float64 `json:"min" yaml:"min"`
	Max float64 `json:"max" yaml:"max"`
}

// DefaultPriceRanges covers the majors keyed by symbol prefix
func DefaultPriceRanges() map[string]PriceRange {
	return map[string]PriceRange{
		"BTC":  {Min: 1000, Max: 500000},
		"ETH":  {Min: 50, Max: 50000},
		"SOL":  {Min: 1, Max: 5000},
		"BNB":  {Min: 10, Max: 10000},
		"XRP":  {Min: 0.01, Max: 100},
		"ADA":  {Min: 0.01, Max: 50},
		"DOGE": {Min: 0.001, Max: 10},
	}
}

// Config controls the freshness window and the price sanity table
type Config struct {
	MaxSignalAge     time.Duration         `json:"max_signal_age" yaml:"max_signal_age"`
	MaxClockSkew     time.Duration         `json:"max_clock_skew" yaml:"max_clock_skew"`
	PriceRanges      map[string]PriceRange `json:"price_ranges" yaml:"price_ranges"`
	ExtremeLowLevel  float64               `json:"extreme_low_level" yaml:"extreme_low_level"`
	ExtremeHighLevel float64               `json:"extreme_high_level" yaml:"extreme_high_level"`
}

// DefaultConfig returns the validator defaults
func DefaultConfig() Config {
	return Config{
		MaxSignalAge:     5 * time.Minute,
		MaxClockSkew:     time.Minute,
		PriceRanges:      DefaultPriceRanges(),
		ExtremeLowLevel:  5,
		ExtremeHighLevel: 95,
	}
}

// Validator turns raw alert payloads into scored signals
type Validator struct {
	cfg Config
	now func() time.Time
}

// NewValidator creates a validator; zero fields in cfg fall back to defaults
func NewValidator(cfg Config) *Validator {
	def := DefaultConfig()
	if cfg.MaxSignalAge <= 0 {
		cfg.MaxSignalAge = def.MaxSignalAge
	}
	if cfg.MaxClockSkew <= 0 {
		cfg.MaxClockSkew = def.MaxClockSkew
	}
	if cfg.PriceRanges == nil {
		cfg.PriceRanges = def.PriceRanges
	}
	if cfg.ExtremeHighLevel <= 0 {
		cfg.ExtremeLowLevel = def.ExtremeLowLevel
		cfg.ExtremeHighLevel = def.ExtremeHighLevel
	}
	return &Validator{cfg: cfg, now: time.Now}
}

// WithClock overrides the time source used for freshness checks
func (v *Validator) WithClock(now func() time.Time) *Validator {
	v.now = now
	return v
}

// ValidateJSON decodes a JSON body and validates it
func (v *Validator) ValidateJSON(body []byte) types.ScoredSignal {
	var payload map[string]interface{}
	if err := json.Unmarshal(body, &payload); err != nil {
		return rejected(types.Signal{ID: uuid.NewString(), ReceivedAt: v.now()},
			[]string{fmt.Sprintf("payload: invalid JSON: %v", err)})
	}
	return v.Validate(payload)
}

// Validate checks the schema and scores an untyped payload.
// Schema failures produce IsValid=false and confidence 0 without running the soft rules.
func (v *Validator) Validate(payload map[string]interface{}) types.ScoredSignal {
	sig, errs := v.parse(payload)
	if len(errs) > 0 {
		return rejected(sig, errs)
	}

	scored := types.ScoredSignal{Signal: sig, IsValid: true, Confidence: 1.0}
	v.score(&scored)
	return scored
}

func rejected(sig types.Signal, errs []string) types.ScoredSignal {
	return types.ScoredSignal{Signal: sig, IsValid: false, Errors: errs, Confidence: 0}
}

func (v *Validator) parse(payload map[string]interface{}) (types.Signal, []string) {
	sig := types.Signal{ID: uuid.NewString(), ReceivedAt: v.now()}
	var errs []string

	sig.Symbol = strings.ToUpper(strings.TrimSpace(stringField(payload, "symbol")))
	if sig.Symbol == "" {
		errs = append(errs, "symbol: required")
	}

	sig.Action = types.Action(strings.ToUpper(stringField(payload, "action")))
	if !sig.Action.Valid() {
		errs = append(errs, fmt.Sprintf("action: must be one of BUY, SELL, CLOSE (got %q)", sig.Action))
	}

	sig.Strength = types.Strength(strings.ToUpper(stringField(payload, "signal_strength", "strength")))
	if !sig.Strength.Valid() {
		errs = append(errs, fmt.Sprintf("signal_strength: must be one of STRONG, MEDIUM, WEAK (got %q)", sig.Strength))
	}

	price, ok := numberField(payload, "price")
	switch {
	case !ok:
		errs = append(errs, "price: must be a number")
	case price <= 0:
		errs = append(errs, fmt.Sprintf("price: must be positive (got %v)", price))
	}
	sig.Price = price

	mfi, ok := numberField(payload, "mfi_value", "mfi")
	if !ok || mfi < 0 || mfi > 100 {
		errs = append(errs, "mfi_value: must be a number in [0,100]")
	}
	sig.MFI = mfi

	rsi, ok := numberField(payload, "rsi_value", "rsi")
	if !ok || rsi < 0 || rsi > 100 {
		errs = append(errs, "rsi_value: must be a number in [0,100]")
	}
	sig.RSI = rsi

	sig.Timeframe = types.Timeframe(stringField(payload, "timeframe"))
	if !sig.Timeframe.Valid() {
		errs = append(errs, fmt.Sprintf("timeframe: unsupported bar period %q", sig.Timeframe))
	}

	sig.Strategy = strings.TrimSpace(stringField(payload, "strategy"))
	if sig.Strategy == "" {
		errs = append(errs, "strategy: required")
	}

	ts, err := time.Parse(time.RFC3339, stringField(payload, "timestamp"))
	if err != nil {
		errs = append(errs, "timestamp: must be an RFC3339 date-time")
	}
	sig.Timestamp = ts

	sig.Secret = stringField(payload, "secret")
	if len(errs) == 0 {
		sig.ID = SignalID(sig)
	}
	return sig, errs
}

var signalNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("signal-bot/signal"))

// SignalID derives a stable id from the alert contents so a redelivered alert
// maps to the signal already stored
func SignalID(sig types.Signal) string {
	key := strings.Join([]string{
		sig.Symbol,
		string(sig.Action),
		string(sig.Strength),
		string(sig.Timeframe),
		sig.Strategy,
		strconv.FormatFloat(sig.Price, 'f', -1, 64),
		sig.Timestamp.UTC().Format(time.RFC3339Nano),
	}, "|")
	return uuid.NewSHA1(signalNamespace, []byte(key)).String()
}

func (v *Validator) score(s *types.ScoredSignal) {
	mfi, rsi := s.MFI, s.RSI

	if !indicatorsConfirm(s.Action, mfi, rsi) {
		s.Confidence -= PenaltyIndicatorCorrelation
		s.Warnings = append(s.Warnings, fmt.Sprintf("MFI %.1f / RSI %.1f do not confirm %s", mfi, rsi, s.Action))
	}

	if !strengthConsistent(s.Strength, mfi, rsi) {
		s.Confidence -= PenaltyStrengthConsistency
		s.Warnings = append(s.Warnings, fmt.Sprintf("%s strength not supported by MFI %.1f / RSI %.1f", s.Strength, mfi, rsi))
	}

	if r, ok := v.priceRange(s.Symbol); ok && (s.Price < r.Min || s.Price > r.Max) {
		s.Confidence -= PenaltyPriceSanity
		s.Warnings = append(s.Warnings, fmt.Sprintf("price %.8g outside expected range [%g, %g] for %s", s.Price, r.Min, r.Max, s.Symbol))
	}

	now := v.now()
	if s.Timestamp.Before(now.Add(-v.cfg.MaxSignalAge)) || s.Timestamp.After(now.Add(v.cfg.MaxClockSkew)) {
		s.Confidence -= PenaltyStaleTimestamp
		s.Warnings = append(s.Warnings, fmt.Sprintf("timestamp %s outside freshness window", s.Timestamp.Format(time.RFC3339)))
	}

	if s.Action == types.ActionBuy && (mfi > 70 || rsi > 70) {
		s.Confidence -= PenaltyBuyOverbought
		s.Warnings = append(s.Warnings, "BUY into overbought conditions")
	}
	if s.Action == types.ActionSell && (mfi < 30 || rsi < 30) {
		s.Confidence -= PenaltySellOversold
		s.Warnings = append(s.Warnings, "SELL into oversold conditions")
	}

	lo, hi := v.cfg.ExtremeLowLevel, v.cfg.ExtremeHighLevel
	if mfi < lo || mfi > hi || rsi < lo || rsi > hi {
		s.Warnings = append(s.Warnings, "extreme indicator values")
	}

	s.Confidence = clamp01(s.Confidence)
}

// indicatorsConfirm requires both oscillators on the side of 50 matching the action
func indicatorsConfirm(action types.Action, mfi, rsi float64) bool {
	switch action {
	case types.ActionBuy:
		return mfi < 50 && rsi < 50
	case types.ActionSell:
		return mfi > 50 && rsi > 50
	}
	return true
}

func strengthConsistent(strength types.Strength, mfi, rsi float64) bool {
	strong := (mfi < 20 && rsi < 30) || (mfi > 80 && rsi > 70)
	moderate := (mfi < 40 && rsi < 40) || (mfi > 60 && rsi > 60)

	switch strength {
	case types.StrengthStrong:
		return strong
	case types.StrengthMedium:
		return moderate
	case types.StrengthWeak:
		return !moderate
	}
	return false
}

func (v *Validator) priceRange(symbol string) (PriceRange, bool) {
	best := ""
	for prefix := range v.cfg.PriceRanges {
		if strings.HasPrefix(symbol, prefix) && len(prefix) > len(best) {
			best = prefix
		}
	}
	if best == "" {
		return PriceRange{}, false
	}
	return v.cfg.PriceRanges[best], true
}

func clamp01(x float64) float64 {
	return math.Max(0, math.Min(1, x))
}

func stringField(payload map[string]interface{}, keys ...string) string {
	for _, k := range keys {
		switch v := payload[k].(type) {
		case string:
			return v
		case float64:
			return strconv.FormatFloat(v, 'f', -1, 64)
		}
	}
	return ""
}

// numberField accepts JSON numbers and numeric strings, which alert templates often emit
func numberField(payload map[string]interface{}, keys ...string) (float64, bool) {
	for _, k := range keys {
		raw, present := payload[k]
		if !present {
			continue
		}
		switch v := raw.(type) {
		case float64:
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return 0, false
			}
			return v, true
		case string:
			f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
			if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
				return 0, false
			}
			return f, true
		default:
			return 0, false
		}
	}
	return 0, false
}
