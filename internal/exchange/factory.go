package exchange

import (
	"fmt"
	"strings"
)

// Config selects and configures the venue
type Config struct {
	Name  string      `json:"name" yaml:"name"`
	Bybit BybitConfig `json:"bybit" yaml:"bybit"`
	Paper PaperConfig `json:"paper" yaml:"paper"`

	// Client-side throttle in front of every venue call
	RequestsPerSecond float64 `json:"requests_per_second" yaml:"requests_per_second"`
	Burst             int     `json:"burst" yaml:"burst"`
}

// BybitConfig holds Bybit-specific configuration
type BybitConfig struct {
	APIKey    string `json:"-" yaml:"-"`
	APISecret string `json:"-" yaml:"-"`
	Testnet   bool   `json:"testnet" yaml:"testnet"`
	Demo      bool   `json:"demo" yaml:"demo"`
	BaseURL   string `json:"base_url,omitempty" yaml:"base_url,omitempty"`
}

// PaperConfig configures the simulated venue used for dry runs
type PaperConfig struct {
	InitialBalance float64            `json:"initial_balance" yaml:"initial_balance"`
	FeeRate        float64            `json:"fee_rate" yaml:"fee_rate"`
	Prices         map[string]float64 `json:"prices,omitempty" yaml:"prices,omitempty"`
}

const (
	NameBybit = "bybit"
	NamePaper = "paper"
)

// SupportedExchanges returns a list of supported exchange names
func SupportedExchanges() []string {
	return []string{NameBybit, NamePaper}
}

// Normalized returns the lower-cased venue name
func (c Config) Normalized() string {
	return strings.ToLower(strings.TrimSpace(c.Name))
}

// Validate checks the venue specific settings
func (c Config) Validate() error {
	switch c.Normalized() {
	case NameBybit:
		if c.Bybit.APIKey == "" || c.Bybit.APISecret == "" {
			return fmt.Errorf("bybit requires BYBIT_API_KEY and BYBIT_API_SECRET")
		}
		if c.Bybit.Testnet && c.Bybit.Demo {
			return fmt.Errorf("bybit testnet and demo are mutually exclusive")
		}
	case NamePaper:
		if c.Paper.InitialBalance <= 0 {
			return fmt.Errorf("paper initial_balance must be positive")
		}
		if c.Paper.FeeRate < 0 {
			return fmt.Errorf("paper fee_rate cannot be negative")
		}
	default:
		return fmt.Errorf("exchange %q is not supported (supported: %s)", c.Name, strings.Join(SupportedExchanges(), ", "))
	}
	if c.RequestsPerSecond < 0 || c.Burst < 0 {
		return fmt.Errorf("exchange throttle settings cannot be negative")
	}
	return nil
}
