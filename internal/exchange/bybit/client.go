package bybit

import (
	bybit_api "github.com/bybit-exchange/bybit.go.api"
)

// CategoryLinear is the USDT-margined perpetual futures category
const CategoryLinear = "linear"

const demoBaseURL = "https://api-demo.bybit.com"

// Client wraps the Bybit v5 API client for linear futures
type Client struct {
	httpClient  *bybit_api.Client
	instruments *InstrumentManager
	retry       RetryConfig
	testnet     bool
	demo        bool
}

// Config holds the configuration for the Bybit client
type Config struct {
	APIKey    string
	APISecret string
	Testnet   bool
	Demo      bool
	// BaseURL overrides the environment endpoint when set
	BaseURL string
}

// NewClient creates a new Bybit client
func NewClient(config Config) *Client {
	baseURL := config.BaseURL
	if baseURL == "" {
		switch {
		case config.Demo:
			baseURL = demoBaseURL
		case config.Testnet:
			baseURL = bybit_api.TESTNET
		default:
			baseURL = bybit_api.MAINNET
		}
	}

	c := &Client{
		httpClient: bybit_api.NewBybitHttpClient(
			config.APIKey,
			config.APISecret,
			bybit_api.WithBaseURL(baseURL),
		),
		retry:   DefaultRetryConfig(),
		testnet: config.Testnet,
		demo:    config.Demo,
	}
	c.instruments = NewInstrumentManager(c)
	return c
}

// Instruments returns the instrument filter cache
func (c *Client) Instruments() *InstrumentManager {
	return c.instruments
}

// SetRetryConfig replaces the retry policy for read-only calls
func (c *Client) SetRetryConfig(cfg RetryConfig) {
	c.retry = cfg
}

// IsDemo returns whether the client is configured for demo trading
func (c *Client) IsDemo() bool {
	return c.demo
}

// GetEnvironment returns a string describing the current environment
func (c *Client) GetEnvironment() string {
	switch {
	case c.demo:
		return "demo"
	case c.testnet:
		return "testnet"
	default:
		return "mainnet"
	}
}
