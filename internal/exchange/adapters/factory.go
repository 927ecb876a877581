package adapters

import (
	"github.com/vmaliev/crypto/internal/exchange"
	"github.com/vmaliev/crypto/internal/exchange/paper"
	"github.com/vmaliev/crypto/internal/safety"
)

// Factory creates exchange instances based on configuration
type Factory struct{}

// NewFactory creates a new exchange factory instance
func NewFactory() *Factory {
	return &Factory{}
}

// CreateExchange builds the configured venue behind a client-side rate limiter
func (f *Factory) CreateExchange(cfg exchange.Config) (exchange.Exchange, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var venue exchange.Exchange
	switch cfg.Normalized() {
	case exchange.NameBybit:
		adapter, err := NewBybitAdapter(cfg.Bybit)
		if err != nil {
			return nil, err
		}
		venue = adapter
	case exchange.NamePaper:
		venue = paper.New(cfg.Paper)
	}

	if cfg.RequestsPerSecond <= 0 {
		return venue, nil
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = int(cfg.RequestsPerSecond)
	}
	limiter := safety.NewRateLimiter(venue.Name(), burst, cfg.RequestsPerSecond)
	return exchange.NewThrottled(venue, limiter), nil
}
