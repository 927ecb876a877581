package risk

import (
	"math"
	"sync"
)

// VolatilityTracker keeps a rolling window of observed prices per symbol
type VolatilityTracker struct {
	mu     sync.RWMutex
	window int
	prices map[string][]float64
}

// NewVolatilityTracker creates a tracker holding at most window prices per symbol
func NewVolatilityTracker(window int) *VolatilityTracker {
	if window < 2 {
		window = 100
	}
	return &VolatilityTracker{window: window, prices: make(map[string][]float64)}
}

// AddPrice records an observed price; non-positive prices are ignored
func (v *VolatilityTracker) AddPrice(symbol string, price float64) {
	if price <= 0 || math.IsNaN(price) || math.IsInf(price, 0) {
		return
	}
	v.mu.Lock()
	defer v.mu.Unlock()

	series := append(v.prices[symbol], price)
	if len(series) > v.window {
		series = series[len(series)-v.window:]
	}
	v.prices[symbol] = series
}

// Observations returns how many prices are held for symbol
func (v *VolatilityTracker) Observations(symbol string) int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return len(v.prices[symbol])
}

// Volatility returns the standard deviation of simple returns as a percentage,
// or 0 with fewer than two observations
func (v *VolatilityTracker) Volatility(symbol string) float64 {
	v.mu.RLock()
	defer v.mu.RUnlock()

	series := v.prices[symbol]
	if len(series) < 2 {
		return 0
	}

	returns := make([]float64, 0, len(series)-1)
	for i := 1; i < len(series); i++ {
		returns = append(returns, (series[i]-series[i-1])/series[i-1])
	}

	var mean float64
	for _, r := range returns {
		mean += r
	}
	mean /= float64(len(returns))

	var variance float64
	for _, r := range returns {
		variance += (r - mean) * (r - mean)
	}
	variance /= float64(len(returns))

	return math.Sqrt(variance) * 100
}

// Known returns the volatility for symbol, or nil while it cannot be computed
func (v *VolatilityTracker) Known(symbol string) *float64 {
	if v.Observations(symbol) < 2 {
		return nil
	}
	vol := v.Volatility(symbol)
	return &vol
}
