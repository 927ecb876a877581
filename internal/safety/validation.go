package safety

import (
	"fmt"
	"math"
	"strings"
)

// ValidationResult represents the result of an order precondition check
type ValidationResult struct {
	Valid   bool
	Message string
	Code    string
}

func invalid(code, format string, args ...interface{}) ValidationResult {
	return ValidationResult{Valid: false, Code: code, Message: fmt.Sprintf(format, args...)}
}

var valid = ValidationResult{Valid: true}

// OrderValidator rejects obviously broken order parameters before they reach the exchange
type OrderValidator struct {
	MinOrderValue float64
	MaxOrderValue float64
}

// NewOrderValidator creates a validator with the usual notional bounds
func NewOrderValidator() *OrderValidator {
	return &OrderValidator{MinOrderValue: 1, MaxOrderValue: 1e9}
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// ValidateSymbol checks the symbol is a non-empty alphanumeric ticker
func (v *OrderValidator) ValidateSymbol(symbol string) ValidationResult {
	symbol = strings.TrimSpace(symbol)
	if len(symbol) < 3 || len(symbol) > 20 {
		return invalid("SYMBOL_LENGTH", "symbol %q must be 3-20 characters", symbol)
	}
	for _, c := range symbol {
		if !((c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')) {
			return invalid("SYMBOL_INVALID_CHARS", "symbol %q must be upper-case alphanumeric", symbol)
		}
	}
	return valid
}

// ValidatePrice checks a price is positive and finite
func (v *OrderValidator) ValidatePrice(price float64, symbol string) ValidationResult {
	if !finite(price) {
		return invalid("PRICE_NOT_FINITE", "price for %s is not a finite number", symbol)
	}
	if price <= 0 {
		return invalid("PRICE_NON_POSITIVE", "price %.8f for %s must be positive", price, symbol)
	}
	return valid
}

// ValidateQuantity checks a quantity is positive and finite
func (v *OrderValidator) ValidateQuantity(quantity float64, symbol string) ValidationResult {
	if !finite(quantity) {
		return invalid("QUANTITY_NOT_FINITE", "quantity for %s is not a finite number", symbol)
	}
	if quantity <= 0 {
		return invalid("QUANTITY_NON_POSITIVE", "quantity %.8f for %s must be positive", quantity, symbol)
	}
	return valid
}

// ValidateOrderValue checks price, quantity and the resulting notional
func (v *OrderValidator) ValidateOrderValue(price, quantity float64, symbol string) ValidationResult {
	if r := v.ValidatePrice(price, symbol); !r.Valid {
		return r
	}
	if r := v.ValidateQuantity(quantity, symbol); !r.Valid {
		return r
	}

	value := price * quantity
	if v.MaxOrderValue > 0 && value > v.MaxOrderValue {
		return invalid("ORDER_VALUE_TOO_LARGE", "order value %.2f for %s exceeds %.2f", value, symbol, v.MaxOrderValue)
	}
	if value < v.MinOrderValue {
		return invalid("ORDER_VALUE_TOO_SMALL", "order value %.8f for %s below minimum %.2f", value, symbol, v.MinOrderValue)
	}
	return valid
}

// ValidateBracket checks stop-loss and take-profit sit on the correct sides of entry.
// A zero level means the leg is not requested.
func (v *OrderValidator) ValidateBracket(long bool, entry, stopLoss, takeProfit float64) ValidationResult {
	if stopLoss < 0 || takeProfit < 0 || !finite(stopLoss) || !finite(takeProfit) {
		return invalid("BRACKET_INVALID", "bracket levels must be finite and non-negative")
	}
	if long {
		if stopLoss > 0 && stopLoss >= entry {
			return invalid("STOP_WRONG_SIDE", "long stop %.8f must be below entry %.8f", stopLoss, entry)
		}
		if takeProfit > 0 && takeProfit <= entry {
			return invalid("TARGET_WRONG_SIDE", "long target %.8f must be above entry %.8f", takeProfit, entry)
		}
		return valid
	}
	if stopLoss > 0 && stopLoss <= entry {
		return invalid("STOP_WRONG_SIDE", "short stop %.8f must be above entry %.8f", stopLoss, entry)
	}
	if takeProfit > 0 && takeProfit >= entry {
		return invalid("TARGET_WRONG_SIDE", "short target %.8f must be below entry %.8f", takeProfit, entry)
	}
	return valid
}

// SafeDivision divides and rejects zero divisors and non-finite results
func SafeDivision(dividend, divisor float64) (float64, error) {
	if divisor == 0 {
		return 0, fmt.Errorf("division by zero: %.8f / %.8f", dividend, divisor)
	}
	result := dividend / divisor
	if !finite(result) {
		return 0, fmt.Errorf("division resulted in invalid value: %.8f / %.8f", dividend, divisor)
	}
	return result, nil
}
