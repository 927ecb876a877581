package bybit

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	bybit_api "github.com/bybit-exchange/bybit.go.api"
)

// BybitError represents a non-zero retCode returned by the API
type BybitError struct {
	Code      int    `json:"code"`
	Message   string `json:"message"`
	Operation string `json:"operation,omitempty"`
}

func (e *BybitError) Error() string {
	if e.Operation != "" {
		return fmt.Sprintf("bybit %s: error %d: %s", e.Operation, e.Code, e.Message)
	}
	return fmt.Sprintf("bybit error %d: %s", e.Code, e.Message)
}

// Common Bybit error codes
const (
	ErrCodeInvalidAPIKey       = 10003
	ErrCodeInvalidSignature    = 10004
	ErrCodePermissionDenied    = 10005
	ErrCodeRateLimitExceeded   = 10006
	ErrCodeTimestampExpired    = 10002
	ErrCodeServerBusy          = 10016
	ErrCodeOrderNotFound       = 110001
	ErrCodeInsufficientBalance = 110007
	ErrCodeReduceOnlyRejected  = 110017
	ErrCodeInvalidQuantity     = 110020
	ErrCodeInvalidPrice        = 110021
	ErrCodeOrderLinkIDExists   = 110072
	ErrCodeLeverageNotModified = 110043
	ErrCodeMinOrderValue       = 110094
)

// ErrorCodes maps common error codes to human-readable messages
var ErrorCodes = map[int]string{
	ErrCodeInvalidAPIKey:       "invalid API key",
	ErrCodeInvalidSignature:    "invalid signature",
	ErrCodePermissionDenied:    "permission denied",
	ErrCodeRateLimitExceeded:   "rate limit exceeded",
	ErrCodeTimestampExpired:    "request timestamp expired",
	ErrCodeServerBusy:          "server busy",
	ErrCodeOrderNotFound:       "order not found",
	ErrCodeInsufficientBalance: "insufficient balance",
	ErrCodeInvalidQuantity:     "invalid quantity",
	ErrCodeInvalidPrice:        "invalid price",
	ErrCodeReduceOnlyRejected:  "reduce-only order has no position to reduce",
	ErrCodeOrderLinkIDExists:   "duplicate orderLinkId",
	ErrCodeLeverageNotModified: "leverage not modified",
	ErrCodeMinOrderValue:       "order value below minimum",
}

// GetErrorDescription returns a human-readable description for an error code
func GetErrorDescription(code int) string {
	if desc, ok := ErrorCodes[code]; ok {
		return desc
	}
	return fmt.Sprintf("unknown error code: %d", code)
}

func asBybitError(err error) (*BybitError, bool) {
	var be *BybitError
	if errors.As(err, &be) {
		return be, true
	}
	return nil, false
}

// IsRetryableError reports whether a call failing with err may succeed if repeated
func IsRetryableError(err error) bool {
	be, ok := asBybitError(err)
	if !ok {
		return false
	}
	switch be.Code {
	case ErrCodeRateLimitExceeded, ErrCodeServerBusy, ErrCodeTimestampExpired,
		http.StatusInternalServerError, http.StatusBadGateway,
		http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	}
	return false
}

// IsAuthenticationError checks if the error is related to credentials
func IsAuthenticationError(err error) bool {
	be, ok := asBybitError(err)
	if !ok {
		return false
	}
	switch be.Code {
	case ErrCodeInvalidAPIKey, ErrCodeInvalidSignature, ErrCodePermissionDenied:
		return true
	}
	return false
}

// IsRateLimitError checks if the error is due to rate limiting
func IsRateLimitError(err error) bool {
	be, ok := asBybitError(err)
	return ok && be.Code == ErrCodeRateLimitExceeded
}

// IsOrderNotFoundError checks if the error is due to an unknown order
func IsOrderNotFoundError(err error) bool {
	be, ok := asBybitError(err)
	return ok && be.Code == ErrCodeOrderNotFound
}

// IsInsufficientBalanceError checks if the error is due to insufficient margin
func IsInsufficientBalanceError(err error) bool {
	be, ok := asBybitError(err)
	return ok && be.Code == ErrCodeInsufficientBalance
}

// decodeResult checks the response envelope and decodes its result into v
func decodeResult(operation string, response interface{}, v interface{}) error {
	serverResp, ok := response.(*bybit_api.ServerResponse)
	if !ok || serverResp == nil {
		return fmt.Errorf("bybit %s: invalid response type %T", operation, response)
	}
	if serverResp.RetCode != 0 {
		return &BybitError{Code: serverResp.RetCode, Message: serverResp.RetMsg, Operation: operation}
	}
	if v == nil {
		return nil
	}

	resultBytes, err := json.Marshal(serverResp.Result)
	if err != nil {
		return fmt.Errorf("bybit %s: failed to marshal result: %w", operation, err)
	}
	if err := json.Unmarshal(resultBytes, v); err != nil {
		return fmt.Errorf("bybit %s: failed to unmarshal result: %w", operation, err)
	}
	return nil
}
