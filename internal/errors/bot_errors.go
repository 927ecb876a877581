package errors

import (
	"context"
	stderrors "errors"
	"fmt"
	"strings"
	"sync"
	"time"
)

// ErrorCategory represents different types of errors that can occur in the pipeline
type ErrorCategory string

const (
	// Unrecoverable: new trade intake must stop
	ErrorCategoryFatal         ErrorCategory = "FATAL"
	ErrorCategoryCredentials   ErrorCategory = "CREDENTIALS"
	ErrorCategoryConfiguration ErrorCategory = "CONFIG"

	// Transient exchange conditions, retried
	ErrorCategoryNetwork   ErrorCategory = "NETWORK"
	ErrorCategoryTimeout   ErrorCategory = "TIMEOUT"
	ErrorCategoryRateLimit ErrorCategory = "RATE_LIMIT"
	ErrorCategoryTemporary ErrorCategory = "TEMPORARY"

	// Rejected by the exchange or by our own checks
	ErrorCategoryExchange   ErrorCategory = "EXCHANGE"
	ErrorCategoryValidation ErrorCategory = "VALIDATION"
	ErrorCategoryOrder      ErrorCategory = "ORDER"
	ErrorCategoryPosition   ErrorCategory = "POSITION"

	// Entry succeeded but a protective leg did not
	ErrorCategoryBracket ErrorCategory = "BRACKET"

	// Side effects that are logged and never abort the pipeline
	ErrorCategoryPersistence  ErrorCategory = "PERSISTENCE"
	ErrorCategoryNotification ErrorCategory = "NOTIFICATION"
)

// BotError represents a categorized error with context
type BotError struct {
	Category   ErrorCategory
	Component  string
	Operation  string
	Message    string
	Underlying error
	Context    map[string]interface{}
	Retryable  bool
}

// Error implements the error interface
func (e *BotError) Error() string {
	if e.Underlying != nil {
		return fmt.Sprintf("[%s:%s] %s: %s: %v", e.Category, e.Component, e.Operation, e.Message, e.Underlying)
	}
	return fmt.Sprintf("[%s:%s] %s: %s", e.Category, e.Component, e.Operation, e.Message)
}

// Unwrap returns the underlying error for error unwrapping
func (e *BotError) Unwrap() error {
	return e.Underlying
}

// IsRetryable returns whether this error can be retried
func (e *BotError) IsRetryable() bool {
	return e.Retryable
}

// IsFatal returns whether this error should halt new trade intake
func (e *BotError) IsFatal() bool {
	return e.Category == ErrorCategoryFatal ||
		e.Category == ErrorCategoryCredentials ||
		e.Category == ErrorCategoryConfiguration
}

// NewBotError creates a new categorized bot error
func NewBotError(category ErrorCategory, component, operation, message string) *BotError {
	return &BotError{
		Category:  category,
		Component: component,
		Operation: operation,
		Message:   message,
		Context:   make(map[string]interface{}),
		Retryable: isRetryableCategory(category),
	}
}

// WrapError wraps an existing error with bot error context
func WrapError(err error, category ErrorCategory, component, operation string) *BotError {
	if err == nil {
		return nil
	}
	return &BotError{
		Category:   category,
		Component:  component,
		Operation:  operation,
		Message:    "operation failed",
		Underlying: err,
		Context:    make(map[string]interface{}),
		Retryable:  isRetryableCategory(category),
	}
}

// WithContext adds context information to the error
func (e *BotError) WithContext(key string, value interface{}) *BotError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// WithRetryable sets the retryable flag
func (e *BotError) WithRetryable(retryable bool) *BotError {
	e.Retryable = retryable
	return e
}

// WithMessage replaces the human readable message
func (e *BotError) WithMessage(message string) *BotError {
	e.Message = message
	return e
}

func isRetryableCategory(category ErrorCategory) bool {
	switch category {
	case ErrorCategoryNetwork, ErrorCategoryTimeout, ErrorCategoryTemporary, ErrorCategoryRateLimit:
		return true
	case ErrorCategoryFatal, ErrorCategoryCredentials, ErrorCategoryConfiguration,
		ErrorCategoryValidation, ErrorCategoryPersistence, ErrorCategoryNotification:
		return false
	default:
		return true
	}
}

// As returns the BotError in err's chain, if any
func As(err error) (*BotError, bool) {
	var botErr *BotError
	if stderrors.As(err, &botErr) {
		return botErr, true
	}
	return nil, false
}

// CategorizeError attempts to categorize a generic error
func CategorizeError(err error, component, operation string) *BotError {
	if err == nil {
		return nil
	}
	if botErr, ok := As(err); ok {
		return botErr
	}

	if stderrors.Is(err, context.DeadlineExceeded) {
		return WrapError(err, ErrorCategoryTimeout, component, operation)
	}
	if stderrors.Is(err, context.Canceled) {
		return WrapError(err, ErrorCategoryTemporary, component, operation).WithRetryable(false)
	}

	errMsg := strings.ToLower(err.Error())

	switch {
	case strings.Contains(errMsg, "timeout") || strings.Contains(errMsg, "deadline exceeded"):
		return WrapError(err, ErrorCategoryTimeout, component, operation)
	case strings.Contains(errMsg, "api key") || strings.Contains(errMsg, "api secret") ||
		strings.Contains(errMsg, "authentication") || strings.Contains(errMsg, "unauthorized") ||
		strings.Contains(errMsg, "signature"):
		return WrapError(err, ErrorCategoryCredentials, component, operation)
	case strings.Contains(errMsg, "rate limit") || strings.Contains(errMsg, "too many requests"):
		return WrapError(err, ErrorCategoryRateLimit, component, operation)
	case strings.Contains(errMsg, "connection") || strings.Contains(errMsg, "network") ||
		strings.Contains(errMsg, "dns") || strings.Contains(errMsg, "dial") || strings.Contains(errMsg, "eof"):
		return WrapError(err, ErrorCategoryNetwork, component, operation)
	case strings.Contains(errMsg, "insufficient") || strings.Contains(errMsg, "balance"):
		return WrapError(err, ErrorCategoryOrder, component, operation).WithRetryable(false)
	case strings.Contains(errMsg, "invalid") || strings.Contains(errMsg, "minimum") ||
		strings.Contains(errMsg, "maximum") || strings.Contains(errMsg, "precision"):
		return WrapError(err, ErrorCategoryValidation, component, operation)
	}

	return WrapError(err, ErrorCategoryTemporary, component, operation)
}

// IsFatal reports whether err categorizes as an intake-halting error
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	return CategorizeError(err, "", "").IsFatal()
}

func NewNetworkError(component, operation string, err error) *BotError {
	return WrapError(err, ErrorCategoryNetwork, component, operation)
}

func NewTimeoutError(component, operation string, err error) *BotError {
	return WrapError(err, ErrorCategoryTimeout, component, operation)
}

func NewRateLimitError(component, operation string, err error) *BotError {
	return WrapError(err, ErrorCategoryRateLimit, component, operation)
}

func NewValidationError(component, operation, message string) *BotError {
	return NewBotError(ErrorCategoryValidation, component, operation, message)
}

func NewConfigurationError(component, operation, message string) *BotError {
	return NewBotError(ErrorCategoryConfiguration, component, operation, message)
}

func NewCredentialsError(component, operation string, err error) *BotError {
	return WrapError(err, ErrorCategoryCredentials, component, operation)
}

func NewExchangeError(component, operation string, err error) *BotError {
	return WrapError(err, ErrorCategoryExchange, component, operation).WithRetryable(false)
}

func NewOrderError(component, operation string, err error) *BotError {
	return WrapError(err, ErrorCategoryOrder, component, operation)
}

func NewPositionError(component, operation string, err error) *BotError {
	return WrapError(err, ErrorCategoryPosition, component, operation)
}

func NewBracketError(component, operation string, err error) *BotError {
	return WrapError(err, ErrorCategoryBracket, component, operation).WithRetryable(false)
}

func NewPersistenceError(component, operation string, err error) *BotError {
	return WrapError(err, ErrorCategoryPersistence, component, operation)
}

func NewNotificationError(component, operation string, err error) *BotError {
	return WrapError(err, ErrorCategoryNotification, component, operation)
}

func NewFatalError(component, operation, message string) *BotError {
	return NewBotError(ErrorCategoryFatal, component, operation, message)
}

// RecoveryAction is the suggested reaction to an error
type RecoveryAction string

const (
	RecoveryActionRetry    RecoveryAction = "RETRY"
	RecoveryActionSkip     RecoveryAction = "SKIP"
	RecoveryActionStop     RecoveryAction = "STOP"
	RecoveryActionFallback RecoveryAction = "FALLBACK"
	RecoveryActionWait     RecoveryAction = "WAIT"
)

// GetRecoveryAction suggests a recovery action based on error category
func (e *BotError) GetRecoveryAction() RecoveryAction {
	switch e.Category {
	case ErrorCategoryFatal, ErrorCategoryCredentials, ErrorCategoryConfiguration:
		return RecoveryActionStop
	case ErrorCategoryRateLimit:
		return RecoveryActionWait
	case ErrorCategoryNetwork, ErrorCategoryTimeout, ErrorCategoryTemporary:
		return RecoveryActionRetry
	case ErrorCategoryValidation, ErrorCategoryPersistence, ErrorCategoryNotification:
		return RecoveryActionSkip
	case ErrorCategoryBracket:
		return RecoveryActionFallback
	case ErrorCategoryOrder, ErrorCategoryPosition, ErrorCategoryExchange:
		if e.Retryable {
			return RecoveryActionRetry
		}
		return RecoveryActionSkip
	default:
		return RecoveryActionRetry
	}
}

type recordedError struct {
	err *BotError
	at  time.Time
}

// ErrorStats tracks error statistics
type ErrorStats struct {
	mu               sync.Mutex
	totalErrors      int
	errorsByCategory map[ErrorCategory]int
	recent           []recordedError
	maxRecent        int
}

// NewErrorStats creates a new error statistics tracker
func NewErrorStats(maxRecentErrors int) *ErrorStats {
	if maxRecentErrors <= 0 {
		maxRecentErrors = 50
	}
	return &ErrorStats{
		errorsByCategory: make(map[ErrorCategory]int),
		recent:           make([]recordedError, 0, maxRecentErrors),
		maxRecent:        maxRecentErrors,
	}
}

// RecordError records an error in the statistics
func (es *ErrorStats) RecordError(err *BotError) {
	es.RecordErrorAt(err, time.Now())
}

// RecordErrorAt records an error observed at the given time
func (es *ErrorStats) RecordErrorAt(err *BotError, at time.Time) {
	if err == nil {
		return
	}
	es.mu.Lock()
	defer es.mu.Unlock()

	es.totalErrors++
	es.errorsByCategory[err.Category]++
	es.recent = append(es.recent, recordedError{err: err, at: at})
	if len(es.recent) > es.maxRecent {
		es.recent = es.recent[1:]
	}
}

// TotalErrors returns the number of recorded errors
func (es *ErrorStats) TotalErrors() int {
	es.mu.Lock()
	defer es.mu.Unlock()
	return es.totalErrors
}

// CountByCategory returns a copy of the per-category counts
func (es *ErrorStats) CountByCategory() map[ErrorCategory]int {
	es.mu.Lock()
	defer es.mu.Unlock()
	out := make(map[ErrorCategory]int, len(es.errorsByCategory))
	for k, v := range es.errorsByCategory {
		out[k] = v
	}
	return out
}

// GetErrorRate returns the share of errors belonging to a category
func (es *ErrorStats) GetErrorRate(category ErrorCategory) float64 {
	es.mu.Lock()
	defer es.mu.Unlock()
	if es.totalErrors == 0 {
		return 0.0
	}
	return float64(es.errorsByCategory[category]) / float64(es.totalErrors)
}

// HasRecentErrors checks whether at least count errors of a category are in recent history
func (es *ErrorStats) HasRecentErrors(category ErrorCategory, count int) bool {
	return es.CountSince(category, time.Time{}) >= count
}

// CountSince counts recent errors of a category observed at or after since
func (es *ErrorStats) CountSince(category ErrorCategory, since time.Time) int {
	es.mu.Lock()
	defer es.mu.Unlock()
	n := 0
	for _, r := range es.recent {
		if r.err.Category == category && !r.at.Before(since) {
			n++
		}
	}
	return n
}

// Reset clears all recorded errors
func (es *ErrorStats) Reset() {
	es.mu.Lock()
	defer es.mu.Unlock()
	es.totalErrors = 0
	es.errorsByCategory = make(map[ErrorCategory]int)
	es.recent = es.recent[:0]
}
