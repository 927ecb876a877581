package errors

import (
	"context"
	stderrors "errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCategorizeError(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		category  ErrorCategory
		retryable bool
	}{
		{"deadline", context.DeadlineExceeded, ErrorCategoryTimeout, true},
		{"wrapped deadline", fmt.Errorf("place order: %w", context.DeadlineExceeded), ErrorCategoryTimeout, true},
		{"canceled", context.Canceled, ErrorCategoryTemporary, false},
		{"auth", stderrors.New("invalid api key"), ErrorCategoryCredentials, false},
		{"rate", stderrors.New("Too many requests"), ErrorCategoryRateLimit, true},
		{"network", stderrors.New("dial tcp: connection refused"), ErrorCategoryNetwork, true},
		{"balance", stderrors.New("insufficient available balance"), ErrorCategoryOrder, false},
		{"validation", stderrors.New("qty below minimum"), ErrorCategoryValidation, false},
		{"unknown", stderrors.New("something odd"), ErrorCategoryTemporary, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := CategorizeError(tt.err, "exchange", "PlaceOrder")
			require.NotNil(t, got)
			assert.Equal(t, tt.category, got.Category)
			assert.Equal(t, tt.retryable, got.IsRetryable())
			assert.ErrorIs(t, got, tt.err)
		})
	}

	assert.Nil(t, CategorizeError(nil, "x", "y"))
}

func TestCategorizeKeepsExistingBotError(t *testing.T) {
	orig := NewCredentialsError("bybit", "GetAccountInfo", stderrors.New("10003"))
	wrapped := fmt.Errorf("refresh: %w", orig)

	got := CategorizeError(wrapped, "engine", "refresh")
	assert.Same(t, orig, got)
	assert.True(t, IsFatal(wrapped))
	assert.False(t, IsFatal(stderrors.New("timeout")))
	assert.False(t, IsFatal(nil))
}

func TestRecoveryActions(t *testing.T) {
	assert.Equal(t, RecoveryActionStop, NewFatalError("c", "o", "m").GetRecoveryAction())
	assert.Equal(t, RecoveryActionWait, NewRateLimitError("c", "o", stderrors.New("x")).GetRecoveryAction())
	assert.Equal(t, RecoveryActionRetry, NewNetworkError("c", "o", stderrors.New("x")).GetRecoveryAction())
	assert.Equal(t, RecoveryActionSkip, NewValidationError("c", "o", "m").GetRecoveryAction())
	assert.Equal(t, RecoveryActionFallback, NewBracketError("c", "o", stderrors.New("x")).GetRecoveryAction())
	assert.Equal(t, RecoveryActionSkip, NewExchangeError("c", "o", stderrors.New("x")).GetRecoveryAction())
}

func TestBotErrorMessage(t *testing.T) {
	err := NewOrderError("execution", "PlaceOrder", stderrors.New("rejected")).
		WithMessage("entry failed").
		WithContext("symbol", "BTCUSDT")

	assert.Equal(t, "[ORDER:execution] PlaceOrder: entry failed: rejected", err.Error())
	assert.Equal(t, "BTCUSDT", err.Context["symbol"])
}

func TestErrorStats(t *testing.T) {
	stats := NewErrorStats(3)
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	stats.RecordErrorAt(NewNetworkError("c", "o", stderrors.New("a")), base)
	stats.RecordErrorAt(NewCredentialsError("c", "o", stderrors.New("b")), base.Add(time.Minute))
	stats.RecordErrorAt(NewCredentialsError("c", "o", stderrors.New("c")), base.Add(2*time.Minute))
	stats.RecordErrorAt(NewCredentialsError("c", "o", stderrors.New("d")), base.Add(3*time.Minute))
	stats.RecordError(nil)

	assert.Equal(t, 4, stats.TotalErrors())
	assert.InDelta(t, 0.75, stats.GetErrorRate(ErrorCategoryCredentials), 1e-9)
	assert.True(t, stats.HasRecentErrors(ErrorCategoryCredentials, 3))
	assert.False(t, stats.HasRecentErrors(ErrorCategoryNetwork, 1), "oldest entry should be evicted")
	assert.Equal(t, 2, stats.CountSince(ErrorCategoryCredentials, base.Add(2*time.Minute)))
	assert.Equal(t, 3, stats.CountByCategory()[ErrorCategoryCredentials])

	stats.Reset()
	assert.Equal(t, 0, stats.TotalErrors())
	assert.Equal(t, 0.0, stats.GetErrorRate(ErrorCategoryCredentials))
}
