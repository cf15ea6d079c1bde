package domain

import (
	"fmt"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestKindOf(t *testing.T) {
	limitErr := &LimitExceededError{Limit: LimitDaily, Max: decimal.NewFromInt(500), Attempted: decimal.NewFromInt(600)}

	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"nil", nil, ""},
		{"validation", NewValidationError("amount", "must be positive"), KindValidation},
		{"empty scope", fmt.Errorf("engine: %w", ErrEmptyScope), KindValidation},
		{"wrapped not found", fmt.Errorf("postgres: agent x: %w", ErrNotFound), KindNotFound},
		{"limit detail", limitErr, KindPolicy},
		{"wrapped limit detail", fmt.Errorf("authorize: %w", limitErr), KindPolicy},
		{"blocked", ErrAgentBlocked, KindPolicy},
		{"replayed nonce", ErrReplayedNonce, KindPolicy},
		{"bad signature", fmt.Errorf("verify: %w", ErrInvalidSignature), KindPolicy},
		{"velocity", ErrVelocityExceeded, KindPolicy},
		{"already resolved", fmt.Errorf("blocks: %w", ErrAlreadyResolved), KindConflict},
		{"conflict", ErrConflict, KindConflict},
		{"dependency", fmt.Errorf("%w: timeout", ErrDependency), KindDependency},
		{"plain", fmt.Errorf("boom"), KindUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, KindOf(tt.err))
		})
	}
}

func TestLimitExceededErrorMessage(t *testing.T) {
	err := &LimitExceededError{Limit: LimitPerTransaction, Max: decimal.NewFromInt(100), Attempted: decimal.NewFromInt(150)}
	assert.Equal(t, "per_transaction limit exceeded: 150.00 > 100.00", err.Error())
	assert.ErrorIs(t, err, ErrLimitExceeded)
}

func TestRetryable(t *testing.T) {
	assert.True(t, Retryable(fmt.Errorf("tx: %w", ErrConflict)))
	assert.False(t, Retryable(ErrAlreadyResolved))
	assert.False(t, Retryable(ErrInsufficientBalance))
}
