package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type TransactionStatus string

const (
	TxPending   TransactionStatus = "pending"
	TxCompleted TransactionStatus = "completed"
	TxFailed    TransactionStatus = "failed"
)

const DefaultCurrency = "USD"

type Transaction struct {
	ID            string            `json:"id"`
	AgentID       string            `json:"agent_id"`
	MerchantID    string            `json:"merchant_id"`
	Amount        decimal.Decimal   `json:"amount"`
	Currency      string            `json:"currency"`
	Status        TransactionStatus `json:"status"`
	CheckoutURL   string            `json:"checkout_url,omitempty"`
	Items         []string          `json:"items"`
	RiskScore     int               `json:"risk_score"`
	FailureReason string            `json:"failure_reason,omitempty"`
	Refunded      bool              `json:"refunded"`
	IsBlocked     bool              `json:"is_blocked"`

	CreatedAt   time.Time  `json:"created_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	RefundedAt  *time.Time `json:"refunded_at,omitempty"`
}

// CanTransitionTo guards pending -> {completed, failed}. Terminal states never move.
func (t *Transaction) CanTransitionTo(next TransactionStatus) error {
	if t.Status != TxPending {
		return ErrInvalidTransition
	}
	if next != TxCompleted && next != TxFailed {
		return ErrInvalidTransition
	}
	return nil
}

// Refundable reports whether the transaction can back a block+refund request.
func (t *Transaction) Refundable() bool {
	return t.Status == TxCompleted && !t.Refunded
}

// TransactionFilter narrows list reads. Empty fields match everything.
type TransactionFilter struct {
	AgentID    string
	MerchantID string
	Status     TransactionStatus
	Limit      int
}
