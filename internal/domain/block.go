package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type BlockType string

const (
	BlockSimple        BlockType = "simple"
	BlockRefundRequest BlockType = "refund_request"
)

type BlockStatus string

const (
	BlockPending  BlockStatus = "pending"
	BlockApproved BlockStatus = "approved"
	BlockDenied   BlockStatus = "denied"
	BlockBlocked  BlockStatus = "blocked" // simple blocks are effective on creation
)

type BlockRecord struct {
	ID            string           `json:"id"`
	BlockType     BlockType        `json:"block_type"`
	MerchantID    string           `json:"merchant_id"`
	AgentID       string           `json:"agent_id"`
	Reason        string           `json:"reason"`
	TransactionID *string          `json:"transaction_id,omitempty"`
	RefundAmount  *decimal.Decimal `json:"refund_amount,omitempty"`
	Status        BlockStatus      `json:"status"`

	AdminNotes *string    `json:"admin_notes,omitempty"`
	ReviewedBy *string    `json:"reviewed_by,omitempty"`
	ReviewedAt *time.Time `json:"reviewed_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

// IsActiveSimple reports a merchant-scoped block that is in force.
func (b *BlockRecord) IsActiveSimple() bool {
	return b.BlockType == BlockSimple && b.Status == BlockBlocked
}

// CanTransitionTo enforces the refund request state machine.
func (b *BlockRecord) CanTransitionTo(next BlockStatus) error {
	if b.BlockType != BlockRefundRequest {
		return ErrInvalidTransition
	}
	if b.Status != BlockPending {
		return ErrAlreadyResolved
	}
	if next != BlockApproved && next != BlockDenied {
		return ErrInvalidTransition
	}
	return nil
}

// Resolve moves a pending refund request to a final state.
func (b *BlockRecord) Resolve(next BlockStatus, notes, reviewer string, at time.Time) error {
	if err := b.CanTransitionTo(next); err != nil {
		return err
	}
	b.Status = next
	b.AdminNotes = &notes
	b.ReviewedBy = &reviewer
	b.ReviewedAt = &at
	return nil
}

type BlockFilter struct {
	Type   BlockType
	Status BlockStatus
}

func (f BlockFilter) Match(b *BlockRecord) bool {
	if f.Type != "" && b.BlockType != f.Type {
		return false
	}
	if f.Status != "" && b.Status != f.Status {
		return false
	}
	return true
}
