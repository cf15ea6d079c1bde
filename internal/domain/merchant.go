package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type MerchantStatus string

const (
	MerchantPending  MerchantStatus = "pending"
	MerchantApproved MerchantStatus = "approved"
	MerchantRejected MerchantStatus = "rejected"
)

const (
	MinTrustScore = 1
	MaxTrustScore = 5
)

type Merchant struct {
	ID           string          `json:"id"`
	Name         string          `json:"name"`
	Domain       string          `json:"domain"`
	OwnerUserID  string          `json:"owner_user_id"`
	Status       MerchantStatus  `json:"status"`
	TrustScore   int             `json:"trust_score"`
	TotalRevenue decimal.Decimal `json:"total_revenue"`
	ApprovedAt   *time.Time      `json:"approved_at,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
}

func (m *Merchant) IsApproved() bool { return m.Status == MerchantApproved }

// EffectiveTrust clamps trust_score into [1,5]; unknown trust counts as the lowest.
func (m *Merchant) EffectiveTrust() int {
	switch {
	case m == nil || m.TrustScore < MinTrustScore:
		return MinTrustScore
	case m.TrustScore > MaxTrustScore:
		return MaxTrustScore
	}
	return m.TrustScore
}
