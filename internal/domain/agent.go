package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type AgentStatus string

const (
	AgentActive  AgentStatus = "active"
	AgentExpired AgentStatus = "expired"
	AgentRevoked AgentStatus = "revoked" // Global blacklist after an approved block+refund
)

// Tier is an ordered service class. Higher tiers get higher default limits.
type Tier string

const (
	TierBronze   Tier = "bronze"
	TierSilver   Tier = "silver"
	TierGold     Tier = "gold"
	TierPlatinum Tier = "platinum"
	TierDiamond  Tier = "diamond"
)

var tierRanks = map[Tier]int{
	TierBronze:   0,
	TierSilver:   1,
	TierGold:     2,
	TierPlatinum: 3,
	TierDiamond:  4,
}

// MaxTierRank is the rank of the highest tier.
const MaxTierRank = 4

// Rank returns the position of the tier in the bronze..diamond order, or -1 for an unknown tier.
func (t Tier) Rank() int {
	if r, ok := tierRanks[t]; ok {
		return r
	}
	return -1
}

func (t Tier) Valid() bool { return t.Rank() >= 0 }

// ParseTier normalizes user input ("Gold", " gold ") into a Tier.
func ParseTier(s string) (Tier, error) {
	t := Tier(strings.ToLower(strings.TrimSpace(s)))
	if !t.Valid() {
		return "", NewValidationError("tier", fmt.Sprintf("unknown tier %q", s))
	}
	return t, nil
}

type SpendingLimits struct {
	PerTransaction decimal.Decimal `json:"per_transaction"`
	Daily          decimal.Decimal `json:"daily"`
	Monthly        decimal.Decimal `json:"monthly"`
}

func (l SpendingLimits) IsZero() bool {
	return l.PerTransaction.IsZero() && l.Daily.IsZero() && l.Monthly.IsZero()
}

// Validate enforces 0 < per_transaction <= daily <= monthly.
func (l SpendingLimits) Validate() error {
	if !l.PerTransaction.IsPositive() {
		return NewValidationError("spending_limits.per_transaction", "must be positive")
	}
	if l.Daily.LessThan(l.PerTransaction) {
		return NewValidationError("spending_limits.daily", "must not be lower than per_transaction")
	}
	if l.Monthly.LessThan(l.Daily) {
		return NewValidationError("spending_limits.monthly", "must not be lower than daily")
	}
	return nil
}

type Agent struct {
	ID                string          `json:"id"`
	Name              string          `json:"name"`
	OwnerUserID       string          `json:"owner_user_id"`
	Tier              Tier            `json:"tier"`
	Status            AgentStatus     `json:"status"`
	FoundationalModel string          `json:"foundational_model"`
	Balance           decimal.Decimal `json:"balance"`
	RemainingBalance  decimal.Decimal `json:"remaining_balance"`
	SpendingLimits    SpendingLimits  `json:"spending_limits"`
	TransactionCount  int64           `json:"transaction_count"`
	TotalVolume       decimal.Decimal `json:"total_volume"`
	RiskScore         int             `json:"risk_score"`
	// PublicKey is the base64 ed25519 key that verifies the agent's signed purchases.
	PublicKey string `json:"public_key,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (a *Agent) IsActive() bool { return a.Status == AgentActive }

// NewAgentID builds ids of the form agent_<slug>_<8 hex>.
func NewAgentID(name string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(strings.TrimSpace(name)) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == ' ', r == '-', r == '_':
			b.WriteRune('_')
		}
	}
	slug := strings.Trim(b.String(), "_")
	if slug == "" {
		slug = "agent"
	}
	return fmt.Sprintf("agent_%s_%s", slug, uuid.New().String()[:8])
}

// AgentHistory is the aggregate view of an agent's completed transactions
// that pricing and risk scoring depend on.
type AgentHistory struct {
	CompletedCount int64           `json:"completed_count"`
	AverageAmount  decimal.Decimal `json:"average_amount"`
	RecentCount    int             `json:"recent_count"` // completed within the last hour
}

func (h AgentHistory) IsEmpty() bool { return h.CompletedCount == 0 }
