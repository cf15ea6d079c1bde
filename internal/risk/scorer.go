package risk

import (
	"github.com/shopspring/decimal"
	"github.com/xela07ax/agentspend/internal/domain"
)

const (
	MinScore = 0
	MaxScore = 100

	ratioWeight    = 20
	ratioCap       = 40
	trustWeight    = 6
	tierWeight     = 3
	newAgentPoints = 8
	velocityFree   = 5 // completed transactions per hour before velocity points start
	velocityWeight = 2
	velocityCap    = 10
)

var (
	largeAmount  = decimal.NewFromInt(1000)
	mediumAmount = decimal.NewFromInt(500)
)

// Input is everything a score depends on. Score reads nothing else.
type Input struct {
	Agent    *domain.Agent
	Merchant *domain.Merchant
	Amount   decimal.Decimal
	History  domain.AgentHistory
}

// Scorer computes a 0-100 risk score, higher is riskier.
// Every term is non-decreasing in amount, non-increasing in merchant trust
// and non-increasing in agent tier.
type Scorer struct{}

func NewScorer() *Scorer { return &Scorer{} }

func (s *Scorer) Score(in Input) int {
	points := ratioPoints(in) + amountPoints(in.Amount) + trustPoints(in.Merchant) +
		tierPoints(in.Agent) + historyPoints(in.History) + standingPoints(in.Agent)
	return clamp(points, MinScore, MaxScore)
}

// ratioPoints grows with the amount relative to what the agent usually spends.
func ratioPoints(in Input) int {
	if !in.Amount.IsPositive() {
		return 0
	}
	ref := in.History.AverageAmount
	if in.History.IsEmpty() || !ref.IsPositive() {
		ref = decimal.Zero
		if in.Agent != nil && in.Agent.SpendingLimits.PerTransaction.IsPositive() {
			ref = in.Agent.SpendingLimits.PerTransaction.Div(decimal.NewFromInt(4))
		}
	}
	if !ref.IsPositive() {
		return 0
	}
	excess := in.Amount.Div(ref).Sub(decimal.NewFromInt(1))
	if !excess.IsPositive() {
		return 0
	}
	return clamp(int(excess.Mul(decimal.NewFromInt(ratioWeight)).IntPart()), 0, ratioCap)
}

func amountPoints(amount decimal.Decimal) int {
	switch {
	case amount.GreaterThan(largeAmount):
		return 20
	case amount.GreaterThan(mediumAmount):
		return 10
	}
	return 0
}

func trustPoints(m *domain.Merchant) int {
	return (domain.MaxTrustScore - m.EffectiveTrust()) * trustWeight
}

func tierPoints(a *domain.Agent) int {
	rank := 0
	if a != nil && a.Tier.Valid() {
		rank = a.Tier.Rank()
	}
	return (domain.MaxTierRank - rank) * tierWeight
}

func historyPoints(h domain.AgentHistory) int {
	points := 0
	if h.IsEmpty() {
		points += newAgentPoints
	}
	if h.RecentCount > velocityFree {
		points += min(velocityCap, (h.RecentCount-velocityFree)*velocityWeight)
	}
	return points
}

func standingPoints(a *domain.Agent) int {
	if a == nil {
		return 0
	}
	return clamp(a.RiskScore, MinScore, MaxScore) / 4
}

func clamp(v, lo, hi int) int {
	return max(lo, min(hi, v))
}
