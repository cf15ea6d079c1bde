package domain

import (
	"regexp"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTier(t *testing.T) {
	tier, err := ParseTier(" Gold ")
	require.NoError(t, err)
	assert.Equal(t, TierGold, tier)
	assert.Equal(t, 2, tier.Rank())

	_, err = ParseTier("mithril")
	assert.ErrorIs(t, err, ErrValidation)
	assert.Equal(t, -1, Tier("mithril").Rank())
	assert.Equal(t, MaxTierRank, TierDiamond.Rank())
}

func TestSpendingLimitsValidate(t *testing.T) {
	d := decimal.NewFromInt
	assert.NoError(t, SpendingLimits{PerTransaction: d(100), Daily: d(100), Monthly: d(1000)}.Validate())
	assert.ErrorIs(t, SpendingLimits{PerTransaction: d(0), Daily: d(1), Monthly: d(1)}.Validate(), ErrValidation)
	assert.ErrorIs(t, SpendingLimits{PerTransaction: d(100), Daily: d(50), Monthly: d(1000)}.Validate(), ErrValidation)
	assert.ErrorIs(t, SpendingLimits{PerTransaction: d(10), Daily: d(50), Monthly: d(20)}.Validate(), ErrValidation)
}

func TestNewAgentID(t *testing.T) {
	id := NewAgentID("Shopping Bot-3!")
	assert.Regexp(t, regexp.MustCompile(`^agent_shopping_bot_3_[0-9a-f]{8}$`), id)
	assert.Regexp(t, regexp.MustCompile(`^agent_agent_[0-9a-f]{8}$`), NewAgentID("!!!"))
}

func TestBlockRecordResolve(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	rec := &BlockRecord{BlockType: BlockRefundRequest, Status: BlockPending}

	require.NoError(t, rec.Resolve(BlockApproved, "fraud confirmed", "admin-1", now))
	assert.Equal(t, BlockApproved, rec.Status)
	assert.Equal(t, "fraud confirmed", *rec.AdminNotes)
	assert.Equal(t, now, *rec.ReviewedAt)

	assert.ErrorIs(t, rec.Resolve(BlockDenied, "late", "admin-2", now), ErrAlreadyResolved)
	assert.Equal(t, "admin-1", *rec.ReviewedBy)

	simple := &BlockRecord{BlockType: BlockSimple, Status: BlockBlocked}
	assert.ErrorIs(t, simple.CanTransitionTo(BlockApproved), ErrInvalidTransition)
	assert.True(t, simple.IsActiveSimple())

	pending := &BlockRecord{BlockType: BlockRefundRequest, Status: BlockPending}
	assert.ErrorIs(t, pending.CanTransitionTo(BlockPending), ErrInvalidTransition)
}

func TestTransactionTransitions(t *testing.T) {
	tx := &Transaction{Status: TxPending}
	assert.NoError(t, tx.CanTransitionTo(TxCompleted))
	assert.NoError(t, tx.CanTransitionTo(TxFailed))
	assert.ErrorIs(t, tx.CanTransitionTo(TxPending), ErrInvalidTransition)

	tx.Status = TxCompleted
	assert.ErrorIs(t, tx.CanTransitionTo(TxFailed), ErrInvalidTransition)
	assert.True(t, tx.Refundable())
	tx.Refunded = true
	assert.False(t, tx.Refundable())
}

func TestSessionMarkSelected(t *testing.T) {
	price := decimal.NewFromInt(10)
	s := &EvaluationSession{Evaluations: []AgentEvaluation{
		{AgentID: "a1", PredictedPrice: &price},
		{AgentID: "a2", PredictedPrice: &price},
		{AgentID: "a3", Error: "no eligible merchant"},
	}}

	require.NoError(t, s.MarkSelected("a1", "tx-1"))
	require.NoError(t, s.MarkSelected("a1", ""), "reselecting the same agent is idempotent")
	assert.Equal(t, "tx-1", s.TransactionID)
	assert.ErrorIs(t, s.MarkSelected("a2", ""), ErrAlreadyResolved)
	assert.ErrorIs(t, s.MarkSelected("a3", ""), ErrValidation)
	assert.ErrorIs(t, s.MarkSelected("missing", ""), ErrValidation)
	assert.True(t, s.Evaluations[0].WasSelected)
	assert.False(t, s.Evaluations[1].WasSelected)
}

func TestTeamNormalize(t *testing.T) {
	team := &Team{Name: "  Scouts "}
	require.NoError(t, team.Normalize())
	assert.Equal(t, "Scouts", team.Name)
	assert.Equal(t, DefaultTeamColor, team.Color)

	assert.ErrorIs(t, (&Team{Name: " "}).Normalize(), ErrValidation)
	assert.ErrorIs(t, (&Team{Name: "x", Color: "blue"}).Normalize(), ErrValidation)
}

func TestMerchantEffectiveTrust(t *testing.T) {
	assert.Equal(t, 1, (&Merchant{}).EffectiveTrust())
	assert.Equal(t, 4, (&Merchant{TrustScore: 4}).EffectiveTrust())
	assert.Equal(t, 5, (&Merchant{TrustScore: 9}).EffectiveTrust())
	var m *Merchant
	assert.Equal(t, 1, m.EffectiveTrust())
}
