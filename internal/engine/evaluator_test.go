package engine

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xela07ax/agentspend/internal/domain"
	"github.com/xela07ax/agentspend/internal/repository"
	"github.com/xela07ax/agentspend/internal/repository/memory"
	"github.com/xela07ax/agentspend/internal/risk"
	"go.uber.org/zap"
)

var (
	owner = domain.Actor{UserID: "user-1", Role: domain.RoleUser}
	other = domain.Actor{UserID: "user-2", Role: domain.RoleUser}
	admin = domain.Actor{UserID: "admin-1", Role: domain.RoleAdmin}

	epoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
)

type stubPredictor map[string]string // agent id -> price, "" means fail

func (p stubPredictor) Predict(ctx context.Context, in PredictInput) (Prediction, error) {
	price, ok := p[in.Agent.ID]
	if !ok || price == "" {
		return Prediction{}, errors.New("model offline")
	}
	return Prediction{Merchant: in.Merchants[0], Price: decimal.RequireFromString(price)}, nil
}

type stubScorer map[string]int

func (s stubScorer) Score(in risk.Input) int { return s[in.Agent.ID] }

func seedAgent(t *testing.T, st *memory.Store, id, ownerID string, createdAt time.Time) *domain.Agent {
	t.Helper()
	a := &domain.Agent{
		ID:               id,
		Name:             "Agent " + id,
		OwnerUserID:      ownerID,
		Tier:             domain.TierSilver,
		Status:           domain.AgentActive,
		Balance:          decimal.NewFromInt(1000),
		RemainingBalance: decimal.NewFromInt(1000),
		SpendingLimits: domain.SpendingLimits{
			PerTransaction: decimal.NewFromInt(250),
			Daily:          decimal.NewFromInt(1000),
			Monthly:        decimal.NewFromInt(5000),
		},
		CreatedAt: createdAt,
		UpdatedAt: createdAt,
	}
	require.NoError(t, st.CreateAgent(context.Background(), a))
	return a
}

func seedMerchant(t *testing.T, st *memory.Store, id string, trust int) *domain.Merchant {
	t.Helper()
	m := &domain.Merchant{
		ID:          id,
		Name:        "Shop " + id,
		Domain:      id + ".example",
		OwnerUserID: "merchant-" + id,
		Status:      domain.MerchantApproved,
		TrustScore:  trust,
		CreatedAt:   epoch,
	}
	require.NoError(t, st.CreateMerchant(context.Background(), m))
	return m
}

func newTestEvaluator(st *memory.Store, p Predictor, s RiskScorer) *Evaluator {
	e := NewEvaluator(st, p, s, Config{Workers: 4, PredictorTimeout: time.Second}, nil, nil, zap.NewNop())
	e.now = func() time.Time { return epoch.Add(48 * time.Hour) }
	return e
}

func TestEvaluate_TeamTieBrokenByRisk(t *testing.T) {
	ctx := context.Background()
	st := memory.NewStore()
	seedMerchant(t, st, "m1", 4)
	for i, id := range []string{"a1", "a2", "a3"} {
		seedAgent(t, st, id, owner.UserID, epoch.Add(time.Duration(i)*time.Hour))
	}
	require.NoError(t, st.CreateTeam(ctx, &domain.Team{ID: "team-1", Name: "buyers", Color: domain.DefaultTeamColor, OwnerUserID: owner.UserID, CreatedAt: epoch}))
	for _, id := range []string{"a1", "a2", "a3"} {
		require.NoError(t, st.AddTeamMember(ctx, "team-1", id))
	}

	e := newTestEvaluator(st,
		stubPredictor{"a1": "42.00", "a2": "39.50", "a3": "39.50"},
		stubScorer{"a1": 10, "a2": 20, "a3": 5},
	)

	sess, err := e.Evaluate(ctx, owner, domain.EvaluationRequest{ItemDescription: "wireless mouse", TeamID: "team-1"})
	require.NoError(t, err)
	assert.Equal(t, "a3", sess.WinnerAgentID)
	assert.Equal(t, domain.ScopeTeam, sess.Scope.Kind)
	require.Len(t, sess.Evaluations, 3)
	assert.Equal(t, []string{"a3", "a2", "a1"}, []string{sess.Evaluations[0].AgentID, sess.Evaluations[1].AgentID, sess.Evaluations[2].AgentID})

	recommended := 0
	for _, row := range sess.Evaluations {
		if row.IsRecommended {
			recommended++
			assert.Equal(t, "a3", row.AgentID)
		}
	}
	assert.Equal(t, 1, recommended)

	stored, err := e.Get(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, "a3", stored.WinnerAgentID)

	history, err := e.TeamHistory(ctx, "team-1")
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, sess.ID, history[0].ID)
}

func TestEvaluate_DeterministicWithCatalog(t *testing.T) {
	ctx := context.Background()
	st := memory.NewStore()
	seedMerchant(t, st, "m1", 3)
	seedMerchant(t, st, "m2", 5)
	seedAgent(t, st, "a1", owner.UserID, epoch)
	seedAgent(t, st, "a2", owner.UserID, epoch.Add(time.Minute))
	seedAgent(t, st, "a3", owner.UserID, epoch.Add(2*time.Minute))

	e := newTestEvaluator(st, NewCatalogPredictor(), risk.NewScorer())
	req := domain.EvaluationRequest{ItemDescription: "  Ergonomic   office chair ", AgentIDs: []string{"a1", "a2", "a3"}}

	first, err := e.Evaluate(ctx, owner, req)
	require.NoError(t, err)
	second, err := e.Evaluate(ctx, owner, req)
	require.NoError(t, err)

	assert.NotEqual(t, first.ID, second.ID)
	assert.Equal(t, first.WinnerAgentID, second.WinnerAgentID)
	assert.Equal(t, "Ergonomic   office chair", first.ItemDescription)
	for i := range first.Evaluations {
		assert.Equal(t, first.Evaluations[i].AgentID, second.Evaluations[i].AgentID)
		assert.True(t, first.Evaluations[i].PredictedPrice.Equal(*second.Evaluations[i].PredictedPrice))
		assert.Equal(t, first.Evaluations[i].PredictedRiskScore, second.Evaluations[i].PredictedRiskScore)
	}
}

func TestEvaluate_PartialFailure(t *testing.T) {
	ctx := context.Background()
	st := memory.NewStore()
	seedMerchant(t, st, "m1", 4)
	seedAgent(t, st, "a1", owner.UserID, epoch)
	seedAgent(t, st, "a2", owner.UserID, epoch.Add(time.Minute))
	revoked := seedAgent(t, st, "a3", owner.UserID, epoch.Add(2*time.Minute))
	require.NoError(t, st.WithAgent(ctx, revoked.ID, func(tx repository.AgentTx) error {
		revoked.Status = domain.AgentRevoked
		return tx.UpdateAgent(ctx, revoked)
	}))

	e := newTestEvaluator(st, stubPredictor{"a1": "", "a2": "10.00", "a3": "1.00"}, stubScorer{})

	sess, err := e.Evaluate(ctx, owner, domain.EvaluationRequest{ItemDescription: "pens"})
	require.NoError(t, err)
	assert.Equal(t, "a2", sess.WinnerAgentID)
	require.Len(t, sess.Evaluations, 3)

	assert.Equal(t, "a2", sess.Evaluations[0].AgentID)
	assert.Equal(t, "a1", sess.Evaluations[1].AgentID)
	assert.Contains(t, sess.Evaluations[1].Error, "model offline")
	assert.Nil(t, sess.Evaluations[1].PredictedPrice)
	assert.Equal(t, "a3", sess.Evaluations[2].AgentID)
	assert.Equal(t, domain.ErrAgentInactive.Error(), sess.Evaluations[2].Error)
}

func TestEvaluate_AllFailed(t *testing.T) {
	ctx := context.Background()
	st := memory.NewStore()
	seedMerchant(t, st, "m1", 4)
	seedAgent(t, st, "a1", owner.UserID, epoch)

	e := newTestEvaluator(st, stubPredictor{}, stubScorer{})
	_, err := e.Evaluate(ctx, owner, domain.EvaluationRequest{ItemDescription: "pens"})
	require.ErrorIs(t, err, domain.ErrDependency)
	assert.Equal(t, domain.KindDependency, domain.KindOf(err))
}

func TestEvaluate_BlockedMerchantsExcluded(t *testing.T) {
	ctx := context.Background()
	st := memory.NewStore()
	seedMerchant(t, st, "m1", 4)
	seedAgent(t, st, "a1", owner.UserID, epoch)
	require.NoError(t, st.WithAgent(ctx, "a1", func(tx repository.AgentTx) error {
		return tx.InsertBlockRecord(ctx, &domain.BlockRecord{
			ID: "b1", BlockType: domain.BlockSimple, MerchantID: "m1", AgentID: "a1", Status: domain.BlockBlocked, CreatedAt: epoch,
		})
	}))

	e := newTestEvaluator(st, stubPredictor{"a1": "5.00"}, stubScorer{})
	_, err := e.Evaluate(ctx, owner, domain.EvaluationRequest{ItemDescription: "pens"})
	require.ErrorIs(t, err, domain.ErrDependency)
}

func TestEvaluate_Validation(t *testing.T) {
	ctx := context.Background()
	st := memory.NewStore()
	seedMerchant(t, st, "m1", 4)
	seedAgent(t, st, "a1", owner.UserID, epoch)
	e := newTestEvaluator(st, stubPredictor{"a1": "1.00"}, stubScorer{})

	long := make([]byte, domain.MaxItemDescriptionLen+1)
	for i := range long {
		long[i] = 'x'
	}

	tests := []struct {
		name string
		req  domain.EvaluationRequest
		want error
	}{
		{"empty description", domain.EvaluationRequest{ItemDescription: "   "}, domain.ErrValidation},
		{"too long", domain.EvaluationRequest{ItemDescription: string(long)}, domain.ErrValidation},
		{"both scopes", domain.EvaluationRequest{ItemDescription: "x", AgentIDs: []string{"a1"}, TeamID: "t"}, domain.ErrValidation},
		{"unknown agent", domain.EvaluationRequest{ItemDescription: "x", AgentIDs: []string{"nope"}}, domain.ErrNotFound},
		{"unknown team", domain.EvaluationRequest{ItemDescription: "x", TeamID: "nope"}, domain.ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := e.Evaluate(ctx, owner, tt.req)
			assert.ErrorIs(t, err, tt.want)
		})
	}

	// Another user owns no agents, so "all" resolves to nothing.
	_, err := e.Evaluate(ctx, other, domain.EvaluationRequest{ItemDescription: "x"})
	require.ErrorIs(t, err, domain.ErrEmptyScope)
	assert.Equal(t, domain.KindValidation, domain.KindOf(err))

	_, err = e.Evaluate(ctx, other, domain.EvaluationRequest{ItemDescription: "x", AgentIDs: []string{"a1"}})
	assert.ErrorIs(t, err, domain.ErrForbidden)

	sess, err := e.Evaluate(ctx, admin, domain.EvaluationRequest{ItemDescription: "x"})
	require.NoError(t, err)
	assert.Equal(t, "a1", sess.WinnerAgentID)
}

func TestEvaluate_EmptyTeam(t *testing.T) {
	ctx := context.Background()
	st := memory.NewStore()
	require.NoError(t, st.CreateTeam(ctx, &domain.Team{ID: "t1", Name: "empty", Color: domain.DefaultTeamColor, OwnerUserID: owner.UserID, CreatedAt: epoch}))
	e := newTestEvaluator(st, stubPredictor{}, stubScorer{})

	_, err := e.Evaluate(ctx, owner, domain.EvaluationRequest{ItemDescription: "x", TeamID: "t1"})
	assert.ErrorIs(t, err, domain.ErrEmptyScope)
}

type slowPredictor struct{ calls atomic.Int32 }

func (p *slowPredictor) Predict(ctx context.Context, in PredictInput) (Prediction, error) {
	p.calls.Add(1)
	if in.Agent.ID == "slow" {
		<-ctx.Done()
		return Prediction{}, ctx.Err()
	}
	return Prediction{Merchant: in.Merchants[0], Price: decimal.NewFromInt(3)}, nil
}

func TestEvaluate_TimeoutIsolatedPerAgent(t *testing.T) {
	ctx := context.Background()
	st := memory.NewStore()
	seedMerchant(t, st, "m1", 4)
	seedAgent(t, st, "slow", owner.UserID, epoch)
	seedAgent(t, st, "fast", owner.UserID, epoch.Add(time.Minute))

	p := &slowPredictor{}
	e := NewEvaluator(st, p, stubScorer{}, Config{Workers: 2, PredictorTimeout: 20 * time.Millisecond}, nil, nil, zap.NewNop())

	sess, err := e.Evaluate(ctx, owner, domain.EvaluationRequest{ItemDescription: "x"})
	require.NoError(t, err)
	assert.Equal(t, "fast", sess.WinnerAgentID)
	assert.Equal(t, "prediction timed out", sess.Evaluation("slow").Error)
	assert.EqualValues(t, 2, p.calls.Load())
}

func TestSelect(t *testing.T) {
	ctx := context.Background()
	st := memory.NewStore()
	seedMerchant(t, st, "m1", 4)
	seedAgent(t, st, "a1", owner.UserID, epoch)
	seedAgent(t, st, "a2", owner.UserID, epoch.Add(time.Minute))
	seedAgent(t, st, "a3", owner.UserID, epoch.Add(2*time.Minute))
	e := newTestEvaluator(st, stubPredictor{"a1": "1.00", "a2": "2.00"}, stubScorer{})

	sess, err := e.Evaluate(ctx, owner, domain.EvaluationRequest{ItemDescription: "x"})
	require.NoError(t, err)

	_, err = e.Select(ctx, owner, sess.ID, "a3", "")
	assert.ErrorIs(t, err, domain.ErrValidation, "failed rows cannot be selected")

	_, err = e.Select(ctx, other, sess.ID, "a1", "")
	assert.ErrorIs(t, err, domain.ErrForbidden)

	got, err := e.Select(ctx, owner, sess.ID, "a2", "tx-1")
	require.NoError(t, err)
	assert.Equal(t, "a2", got.SelectedAgentID)
	assert.Equal(t, "tx-1", got.TransactionID)
	assert.True(t, got.Evaluation("a2").WasSelected)

	_, err = e.Select(ctx, owner, sess.ID, "a2", "")
	require.NoError(t, err, "reselecting the same agent is idempotent")

	_, err = e.Select(ctx, owner, sess.ID, "a1", "")
	assert.ErrorIs(t, err, domain.ErrAlreadyResolved)

	stored, err := e.Get(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, "a2", stored.SelectedAgentID)
	assert.Equal(t, "tx-1", stored.TransactionID)
}
