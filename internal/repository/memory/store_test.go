package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xela07ax/agentspend/internal/domain"
	"github.com/xela07ax/agentspend/internal/repository"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func seed(t *testing.T) *Store {
	t.Helper()
	s := NewStore()
	ctx := context.Background()
	require.NoError(t, s.CreateAgent(ctx, &domain.Agent{
		ID: "agent_a", Name: "A", OwnerUserID: "u1", Tier: domain.TierGold, Status: domain.AgentActive,
		Balance: decimal.NewFromInt(1000), RemainingBalance: decimal.NewFromInt(1000), CreatedAt: t0,
	}))
	require.NoError(t, s.CreateMerchant(ctx, &domain.Merchant{ID: "m1", Name: "Shop", Domain: "shop.example", Status: domain.MerchantApproved, TrustScore: 4, CreatedAt: t0}))
	return s
}

func TestWithAgentRollsBackOnError(t *testing.T) {
	s := seed(t)
	ctx := context.Background()
	boom := errors.New("boom")

	err := s.WithAgent(ctx, "agent_a", func(tx repository.AgentTx) error {
		a, err := tx.Agent(ctx)
		require.NoError(t, err)
		a.RemainingBalance = decimal.Zero
		require.NoError(t, tx.UpdateAgent(ctx, a))
		require.NoError(t, tx.InsertTransaction(ctx, &domain.Transaction{ID: "t1", AgentID: "agent_a", MerchantID: "m1", Amount: decimal.NewFromInt(5), Status: domain.TxPending, CreatedAt: t0}))
		return boom
	})
	require.ErrorIs(t, err, boom)

	a, err := s.GetAgent(ctx, "agent_a")
	require.NoError(t, err)
	assert.True(t, a.RemainingBalance.Equal(decimal.NewFromInt(1000)))
	_, err = s.GetTransaction(ctx, "t1")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestWithAgentReadsOwnWrites(t *testing.T) {
	s := seed(t)
	ctx := context.Background()

	err := s.WithAgent(ctx, "agent_a", func(tx repository.AgentTx) error {
		require.NoError(t, tx.InsertTransaction(ctx, &domain.Transaction{ID: "t1", AgentID: "agent_a", MerchantID: "m1", Amount: decimal.NewFromInt(40), Status: domain.TxPending, CreatedAt: t0}))
		pending, err := tx.PendingTotal(ctx)
		require.NoError(t, err)
		assert.True(t, pending.Equal(decimal.NewFromInt(40)))

		require.NoError(t, tx.InsertBlockRecord(ctx, &domain.BlockRecord{ID: "b1", BlockType: domain.BlockSimple, AgentID: "agent_a", MerchantID: "m1", Status: domain.BlockBlocked, CreatedAt: t0}))
		blocked, err := tx.HasActiveBlock(ctx, "m1")
		require.NoError(t, err)
		assert.True(t, blocked)
		return nil
	})
	require.NoError(t, err)

	txs, err := s.ListTransactions(ctx, domain.TransactionFilter{AgentID: "agent_a"})
	require.NoError(t, err)
	require.Len(t, txs, 1)
	assert.True(t, txs[0].IsBlocked)

	blocked, err := s.BlockedMerchantIDs(ctx, "agent_a")
	require.NoError(t, err)
	assert.True(t, blocked["m1"])
}

func TestWithAgentUnknownAgent(t *testing.T) {
	s := seed(t)
	err := s.WithAgent(context.Background(), "nobody", func(repository.AgentTx) error { return nil })
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestWithAgentSerializes(t *testing.T) {
	s := seed(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = s.WithAgent(ctx, "agent_a", func(tx repository.AgentTx) error {
				a, _ := tx.Agent(ctx)
				a.TransactionCount++
				return tx.UpdateAgent(ctx, a)
			})
		}()
	}
	wg.Wait()

	a, err := s.GetAgent(ctx, "agent_a")
	require.NoError(t, err)
	assert.EqualValues(t, 50, a.TransactionCount)
}

func TestResolveBlockRecordGuardsPending(t *testing.T) {
	s := seed(t)
	ctx := context.Background()
	rec := &domain.BlockRecord{ID: "r1", BlockType: domain.BlockRefundRequest, AgentID: "agent_a", MerchantID: "m1", Status: domain.BlockPending, CreatedAt: t0}
	require.NoError(t, s.WithAgent(ctx, "agent_a", func(tx repository.AgentTx) error { return tx.InsertBlockRecord(ctx, rec) }))

	resolve := func() error {
		return s.WithAgent(ctx, "agent_a", func(tx repository.AgentTx) error {
			b, err := tx.BlockRecord(ctx, "r1")
			if err != nil {
				return err
			}
			b.Status = domain.BlockApproved
			return tx.ResolveBlockRecord(ctx, b)
		})
	}
	require.NoError(t, resolve())
	assert.ErrorIs(t, resolve(), domain.ErrAlreadyResolved)
}

func TestHistoryAndRevenue(t *testing.T) {
	s := seed(t)
	ctx := context.Background()
	done := t0.Add(-30 * time.Minute)
	old := t0.Add(-3 * time.Hour)

	require.NoError(t, s.WithAgent(ctx, "agent_a", func(tx repository.AgentTx) error {
		for i, at := range []time.Time{done, old} {
			err := tx.InsertTransaction(ctx, &domain.Transaction{
				ID: []string{"c1", "c2"}[i], AgentID: "agent_a", MerchantID: "m1",
				Amount: decimal.NewFromInt(int64(10 * (i + 1))), Status: domain.TxCompleted, CreatedAt: at, CompletedAt: &at,
			})
			if err != nil {
				return err
			}
		}
		require.NoError(t, tx.UpdateMerchantRevenue(ctx, "m1", decimal.NewFromInt(30)))
		return tx.UpdateMerchantRevenue(ctx, "m1", decimal.NewFromInt(-50))
	}))

	h, err := s.AgentHistory(ctx, "agent_a", t0)
	require.NoError(t, err)
	assert.EqualValues(t, 2, h.CompletedCount)
	assert.Equal(t, 1, h.RecentCount)
	assert.True(t, h.AverageAmount.Equal(decimal.NewFromInt(15)))

	m, err := s.GetMerchant(ctx, "m1")
	require.NoError(t, err)
	assert.True(t, m.TotalRevenue.IsZero(), "revenue is floored at zero")
}

func TestTeamsAndSessions(t *testing.T) {
	s := seed(t)
	ctx := context.Background()
	require.NoError(t, s.CreateTeam(ctx, &domain.Team{ID: "team1", Name: "Scouts", OwnerUserID: "u1"}))
	require.NoError(t, s.AddTeamMember(ctx, "team1", "agent_a"))
	require.NoError(t, s.AddTeamMember(ctx, "team1", "agent_a"))
	assert.ErrorIs(t, s.AddTeamMember(ctx, "team1", "ghost"), domain.ErrNotFound)

	team, err := s.GetTeam(ctx, "team1")
	require.NoError(t, err)
	assert.Equal(t, []string{"agent_a"}, team.MemberIDs)

	sess := &domain.EvaluationSession{ID: "s1", Scope: domain.EvaluationScope{Kind: domain.ScopeTeam, TeamID: "team1"}, WinnerAgentID: "agent_a"}
	require.NoError(t, s.CreateEvaluationSession(ctx, sess))
	list, err := s.ListTeamSessions(ctx, "team1")
	require.NoError(t, err)
	require.Len(t, list, 1)

	wins, err := s.WinCounts(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, wins["agent_a"])

	require.NoError(t, s.RemoveTeamMember(ctx, "team1", "agent_a"))
	require.NoError(t, s.DeleteTeam(ctx, "team1"))
	_, err = s.GetTeam(ctx, "team1")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestConsumeNonceCommitsWithSection(t *testing.T) {
	s := seed(t)
	ctx := context.Background()

	err := s.WithAgent(ctx, "agent_a", func(tx repository.AgentTx) error {
		fresh, err := tx.ConsumeNonce(ctx, "n-1", t0)
		require.NoError(t, err)
		assert.True(t, fresh)
		fresh, err = tx.ConsumeNonce(ctx, "n-1", t0)
		require.NoError(t, err)
		assert.False(t, fresh, "same section sees its own nonce")
		return errors.New("rollback")
	})
	require.Error(t, err)

	consume := func(nonce string) bool {
		var fresh bool
		require.NoError(t, s.WithAgent(ctx, "agent_a", func(tx repository.AgentTx) error {
			var err error
			fresh, err = tx.ConsumeNonce(ctx, nonce, t0)
			return err
		}))
		return fresh
	}
	assert.True(t, consume("n-1"), "rolled back nonce stays unused")
	assert.False(t, consume("n-1"))
	assert.True(t, consume("n-2"))
}

func TestCountSince(t *testing.T) {
	s := seed(t)
	ctx := context.Background()

	require.NoError(t, s.WithAgent(ctx, "agent_a", func(tx repository.AgentTx) error {
		for i, at := range []time.Time{t0.Add(-2 * time.Minute), t0.Add(-30 * time.Second), t0} {
			require.NoError(t, tx.InsertTransaction(ctx, &domain.Transaction{
				ID: "t" + string(rune('1'+i)), AgentID: "agent_a", MerchantID: "m1",
				Amount: decimal.NewFromInt(1), Status: domain.TxFailed, CreatedAt: at,
			}))
		}
		n, err := tx.CountSince(ctx, t0.Add(-time.Minute))
		require.NoError(t, err)
		assert.Equal(t, 2, n)
		return nil
	}))
}
