package network

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xela07ax/agentspend/internal/domain"
	"github.com/xela07ax/agentspend/internal/repository"
	"github.com/xela07ax/agentspend/internal/repository/memory"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

var (
	alice = domain.Actor{UserID: "alice", Role: domain.RoleUser}
	admin = domain.Actor{UserID: "root", Role: domain.RoleAdmin}
)

func seed(t *testing.T) *memory.Store {
	t.Helper()
	ctx := context.Background()
	st := memory.NewStore()
	base := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)

	for i, a := range []struct{ id, owner string }{
		{"a1", "alice"}, {"a2", "alice"}, {"a3", "alice"}, {"b1", "bob"},
	} {
		require.NoError(t, st.CreateAgent(ctx, &domain.Agent{
			ID: a.id, Name: a.id, OwnerUserID: a.owner, Tier: domain.TierGold, Status: domain.AgentActive,
			Balance: decimal.NewFromInt(100), RemainingBalance: decimal.NewFromInt(100),
			TransactionCount: 2, RiskScore: 10 + i, CreatedAt: base.Add(time.Duration(i) * time.Minute),
		}))
	}
	require.NoError(t, st.CreateMerchant(ctx, &domain.Merchant{
		ID: "m1", Name: "Shop", Domain: "shop.test", Status: domain.MerchantApproved, TrustScore: 4, CreatedAt: base,
	}))
	for _, team := range []*domain.Team{
		{ID: "t1", Name: "red", Color: "#FF0000", OwnerUserID: "alice", MemberIDs: []string{"a1", "a2"}},
		{ID: "t2", Name: "blue", Color: "#0000FF", OwnerUserID: "alice", MemberIDs: []string{"a1", "a2", "a3"}},
	} {
		require.NoError(t, st.CreateTeam(ctx, team))
	}

	require.NoError(t, st.WithAgent(ctx, "a1", func(tx repository.AgentTx) error {
		for i, amt := range []string{"10", "20", "99"} {
			status, refunded := domain.TxCompleted, false
			if i == 2 {
				refunded = true
			}
			if err := tx.InsertTransaction(ctx, &domain.Transaction{
				ID: "tx" + amt, AgentID: "a1", MerchantID: "m1", Amount: decimal.RequireFromString(amt),
				Status: status, Refunded: refunded, CreatedAt: base,
			}); err != nil {
				return err
			}
		}
		return nil
	}))
	require.NoError(t, st.CreateEvaluationSession(ctx, &domain.EvaluationSession{ID: "s1", WinnerAgentID: "a1", CreatedAt: base}))
	return st
}

func nodeByID(g *domain.NetworkGraph, id string) *domain.GraphNode {
	for i := range g.Nodes {
		if g.Nodes[i].ID == id {
			return &g.Nodes[i]
		}
	}
	return nil
}

func TestBuild_ViewerScope(t *testing.T) {
	st := seed(t)
	b := NewBuilder(st)

	g, err := b.Build(context.Background(), alice)
	require.NoError(t, err)
	assert.Nil(t, nodeByID(g, "b1"), "other owners' agents are hidden")
	require.NotNil(t, nodeByID(g, "m1"))
	assert.Equal(t, 4, nodeByID(g, "m1").TrustScore)

	g, err = b.Build(context.Background(), admin)
	require.NoError(t, err)
	assert.NotNil(t, nodeByID(g, "b1"))
}

func TestBuild_AgentStats(t *testing.T) {
	g, err := NewBuilder(seed(t)).Build(context.Background(), alice)
	require.NoError(t, err)

	a1 := nodeByID(g, "a1")
	require.NotNil(t, a1)
	require.NotNil(t, a1.Stats)
	assert.Equal(t, int64(1), a1.Stats.WinCount)
	assert.True(t, a1.Stats.AvgPrice.Equal(decimal.NewFromInt(15)), "refunded purchases are excluded, got %s", a1.Stats.AvgPrice)
	assert.Equal(t, []string{"t1", "t2"}, a1.TeamIDs)
	assert.Equal(t, []string{"#FF0000", "#0000FF"}, a1.TeamColors)

	a3 := nodeByID(g, "a3")
	require.NotNil(t, a3)
	assert.True(t, a3.Stats.AvgPrice.IsZero())
}

func TestBuild_Edges(t *testing.T) {
	g, err := NewBuilder(seed(t)).Build(context.Background(), alice)
	require.NoError(t, err)

	want := []domain.GraphEdge{
		{Source: "a1", Target: "a2", EdgeType: domain.EdgeTeam, Weight: 2},
		{Source: "a1", Target: "a3", EdgeType: domain.EdgeTeam, Weight: 1},
		{Source: "a2", Target: "a3", EdgeType: domain.EdgeTeam, Weight: 1},
		{Source: "a1", Target: "m1", EdgeType: domain.EdgeTransaction, Weight: 2},
	}
	assert.Equal(t, want, g.Edges)
}

type countingBuilder struct{ calls int }

func (c *countingBuilder) Build(context.Context, domain.Actor) (*domain.NetworkGraph, error) {
	c.calls++
	return &domain.NetworkGraph{}, nil
}

func TestCachedBuilder_PassThroughWithoutRedis(t *testing.T) {
	next := &countingBuilder{}
	c := NewCachedBuilder(next, nil, 10*time.Second, zap.NewNop())

	for i := 0; i < 3; i++ {
		_, err := c.Build(context.Background(), alice)
		require.NoError(t, err)
	}
	assert.Equal(t, 3, next.calls)
}

func TestCachedBuilder_RedisOutageFallsThrough(t *testing.T) {
	rdb := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", DialTimeout: 50 * time.Millisecond, MaxRetries: -1})
	t.Cleanup(func() { _ = rdb.Close() })
	core, logs := observer.New(zap.WarnLevel)

	next := &countingBuilder{}
	c := NewCachedBuilder(next, rdb, 10*time.Second, zap.New(core))
	g, err := c.Build(context.Background(), alice)
	require.NoError(t, err)
	require.NotNil(t, g)
	assert.Equal(t, 1, next.calls)

	var msgs []string
	for _, e := range logs.All() {
		msgs = append(msgs, e.Message)
	}
	assert.Equal(t, []string{"graph cache read failed", "graph cache write failed"}, msgs)
}

func TestCacheKey(t *testing.T) {
	assert.Equal(t, "agentspend:cache:network-graph:alice", cacheKey(alice))
	assert.Equal(t, "agentspend:cache:network-graph:admin", cacheKey(admin))
}
