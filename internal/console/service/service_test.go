package service

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xela07ax/agentspend/internal/domain"
	"github.com/xela07ax/agentspend/internal/infra/auth"
	"github.com/xela07ax/agentspend/internal/infra/signing"
	"github.com/xela07ax/agentspend/internal/policy"
	"github.com/xela07ax/agentspend/internal/repository/memory"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

var (
	owner = domain.Actor{UserID: "u1", Role: domain.RoleUser}
	other = domain.Actor{UserID: "u2", Role: domain.RoleUser}
	admin = domain.Actor{UserID: "root", Role: domain.RoleAdmin}
)

func TestAuthService_TokenRoundTrip(t *testing.T) {
	ctx := context.Background()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	hash, err := bcrypt.GenerateFromPassword([]byte("s3cret"), bcrypt.MinCost)
	require.NoError(t, err)

	st := memory.NewStore()
	svc := NewAuthService(st, key, "agentspend", time.Hour, zap.NewNop())
	require.NoError(t, svc.EnsureUser(ctx, "root", string(hash), domain.RoleAdmin))
	require.NoError(t, svc.EnsureUser(ctx, "root", string(hash), domain.RoleAdmin), "second bootstrap is a no-op")

	resp, err := svc.GenerateToken(ctx, "root", "s3cret")
	require.NoError(t, err)
	assert.Equal(t, "Bearer", resp.TokenType)
	assert.Equal(t, int64(3600), resp.ExpiresIn)

	claims, err := auth.NewBaseValidator(&key.PublicKey, "agentspend").VerifyToken("Bearer " + resp.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, domain.RoleAdmin, claims.Role)
	assert.True(t, claims.Scopes[domain.ScopeAdmin])

	_, err = svc.GenerateToken(ctx, "root", "wrong")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	_, err = svc.GenerateToken(ctx, "nobody", "s3cret")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func newAgentService() (*AgentService, *memory.Store) {
	st := memory.NewStore()
	return NewAgentService(st, policy.NewTierLimits(zap.NewNop()), zap.NewNop()), st
}

func TestAgentService_RegisterAppliesTierDefaults(t *testing.T) {
	svc, _ := newAgentService()
	a, err := svc.Register(context.Background(), owner, RegisterAgentRequest{
		Name: "Price Hunter", Tier: "Gold", FoundationalModel: "gpt-4o", Balance: decimal.RequireFromString("250.50"),
	})
	require.NoError(t, err)

	assert.Regexp(t, `^agent_price_hunter_[0-9a-f]{8}$`, a.ID)
	assert.Equal(t, domain.TierGold, a.Tier)
	assert.Equal(t, owner.UserID, a.OwnerUserID)
	assert.True(t, a.RemainingBalance.Equal(a.Balance))
	assert.True(t, a.SpendingLimits.PerTransaction.Equal(decimal.NewFromInt(500)))
	assert.True(t, a.SpendingLimits.Monthly.Equal(decimal.NewFromInt(10000)))
	assert.NotEmpty(t, a.SigningKey)
}

func TestAgentService_SigningKey(t *testing.T) {
	ctx := context.Background()
	svc, st := newAgentService()
	a, err := svc.Register(ctx, owner, RegisterAgentRequest{Name: "signer", Tier: "silver", Balance: decimal.NewFromInt(10)})
	require.NoError(t, err)

	stored, err := st.GetAgent(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, a.PublicKey, stored.PublicKey)

	key, err := svc.PublicKey(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, signing.Algorithm, key.Algorithm)

	p := signing.Payload{AgentID: a.ID, MerchantID: "m", Amount: decimal.NewFromInt(3), Currency: "USD", Nonce: "n", Timestamp: time.Now()}
	sig, err := signing.Sign(a.SigningKey, p)
	require.NoError(t, err)
	assert.NoError(t, signing.Verify(key.PublicKey, p, sig))

	_, err = svc.PublicKey(ctx, "ghost")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestAgentService_RegisterValidation(t *testing.T) {
	svc, _ := newAgentService()
	bad := &domain.SpendingLimits{PerTransaction: decimal.NewFromInt(10), Daily: decimal.NewFromInt(5), Monthly: decimal.NewFromInt(50)}

	cases := []struct {
		name string
		req  RegisterAgentRequest
	}{
		{"missing name", RegisterAgentRequest{Tier: "gold", Balance: decimal.NewFromInt(1)}},
		{"unknown tier", RegisterAgentRequest{Name: "x", Tier: "mithril", Balance: decimal.NewFromInt(1)}},
		{"zero balance", RegisterAgentRequest{Name: "x", Tier: "gold"}},
		{"limits out of order", RegisterAgentRequest{Name: "x", Tier: "gold", Balance: decimal.NewFromInt(1), SpendingLimits: bad}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.Register(context.Background(), owner, tc.req)
			assert.ErrorIs(t, err, domain.ErrValidation)
		})
	}
}

func TestAgentService_OwnershipAndLimits(t *testing.T) {
	ctx := context.Background()
	svc, _ := newAgentService()
	a, err := svc.Register(ctx, owner, RegisterAgentRequest{Name: "bot", Tier: "bronze", Balance: decimal.NewFromInt(100)})
	require.NoError(t, err)

	_, err = svc.GetAgent(ctx, other, a.ID)
	assert.ErrorIs(t, err, domain.ErrForbidden)
	_, err = svc.GetAgent(ctx, admin, a.ID)
	assert.NoError(t, err)

	mine, err := svc.ListAgents(ctx, other)
	require.NoError(t, err)
	assert.Empty(t, mine)

	next := domain.SpendingLimits{PerTransaction: decimal.NewFromInt(50), Daily: decimal.NewFromInt(60), Monthly: decimal.NewFromInt(70)}
	_, err = svc.UpdateLimits(ctx, other, a.ID, next)
	assert.ErrorIs(t, err, domain.ErrForbidden)

	updated, err := svc.UpdateLimits(ctx, owner, a.ID, next)
	require.NoError(t, err)
	assert.True(t, updated.SpendingLimits.Daily.Equal(decimal.NewFromInt(60)))

	_, err = svc.UpdateLimits(ctx, owner, a.ID, domain.SpendingLimits{PerTransaction: decimal.NewFromInt(50), Daily: decimal.NewFromInt(40), Monthly: decimal.NewFromInt(70)})
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestMerchantService_Lifecycle(t *testing.T) {
	ctx := context.Background()
	svc := NewMerchantService(memory.NewStore(), zap.NewNop())

	m, err := svc.Register(ctx, owner, RegisterMerchantRequest{Name: "Shop", Domain: " Shop.Example "})
	require.NoError(t, err)
	assert.Equal(t, domain.MerchantPending, m.Status)
	assert.Equal(t, "shop.example", m.Domain)

	_, err = svc.Register(ctx, other, RegisterMerchantRequest{Name: "Copy", Domain: "shop.example"})
	assert.ErrorIs(t, err, domain.ErrConflict)

	_, err = svc.Approve(ctx, owner, m.ID, 4)
	assert.ErrorIs(t, err, domain.ErrForbidden)
	_, err = svc.Approve(ctx, admin, m.ID, 6)
	assert.ErrorIs(t, err, domain.ErrValidation)

	approved, err := svc.Approve(ctx, admin, m.ID, 4)
	require.NoError(t, err)
	assert.Equal(t, domain.MerchantApproved, approved.Status)
	assert.Equal(t, 4, approved.TrustScore)
	assert.NotNil(t, approved.ApprovedAt)

	list, err := svc.List(ctx, "approved")
	require.NoError(t, err)
	assert.Len(t, list, 1)
	_, err = svc.List(ctx, "archived")
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, err = svc.Transactions(ctx, other, m.ID)
	assert.ErrorIs(t, err, domain.ErrForbidden)
	txs, err := svc.Transactions(ctx, owner, m.ID)
	require.NoError(t, err)
	assert.Empty(t, txs)
}

func TestTeamService(t *testing.T) {
	ctx := context.Background()
	st := memory.NewStore()
	agents := NewAgentService(st, policy.NewTierLimits(zap.NewNop()), zap.NewNop())
	svc := NewTeamService(st, zap.NewNop())

	a, err := agents.Register(ctx, owner, RegisterAgentRequest{Name: "bot", Tier: "silver", Balance: decimal.NewFromInt(10)})
	require.NoError(t, err)

	_, err = svc.Create(ctx, owner, CreateTeamRequest{Name: "x", Color: "red"})
	assert.ErrorIs(t, err, domain.ErrValidation)

	team, err := svc.Create(ctx, owner, CreateTeamRequest{Name: "  Buyers "})
	require.NoError(t, err)
	assert.Equal(t, "Buyers", team.Name)
	assert.Equal(t, domain.DefaultTeamColor, team.Color)

	for i := 0; i < 2; i++ {
		team, err = svc.AddMember(ctx, owner, team.ID, a.ID)
		require.NoError(t, err)
	}
	assert.Equal(t, []string{a.ID}, team.MemberIDs)

	_, err = svc.AddMember(ctx, owner, team.ID, "agent_missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	_, err = svc.Get(ctx, other, team.ID)
	assert.ErrorIs(t, err, domain.ErrForbidden)

	team, err = svc.RemoveMember(ctx, owner, team.ID, a.ID)
	require.NoError(t, err)
	assert.Empty(t, team.MemberIDs)

	require.NoError(t, svc.Delete(ctx, owner, team.ID))
	_, err = svc.Get(ctx, owner, team.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
