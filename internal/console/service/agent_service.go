package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/xela07ax/agentspend/internal/domain"
	"github.com/xela07ax/agentspend/internal/infra/signing"
	"github.com/xela07ax/agentspend/internal/policy"
	"github.com/xela07ax/agentspend/internal/repository"
	"go.uber.org/zap"
)

type AgentStore interface {
	repository.AgentRepository
	repository.TransactionRepository
	repository.UnitOfWork
}

type AgentService struct {
	repo   AgentStore
	limits *policy.TierLimits
	logger *zap.Logger
	now    func() time.Time
}

func NewAgentService(repo AgentStore, limits *policy.TierLimits, logger *zap.Logger) *AgentService {
	return &AgentService{
		repo:   repo,
		limits: limits,
		logger: logger.Named("agent-service"),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

type RegisterAgentRequest struct {
	Name              string                 `json:"name"`
	Tier              string                 `json:"tier"`
	FoundationalModel string                 `json:"foundational_model"`
	Balance           decimal.Decimal        `json:"balance"`
	SpendingLimits    *domain.SpendingLimits `json:"spending_limits,omitempty"`
}

// RegisteredAgent carries the private signing key. It is returned once at
// registration and never stored.
type RegisteredAgent struct {
	*domain.Agent
	SigningKey string `json:"signing_key"`
}

// AgentKey is the published half of an agent's signing key.
type AgentKey struct {
	AgentID   string `json:"agent_id"`
	Algorithm string `json:"algorithm"`
	PublicKey string `json:"public_key"`
}

func (s *AgentService) Register(ctx context.Context, actor domain.Actor, req RegisterAgentRequest) (*RegisteredAgent, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, domain.NewValidationError("name", "is required")
	}
	tier, err := domain.ParseTier(req.Tier)
	if err != nil {
		return nil, err
	}
	if !req.Balance.IsPositive() {
		return nil, domain.NewValidationError("balance", "must be positive")
	}

	limits := s.limits.Defaults(tier)
	if req.SpendingLimits != nil && !req.SpendingLimits.IsZero() {
		limits = *req.SpendingLimits
	}
	if err := limits.Validate(); err != nil {
		return nil, err
	}

	pub, priv, err := signing.GenerateKey()
	if err != nil {
		return nil, err
	}

	now := s.now()
	balance := req.Balance.Round(2)
	agent := &domain.Agent{
		ID:                domain.NewAgentID(name),
		Name:              name,
		OwnerUserID:       actor.UserID,
		Tier:              tier,
		Status:            domain.AgentActive,
		FoundationalModel: strings.TrimSpace(req.FoundationalModel),
		Balance:           balance,
		RemainingBalance:  balance,
		SpendingLimits:    limits,
		TotalVolume:       decimal.Zero,
		PublicKey:         pub,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if err := s.repo.CreateAgent(ctx, agent); err != nil {
		s.logger.Error("failed to register agent", zap.String("name", name), zap.Error(err))
		return nil, err
	}

	s.logger.Info("agent registered",
		zap.String("agent_id", agent.ID),
		zap.String("owner", actor.UserID),
		zap.String("tier", string(tier)))
	return &RegisteredAgent{Agent: agent, SigningKey: priv}, nil
}

// PublicKey is readable by any authenticated caller so merchants can check signatures.
func (s *AgentService) PublicKey(ctx context.Context, agentID string) (*AgentKey, error) {
	agent, err := s.repo.GetAgent(ctx, agentID)
	if err != nil {
		return nil, err
	}
	if agent.PublicKey == "" {
		return nil, fmt.Errorf("agent %s has no signing key: %w", agentID, domain.ErrNotFound)
	}
	return &AgentKey{AgentID: agent.ID, Algorithm: signing.Algorithm, PublicKey: agent.PublicKey}, nil
}

// GetAgent returns the agent if the actor owns it or is an admin.
func (s *AgentService) GetAgent(ctx context.Context, actor domain.Actor, agentID string) (*domain.Agent, error) {
	agent, err := s.repo.GetAgent(ctx, agentID)
	if err != nil {
		return nil, err
	}
	if !actor.IsAdmin() && agent.OwnerUserID != actor.UserID {
		return nil, fmt.Errorf("agent %s: %w", agentID, domain.ErrForbidden)
	}
	return agent, nil
}

// ListAgents is scoped to the caller's own agents unless the caller is an admin.
func (s *AgentService) ListAgents(ctx context.Context, actor domain.Actor) ([]*domain.Agent, error) {
	owner := actor.UserID
	if actor.IsAdmin() {
		owner = ""
	}
	agents, err := s.repo.ListAgents(ctx, owner)
	if err != nil {
		s.logger.Error("failed to list agents from repository", zap.Error(err))
		return nil, fmt.Errorf("service: could not fetch agents: %w", err)
	}
	if agents == nil {
		return []*domain.Agent{}, nil
	}
	return agents, nil
}

func (s *AgentService) UpdateLimits(ctx context.Context, actor domain.Actor, agentID string, limits domain.SpendingLimits) (*domain.Agent, error) {
	if err := limits.Validate(); err != nil {
		return nil, err
	}

	var updated *domain.Agent
	err := s.repo.WithAgent(ctx, agentID, func(tx repository.AgentTx) error {
		agent, err := tx.Agent(ctx)
		if err != nil {
			return err
		}
		if !actor.IsAdmin() && agent.OwnerUserID != actor.UserID {
			return fmt.Errorf("agent %s: %w", agentID, domain.ErrForbidden)
		}
		agent.SpendingLimits = domain.SpendingLimits{
			PerTransaction: limits.PerTransaction.Round(2),
			Daily:          limits.Daily.Round(2),
			Monthly:        limits.Monthly.Round(2),
		}
		agent.UpdatedAt = s.now()
		updated = agent
		return tx.UpdateAgent(ctx, agent)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("spending limits updated", zap.String("agent_id", agentID), zap.String("by", actor.UserID))
	return updated, nil
}

func (s *AgentService) Transactions(ctx context.Context, actor domain.Actor, agentID string) ([]*domain.Transaction, error) {
	if _, err := s.GetAgent(ctx, actor, agentID); err != nil {
		return nil, err
	}
	return s.repo.ListTransactions(ctx, domain.TransactionFilter{AgentID: agentID})
}
