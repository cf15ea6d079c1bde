// Package repository declares the storage contract shared by the postgres and memory backends.
package repository

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"github.com/xela07ax/agentspend/internal/audit"
	"github.com/xela07ax/agentspend/internal/domain"
)

type AgentRepository interface {
	CreateAgent(ctx context.Context, a *domain.Agent) error
	GetAgent(ctx context.Context, id string) (*domain.Agent, error)
	// ListAgents returns agents of one owner, or all agents when ownerID is empty.
	ListAgents(ctx context.Context, ownerID string) ([]*domain.Agent, error)
	GetAgentsByIDs(ctx context.Context, ids []string) ([]*domain.Agent, error)
	GetRevokedAgentIDs(ctx context.Context) ([]string, error)
	AgentHistory(ctx context.Context, agentID string, now time.Time) (domain.AgentHistory, error)
}

type MerchantRepository interface {
	CreateMerchant(ctx context.Context, m *domain.Merchant) error
	GetMerchant(ctx context.Context, id string) (*domain.Merchant, error)
	ListMerchants(ctx context.Context, status domain.MerchantStatus) ([]*domain.Merchant, error)
	UpdateMerchantStatus(ctx context.Context, id string, status domain.MerchantStatus, trust int, at time.Time) (*domain.Merchant, error)
}

type TransactionRepository interface {
	GetTransaction(ctx context.Context, id string) (*domain.Transaction, error)
	ListTransactions(ctx context.Context, f domain.TransactionFilter) ([]*domain.Transaction, error)
}

type BlockRepository interface {
	GetBlockRecord(ctx context.Context, id string) (*domain.BlockRecord, error)
	// ListBlockRecords returns matching records newest first.
	ListBlockRecords(ctx context.Context, f domain.BlockFilter) ([]*domain.BlockRecord, error)
	// BlockedMerchantIDs returns merchants holding an active simple block on the agent.
	BlockedMerchantIDs(ctx context.Context, agentID string) (map[string]bool, error)
}

type TeamRepository interface {
	CreateTeam(ctx context.Context, t *domain.Team) error
	GetTeam(ctx context.Context, id string) (*domain.Team, error)
	ListTeams(ctx context.Context, ownerID string) ([]*domain.Team, error)
	DeleteTeam(ctx context.Context, id string) error
	AddTeamMember(ctx context.Context, teamID, agentID string) error
	RemoveTeamMember(ctx context.Context, teamID, agentID string) error
}

type EvaluationRepository interface {
	CreateEvaluationSession(ctx context.Context, s *domain.EvaluationSession) error
	GetEvaluationSession(ctx context.Context, id string) (*domain.EvaluationSession, error)
	// UpdateSelection persists the result of EvaluationSession.MarkSelected.
	UpdateSelection(ctx context.Context, s *domain.EvaluationSession) error
	ListTeamSessions(ctx context.Context, teamID string) ([]*domain.EvaluationSession, error)
	WinCounts(ctx context.Context) (map[string]int64, error)
}

type UserRepository interface {
	GetUserByUsername(ctx context.Context, username string) (*domain.User, error)
	CreateUser(ctx context.Context, u *domain.User) error
}

// AgentTx is the view of the store inside one agent's atomic section.
// Every read reflects writes made earlier in the same section.
type AgentTx interface {
	// Agent returns the locked agent row.
	Agent(ctx context.Context) (*domain.Agent, error)
	UpdateAgent(ctx context.Context, a *domain.Agent) error

	Merchant(ctx context.Context, id string) (*domain.Merchant, error)
	UpdateMerchantRevenue(ctx context.Context, id string, delta decimal.Decimal) error

	HasActiveBlock(ctx context.Context, merchantID string) (bool, error)
	// Exposure sums completed and pending amounts created since the given time.
	Exposure(ctx context.Context, since time.Time) (decimal.Decimal, error)
	// PendingTotal sums amounts reserved by pending transactions.
	PendingTotal(ctx context.Context) (decimal.Decimal, error)
	// CountSince counts the agent's recorded transactions created at or after since.
	CountSince(ctx context.Context, since time.Time) (int, error)
	// ConsumeNonce records nonce for the agent and reports false if it was already used.
	ConsumeNonce(ctx context.Context, nonce string, at time.Time) (bool, error)
	History(ctx context.Context, now time.Time) (domain.AgentHistory, error)

	InsertTransaction(ctx context.Context, t *domain.Transaction) error
	Transaction(ctx context.Context, id string) (*domain.Transaction, error)
	UpdateTransaction(ctx context.Context, t *domain.Transaction) error
	PendingTransactions(ctx context.Context) ([]*domain.Transaction, error)

	BlockRecord(ctx context.Context, id string) (*domain.BlockRecord, error)
	InsertBlockRecord(ctx context.Context, b *domain.BlockRecord) error
	// ResolveBlockRecord writes a decision; it fails with ErrAlreadyResolved
	// unless the stored record is still pending.
	ResolveBlockRecord(ctx context.Context, b *domain.BlockRecord) error
}

// UnitOfWork serializes all mutations of one agent.
type UnitOfWork interface {
	// WithAgent runs fn with the agent locked. Writes commit only if fn returns nil.
	WithAgent(ctx context.Context, agentID string, fn func(tx AgentTx) error) error
}

// Store is the complete storage contract.
type Store interface {
	AgentRepository
	MerchantRepository
	TransactionRepository
	BlockRepository
	TeamRepository
	EvaluationRepository
	UserRepository
	UnitOfWork
	audit.StorageInterface

	Ping(ctx context.Context) error
	Close()
}
