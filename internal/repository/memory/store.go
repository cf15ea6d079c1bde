// Package memory is a process-local Store used by tests and by storage.driver=memory.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/xela07ax/agentspend/internal/audit"
	"github.com/xela07ax/agentspend/internal/domain"
	"github.com/xela07ax/agentspend/internal/repository"
)

var _ repository.Store = (*Store)(nil)

type Store struct {
	mu sync.RWMutex

	agents     map[string]*domain.Agent
	merchants  map[string]*domain.Merchant
	txs        map[string]*domain.Transaction
	txOrder    []string
	blocks     map[string]*domain.BlockRecord
	blockOrder []string
	teams      map[string]*domain.Team
	teamOrder  []string
	sessions   map[string]*domain.EvaluationSession
	sessOrder  []string
	users      map[string]*domain.User
	nonces     map[string]map[string]time.Time // agent id -> nonce -> first use
	events     []audit.Event

	lockMu     sync.Mutex
	agentLocks map[string]*sync.Mutex
}

func NewStore() *Store {
	return &Store{
		agents:     make(map[string]*domain.Agent),
		merchants:  make(map[string]*domain.Merchant),
		txs:        make(map[string]*domain.Transaction),
		blocks:     make(map[string]*domain.BlockRecord),
		teams:      make(map[string]*domain.Team),
		sessions:   make(map[string]*domain.EvaluationSession),
		users:      make(map[string]*domain.User),
		nonces:     make(map[string]map[string]time.Time),
		agentLocks: make(map[string]*sync.Mutex),
	}
}

func (s *Store) Ping(context.Context) error { return nil }
func (s *Store) Close()                     {}

func notFound(what, id string) error {
	return fmt.Errorf("memory: %s %s: %w", what, id, domain.ErrNotFound)
}

// --- agents ---

func (s *Store) CreateAgent(_ context.Context, a *domain.Agent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.agents[a.ID]; ok {
		return fmt.Errorf("memory: agent %s already exists: %w", a.ID, domain.ErrConflict)
	}
	cp := *a
	s.agents[a.ID] = &cp
	return nil
}

func (s *Store) GetAgent(_ context.Context, id string) (*domain.Agent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.agents[id]
	if !ok {
		return nil, notFound("agent", id)
	}
	cp := *a
	return &cp, nil
}

func (s *Store) ListAgents(_ context.Context, ownerID string) ([]*domain.Agent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*domain.Agent, 0, len(s.agents))
	for _, a := range s.agents {
		if ownerID != "" && a.OwnerUserID != ownerID {
			continue
		}
		cp := *a
		out = append(out, &cp)
	}
	sortAgents(out)
	return out, nil
}

func (s *Store) GetAgentsByIDs(_ context.Context, ids []string) ([]*domain.Agent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*domain.Agent, 0, len(ids))
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true
		a, ok := s.agents[id]
		if !ok {
			return nil, notFound("agent", id)
		}
		cp := *a
		out = append(out, &cp)
	}
	sortAgents(out)
	return out, nil
}

func (s *Store) GetRevokedAgentIDs(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0)
	for id, a := range s.agents {
		if a.Status == domain.AgentRevoked {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *Store) AgentHistory(_ context.Context, agentID string, now time.Time) (domain.AgentHistory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return history(s.agentTxsLocked(agentID, nil), now), nil
}

// sortAgents orders by registration, then id.
func sortAgents(list []*domain.Agent) {
	sort.SliceStable(list, func(i, j int) bool {
		if !list[i].CreatedAt.Equal(list[j].CreatedAt) {
			return list[i].CreatedAt.Before(list[j].CreatedAt)
		}
		return list[i].ID < list[j].ID
	})
}

// --- merchants ---

func (s *Store) CreateMerchant(_ context.Context, m *domain.Merchant) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.merchants {
		if existing.Domain == m.Domain {
			return fmt.Errorf("memory: merchant domain %s already registered: %w", m.Domain, domain.ErrConflict)
		}
	}
	cp := *m
	s.merchants[m.ID] = &cp
	return nil
}

func (s *Store) GetMerchant(_ context.Context, id string) (*domain.Merchant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.merchants[id]
	if !ok {
		return nil, notFound("merchant", id)
	}
	cp := *m
	return &cp, nil
}

func (s *Store) ListMerchants(_ context.Context, status domain.MerchantStatus) ([]*domain.Merchant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*domain.Merchant, 0, len(s.merchants))
	for _, m := range s.merchants {
		if status != "" && m.Status != status {
			continue
		}
		cp := *m
		out = append(out, &cp)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *Store) UpdateMerchantStatus(_ context.Context, id string, status domain.MerchantStatus, trust int, at time.Time) (*domain.Merchant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.merchants[id]
	if !ok {
		return nil, notFound("merchant", id)
	}
	m.Status = status
	if status == domain.MerchantApproved {
		m.TrustScore = trust
		m.ApprovedAt = &at
	}
	cp := *m
	return &cp, nil
}

// --- transactions ---

func cloneTx(t *domain.Transaction) *domain.Transaction {
	cp := *t
	cp.Items = append([]string(nil), t.Items...)
	return &cp
}

func (s *Store) GetTransaction(_ context.Context, id string) (*domain.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.txs[id]
	if !ok {
		return nil, notFound("transaction", id)
	}
	cp := cloneTx(t)
	cp.IsBlocked = s.hasActiveBlockLocked(t.AgentID, t.MerchantID, nil)
	return cp, nil
}

func (s *Store) ListTransactions(_ context.Context, f domain.TransactionFilter) ([]*domain.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*domain.Transaction, 0)
	for i := len(s.txOrder) - 1; i >= 0; i-- {
		t := s.txs[s.txOrder[i]]
		if f.AgentID != "" && t.AgentID != f.AgentID {
			continue
		}
		if f.MerchantID != "" && t.MerchantID != f.MerchantID {
			continue
		}
		if f.Status != "" && t.Status != f.Status {
			continue
		}
		cp := cloneTx(t)
		cp.IsBlocked = s.hasActiveBlockLocked(t.AgentID, t.MerchantID, nil)
		out = append(out, cp)
		if f.Limit > 0 && len(out) >= f.Limit {
			break
		}
	}
	return out, nil
}

// agentTxsLocked merges stored transactions of the agent with staged ones.
func (s *Store) agentTxsLocked(agentID string, staged map[string]*domain.Transaction) []*domain.Transaction {
	out := make([]*domain.Transaction, 0)
	for _, id := range s.txOrder {
		t := s.txs[id]
		if t.AgentID != agentID {
			continue
		}
		if st, ok := staged[id]; ok {
			t = st
		}
		out = append(out, t)
	}
	for id, t := range staged {
		if _, stored := s.txs[id]; !stored {
			out = append(out, t)
		}
	}
	return out
}

func history(txs []*domain.Transaction, now time.Time) domain.AgentHistory {
	var h domain.AgentHistory
	sum := decimal.Zero
	hourAgo := now.Add(-time.Hour)
	for _, t := range txs {
		if t.Status != domain.TxCompleted || t.Refunded {
			continue
		}
		h.CompletedCount++
		sum = sum.Add(t.Amount)
		if t.CompletedAt != nil && !t.CompletedAt.Before(hourAgo) {
			h.RecentCount++
		}
	}
	if h.CompletedCount > 0 {
		h.AverageAmount = sum.Div(decimal.NewFromInt(h.CompletedCount)).Round(2)
	}
	return h
}

// --- blocks ---

func (s *Store) GetBlockRecord(_ context.Context, id string) (*domain.BlockRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.blocks[id]
	if !ok {
		return nil, notFound("block record", id)
	}
	cp := *b
	return &cp, nil
}

func (s *Store) ListBlockRecords(_ context.Context, f domain.BlockFilter) ([]*domain.BlockRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*domain.BlockRecord, 0)
	for i := len(s.blockOrder) - 1; i >= 0; i-- {
		b := s.blocks[s.blockOrder[i]]
		if !f.Match(b) {
			continue
		}
		cp := *b
		out = append(out, &cp)
	}
	return out, nil
}

func (s *Store) BlockedMerchantIDs(_ context.Context, agentID string) (map[string]bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]bool)
	for _, b := range s.blocks {
		if b.AgentID == agentID && b.IsActiveSimple() {
			out[b.MerchantID] = true
		}
	}
	return out, nil
}

func (s *Store) hasActiveBlockLocked(agentID, merchantID string, staged map[string]*domain.BlockRecord) bool {
	for _, b := range s.blocks {
		if b.AgentID == agentID && b.MerchantID == merchantID && b.IsActiveSimple() {
			return true
		}
	}
	for _, b := range staged {
		if b.AgentID == agentID && b.MerchantID == merchantID && b.IsActiveSimple() {
			return true
		}
	}
	return false
}

// --- teams ---

func cloneTeam(t *domain.Team) *domain.Team {
	cp := *t
	cp.MemberIDs = append([]string{}, t.MemberIDs...)
	return &cp
}

func (s *Store) CreateTeam(_ context.Context, t *domain.Team) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.teams[t.ID] = cloneTeam(t)
	s.teamOrder = append(s.teamOrder, t.ID)
	return nil
}

func (s *Store) GetTeam(_ context.Context, id string) (*domain.Team, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.teams[id]
	if !ok {
		return nil, notFound("team", id)
	}
	return cloneTeam(t), nil
}

func (s *Store) ListTeams(_ context.Context, ownerID string) ([]*domain.Team, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*domain.Team, 0, len(s.teams))
	for _, id := range s.teamOrder {
		t, ok := s.teams[id]
		if !ok || (ownerID != "" && t.OwnerUserID != ownerID) {
			continue
		}
		out = append(out, cloneTeam(t))
	}
	return out, nil
}

func (s *Store) DeleteTeam(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.teams[id]; !ok {
		return notFound("team", id)
	}
	delete(s.teams, id)
	return nil
}

func (s *Store) AddTeamMember(_ context.Context, teamID, agentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.teams[teamID]
	if !ok {
		return notFound("team", teamID)
	}
	if _, ok := s.agents[agentID]; !ok {
		return notFound("agent", agentID)
	}
	if !t.HasMember(agentID) {
		t.MemberIDs = append(t.MemberIDs, agentID)
	}
	return nil
}

func (s *Store) RemoveTeamMember(_ context.Context, teamID, agentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.teams[teamID]
	if !ok {
		return notFound("team", teamID)
	}
	for i, id := range t.MemberIDs {
		if id == agentID {
			t.MemberIDs = append(t.MemberIDs[:i], t.MemberIDs[i+1:]...)
			return nil
		}
	}
	return notFound("team member", agentID)
}

// --- evaluation sessions ---

func cloneSession(s *domain.EvaluationSession) *domain.EvaluationSession {
	cp := *s
	cp.Evaluations = append([]domain.AgentEvaluation(nil), s.Evaluations...)
	cp.Scope.AgentIDs = append([]string(nil), s.Scope.AgentIDs...)
	return &cp
}

func (s *Store) CreateEvaluationSession(_ context.Context, sess *domain.EvaluationSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[sess.ID] = cloneSession(sess)
	s.sessOrder = append(s.sessOrder, sess.ID)
	return nil
}

func (s *Store) GetEvaluationSession(_ context.Context, id string) (*domain.EvaluationSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, notFound("evaluation session", id)
	}
	return cloneSession(sess), nil
}

func (s *Store) UpdateSelection(_ context.Context, sess *domain.EvaluationSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.sessions[sess.ID]
	if !ok {
		return notFound("evaluation session", sess.ID)
	}
	if stored.SelectedAgentID != "" && stored.SelectedAgentID != sess.SelectedAgentID {
		return fmt.Errorf("memory: session %s: %w", sess.ID, domain.ErrAlreadyResolved)
	}
	s.sessions[sess.ID] = cloneSession(sess)
	return nil
}

func (s *Store) ListTeamSessions(_ context.Context, teamID string) ([]*domain.EvaluationSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*domain.EvaluationSession, 0)
	for i := len(s.sessOrder) - 1; i >= 0; i-- {
		sess := s.sessions[s.sessOrder[i]]
		if sess.Scope.Kind == domain.ScopeTeam && sess.Scope.TeamID == teamID {
			out = append(out, cloneSession(sess))
		}
	}
	return out, nil
}

func (s *Store) WinCounts(_ context.Context) (map[string]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]int64)
	for _, sess := range s.sessions {
		if sess.WinnerAgentID != "" {
			out[sess.WinnerAgentID]++
		}
	}
	return out, nil
}

// --- users ---

func (s *Store) GetUserByUsername(_ context.Context, username string) (*domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[username]
	if !ok {
		return nil, notFound("user", username)
	}
	cp := *u
	return &cp, nil
}

func (s *Store) CreateUser(_ context.Context, u *domain.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[u.Username]; ok {
		return fmt.Errorf("memory: user %s already exists: %w", u.Username, domain.ErrConflict)
	}
	cp := *u
	s.users[u.Username] = &cp
	return nil
}

// --- audit ---

func (s *Store) WriteBatch(_ context.Context, events []audit.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, events...)
	return nil
}

// AuditEvents returns a copy of everything the journal has flushed.
func (s *Store) AuditEvents() []audit.Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]audit.Event(nil), s.events...)
}
