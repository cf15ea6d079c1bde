package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/xela07ax/agentspend/internal/domain"
	"github.com/xela07ax/agentspend/internal/repository"
)

func (s *Store) agentLock(agentID string) *sync.Mutex {
	s.lockMu.Lock()
	defer s.lockMu.Unlock()
	l, ok := s.agentLocks[agentID]
	if !ok {
		l = &sync.Mutex{}
		s.agentLocks[agentID] = l
	}
	return l
}

// WithAgent holds the agent's mutex for the whole of fn. Writes are staged
// on the tx and applied in one step when fn succeeds.
func (s *Store) WithAgent(ctx context.Context, agentID string, fn func(tx repository.AgentTx) error) error {
	l := s.agentLock(agentID)
	l.Lock()
	defer l.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	agent, err := s.GetAgent(ctx, agentID)
	if err != nil {
		return err
	}

	tx := &agentTx{
		s:       s,
		agent:   agent,
		txs:     make(map[string]*domain.Transaction),
		blocks:  make(map[string]*domain.BlockRecord),
		revenue: make(map[string]decimal.Decimal),
		nonces:  make(map[string]time.Time),
	}
	if err := fn(tx); err != nil {
		return err
	}
	tx.commit()
	return nil
}

type agentTx struct {
	s          *Store
	agent      *domain.Agent
	agentDirty bool

	txs       map[string]*domain.Transaction
	newTxs    []string
	blocks    map[string]*domain.BlockRecord
	newBlocks []string
	revenue   map[string]decimal.Decimal
	nonces    map[string]time.Time
}

func (t *agentTx) commit() {
	s := t.s
	s.mu.Lock()
	defer s.mu.Unlock()

	if t.agentDirty {
		cp := *t.agent
		s.agents[cp.ID] = &cp
	}
	for id, tr := range t.txs {
		s.txs[id] = cloneTx(tr)
	}
	s.txOrder = append(s.txOrder, t.newTxs...)
	for id, b := range t.blocks {
		cp := *b
		s.blocks[id] = &cp
	}
	s.blockOrder = append(s.blockOrder, t.newBlocks...)
	if len(t.nonces) > 0 {
		used, ok := s.nonces[t.agent.ID]
		if !ok {
			used = make(map[string]time.Time, len(t.nonces))
			s.nonces[t.agent.ID] = used
		}
		for n, at := range t.nonces {
			used[n] = at
		}
	}
	for id, delta := range t.revenue {
		if m, ok := s.merchants[id]; ok {
			m.TotalRevenue = decimal.Max(decimal.Zero, m.TotalRevenue.Add(delta))
		}
	}
}

func (t *agentTx) Agent(context.Context) (*domain.Agent, error) {
	cp := *t.agent
	return &cp, nil
}

func (t *agentTx) UpdateAgent(_ context.Context, a *domain.Agent) error {
	if a.ID != t.agent.ID {
		return fmt.Errorf("memory: agent %s is not locked by this section", a.ID)
	}
	cp := *a
	t.agent = &cp
	t.agentDirty = true
	return nil
}

func (t *agentTx) Merchant(ctx context.Context, id string) (*domain.Merchant, error) {
	return t.s.GetMerchant(ctx, id)
}

func (t *agentTx) UpdateMerchantRevenue(_ context.Context, id string, delta decimal.Decimal) error {
	t.revenue[id] = t.revenue[id].Add(delta)
	return nil
}

func (t *agentTx) HasActiveBlock(_ context.Context, merchantID string) (bool, error) {
	t.s.mu.RLock()
	defer t.s.mu.RUnlock()
	return t.s.hasActiveBlockLocked(t.agent.ID, merchantID, t.blocks), nil
}

func (t *agentTx) transactions() []*domain.Transaction {
	t.s.mu.RLock()
	defer t.s.mu.RUnlock()
	return t.s.agentTxsLocked(t.agent.ID, t.txs)
}

func (t *agentTx) Exposure(_ context.Context, since time.Time) (decimal.Decimal, error) {
	sum := decimal.Zero
	for _, tr := range t.transactions() {
		if tr.Refunded || tr.CreatedAt.Before(since) {
			continue
		}
		if tr.Status == domain.TxPending || tr.Status == domain.TxCompleted {
			sum = sum.Add(tr.Amount)
		}
	}
	return sum, nil
}

func (t *agentTx) PendingTotal(context.Context) (decimal.Decimal, error) {
	sum := decimal.Zero
	for _, tr := range t.transactions() {
		if tr.Status == domain.TxPending {
			sum = sum.Add(tr.Amount)
		}
	}
	return sum, nil
}

func (t *agentTx) CountSince(_ context.Context, since time.Time) (int, error) {
	n := 0
	for _, tr := range t.transactions() {
		if !tr.CreatedAt.Before(since) {
			n++
		}
	}
	return n, nil
}

func (t *agentTx) ConsumeNonce(_ context.Context, nonce string, at time.Time) (bool, error) {
	if _, ok := t.nonces[nonce]; ok {
		return false, nil
	}
	t.s.mu.RLock()
	_, used := t.s.nonces[t.agent.ID][nonce]
	t.s.mu.RUnlock()
	if used {
		return false, nil
	}
	t.nonces[nonce] = at
	return true, nil
}

func (t *agentTx) History(_ context.Context, now time.Time) (domain.AgentHistory, error) {
	return history(t.transactions(), now), nil
}

func (t *agentTx) InsertTransaction(_ context.Context, tr *domain.Transaction) error {
	if tr.AgentID != t.agent.ID {
		return fmt.Errorf("memory: transaction %s belongs to another agent", tr.ID)
	}
	t.txs[tr.ID] = cloneTx(tr)
	t.newTxs = append(t.newTxs, tr.ID)
	return nil
}

func (t *agentTx) Transaction(ctx context.Context, id string) (*domain.Transaction, error) {
	if tr, ok := t.txs[id]; ok {
		return cloneTx(tr), nil
	}
	tr, err := t.s.GetTransaction(ctx, id)
	if err != nil {
		return nil, err
	}
	if tr.AgentID != t.agent.ID {
		return nil, notFound("transaction", id)
	}
	return tr, nil
}

func (t *agentTx) UpdateTransaction(ctx context.Context, tr *domain.Transaction) error {
	if _, err := t.Transaction(ctx, tr.ID); err != nil {
		return err
	}
	t.txs[tr.ID] = cloneTx(tr)
	return nil
}

func (t *agentTx) PendingTransactions(context.Context) ([]*domain.Transaction, error) {
	out := make([]*domain.Transaction, 0)
	for _, tr := range t.transactions() {
		if tr.Status == domain.TxPending {
			out = append(out, cloneTx(tr))
		}
	}
	return out, nil
}

func (t *agentTx) BlockRecord(ctx context.Context, id string) (*domain.BlockRecord, error) {
	if b, ok := t.blocks[id]; ok {
		cp := *b
		return &cp, nil
	}
	b, err := t.s.GetBlockRecord(ctx, id)
	if err != nil {
		return nil, err
	}
	if b.AgentID != t.agent.ID {
		return nil, notFound("block record", id)
	}
	return b, nil
}

func (t *agentTx) InsertBlockRecord(_ context.Context, b *domain.BlockRecord) error {
	if b.AgentID != t.agent.ID {
		return fmt.Errorf("memory: block record %s belongs to another agent", b.ID)
	}
	cp := *b
	t.blocks[b.ID] = &cp
	t.newBlocks = append(t.newBlocks, b.ID)
	return nil
}

func (t *agentTx) ResolveBlockRecord(ctx context.Context, b *domain.BlockRecord) error {
	current, err := t.BlockRecord(ctx, b.ID)
	if err != nil {
		return err
	}
	if current.Status != domain.BlockPending {
		return fmt.Errorf("memory: block record %s: %w", b.ID, domain.ErrAlreadyResolved)
	}
	cp := *b
	t.blocks[b.ID] = &cp
	return nil
}
