// Package killswitch keeps every instance's view of revoked agents current.
// The store is the source of truth; Redis carries the signal between instances.
package killswitch

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
	"github.com/xela07ax/agentspend/internal/infra"
	"go.uber.org/zap"
)

// RevokedSource lists revoked agents; the repository implements it.
type RevokedSource interface {
	GetRevokedAgentIDs(ctx context.Context) ([]string, error)
}

type Manager struct {
	mu      sync.RWMutex
	revoked map[string]struct{}

	rdb    *redis.Client
	source RevokedSource
	logger *zap.Logger
}

// NewManager accepts a nil rdb; the cache then only sees local revocations.
func NewManager(rdb *redis.Client, source RevokedSource, logger *zap.Logger) *Manager {
	return &Manager{
		revoked: make(map[string]struct{}),
		rdb:     rdb,
		source:  source,
		logger:  logger.Named("killswitch"),
	}
}

// Init reloads the cache from the store. While the store is unreachable the
// shared Redis set is merged in instead; revocation is terminal, so a stale
// set can only miss entries, never resurrect an agent.
func (m *Manager) Init(ctx context.Context) error {
	ids, err := m.source.GetRevokedAgentIDs(ctx)
	if err != nil {
		shared, sharedErr := sharedRevoked(ctx, m.rdb)
		if sharedErr != nil {
			return fmt.Errorf("killswitch: load revoked agents: %w", errors.Join(err, sharedErr))
		}
		m.logger.Warn("store unavailable, revocations loaded from redis",
			zap.Int("count", len(shared)), zap.Error(err))
		m.merge(shared)
		return nil
	}
	m.replace(ids)
	seedShared(ctx, m.rdb, m.logger, ids)
	return nil
}

func (m *Manager) merge(ids []string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range ids {
		m.revoked[id] = struct{}{}
	}
}

func (m *Manager) replace(ids []string) {
	next := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		next[id] = struct{}{}
	}
	m.mu.Lock()
	m.revoked = next
	m.mu.Unlock()
	m.logger.Info("revocation cache loaded", zap.Int("count", len(ids)))
}

func (m *Manager) set(agentID string, revoked bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if revoked {
		m.revoked[agentID] = struct{}{}
	} else {
		delete(m.revoked, agentID)
	}
}

func (m *Manager) IsRevoked(agentID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.revoked[agentID]
	return ok
}

// Revoke marks the agent locally and broadcasts the signal. The store must
// already hold the revoked status; a failed publish is only logged because
// every instance resyncs from the store on reconnect.
func (m *Manager) Revoke(ctx context.Context, agentID string) {
	m.set(agentID, true)
	if m.rdb == nil {
		return
	}

	pipe := m.rdb.TxPipeline()
	pipe.SAdd(ctx, infra.RedisKeyRevokedAgents, agentID)
	pipe.Publish(ctx, infra.RedisChanKillSwitch, encodeSignal(agentID, true))
	if _, err := pipe.Exec(ctx); err != nil {
		m.logger.Error("failed to publish revocation", zap.String("agent_id", agentID), zap.Error(err))
		return
	}
	m.logger.Warn("agent revoked", zap.String("agent_id", agentID))
}

// Listen blocks until ctx is done. Without Redis it returns immediately.
func (m *Manager) Listen(ctx context.Context) {
	if m.rdb == nil {
		return
	}
	m.logger.Info("kill-switch listener started", zap.String("chan", infra.RedisChanKillSwitch))
	ListenStateResilient(ctx, m.rdb, m.logger, infra.RedisChanKillSwitch,
		func() error { return m.Init(ctx) },
		func(id string, revoked bool) {
			m.logger.Info("kill-switch signal", zap.String("agent_id", id), zap.Bool("revoked", revoked))
			m.set(id, revoked)
		},
	)
}
