package network

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/xela07ax/agentspend/internal/domain"
	"github.com/xela07ax/agentspend/internal/infra"
	"go.uber.org/zap"
)

// GraphBuilder is satisfied by *Builder.
type GraphBuilder interface {
	Build(ctx context.Context, viewer domain.Actor) (*domain.NetworkGraph, error)
}

// CachedBuilder keeps built graphs in Redis for a short TTL. A nil client
// turns it into a pass-through; Redis failures fall back to a fresh build.
type CachedBuilder struct {
	next   GraphBuilder
	rdb    *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

func NewCachedBuilder(next GraphBuilder, rdb *redis.Client, ttl time.Duration, logger *zap.Logger) *CachedBuilder {
	return &CachedBuilder{next: next, rdb: rdb, ttl: ttl, logger: logger.Named("network")}
}

func cacheKey(viewer domain.Actor) string {
	if viewer.IsAdmin() {
		return infra.NetworkGraphKey("admin")
	}
	return infra.NetworkGraphKey(viewer.UserID)
}

func (c *CachedBuilder) Build(ctx context.Context, viewer domain.Actor) (*domain.NetworkGraph, error) {
	if c.rdb == nil || c.ttl <= 0 {
		return c.next.Build(ctx, viewer)
	}

	key := cacheKey(viewer)
	data, err := c.rdb.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var g domain.NetworkGraph
		if err := json.Unmarshal(data, &g); err == nil {
			return &g, nil
		}
		c.logger.Warn("dropping undecodable cached graph", zap.String("key", key))
	case !errors.Is(err, redis.Nil):
		c.logger.Warn("graph cache read failed", zap.String("key", key), zap.Error(err))
	}

	g, err := c.next.Build(ctx, viewer)
	if err != nil {
		return nil, err
	}
	if data, err := json.Marshal(g); err == nil {
		if err := c.rdb.Set(ctx, key, data, c.ttl).Err(); err != nil {
			c.logger.Warn("graph cache write failed", zap.String("key", key), zap.Error(err))
		}
	}
	return g, nil
}
