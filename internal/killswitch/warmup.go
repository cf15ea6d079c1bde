package killswitch

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/xela07ax/agentspend/internal/infra"
	"go.uber.org/zap"
)

const seedLockTTL = 30 * time.Second

var errNoSharedSet = errors.New("no shared revocation set without redis")

// seedShared copies the store's revocations into the shared Redis set. Only the
// instance holding the seed lock writes; the set only ever grows.
func seedShared(ctx context.Context, rdb *redis.Client, logger *zap.Logger, ids []string) {
	if rdb == nil || len(ids) == 0 {
		return
	}
	won, err := rdb.SetNX(ctx, infra.RedisKeyLockRevoked, "seeding", seedLockTTL).Result()
	if err != nil {
		logger.Warn("could not take revocation seed lock", zap.Error(err))
		return
	}
	if !won {
		return
	}

	members := make([]interface{}, len(ids))
	for i, id := range ids {
		members[i] = id
	}
	added, err := rdb.SAdd(ctx, infra.RedisKeyRevokedAgents, members...).Result()
	if err != nil {
		logger.Warn("failed to seed shared revocation set", zap.Error(err))
		return
	}
	if added > 0 {
		logger.Info("shared revocation set seeded from store", zap.Int64("added", added))
	}
}

// sharedRevoked reads the shared set that every Revoke also writes to.
func sharedRevoked(ctx context.Context, rdb *redis.Client) ([]string, error) {
	if rdb == nil {
		return nil, errNoSharedSet
	}
	return rdb.SMembers(ctx, infra.RedisKeyRevokedAgents).Result()
}
