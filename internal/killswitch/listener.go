package killswitch

import (
	"context"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// ParseSignal decodes "agent_id:true|false". "on" is accepted as true.
func ParseSignal(payload string) (agentID string, revoked bool, ok bool) {
	i := strings.LastIndexByte(payload, ':')
	if i <= 0 || i == len(payload)-1 {
		return "", false, false
	}
	state := payload[i+1:]
	return payload[:i], state == "true" || state == "on", true
}

func encodeSignal(agentID string, revoked bool) string {
	if revoked {
		return agentID + ":true"
	}
	return agentID + ":false"
}

// ListenStateResilient keeps a subscription alive across Redis reconnects.
// onReconnect runs after every successful subscribe so missed signals are
// recovered from the source of truth.
func ListenStateResilient(
	ctx context.Context,
	rdb *redis.Client,
	logger *zap.Logger,
	channel string,
	onReconnect func() error,
	onMessage func(id string, status bool),
) {
	for {
		pubsub := rdb.Subscribe(ctx, channel)

		if _, err := pubsub.Receive(ctx); err != nil {
			pubsub.Close()
			if ctx.Err() != nil {
				return
			}
			logger.Error("failed to subscribe", zap.String("chan", channel), zap.Error(err))
			if !sleepCtx(ctx, 5*time.Second) {
				return
			}
			continue
		}

		if err := onReconnect(); err != nil {
			logger.Error("sync failed on reconnect", zap.Error(err))
		}

		ch := pubsub.Channel()

	loop:
		for {
			select {
			case <-ctx.Done():
				pubsub.Close()
				return
			case msg, ok := <-ch:
				if !ok {
					break loop
				}
				agentID, status, valid := ParseSignal(msg.Payload)
				if !valid {
					logger.Error("invalid signal format", zap.String("payload", msg.Payload))
					continue
				}
				onMessage(agentID, status)
			}
		}

		pubsub.Close()
		if !sleepCtx(ctx, time.Second) {
			return
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
