package infra

import "fmt"

const (
	// RedisNamespace isolates the service's keys in a shared Redis.
	RedisNamespace = "agentspend"
)

// Sets (state)
const (
	RedisKeyRevokedAgents = RedisNamespace + ":agents:revoked_set"
	RedisKeyLockRevoked   = RedisNamespace + ":lock:warmup:revoked"
)

// Pub/Sub channels
const (
	// RedisChanKillSwitch carries "agent_id:true|false" revocation signals.
	RedisChanKillSwitch = RedisNamespace + ":agents:kill-switch-signal"
)

// Cache keys
const (
	RedisKeyNetworkGraph = RedisNamespace + ":cache:network-graph"
)

// NetworkGraphKey scopes the cached graph to the viewer.
func NetworkGraphKey(viewer string) string {
	return fmt.Sprintf("%s:%s", RedisKeyNetworkGraph, viewer)
}
