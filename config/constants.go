package config

import "time"

// Default network addresses used when Settings leaves a backend
// unconfigured.
const (
	DefaultRedisAddr = "localhost:6379"
	DefaultMongoURI  = "mongodb://localhost:27017"
	DefaultAdminAddr = ":9090"
)

// Redis key prefixes shared by the filter, queue, and proxy pool
// backends so they can share one Redis instance without key collisions.
const (
	DefaultRedisPrefix = "engine"
	RedisKeyDupefilter = "dupefilter"
	RedisKeyRequests   = "requests"
	RedisKeyProxies    = "proxies"
	RedisKeyStats      = "stats"
)

// Heartbeat and shutdown timing.
const (
	DefaultHeartbeatInterval = 5 * time.Millisecond
	DefaultShutdownTimeout   = 30 * time.Second
)

// BuildRedisKey namespaces a key under prefix, falling back to
// DefaultRedisPrefix when the caller left REDIS_PREFIX unset.
func BuildRedisKey(prefix string, parts ...string) string {
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	key := prefix
	for _, p := range parts {
		key += ":" + p
	}
	return key
}
