package kv

import (
	"fmt"

	"github.com/redis/go-redis/v9"
)

// New selects a Store implementation per STORAGE_BACKEND. redisClient may
// be nil when backend is "memory".
func New(backend string, redisClient *redis.Client) (Store, error) {
	switch backend {
	case "", BackendMemory:
		return NewMemoryStore(), nil
	case BackendRedis:
		if redisClient == nil {
			return nil, fmt.Errorf("storage backend %q requires a redis client", BackendRedis)
		}
		return NewRedisStore(redisClient), nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", backend)
	}
}
