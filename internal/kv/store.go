// Package kv implements the ephemeral key-value store: session state, the
// idempotency cache, dedupe keys, rate-limit counters, and paginated-list
// snapshots. Every key carries a TTL; nothing here is durable.
package kv

import (
	"context"
	"time"
)

// Store is the backend-agnostic KV contract. Both implementations
// (Memory, Redis) satisfy the exact same semantics so the dialogue engine,
// committer, and webhook dispatcher never know which one is behind the
// interface.
type Store interface {
	// Get returns the stored value and whether the key was present
	// (and not expired).
	Get(ctx context.Context, key string) (string, bool, error)

	// Set stores value under key with the given TTL. ttl <= 0 means no
	// expiry.
	Set(ctx context.Context, key, value string, ttl time.Duration) error

	// SetNX stores value under key only if the key is absent, returning
	// whether it was actually set. Used for advisory locks and
	// first-seen dedupe markers.
	SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error)

	// Delete removes a key unconditionally.
	Delete(ctx context.Context, key string) error

	// DeletePrefix removes every key starting with prefix. Used to purge
	// the hours cache for a shop+date across every service key.
	DeletePrefix(ctx context.Context, prefix string) error

	// Incr increments a counter key by 1, creating it with the given TTL
	// on first use, and returns the post-increment value. Used for
	// fixed-window-per-minute outbound rate limiting.
	Incr(ctx context.Context, key string, ttl time.Duration) (int64, error)

	// SlidingWindowAllow implements a sliding-window-log rate limit:
	// records "now" under key and reports whether the number of records
	// within the trailing window is within limit. Used for the
	// per-tenant inbound webhook rate limit.
	SlidingWindowAllow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// Backend names accepted by STORAGE_BACKEND.
const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
)
