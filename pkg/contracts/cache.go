package contracts

import (
	"context"
	"time"
)

// Cache is a key/value store with per-key TTL.
// Implementations must be safe for concurrent use and must never fail a read:
// an expired, missing or unreachable entry is reported as absent.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool)

	// Set stores value under key. A ttl <= 0 keeps the entry until invalidated.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration)

	Invalidate(ctx context.Context, key string)
}
