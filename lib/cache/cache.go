// Package cache defines the response cache used in front of the stats read path.
package cache

import (
	"context"
	"time"
)

// Cache stores rendered stats payloads under a request-derived key for a short TTL. A nil Cache
// is valid and disables caching.
type Cache interface {
	GetStats(ctx context.Context, key string) ([]byte, bool, error)
	SetStats(ctx context.Context, key string, payload []byte, ttl time.Duration) error
	Close() error
}
