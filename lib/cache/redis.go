package cache

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis implements Cache on a redis server.
type Redis struct {
	cli *redis.Client
}

// NewRedis returns a redis-backed cache for the given url (ie. redis://localhost:6379/0).
func NewRedis(url string) (*Redis, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, err
	}

	return &Redis{cli: redis.NewClient(opt)}, nil
}

func (r *Redis) Close() error { return r.cli.Close() }

const keyPrefix = "dapps:stats:"

// GetStats returns the cached payload for key, with ok false on a miss. Redis errors are
// swallowed into a miss: the cache is an accelerator, never a dependency.
func (r *Redis) GetStats(ctx context.Context, key string) ([]byte, bool, error) {
	b, err := r.cli.Get(ctx, keyPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, nil
	}

	return b, true, nil
}

// SetStats stores the payload under key for ttl.
func (r *Redis) SetStats(ctx context.Context, key string, payload []byte, ttl time.Duration) error {
	return r.cli.Set(ctx, keyPrefix+key, payload, ttl).Err()
}
