package sweep

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrLeaseHeld means another replica owns the current sweep interval.
var ErrLeaseHeld = errors.New("sweep lease held by another replica")

// Lease decides whether this process may sweep now.
type Lease interface {
	Acquire(ctx context.Context) (bool, error)
}

type localLease struct{}

func (localLease) Acquire(context.Context) (bool, error) { return true, nil }

// RedisLease grants at most one replica per TTL window. The key is never
// released early: it expires, which opens the next window.
type RedisLease struct {
	client *redis.Client
	key    string
	ttl    time.Duration
	owner  string
}

// NewRedisLease returns a lease on key. ttl should be slightly shorter than
// the sweep interval so the owner's next tick finds it expired.
func NewRedisLease(client *redis.Client, key string, ttl time.Duration) *RedisLease {
	return &RedisLease{
		client: client,
		key:    key,
		ttl:    ttl,
		owner:  uuid.NewString(),
	}
}

func (l *RedisLease) Acquire(ctx context.Context) (bool, error) {
	return l.client.SetNX(ctx, l.key, l.owner, l.ttl).Result()
}

// LeaseTTL derives the lease window from the sweep interval.
func LeaseTTL(interval time.Duration) time.Duration {
	ttl := interval * 9 / 10
	if ttl < time.Second {
		ttl = time.Second
	}
	return ttl
}
