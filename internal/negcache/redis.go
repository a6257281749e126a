package negcache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis is a Cache shared across service instances. Entries live under
// "{prefix}{scope}:{booking_sn}" so each session scope can be cleared
// without touching the others.
type Redis struct {
	client *redis.Client
	prefix string
	now    func() time.Time
}

// NewRedis creates a cache scoped under prefix, e.g. "negcache:tracking:<session>:".
func NewRedis(client *redis.Client, prefix string) *Redis {
	if prefix == "" {
		prefix = "negcache:"
	}
	return &Redis{client: client, prefix: prefix, now: time.Now}
}

func (r *Redis) key(bookingSN string) string {
	return r.prefix + bookingSN
}

// Add stores bookingSN. Transient failures carry a TTL; permanent ones do not.
func (r *Redis) Add(ctx context.Context, bookingSN string, f Failure) error {
	var ttl time.Duration
	if !f.IsPermanent() {
		ttl = f.ExpiresAt().Sub(r.now())
		if ttl <= 0 {
			return nil
		}
	}
	if err := r.client.Set(ctx, r.key(bookingSN), "1", ttl).Err(); err != nil {
		return fmt.Errorf("negcache add %s: %w", bookingSN, err)
	}
	return nil
}

// Contains reports whether bookingSN is present. Redis expires transient
// entries on its own.
func (r *Redis) Contains(ctx context.Context, bookingSN string) (bool, error) {
	n, err := r.client.Exists(ctx, r.key(bookingSN)).Result()
	if err != nil {
		return false, fmt.Errorf("negcache lookup %s: %w", bookingSN, err)
	}
	return n > 0, nil
}

// Clear deletes every key under the cache prefix.
func (r *Redis) Clear(ctx context.Context) error {
	iter := r.client.Scan(ctx, 0, r.prefix+"*", 100).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("negcache scan: %w", err)
	}
	if len(keys) == 0 {
		return nil
	}
	if err := r.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("negcache clear: %w", err)
	}
	return nil
}

var _ Cache = (*Redis)(nil)
