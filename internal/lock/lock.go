package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mohammad-safakhou/curator/config"
)

const (
	cycleLockKey   = "curator:cycle:lock"
	titleKeyPrefix = "curator:selected:"
)

// Guard serializes selection cycles against the same store and caches
// recently-selected title keys. Redis is optional plumbing: callers hold a
// nil *Guard when it is not configured and fall back to store queries.
type Guard struct {
	client *redis.Client
}

// Connect dials redis and verifies the connection. Returns nil without
// error when redis is not configured.
func Connect(ctx context.Context, cfg config.RedisConfig, timeout time.Duration) (*Guard, error) {
	addr := cfg.Addr()
	if addr == "" {
		return nil, nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:        addr,
		Password:    cfg.Password,
		DB:          cfg.DB,
		DialTimeout: timeout,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("pinging redis: %w", err)
	}
	return &Guard{client: client}, nil
}

// Close releases the redis connection.
func (g *Guard) Close() error {
	if g == nil {
		return nil
	}
	return g.client.Close()
}

// AcquireCycle takes the distributed cycle lock. It reports false when
// another cycle is already running against the store.
func (g *Guard) AcquireCycle(ctx context.Context, ttl time.Duration) (bool, error) {
	if g == nil {
		return true, nil
	}
	ok, err := g.client.SetNX(ctx, cycleLockKey, "1", ttl).Result()
	if err != nil {
		return false, fmt.Errorf("acquiring cycle lock: %w", err)
	}
	return ok, nil
}

// ReleaseCycle drops the cycle lock.
func (g *Guard) ReleaseCycle(ctx context.Context) error {
	if g == nil {
		return nil
	}
	return g.client.Del(ctx, cycleLockKey).Err()
}

// RememberTitleKey caches a normalized title key so the next cycles can
// exclude re-selections without a store round trip.
func (g *Guard) RememberTitleKey(ctx context.Context, key string, ttl time.Duration) error {
	if g == nil || key == "" {
		return nil
	}
	return g.client.Set(ctx, titleKeyPrefix+key, "1", ttl).Err()
}

// RecentTitleKeys lists the cached normalized title keys.
func (g *Guard) RecentTitleKeys(ctx context.Context) ([]string, error) {
	if g == nil {
		return nil, fmt.Errorf("title cache not configured")
	}
	var (
		keys   []string
		cursor uint64
	)
	for {
		batch, next, err := g.client.Scan(ctx, cursor, titleKeyPrefix+"*", 200).Result()
		if err != nil {
			return nil, fmt.Errorf("scanning title keys: %w", err)
		}
		for _, k := range batch {
			keys = append(keys, k[len(titleKeyPrefix):])
		}
		if next == 0 {
			return keys, nil
		}
		cursor = next
	}
}
