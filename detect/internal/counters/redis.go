// Package counters keeps sliding-window rule state in Redis. State lives
// entirely in the shared store keyed by (tenant, rule, group), so any engine
// instance can evaluate any rule; every mutation is a single round trip and
// stays correct under concurrent engines.
package counters

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	counterPrefix = "crowlight:ctr:"
	alertedPrefix = "crowlight:alerted:"
)

// incrExpire bumps the counter and refreshes its TTL in one atomic step.
// The TTL refresh on every increment is what approximates the sliding
// window: the counter survives as long as matching events keep arriving
// within window_seconds of each other.
var incrExpire = redis.NewScript(`
local v = redis.call('INCRBY', KEYS[1], ARGV[1])
redis.call('EXPIRE', KEYS[1], ARGV[2])
return v
`)

// Config holds Redis connection settings.
type Config struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// Store is the Redis-backed counter store.
type Store struct {
	rdb *redis.Client
}

// NewStore connects to Redis and verifies the connection.
func NewStore(ctx context.Context, cfg Config) (*Store, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}
	return &Store{rdb: rdb}, nil
}

// NewStoreWithClient wraps an existing client; used by tests.
func NewStoreWithClient(rdb *redis.Client) *Store {
	return &Store{rdb: rdb}
}

// Close releases the Redis connection.
func (s *Store) Close() error { return s.rdb.Close() }

// Increment adds n to the group counter and refreshes its TTL to window,
// returning the post-increment value. An absent counter starts from zero.
func (s *Store) Increment(ctx context.Context, tenantID, ruleID, groupKey string, n int64, window time.Duration) (int64, error) {
	key := counterKey(tenantID, ruleID, groupKey)
	v, err := incrExpire.Run(ctx, s.rdb, []string{key}, n, int(window.Seconds())).Int64()
	if err != nil {
		return 0, fmt.Errorf("failed to increment counter %s: %w", key, err)
	}
	return v, nil
}

// Count returns the current counter value; zero when absent.
func (s *Store) Count(ctx context.Context, tenantID, ruleID, groupKey string) (int64, error) {
	v, err := s.rdb.Get(ctx, counterKey(tenantID, ruleID, groupKey)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read counter: %w", err)
	}
	return v, nil
}

// IsAlerted reports whether the group is in the Alerted state.
func (s *Store) IsAlerted(ctx context.Context, tenantID, ruleID, groupKey string) (bool, error) {
	n, err := s.rdb.Exists(ctx, alertedKey(tenantID, ruleID, groupKey)).Result()
	if err != nil {
		return false, fmt.Errorf("failed to read alerted marker: %w", err)
	}
	return n > 0, nil
}

// TryMarkAlerted claims the transition to Alerted with a single SET NX
// round trip, so concurrent engines cannot both win. The marker carries
// the window TTL: once it expires without a reset, the group is
// BelowThreshold again. Returns false when the group is already Alerted.
func (s *Store) TryMarkAlerted(ctx context.Context, tenantID, ruleID, groupKey string, window time.Duration) (bool, error) {
	ok, err := s.rdb.SetNX(ctx, alertedKey(tenantID, ruleID, groupKey), "1", window).Result()
	if err != nil {
		return false, fmt.Errorf("failed to mark alerted: %w", err)
	}
	return ok, nil
}

// ClearAlerted releases the Alerted marker, rolling back a claimed
// transition whose alert could not be published.
func (s *Store) ClearAlerted(ctx context.Context, tenantID, ruleID, groupKey string) error {
	if err := s.rdb.Del(ctx, alertedKey(tenantID, ruleID, groupKey)).Err(); err != nil {
		return fmt.Errorf("failed to clear alerted marker: %w", err)
	}
	return nil
}

// ClearCounter deletes the group counter so the next breach requires
// reaccumulation from zero.
func (s *Store) ClearCounter(ctx context.Context, tenantID, ruleID, groupKey string) error {
	if err := s.rdb.Del(ctx, counterKey(tenantID, ruleID, groupKey)).Err(); err != nil {
		return fmt.Errorf("failed to clear counter: %w", err)
	}
	return nil
}

// Reset deletes both the counter and the alerted marker, forcing the group
// back to BelowThreshold.
func (s *Store) Reset(ctx context.Context, tenantID, ruleID, groupKey string) error {
	keys := []string{
		counterKey(tenantID, ruleID, groupKey),
		alertedKey(tenantID, ruleID, groupKey),
	}
	if err := s.rdb.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("failed to reset counter: %w", err)
	}
	return nil
}

func counterKey(tenantID, ruleID, groupKey string) string {
	return counterPrefix + tenantID + ":" + ruleID + ":" + groupKey
}

func alertedKey(tenantID, ruleID, groupKey string) string {
	return alertedPrefix + tenantID + ":" + ruleID + ":" + groupKey
}
