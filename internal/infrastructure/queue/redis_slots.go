package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/musaver/admintaxmahir-sub002/internal/application/importing"
)

// ErrSlotExpired is returned by Refresh when the holder's slot was reclaimed.
var ErrSlotExpired = errors.New("import slot expired")

// acquireSlot scores each holder with its expiry in milliseconds of the
// server clock. Expired holders are dropped before counting.
var acquireSlot = redis.NewScript(`
local now = redis.call('TIME')
local nowMs = tonumber(now[1]) * 1000 + math.floor(tonumber(now[2]) / 1000)
local expires = nowMs + tonumber(ARGV[3])
redis.call('ZREMRANGEBYSCORE', KEYS[1], '-inf', nowMs)
if not redis.call('ZSCORE', KEYS[1], ARGV[1]) and redis.call('ZCARD', KEYS[1]) >= tonumber(ARGV[2]) then
	return 0
end
redis.call('ZADD', KEYS[1], expires, ARGV[1])
redis.call('PEXPIRE', KEYS[1], ARGV[3])
return 1
`)

var refreshSlot = redis.NewScript(`
local now = redis.call('TIME')
local nowMs = tonumber(now[1]) * 1000 + math.floor(tonumber(now[2]) / 1000)
local score = redis.call('ZSCORE', KEYS[1], ARGV[1])
if not score or tonumber(score) <= nowMs then
	redis.call('ZREM', KEYS[1], ARGV[1])
	return 0
end
redis.call('ZADD', KEYS[1], 'XX', nowMs + tonumber(ARGV[2]), ARGV[1])
redis.call('PEXPIRE', KEYS[1], ARGV[2])
return 1
`)

type RedisSlotsConfig struct {
	Key   string
	Limit int
	// TTL is how long a slot survives without Refresh, which bounds how long
	// a crashed worker keeps a slot.
	TTL time.Duration
}

// RedisSlots is a counting semaphore shared by every worker process that
// points at the same key.
type RedisSlots struct {
	client redis.UniversalClient
	cfg    RedisSlotsConfig
}

func NewRedisSlots(client redis.UniversalClient, cfg RedisSlotsConfig) *RedisSlots {
	if cfg.Key == "" {
		cfg.Key = "imports:slots"
	}
	if cfg.Limit <= 0 || cfg.Limit > importing.MaxConcurrentImports {
		cfg.Limit = importing.MaxConcurrentImports
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 2 * time.Minute
	}
	return &RedisSlots{client: client, cfg: cfg}
}

func (s *RedisSlots) Acquire(ctx context.Context, holder string) (bool, error) {
	n, err := acquireSlot.Run(ctx, s.client, []string{s.cfg.Key}, holder, s.cfg.Limit, s.cfg.TTL.Milliseconds()).Int()
	if err != nil {
		return false, fmt.Errorf("acquire import slot: %w", err)
	}
	return n == 1, nil
}

func (s *RedisSlots) Refresh(ctx context.Context, holder string) error {
	n, err := refreshSlot.Run(ctx, s.client, []string{s.cfg.Key}, holder, s.cfg.TTL.Milliseconds()).Int()
	if err != nil {
		return fmt.Errorf("refresh import slot: %w", err)
	}
	if n == 0 {
		return ErrSlotExpired
	}
	return nil
}

func (s *RedisSlots) Release(ctx context.Context, holder string) error {
	if err := s.client.ZRem(ctx, s.cfg.Key, holder).Err(); err != nil {
		return fmt.Errorf("release import slot: %w", err)
	}
	return nil
}
