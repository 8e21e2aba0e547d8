package ratelimit

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// takeScript refills and consumes atomically on the Redis server so that
// concurrent checks against the same bucket never race. Token count and
// refill timestamp live in a hash; the retry hint is returned as a string
// because Lua number replies are truncated to integers.
var takeScript = redis.NewScript(`
local key = KEYS[1]
local capacity = tonumber(ARGV[1])
local rate = tonumber(ARGV[2])
local now_ms = tonumber(ARGV[3])
local ttl = tonumber(ARGV[4])

local state = redis.call('HMGET', key, 'tokens', 'last_refill')
local tokens = tonumber(state[1])
local last_ms = tonumber(state[2])
if tokens == nil or last_ms == nil then
  tokens = capacity
  last_ms = now_ms
end

local elapsed = (now_ms - last_ms) / 1000
if elapsed > 0 then
  tokens = math.min(capacity, tokens + elapsed * rate)
  last_ms = now_ms
end

local allowed = 0
local retry = 0
if tokens >= 1 then
  tokens = tokens - 1
  allowed = 1
else
  retry = (1 - tokens) / rate
end

redis.call('HSET', key, 'tokens', tokens, 'last_refill', last_ms)
redis.call('EXPIRE', key, ttl)
return {allowed, tostring(retry)}
`)

// RedisStore is the shared BucketStore for multi-node deployments.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore creates a Redis-backed bucket store. Keys are namespaced
// under prefix to keep the keyspace shareable with other consumers.
func NewRedisStore(client *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "ratelimit"
	}
	return &RedisStore{client: client, prefix: prefix}
}

// Take implements BucketStore.
func (s *RedisStore) Take(ctx context.Context, key string, cfg BucketConfig) (bool, float64, error) {
	// Expire idle buckets once they would have fully refilled anyway.
	ttl := int(math.Ceil(cfg.Capacity/cfg.RefillRate)) * 2
	if ttl < 60 {
		ttl = 60
	}

	raw, err := takeScript.Run(ctx, s.client,
		[]string{s.prefix + ":" + key},
		cfg.Capacity, cfg.RefillRate, time.Now().UnixMilli(), ttl,
	).Result()
	if err != nil {
		return false, 0, fmt.Errorf("run bucket script: %w", err)
	}

	reply, ok := raw.([]interface{})
	if !ok || len(reply) != 2 {
		return false, 0, fmt.Errorf("unexpected bucket script reply: %v", raw)
	}
	allowed, ok := reply[0].(int64)
	if !ok {
		return false, 0, fmt.Errorf("unexpected allowed flag: %v", reply[0])
	}
	retryStr, ok := reply[1].(string)
	if !ok {
		return false, 0, fmt.Errorf("unexpected retry hint: %v", reply[1])
	}
	retry, err := strconv.ParseFloat(retryStr, 64)
	if err != nil {
		return false, 0, fmt.Errorf("parse retry hint: %w", err)
	}

	return allowed == 1, retry, nil
}
