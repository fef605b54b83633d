/*
Logic:       Redis-backed Backend implementation. Plain GET/SET for
             values, INCRBY for counters, and a Lua script for the bounded
             atomic decrement so the check-and-set never races across
             concurrent callers.
Root Cause:  Spec §4.1: the cache's backing store is an external KV
             store; §5 requires cache Incr/DecrBounded to be linearisable
             per key, which a single EVAL call gives us for free.
Context:     No complete example repo in the pack runs Redis itself;
             the redis/go-redis/v9 client setup (options parsing,
             connection, Ping) follows the usage in the agentic-
             orchestrator reference file under other_examples/,
             generalized from a raw client held alongside a wrapper into
             a full cache.Backend implementation with its own Lua EVAL
             script for the bounded atomic decrement.
*/
package cache

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// incrScript increments the counter by ARGV[1] and, only when the key did
// not exist before, sets its expiry to ARGV[2] seconds (if positive).
var incrScript = redis.NewScript(`
local exists = redis.call("EXISTS", KEYS[1])
local newValue = redis.call("INCRBY", KEYS[1], ARGV[1])
if exists == 0 and tonumber(ARGV[2]) > 0 then
  redis.call("EXPIRE", KEYS[1], ARGV[2])
end
return newValue
`)

// decrBoundedScript atomically reads the counter (default 0), computes
// newValue = current - amount, and only writes it back if newValue >=
// floor. Returns {newValue, ok(0/1)}.
var decrBoundedScript = redis.NewScript(`
local current = tonumber(redis.call("GET", KEYS[1]))
if current == nil then
  current = 0
end
local newValue = current - tonumber(ARGV[1])
local floor = tonumber(ARGV[2])
if newValue < floor then
  return {current, 0}
end
redis.call("SET", KEYS[1], newValue, "KEEPTTL")
return {newValue, 1}
`)

// RedisBackend implements Backend over a Redis client.
type RedisBackend struct {
	client    *redis.Client
	available bool
}

// NewRedisBackend parses redisURL and returns a RedisBackend. It does not
// block on connectivity; call Ping to confirm reachability before
// trusting Available().
func NewRedisBackend(redisURL string) (*RedisBackend, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}
	return &RedisBackend{client: redis.NewClient(opt), available: false}, nil
}

// Ping verifies connectivity and updates Available(). Callers should
// invoke this at startup and on a health-check interval.
func (r *RedisBackend) Ping(ctx context.Context) error {
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	err := r.client.Ping(pingCtx).Err()
	r.available = err == nil
	return err
}

func (r *RedisBackend) Available() bool { return r.available }

func (r *RedisBackend) Get(ctx context.Context, key string) ([]byte, bool, error) {
	v, err := r.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		r.available = false
		return nil, false, err
	}
	return v, true, nil
}

func (r *RedisBackend) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := r.client.Set(ctx, key, value, ttl).Err(); err != nil {
		r.available = false
		return err
	}
	return nil
}

func (r *RedisBackend) Incr(ctx context.Context, key string, amount int64, ttlOnCreate time.Duration) (int64, error) {
	v, err := incrScript.Run(ctx, r.client, []string{key}, amount, int64(ttlOnCreate.Seconds())).Int64()
	if err != nil {
		r.available = false
		return 0, err
	}
	return v, nil
}

func (r *RedisBackend) DecrBounded(ctx context.Context, key string, amount int64, floor int64) (int64, bool, error) {
	res, err := decrBoundedScript.Run(ctx, r.client, []string{key}, amount, floor).Slice()
	if err != nil {
		r.available = false
		return 0, false, err
	}
	if len(res) != 2 {
		return 0, false, errors.New("cache: unexpected decr_bounded result shape")
	}
	newValue, _ := res[0].(int64)
	okFlag, _ := res[1].(int64)
	return newValue, okFlag == 1, nil
}

func (r *RedisBackend) Delete(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, key).Err(); err != nil {
		r.available = false
		return err
	}
	return nil
}
