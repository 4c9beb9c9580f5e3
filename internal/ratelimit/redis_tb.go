package ratelimit

import (
	"context"
	"math"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// KeyPrefix 所有限流桶的 Redis 键前缀
const KeyPrefix = "im:rl:"

// RedisBucket 多个同步进程共用一个账号时共享发送配额。
// 每个 key 一个 hash（tokens、ts），由 Lua 脚本原子地补充与扣减；
// 桶在补满所需时间后过期。Redis 不可用时放行。
type RedisBucket struct {
	rdb   *redis.Client
	rate  int
	burst int
	ttl   time.Duration
	now   func() time.Time
	log   *zap.Logger
}

func NewRedisBucket(rdb *redis.Client, qps, burst int, log *zap.Logger) *RedisBucket {
	if qps < 1 {
		qps = 1
	}
	if burst < qps {
		burst = qps
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &RedisBucket{rdb: rdb, rate: qps, burst: burst, ttl: bucketTTL(qps, burst), now: time.Now, log: log}
}

// bucketTTL 空桶补满所需时间再加 1s
func bucketTTL(qps, burst int) time.Duration {
	refill := math.Ceil(float64(burst) / float64(qps))
	return time.Duration(refill)*time.Second + time.Second
}

func bucketKey(key string) string { return KeyPrefix + key }

var takeScript = redis.NewScript(`
local rate = tonumber(ARGV[1])
local burst = tonumber(ARGV[2])
local now = tonumber(ARGV[3])
local state = redis.call('HMGET', KEYS[1], 'tokens', 'ts')
local tokens = tonumber(state[1]) or burst
local ts = tonumber(state[2]) or now
tokens = math.min(burst, tokens + math.max(0, now - ts) * rate / 1000)
local allowed = 0
if tokens >= 1 then
  tokens = tokens - 1
  allowed = 1
end
redis.call('HSET', KEYS[1], 'tokens', tostring(tokens), 'ts', now)
redis.call('PEXPIRE', KEYS[1], ARGV[4])
return {allowed, math.floor(tokens)}
`)

// Take 尝试取一个令牌，返回是否放行与剩余整数令牌
func (b *RedisBucket) Take(ctx context.Context, key string) (bool, int64, error) {
	args := []any{b.rate, b.burst, b.now().UnixMilli(), b.ttl.Milliseconds()}
	vals, err := takeScript.Run(ctx, b.rdb, []string{bucketKey(key)}, args...).Slice()
	if err != nil {
		return true, 0, err
	}
	if len(vals) != 2 {
		return true, 0, nil
	}
	return toInt64(vals[0]) == 1, toInt64(vals[1]), nil
}

func (b *RedisBucket) Allow(ctx context.Context, key string) bool {
	ok, _, err := b.Take(ctx, key)
	if err != nil {
		b.log.Warn("rate limit check failed, allowing", zap.String("key", key), zap.Error(err))
	}
	return ok
}

// Lua 数字返回为 int64；浮点会被 Redis 截断为整数
func toInt64(v any) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case float64:
		return int64(n)
	}
	return 0
}
