package cache

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

// 令牌桶算法的Lua脚本
var tokenBucket = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local rate = tonumber(ARGV[2])
local burst = tonumber(ARGV[3])
local ttl = math.max(2, math.ceil(burst / rate) * 2)

local tokens_key = key .. ":tokens"
local timestamp_key = key .. ":ts"

local tokens = tonumber(redis.call("get", tokens_key) or burst)
local last_update = tonumber(redis.call("get", timestamp_key) or now)

-- 计算距离上次更新经过的时间，添加相应的令牌
local elapsed = math.max(0, now - last_update)
local new_tokens = math.min(burst, tokens + elapsed * rate)

if new_tokens < 1 then
	return 0
end

new_tokens = new_tokens - 1
redis.call("setex", tokens_key, ttl, new_tokens)
redis.call("setex", timestamp_key, ttl, now)
return 1
`)

// RateLimiter 基于Redis的按键令牌桶限流器，多个实例共享额度
type RateLimiter struct {
	client redis.UniversalClient
	prefix string
	rate   float64 // 每秒生成的令牌数量
	burst  int     // 令牌桶最大容量
}

// NewRateLimiter 创建新的令牌桶限流器
func NewRateLimiter(client redis.UniversalClient, prefix string, rate float64, burst int) *RateLimiter {
	return &RateLimiter{
		client: client,
		prefix: prefix + "rate_limit:",
		rate:   rate,
		burst:  burst,
	}
}

// Allow 判断key对应的请求是否允许通过
func (l *RateLimiter) Allow(ctx context.Context, key string) (bool, error) {
	res, err := tokenBucket.Run(ctx, l.client, []string{l.prefix + key},
		time.Now().Unix(), l.rate, l.burst).Int()
	if err != nil {
		return false, errors.Wrap(err, "token bucket")
	}
	return res == 1, nil
}
