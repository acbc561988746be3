package middleware

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/patrickmn/go-cache"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/user/moovie-reviews/internal/metrics"
	"github.com/user/moovie-reviews/internal/utils"
)

// Limiter 按 key 限流
type Limiter interface {
	// Allow 返回是否放行，以及被拒绝时建议的等待时间
	Allow(ctx context.Context, key string) (bool, time.Duration, error)
}

// MemoryLimiter 进程内令牌桶，每个客户端一个 rate.Limiter，长时间不活跃的自动过期
type MemoryLimiter struct {
	limit rate.Limit
	burst int

	mu       sync.Mutex
	limiters *cache.Cache
}

// NewMemoryLimiter 创建进程内限流器
func NewMemoryLimiter(rps float64, burst int) *MemoryLimiter {
	return &MemoryLimiter{
		limit:    rate.Limit(rps),
		burst:    burst,
		limiters: cache.New(10*time.Minute, 5*time.Minute),
	}
}

func (l *MemoryLimiter) get(key string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	if v, ok := l.limiters.Get(key); ok {
		lim := v.(*rate.Limiter)
		// 刷新过期时间
		l.limiters.SetDefault(key, lim)
		return lim
	}
	lim := rate.NewLimiter(l.limit, l.burst)
	l.limiters.SetDefault(key, lim)
	return lim
}

// Allow 实现 Limiter
func (l *MemoryLimiter) Allow(_ context.Context, key string) (bool, time.Duration, error) {
	lim := l.get(key)
	r := lim.Reserve()
	if !r.OK() {
		return false, time.Second, nil
	}
	if delay := r.Delay(); delay > 0 {
		r.Cancel()
		return false, delay, nil
	}
	return true, 0, nil
}

// 令牌桶脚本：按整数个补充周期回填令牌，返回 {allowed, tokens, retry_after_ms}
var tokenBucketScript = redis.NewScript(`
local key = KEYS[1]
local now_ms = tonumber(ARGV[1])
local capacity = tonumber(ARGV[2])
local interval_ms = tonumber(ARGV[3])
local ttl_seconds = tonumber(ARGV[4])

local state = redis.call('HMGET', key, 'tokens', 'last_refill_ms')
local tokens = tonumber(state[1])
local last_refill = tonumber(state[2])

if tokens == nil or last_refill == nil then
    tokens = capacity
    last_refill = now_ms
end

local elapsed = math.max(0, now_ms - last_refill)
local intervals = math.floor(elapsed / interval_ms)
if intervals > 0 then
    tokens = math.min(capacity, tokens + intervals)
    last_refill = last_refill + (intervals * interval_ms)
end

local allowed = 0
local retry_after_ms = 0
if tokens > 0 then
    allowed = 1
    tokens = tokens - 1
else
    retry_after_ms = math.max(0, interval_ms - (now_ms - last_refill))
end

redis.call('HSET', key, 'tokens', tokens, 'last_refill_ms', last_refill)
redis.call('EXPIRE', key, ttl_seconds)

return { allowed, tokens, retry_after_ms }
`)

// RedisLimiter 基于 Redis 的令牌桶，多实例共享额度
type RedisLimiter struct {
	client   *redis.Client
	prefix   string
	capacity int
	interval time.Duration
	ttl      time.Duration
	now      func() time.Time
}

// NewRedisLimiter 创建 Redis 限流器，rps 决定补充一个令牌的间隔
func NewRedisLimiter(client *redis.Client, rps float64, burst int) *RedisLimiter {
	interval := time.Second
	if rps > 0 {
		interval = time.Duration(float64(time.Second) / rps)
	}
	if interval < time.Millisecond {
		interval = time.Millisecond
	}
	ttl := time.Duration(burst) * interval * 2
	if ttl < time.Minute {
		ttl = time.Minute
	}
	return &RedisLimiter{client: client, prefix: "moovie:ratelimit", capacity: burst, interval: interval, ttl: ttl, now: time.Now}
}

// Allow 实现 Limiter
func (l *RedisLimiter) Allow(ctx context.Context, key string) (bool, time.Duration, error) {
	vals, err := tokenBucketScript.Run(ctx, l.client, []string{l.prefix + ":" + key},
		l.now().UnixMilli(),
		l.capacity,
		l.interval.Milliseconds(),
		int64(l.ttl/time.Second),
	).Int64Slice()
	if err != nil {
		return false, 0, err
	}
	if len(vals) != 3 {
		return false, 0, fmt.Errorf("限流脚本返回值异常: %v", vals)
	}
	return vals[0] == 1, time.Duration(vals[2]) * time.Millisecond, nil
}

// RateLimit 按客户端 IP 限流，限流器出错时放行
func RateLimit(limiter Limiter, m *metrics.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := utils.HashIP(c.ClientIP())
		allowed, retry, err := limiter.Allow(c.Request.Context(), key)
		if err != nil {
			log.Warn().Err(err).Msg("限流检查失败，放行请求")
			c.Next()
			return
		}
		if !allowed {
			secs := int(math.Ceil(retry.Seconds()))
			if secs < 1 {
				secs = 1
			}
			c.Header("Retry-After", strconv.Itoa(secs))
			if m != nil {
				m.RateLimitRejections.Inc()
			}
			utils.TooManyRequests(c)
			c.Abort()
			return
		}
		c.Next()
	}
}
