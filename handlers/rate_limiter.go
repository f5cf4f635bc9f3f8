package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	gocache "github.com/patrickmn/go-cache"
	"golang.org/x/time/rate"

	"poll-ledger-backend/ledger"
)

// Limiter 按键限流，Redis实现见cache.RateLimiter
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

// minBucketIdle 令牌桶空闲淘汰时间的下限
const minBucketIdle = time.Minute

// LocalLimiter 单进程内按键的令牌桶限流器，空闲的桶会被淘汰
type LocalLimiter struct {
	mu      sync.Mutex
	rate    rate.Limit
	burst   int
	idle    time.Duration
	buckets *gocache.Cache
}

// NewLocalLimiter 创建本地限流器，r为每秒补充的令牌数
func NewLocalLimiter(r float64, burst int) *LocalLimiter {
	// 空闲超过补满时间的桶与新桶等价，可以安全淘汰
	idle := minBucketIdle
	if r > 0 {
		if refill := time.Duration(float64(burst) / r * float64(time.Second)); refill > idle {
			idle = refill
		}
	}
	return newLocalLimiter(r, burst, idle)
}

func newLocalLimiter(r float64, burst int, idle time.Duration) *LocalLimiter {
	return &LocalLimiter{
		rate:    rate.Limit(r),
		burst:   burst,
		idle:    idle,
		buckets: gocache.New(idle, idle/2),
	}
}

// Allow 判断key是否还有可用令牌，每次访问都会刷新桶的过期时间
func (l *LocalLimiter) Allow(_ context.Context, key string) (bool, error) {
	l.mu.Lock()
	var b *rate.Limiter
	if v, ok := l.buckets.Get(key); ok {
		b = v.(*rate.Limiter)
	} else {
		b = rate.NewLimiter(l.rate, l.burst)
	}
	l.buckets.Set(key, b, l.idle)
	l.mu.Unlock()
	return b.Allow(), nil
}

// Len 当前保留的令牌桶数量，包含已过期但尚未清理的桶
func (l *LocalLimiter) Len() int {
	return l.buckets.ItemCount()
}

// RateLimiterStats 限流器统计信息
type RateLimiterStats struct {
	TotalRequests    int64 `json:"totalRequests"`
	AllowedRequests  int64 `json:"allowedRequests"`
	RejectedRequests int64 `json:"rejectedRequests"`
}

// RateLimit 按调用方身份限流的中间件
type RateLimit struct {
	limiter Limiter
	logger  *slog.Logger

	total    atomic.Int64
	allowed  atomic.Int64
	rejected atomic.Int64
}

// NewRateLimit 创建限流中间件
func NewRateLimit(limiter Limiter, logger *slog.Logger) *RateLimit {
	return &RateLimit{limiter: limiter, logger: ledger.ResolveLogger(logger).With("module", "ratelimit")}
}

// Middleware 必须挂在RequireIdentity之后。限流器出错时放行请求。
func (r *RateLimit) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		r.total.Add(1)
		key := Identity(c)
		if key == "" {
			key = c.ClientIP()
		}

		ok, err := r.limiter.Allow(c.Request.Context(), key)
		if err != nil {
			r.logger.Warn("rate limiter unavailable", "event", "ratelimit_error", "error", err)
			ok = true
		}
		if !ok {
			r.rejected.Add(1)
			c.AbortWithStatusJSON(http.StatusTooManyRequests, ErrorResponse{
				Error:     "RateLimited",
				Message:   "too many requests, retry later",
				Retryable: true,
			})
			return
		}
		r.allowed.Add(1)
		c.Next()
	}
}

// Stats 处理 GET /api/ratelimit/stats
func (r *RateLimit) Stats(c *gin.Context) {
	c.JSON(http.StatusOK, RateLimiterStats{
		TotalRequests:    r.total.Load(),
		AllowedRequests:  r.allowed.Load(),
		RejectedRequests: r.rejected.Load(),
	})
}
