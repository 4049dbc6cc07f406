package http

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
)

// TokenBucket 令牌桶
type TokenBucket struct {
	capacity   float64
	tokens     float64
	rate       float64 // 每秒补充的令牌数
	lastRefill time.Time
	mu         sync.Mutex
}

// NewTokenBucket 创建令牌桶，初始为满
func NewTokenBucket(capacity, rate float64, now time.Time) *TokenBucket {
	return &TokenBucket{
		capacity:   capacity,
		tokens:     capacity,
		rate:       rate,
		lastRefill: now,
	}
}

// Allow 尝试取一个令牌
func (tb *TokenBucket) Allow(now time.Time) bool {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	if elapsed := now.Sub(tb.lastRefill).Seconds(); elapsed > 0 {
		tb.tokens += elapsed * tb.rate
		if tb.tokens > tb.capacity {
			tb.tokens = tb.capacity
		}
		tb.lastRefill = now
	}

	if tb.tokens >= 1 {
		tb.tokens--
		return true
	}
	return false
}

func (tb *TokenBucket) idleSince(now time.Time) time.Duration {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	return now.Sub(tb.lastRefill)
}

// RateLimiterConfig 握手限流配置
type RateLimiterConfig struct {
	GlobalQPS  float64       `mapstructure:"global_qps"`
	IPQPSLimit float64       `mapstructure:"ip_qps"`
	BurstSize  float64       `mapstructure:"burst"`
	IdleTTL    time.Duration `mapstructure:"idle_ttl"`
}

// DefaultRateLimiterConfig 默认配置
func DefaultRateLimiterConfig() RateLimiterConfig {
	return RateLimiterConfig{
		GlobalQPS:  500,
		IPQPSLimit: 5,
		BurstSize:  10,
		IdleTTL:    time.Hour,
	}
}

// RateLimiter 两级限流：全局 + 单 IP，只挂在 /ws 握手上
type RateLimiter struct {
	config       RateLimiterConfig
	globalBucket *TokenBucket
	ipBuckets    sync.Map // IP -> *TokenBucket
	now          func() time.Time
}

// NewRateLimiter 创建限流器
func NewRateLimiter(config RateLimiterConfig) *RateLimiter {
	return newRateLimiter(config, time.Now)
}

func newRateLimiter(config RateLimiterConfig, now func() time.Time) *RateLimiter {
	if config.IdleTTL <= 0 {
		config.IdleTTL = time.Hour
	}
	return &RateLimiter{
		config:       config,
		globalBucket: NewTokenBucket(config.GlobalQPS+config.BurstSize, config.GlobalQPS, now()),
		now:          now,
	}
}

func (rl *RateLimiter) ipBucket(ip string) *TokenBucket {
	if bucket, ok := rl.ipBuckets.Load(ip); ok {
		return bucket.(*TokenBucket)
	}
	bucket := NewTokenBucket(rl.config.IPQPSLimit+rl.config.BurstSize, rl.config.IPQPSLimit, rl.now())
	actual, _ := rl.ipBuckets.LoadOrStore(ip, bucket)
	return actual.(*TokenBucket)
}

// Allow 先查单 IP 再查全局，避免单个来源耗尽全局配额
func (rl *RateLimiter) Allow(ip string) bool {
	now := rl.now()
	if !rl.ipBucket(ip).Allow(now) {
		return false
	}
	return rl.globalBucket.Allow(now)
}

// Middleware Gin 中间件
func (rl *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !rl.Allow(c.ClientIP()) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"code":    http.StatusTooManyRequests,
				"message": "rate limit exceeded",
			})
			return
		}
		c.Next()
	}
}

// Cleanup 清理空闲超过 IdleTTL 的 IP 桶，返回清理数量
func (rl *RateLimiter) Cleanup() int {
	now := rl.now()
	removed := 0
	rl.ipBuckets.Range(func(key, value any) bool {
		if value.(*TokenBucket).idleSince(now) > rl.config.IdleTTL {
			rl.ipBuckets.Delete(key)
			removed++
		}
		return true
	})
	return removed
}

// Run 周期性清理，ctx 取消后返回
func (rl *RateLimiter) Run(ctx context.Context, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			rl.Cleanup()
		}
	}
}
