package httpmiddleware

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
)

// Limiter decides whether a request identified by key may proceed.
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

// TokenBucket is an in-memory per-key limiter refilled at perMinute.
type TokenBucket struct {
	capacity int
	rate     int
	now      func() time.Time
	mu       sync.Mutex
	state    map[string]*bucket
}

type bucket struct {
	tokens int
	last   time.Time
}

// NewTokenBucket creates limiter with capacity tokens and rate per minute.
func NewTokenBucket(capacity, perMinute int) *TokenBucket {
	if capacity <= 0 {
		capacity = perMinute
	}
	return &TokenBucket{
		capacity: capacity,
		rate:     perMinute,
		now:      time.Now,
		state:    make(map[string]*bucket),
	}
}

// Allow takes one token for key.
func (l *TokenBucket) Allow(_ context.Context, key string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	b, ok := l.state[key]
	if !ok {
		l.state[key] = &bucket{tokens: l.capacity - 1, last: now}
		return true, nil
	}
	refill := int(now.Sub(b.last).Minutes() * float64(l.rate))
	if refill > 0 {
		b.tokens = min(b.tokens+refill, l.capacity)
		b.last = now
	}
	if b.tokens <= 0 {
		return false, nil
	}
	b.tokens--
	return true, nil
}

// RedisWindow is a fixed one-minute window counter shared across instances.
type RedisWindow struct {
	client    *redis.Client
	perMinute int64
	prefix    string
	now       func() time.Time
}

// NewRedisWindow builds a limiter allowing perMinute requests per key.
func NewRedisWindow(client *redis.Client, perMinute int) *RedisWindow {
	return &RedisWindow{client: client, perMinute: int64(perMinute), prefix: "attendance:ratelimit", now: time.Now}
}

// Allow increments the counter for the current window.
func (l *RedisWindow) Allow(ctx context.Context, key string) (bool, error) {
	window := l.now().Unix() / 60
	k := fmt.Sprintf("%s:%s:%d", l.prefix, key, window)
	pipe := l.client.TxPipeline()
	incr := pipe.Incr(ctx, k)
	pipe.Expire(ctx, k, 2*time.Minute)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, err
	}
	return incr.Val() <= l.perMinute, nil
}

// RateLimit enforces l per client IP. Limiter errors let the request through.
func RateLimit(l Limiter, log *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		ip := c.ClientIP()
		if ip == "" {
			ip = "unknown"
		}
		ok, err := l.Allow(c.Request.Context(), ip)
		if err != nil {
			log.Warn("rate limiter unavailable", "err", err)
			c.Next()
			return
		}
		if !ok {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate limit"})
			return
		}
		c.Next()
	}
}
