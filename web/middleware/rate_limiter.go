package middleware

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	lru "github.com/hashicorp/golang-lru"
	"go.uber.org/zap"
)

// RateLimiterConfig holds configuration for rate limiting
type RateLimiterConfig struct {
	RequestsPerMinute int // Sustained requests per client per minute
	BurstSize         int // Allow burst of N requests
	MaxClients        int // Buckets kept before least recently seen clients are evicted
}

// TokenBucket implements a token bucket rate limiter
type TokenBucket struct {
	tokens     float64
	maxTokens  float64
	refillRate float64 // tokens per second
	lastRefill time.Time
	mu         sync.Mutex
	now        func() time.Time
}

// NewTokenBucket creates a new token bucket
func NewTokenBucket(maxTokens float64, refillRate float64) *TokenBucket {
	return &TokenBucket{
		tokens:     maxTokens,
		maxTokens:  maxTokens,
		refillRate: refillRate,
		lastRefill: time.Now(),
		now:        time.Now,
	}
}

func (tb *TokenBucket) refill() {
	now := tb.now()
	elapsed := now.Sub(tb.lastRefill).Seconds()
	tb.tokens = min(tb.maxTokens, tb.tokens+(elapsed*tb.refillRate))
	tb.lastRefill = now
}

// Allow checks if a request can proceed and consumes a token if so
func (tb *TokenBucket) Allow() bool {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	tb.refill()
	if tb.tokens >= 1.0 {
		tb.tokens -= 1.0
		return true
	}
	return false
}

// Remaining returns the number of tokens remaining
func (tb *TokenBucket) Remaining() int {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	tb.refill()
	return int(tb.tokens)
}

// RetryAfter estimates how long until the next token is available.
func (tb *TokenBucket) RetryAfter() time.Duration {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	tb.refill()
	if tb.tokens >= 1.0 || tb.refillRate <= 0 {
		return 0
	}
	return time.Duration((1.0 - tb.tokens) / tb.refillRate * float64(time.Second))
}

// ClientRateLimiter keeps one bucket per client key in a bounded LRU cache,
// so memory stays flat no matter how many clients appear.
type ClientRateLimiter struct {
	config  RateLimiterConfig
	buckets *lru.Cache
	mu      sync.Mutex
	logger  *zap.Logger
}

// NewClientRateLimiter creates a new per-client rate limiter
func NewClientRateLimiter(config RateLimiterConfig, logger *zap.Logger) (*ClientRateLimiter, error) {
	if config.MaxClients <= 0 {
		config.MaxClients = 4096
	}
	if config.BurstSize <= 0 {
		config.BurstSize = 1
	}
	cache, err := lru.New(config.MaxClients)
	if err != nil {
		return nil, err
	}
	return &ClientRateLimiter{config: config, buckets: cache, logger: logger}, nil
}

func (l *ClientRateLimiter) bucket(key string) *TokenBucket {
	l.mu.Lock()
	defer l.mu.Unlock()

	if v, ok := l.buckets.Get(key); ok {
		return v.(*TokenBucket)
	}
	// BurstSize tokens, refill at rate/60 per second
	refillRate := float64(l.config.RequestsPerMinute) / 60.0
	b := NewTokenBucket(float64(l.config.BurstSize), refillRate)
	l.buckets.Add(key, b)
	return b
}

// Allow consumes a token for key.
func (l *ClientRateLimiter) Allow(key string) (allowed bool, remaining int, retryAfter time.Duration) {
	b := l.bucket(key)
	allowed = b.Allow()
	if !allowed {
		retryAfter = b.RetryAfter()
	}
	return allowed, b.Remaining(), retryAfter
}

// Tracked returns how many client buckets are cached.
func (l *ClientRateLimiter) Tracked() int {
	return l.buckets.Len()
}

// RateLimitMiddleware creates a Gin middleware for rate limiting by client IP
func RateLimitMiddleware(limiter *ClientRateLimiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		if limiter == nil || limiter.config.RequestsPerMinute <= 0 {
			c.Next()
			return
		}

		key := c.ClientIP()
		allowed, remaining, retryAfter := limiter.Allow(key)

		// Add rate limit headers
		c.Header("X-RateLimit-Limit", formatInt(limiter.config.BurstSize))
		c.Header("X-RateLimit-Remaining", formatInt(remaining))

		if !allowed {
			seconds := max(1, int(retryAfter.Round(time.Second)/time.Second))
			LoggerFrom(c).Warn("Rate limit exceeded",
				zap.String("client", key),
				zap.Int("limit", limiter.config.RequestsPerMinute))

			c.Header("Retry-After", formatInt(seconds))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":       "rate limit exceeded",
				"retry_after": seconds,
			})
			return
		}

		c.Next()
	}
}

// formatInt converts int to string for headers
func formatInt(n int) string {
	return strconv.Itoa(n)
}
