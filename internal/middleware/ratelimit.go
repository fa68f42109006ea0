package middleware

import (
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/thehao1505/backend-capstone/internal/pkg/errcode"
	"github.com/thehao1505/backend-capstone/internal/pkg/response"
)

type bucket struct {
	limiter *rate.Limiter
	seen    time.Time
}

// rateLimiter keeps one token bucket per client, viewer and route. A bucket
// refills one token per window and holds at most burst tokens.
type rateLimiter struct {
	mu            sync.Mutex
	every         rate.Limit
	burst         int
	idle          time.Duration
	buckets       map[string]*bucket
	sweepInterval time.Duration
	lastSweep     time.Time
	now           func() time.Time
}

func newRateLimiter(window time.Duration, burst int) *rateLimiter {
	if burst <= 0 {
		burst = 1
	}
	idle := window * time.Duration(burst)
	return &rateLimiter{
		every:         rate.Every(window),
		burst:         burst,
		idle:          idle,
		buckets:       make(map[string]*bucket),
		sweepInterval: max(idle, time.Minute),
		now:           time.Now,
	}
}

// RateLimit rejects with ErrTooMany once a caller spends its burst inside a
// window. A non positive window disables the check.
func RateLimit(window time.Duration, burst int) gin.HandlerFunc {
	if window <= 0 {
		return func(c *gin.Context) { c.Next() }
	}
	return newRateLimiter(window, burst).handle
}

func (l *rateLimiter) handle(c *gin.Context) {
	ip := c.ClientIP()
	uid := "0"
	if v, ok := c.Get(ContextUserIDKey); ok {
		if id, ok := v.(string); ok && id != "" {
			uid = id
		}
	}
	path := c.FullPath()
	if path == "" {
		path = c.Request.URL.Path
	}
	key := strings.Join([]string{ip, uid, path}, "|")

	if !l.allow(key) {
		logutil.GetLogger(c.Request.Context()).Warn("rate limit hit",
			zap.String("ip", ip),
			zap.String("user_id", uid),
			zap.String("path", path),
		)
		response.Abort(c, errcode.ErrTooMany, errcode.Message(errcode.ErrTooMany))
		return
	}
	c.Next()
}

func (l *rateLimiter) allow(key string) bool {
	now := l.now()
	l.mu.Lock()
	defer l.mu.Unlock()
	if now.Sub(l.lastSweep) >= l.sweepInterval {
		l.sweepLocked(now)
	}
	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{limiter: rate.NewLimiter(l.every, l.burst)}
		l.buckets[key] = b
	}
	b.seen = now
	return b.limiter.AllowN(now, 1)
}

// sweepLocked drops buckets idle long enough to have refilled completely.
// Caller holds mu.
func (l *rateLimiter) sweepLocked(now time.Time) {
	for key, b := range l.buckets {
		if now.Sub(b.seen) >= l.idle {
			delete(l.buckets, key)
		}
	}
	l.lastSweep = now
}
