package middleware

import (
	"net/http"
	"sync"
	"time"

	"github.com/wb-go/wbf/ginext"
	"golang.org/x/time/rate"

	"github.com/aliskhannn/pixmix-relay/internal/api/respond"
	"github.com/aliskhannn/pixmix-relay/internal/config"
	"github.com/aliskhannn/pixmix-relay/internal/reqctx"
)

const (
	limiterEntryTTL = 15 * time.Minute
	limiterSweep    = 5 * time.Minute
)

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// clientLimiter keeps one token bucket per caller.
type clientLimiter struct {
	mu        sync.Mutex
	limit     rate.Limit
	burst     int
	entries   map[string]*limiterEntry
	lastSweep time.Time
}

func newClientLimiter(every time.Duration, burst int) *clientLimiter {
	if burst <= 0 {
		burst = 1
	}

	return &clientLimiter{
		limit:     rate.Every(every),
		burst:     burst,
		entries:   make(map[string]*limiterEntry),
		lastSweep: time.Now(),
	}
}

func (l *clientLimiter) allow(key string) bool {
	now := time.Now()

	l.mu.Lock()
	defer l.mu.Unlock()

	if now.Sub(l.lastSweep) >= limiterSweep {
		for k, e := range l.entries {
			if now.Sub(e.lastSeen) > limiterEntryTTL {
				delete(l.entries, k)
			}
		}
		l.lastSweep = now
	}

	e, ok := l.entries[key]
	if !ok {
		e = &limiterEntry{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.entries[key] = e
	}
	e.lastSeen = now

	return e.limiter.Allow()
}

// RateLimit throttles callers by authenticated subject, falling back to client IP.
// A zero interval disables it.
func RateLimit(cfg config.RateLimit) ginext.HandlerFunc {
	if cfg.Every <= 0 {
		return func(c *ginext.Context) { c.Next() }
	}

	l := newClientLimiter(cfg.Every, cfg.Burst)

	return func(c *ginext.Context) {
		key := "ip:" + c.ClientIP()
		if id := reqctx.From(c.Request.Context()).Identity; id != nil && id.Subject != "" {
			key = "sub:" + id.Subject
		}

		if !l.allow(key) {
			respond.Abort(c, http.StatusTooManyRequests, respond.Error{Error: "Too many requests"})
			return
		}

		c.Next()
	}
}
