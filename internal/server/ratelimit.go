package server

import (
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"golang.org/x/time/rate"
)

const (
	limiterIdle  = 10 * time.Minute
	limiterSweep = 5 * time.Minute
)

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// ipLimiter holds one token bucket per client IP. Idle buckets are swept
// while serving requests.
type ipLimiter struct {
	mu        sync.Mutex
	visitors  map[string]*visitor
	perSecond int
	lastSweep time.Time
}

func newIPLimiter(perSecond int) *ipLimiter {
	return &ipLimiter{
		visitors:  make(map[string]*visitor),
		perSecond: perSecond,
		lastSweep: time.Now(),
	}
}

func (l *ipLimiter) allow(ip string, now time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if now.Sub(l.lastSweep) > limiterSweep {
		for k, v := range l.visitors {
			if now.Sub(v.lastSeen) > limiterIdle {
				delete(l.visitors, k)
			}
		}
		l.lastSweep = now
	}

	v, ok := l.visitors[ip]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(rate.Limit(l.perSecond), 2*l.perSecond)}
		l.visitors[ip] = v
	}
	v.lastSeen = now
	return v.limiter.AllowN(now, 1)
}

// rateLimit rejects a client with 429 once its bucket is empty.
func rateLimit(perSecond int) fiber.Handler {
	l := newIPLimiter(perSecond)
	return func(c *fiber.Ctx) error {
		if !l.allow(c.IP(), time.Now()) {
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error": "rate limit exceeded, please try again later",
				"kind":  "rate_limited",
			})
		}
		return c.Next()
	}
}
