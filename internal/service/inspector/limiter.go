package inspector

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// maxTrackedTokens bounds the limiter map; idle entries are dropped past it
const maxTrackedTokens = 10000

type tokenLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// tokenLimiters rate limits inspector requests per token fingerprint
type tokenLimiters struct {
	mu       sync.Mutex
	limiters map[string]*tokenLimiter
	rate     rate.Limit
	burst    int
	idle     time.Duration
}

func newTokenLimiters(rps float64, burst int) *tokenLimiters {
	return &tokenLimiters{
		limiters: make(map[string]*tokenLimiter),
		rate:     rate.Limit(rps),
		burst:    burst,
		idle:     10 * time.Minute,
	}
}

// Allow consumes one request for key at now
func (l *tokenLimiters) Allow(_ context.Context, key string, now time.Time) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	entry, ok := l.limiters[key]
	if !ok {
		if len(l.limiters) >= maxTrackedTokens {
			l.evict(now)
		}
		entry = &tokenLimiter{limiter: rate.NewLimiter(l.rate, l.burst)}
		l.limiters[key] = entry
	}
	entry.lastSeen = now
	return entry.limiter.AllowN(now, 1), nil
}

func (l *tokenLimiters) evict(now time.Time) {
	for key, entry := range l.limiters {
		if now.Sub(entry.lastSeen) > l.idle {
			delete(l.limiters, key)
		}
	}
	if len(l.limiters) >= maxTrackedTokens {
		l.limiters = make(map[string]*tokenLimiter)
	}
}
