package server

import (
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	apperrors "github.com/kosmostars/spacefeed/internal/errors"
)

const (
	throttleSweepEvery = 3 * time.Minute
	throttleIdleAfter  = 5 * time.Minute
)

type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RefreshThrottle limits manual refresh requests per client address.
type RefreshThrottle struct {
	mu        sync.Mutex
	limiters  map[string]*clientLimiter
	rate      rate.Limit
	burst     int
	lastSweep time.Time
	now       func() time.Time
}

// NewRefreshThrottle allows rps requests per second per client with the given
// burst. A non-positive rps disables throttling.
func NewRefreshThrottle(rps float64, burst int) *RefreshThrottle {
	if burst < 1 {
		burst = 1
	}
	return &RefreshThrottle{
		limiters: make(map[string]*clientLimiter),
		rate:     rate.Limit(rps),
		burst:    burst,
		now:      time.Now,
	}
}

// Allow consumes one token for client.
func (t *RefreshThrottle) Allow(client string) bool {
	if t == nil || t.rate <= 0 {
		return true
	}
	return t.limiterFor(client).AllowN(t.now(), 1)
}

func (t *RefreshThrottle) limiterFor(client string) *rate.Limiter {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	if now.Sub(t.lastSweep) > throttleSweepEvery {
		for key, l := range t.limiters {
			if now.Sub(l.lastSeen) > throttleIdleAfter {
				delete(t.limiters, key)
			}
		}
		t.lastSweep = now
	}

	if l, ok := t.limiters[client]; ok {
		l.lastSeen = now
		return l.limiter
	}
	limiter := rate.NewLimiter(t.rate, t.burst)
	t.limiters[client] = &clientLimiter{limiter: limiter, lastSeen: now}
	return limiter
}

// Middleware rejects requests over the budget with 429 RATE_LIMITED.
func (t *RefreshThrottle) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !t.Allow(clientAddr(r)) {
			retryAfter := 1
			if t.rate > 0 && float64(t.rate) < 1 {
				retryAfter = int(1.0 / float64(t.rate))
			}
			w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
			HandleError(w, r, apperrors.NewRateLimitedError("too many refresh requests"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// clientAddr strips the port chi's RealIP middleware may leave on RemoteAddr.
func clientAddr(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
