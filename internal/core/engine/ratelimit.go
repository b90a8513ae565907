package engine

import (
	"context"
	"sync"
	"time"
)

// RateLimiter bounds outbound requests with a fixed-window permit bucket.
//
// At every window boundary the available count is reset to Capacity. Callers
// that find the bucket empty queue in arrival order and are served as soon as
// the next window opens. The window timer is owned by the limiter and only
// armed while callers are waiting.
//
// With an injected clock no timer is armed: real time says nothing about the
// injected one. Queued callers are then served by the first Acquire, Available
// or NextWindow call that observes a window boundary.
type RateLimiter struct {
	capacity int
	window   time.Duration
	clock    func() time.Time

	mu          sync.Mutex
	available   int
	windowStart time.Time
	started     bool
	waiters     []chan struct{}
	timer       *time.Timer
}

// RateLimit represents a permit budget per window.
type RateLimit struct {
	RequestsPerWindow int
	WindowDuration    time.Duration
}

// DefaultLimit is used when no budget is configured.
var DefaultLimit = RateLimit{RequestsPerWindow: 60, WindowDuration: time.Minute}

// NewRateLimiter creates a limiter. A nil clock uses time.Now and a real
// window timer.
func NewRateLimiter(limit RateLimit, clock func() time.Time) *RateLimiter {
	if limit.RequestsPerWindow < 1 {
		limit.RequestsPerWindow = DefaultLimit.RequestsPerWindow
	}
	if limit.WindowDuration <= 0 {
		limit.WindowDuration = DefaultLimit.WindowDuration
	}
	return &RateLimiter{
		capacity:  limit.RequestsPerWindow,
		window:    limit.WindowDuration,
		clock:     clock,
		available: limit.RequestsPerWindow,
	}
}

// Acquire blocks until a permit is granted or ctx is done.
func (r *RateLimiter) Acquire(ctx context.Context) error {
	if r == nil {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	r.refillLocked(r.now())
	if r.available > 0 && len(r.waiters) == 0 {
		r.available--
		r.mu.Unlock()
		return nil
	}

	grant := make(chan struct{}, 1)
	r.waiters = append(r.waiters, grant)
	r.armLocked()
	r.mu.Unlock()

	select {
	case <-grant:
		return nil
	case <-ctx.Done():
		r.mu.Lock()
		if !r.dropWaiterLocked(grant) {
			// Granted while cancelling: hand the permit on.
			r.releaseLocked()
		}
		r.mu.Unlock()
		return ctx.Err()
	}
}

// Available returns the permits left in the current window.
func (r *RateLimiter) Available() int {
	if r == nil {
		return 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.refillLocked(r.now())
	return r.available
}

// Waiting returns the number of queued callers.
func (r *RateLimiter) Waiting() int {
	if r == nil {
		return 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.waiters)
}

// Limit returns the configured budget.
func (r *RateLimiter) Limit() RateLimit {
	if r == nil {
		return RateLimit{}
	}
	return RateLimit{RequestsPerWindow: r.capacity, WindowDuration: r.window}
}

// NextWindow returns when the current window ends.
func (r *RateLimiter) NextWindow() time.Time {
	if r == nil {
		return time.Time{}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now()
	r.refillLocked(now)
	if !r.started {
		return now
	}
	return r.windowStart.Add(r.window)
}

// refillLocked starts the first window on first use and resets the bucket once
// a boundary has passed. Queued callers are served first.
func (r *RateLimiter) refillLocked(now time.Time) {
	if !r.started {
		r.started = true
		r.windowStart = now
		return
	}
	elapsed := now.Sub(r.windowStart)
	if elapsed < r.window {
		return
	}
	r.windowStart = r.windowStart.Add(elapsed.Truncate(r.window))
	r.available = r.capacity
	for r.available > 0 && len(r.waiters) > 0 {
		next := r.waiters[0]
		r.waiters = r.waiters[1:]
		r.available--
		next <- struct{}{}
	}
}

// releaseLocked returns an unused permit to the bucket or the next waiter.
func (r *RateLimiter) releaseLocked() {
	if len(r.waiters) > 0 {
		next := r.waiters[0]
		r.waiters = r.waiters[1:]
		next <- struct{}{}
		return
	}
	if r.available < r.capacity {
		r.available++
	}
}

func (r *RateLimiter) dropWaiterLocked(grant chan struct{}) bool {
	for i, w := range r.waiters {
		if w == grant {
			r.waiters = append(r.waiters[:i], r.waiters[i+1:]...)
			return true
		}
	}
	return false
}

func (r *RateLimiter) armLocked() {
	if r.clock != nil || r.timer != nil || len(r.waiters) == 0 {
		return
	}
	wait := r.windowStart.Add(r.window).Sub(r.now())
	if wait <= 0 {
		wait = time.Millisecond
	}
	r.timer = time.AfterFunc(wait, r.onBoundary)
}

func (r *RateLimiter) onBoundary() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.timer = nil
	r.refillLocked(r.now())
	r.armLocked()
}

func (r *RateLimiter) now() time.Time {
	if r != nil && r.clock != nil {
		return r.clock()
	}
	return time.Now()
}
