package engine

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"
)

// Guard serializes work per key. A second caller for a held key waits for the
// holder to finish and then runs its own body; results are never shared.
// Keys are independent of each other.
type Guard struct {
	mu    sync.Mutex
	slots map[string]*guardSlot
}

type guardSlot struct {
	sem     *semaphore.Weighted
	holders int
	waiting int
}

// NewGuard creates an empty guard.
func NewGuard() *Guard {
	return &Guard{slots: make(map[string]*guardSlot)}
}

// Do runs fn while holding key. It returns ctx.Err() if ctx ends while waiting.
func (g *Guard) Do(ctx context.Context, key string, fn func(context.Context) error) error {
	slot := g.slot(key)

	g.mu.Lock()
	slot.waiting++
	g.mu.Unlock()

	err := slot.sem.Acquire(ctx, 1)

	g.mu.Lock()
	slot.waiting--
	if err == nil {
		slot.holders++
	}
	g.mu.Unlock()
	if err != nil {
		return err
	}

	defer func() {
		g.mu.Lock()
		slot.holders--
		g.mu.Unlock()
		slot.sem.Release(1)
	}()

	return fn(ctx)
}

// Held reports whether key currently has a holder.
func (g *Guard) Held(key string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	slot, ok := g.slots[key]
	return ok && slot.holders > 0
}

// Waiting returns the number of callers queued on key.
func (g *Guard) Waiting(key string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	if slot, ok := g.slots[key]; ok {
		return slot.waiting
	}
	return 0
}

func (g *Guard) slot(key string) *guardSlot {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.slots == nil {
		g.slots = make(map[string]*guardSlot)
	}
	slot, ok := g.slots[key]
	if !ok {
		slot = &guardSlot{sem: semaphore.NewWeighted(1)}
		g.slots[key] = slot
	}
	return slot
}
