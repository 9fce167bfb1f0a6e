// Package guard tracks whether a human is using the send surface.
package guard

import (
	"sync"
	"time"
)

const DefaultDebounce = 1500 * time.Millisecond

// Guard is active from an interaction signal until the debounce elapses
// without another signal, or until End is called.
//
// Expiry is a deadline comparison on the monotonic clock, so the Guard owns
// no timers or goroutines.
type Guard struct {
	mu       sync.Mutex
	debounce time.Duration
	until    time.Time
	now      func() time.Time
}

func New(debounce time.Duration) *Guard {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	return &Guard{debounce: debounce, now: time.Now}
}

// SetDebounce affects subsequent Touch calls.
func (g *Guard) SetDebounce(d time.Duration) {
	if d <= 0 {
		d = DefaultDebounce
	}
	g.mu.Lock()
	g.debounce = d
	g.mu.Unlock()
}

// Touch records an interaction and restarts the debounce.
func (g *Guard) Touch() {
	g.mu.Lock()
	g.until = g.now().Add(g.debounce)
	g.mu.Unlock()
}

// End clears the active state immediately.
func (g *Guard) End() {
	g.mu.Lock()
	g.until = time.Time{}
	g.mu.Unlock()
}

func (g *Guard) IsActive() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return !g.until.IsZero() && g.now().Before(g.until)
}

// InteractionStarted and InteractionEnded let the Guard be handed to
// sources as their foreground signal target.
func (g *Guard) InteractionStarted() { g.Touch() }
func (g *Guard) InteractionEnded()   { g.End() }
