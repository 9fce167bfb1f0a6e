// Package dedup suppresses repeated identity keys inside a sliding window.
package dedup

import (
	"sync"
	"time"

	"livereply/internal/chat"
)

const (
	DefaultWindow = 2500 * time.Millisecond

	// pruneEvery bounds memory: every N lookups, expired entries are swept.
	pruneEvery = 256
)

// Deduplicator maps identity keys to the last time they were seen.
//
// A key checked again within the window is a duplicate. Every non-duplicate
// check records the key with the current time. Session-scoped keys never
// expire for the lifetime of the Deduplicator.
type Deduplicator struct {
	mu      sync.Mutex
	window  time.Duration
	seen    map[string]time.Time
	session map[string]struct{}
	calls   int
}

func New(window time.Duration) *Deduplicator {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Deduplicator{
		window:  window,
		seen:    map[string]time.Time{},
		session: map[string]struct{}{},
	}
}

// SetWindow changes the window for subsequent checks.
func (d *Deduplicator) SetWindow(window time.Duration) {
	if window <= 0 {
		window = DefaultWindow
	}
	d.mu.Lock()
	d.window = window
	d.mu.Unlock()
}

// IsDuplicate reports whether key was last seen less than the window before now.
// When it is not a duplicate, key is recorded at now.
func (d *Deduplicator) IsDuplicate(key string, now time.Time) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.maybePrune(now)
	if last, ok := d.seen[key]; ok && now.Sub(last) < d.window {
		return true
	}
	d.seen[key] = now
	return false
}

// IsDuplicateScoped applies the window check for ScopeWindow and a
// once-per-session check for ScopeSession.
func (d *Deduplicator) IsDuplicateScoped(key string, scope chat.Scope, now time.Time) bool {
	if scope != chat.ScopeSession {
		return d.IsDuplicate(key, now)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.session[key]; ok {
		return true
	}
	d.session[key] = struct{}{}
	return false
}

// Len returns the number of tracked keys (window + session).
func (d *Deduplicator) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.seen) + len(d.session)
}

// Prune drops window entries that can no longer suppress anything.
func (d *Deduplicator) Prune(now time.Time) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.pruneLocked(now)
}

func (d *Deduplicator) maybePrune(now time.Time) {
	d.calls++
	if d.calls < pruneEvery {
		return
	}
	d.calls = 0
	d.pruneLocked(now)
}

func (d *Deduplicator) pruneLocked(now time.Time) int {
	n := 0
	for k, last := range d.seen {
		if now.Sub(last) >= d.window {
			delete(d.seen, k)
			n++
		}
	}
	return n
}
