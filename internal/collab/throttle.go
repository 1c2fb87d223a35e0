package collab

import (
	"sync"
	"time"
)

// Default outbound coalescing intervals. Cursor and text-caret broadcasts
// are per-collaborator streams; content updates coalesce per note.
const (
	DefaultCursorThrottle     = 50 * time.Millisecond
	DefaultContentThrottle    = 80 * time.Millisecond
	DefaultTextCursorThrottle = 50 * time.Millisecond
)

// Gate rate-limits an outbound broadcast stream per key. The policy is
// drop-oldest: a message is sent immediately when the interval since the
// last send for its key has elapsed, otherwise it is dropped outright -
// never queued or delayed for a trailing send. Intermediate states are
// expendable because every throttled stream is latest-value-wins on the
// receiving side.
type Gate struct {
	mu       sync.Mutex
	interval time.Duration
	now      func() time.Time
	last     map[string]time.Time
}

// NewGate creates a gate with the given minimum send interval.
func NewGate(interval time.Duration) *Gate {
	return &Gate{
		interval: interval,
		now:      time.Now,
		last:     make(map[string]time.Time),
	}
}

// Allow reports whether a message for key may be sent now, recording the
// send time when it may. The first call for any key is always allowed.
func (g *Gate) Allow(key string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	if last, ok := g.last[key]; ok && now.Sub(last) < g.interval {
		return false
	}
	g.last[key] = now
	return true
}

// Forget drops the state for a key, typically when its subject is deleted.
func (g *Gate) Forget(key string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	delete(g.last, key)
}
