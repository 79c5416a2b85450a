package executor

import (
	"sync"
	"time"
)

// Dedup prevents the same order identifier from being submitted more than
// once within a time-to-live window. It is safe for concurrent use.
type Dedup struct {
	seen map[string]time.Time // client order id -> last seen time
	ttl  time.Duration
	mu   sync.Mutex
	now  func() time.Time
}

// NewDedup creates a Dedup instance that considers an identifier a duplicate
// if it has been seen within the given ttl.
func NewDedup(ttl time.Duration) *Dedup {
	return &Dedup{
		seen: make(map[string]time.Time),
		ttl:  ttl,
		now:  time.Now,
	}
}

// IsDuplicate returns true if id has been seen within the TTL window. If it
// has not been seen (or has expired), it is recorded and false is returned.
func (d *Dedup) IsDuplicate(id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	if lastSeen, ok := d.seen[id]; ok {
		if now.Sub(lastSeen) < d.ttl {
			return true
		}
	}

	d.seen[id] = now
	return false
}

// Forget drops id so a failed submission can be retried inside the window.
func (d *Dedup) Forget(id string) {
	d.mu.Lock()
	delete(d.seen, id)
	d.mu.Unlock()
}

// Cleanup removes entries that have expired beyond the TTL. This should be
// called periodically to prevent unbounded memory growth.
func (d *Dedup) Cleanup() {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	for id, ts := range d.seen {
		if now.Sub(ts) >= d.ttl {
			delete(d.seen, id)
		}
	}
}

// Len returns the number of tracked identifiers.
func (d *Dedup) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.seen)
}
