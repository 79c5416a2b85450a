// Package feed keeps the in-process view of live quotes current and turns
// upstream entry signals into executor input.
package feed

import (
	"sync"

	"github.com/alanyoungcy/exitwatch/internal/domain"
)

// QuoteBook is the in-memory latest-quote table the scheduler reads from.
type QuoteBook struct {
	mu     sync.RWMutex
	quotes map[string]domain.Quote
}

// NewQuoteBook creates an empty QuoteBook.
func NewQuoteBook() *QuoteBook {
	return &QuoteBook{quotes: make(map[string]domain.Quote)}
}

var _ domain.QuoteSource = (*QuoteBook)(nil)

// Quote returns the latest quote for instrument.
func (b *QuoteBook) Quote(instrument string) (domain.Quote, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	q, ok := b.quotes[instrument]
	return q, ok
}

// Update stores q unless it is older than the quote already held or has a
// non-positive side. It reports whether the book changed.
func (b *QuoteBook) Update(q domain.Quote) bool {
	if q.Instrument == "" || q.Bid <= 0 || q.Ask <= 0 {
		return false
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if cur, ok := b.quotes[q.Instrument]; ok && q.Timestamp.Before(cur.Timestamp) {
		return false
	}
	b.quotes[q.Instrument] = q
	return true
}

// Snapshot returns a copy of every quote held.
func (b *QuoteBook) Snapshot() map[string]domain.Quote {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make(map[string]domain.Quote, len(b.quotes))
	for k, v := range b.quotes {
		out[k] = v
	}
	return out
}
