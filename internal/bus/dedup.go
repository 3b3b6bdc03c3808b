package bus

import (
	"sync"
	"time"

	"github.com/arkline/chatmesh/pkg/metrics"
)

const (
	// DefaultLedgerTTL is how long a delivered envelope id is remembered.
	DefaultLedgerTTL = 60 * time.Second
	// DefaultLedgerCap bounds the ledger independently of the TTL.
	DefaultLedgerCap = 10000
)

// Ledger records recently delivered envelope ids so a re-delivered
// envelope is not handed to local connections twice. Entries expire after
// a TTL; the ledger is additionally bounded by a hard cap, evicting the
// oldest entries first when exceeded.
type Ledger struct {
	mu      sync.Mutex
	entries map[string]int64 // envelope id -> receipt epoch millis
	order   []string         // receipt order, oldest first
	ttl     time.Duration
	cap     int

	now func() time.Time
}

// NewLedger creates a ledger with the given TTL and size cap.
func NewLedger(ttl time.Duration, size int) *Ledger {
	return &Ledger{
		entries: make(map[string]int64),
		ttl:     ttl,
		cap:     size,
		now:     time.Now,
	}
}

// Seen reports whether the envelope id is already recorded.
func (l *Ledger) Seen(id string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.entries[id]
	return ok
}

// Record stores the envelope id with the current receipt time. When the
// cap is exceeded the oldest entries are evicted until the ledger is back
// at the cap.
func (l *Ledger) Record(id string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.entries[id]; !ok {
		l.order = append(l.order, id)
	}
	l.entries[id] = l.now().UnixMilli()

	for len(l.entries) > l.cap && len(l.order) > 0 {
		oldest := l.order[0]
		l.order = l.order[1:]
		delete(l.entries, oldest)
	}
	metrics.DedupLedgerSize.Set(float64(len(l.entries)))
}

// Sweep removes entries older than the TTL and returns how many were
// removed.
func (l *Ledger) Sweep() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := l.now().Add(-l.ttl).UnixMilli()
	removed := 0
	kept := l.order[:0]
	for _, id := range l.order {
		at, ok := l.entries[id]
		if !ok {
			continue
		}
		if at < cutoff {
			delete(l.entries, id)
			removed++
			continue
		}
		kept = append(kept, id)
	}
	l.order = kept
	metrics.DedupLedgerSize.Set(float64(len(l.entries)))
	return removed
}

// Len returns the number of recorded envelope ids.
func (l *Ledger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}
