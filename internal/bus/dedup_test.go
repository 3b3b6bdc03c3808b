package bus

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLedger_SeenAndRecord(t *testing.T) {
	l := NewLedger(DefaultLedgerTTL, DefaultLedgerCap)

	assert.False(t, l.Seen("env-1"))
	l.Record("env-1")
	assert.True(t, l.Seen("env-1"))
	assert.False(t, l.Seen("env-2"))
	assert.Equal(t, 1, l.Len())

	// Re-recording the same id does not grow the ledger.
	l.Record("env-1")
	assert.Equal(t, 1, l.Len())
}

func TestLedger_SweepRemovesExpired(t *testing.T) {
	l := NewLedger(60*time.Second, DefaultLedgerCap)
	now := time.Unix(1700000000, 0)
	l.now = func() time.Time { return now }

	l.Record("old-1")
	l.Record("old-2")

	now = now.Add(30 * time.Second)
	l.Record("fresh")

	now = now.Add(31 * time.Second) // old-* are now 61s old, fresh is 31s old
	removed := l.Sweep()

	assert.Equal(t, 2, removed)
	assert.Equal(t, 1, l.Len())
	assert.False(t, l.Seen("old-1"))
	assert.False(t, l.Seen("old-2"))
	assert.True(t, l.Seen("fresh"))
}

func TestLedger_SweepNothingExpired(t *testing.T) {
	l := NewLedger(60*time.Second, DefaultLedgerCap)
	l.Record("env-1")
	assert.Equal(t, 0, l.Sweep())
	assert.True(t, l.Seen("env-1"))
}

func TestLedger_CapEvictsOldestFirst(t *testing.T) {
	l := NewLedger(DefaultLedgerTTL, 10000)

	for i := 0; i < 10050; i++ {
		l.Record(fmt.Sprintf("env-%d", i))
	}

	assert.Equal(t, 10000, l.Len())
	// The 50 oldest ids were evicted, the 10,000 most recent remain.
	for i := 0; i < 50; i++ {
		assert.False(t, l.Seen(fmt.Sprintf("env-%d", i)), "env-%d should have been evicted", i)
	}
	assert.True(t, l.Seen("env-50"))
	assert.True(t, l.Seen("env-10049"))
}
