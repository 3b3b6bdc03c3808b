package sequence

import (
	"context"
	"sync"
	"testing"

	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeIncrementer simulates the shared atomic counter store.
type fakeIncrementer struct {
	mu       sync.Mutex
	counters map[string]int64
	err      error
}

func newFakeIncrementer() *fakeIncrementer {
	return &fakeIncrementer{counters: make(map[string]int64)}
}

func (f *fakeIncrementer) Incr(_ context.Context, key string) *goredis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return goredis.NewIntResult(0, f.err)
	}
	f.counters[key]++
	return goredis.NewIntResult(f.counters[key], nil)
}

func TestAssigner_NextStrictlyIncreasing(t *testing.T) {
	a := NewAssigner(newFakeIncrementer())
	ctx := context.Background()

	var prev int64
	for i := 0; i < 100; i++ {
		seq, err := a.Next(ctx, "room-1")
		require.NoError(t, err)
		assert.Greater(t, seq, prev)
		prev = seq
	}
}

func TestAssigner_RoomsAreIndependent(t *testing.T) {
	a := NewAssigner(newFakeIncrementer())
	ctx := context.Background()

	seq1, err := a.Next(ctx, "room-1")
	require.NoError(t, err)
	seq2, err := a.Next(ctx, "room-2")
	require.NoError(t, err)

	assert.Equal(t, int64(1), seq1)
	assert.Equal(t, int64(1), seq2)
}

func TestAssigner_SharedStoreOrdersAcrossAssigners(t *testing.T) {
	// Two assigners on the same store simulate two server processes.
	store := newFakeIncrementer()
	a1 := NewAssigner(store)
	a2 := NewAssigner(store)
	ctx := context.Background()

	seen := make(map[int64]struct{})
	for i := 0; i < 50; i++ {
		for _, a := range []*Assigner{a1, a2} {
			seq, err := a.Next(ctx, "room-1")
			require.NoError(t, err)
			_, dup := seen[seq]
			require.False(t, dup, "sequence %d assigned twice", seq)
			seen[seq] = struct{}{}
		}
	}
	assert.Len(t, seen, 100)
}

func TestAssigner_MissingCounterYieldsOne(t *testing.T) {
	store := newFakeIncrementer()
	store.err = goredis.Nil
	a := NewAssigner(store)

	seq, err := a.Next(context.Background(), "room-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), seq)
}

func TestAssigner_StoreErrorPropagates(t *testing.T) {
	store := newFakeIncrementer()
	store.err = assert.AnError
	a := NewAssigner(store)

	_, err := a.Next(context.Background(), "room-1")
	assert.Error(t, err)
}
