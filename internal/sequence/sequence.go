package sequence

import (
	"context"
	"errors"
	"fmt"

	goredis "github.com/redis/go-redis/v9"

	"github.com/arkline/chatmesh/pkg/redis"
)

// Incrementer is the atomic-increment primitive of the shared store.
type Incrementer interface {
	Incr(ctx context.Context, key string) *goredis.IntCmd
}

// Assigner hands out strictly increasing, room-scoped ordering numbers
// shared by all server processes. Every call is one round trip to the
// store; there is no local caching or batching, so the total order holds
// across processes without local coordination.
type Assigner struct {
	store Incrementer
	kb    *redis.KeyBuilder
}

// NewAssigner creates a sequence assigner over the shared counter store.
func NewAssigner(store Incrementer) *Assigner {
	return &Assigner{
		store: store,
		kb:    redis.NewKeyBuilder(redis.NamespaceChat, redis.ContextSequence),
	}
}

// Next atomically increments the room's counter and returns the new
// value. A missing counter yields 1.
func (a *Assigner) Next(ctx context.Context, roomID string) (int64, error) {
	seq, err := a.store.Incr(ctx, a.kb.Build("room", roomID)).Result()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return 1, nil
		}
		return 0, fmt.Errorf("failed to assign sequence for room %s: %w", roomID, err)
	}
	return seq, nil
}
