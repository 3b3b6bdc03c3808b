package storage

import (
	"context"
	"testing"

	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/arkline/chatmesh/internal/chat"
	pkgerrors "github.com/arkline/chatmesh/pkg/errors"
)

// flakyStore fails every call until healed.
type flakyStore struct {
	Store
	failing bool
	userErr error
}

func (f *flakyStore) RoomExists(ctx context.Context, roomID string) (bool, error) {
	if f.failing {
		return false, assert.AnError
	}
	return f.Store.RoomExists(ctx, roomID)
}

func (f *flakyStore) FindUser(ctx context.Context, userID string) (*chat.User, error) {
	if f.userErr != nil {
		return nil, f.userErr
	}
	return f.Store.FindUser(ctx, userID)
}

func newFlaky() *flakyStore {
	mem := NewMemoryStore()
	mem.AddRoom("room-1")
	mem.AddUser(chat.User{ID: "u1", Name: "User One"})
	return &flakyStore{Store: mem}
}

func TestBreakerStore_PassesThroughWhenHealthy(t *testing.T) {
	store := NewBreakerStore(newFlaky(), zap.NewNop())

	exists, err := store.RoomExists(context.Background(), "room-1")
	require.NoError(t, err)
	assert.True(t, exists)

	user, err := store.FindUser(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, "User One", user.Name)
}

func TestBreakerStore_OpensAfterConsecutiveFailures(t *testing.T) {
	flaky := newFlaky()
	flaky.failing = true
	store := NewBreakerStore(flaky, zap.NewNop())

	for i := 0; i < 5; i++ {
		_, err := store.RoomExists(context.Background(), "room-1")
		assert.ErrorIs(t, err, assert.AnError)
	}

	// The sixth call is rejected by the open breaker without reaching
	// the backend, even though the backend has recovered.
	flaky.failing = false
	_, err := store.RoomExists(context.Background(), "room-1")
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
}

func TestBreakerStore_UserNotFoundDoesNotTrip(t *testing.T) {
	flaky := newFlaky()
	flaky.userErr = pkgerrors.ErrUserNotFound
	store := NewBreakerStore(flaky, zap.NewNop())

	for i := 0; i < 10; i++ {
		_, err := store.FindUser(context.Background(), "nobody")
		assert.ErrorIs(t, err, pkgerrors.ErrUserNotFound)
	}

	// Lookup misses are not backend failures, so real calls still pass.
	exists, err := store.RoomExists(context.Background(), "room-1")
	require.NoError(t, err)
	assert.True(t, exists)
}
