package storage

import (
	"context"
	"errors"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/arkline/chatmesh/internal/chat"
	pkgerrors "github.com/arkline/chatmesh/pkg/errors"
)

// BreakerStore decorates a Store with a circuit breaker so a failing
// persistence backend trips fast instead of stalling the fan-out path on
// every membership check.
type BreakerStore struct {
	inner Store
	cb    *gobreaker.CircuitBreaker
}

// NewBreakerStore wraps the store with circuit-breaker protection.
func NewBreakerStore(inner Store, log *zap.Logger) *BreakerStore {
	settings := gobreaker.Settings{
		Name:    "storage",
		Timeout: 15 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		IsSuccessful: func(err error) bool {
			// Domain misses are answers, not backend failures.
			return err == nil || errors.Is(err, pkgerrors.ErrUserNotFound)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("storage circuit breaker state change",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	}
	return &BreakerStore{
		inner: inner,
		cb:    gobreaker.NewCircuitBreaker(settings),
	}
}

func (s *BreakerStore) PersistMessage(ctx context.Context, msg *chat.Message) (*chat.Message, error) {
	res, err := s.cb.Execute(func() (interface{}, error) {
		return s.inner.PersistMessage(ctx, msg)
	})
	if err != nil {
		return nil, err
	}
	return res.(*chat.Message), nil
}

func (s *BreakerStore) IsActiveMember(ctx context.Context, roomID, userID string) (bool, error) {
	res, err := s.cb.Execute(func() (interface{}, error) {
		return s.inner.IsActiveMember(ctx, roomID, userID)
	})
	if err != nil {
		return false, err
	}
	return res.(bool), nil
}

func (s *BreakerStore) FindActiveRoomsForUser(ctx context.Context, userID string) ([]string, error) {
	res, err := s.cb.Execute(func() (interface{}, error) {
		return s.inner.FindActiveRoomsForUser(ctx, userID)
	})
	if err != nil {
		return nil, err
	}
	return res.([]string), nil
}

func (s *BreakerStore) RoomExists(ctx context.Context, roomID string) (bool, error) {
	res, err := s.cb.Execute(func() (interface{}, error) {
		return s.inner.RoomExists(ctx, roomID)
	})
	if err != nil {
		return false, err
	}
	return res.(bool), nil
}

func (s *BreakerStore) FindUser(ctx context.Context, userID string) (*chat.User, error) {
	res, err := s.cb.Execute(func() (interface{}, error) {
		return s.inner.FindUser(ctx, userID)
	})
	if err != nil {
		return nil, err
	}
	return res.(*chat.User), nil
}

func (s *BreakerStore) FindRecentMessages(ctx context.Context, roomID string, limit int) ([]chat.Message, error) {
	res, err := s.cb.Execute(func() (interface{}, error) {
		return s.inner.FindRecentMessages(ctx, roomID, limit)
	})
	if err != nil {
		return nil, err
	}
	return res.([]chat.Message), nil
}
