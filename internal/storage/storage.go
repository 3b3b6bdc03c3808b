package storage

import (
	"context"

	"github.com/arkline/chatmesh/internal/chat"
)

// Store is the persistence collaborator consumed by the fan-out core.
// Implementations persist rooms, users, memberships and messages; the
// fan-out layer only ever asks these questions.
type Store interface {
	// PersistMessage stores the message and returns it with its assigned id.
	PersistMessage(ctx context.Context, msg *chat.Message) (*chat.Message, error)
	// IsActiveMember reports whether the user is an active member of the room.
	IsActiveMember(ctx context.Context, roomID, userID string) (bool, error)
	// FindActiveRoomsForUser returns the rooms the user is an active member of.
	FindActiveRoomsForUser(ctx context.Context, userID string) ([]string, error)
	// RoomExists reports whether the room exists.
	RoomExists(ctx context.Context, roomID string) (bool, error)
	// FindUser returns the user, or errors.ErrUserNotFound.
	FindUser(ctx context.Context, userID string) (*chat.User, error)
	// FindRecentMessages returns up to limit most recent messages of the
	// room in ascending sequence order.
	FindRecentMessages(ctx context.Context, roomID string, limit int) ([]chat.Message, error)
}
