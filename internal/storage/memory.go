package storage

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/arkline/chatmesh/internal/chat"
	"github.com/arkline/chatmesh/pkg/errors"
)

// MemoryStore is an in-memory Store used in tests and single-process
// development setups.
type MemoryStore struct {
	mu       sync.RWMutex
	rooms    map[string]struct{}
	users    map[string]chat.User
	members  map[string]map[string]bool // roomID -> userID -> active
	messages map[string][]chat.Message  // roomID -> messages in insert order
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		rooms:    make(map[string]struct{}),
		users:    make(map[string]chat.User),
		members:  make(map[string]map[string]bool),
		messages: make(map[string][]chat.Message),
	}
}

// AddRoom registers a room.
func (s *MemoryStore) AddRoom(roomID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rooms[roomID] = struct{}{}
}

// AddUser registers a user.
func (s *MemoryStore) AddUser(user chat.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[user.ID] = user
}

// AddMember marks the user as an active member of the room.
func (s *MemoryStore) AddMember(roomID, userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.members[roomID] == nil {
		s.members[roomID] = make(map[string]bool)
	}
	s.members[roomID][userID] = true
}

// RemoveMember deactivates the user's membership of the room.
func (s *MemoryStore) RemoveMember(roomID, userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.members[roomID] != nil {
		s.members[roomID][userID] = false
	}
}

// PersistMessage stores the message and assigns its id.
func (s *MemoryStore) PersistMessage(_ context.Context, msg *chat.Message) (*chat.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored := *msg
	stored.ID = uuid.NewString()
	s.messages[stored.RoomID] = append(s.messages[stored.RoomID], stored)
	return &stored, nil
}

// IsActiveMember reports whether the user is an active member of the room.
func (s *MemoryStore) IsActiveMember(_ context.Context, roomID, userID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.members[roomID][userID], nil
}

// FindActiveRoomsForUser returns the rooms the user is an active member of.
func (s *MemoryStore) FindActiveRoomsForUser(_ context.Context, userID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var rooms []string
	for roomID, members := range s.members {
		if members[userID] {
			rooms = append(rooms, roomID)
		}
	}
	return rooms, nil
}

// RoomExists reports whether the room exists.
func (s *MemoryStore) RoomExists(_ context.Context, roomID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.rooms[roomID]
	return ok, nil
}

// FindUser returns the user, or errors.ErrUserNotFound.
func (s *MemoryStore) FindUser(_ context.Context, userID string) (*chat.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	user, ok := s.users[userID]
	if !ok {
		return nil, errors.ErrUserNotFound
	}
	return &user, nil
}

// FindRecentMessages returns up to limit most recent messages in
// ascending sequence order.
func (s *MemoryStore) FindRecentMessages(_ context.Context, roomID string, limit int) ([]chat.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	msgs := s.messages[roomID]
	if len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	out := make([]chat.Message, len(msgs))
	copy(out, msgs)
	return out, nil
}
