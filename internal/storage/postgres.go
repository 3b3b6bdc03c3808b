package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq" // postgres driver
	"go.uber.org/zap"

	"github.com/arkline/chatmesh/internal/chat"
	"github.com/arkline/chatmesh/pkg/errors"
)

// PostgresStore implements Store over a Postgres database.
type PostgresStore struct {
	db  *sql.DB
	log *zap.Logger
}

// NewPostgresStore opens a Postgres connection pool and verifies it.
func NewPostgresStore(dsn string, log *zap.Logger) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	return &PostgresStore{
		db:  db,
		log: log.With(zap.String("module", "postgres_store")),
	}, nil
}

// NewPostgresStoreWithDB wraps an existing connection pool.
func NewPostgresStoreWithDB(db *sql.DB, log *zap.Logger) *PostgresStore {
	return &PostgresStore{
		db:  db,
		log: log.With(zap.String("module", "postgres_store")),
	}
}

// Close closes the underlying connection pool.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

// PersistMessage stores the message and returns a copy carrying the
// assigned id.
func (s *PostgresStore) PersistMessage(ctx context.Context, msg *chat.Message) (*chat.Message, error) {
	stored := *msg
	stored.ID = uuid.NewString()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (id, room_id, sender_id, sender_name, content, type, sequence_number, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		stored.ID, stored.RoomID, stored.SenderID, stored.SenderName,
		stored.Content, string(stored.Type), stored.SequenceNumber, stored.Timestamp,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to persist message: %w", err)
	}
	return &stored, nil
}

// IsActiveMember reports whether the user is an active member of the room.
func (s *PostgresStore) IsActiveMember(ctx context.Context, roomID, userID string) (bool, error) {
	var member bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM room_members WHERE room_id = $1 AND user_id = $2 AND active)`,
		roomID, userID,
	).Scan(&member)
	if err != nil {
		return false, fmt.Errorf("failed to check room membership: %w", err)
	}
	return member, nil
}

// FindActiveRoomsForUser returns the ids of the rooms the user is an
// active member of.
func (s *PostgresStore) FindActiveRoomsForUser(ctx context.Context, userID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT room_id FROM room_members WHERE user_id = $1 AND active`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query active rooms: %w", err)
	}
	defer rows.Close()

	var rooms []string
	for rows.Next() {
		var roomID string
		if err := rows.Scan(&roomID); err != nil {
			return nil, fmt.Errorf("failed to scan room id: %w", err)
		}
		rooms = append(rooms, roomID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate active rooms: %w", err)
	}
	return rooms, nil
}

// RoomExists reports whether the room exists.
func (s *PostgresStore) RoomExists(ctx context.Context, roomID string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM rooms WHERE id = $1)`,
		roomID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check room existence: %w", err)
	}
	return exists, nil
}

// FindUser returns the user, or errors.ErrUserNotFound.
func (s *PostgresStore) FindUser(ctx context.Context, userID string) (*chat.User, error) {
	var user chat.User
	err := s.db.QueryRowContext(ctx,
		`SELECT id, display_name FROM users WHERE id = $1`,
		userID,
	).Scan(&user.ID, &user.Name)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	return &user, nil
}

// FindRecentMessages returns up to limit most recent messages of the room
// in ascending sequence order.
func (s *PostgresStore) FindRecentMessages(ctx context.Context, roomID string, limit int) ([]chat.Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, room_id, sender_id, sender_name, content, type, sequence_number, created_at
		 FROM messages WHERE room_id = $1
		 ORDER BY sequence_number DESC LIMIT $2`,
		roomID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query recent messages: %w", err)
	}
	defer rows.Close()

	var messages []chat.Message
	for rows.Next() {
		var msg chat.Message
		var msgType string
		if err := rows.Scan(&msg.ID, &msg.RoomID, &msg.SenderID, &msg.SenderName,
			&msg.Content, &msgType, &msg.SequenceNumber, &msg.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		msg.Type = chat.MessageType(msgType)
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate messages: %w", err)
	}

	// Query returns newest first; callers expect ascending sequence order.
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, nil
}
