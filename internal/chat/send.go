package chat

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/arkline/chatmesh/pkg/errors"
)

// Storage is the subset of the persistence collaborator the send path
// needs.
type Storage interface {
	RoomExists(ctx context.Context, roomID string) (bool, error)
	FindUser(ctx context.Context, userID string) (*User, error)
	IsActiveMember(ctx context.Context, roomID, userID string) (bool, error)
	PersistMessage(ctx context.Context, msg *Message) (*Message, error)
}

// SequenceAssigner hands out the next room-scoped ordering number.
type SequenceAssigner interface {
	Next(ctx context.Context, roomID string) (int64, error)
}

// LocalFanout delivers a message to this process's own connections.
type LocalFanout interface {
	SendLocalRoom(ctx context.Context, roomID string, msg *Message, excludeUserID string)
}

// BusPublisher fans a message out to the other server processes.
type BusPublisher interface {
	Publish(ctx context.Context, roomID string, msg *Message)
}

// SendRequest is one inbound request to post a message to a room.
type SendRequest struct {
	RoomID   string
	SenderID string
	Content  string
	Type     MessageType
}

// Sender validates, orders, persists and fans out chat messages. Local
// delivery happens before the bus publish so the sender's own process
// sees the message with the lowest latency; the publish carries this
// server's exclusion marker so it never double-delivers to itself.
type Sender struct {
	store    Storage
	sequence SequenceAssigner
	local    LocalFanout
	bus      BusPublisher
	log      *zap.Logger
}

// NewSender creates the send-message use case.
func NewSender(store Storage, sequence SequenceAssigner, local LocalFanout, bus BusPublisher, log *zap.Logger) *Sender {
	return &Sender{
		store:    store,
		sequence: sequence,
		local:    local,
		bus:      bus,
		log:      log.With(zap.String("module", "sender")),
	}
}

// Send runs one message through the full pipeline. Validation failures
// abort before any persistence or fan-out; bus publish failures are
// absorbed downstream and never fail the send.
func (s *Sender) Send(ctx context.Context, req SendRequest) (*Message, error) {
	if req.RoomID == "" || req.SenderID == "" || strings.TrimSpace(req.Content) == "" {
		return nil, errors.ErrInvalidInput
	}
	if req.Type == "" {
		req.Type = MessageTypeText
	}

	exists, err := s.store.RoomExists(ctx, req.RoomID)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, errors.ErrRoomNotFound
	}

	sender, err := s.store.FindUser(ctx, req.SenderID)
	if err != nil {
		return nil, err
	}

	member, err := s.store.IsActiveMember(ctx, req.RoomID, req.SenderID)
	if err != nil {
		return nil, err
	}
	if !member {
		return nil, errors.ErrNotRoomMember
	}

	seq, err := s.sequence.Next(ctx, req.RoomID)
	if err != nil {
		return nil, err
	}

	msg, err := s.store.PersistMessage(ctx, &Message{
		Content:        req.Content,
		Type:           req.Type,
		RoomID:         req.RoomID,
		SenderID:       sender.ID,
		SenderName:     sender.Name,
		SequenceNumber: seq,
		Timestamp:      time.Now(),
	})
	if err != nil {
		return nil, err
	}

	s.local.SendLocalRoom(ctx, req.RoomID, msg, req.SenderID)
	s.bus.Publish(ctx, req.RoomID, msg)

	s.log.Debug("message sent",
		zap.String("room_id", req.RoomID),
		zap.String("message_id", msg.ID),
		zap.Int64("sequence", seq),
	)
	return msg, nil
}
