package ws

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/arkline/chatmesh/internal/chat"
	"github.com/arkline/chatmesh/internal/session"
	"github.com/arkline/chatmesh/internal/storage"
	"github.com/arkline/chatmesh/pkg/errors"
	"github.com/arkline/chatmesh/pkg/json"
	"github.com/arkline/chatmesh/pkg/metrics"
)

const defaultHistoryLimit = 50

// Authenticator resolves a connection request to a user identity.
type Authenticator interface {
	Authenticate(r *http.Request) (*chat.User, error)
}

// Handler terminates client WebSocket connections: it authenticates the
// handshake, registers sessions, primes room subscriptions, and
// translates inbound frames into domain requests.
type Handler struct {
	registry *session.Registry
	sender   *chat.Sender
	store    storage.Store
	auth     Authenticator
	upgrader websocket.Upgrader
	log      *zap.Logger
}

// NewHandler creates the WebSocket connection handler.
func NewHandler(registry *session.Registry, sender *chat.Sender, store storage.Store, auth Authenticator, allowedOrigins string, log *zap.Logger) *Handler {
	return &Handler{
		registry: registry,
		sender:   sender,
		store:    store,
		auth:     auth,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     originChecker(allowedOrigins),
		},
		log: log.With(zap.String("module", "ws")),
	}
}

// ServeHTTP upgrades the connection, registers the session, and primes
// this process's bus subscription for each room the user is an active
// member of.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	user, err := h.auth.Authenticate(r)
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	client := newClient(conn, *user, h.log)
	h.registry.AddSession(user.ID, client)
	h.log.Info("client connected", zap.String("user_id", user.ID), zap.String("remote", r.RemoteAddr))

	ctx := context.Background()
	rooms, err := h.store.FindActiveRoomsForUser(ctx, user.ID)
	if err != nil {
		h.log.Warn("failed to load rooms for user", zap.String("user_id", user.ID), zap.Error(err))
	}
	for _, roomID := range rooms {
		if err := h.registry.JoinRoom(ctx, user.ID, roomID); err != nil {
			h.log.Warn("failed to join room",
				zap.String("user_id", user.ID), zap.String("room_id", roomID), zap.Error(err))
		}
	}

	go client.writePump()
	go h.readPump(client)
}

// readPump pumps frames from the WebSocket connection into the domain.
// It owns the connection's lifecycle: when the read loop exits, the
// session is removed.
func (h *Handler) readPump(c *Client) {
	defer func() {
		h.registry.RemoveSession(context.Background(), c.user.ID, c)
		c.Close()
		h.log.Info("client disconnected", zap.String("user_id", c.user.ID))
	}()
	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.log.Warn("read error", zap.String("user_id", c.user.ID), zap.Error(err))
			}
			return
		}

		var frame chat.ClientFrame
		if err := json.Unmarshal(raw, &frame); err != nil {
			h.log.Warn("dropping malformed frame", zap.String("user_id", c.user.ID), zap.Error(err))
			continue
		}

		switch frame.Type {
		case chat.FrameChatSend:
			h.handleSend(c, frame)
		case chat.FrameChatHistory:
			h.handleHistory(c, frame)
		default:
			h.log.Debug("ignoring unknown frame type",
				zap.String("user_id", c.user.ID), zap.String("type", frame.Type))
		}
	}
}

func (h *Handler) handleSend(c *Client, frame chat.ClientFrame) {
	_, err := h.sender.Send(context.Background(), chat.SendRequest{
		RoomID:   frame.RoomID,
		SenderID: c.user.ID,
		Content:  frame.Content,
	})
	if err != nil {
		h.sendError(c, err)
	}
}

func (h *Handler) handleHistory(c *Client, frame chat.ClientFrame) {
	messages, err := h.fetchHistory(context.Background(), c.user.ID, frame.RoomID, frame.Limit)
	if err != nil {
		h.sendError(c, err)
		return
	}
	for i := range messages {
		data, err := chat.EncodeMessageFrame(&messages[i])
		if err != nil {
			h.log.Error("failed to encode history frame", zap.Error(err))
			return
		}
		if err := c.WriteMessage(data); err != nil {
			return
		}
		metrics.LocalDeliveries.Inc()
	}
}

// fetchHistory loads recent room messages for a user, enforcing the same
// membership policy as send and fan-out. The limit is clamped to 1..200
// with a default of 50.
func (h *Handler) fetchHistory(ctx context.Context, userID, roomID string, limit int) ([]chat.Message, error) {
	member, err := h.store.IsActiveMember(ctx, roomID, userID)
	if err != nil {
		return nil, err
	}
	if !member {
		return nil, errors.ErrNotRoomMember
	}
	if limit <= 0 || limit > 200 {
		limit = defaultHistoryLimit
	}
	return h.store.FindRecentMessages(ctx, roomID, limit)
}

// sendError reports a domain failure back on the connection; internal
// failures are masked with a generic message.
func (h *Handler) sendError(c *Client, err error) {
	msg := "internal error"
	switch {
	case errors.Is(err, errors.ErrInvalidInput),
		errors.Is(err, errors.ErrRoomNotFound),
		errors.Is(err, errors.ErrUserNotFound),
		errors.Is(err, errors.ErrNotRoomMember):
		msg = err.Error()
	}
	data, encErr := chat.EncodeErrorFrame(msg)
	if encErr != nil {
		return
	}
	if wErr := c.WriteMessage(data); wErr != nil {
		h.log.Debug("failed to send error frame", zap.String("user_id", c.user.ID), zap.Error(wErr))
	}
}

// originChecker builds the upgrade origin check from a comma-separated
// allow list. An empty list allows any origin.
func originChecker(allowedOrigins string) func(r *http.Request) bool {
	if allowedOrigins == "" || allowedOrigins == "*" {
		return func(*http.Request) bool { return true }
	}
	allowed := strings.Split(allowedOrigins, ",")
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true // non-browser clients
		}
		for _, o := range allowed {
			if strings.TrimSpace(o) == origin {
				return true
			}
		}
		return false
	}
}
