package session

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/arkline/chatmesh/internal/chat"
	"github.com/arkline/chatmesh/pkg/metrics"
)

// Conn is one live client connection owned by the registry.
type Conn interface {
	WriteMessage(data []byte) error
	Closed() bool
	Close() error
}

// Bus is the subscription surface of the broadcast bus driven by the
// registry.
type Bus interface {
	Subscribe(roomID string)
	Unsubscribe(roomID string)
}

// Directory is this server's entry in the shared subscription-directory
// store. Other processes never read it for correctness; this process uses
// it to decide idempotent subscribe/unsubscribe transitions.
type Directory interface {
	Contains(ctx context.Context, roomID string) (bool, error)
	Add(ctx context.Context, roomID string) error
	Rooms(ctx context.Context) ([]string, error)
	Clear(ctx context.Context) error
}

// MembershipChecker answers whether a user is an active member of a room.
type MembershipChecker interface {
	IsActiveMember(ctx context.Context, roomID, userID string) (bool, error)
}

// Registry tracks which users are connected to this process and which
// rooms this process listens to on the bus, and performs local fan-out.
// Bus and directory calls perform network I/O and are never made while
// holding the registry lock.
type Registry struct {
	bus       Bus
	directory Directory
	members   MembershipChecker
	log       *zap.Logger

	mu       sync.RWMutex
	sessions map[string]map[Conn]struct{} // userID -> live connections
}

// NewRegistry creates a session registry.
func NewRegistry(bus Bus, directory Directory, members MembershipChecker, log *zap.Logger) *Registry {
	return &Registry{
		bus:       bus,
		directory: directory,
		members:   members,
		log:       log.With(zap.String("module", "session")),
		sessions:  make(map[string]map[Conn]struct{}),
	}
}

// AddSession registers a connection for the user. A user may hold several
// concurrent connections (multi-device).
func (r *Registry) AddSession(userID string, conn Conn) {
	r.mu.Lock()
	set, ok := r.sessions[userID]
	if !ok {
		set = make(map[Conn]struct{})
		r.sessions[userID] = set
	}
	set[conn] = struct{}{}
	total := r.totalConnectionsLocked()
	r.mu.Unlock()

	metrics.ActiveConnections.Set(float64(total))
	r.log.Info("session added", zap.String("user_id", userID), zap.Int("total_connections", total))
}

// RemoveSession removes a connection for the user. When the last
// connection across all users on this process is gone, the process
// unsubscribes from every room in its subscription directory and clears
// the directory. The cleanup is whole-process on purpose: rooms are never
// unsubscribed one at a time.
func (r *Registry) RemoveSession(ctx context.Context, userID string, conn Conn) {
	r.mu.Lock()
	if set, ok := r.sessions[userID]; ok {
		delete(set, conn)
		if len(set) == 0 {
			delete(r.sessions, userID)
		}
	}
	total := r.totalConnectionsLocked()
	r.mu.Unlock()

	metrics.ActiveConnections.Set(float64(total))
	r.log.Info("session removed", zap.String("user_id", userID), zap.Int("total_connections", total))

	if total == 0 {
		r.unsubscribeAll(ctx)
	}
}

// JoinRoom ensures this process listens to the room's bus channel and
// records the room in the subscription directory. Both steps are
// idempotent.
func (r *Registry) JoinRoom(ctx context.Context, userID, roomID string) error {
	subscribed, err := r.directory.Contains(ctx, roomID)
	if err != nil {
		return err
	}
	if !subscribed {
		r.bus.Subscribe(roomID)
	}
	if err := r.directory.Add(ctx, roomID); err != nil {
		return err
	}
	r.log.Debug("user joined room", zap.String("user_id", userID), zap.String("room_id", roomID))
	return nil
}

// SendLocalRoom delivers the message to every locally-connected active
// member of the room, skipping excludeUserID. The frame is serialized
// once; a failed write marks that one connection for removal without
// affecting the user's other connections or other users.
func (r *Registry) SendLocalRoom(ctx context.Context, roomID string, msg *chat.Message, excludeUserID string) {
	data, err := chat.EncodeMessageFrame(msg)
	if err != nil {
		r.log.Error("failed to serialize message frame", zap.String("room_id", roomID), zap.Error(err))
		return
	}

	type userConns struct {
		userID string
		conns  []Conn
	}
	r.mu.RLock()
	users := make([]userConns, 0, len(r.sessions))
	for userID, set := range r.sessions {
		if userID == excludeUserID {
			continue
		}
		conns := make([]Conn, 0, len(set))
		for conn := range set {
			conns = append(conns, conn)
		}
		users = append(users, userConns{userID: userID, conns: conns})
	}
	r.mu.RUnlock()

	for _, u := range users {
		member, err := r.members.IsActiveMember(ctx, roomID, u.userID)
		if err != nil {
			r.log.Warn("membership check failed, skipping user",
				zap.String("user_id", u.userID), zap.String("room_id", roomID), zap.Error(err))
			continue
		}
		if !member {
			continue
		}

		var failed []Conn
		for _, conn := range u.conns {
			if err := conn.WriteMessage(data); err != nil {
				metrics.DeliveryFailures.Inc()
				r.log.Warn("write failed, removing connection",
					zap.String("user_id", u.userID), zap.String("room_id", roomID), zap.Error(err))
				failed = append(failed, conn)
				continue
			}
			metrics.LocalDeliveries.Inc()
		}
		if len(failed) > 0 {
			r.removeConns(u.userID, failed)
		}
	}
}

// IsUserOnlineLocally reports whether the user has at least one open
// connection on this process, lazily pruning closed connections. Pruning
// here never triggers the whole-process room cleanup; that rule fires only
// from RemoveSession.
func (r *Registry) IsUserOnlineLocally(userID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	set, ok := r.sessions[userID]
	if !ok {
		return false
	}
	var stale []Conn
	for conn := range set {
		if conn.Closed() {
			stale = append(stale, conn)
		}
	}
	for _, conn := range stale {
		delete(set, conn)
	}
	if len(set) == 0 {
		delete(r.sessions, userID)
		return false
	}
	return true
}

// ConnectionCount returns the total number of connections across all
// users on this process.
func (r *Registry) ConnectionCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.totalConnectionsLocked()
}

// Shutdown runs the unsubscribe-all pass over every room this process was
// subscribed to and closes remaining connections.
func (r *Registry) Shutdown(ctx context.Context) {
	r.unsubscribeAll(ctx)

	r.mu.Lock()
	conns := make([]Conn, 0)
	for _, set := range r.sessions {
		for conn := range set {
			conns = append(conns, conn)
		}
	}
	r.sessions = make(map[string]map[Conn]struct{})
	r.mu.Unlock()

	for _, conn := range conns {
		if err := conn.Close(); err != nil {
			r.log.Debug("failed to close connection during shutdown", zap.Error(err))
		}
	}
	metrics.ActiveConnections.Set(0)
}

// unsubscribeAll reads this server's subscription directory, unsubscribes
// from every room in it and clears the directory key.
func (r *Registry) unsubscribeAll(ctx context.Context) {
	rooms, err := r.directory.Rooms(ctx)
	if err != nil {
		r.log.Error("failed to read subscription directory", zap.Error(err))
		return
	}
	for _, roomID := range rooms {
		r.bus.Unsubscribe(roomID)
	}
	if err := r.directory.Clear(ctx); err != nil {
		r.log.Error("failed to clear subscription directory", zap.Error(err))
		return
	}
	if len(rooms) > 0 {
		r.log.Info("unsubscribed from all rooms", zap.Int("rooms", len(rooms)))
	}
}

// removeConns drops the given connections from the user's set in one step
// after the send pass, removing the user entry if the set becomes empty.
// The connections are closed so their read loops exit and run the normal
// RemoveSession path instead of lingering as zombies excluded from fan-out.
func (r *Registry) removeConns(userID string, conns []Conn) {
	r.mu.Lock()
	set, ok := r.sessions[userID]
	if ok {
		for _, conn := range conns {
			delete(set, conn)
		}
		if len(set) == 0 {
			delete(r.sessions, userID)
		}
	}
	r.mu.Unlock()

	for _, conn := range conns {
		if err := conn.Close(); err != nil {
			r.log.Debug("failed to close pruned connection", zap.String("user_id", userID), zap.Error(err))
		}
	}
}

func (r *Registry) totalConnectionsLocked() int {
	total := 0
	for _, set := range r.sessions {
		total += len(set)
	}
	return total
}
