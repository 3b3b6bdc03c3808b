package session

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/arkline/chatmesh/internal/chat"
	"github.com/arkline/chatmesh/pkg/json"
)

// fakeConn records writes and can be programmed to fail.
type fakeConn struct {
	mu       sync.Mutex
	written  [][]byte
	writeErr error
	closed   bool
}

func (c *fakeConn) WriteMessage(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.writeErr != nil {
		return c.writeErr
	}
	c.written = append(c.written, data)
	return nil
}

func (c *fakeConn) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeConn) writeCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.written)
}

// fakeBus records subscribe/unsubscribe calls.
type fakeBus struct {
	mu           sync.Mutex
	subscribes   []string
	unsubscribes []string
}

func (b *fakeBus) Subscribe(roomID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribes = append(b.subscribes, roomID)
}

func (b *fakeBus) Unsubscribe(roomID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.unsubscribes = append(b.unsubscribes, roomID)
}

// fakeDirectory is an in-memory subscription directory.
type fakeDirectory struct {
	mu    sync.Mutex
	rooms map[string]struct{}
}

func newFakeDirectory() *fakeDirectory {
	return &fakeDirectory{rooms: make(map[string]struct{})}
}

func (d *fakeDirectory) Contains(_ context.Context, roomID string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.rooms[roomID]
	return ok, nil
}

func (d *fakeDirectory) Add(_ context.Context, roomID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.rooms[roomID] = struct{}{}
	return nil
}

func (d *fakeDirectory) Rooms(_ context.Context) ([]string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	rooms := make([]string, 0, len(d.rooms))
	for room := range d.rooms {
		rooms = append(rooms, room)
	}
	return rooms, nil
}

func (d *fakeDirectory) Clear(_ context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.rooms = make(map[string]struct{})
	return nil
}

// fakeMembers answers membership from a static table.
type fakeMembers struct {
	members map[string]map[string]bool // roomID -> userID -> active
}

func (m *fakeMembers) IsActiveMember(_ context.Context, roomID, userID string) (bool, error) {
	return m.members[roomID][userID], nil
}

func newRegistry(members map[string]map[string]bool) (*Registry, *fakeBus, *fakeDirectory) {
	b := &fakeBus{}
	d := newFakeDirectory()
	r := NewRegistry(b, d, &fakeMembers{members: members}, zap.NewNop())
	return r, b, d
}

func TestRegistry_AddRemoveMultiDevice(t *testing.T) {
	r, _, _ := newRegistry(nil)
	c1, c2 := &fakeConn{}, &fakeConn{}

	r.AddSession("u1", c1)
	r.AddSession("u1", c2)
	assert.Equal(t, 2, r.ConnectionCount())
	assert.True(t, r.IsUserOnlineLocally("u1"))

	r.RemoveSession(context.Background(), "u1", c1)
	assert.Equal(t, 1, r.ConnectionCount())
	assert.True(t, r.IsUserOnlineLocally("u1"))

	r.RemoveSession(context.Background(), "u1", c2)
	assert.Equal(t, 0, r.ConnectionCount())
	assert.False(t, r.IsUserOnlineLocally("u1"))
}

func TestRegistry_JoinRoomSubscribesOnce(t *testing.T) {
	r, b, d := newRegistry(nil)
	ctx := context.Background()

	require.NoError(t, r.JoinRoom(ctx, "u1", "room-1"))
	require.NoError(t, r.JoinRoom(ctx, "u2", "room-1"))

	// The bus is only asked to subscribe while the directory lacks the room.
	assert.Equal(t, []string{"room-1"}, b.subscribes)
	rooms, err := d.Rooms(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"room-1"}, rooms)
}

func TestRegistry_WholeProcessCleanupOnLastDisconnect(t *testing.T) {
	r, b, d := newRegistry(nil)
	ctx := context.Background()
	conn := &fakeConn{}

	r.AddSession("u1", conn)
	require.NoError(t, r.JoinRoom(ctx, "u1", "room-1"))
	require.NoError(t, r.JoinRoom(ctx, "u1", "room-2"))

	r.RemoveSession(ctx, "u1", conn)

	assert.ElementsMatch(t, []string{"room-1", "room-2"}, b.unsubscribes)
	rooms, err := d.Rooms(ctx)
	require.NoError(t, err)
	assert.Empty(t, rooms)
}

func TestRegistry_NoCleanupWhileOtherUsersConnected(t *testing.T) {
	r, b, d := newRegistry(nil)
	ctx := context.Background()
	c1, c2 := &fakeConn{}, &fakeConn{}

	r.AddSession("u1", c1)
	r.AddSession("u2", c2)
	require.NoError(t, r.JoinRoom(ctx, "u1", "room-1"))
	require.NoError(t, r.JoinRoom(ctx, "u2", "room-2"))

	// u1 leaves but u2 is still connected: the process keeps every
	// subscription, even for rooms only u1 cared about.
	r.RemoveSession(ctx, "u1", c1)

	assert.Empty(t, b.unsubscribes)
	rooms, err := d.Rooms(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"room-1", "room-2"}, rooms)
}

func TestRegistry_SendLocalRoom(t *testing.T) {
	members := map[string]map[string]bool{
		"room-7": {"u1": true, "u2": true},
	}

	tests := []struct {
		name        string
		exclude     string
		wantU1Count int
		wantU2Count int
	}{
		{
			name:        "delivers to all members",
			exclude:     "",
			wantU1Count: 1,
			wantU2Count: 1,
		},
		{
			name:        "excludes the sender",
			exclude:     "u1",
			wantU1Count: 0,
			wantU2Count: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, _, _ := newRegistry(members)
			c1, c2 := &fakeConn{}, &fakeConn{}
			r.AddSession("u1", c1)
			r.AddSession("u2", c2)

			r.SendLocalRoom(context.Background(), "room-7", &chat.Message{ID: "m1", RoomID: "room-7"}, tt.exclude)

			assert.Equal(t, tt.wantU1Count, c1.writeCount())
			assert.Equal(t, tt.wantU2Count, c2.writeCount())
		})
	}
}

func TestRegistry_SendLocalRoomSkipsNonMembers(t *testing.T) {
	members := map[string]map[string]bool{
		"room-7": {"u1": true}, // u2 connected but not a member
	}
	r, _, _ := newRegistry(members)
	c1, c2 := &fakeConn{}, &fakeConn{}
	r.AddSession("u1", c1)
	r.AddSession("u2", c2)

	r.SendLocalRoom(context.Background(), "room-7", &chat.Message{ID: "m1", RoomID: "room-7"}, "")

	assert.Equal(t, 1, c1.writeCount())
	assert.Equal(t, 0, c2.writeCount())
}

func TestRegistry_SendLocalRoomRemovesFailedConnection(t *testing.T) {
	members := map[string]map[string]bool{
		"room-7": {"u1": true},
	}
	r, _, _ := newRegistry(members)
	bad := &fakeConn{writeErr: assert.AnError}
	good := &fakeConn{}
	r.AddSession("u1", bad)
	r.AddSession("u1", good)

	r.SendLocalRoom(context.Background(), "room-7", &chat.Message{ID: "m1", RoomID: "room-7"}, "")

	assert.Equal(t, 1, good.writeCount())
	assert.Equal(t, 1, r.ConnectionCount())

	// The failed connection is closed, not just pruned, so its read
	// loop exits instead of lingering as a half-dead socket.
	assert.True(t, bad.Closed())
	assert.False(t, good.Closed())

	// The surviving connection is still reachable on the next fan-out.
	r.SendLocalRoom(context.Background(), "room-7", &chat.Message{ID: "m2", RoomID: "room-7"}, "")
	assert.Equal(t, 2, good.writeCount())
}

func TestRegistry_SendLocalRoomEncodesOnce(t *testing.T) {
	members := map[string]map[string]bool{
		"room-7": {"u1": true},
	}
	r, _, _ := newRegistry(members)
	c1, c2 := &fakeConn{}, &fakeConn{}
	r.AddSession("u1", c1)
	r.AddSession("u1", c2)

	msg := &chat.Message{ID: "m1", RoomID: "room-7", Content: "hi"}
	r.SendLocalRoom(context.Background(), "room-7", msg, "")

	require.Equal(t, 1, c1.writeCount())
	require.Equal(t, 1, c2.writeCount())
	assert.Equal(t, c1.written[0], c2.written[0])

	var frame chat.ServerFrame
	require.NoError(t, json.Unmarshal(c1.written[0], &frame))
	assert.Equal(t, chat.FrameChatMessage, frame.Type)
}

func TestRegistry_IsUserOnlineLocallyPrunesClosed(t *testing.T) {
	r, b, _ := newRegistry(nil)
	conn := &fakeConn{}
	r.AddSession("u1", conn)
	require.NoError(t, r.JoinRoom(context.Background(), "u1", "room-1"))

	conn.Close()

	// Lazy pruning drops the dead connection but never triggers the
	// whole-process room cleanup.
	assert.False(t, r.IsUserOnlineLocally("u1"))
	assert.Equal(t, 0, r.ConnectionCount())
	assert.Empty(t, b.unsubscribes)
}

func TestRegistry_ShutdownUnsubscribesAndCloses(t *testing.T) {
	r, b, d := newRegistry(nil)
	ctx := context.Background()
	conn := &fakeConn{}
	r.AddSession("u1", conn)
	require.NoError(t, r.JoinRoom(ctx, "u1", "room-1"))

	r.Shutdown(ctx)

	assert.Equal(t, []string{"room-1"}, b.unsubscribes)
	assert.True(t, conn.Closed())
	rooms, err := d.Rooms(ctx)
	require.NoError(t, err)
	assert.Empty(t, rooms)
}
