package bus

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/arkline/chatmesh/internal/chat"
	"github.com/arkline/chatmesh/pkg/errors"
	"github.com/arkline/chatmesh/pkg/json"
	"github.com/arkline/chatmesh/pkg/metrics"
)

// DeliveryFunc is invoked for every envelope accepted for local delivery.
// It is the sole integration point between the bus and local fan-out.
type DeliveryFunc func(roomID string, msg *chat.Message)

// Transport is the publish/subscribe surface of the shared bus.
type Transport interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(channel string, handler func(payload []byte)) (Subscription, error)
}

// Subscription is a live listener on one bus channel.
type Subscription interface {
	Close() error
}

// Broadcaster fans chat messages out across server processes. Outbound
// messages are wrapped in an envelope carrying this server's identity so
// the publisher ignores its own echo; inbound envelopes are deduplicated
// before local delivery.
type Broadcaster struct {
	serverID  string
	transport Transport
	ledger    *Ledger
	log       *zap.Logger

	mu      sync.RWMutex
	subs    map[string]Subscription
	deliver DeliveryFunc

	sweeper *cron.Cron
	started time.Time
}

// New creates a Broadcaster bound to the given server identity.
func New(serverID string, transport Transport, log *zap.Logger) *Broadcaster {
	return &Broadcaster{
		serverID:  serverID,
		transport: transport,
		ledger:    NewLedger(DefaultLedgerTTL, DefaultLedgerCap),
		log:       log.With(zap.String("module", "bus"), zap.String("server_id", serverID)),
		subs:      make(map[string]Subscription),
		started:   time.Now(),
	}
}

// ServerID returns the identity of this process on the bus.
func (b *Broadcaster) ServerID() string {
	return b.serverID
}

// SetDeliveryFunc registers the local-delivery callback. Later calls
// replace it.
func (b *Broadcaster) SetDeliveryFunc(fn DeliveryFunc) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.deliver = fn
}

// Publish wraps the message in an envelope and publishes it on the room's
// channel. Publish is best-effort: failures are logged and never surfaced,
// so a bus outage cannot fail the caller's send.
func (b *Broadcaster) Publish(ctx context.Context, roomID string, msg *chat.Message) {
	env := chat.Envelope{
		ID:              b.nextEnvelopeID(),
		ServerID:        b.serverID,
		RoomID:          roomID,
		ExcludeServerID: b.serverID,
		Timestamp:       time.Now(),
		Payload:         *msg,
	}
	data, err := json.Marshal(env)
	if err != nil {
		_ = errors.LogWithError(ctx, b.log, "failed to marshal envelope", err, zap.String("room_id", roomID))
		return
	}
	if err := b.transport.Publish(ctx, channelForRoom(roomID), data); err != nil {
		_ = errors.LogWithError(ctx, b.log, "failed to publish envelope", err, zap.String("room_id", roomID))
		return
	}
	metrics.EnvelopesPublished.WithLabelValues(roomID).Inc()
}

// Subscribe registers a bus listener for the room's channel. It is
// idempotent; subscribing to an already subscribed room is a logged no-op.
func (b *Broadcaster) Subscribe(roomID string) {
	b.mu.Lock()
	if _, ok := b.subs[roomID]; ok {
		b.mu.Unlock()
		b.log.Debug("already subscribed to room", zap.String("room_id", roomID))
		return
	}
	// Reserve the slot before the transport call so concurrent Subscribe
	// calls for the same room cannot race a double listener.
	b.subs[roomID] = nil
	b.mu.Unlock()

	sub, err := b.transport.Subscribe(channelForRoom(roomID), b.handleFrame)
	if err != nil {
		b.mu.Lock()
		delete(b.subs, roomID)
		b.mu.Unlock()
		b.log.Error("failed to subscribe to room channel", zap.String("room_id", roomID), zap.Error(err))
		return
	}

	b.mu.Lock()
	if _, ok := b.subs[roomID]; !ok {
		// A concurrent Unsubscribe took the reserved slot while the
		// transport call was in flight; honor it.
		b.mu.Unlock()
		if err := sub.Close(); err != nil {
			b.log.Warn("failed to close superseded subscription", zap.String("room_id", roomID), zap.Error(err))
		}
		b.log.Debug("subscription cancelled by concurrent unsubscribe", zap.String("room_id", roomID))
		return
	}
	b.subs[roomID] = sub
	count := len(b.subs)
	b.mu.Unlock()
	metrics.SubscribedRooms.Set(float64(count))
	b.log.Info("subscribed to room channel", zap.String("room_id", roomID))
}

// Unsubscribe deregisters the room's bus listener. Unsubscribing a room
// that is not subscribed is a logged no-op.
func (b *Broadcaster) Unsubscribe(roomID string) {
	b.mu.Lock()
	sub, ok := b.subs[roomID]
	if ok {
		delete(b.subs, roomID)
	}
	count := len(b.subs)
	b.mu.Unlock()

	if !ok {
		b.log.Debug("not subscribed to room", zap.String("room_id", roomID))
		return
	}
	if sub != nil {
		if err := sub.Close(); err != nil {
			b.log.Warn("failed to close room subscription", zap.String("room_id", roomID), zap.Error(err))
		}
	}
	metrics.SubscribedRooms.Set(float64(count))
	b.log.Info("unsubscribed from room channel", zap.String("room_id", roomID))
}

// SubscribedRooms returns the rooms this process currently listens to.
func (b *Broadcaster) SubscribedRooms() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	rooms := make([]string, 0, len(b.subs))
	for room := range b.subs {
		rooms = append(rooms, room)
	}
	return rooms
}

// handleFrame processes one raw frame from the bus: deserialize, suppress
// self-echo, deduplicate, deliver locally, then record the id.
func (b *Broadcaster) handleFrame(raw []byte) {
	var env chat.Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		metrics.EnvelopesReceived.WithLabelValues(metrics.OutcomeMalformed).Inc()
		b.log.Warn("dropping malformed envelope", zap.Error(err))
		return
	}
	if env.ExcludeServerID != "" && env.ExcludeServerID == b.serverID {
		metrics.EnvelopesReceived.WithLabelValues(metrics.OutcomeSelfEcho).Inc()
		return
	}
	if b.ledger.Seen(env.ID) {
		metrics.EnvelopesReceived.WithLabelValues(metrics.OutcomeDuplicate).Inc()
		b.log.Debug("dropping duplicate envelope", zap.String("envelope_id", env.ID))
		return
	}

	b.mu.RLock()
	deliver := b.deliver
	b.mu.RUnlock()
	if deliver != nil {
		deliver(env.RoomID, &env.Payload)
	}
	b.ledger.Record(env.ID)
	metrics.EnvelopesReceived.WithLabelValues(metrics.OutcomeDelivered).Inc()
}

// StartSweeper schedules the periodic ledger sweep. The first sweep runs
// after the interval, then repeats at the same cadence, independent of
// message traffic.
func (b *Broadcaster) StartSweeper() error {
	c := cron.New()
	if _, err := c.AddFunc("@every 30s", func() {
		if removed := b.ledger.Sweep(); removed > 0 {
			b.log.Info("swept dedup ledger", zap.Int("removed", removed))
		}
	}); err != nil {
		return fmt.Errorf("failed to schedule ledger sweep: %w", err)
	}
	c.Start()
	b.sweeper = c
	return nil
}

// Stop cancels the sweep schedule and closes every room subscription.
func (b *Broadcaster) Stop() {
	if b.sweeper != nil {
		b.sweeper.Stop()
	}
	for _, roomID := range b.SubscribedRooms() {
		b.Unsubscribe(roomID)
	}
}

// nextEnvelopeID builds an id unique per publish even under clock skew:
// origin server id, wall-clock millis, and a monotonic clock value.
func (b *Broadcaster) nextEnvelopeID() string {
	return fmt.Sprintf("%s-%d-%d", b.serverID, time.Now().UnixMilli(), time.Since(b.started).Nanoseconds())
}

func channelForRoom(roomID string) string {
	return "room." + roomID
}
