package session

import (
	"context"

	"go.uber.org/zap"

	"github.com/arkline/chatmesh/pkg/redis"
)

// RedisDirectory stores this server's room subscriptions as a Redis set
// under a per-server key, so operators can introspect which rooms each
// process listens to.
type RedisDirectory struct {
	client *redis.Client
	key    string
	log    *zap.Logger
}

// NewRedisDirectory creates the subscription directory for this server.
func NewRedisDirectory(client *redis.Client, serverID string, log *zap.Logger) *RedisDirectory {
	kb := redis.NewKeyBuilder(redis.NamespaceChat, redis.ContextSubscription)
	return &RedisDirectory{
		client: client,
		key:    kb.Build("server", serverID),
		log:    log.With(zap.String("module", "subscription_directory")),
	}
}

// Contains reports whether the room is recorded for this server.
func (d *RedisDirectory) Contains(ctx context.Context, roomID string) (bool, error) {
	return d.client.SIsMember(ctx, d.key, roomID).Result()
}

// Add records the room for this server. Adding an already recorded room
// is a no-op.
func (d *RedisDirectory) Add(ctx context.Context, roomID string) error {
	return d.client.SAdd(ctx, d.key, roomID).Err()
}

// Rooms returns every room recorded for this server.
func (d *RedisDirectory) Rooms(ctx context.Context) ([]string, error) {
	return d.client.SMembers(ctx, d.key).Result()
}

// Clear removes this server's directory key entirely.
func (d *RedisDirectory) Clear(ctx context.Context) error {
	return d.client.Del(ctx, d.key).Err()
}
