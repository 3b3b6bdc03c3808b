package bus

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/arkline/chatmesh/pkg/redis"
)

// RedisTransport implements Transport over Redis pub/sub. Each channel
// subscription runs its own receive loop; go-redis reconnects a PubSub
// internally, and the loop resubscribes with backoff if the stream still
// closes unexpectedly.
type RedisTransport struct {
	client *redis.Client
	log    *zap.Logger
}

// NewRedisTransport creates a transport over the given Redis client.
func NewRedisTransport(client *redis.Client, log *zap.Logger) *RedisTransport {
	return &RedisTransport{
		client: client,
		log:    log.With(zap.String("module", "redis_transport")),
	}
}

// Publish sends the payload on a Redis pub/sub channel.
func (t *RedisTransport) Publish(ctx context.Context, channel string, payload []byte) error {
	return t.client.Publish(ctx, channel, payload).Err()
}

// Subscribe starts a receive loop for the channel and hands every message
// payload to the handler. The returned Subscription stops the loop.
func (t *RedisTransport) Subscribe(channel string, handler func(payload []byte)) (Subscription, error) {
	ctx, cancel := context.WithCancel(context.Background())
	sub := &redisSubscription{cancel: cancel, done: make(chan struct{})}

	go func() {
		defer close(sub.done)
		retry := backoff.NewExponentialBackOff()
		retry.InitialInterval = time.Second
		retry.MaxInterval = 30 * time.Second
		retry.MaxElapsedTime = 0 // retry until cancelled

		for {
			pubsub := t.client.Subscribe(ctx, channel)
			ch := pubsub.Channel()
		recv:
			for {
				select {
				case msg, ok := <-ch:
					if !ok {
						break recv
					}
					handler([]byte(msg.Payload))
					retry.Reset()
				case <-ctx.Done():
					if err := pubsub.Close(); err != nil {
						t.log.Warn("failed to close pubsub", zap.String("channel", channel), zap.Error(err))
					}
					return
				}
			}
			if err := pubsub.Close(); err != nil {
				t.log.Warn("failed to close pubsub", zap.String("channel", channel), zap.Error(err))
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(retry.NextBackOff()):
				t.log.Warn("pubsub stream closed, resubscribing", zap.String("channel", channel))
			}
		}
	}()

	return sub, nil
}

type redisSubscription struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Close stops the receive loop and waits for it to exit.
func (s *redisSubscription) Close() error {
	s.cancel()
	select {
	case <-s.done:
		return nil
	case <-time.After(5 * time.Second):
		return errors.New("timed out waiting for subscription loop to stop")
	}
}
