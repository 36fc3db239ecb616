package feed

import (
	"context"
	"encoding/json"

	redis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"barpos/backend/internal/xid"
)

const DefaultChannel = "barpos:changes"

// RedisBridge publishes local events on a Redis channel and replays events
// from other processes into the local hub, so terminals attached to any
// instance see every change.
type RedisBridge struct {
	client  *redis.Client
	hub     *Hub
	channel string
	origin  string
	logger  *zap.Logger
}

func NewRedisBridge(addr string, password string, db int, hub *Hub, logger *zap.Logger) *RedisBridge {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	return newRedisBridge(client, hub, logger)
}

func newRedisBridge(client *redis.Client, hub *Hub, logger *zap.Logger) *RedisBridge {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisBridge{
		client:  client,
		hub:     hub,
		channel: DefaultChannel,
		origin:  xid.Token(),
		logger:  logger,
	}
}

func (b *RedisBridge) Ping(ctx context.Context) error {
	return b.client.Ping(ctx).Err()
}

func (b *RedisBridge) Close() error {
	return b.client.Close()
}

// Publish delivers locally first, then best-effort to Redis.
func (b *RedisBridge) Publish(ctx context.Context, event Event) {
	event.Origin = b.origin
	b.hub.Publish(ctx, event)

	payload, err := json.Marshal(event)
	if err != nil {
		b.logger.Warn("encode feed event", zap.Error(err))
		return
	}
	if err := b.client.Publish(ctx, b.channel, payload).Err(); err != nil {
		b.logger.Warn("redis publish failed", zap.String("type", string(event.Type)), zap.Error(err))
	}
}

// Run forwards remote events into the hub until ctx is cancelled.
func (b *RedisBridge) Run(ctx context.Context) {
	sub := b.client.Subscribe(ctx, b.channel)
	defer func() { _ = sub.Close() }()

	messages := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-messages:
			if !ok {
				return
			}
			var event Event
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				b.logger.Warn("decode feed event", zap.Error(err))
				continue
			}
			if event.Origin == b.origin {
				continue
			}
			b.hub.Publish(ctx, event)
		}
	}
}
