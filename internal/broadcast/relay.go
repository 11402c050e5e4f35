package broadcast

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"

	"github.com/example/fleet-tracker/internal/models"
)

const DefaultChannel = "fleet:updates"

// RedisRelay carries accepted updates between server instances. Ingestion
// publishes to Redis and every instance, including the publisher, feeds what
// it receives into its local hub.
type RedisRelay struct {
	client  *redis.Client
	channel string
	local   Publisher
	logger  *slog.Logger
}

func NewRedisRelay(client *redis.Client, channel string, local Publisher, logger *slog.Logger) *RedisRelay {
	if channel == "" {
		channel = DefaultChannel
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisRelay{client: client, channel: channel, local: local, logger: logger}
}

func (r *RedisRelay) Publish(ctx context.Context, d models.Device) error {
	b, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("encode update: %w", err)
	}
	return r.client.Publish(ctx, r.channel, b).Err()
}

// Serve subscribes to the relay channel until ctx ends.
func (r *RedisRelay) Serve(ctx context.Context) error {
	sub := r.client.Subscribe(ctx, r.channel)
	defer sub.Close()
	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %s: %w", r.channel, err)
	}
	r.logger.Info("redis relay subscribed", "channel", r.channel)

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case m, ok := <-ch:
			if !ok {
				return errors.New("redis relay: subscription closed")
			}
			if err := r.deliver(ctx, []byte(m.Payload)); err != nil {
				r.logger.Warn("relay message dropped", "error", err)
			}
		}
	}
}

func (r *RedisRelay) deliver(ctx context.Context, payload []byte) error {
	var d models.Device
	if err := json.Unmarshal(payload, &d); err != nil {
		return fmt.Errorf("decode update: %w", err)
	}
	if d.ID == "" {
		return errors.New("update without deviceId")
	}
	return r.local.Publish(ctx, d)
}
