// Package relay carries room broadcasts between gateway processes.
package relay

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Envelope is one broadcast as seen on the backplane.
type Envelope struct {
	Node    string          `json:"node"`
	Room    string          `json:"room"`
	Exclude string          `json:"exclude,omitempty"`
	Data    json.RawMessage `json:"data"`
}

// Relay publishes local broadcasts and delivers remote ones.
type Relay interface {
	Publish(ctx context.Context, env Envelope) error
	Subscribe(ctx context.Context, handle func(Envelope)) error
	Close() error
}

// RedisRelay is a Relay on a single Redis pub/sub channel.
type RedisRelay struct {
	client  *redis.Client
	channel string
	logger  *zap.Logger
}

// NewRedisRelay connects to addr and checks the connection.
func NewRedisRelay(ctx context.Context, addr, channel string, logger *zap.Logger) (*RedisRelay, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return NewRedisRelayFromClient(client, channel, logger), nil
}

// NewRedisRelayFromClient wraps an existing client.
func NewRedisRelayFromClient(client *redis.Client, channel string, logger *zap.Logger) *RedisRelay {
	if channel == "" {
		channel = "gateway:broadcast"
	}
	return &RedisRelay{client: client, channel: channel, logger: logger}
}

// Publish sends env to every subscribed process.
func (r *RedisRelay) Publish(ctx context.Context, env Envelope) error {
	payload, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("failed to marshal envelope: %w", err)
	}
	if err := r.client.Publish(ctx, r.channel, payload).Err(); err != nil {
		return fmt.Errorf("failed to publish envelope: %w", err)
	}
	return nil
}

// Subscribe blocks delivering envelopes to handle until ctx is done.
func (r *RedisRelay) Subscribe(ctx context.Context, handle func(Envelope)) error {
	sub := r.client.Subscribe(ctx, r.channel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", r.channel, err)
	}

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var env Envelope
			if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
				r.logger.Warn("dropping malformed relay envelope", zap.Error(err))
				continue
			}
			handle(env)
		}
	}
}

// Close closes the Redis client.
func (r *RedisRelay) Close() error {
	return r.client.Close()
}
