// Package events implements the shared.EventPublisher port on Redis pub/sub.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Envelope wraps an event payload with delivery metadata.
type Envelope struct {
	ID         string          `json:"id"`
	Name       string          `json:"name"`
	OccurredAt time.Time       `json:"occurred_at"`
	Payload    json.RawMessage `json:"payload"`
}

// RedisPublisher publishes domain events on a Redis channel per event name.
type RedisPublisher struct {
	client  *redis.Client
	channel string
}

// NewRedisPublisher constructs a publisher writing to the given base channel.
func NewRedisPublisher(client *redis.Client, channel string) *RedisPublisher {
	if channel == "" {
		channel = "aurora.events"
	}
	return &RedisPublisher{client: client, channel: channel}
}

// Publish marshals the payload and publishes it. Delivery is at-most-once;
// callers treat a returned error as log-only.
func (p *RedisPublisher) Publish(ctx context.Context, name string, payload any) error {
	if p == nil || p.client == nil {
		return nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("events: marshal %s: %w", name, err)
	}
	env := Envelope{
		ID:         uuid.NewString(),
		Name:       name,
		OccurredAt: time.Now().UTC(),
		Payload:    data,
	}
	raw, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("events: marshal envelope: %w", err)
	}
	if err := p.client.Publish(ctx, p.channel+"."+name, raw).Err(); err != nil {
		return fmt.Errorf("events: publish %s: %w", name, err)
	}
	return nil
}
