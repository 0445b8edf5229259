// Package notify pushes booking events toward the notification service over a
// Redis channel. The delivery service itself (push, email) subscribes on the
// other side; this side is fire-and-forget.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

type BookingEventMessage struct {
	BookingID uuid.UUID `json:"booking_id"`
	Kind      string    `json:"kind"`
	At        time.Time `json:"at"`
}

type RedisNotifier struct {
	client  *redis.Client
	channel string
}

func NewRedisNotifier(client *redis.Client, channel string) *RedisNotifier {
	return &RedisNotifier{
		client:  client,
		channel: channel,
	}
}

func (n *RedisNotifier) BookingEvent(ctx context.Context, bookingID uuid.UUID, kind string) error {
	msg := BookingEventMessage{
		BookingID: bookingID,
		Kind:      kind,
		At:        time.Now(),
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal booking event: %w", err)
	}

	if err := n.client.Publish(ctx, n.channel, data).Err(); err != nil {
		return fmt.Errorf("publish booking event: %w", err)
	}

	return nil
}
