package redisclient

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// CodeCounter issues per-date booking codes from a Redis INCR sequence, so
// concurrent processes never hand out the same code and no process holds a
// mutable counter in memory.
type CodeCounter struct {
	client *redis.Client
}

func NewCodeCounter(client *redis.Client) *CodeCounter {
	return &CodeCounter{client: client}
}

// NextBookingCode returns a code like BK-20250901-0042, unique per calendar
// date across all processes sharing the Redis instance.
func (c *CodeCounter) NextBookingCode(ctx context.Context, day time.Time) (string, error) {
	date := day.Format("20060102")
	key := fmt.Sprintf("seq:booking:%s", date)

	n, err := c.client.Incr(ctx, key).Result()
	if err != nil {
		return "", fmt.Errorf("next booking sequence: %w", err)
	}

	// Codes embed the date, so the counter key can expire once the date is
	// well past.
	c.client.Expire(ctx, key, 72*time.Hour)

	return fmt.Sprintf("BK-%s-%04d", date, n), nil
}
