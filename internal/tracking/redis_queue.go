package tracking

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"fleet-tracker/internal/models"
)

// RedisQueue keeps pending uploads in a Redis list so they survive agent
// restarts. The list head is the oldest upload.
type RedisQueue struct {
	client *redis.Client
	key    string
}

// NewRedisQueue creates a queue stored under key
func NewRedisQueue(client *redis.Client, key string) *RedisQueue {
	return &RedisQueue{client: client, key: key}
}

// QueueKey builds the per-driver list key
func QueueKey(prefix, driverID string) string {
	if prefix == "" {
		prefix = "tracking"
	}
	return prefix + ":" + driverID + ":pending"
}

func (q *RedisQueue) Enqueue(ctx context.Context, u models.LocationUpload) error {
	payload, err := json.Marshal(u)
	if err != nil {
		return fmt.Errorf("failed to encode upload: %w", err)
	}
	if err := q.client.RPush(ctx, q.key, payload).Err(); err != nil {
		return fmt.Errorf("failed to push upload: %w", err)
	}
	return nil
}

func (q *RedisQueue) Drain(ctx context.Context) ([]models.LocationUpload, error) {
	var rangeCmd *redis.StringSliceCmd
	_, err := q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		rangeCmd = pipe.LRange(ctx, q.key, 0, -1)
		pipe.Del(ctx, q.key)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to drain queue: %w", err)
	}

	raw := rangeCmd.Val()
	batch := make([]models.LocationUpload, 0, len(raw))
	for _, item := range raw {
		var u models.LocationUpload
		if err := json.Unmarshal([]byte(item), &u); err != nil {
			// A corrupt entry can never be delivered; drop it rather than wedge the queue
			continue
		}
		batch = append(batch, u)
	}
	return batch, nil
}

func (q *RedisQueue) Requeue(ctx context.Context, batch []models.LocationUpload) error {
	if len(batch) == 0 {
		return nil
	}

	// LPUSH inserts each value at the head in turn, so push newest first
	values := make([]interface{}, 0, len(batch))
	for i := len(batch) - 1; i >= 0; i-- {
		payload, err := json.Marshal(batch[i])
		if err != nil {
			return fmt.Errorf("failed to encode upload: %w", err)
		}
		values = append(values, payload)
	}
	if err := q.client.LPush(ctx, q.key, values...).Err(); err != nil {
		return fmt.Errorf("failed to requeue batch: %w", err)
	}
	return nil
}

func (q *RedisQueue) Len(ctx context.Context) (int, error) {
	n, err := q.client.LLen(ctx, q.key).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to read queue length: %w", err)
	}
	return int(n), nil
}
