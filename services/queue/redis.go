package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisQueue keeps ready tasks in a list and scheduled tasks in a sorted set
// scored by their publish time
type RedisQueue struct {
	client     *redis.Client
	readyKey   string
	delayedKey string
}

// NewRedisQueue creates a queue under the given key prefix
func NewRedisQueue(client *redis.Client, prefix string) *RedisQueue {
	if prefix == "" {
		prefix = "ingest:tasks"
	}
	return &RedisQueue{
		client:     client,
		readyKey:   prefix + ":ready",
		delayedKey: prefix + ":delayed",
	}
}

// Enqueue pushes a ready task or schedules a future one
func (q *RedisQueue) Enqueue(ctx context.Context, msg TaskMessage) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	if !msg.DueAt(time.Now()) {
		return q.client.ZAdd(ctx, q.delayedKey, redis.Z{
			Score:  float64(msg.PubDate.Unix()),
			Member: payload,
		}).Err()
	}
	return q.client.LPush(ctx, q.readyKey, payload).Err()
}

// Dequeue blocks on the ready list
func (q *RedisQueue) Dequeue(ctx context.Context, timeout time.Duration) (*TaskMessage, error) {
	res, err := q.client.BRPop(ctx, timeout, q.readyKey).Result()
	if errors.Is(err, redis.Nil) {
		return nil, ErrQueueEmpty
	}
	if err != nil {
		return nil, err
	}
	// BRPOP returns [key, value]
	var msg TaskMessage
	if err := json.Unmarshal([]byte(res[1]), &msg); err != nil {
		return nil, fmt.Errorf("malformed task message: %w", err)
	}
	return &msg, nil
}

// PromoteDue moves every scheduled task whose time has come to the ready
// list. ZREM decides ownership so concurrent promoters never double-push.
func (q *RedisQueue) PromoteDue(ctx context.Context, now time.Time) (int, error) {
	due, err := q.client.ZRangeByScore(ctx, q.delayedKey, &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(now.Unix(), 10),
	}).Result()
	if err != nil {
		return 0, err
	}

	promoted := 0
	for _, member := range due {
		removed, err := q.client.ZRem(ctx, q.delayedKey, member).Result()
		if err != nil {
			return promoted, err
		}
		if removed == 0 {
			continue
		}
		if err := q.client.LPush(ctx, q.readyKey, member).Err(); err != nil {
			return promoted, err
		}
		promoted++
	}
	return promoted, nil
}

// Close closes the client
func (q *RedisQueue) Close() error {
	return q.client.Close()
}
