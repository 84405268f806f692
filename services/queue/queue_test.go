package queue

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func exercise(t *testing.T, q TaskQueue) {
	t.Helper()
	ctx := context.Background()

	_, err := q.Dequeue(ctx, 20*time.Millisecond)
	require.ErrorIs(t, err, ErrQueueEmpty)

	require.NoError(t, q.Enqueue(ctx, TaskMessage{TaskID: "t1", CourseID: "c", Filename: "a.pdf", FileSize: 10}))
	msg, err := q.Dequeue(ctx, time.Second)
	require.NoError(t, err)
	assert.Equal(t, "t1", msg.TaskID)
	assert.EqualValues(t, 10, msg.FileSize)

	later := time.Now().Add(time.Hour)
	require.NoError(t, q.Enqueue(ctx, TaskMessage{TaskID: "t2", PubDate: &later}))
	_, err = q.Dequeue(ctx, 20*time.Millisecond)
	require.ErrorIs(t, err, ErrQueueEmpty)

	n, err := q.PromoteDue(ctx, time.Now())
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	n, err = q.PromoteDue(ctx, later.Add(time.Second))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	msg, err = q.Dequeue(ctx, time.Second)
	require.NoError(t, err)
	assert.Equal(t, "t2", msg.TaskID)
}

func TestMemoryQueue(t *testing.T) {
	q := NewMemoryQueue(4)
	exercise(t, q)
	assert.Equal(t, 0, q.Pending())

	require.NoError(t, q.Close())
	assert.ErrorIs(t, q.Enqueue(context.Background(), TaskMessage{TaskID: "x"}), ErrQueueClosed)
	_, err := q.Dequeue(context.Background(), time.Millisecond)
	assert.ErrorIs(t, err, ErrQueueClosed)
}

func TestRedisQueue(t *testing.T) {
	if os.Getenv("RUN_INTEGRATION_TESTS") != "true" {
		t.Skip("Skipping integration test. Set RUN_INTEGRATION_TESTS=true to run")
	}
	redisURL := os.Getenv("REDIS_URL")
	if redisURL == "" {
		t.Skip("REDIS_URL not set")
	}
	opt, err := redis.ParseURL(redisURL)
	require.NoError(t, err)
	client := redis.NewClient(opt)

	prefix := "test:" + t.Name() + ":" + time.Now().Format("150405.000")
	q := NewRedisQueue(client, prefix)
	t.Cleanup(func() {
		client.Del(context.Background(), prefix+":ready", prefix+":delayed")
		q.Close()
	})

	exercise(t, q)
}
