package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/bobarin/reels/internal/models"
	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

const (
	QueueRender = "queue:render"

	renderLockPrefix = "lock:render:"
	renderLockTTL    = 30 * time.Minute
)

type Queue struct {
	client *redis.Client
}

type Job struct {
	ID        uuid.UUID             `json:"id"`
	Type      string                `json:"type"`
	Attempt   int                   `json:"attempt"`
	Input     models.RenderJobInput `json:"input"`
	CreatedAt time.Time             `json:"created_at"`
}

func New(redisURL string) (*Queue, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}

	client := redis.NewClient(opts)

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &Queue{client: client}, nil
}

// NewWithClient wraps an existing redis client.
func NewWithClient(client *redis.Client) *Queue {
	return &Queue{client: client}
}

func (q *Queue) Close() error {
	return q.client.Close()
}

func (q *Queue) Enqueue(ctx context.Context, queueName string, job *Job) error {
	job.CreatedAt = time.Now()

	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}

	return q.client.RPush(ctx, queueName, data).Err()
}

func (q *Queue) Dequeue(ctx context.Context, queueName string, timeout time.Duration) (*Job, error) {
	result, err := q.client.BLPop(ctx, timeout, queueName).Result()
	if err == redis.Nil {
		return nil, nil // No job available
	}
	if err != nil {
		return nil, fmt.Errorf("failed to dequeue: %w", err)
	}

	if len(result) != 2 {
		return nil, fmt.Errorf("unexpected redis response")
	}

	var job Job
	if err := json.Unmarshal([]byte(result[1]), &job); err != nil {
		return nil, fmt.Errorf("failed to unmarshal job: %w", err)
	}

	return &job, nil
}

func (q *Queue) GetQueueLength(ctx context.Context, queueName string) (int64, error) {
	return q.client.LLen(ctx, queueName).Result()
}

// EnqueueRender enqueues a render attempt for a content item
func (q *Queue) EnqueueRender(ctx context.Context, input models.RenderJobInput) (*Job, error) {
	job := &Job{
		ID:    uuid.New(),
		Type:  "render",
		Input: input,
	}
	if err := q.Enqueue(ctx, QueueRender, job); err != nil {
		return nil, err
	}
	return job, nil
}

// Requeue pushes a job back after a delay, e.g. when its content item is locked.
func (q *Queue) Requeue(ctx context.Context, job *Job, delay time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(delay):
	}
	job.Attempt++
	return q.Enqueue(ctx, QueueRender, job)
}

// AcquireRenderLock takes the per-content-item lock. It returns false when
// another worker already holds it.
func (q *Queue) AcquireRenderLock(ctx context.Context, contentItemID uuid.UUID, owner string) (bool, error) {
	ok, err := q.client.SetNX(ctx, renderLockPrefix+contentItemID.String(), owner, renderLockTTL).Result()
	if err != nil {
		return false, fmt.Errorf("failed to acquire render lock: %w", err)
	}
	return ok, nil
}

// ReleaseRenderLock drops the lock if it is still held by owner.
func (q *Queue) ReleaseRenderLock(ctx context.Context, contentItemID uuid.UUID, owner string) error {
	key := renderLockPrefix + contentItemID.String()
	current, err := q.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read render lock: %w", err)
	}
	if current != owner {
		return nil
	}
	return q.client.Del(ctx, key).Err()
}
