// Package queue provides a small FIFO job transport between the API and workers.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/DhavalThkkar/langfuse/pkg/cache"
)

// ErrClosed is returned by operations on a closed queue.
var ErrClosed = errors.New("queue closed")

// Message is one queued job.
type Message struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Timestamp time.Time       `json:"timestamp"`
	Payload   json.RawMessage `json:"payload"`
}

// NewMessage marshals payload into a message. An empty id gets a random one.
func NewMessage(id, name string, payload any) (Message, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Message{}, fmt.Errorf("failed to marshal payload: %w", err)
	}
	if id == "" {
		id = uuid.NewString()
	}
	return Message{
		ID:        id,
		Name:      name,
		Timestamp: time.Now().UTC(),
		Payload:   data,
	}, nil
}

// Decode unmarshals the payload into dest.
func (m Message) Decode(dest any) error {
	if err := json.Unmarshal(m.Payload, dest); err != nil {
		return fmt.Errorf("failed to decode %s payload: %w", m.Name, err)
	}
	return nil
}

// Queue is a FIFO of messages.
type Queue interface {
	Push(ctx context.Context, msg Message) error
	// Pop waits up to timeout for a message. It returns (nil, nil) when
	// nothing arrived in time.
	Pop(ctx context.Context, timeout time.Duration) (*Message, error)
	Len(ctx context.Context) (int64, error)
}

// RedisQueue stores messages in a Redis list (LPUSH / BRPOP).
type RedisQueue struct {
	client *cache.Client
	name   string
}

// NewRedisQueue creates a queue backed by the list <prefix>:queue:<name>.
func NewRedisQueue(client *cache.Client, name string) *RedisQueue {
	return &RedisQueue{client: client, name: name}
}

func (q *RedisQueue) key() string {
	return q.client.Key("queue", q.name)
}

// Push appends msg to the queue.
func (q *RedisQueue) Push(ctx context.Context, msg Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}
	if err := q.client.LPush(ctx, q.key(), data).Err(); err != nil {
		return fmt.Errorf("failed to push to %s: %w", q.name, err)
	}
	return nil
}

// Pop blocks on BRPOP for at most timeout.
func (q *RedisQueue) Pop(ctx context.Context, timeout time.Duration) (*Message, error) {
	res, err := q.client.BRPop(ctx, timeout, q.key()).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to pop from %s: %w", q.name, err)
	}

	// BRPOP returns [key, value]
	if len(res) != 2 {
		return nil, fmt.Errorf("unexpected BRPOP reply of length %d", len(res))
	}
	var msg Message
	if err := json.Unmarshal([]byte(res[1]), &msg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal message: %w", err)
	}
	return &msg, nil
}

// Len returns the number of pending messages.
func (q *RedisQueue) Len(ctx context.Context) (int64, error) {
	return q.client.LLen(ctx, q.key()).Result()
}

// MemoryQueue is an in-process queue for development and tests.
type MemoryQueue struct {
	mu     sync.Mutex
	items  []Message
	notify chan struct{}
	closed bool
}

// NewMemoryQueue creates an empty in-memory queue.
func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{notify: make(chan struct{}, 1)}
}

// Push appends msg to the queue.
func (q *MemoryQueue) Push(_ context.Context, msg Message) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrClosed
	}
	q.items = append(q.items, msg)
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
	return nil
}

// Pop waits up to timeout for a message.
func (q *MemoryQueue) Pop(ctx context.Context, timeout time.Duration) (*Message, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			msg := q.items[0]
			q.items = q.items[1:]
			remaining := len(q.items)
			q.mu.Unlock()
			if remaining > 0 {
				// wake another waiter
				select {
				case q.notify <- struct{}{}:
				default:
				}
			}
			return &msg, nil
		}
		if q.closed {
			q.mu.Unlock()
			select {
			case q.notify <- struct{}{}:
			default:
			}
			return nil, ErrClosed
		}
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer.C:
			return nil, nil
		case <-q.notify:
		}
	}
}

// Len returns the number of pending messages.
func (q *MemoryQueue) Len(context.Context) (int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return int64(len(q.items)), nil
}

// Close makes further pushes fail and wakes blocked pops once drained.
func (q *MemoryQueue) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	select {
	case q.notify <- struct{}{}:
	default:
	}
}
