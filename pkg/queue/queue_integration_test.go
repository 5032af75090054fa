package queue

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/DhavalThkkar/langfuse/pkg/cache"
)

func setupRedisQueue(t *testing.T) *RedisQueue {
	t.Helper()

	cfg := cache.DefaultConfig()
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		cfg.Addr = addr
	}
	cfg.DB = 15
	cfg.ReadTimeout = 3 * time.Second

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	client, err := cache.Connect(ctx, cfg)
	if err != nil {
		t.Skipf("Redis not available: %v", err)
	}
	client.WithKeyPrefix("test")
	client.FlushDB(ctx)

	t.Cleanup(func() {
		client.FlushDB(context.Background())
		client.Close()
	})

	return NewRedisQueue(client, "batch-action-queue")
}

func TestRedisQueue_PushPop_Integration(t *testing.T) {
	q := setupRedisQueue(t)
	ctx := context.Background()

	first, _ := NewMessage("m1", "job", samplePayload{BatchActionID: "ba-1"})
	second, _ := NewMessage("m2", "job", samplePayload{BatchActionID: "ba-2"})
	q.Push(ctx, first)
	q.Push(ctx, second)

	n, err := q.Len(ctx)
	if err != nil || n != 2 {
		t.Fatalf("Len() = %v, %v, want 2", n, err)
	}

	msg, err := q.Pop(ctx, time.Second)
	if err != nil {
		t.Fatalf("Pop() error = %v", err)
	}
	if msg == nil || msg.ID != "m1" {
		t.Fatalf("Pop() = %v, want m1", msg)
	}

	var p samplePayload
	if err := msg.Decode(&p); err != nil || p.BatchActionID != "ba-1" {
		t.Errorf("payload = %+v, %v, want ba-1", p, err)
	}
}

func TestRedisQueue_PopTimeout_Integration(t *testing.T) {
	q := setupRedisQueue(t)

	msg, err := q.Pop(context.Background(), time.Second)
	if err != nil {
		t.Fatalf("Pop() error = %v", err)
	}
	if msg != nil {
		t.Errorf("Pop() = %v, want nil", msg)
	}
}
