package cache

import (
	"context"
	"os"
	"testing"
	"time"
)

func getRedisAddr() string {
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		return addr
	}
	return "localhost:6379"
}

func setupRedis(t *testing.T) *Client {
	t.Helper()

	cfg := DefaultConfig()
	cfg.Addr = getRedisAddr()
	cfg.DB = 15 // keep tests away from real data
	cfg.ReadTimeout = time.Second
	cfg.WriteTimeout = time.Second

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	client, err := Connect(ctx, cfg)
	if err != nil {
		t.Skipf("Redis not available: %v", err)
	}
	client.WithKeyPrefix("test")
	client.Client.FlushDB(ctx)

	t.Cleanup(func() {
		client.Client.FlushDB(context.Background())
		client.Close()
	})

	return client
}

func TestClient_GetSet_Integration(t *testing.T) {
	client := setupRedis(t)
	ctx := context.Background()

	if err := client.Set(ctx, "k", "v", time.Minute); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	got, err := client.Get(ctx, "k")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got != "v" {
		t.Errorf("Get() = %v, want %v", got, "v")
	}

	// stored under the prefixed key
	raw, err := client.Client.Get(ctx, "test:k").Result()
	if err != nil {
		t.Fatalf("raw Get() error = %v", err)
	}
	if raw != "v" {
		t.Errorf("raw value = %v, want %v", raw, "v")
	}
}

func TestClient_GetMissing_Integration(t *testing.T) {
	client := setupRedis(t)

	got, err := client.Get(context.Background(), "missing")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got != "" {
		t.Errorf("Get() = %q, want empty", got)
	}
}

func TestClient_ExistsDeleteTTL_Integration(t *testing.T) {
	client := setupRedis(t)
	ctx := context.Background()

	if err := client.Set(ctx, "marker", "1", time.Minute); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	ok, err := client.Exists(ctx, "marker")
	if err != nil || !ok {
		t.Fatalf("Exists() = %v, %v, want true, nil", ok, err)
	}

	ttl, err := client.TTL(ctx, "marker")
	if err != nil {
		t.Fatalf("TTL() error = %v", err)
	}
	if ttl <= 0 || ttl > time.Minute {
		t.Errorf("TTL() = %v, want within (0, 1m]", ttl)
	}

	if err := client.Delete(ctx, "marker"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	ok, _ = client.Exists(ctx, "marker")
	if ok {
		t.Error("Exists() after Delete = true, want false")
	}
}
