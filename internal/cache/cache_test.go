package cache

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

func TestDisabledCacheMisses(t *testing.T) {
	c := Disabled(zerolog.Nop())
	ctx := context.Background()

	if c.IsAvailable() {
		t.Fatal("disabled cache reports available")
	}
	if err := c.SetHoliday(ctx, "2024-08-24", true); err != nil {
		t.Fatalf("set holiday: %v", err)
	}
	if _, ok := c.GetHoliday(ctx, "2024-08-24"); ok {
		t.Fatal("disabled cache returned a holiday hit")
	}
	if err := c.SetCapacity(ctx, "streams", 10); err != nil {
		t.Fatalf("set capacity: %v", err)
	}
	if _, ok := c.GetCapacity(ctx, "streams"); ok {
		t.Fatal("disabled cache returned a capacity hit")
	}
	for name, err := range map[string]error{
		"invalidate holiday":  c.InvalidateHoliday(ctx, "2024-08-24"),
		"invalidate capacity": c.InvalidateCapacity(ctx, "streams"),
		"flush":               c.FlushAll(ctx),
	} {
		if err != nil {
			t.Errorf("%s: %v", name, err)
		}
	}
}

func TestNilCacheIsUnavailable(t *testing.T) {
	var c *Cache
	if c.IsAvailable() {
		t.Fatal("nil cache reports available")
	}
	if _, ok := c.GetCapacity(context.Background(), "streams"); ok {
		t.Fatal("nil cache returned a hit")
	}
	if err := c.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
}

func TestNewWithoutAddressIsDisabled(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RedisAddr = ""
	c, err := New(cfg, zerolog.Nop())
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if c.IsAvailable() {
		t.Fatal("expected disabled cache without an address")
	}
}

// TestFlushAllAgainstRedis needs a real server at CHRONOGRAPH_TEST_REDIS_ADDR.
func TestFlushAllAgainstRedis(t *testing.T) {
	addr := os.Getenv("CHRONOGRAPH_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("CHRONOGRAPH_TEST_REDIS_ADDR not set")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { _ = client.Close() })
	ctx := context.Background()

	foreign := "chronograph:test:untouched"
	if err := client.Set(ctx, foreign, "1", time.Minute).Err(); err != nil {
		t.Fatalf("seed foreign key: %v", err)
	}
	t.Cleanup(func() { client.Del(context.Background(), foreign) })

	c := NewWithClient(client, DefaultConfig(), zerolog.Nop())
	if err := c.SetHoliday(ctx, "2024-08-24", true); err != nil {
		t.Fatalf("set holiday: %v", err)
	}
	if err := c.SetCapacity(ctx, "streams", 12); err != nil {
		t.Fatalf("set capacity: %v", err)
	}
	if v, ok := c.GetCapacity(ctx, "streams"); !ok || v != 12 {
		t.Fatalf("capacity = %d, %v before flush", v, ok)
	}

	if err := c.FlushAll(ctx); err != nil {
		t.Fatalf("flush: %v", err)
	}
	if _, ok := c.GetHoliday(ctx, "2024-08-24"); ok {
		t.Fatal("holiday survived flush")
	}
	if _, ok := c.GetCapacity(ctx, "streams"); ok {
		t.Fatal("capacity survived flush")
	}
	if n, err := client.Exists(ctx, foreign).Result(); err != nil || n != 1 {
		t.Fatalf("flush removed a key outside the cache prefix: %d, %v", n, err)
	}
}
