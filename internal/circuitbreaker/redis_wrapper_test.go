package circuitbreaker

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"go.uber.org/zap/zaptest"
)

func TestRedisWrapper_NormalOperations(t *testing.T) {
	s, err := miniredis.Run()
	if err != nil {
		t.Fatalf("Failed to start miniredis: %v", err)
	}
	defer s.Close()

	client := redis.NewClient(&redis.Options{Addr: s.Addr()})
	defer client.Close()

	wrapper := NewRedisWrapper(client, zaptest.NewLogger(t))
	ctx := context.Background()

	if err := wrapper.Ping(ctx).Err(); err != nil {
		t.Errorf("Ping failed: %v", err)
	}

	if err := wrapper.Set(ctx, "test:key", "test:value", time.Minute).Err(); err != nil {
		t.Errorf("Set failed: %v", err)
	}

	got := wrapper.Get(ctx, "test:key")
	if got.Err() != nil {
		t.Errorf("Get failed: %v", got.Err())
	}
	if got.Val() != "test:value" {
		t.Errorf("Expected 'test:value', got '%s'", got.Val())
	}

	// Miss returns redis.Nil and must not trip the breaker.
	if err := wrapper.Get(ctx, "nonexistent:key").Err(); err != redis.Nil {
		t.Errorf("Expected redis.Nil for non-existent key, got %v", err)
	}
	if wrapper.IsOpen() {
		t.Error("Circuit breaker should remain closed for redis.Nil")
	}

	if err := wrapper.Del(ctx, "test:key").Err(); err != nil {
		t.Errorf("Del failed: %v", err)
	}
}

func TestRedisWrapper_OpensOnServerLoss(t *testing.T) {
	s, err := miniredis.Run()
	if err != nil {
		t.Fatalf("Failed to start miniredis: %v", err)
	}

	client := redis.NewClient(&redis.Options{Addr: s.Addr()})
	defer client.Close()

	wrapper := NewRedisWrapper(client, zaptest.NewLogger(t))
	ctx := context.Background()

	if err := wrapper.Ping(ctx).Err(); err != nil {
		t.Fatalf("Ping failed: %v", err)
	}

	s.Close()

	// Enough failures to trip the breaker (default threshold 3).
	for i := 0; i < 5; i++ {
		_ = wrapper.Get(ctx, "any").Err()
	}
	if !wrapper.IsOpen() {
		t.Error("expected breaker open after repeated failures")
	}
}
