package balance

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func TestRedisLockerAppliesConfiguredTTL(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	locker := NewRedisLocker(client, 10*time.Minute)
	if locker.TTL() != 10*time.Minute {
		t.Fatalf("expected configured ttl, got %v", locker.TTL())
	}

	release, err := locker.Acquire(context.Background(), "balance:7:3:2026-01:lock")
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	if got := mr.TTL("balance:7:3:2026-01:lock"); got != 10*time.Minute {
		t.Fatalf("expected lock key ttl 10m, got %v", got)
	}

	release()
	if mr.Exists("balance:7:3:2026-01:lock") {
		t.Fatalf("expected lock key released")
	}
}

func TestRedisLockerDefaultTTLCoversJobTimeout(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	locker := NewRedisLocker(client, 0)
	if locker.TTL() < 10*time.Minute {
		t.Fatalf("default ttl %v must cover the default job timeout", locker.TTL())
	}
}
