package persistence

import (
	"context"
	"os"
	"testing"
	"time"
)

// These tests exercise RedisStore against a live Redis instance and are
// skipped unless REDIS_TEST_ADDR is set, matching how other example repos
// in this codebase gate integration tests on an external dependency.
func newTestRedisStore(t *testing.T) *RedisStore {
	t.Helper()
	addr := os.Getenv("REDIS_TEST_ADDR")
	if addr == "" {
		t.Skip("REDIS_TEST_ADDR not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s, err := NewRedisStore(ctx, RedisConfig{Addr: addr})
	if err != nil {
		t.Fatalf("failed to connect to redis at %s: %v", addr, err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestRedisStore_GetSet(t *testing.T) {
	s := newTestRedisStore(t)
	ctx := context.Background()

	if err := s.SetEX(ctx, "orch:test:k", "v", time.Minute); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	val, ok, err := s.Get(ctx, "orch:test:k")
	if err != nil || !ok || val != "v" {
		t.Fatalf("expected v/true/nil, got %q/%v/%v", val, ok, err)
	}
	_ = s.Del(ctx, "orch:test:k")
}

func TestRedisStore_Sets(t *testing.T) {
	s := newTestRedisStore(t)
	ctx := context.Background()
	defer s.Del(ctx, "orch:test:set")

	_ = s.SAdd(ctx, "orch:test:set", "a", "b")
	members, err := s.SMembers(ctx, "orch:test:set")
	if err != nil || len(members) != 2 {
		t.Fatalf("expected 2 members, got %v (err=%v)", members, err)
	}
}

func TestRedisStore_Lists(t *testing.T) {
	s := newTestRedisStore(t)
	ctx := context.Background()
	defer s.Del(ctx, "orch:test:list")

	_ = s.RPush(ctx, "orch:test:list", "1", "2")
	list, err := s.LRange(ctx, "orch:test:list", 0, -1)
	if err != nil || len(list) != 2 {
		t.Fatalf("expected 2 elements, got %v (err=%v)", list, err)
	}
}
