// Package persistence defines the key-value Store interface every stateful
// component (the approval store, the pause manager) is built against, plus
// two implementations: an in-memory store for tests and single-process
// deployments, and a Redis-backed store for multi-process deployments.
package persistence

import (
	"context"
	"time"
)

// Store is the minimal key-value surface the orchestrator needs: strings
// with expiry, unordered sets, and ordered lists, plus a cursor-based scan
// over keys. Expirations are in seconds; sets are unordered; lists are
// ordered; scans are cursor-based and need not return a consistent
// snapshot across calls.
type Store interface {
	Get(ctx context.Context, key string) (string, bool, error)
	SetEX(ctx context.Context, key, value string, ttl time.Duration) error
	Del(ctx context.Context, key string) error

	SAdd(ctx context.Context, key string, members ...string) error
	SMembers(ctx context.Context, key string) ([]string, error)
	SRem(ctx context.Context, key string, members ...string) error

	RPush(ctx context.Context, key string, values ...string) error
	LRange(ctx context.Context, key string, start, stop int64) ([]string, error)

	// Scan returns a page of keys matching pattern, plus a cursor to resume
	// from (0 signals the end of the iteration).
	Scan(ctx context.Context, cursor uint64, pattern string, count int64) (keys []string, nextCursor uint64, err error)
}
