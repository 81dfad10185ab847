// Package cache provides a best-effort read cache for catalog lookups.
//
// The cache is strictly an accelerator: every operation degrades to a miss or
// a no-op on failure, and no caller ever sees a cache error. A dataset read
// must never fail because Redis is down.
package cache

import (
	"context"
	"time"
)

// Cache is the catalog's view of the caching layer.
type Cache interface {
	// Get unmarshals the cached value into dest and reports whether the key
	// was present. Errors (connectivity, corrupt payloads) count as misses.
	Get(ctx context.Context, key string, dest any) bool

	// Set stores the value under key for ttl. Failures are logged and
	// swallowed.
	Set(ctx context.Context, key string, value any, ttl time.Duration)

	// Del removes specific keys. Failures are logged and swallowed.
	Del(ctx context.Context, keys ...string)

	// DelByPattern removes every key matching the glob pattern and reports
	// how many were removed. Used to invalidate derived listings after a
	// write. Returns 0 on failure.
	DelByPattern(ctx context.Context, pattern string) int

	// Close releases the underlying connection.
	Close()
}

// Noop satisfies Cache without caching anything. Used when caching is
// disabled in configuration.
type Noop struct{}

func (Noop) Get(context.Context, string, any) bool           { return false }
func (Noop) Set(context.Context, string, any, time.Duration) {}
func (Noop) Del(context.Context, ...string)                  {}
func (Noop) DelByPattern(context.Context, string) int        { return 0 }
func (Noop) Close()                                          {}
