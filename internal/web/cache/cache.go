// Package cache stores rendered GET responses in Redis, invalidated per
// resource type on every write.
package cache

import (
	"context"
	"time"
)

// Config holds the response cache configuration.
type Config struct {
	// DefaultTTL is the time-to-live for cached responses.
	DefaultTTL time.Duration
	// Prefix is prepended to all cache keys.
	Prefix string
}

// DefaultConfig returns the default response cache configuration.
func DefaultConfig() Config {
	return Config{
		DefaultTTL: 5 * time.Minute,
		Prefix:     "strata:",
	}
}

// ResponseCache caches rendered response bodies keyed by request URI and
// tracks which keys belong to which resource type so writes can invalidate
// every read that touched the type.
type ResponseCache interface {
	// Get returns the cached body for a key, or a miss.
	Get(ctx context.Context, key string) ([]byte, bool, error)
	// Set stores a body under a key and registers it against the types.
	Set(ctx context.Context, key string, types []string, body []byte) error
	// Invalidate drops every key registered against the type.
	Invalidate(ctx context.Context, typeName string) error
}
