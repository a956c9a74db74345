// Package cache defines the port interface for caching.
package cache

import (
	"context"
	"strings"
	"time"
)

// Cache is the port interface for key-value caching.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// Key joins parts into a global cache key.
func Key(parts ...string) string {
	return strings.Join(parts, ":")
}

// TenantKey builds a key namespaced under tenantID. Entries derived from
// tenant-owned data must use it so a lookup can never hit another tenant's
// entry.
func TenantKey(tenantID string, parts ...string) string {
	return "t:" + tenantID + ":" + Key(parts...)
}
