// Package cachetest holds the behaviour every cache.Cache implementation
// must share.
package cachetest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Strob0t/tenantguard/internal/port/cache"
)

// Run exercises c against the cache contract.
func Run(t *testing.T, c cache.Cache) {
	t.Helper()
	ctx := context.Background()

	t.Run("SetAndGet", func(t *testing.T) {
		require.NoError(t, c.Set(ctx, "compliance-key", []byte("compliance-val"), time.Minute))
		val, found, err := c.Get(ctx, "compliance-key")
		require.NoError(t, err)
		require.True(t, found)
		assert.Equal(t, "compliance-val", string(val))
	})

	t.Run("GetMiss", func(t *testing.T) {
		_, found, err := c.Get(ctx, "nonexistent-key")
		require.NoError(t, err)
		assert.False(t, found)
	})

	t.Run("Delete", func(t *testing.T) {
		require.NoError(t, c.Set(ctx, "del-key", []byte("del-val"), time.Minute))
		require.NoError(t, c.Delete(ctx, "del-key"))
		_, found, err := c.Get(ctx, "del-key")
		require.NoError(t, err)
		assert.False(t, found)
	})

	t.Run("DeleteNonexistent", func(t *testing.T) {
		assert.NoError(t, c.Delete(ctx, "never-existed"))
	})

	t.Run("Overwrite", func(t *testing.T) {
		require.NoError(t, c.Set(ctx, "ow-key", []byte("v1"), time.Minute))
		require.NoError(t, c.Set(ctx, "ow-key", []byte("v2"), time.Minute))
		val, found, err := c.Get(ctx, "ow-key")
		require.NoError(t, err)
		require.True(t, found)
		assert.Equal(t, "v2", string(val))
	})

	t.Run("TenantKeysDoNotCollide", func(t *testing.T) {
		a := cache.TenantKey("tenant-a", "idem", "k1")
		b := cache.TenantKey("tenant-b", "idem", "k1")
		require.NoError(t, c.Set(ctx, a, []byte("a"), time.Minute))
		_, found, err := c.Get(ctx, b)
		require.NoError(t, err)
		assert.False(t, found)
	})
}
