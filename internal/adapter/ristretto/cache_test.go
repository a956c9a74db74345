package ristretto_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Strob0t/tenantguard/internal/adapter/ristretto"
	"github.com/Strob0t/tenantguard/internal/port/cache/cachetest"
)

func newCache(t *testing.T) *ristretto.Cache {
	t.Helper()
	c, err := ristretto.New(1)
	require.NoError(t, err)
	t.Cleanup(c.Close)
	return c
}

func TestCompliance(t *testing.T) {
	cachetest.Run(t, newCache(t))
}

func TestRejectsNonPositiveSize(t *testing.T) {
	_, err := ristretto.New(0)
	assert.Error(t, err)
}

func TestStatsCountHitsAndMisses(t *testing.T) {
	c := newCache(t)
	ctx := context.Background()
	require.NoError(t, c.Set(ctx, "k", []byte("v"), time.Minute))

	_, _, _ = c.Get(ctx, "k")
	_, _, _ = c.Get(ctx, "absent")

	hits, misses := c.Stats()
	assert.Equal(t, uint64(1), hits)
	assert.Equal(t, uint64(1), misses)
}
