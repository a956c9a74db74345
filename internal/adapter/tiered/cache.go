// Package tiered implements a two-level (L1 + L2) cache adapter.
package tiered

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Strob0t/tenantguard/internal/port/cache"
	"github.com/Strob0t/tenantguard/internal/port/messagequeue"
)

// Cache combines an in-process L1 with an optional shared L2.
// Get checks L1 first, then L2 (backfilling L1 on L2 hit). An unavailable
// L2 degrades to L1 only: its read and write errors are logged, not
// returned. Delete errors are returned so invalidation failures surface.
// With peers, deletes are also broadcast so other nodes drop their L1 copy.
type Cache struct {
	l1      cache.Cache
	l2      cache.Cache
	l1TTL   time.Duration
	log     *zap.Logger
	peers   messagequeue.Queue
	subject string
	node    string
}

// Option configures a Cache.
type Option func(*Cache)

// WithPeers broadcasts deletes on subject through q.
func WithPeers(q messagequeue.Queue, subject string) Option {
	return func(c *Cache) {
		c.peers = q
		c.subject = subject
	}
}

// New creates a tiered cache. l2 may be nil. l1TTL caps how long entries
// backfilled from L2 live in L1.
func New(l1, l2 cache.Cache, l1TTL time.Duration, log *zap.Logger, opts ...Option) *Cache {
	if log == nil {
		log = zap.NewNop()
	}
	c := &Cache{l1: l1, l2: l2, l1TTL: l1TTL, log: log, node: uuid.NewString()}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Get checks L1, then L2.
func (c *Cache) Get(ctx context.Context, key string) (data []byte, ok bool, err error) {
	val, found, err := c.l1.Get(ctx, key)
	if err != nil {
		return nil, false, err
	}
	if found || c.l2 == nil {
		return val, found, nil
	}

	val, found, err = c.l2.Get(ctx, key)
	if err != nil {
		c.log.Warn("l2 cache get failed", zap.String("key", key), zap.Error(err))
		return nil, false, nil
	}
	if !found {
		return nil, false, nil
	}
	_ = c.l1.Set(ctx, key, val, c.l1TTL)
	return val, true, nil
}

// Set writes to L1, then L2.
func (c *Cache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	l1TTL := ttl
	if c.l1TTL > 0 && (l1TTL <= 0 || c.l1TTL < l1TTL) {
		l1TTL = c.l1TTL
	}
	if err := c.l1.Set(ctx, key, value, l1TTL); err != nil {
		return err
	}
	if c.l2 == nil {
		return nil
	}
	if err := c.l2.Set(ctx, key, value, ttl); err != nil {
		c.log.Warn("l2 cache set failed", zap.String("key", key), zap.Error(err))
	}
	return nil
}

// Delete removes from both levels and tells peers to drop their L1 copy.
func (c *Cache) Delete(ctx context.Context, key string) error {
	if err := c.l1.Delete(ctx, key); err != nil {
		return err
	}
	if c.l2 != nil {
		if err := c.l2.Delete(ctx, key); err != nil {
			return err
		}
	}
	if c.peers == nil {
		return nil
	}
	data, err := json.Marshal(messagequeue.CacheInvalidation{Key: key, Origin: c.node})
	if err != nil {
		return err
	}
	if err := c.peers.Publish(ctx, c.subject, data); err != nil {
		return fmt.Errorf("broadcast delete %s: %w", key, err)
	}
	return nil
}

// Listen drops L1 entries deleted on other nodes until the returned stop
// function is called. Without peers it does nothing.
func (c *Cache) Listen(ctx context.Context) (stop func(), err error) {
	if c.peers == nil {
		return func() {}, nil
	}
	return c.peers.Subscribe(ctx, c.subject, func(ctx context.Context, _ string, data []byte) error {
		var m messagequeue.CacheInvalidation
		if err := json.Unmarshal(data, &m); err != nil {
			c.log.Warn("dropping malformed cache invalidation", zap.Error(err))
			return nil
		}
		if m.Origin == c.node {
			return nil
		}
		return c.l1.Delete(ctx, m.Key)
	})
}
