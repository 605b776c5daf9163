// Package session caches vendor session tokens per target so concurrent
// callers share a single handshake.
package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// DefaultHandshakeTimeout bounds a shared handshake once it no longer
// follows any single caller's context.
const DefaultHandshakeTimeout = 30 * time.Second

// Handshake obtains a fresh token for a key.
type Handshake func(ctx context.Context) (string, error)

// Cache holds tokens keyed by target identity.
type Cache struct {
	logger *zap.Logger
	group  singleflight.Group
	// HandshakeTimeout limits each handshake; zero uses the default.
	HandshakeTimeout time.Duration

	mu     sync.RWMutex
	tokens map[string]string
}

// New constructs an empty cache.
func New(logger *zap.Logger) *Cache {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Cache{
		logger: logger.Named("session"),
		tokens: make(map[string]string),
	}
}

// Get returns the cached token for key, running handshake when none is
// cached. Concurrent misses for the same key share one handshake, which
// runs detached from any single caller: a canceled caller returns early
// while the others keep waiting for the result.
func (c *Cache) Get(ctx context.Context, key string, handshake Handshake) (string, error) {
	c.mu.RLock()
	token, ok := c.tokens[key]
	c.mu.RUnlock()
	if ok {
		return token, nil
	}

	ch := c.group.DoChan(key, func() (any, error) {
		c.mu.RLock()
		cached, ok := c.tokens[key]
		c.mu.RUnlock()
		if ok {
			return cached, nil
		}
		hctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.handshakeTimeout())
		defer cancel()
		fresh, err := handshake(hctx)
		if err != nil {
			return "", err
		}
		c.mu.Lock()
		c.tokens[key] = fresh
		c.mu.Unlock()
		c.logger.Debug("session established", zap.String("key", key))
		return fresh, nil
	})

	select {
	case <-ctx.Done():
		return "", fmt.Errorf("handshake %s: %w", key, ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return "", fmt.Errorf("handshake %s: %w", key, res.Err)
		}
		if res.Shared {
			c.logger.Debug("session handshake shared", zap.String("key", key))
		}
		return res.Val.(string), nil
	}
}

func (c *Cache) handshakeTimeout() time.Duration {
	if c.HandshakeTimeout > 0 {
		return c.HandshakeTimeout
	}
	return DefaultHandshakeTimeout
}

// Invalidate drops the cached token for key.
func (c *Cache) Invalidate(key string) {
	c.mu.Lock()
	delete(c.tokens, key)
	c.mu.Unlock()
	c.group.Forget(key)
	c.logger.Debug("session invalidated", zap.String("key", key))
}

// Len reports how many sessions are cached.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.tokens)
}
