// Package vision implements the Vision Backend (C6): a polymorphic
// interface given a prompt and ordered images, returning a textual verdict,
// plus a health check. One process binds exactly one backend, chosen by a
// config string at daemon startup, resolved here as a narrow interface
// plus a registry rather than duck-typing on the string itself.
package vision

import (
	"context"
	"fmt"
	"time"

	"github.com/alxdofficial/openclaw-memoriesai/internal/cachemanager"
	"github.com/alxdofficial/openclaw-memoriesai/internal/config"
)

// Health is the result of a backend health probe.
type Health struct {
	OK      bool
	Details map[string]string
}

// Backend is the narrow capability set every vision backend implements.
type Backend interface {
	// Evaluate blocks until the model returns a reply or the context
	// expires. images' last element is the primary, full-resolution frame.
	Evaluate(ctx context.Context, prompt string, images [][]byte) (string, error)
	// Health reports backend liveness. Callers should memoize this (see
	// CachedHealth) since it is typically network I/O.
	Health(ctx context.Context) Health
}

// New resolves cfg.Backend to a concrete Backend implementation.
func New(cfg config.VisionConfig) (Backend, error) {
	switch cfg.Backend {
	case "local":
		return newHTTPBackend(cfg, localChatPath), nil
	case "openai":
		return newHTTPBackend(cfg, openaiChatPath), nil
	case "hosted":
		return newHTTPBackend(cfg, hostedChatPath), nil
	case "passthrough":
		return NewPassthrough(), nil
	default:
		return nil, fmt.Errorf("vision: unknown backend %q", cfg.Backend)
	}
}

// CachedHealth wraps a Backend so repeated Health() calls within ttl reuse
// the last result, using internal/cachemanager's read-through caching idiom.
type CachedHealth struct {
	Backend
	cache cachemanager.CacheManager[string, Health]
	ttl   time.Duration
}

// NewCachedHealth wraps b with a TTL-bounded health cache.
func NewCachedHealth(b Backend, ttl time.Duration) *CachedHealth {
	return &CachedHealth{
		Backend: b,
		cache:   cachemanager.NewInMemoryCacheManager[string, Health]("vision-health", ttl, 2*ttl),
		ttl:     ttl,
	}
}

const healthCacheKey = "health"

func (c *CachedHealth) Health(ctx context.Context) Health {
	if h, ok := c.cache.Get(ctx, healthCacheKey); ok {
		return h
	}
	h := c.Backend.Health(ctx)
	c.cache.Set(ctx, healthCacheKey, h, c.ttl)
	return h
}
