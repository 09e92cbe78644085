package toolregistry

import (
	"context"
	"fmt"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"souschef/internal/agent/ports"
)

const (
	defaultCacheMaxSize = 256
	defaultCacheTTL     = 5 * time.Minute
)

// CacheConfig configures result caching for a capability.
type CacheConfig struct {
	MaxSize int
	TTL     time.Duration
}

type cacheEntry struct {
	content  string
	storedAt time.Time
}

// cachedCapability memoises successful results keyed by the normalised
// arguments. Error results are never cached.
type cachedCapability struct {
	delegate ports.Capability
	cache    *lru.Cache[string, cacheEntry]
	ttl      time.Duration
	now      func() time.Time
}

// WithCache wraps delegate with an LRU result cache. Zero config values fall
// back to defaults.
func WithCache(delegate ports.Capability, config CacheConfig) ports.Capability {
	if delegate == nil {
		return nil
	}
	if config.MaxSize <= 0 {
		config.MaxSize = defaultCacheMaxSize
	}
	if config.TTL <= 0 {
		config.TTL = defaultCacheTTL
	}
	cache, err := lru.New[string, cacheEntry](config.MaxSize)
	if err != nil {
		return delegate
	}
	return &cachedCapability{delegate: delegate, cache: cache, ttl: config.TTL, now: time.Now}
}

func (c *cachedCapability) Definition() ports.ToolDefinition {
	return c.delegate.Definition()
}

func (c *cachedCapability) Execute(ctx context.Context, call ports.ToolCall) (*ports.ToolResult, error) {
	key := c.key(call)
	if entry, ok := c.cache.Get(key); ok {
		if c.now().Sub(entry.storedAt) < c.ttl {
			return &ports.ToolResult{CallID: call.ID, Content: entry.content}, nil
		}
		c.cache.Remove(key)
	}

	result, err := c.delegate.Execute(ctx, call)
	if err != nil || result == nil || result.Error != nil {
		return result, err
	}
	c.cache.Add(key, cacheEntry{content: result.Content, storedAt: c.now()})
	return result, nil
}

// key normalises string arguments (trim + lowercase) so trivially different
// queries share an entry; ArgumentsJSON already sorts keys.
func (c *cachedCapability) key(call ports.ToolCall) string {
	normalised := call.Clone()
	for k, v := range normalised.Arguments {
		if s, ok := v.(string); ok {
			normalised.Arguments[k] = strings.ToLower(strings.TrimSpace(s))
		}
	}
	return fmt.Sprintf("%s:%s", c.delegate.Definition().Name, normalised.ArgumentsJSON())
}
