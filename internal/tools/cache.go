package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

type cacheEntry struct {
	output   string
	storedAt time.Time
}

// ResultCache is an LRU of tool outputs keyed by tool name and arguments.
type ResultCache struct {
	cache *lru.Cache[string, cacheEntry]
	ttl   time.Duration
}

// NewResultCache creates a cache holding at most size entries for ttl.
func NewResultCache(size int, ttl time.Duration) (*ResultCache, error) {
	if size <= 0 {
		return nil, fmt.Errorf("cache size must be positive, got %d", size)
	}
	cache, err := lru.New[string, cacheEntry](size)
	if err != nil {
		return nil, err
	}
	return &ResultCache{cache: cache, ttl: ttl}, nil
}

// Wrap returns tool with its handler fronted by the cache. Handler errors
// are never cached.
func (c *ResultCache) Wrap(tool Tool) Tool {
	if c == nil {
		return tool
	}
	next := tool.Handler
	name := tool.Name
	tool.Handler = func(ctx context.Context, args json.RawMessage) (string, error) {
		key := name + ":" + normalizeArgs(args)
		if entry, ok := c.cache.Get(key); ok {
			if c.ttl <= 0 || time.Since(entry.storedAt) < c.ttl {
				return entry.output, nil
			}
			c.cache.Remove(key)
		}
		out, err := next(ctx, args)
		if err != nil {
			return out, err
		}
		c.cache.Add(key, cacheEntry{output: out, storedAt: time.Now()})
		return out, nil
	}
	return tool
}

// normalizeArgs re-encodes args so key order and whitespace do not matter.
func normalizeArgs(args json.RawMessage) string {
	var decoded any
	if err := json.Unmarshal(args, &decoded); err != nil {
		return string(args)
	}
	data, err := json.Marshal(decoded)
	if err != nil {
		return string(args)
	}
	return string(data)
}
