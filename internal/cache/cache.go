// Package cache implements the bounded result cache (A5) used by the search
// service: a generic Cache[K,V] capability interface, a
// github.com/hashicorp/golang-lru/v2-backed production implementation, and a
// deterministic map-based test double.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Cache is a bounded key/value store. Implementations need not be safe for
// concurrent use unless documented otherwise; LRUCache is.
type Cache[K comparable, V any] interface {
	Get(key K) (V, bool)
	Add(key K, value V)
	Remove(key K)
	Len() int
}

// LRUCache is the production cache, backed by golang-lru/v2's fixed-size LRU.
type LRUCache[K comparable, V any] struct {
	inner *lru.Cache[K, V]
}

// NewLRU builds an LRUCache holding up to size entries. size<=0 is rejected
// by the underlying library; callers should fall back to a sane default
// rather than propagate a zero-size cache.
func NewLRU[K comparable, V any](size int) (*LRUCache[K, V], error) {
	inner, err := lru.New[K, V](size)
	if err != nil {
		return nil, err
	}
	return &LRUCache[K, V]{inner: inner}, nil
}

func (c *LRUCache[K, V]) Get(key K) (V, bool) { return c.inner.Get(key) }
func (c *LRUCache[K, V]) Add(key K, value V)  { c.inner.Add(key, value) }
func (c *LRUCache[K, V]) Remove(key K)        { c.inner.Remove(key) }
func (c *LRUCache[K, V]) Len() int            { return c.inner.Len() }

// MapCache is a deterministic, unbounded in-memory test double: no eviction,
// so tests can assert exact cache contents instead of reasoning about LRU
// order.
type MapCache[K comparable, V any] struct {
	mu sync.RWMutex
	m  map[K]V
}

// NewMapCache builds an empty MapCache.
func NewMapCache[K comparable, V any]() *MapCache[K, V] {
	return &MapCache[K, V]{m: make(map[K]V)}
}

func (c *MapCache[K, V]) Get(key K) (V, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.m[key]
	return v, ok
}

func (c *MapCache[K, V]) Add(key K, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.m[key] = value
}

func (c *MapCache[K, V]) Remove(key K) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.m, key)
}

func (c *MapCache[K, V]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.m)
}

// Key derives a stable cache key from an ordered list of parts (tenant,
// repository, branch, query text, limit, ...), so callers never build ad hoc
// string concatenations that risk key collisions across fields.
func Key(parts ...string) string {
	h := sha256.New()
	for _, p := range parts {
		h.Write([]byte(p))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// KeyFrom is a convenience wrapper for Key that also normalizes each part
// (trimmed, case-preserved) before hashing.
func KeyFrom(parts ...string) string {
	normalized := make([]string, len(parts))
	for i, p := range parts {
		normalized[i] = strings.TrimSpace(p)
	}
	return Key(normalized...)
}
