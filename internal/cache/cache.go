// Package cache provides the optional caching layer in front of the query
// pipeline: a TTL cache for full responses and an LRU cache for embeddings,
// both keyed by exact input text. A hit is indistinguishable in content from
// a recomputation for the same input.
package cache

import (
	"container/list"
	"context"
	"sync"
	"time"

	"github.com/srhkb/kbchat/internal/pipeline"
)

// ResponseCache caches pipeline responses keyed by exact query text with an
// expiry. Safe for concurrent use.
type ResponseCache struct {
	ttl        time.Duration
	maxEntries int

	mu      sync.Mutex
	entries map[string]responseEntry

	// now is overridable in tests.
	now func() time.Time
}

type responseEntry struct {
	resp     pipeline.Response
	storedAt time.Time
}

// NewResponseCache creates a ResponseCache. If maxEntries <= 0 it defaults
// to 1000; if ttl <= 0 it defaults to one hour.
func NewResponseCache(ttl time.Duration, maxEntries int) *ResponseCache {
	if ttl <= 0 {
		ttl = time.Hour
	}
	if maxEntries <= 0 {
		maxEntries = 1000
	}
	return &ResponseCache{
		ttl:        ttl,
		maxEntries: maxEntries,
		entries:    make(map[string]responseEntry),
		now:        time.Now,
	}
}

// Get returns the cached response for query, if present and not expired.
func (c *ResponseCache) Get(query string) (pipeline.Response, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[query]
	if !ok {
		return pipeline.Response{}, false
	}
	if c.now().Sub(e.storedAt) > c.ttl {
		delete(c.entries, query)
		return pipeline.Response{}, false
	}
	return e.resp, true
}

// Put stores a response. Error-kind responses are not cached so transient
// failures don't stick for the TTL window.
func (c *ResponseCache) Put(query string, resp pipeline.Response) {
	if resp.Kind == pipeline.KindError {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.entries) >= c.maxEntries {
		c.evictLocked()
	}
	c.entries[query] = responseEntry{resp: resp, storedAt: c.now()}
}

// evictLocked drops expired entries; if nothing expired, drops the oldest.
func (c *ResponseCache) evictLocked() {
	now := c.now()
	var oldestKey string
	var oldestAt time.Time
	for k, e := range c.entries {
		if now.Sub(e.storedAt) > c.ttl {
			delete(c.entries, k)
			continue
		}
		if oldestKey == "" || e.storedAt.Before(oldestAt) {
			oldestKey, oldestAt = k, e.storedAt
		}
	}
	if len(c.entries) >= c.maxEntries && oldestKey != "" {
		delete(c.entries, oldestKey)
	}
}

// Reset discards all cached responses.
func (c *ResponseCache) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]responseEntry)
}

// Len returns the number of cached responses, including not-yet-evicted
// expired ones.
func (c *ResponseCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// EmbeddingCache is an LRU cache over an embedding provider, keyed by exact
// text. It implements the retriever's QueryEmbedder interface so it can sit
// transparently in front of the real embedder.
type EmbeddingCache struct {
	inner      Embedder
	maxEntries int

	mu    sync.Mutex
	order *list.List // front = most recently used
	items map[string]*list.Element
}

// Embedder is the embedding provider the cache wraps.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

type embeddingEntry struct {
	text string
	vec  []float32
}

// NewEmbeddingCache wraps inner with an LRU of maxEntries embeddings
// (default 1000 if <= 0).
func NewEmbeddingCache(inner Embedder, maxEntries int) *EmbeddingCache {
	if maxEntries <= 0 {
		maxEntries = 1000
	}
	return &EmbeddingCache{
		inner:      inner,
		maxEntries: maxEntries,
		order:      list.New(),
		items:      make(map[string]*list.Element),
	}
}

// Embed returns the cached vector for text, computing and caching it on a
// miss. Failures are not cached.
func (c *EmbeddingCache) Embed(ctx context.Context, text string) ([]float32, error) {
	c.mu.Lock()
	if el, ok := c.items[text]; ok {
		c.order.MoveToFront(el)
		vec := el.Value.(embeddingEntry).vec
		c.mu.Unlock()
		return vec, nil
	}
	c.mu.Unlock()

	vec, err := c.inner.Embed(ctx, text)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.items[text]; !ok {
		if c.order.Len() >= c.maxEntries {
			back := c.order.Back()
			if back != nil {
				c.order.Remove(back)
				delete(c.items, back.Value.(embeddingEntry).text)
			}
		}
		c.items[text] = c.order.PushFront(embeddingEntry{text: text, vec: vec})
	}
	return vec, nil
}

// Reset discards all cached embeddings.
func (c *EmbeddingCache) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.order.Init()
	c.items = make(map[string]*list.Element)
}

// Len returns the number of cached embeddings.
func (c *EmbeddingCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}
