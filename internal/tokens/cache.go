package tokens

import (
	"sync"

	"github.com/guilhermegouw/chatctx/internal/message"
)

// DefaultCacheSize is the number of texts a CachedEstimator remembers.
const DefaultCacheSize = 2048

// maxCachedText is the longest text kept in the cache. Larger texts are
// usually one-off contexts and would only push history out.
const maxCachedText = 64 << 10

// CachedEstimator memoizes another estimator. Stored history is re-estimated
// on every request, so the same texts come back over and over.
type CachedEstimator struct {
	next  Estimator
	cache *lru
}

// NewCachedEstimator wraps next with an LRU cache of size entries.
func NewCachedEstimator(next Estimator, size int) *CachedEstimator {
	return &CachedEstimator{next: next, cache: newLRU(size)}
}

// Estimate returns the cached count for text, computing it on a miss.
func (c *CachedEstimator) Estimate(text string) int {
	if text == "" {
		return 0
	}
	if len(text) > maxCachedText {
		return c.next.Estimate(text)
	}
	if n, ok := c.cache.get(text); ok {
		return n
	}
	n := c.next.Estimate(text)
	c.cache.put(text, n)
	return n
}

// EstimateAll sums Estimate over message contents.
func (c *CachedEstimator) EstimateAll(msgs []message.Message) int {
	return sumContents(c, msgs)
}

// Encoding returns the encoding of the wrapped estimator, or "" when it has
// none.
func (c *CachedEstimator) Encoding() string {
	if e, ok := c.next.(interface{ Encoding() string }); ok {
		return e.Encoding()
	}
	return ""
}

// Stats returns cache hits and misses.
func (c *CachedEstimator) Stats() (hits, misses int64) {
	return c.cache.stats()
}

// lru maps texts to token counts, evicting the least recently used entry.
// Entries form a doubly-linked list with the most recent at head.
type lru struct {
	mu       sync.Mutex
	capacity int
	items    map[string]*lruEntry
	head     *lruEntry
	tail     *lruEntry
	hits     int64
	misses   int64
}

type lruEntry struct {
	text   string
	tokens int
	prev   *lruEntry
	next   *lruEntry
}

func newLRU(capacity int) *lru {
	return &lru{
		capacity: max(capacity, 1),
		items:    make(map[string]*lruEntry),
	}
}

func (c *lru) get(text string) (int, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.items[text]
	if !ok {
		c.misses++
		return 0, false
	}
	c.hits++
	c.unlink(e)
	c.pushFront(e)
	return e.tokens, true
}

func (c *lru) put(text string, tokens int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.items[text]; ok {
		e.tokens = tokens
		c.unlink(e)
		c.pushFront(e)
		return
	}

	e := &lruEntry{text: text, tokens: tokens}
	c.items[text] = e
	c.pushFront(e)

	if len(c.items) > c.capacity {
		oldest := c.tail
		c.unlink(oldest)
		delete(c.items, oldest.text)
	}
}

func (c *lru) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

func (c *lru) stats() (hits, misses int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hits, c.misses
}

func (c *lru) pushFront(e *lruEntry) {
	e.prev = nil
	e.next = c.head
	if c.head != nil {
		c.head.prev = e
	}
	c.head = e
	if c.tail == nil {
		c.tail = e
	}
}

func (c *lru) unlink(e *lruEntry) {
	if e.prev != nil {
		e.prev.next = e.next
	} else {
		c.head = e.next
	}
	if e.next != nil {
		e.next.prev = e.prev
	} else {
		c.tail = e.prev
	}
	e.prev, e.next = nil, nil
}
