package quality

import (
	"container/list"
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"

	"github.com/msageha/docflow/internal/model"
)

// ResultCache is a thread-safe LRU cache of checker scores with a TTL.
type ResultCache struct {
	mu      sync.Mutex
	items   map[string]*list.Element
	lru     *list.List
	maxSize int
	ttl     time.Duration
	now     func() time.Time
	hits    int
	misses  int
}

type cacheItem struct {
	key       string
	value     model.QualityScore
	expiresAt time.Time
}

// NewResultCache creates a cache. maxSize <= 0 disables caching.
func NewResultCache(maxSize int, ttl time.Duration) *ResultCache {
	return &ResultCache{
		items:   make(map[string]*list.Element),
		lru:     list.New(),
		maxSize: maxSize,
		ttl:     ttl,
		now:     time.Now,
	}
}

// CacheKey fingerprints a check request.
func CacheKey(documentID, docType, content string) string {
	sum := sha256.Sum256([]byte(documentID + "\x00" + docType + "\x00" + content))
	return hex.EncodeToString(sum[:])
}

func (c *ResultCache) Get(key string) (model.QualityScore, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.items[key]
	if !ok {
		c.misses++
		return model.QualityScore{}, false
	}
	item := elem.Value.(*cacheItem)
	if c.now().After(item.expiresAt) {
		c.removeElement(elem)
		c.misses++
		return model.QualityScore{}, false
	}
	c.lru.MoveToFront(elem)
	c.hits++
	return copyScore(item.value), true
}

func (c *ResultCache) Set(key string, value model.QualityScore) {
	if c.maxSize <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.items[key]; ok {
		c.lru.MoveToFront(elem)
		item := elem.Value.(*cacheItem)
		item.value = copyScore(value)
		item.expiresAt = c.now().Add(c.ttl)
		return
	}

	elem := c.lru.PushFront(&cacheItem{
		key:       key,
		value:     copyScore(value),
		expiresAt: c.now().Add(c.ttl),
	})
	c.items[key] = elem

	if c.lru.Len() > c.maxSize {
		c.removeElement(c.lru.Back())
	}
	if c.lru.Len()%100 == 0 {
		c.cleanExpired()
	}
}

func (c *ResultCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = make(map[string]*list.Element)
	c.lru = list.New()
}

func (c *ResultCache) removeElement(elem *list.Element) {
	c.lru.Remove(elem)
	delete(c.items, elem.Value.(*cacheItem).key)
}

func (c *ResultCache) cleanExpired() {
	now := c.now()
	for elem := c.lru.Back(); elem != nil; {
		prev := elem.Prev()
		if now.After(elem.Value.(*cacheItem).expiresAt) {
			c.removeElement(elem)
		}
		elem = prev
	}
}

func (c *ResultCache) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}

// CacheStats represents cache statistics
type CacheStats struct {
	Size    int
	MaxSize int
	Expired int
	Hits    int
	Misses  int
}

func (c *ResultCache) Stats() CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()

	stats := CacheStats{Size: c.lru.Len(), MaxSize: c.maxSize, Hits: c.hits, Misses: c.misses}
	now := c.now()
	for elem := c.lru.Front(); elem != nil; elem = elem.Next() {
		if now.After(elem.Value.(*cacheItem).expiresAt) {
			stats.Expired++
		}
	}
	return stats
}

func copyScore(s model.QualityScore) model.QualityScore {
	s.MissingSections = append([]string(nil), s.MissingSections...)
	s.AutoFailViolations = append([]string(nil), s.AutoFailViolations...)
	return s
}
