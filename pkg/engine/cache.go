package engine

import (
	lru "github.com/hashicorp/golang-lru"
)

// ReadCache is the value-side cache sitting in front of Volume reads: a
// straightforward key -> value LRU that Store consults before issuing a
// strand read, and populates after one.
type ReadCache interface {
	Get(key []byte) ([]byte, bool)
	Add(key, val []byte)
	Remove(key []byte)
	Len() int
}

// lruReadCache is the default ReadCache, backed by
// github.com/hashicorp/golang-lru.
type lruReadCache struct {
	cache *lru.Cache
}

// NewReadCache returns a ReadCache holding at most size entries. A size of
// 0 is treated as a cache that never holds anything (every Get misses).
func NewReadCache(size int) (ReadCache, error) {
	if size <= 0 {
		return noopReadCache{}, nil
	}

	c, err := lru.New(size)
	if err != nil {
		return nil, err
	}

	return &lruReadCache{cache: c}, nil
}

func (c *lruReadCache) Get(key []byte) ([]byte, bool) {
	v, ok := c.cache.Get(string(key))
	if !ok {
		return nil, false
	}

	return v.([]byte), true
}

func (c *lruReadCache) Add(key, val []byte) {
	// string(key) already copies; val must be copied explicitly so the
	// cache doesn't alias a caller-owned buffer that may be reused.
	valCopy := append([]byte(nil), val...)

	c.cache.Add(string(key), valCopy)
}

func (c *lruReadCache) Remove(key []byte) {
	c.cache.Remove(string(key))
}

func (c *lruReadCache) Len() int {
	return c.cache.Len()
}

// noopReadCache is a ReadCache that never retains anything, used when
// Options.ReadCacheSize is 0.
type noopReadCache struct{}

func (noopReadCache) Get([]byte) ([]byte, bool) { return nil, false }
func (noopReadCache) Add([]byte, []byte)        {}
func (noopReadCache) Remove([]byte)             {}
func (noopReadCache) Len() int                  { return 0 }
