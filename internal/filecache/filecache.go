// Package filecache keeps a bounded set of read-only shard file handles
// warm across a query run. A shard directory holds four files (docids,
// freqs, document index, lexicon); opening and closing each on every shard
// lookup would cost an open(2)/close(2) pair per file. ShardFileCache
// amortizes that with a reference-counted LRU: callers pair every Open
// with a Close, and an evicted handle is only closed once its last
// borrower has released it.
package filecache

import (
	"container/list"
	"os"
	"sync"
)

// ShardFileCache is an LRU of open, read-only *os.File handles, safe for
// concurrent use by the per-shard query goroutines that share it.
type ShardFileCache struct {
	mu       sync.Mutex
	capacity int
	byName   map[string]*list.Element
	order    *list.List
	draining map[*os.File]int
}

type handle struct {
	file *os.File
	refs int
}

// New builds a ShardFileCache holding at most capacity distinct open
// files. A capacity of 0 disables caching: every Open/Close pair opens
// and closes its own handle.
func New(capacity int) *ShardFileCache {
	if capacity < 0 {
		capacity = 0
	}
	return &ShardFileCache{capacity: capacity}
}

// Open returns a shared, read-only handle for name, opening it if no
// cached handle exists yet. The returned *os.File must not be used with
// anything that depends on the current file offset (ReadAt-style access
// only), since other borrowers may share the same handle concurrently.
// Every Open must be matched by exactly one Close.
func (c *ShardFileCache) Open(name string) (*os.File, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.capacity == 0 {
		return os.Open(name)
	}
	if c.byName == nil {
		c.byName = make(map[string]*list.Element)
		c.order = list.New()
	}

	if elem, ok := c.byName[name]; ok {
		c.order.MoveToFront(elem)
		h := elem.Value.(*handle)
		h.refs++
		return h.file, nil
	}

	f, err := os.Open(name)
	if err != nil {
		return nil, err
	}
	c.byName[name] = c.order.PushFront(&handle{file: f, refs: 1})
	if c.order.Len() > c.capacity {
		c.evictOldest()
	}
	return f, nil
}

// Close releases one borrow of file. Once a file has been evicted from
// the cache and its last borrower releases it, the underlying handle is
// closed.
func (c *ShardFileCache) Close(file *os.File) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if refs, ok := c.draining[file]; ok {
		if refs == 1 {
			delete(c.draining, file)
			if len(c.draining) == 0 {
				c.draining = nil
			}
			return file.Close()
		}
		c.draining[file] = refs - 1
		return nil
	}

	if elem, ok := c.byName[file.Name()]; ok {
		h := elem.Value.(*handle)
		if h.refs == 0 {
			return &os.PathError{Op: "close", Path: file.Name(), Err: os.ErrClosed}
		}
		h.refs--
		return nil
	}

	// Not under LRU management: capacity 0, or already fully drained.
	return file.Close()
}

// Len reports how many distinct files currently sit in the cache.
func (c *ShardFileCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.order == nil {
		return 0
	}
	return c.order.Len()
}

// Cap reports the cache's capacity.
func (c *ShardFileCache) Cap() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.capacity
}

func (c *ShardFileCache) evictOldest() {
	elem := c.order.Back()
	if elem == nil {
		return
	}
	c.order.Remove(elem)
	h := elem.Value.(*handle)
	delete(c.byName, h.file.Name())
	if h.refs == 0 {
		h.file.Close()
		return
	}
	if c.draining == nil {
		c.draining = make(map[*os.File]int)
	}
	c.draining[h.file] = h.refs
}
