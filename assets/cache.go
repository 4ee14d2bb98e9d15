package assets

import (
	"context"
	"fmt"
	"image"
	"sync"
)

// Handle is a displayable resource checked out of the cache. Callers must
// Release it when the referencing layer goes away.
type Handle struct {
	AssetID string
	Image   image.Image

	entry *cacheEntry
}

type cacheEntry struct {
	img  image.Image
	err  bool
	refs int
	done chan struct{} // non-nil while the fetch is in flight
}

// Cache maps asset ids to decoded resource handles. Entries load lazily and
// in-flight fetches are deduped by id, so multiple layers sharing an asset
// trigger exactly one fetch. Handles are reference-counted; an entry is
// evicted when its count reaches zero and on teardown every outstanding
// handle is released.
type Cache struct {
	mu      sync.Mutex
	entries map[string]*cacheEntry
	fetch   func(ctx context.Context, id string) ([]byte, string, error)
}

// NewCache builds a cache over a byte fetcher, normally Store.Data.
func NewCache(fetch func(ctx context.Context, id string) ([]byte, string, error)) *Cache {
	return &Cache{
		entries: make(map[string]*cacheEntry),
		fetch:   fetch,
	}
}

// Acquire returns a handle for the asset, fetching and decoding on first use.
// Errored entries are not treated as cached: the next Acquire retries.
func (c *Cache) Acquire(ctx context.Context, id string) (*Handle, error) {
	c.mu.Lock()
	entry, ok := c.entries[id]
	if ok && entry.err {
		// Eligible for a fresh retry.
		delete(c.entries, id)
		ok = false
	}
	if ok {
		entry.refs++
		done := entry.done
		c.mu.Unlock()
		if done != nil {
			<-done
		}
		if entry.err {
			c.mu.Lock()
			c.release(id, entry)
			c.mu.Unlock()
			return nil, fmt.Errorf("assets: fetch failed for %s", id)
		}
		return &Handle{AssetID: id, Image: entry.img, entry: entry}, nil
	}

	entry = &cacheEntry{refs: 1, done: make(chan struct{})}
	c.entries[id] = entry
	c.mu.Unlock()

	data, mime, err := c.fetch(ctx, id)
	var img image.Image
	if err == nil {
		img, err = decode(data, mime)
	}

	c.mu.Lock()
	if err != nil {
		entry.err = true
	} else {
		entry.img = img
	}
	close(entry.done)
	entry.done = nil
	c.mu.Unlock()

	if err != nil {
		c.mu.Lock()
		c.release(id, entry)
		c.mu.Unlock()
		return nil, err
	}
	return &Handle{AssetID: id, Image: img, entry: entry}, nil
}

// Release drops one reference to the handle's entry. The entry survives while
// any other layer still references it.
func (c *Cache) Release(h *Handle) {
	if h == nil || h.entry == nil {
		return
	}
	c.mu.Lock()
	c.release(h.AssetID, h.entry)
	c.mu.Unlock()
	h.entry = nil
}

func (c *Cache) release(id string, entry *cacheEntry) {
	entry.refs--
	if entry.refs <= 0 {
		if current, ok := c.entries[id]; ok && current == entry {
			delete(c.entries, id)
		}
	}
}

// ReleaseAll evicts every entry regardless of refcount; used on project
// switch and shutdown.
func (c *Cache) ReleaseAll() {
	c.mu.Lock()
	c.entries = make(map[string]*cacheEntry)
	c.mu.Unlock()
}

// Len reports the number of live entries. Mainly useful for tests.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
