package store

import "sync"

// snapshotCache holds the last durable snapshot read or written per
// collection key. It only knows two operations: get-or-load and
// invalidate. Entries have no TTL; staleness is bounded by "nobody else
// wrote since", which holds for a single-process deployment.
type snapshotCache struct {
	mu      sync.Mutex
	entries map[string]any
}

func newSnapshotCache() *snapshotCache {
	return &snapshotCache{entries: make(map[string]any)}
}

// GetOrLoad returns the cached snapshot for key, calling load and caching
// its result on a miss. Callers serialize same-key access (the store holds
// a per-collection mutex), so a key is never loaded twice concurrently.
func (c *snapshotCache) GetOrLoad(key string, load func() (any, error)) (any, error) {
	c.mu.Lock()
	if v, ok := c.entries[key]; ok {
		c.mu.Unlock()
		return v, nil
	}
	c.mu.Unlock()

	v, err := load()
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.entries[key] = v
	c.mu.Unlock()
	return v, nil
}

// Invalidate evicts the snapshot for key so the next read reloads from
// durable storage.
func (c *snapshotCache) Invalidate(key string) {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
}

// Len reports the number of cached snapshots.
func (c *snapshotCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
