package statutory

import "sync"

// generationCache holds lookups computed under one store generation.
// Generations only move forward: a newer generation empties the cache,
// and a value computed under an older one is discarded rather than
// stored over newer entries.
type generationCache[K comparable, V any] struct {
	mu         sync.RWMutex
	generation uint64
	entries    map[K]V
}

func newGenerationCache[K comparable, V any](gen uint64) *generationCache[K, V] {
	return &generationCache[K, V]{generation: gen, entries: make(map[K]V)}
}

// get returns the entry for key if the cache is at generation gen.
func (c *generationCache[K, V]) get(gen uint64, key K) (V, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.generation != gen {
		var zero V
		return zero, false
	}
	v, ok := c.entries[key]
	return v, ok
}

// put stores v computed under gen. It reports the generation the cache
// held before, and whether the entries were dropped to move to gen.
func (c *generationCache[K, V]) put(gen uint64, key K, v V) (from uint64, reset bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	from = c.generation
	switch {
	case gen < c.generation:
		return from, false
	case gen > c.generation:
		c.entries = make(map[K]V)
		c.generation = gen
		reset = true
	}
	c.entries[key] = v
	return from, reset
}
