// Package cmap provides a concurrent-safe sharded map.
package cmap

import (
	"hash/maphash"
	"sync"
)

// DefaultShardCount is the default number of shards.
const DefaultShardCount = 16

// Hasher picks the shard of a key. Only the low bits are used, so keys
// that are already uniformly random can return a slice of themselves.
type Hasher[K comparable] func(K) uint64

// Map is a concurrent-safe sharded map. Operations on keys in different
// shards never contend.
type Map[K comparable, V any] struct {
	shards []shard[K, V]
	mask   uint64
	hash   Hasher[K]
}

type shard[K comparable, V any] struct {
	mu    sync.RWMutex
	items map[K]V
}

// New creates a map with DefaultShardCount shards hashed by maphash.
func New[K comparable, V any]() *Map[K, V] {
	return NewWithHasher[K, V](DefaultShardCount, nil)
}

// NewWithShards creates a map hashed by maphash. shardCount must be a
// power of 2; anything else falls back to DefaultShardCount.
func NewWithShards[K comparable, V any](shardCount int) *Map[K, V] {
	return NewWithHasher[K, V](shardCount, nil)
}

// NewWithHasher creates a map that routes keys with hash. A nil hash
// uses maphash with a per-map seed.
func NewWithHasher[K comparable, V any](shardCount int, hash Hasher[K]) *Map[K, V] {
	if shardCount <= 0 || shardCount&(shardCount-1) != 0 {
		shardCount = DefaultShardCount
	}
	if hash == nil {
		seed := maphash.MakeSeed()
		hash = func(k K) uint64 { return maphash.Comparable(seed, k) }
	}

	m := &Map[K, V]{
		shards: make([]shard[K, V], shardCount),
		mask:   uint64(shardCount - 1),
		hash:   hash,
	}
	for i := range m.shards {
		m.shards[i].items = make(map[K]V)
	}
	return m
}

func (m *Map[K, V]) shardFor(key K) *shard[K, V] {
	return &m.shards[m.hash(key)&m.mask]
}

// Get returns the value stored under key.
func (m *Map[K, V]) Get(key K) (V, bool) {
	s := m.shardFor(key)
	s.mu.RLock()
	v, ok := s.items[key]
	s.mu.RUnlock()
	return v, ok
}

// Set stores value under key, replacing any previous value.
func (m *Map[K, V]) Set(key K, value V) {
	s := m.shardFor(key)
	s.mu.Lock()
	s.items[key] = value
	s.mu.Unlock()
}

// Delete removes key. Missing keys are ignored.
func (m *Map[K, V]) Delete(key K) {
	s := m.shardFor(key)
	s.mu.Lock()
	delete(s.items, key)
	s.mu.Unlock()
}

// Has reports whether key is present.
func (m *Map[K, V]) Has(key K) bool {
	_, ok := m.Get(key)
	return ok
}

// Count returns the number of entries. Shards are counted one at a time.
func (m *Map[K, V]) Count() int {
	n := 0
	for i := range m.shards {
		s := &m.shards[i]
		s.mu.RLock()
		n += len(s.items)
		s.mu.RUnlock()
	}
	return n
}

// ShardSizes returns the number of entries per shard.
func (m *Map[K, V]) ShardSizes() []int {
	sizes := make([]int, len(m.shards))
	for i := range m.shards {
		s := &m.shards[i]
		s.mu.RLock()
		sizes[i] = len(s.items)
		s.mu.RUnlock()
	}
	return sizes
}

// ShardCount returns the number of shards.
func (m *Map[K, V]) ShardCount() int {
	return len(m.shards)
}
