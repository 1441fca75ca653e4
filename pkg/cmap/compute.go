package cmap

// Op tells Compute what to do with the slot once the callback returns.
type Op int

const (
	// Keep leaves the slot untouched.
	Keep Op = iota
	// Store writes the returned value.
	Store
	// Remove deletes the key.
	Remove
)

// Compute runs fn under the key's shard lock and applies the returned Op.
//
// fn receives the current value and whether it was present. The result is
// the value held after the operation and whether the key is still present.
// fn must not call back into the same map.
func (m *Map[K, V]) Compute(key K, fn func(current V, loaded bool) (V, Op)) (V, bool) {
	shard := m.shardFor(key)
	shard.mu.Lock()
	defer shard.mu.Unlock()

	current, loaded := shard.items[key]
	next, op := fn(current, loaded)

	switch op {
	case Store:
		shard.items[key] = next
		return next, true
	case Remove:
		delete(shard.items, key)
		var zero V
		return zero, false
	default:
		return current, loaded
	}
}

// Range iterates over all key-value pairs.
//
// The callback returns false to stop iteration.
// Locks are taken shard by shard, so the view is not a global snapshot.
func (m *Map[K, V]) Range(fn func(key K, value V) bool) {
	for i := range m.shards {
		shard := &m.shards[i]
		shard.mu.RLock()
		for k, v := range shard.items {
			if !fn(k, v) {
				shard.mu.RUnlock()
				return
			}
		}
		shard.mu.RUnlock()
	}
}
