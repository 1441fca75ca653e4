// Package cmap provides a concurrent map for DeltaMesh.
//
// The map is split into a power-of-two number of shards, each guarded by
// its own RWMutex, so writers on different keys rarely contend:
//
//   - Sharding: keys are spread with hash/maphash over comparable keys
//   - Fine-grained Locking: per-shard RWMutex
//   - Compute: read-modify-write of one key under its shard lock
//   - Iteration: shard-by-shard, never a global snapshot
//
// Usage:
//
//	m := cmap.New[domain.ObjectID, *entry]()
//	m.Set(id, e)
//	e, ok := m.Get(id)
//
// Thread Safety:
//
// All operations are thread-safe. Read operations (Get, Has, Range) use
// RLock, write operations (Set, Delete, Compute) use Lock.
package cmap
