// Package storage provides the durable backend for replicated objects.
//
// Architecture:
//
//   - KVEngine: embedded key-value store (Badger) with a background
//     value-log GC loop and Prometheus metrics
//   - Record codec: objects are encoded as protobuf Struct messages
//     keyed by hex PropertyID, marshalled deterministically
//   - ObjectPersister: implements service.Persister, writing one record
//     per object under "obj/<object id>"
//
// Only properties registered with ExternalSync are persisted. Records
// may be sealed with an adaptive AEAD cipher; the object id is bound as
// associated data so a record cannot be replayed under another key.
package storage
