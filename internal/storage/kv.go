package storage

import (
	"context"
	"time"
)

// KVEngine is the embedded key-value store behind the object persister.
//
// Implementations must be safe for concurrent use and durable across
// process restarts once a write returns.
type KVEngine interface {
	// Get returns ErrKeyNotFound when key is absent.
	Get(ctx context.Context, key []byte) ([]byte, error)
	Set(ctx context.Context, key, value []byte) error
	Delete(ctx context.Context, key []byte) error

	// SetBatch writes entries in as few transactions as possible. A failed
	// batch may be partially applied.
	SetBatch(ctx context.Context, entries []Entry) error

	// Scan calls fn for every key under prefix until fn returns false.
	Scan(ctx context.Context, prefix []byte, fn func(key, value []byte) bool) error

	// Count returns the number of keys under prefix without reading values.
	Count(ctx context.Context, prefix []byte) (int, error)

	// GC compacts the value log and returns the number of files rewritten.
	GC(ctx context.Context) (int, error)

	Stats(ctx context.Context) (*KVStats, error)
	Close() error
}

// Entry is one key/value pair of a batch write.
type Entry struct {
	Key   []byte
	Value []byte
}

// KVStats reports on-disk size and GC activity.
type KVStats struct {
	LSMSize      uint64
	ValueLogSize uint64
	LastGC       time.Time
	GCRewrites   uint64
}

// TotalSize is the LSM size plus the value log size.
func (s *KVStats) TotalSize() uint64 {
	return s.LSMSize + s.ValueLogSize
}

// KVConfig configures the embedded KV engine.
type KVConfig struct {
	Dir string
	// InMemory keeps all data in memory and ignores Dir.
	InMemory bool
	Badger   BadgerConfig
}

// BadgerConfig holds Badger tuning.
type BadgerConfig struct {
	// GCInterval is the period of the value-log GC loop.
	GCInterval time.Duration
	// GCDiscardRatio is the share of stale data a value-log file needs
	// before GC rewrites it.
	GCDiscardRatio float64

	CacheSize        int64
	ValueLogFileSize int64
	NumMemtables     int

	// SyncWrites fsyncs every write. The scheduler clears dirty flags as
	// soon as Persist returns, so turning it off trades durability of the
	// last tick for throughput.
	SyncWrites bool
}

// DefaultKVConfig returns the default KV configuration for dir.
func DefaultKVConfig(dir string) KVConfig {
	return KVConfig{
		Dir:    dir,
		Badger: DefaultBadgerConfig(),
	}
}

// DefaultBadgerConfig returns the default Badger tuning.
func DefaultBadgerConfig() BadgerConfig {
	return BadgerConfig{
		GCInterval:       10 * time.Minute,
		GCDiscardRatio:   0.5,
		CacheSize:        64 << 20,
		ValueLogFileSize: 256 << 20,
		NumMemtables:     2,
		SyncWrites:       true,
	}
}
