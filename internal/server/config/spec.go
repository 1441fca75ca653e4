package config

import (
	"time"

	"github.com/yndnr/deltamesh-go/internal/storage"
)

// DaemonConfig is the root configuration of the deltamesh daemon.
type DaemonConfig struct {
	Sync      SyncSection      `koanf:"sync"`
	Replica   ReplicaSection   `koanf:"replica"`
	Directory DirectorySection `koanf:"directory"`
	Storage   StorageSection   `koanf:"storage"`
	Metrics   MetricsSection   `koanf:"metrics"`
	Admin     AdminSection     `koanf:"admin"`
	Snapshot  SnapshotSection  `koanf:"snapshot"`
	Log       LogSection       `koanf:"log"`

	// ShutdownTimeout bounds the final flush and resource release.
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

// SyncSection configures the sync scheduler. Interval can be changed by
// reloading the configuration file.
type SyncSection struct {
	Interval    time.Duration `koanf:"interval"`
	TickTimeout time.Duration `koanf:"tick_timeout"`
	FlushOnStop bool          `koanf:"flush_on_stop"`
}

// ReplicaSection configures new objects.
type ReplicaSection struct {
	// BatchInterval is the number of batched changes that signal a batch
	// is ready. Zero disables queueing.
	BatchInterval int `koanf:"batch_interval"`
}

// DirectorySection configures the client directory.
type DirectorySection struct {
	// Eviction is "evict" or "retain".
	Eviction string `koanf:"eviction"`
	Shards   int    `koanf:"shards"`
}

// StorageSection configures persistence.
type StorageSection struct {
	DataDir  string `koanf:"data_dir"`
	InMemory bool   `koanf:"in_memory"`

	// EncryptionKey is a 32-byte key in hex or base64. Mutually exclusive
	// with Passphrase.
	EncryptionKey string `koanf:"encryption_key"`
	Passphrase    string `koanf:"passphrase"`

	// Parallelism bounds concurrent record writes. Zero uses GOMAXPROCS.
	Parallelism int `koanf:"parallelism"`

	Badger BadgerSection `koanf:"badger"`
}

// BadgerSection tunes the Badger engine.
type BadgerSection struct {
	GCInterval       time.Duration `koanf:"gc_interval"`
	GCThreshold      float64       `koanf:"gc_threshold"`
	CacheSize        int64         `koanf:"cache_size"`
	ValueLogFileSize int64         `koanf:"value_log_file_size"`
	NumMemtables     int           `koanf:"num_memtables"`
	SyncWrites       bool          `koanf:"sync_writes"`
}

// MetricsSection configures the TCP listener serving the Prometheus
// endpoint and the admin API.
type MetricsSection struct {
	Enabled bool   `koanf:"enabled"`
	Addr    string `koanf:"addr"`
	Path    string `koanf:"path"`

	// TLSCertFile and TLSKeyFile enable HTTPS. The pair is reloaded when
	// either file changes.
	TLSCertFile string `koanf:"tls_cert_file"`
	TLSKeyFile  string `koanf:"tls_key_file"`

	// ClientCAFile requires clients to present a certificate signed by
	// one of its CAs. Needs TLS.
	ClientCAFile string `koanf:"client_ca_file"`
}

// AdminSection configures the local admin socket.
type AdminSection struct {
	// Socket is the path of a Unix socket serving the admin API. Empty
	// disables it.
	Socket string `koanf:"socket"`

	// RateLimit caps admin API requests per second over both listeners.
	// Zero disables the limit.
	RateLimit int `koanf:"rate_limit"`
}

// SnapshotSection configures record snapshots. Snapshots are sealed with
// the storage key material when it is set.
type SnapshotSection struct {
	// Dir holds the snapshot files. Empty disables snapshots.
	Dir string `koanf:"dir"`

	// RetentionCount and RetentionDays bound what Prune keeps. Zero
	// selects the default.
	RetentionCount int `koanf:"retention_count"`
	RetentionDays  int `koanf:"retention_days"`
}

// LogSection configures logging. Level can be changed by reloading the
// configuration file.
type LogSection struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// KVConfig converts the section to the storage engine configuration.
func (s StorageSection) KVConfig() storage.KVConfig {
	return storage.KVConfig{
		Dir:      s.DataDir,
		InMemory: s.InMemory,
		Badger: storage.BadgerConfig{
			GCInterval:       s.Badger.GCInterval,
			GCDiscardRatio:   s.Badger.GCThreshold,
			CacheSize:        s.Badger.CacheSize,
			ValueLogFileSize: s.Badger.ValueLogFileSize,
			NumMemtables:     s.Badger.NumMemtables,
			SyncWrites:       s.Badger.SyncWrites,
		},
	}
}
