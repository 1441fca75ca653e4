package config

import (
	"time"

	"github.com/yndnr/deltamesh-go/internal/core/service"
	"github.com/yndnr/deltamesh-go/internal/storage"
	"github.com/yndnr/deltamesh-go/internal/storage/snapshot"
)

// Default configuration values.
const (
	DefaultBatchInterval = 10
	DefaultEviction      = "evict"

	DefaultDataDir     = "/var/lib/deltamesh/data"
	DefaultSnapshotDir = "/var/lib/deltamesh/snapshots"

	DefaultMetricsAddr = "127.0.0.1:9464"
	DefaultMetricsPath = "/metrics"

	DefaultLogLevel  = "info"
	DefaultLogFormat = "json"

	DefaultShutdownTimeout = 15 * time.Second
)

// Default returns the default daemon configuration.
func Default() *DaemonConfig {
	badger := storage.DefaultBadgerConfig()

	return &DaemonConfig{
		Sync: SyncSection{
			Interval:    service.DefaultSyncInterval,
			TickTimeout: service.DefaultTickTimeout,
			FlushOnStop: true,
		},
		Replica: ReplicaSection{
			BatchInterval: DefaultBatchInterval,
		},
		Directory: DirectorySection{
			Eviction: DefaultEviction,
		},
		Storage: StorageSection{
			DataDir: DefaultDataDir,
			Badger: BadgerSection{
				GCInterval:       badger.GCInterval,
				GCThreshold:      badger.GCDiscardRatio,
				CacheSize:        badger.CacheSize,
				ValueLogFileSize: badger.ValueLogFileSize,
				NumMemtables:     badger.NumMemtables,
				SyncWrites:       badger.SyncWrites,
			},
		},
		Metrics: MetricsSection{
			Enabled: true,
			Addr:    DefaultMetricsAddr,
			Path:    DefaultMetricsPath,
		},
		Snapshot: SnapshotSection{
			Dir:            DefaultSnapshotDir,
			RetentionCount: snapshot.DefaultRetentionCount,
			RetentionDays:  snapshot.DefaultRetentionDays,
		},
		Log: LogSection{
			Level:  DefaultLogLevel,
			Format: DefaultLogFormat,
		},
		ShutdownTimeout: DefaultShutdownTimeout,
	}
}
