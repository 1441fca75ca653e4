package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"

	"github.com/yndnr/deltamesh-go/internal/storage/memory"
	"github.com/yndnr/deltamesh-go/internal/telemetry/logger"
	"github.com/yndnr/deltamesh-go/pkg/crypto/adaptive"
)

// Verify validates the configuration and creates the data directory.
func Verify(cfg *DaemonConfig) error {
	if err := verifySync(&cfg.Sync); err != nil {
		return err
	}
	if cfg.Replica.BatchInterval < 0 {
		return errors.New("replica.batch_interval must not be negative")
	}
	if err := verifyDirectory(&cfg.Directory); err != nil {
		return err
	}
	if err := verifyStorage(&cfg.Storage); err != nil {
		return err
	}
	if err := verifyMetrics(&cfg.Metrics); err != nil {
		return err
	}
	if err := verifyAdmin(&cfg.Admin); err != nil {
		return err
	}
	if cfg.Snapshot.RetentionCount < 0 || cfg.Snapshot.RetentionDays < 0 {
		return errors.New("snapshot retention must not be negative")
	}
	if err := VerifyLog(&cfg.Log); err != nil {
		return err
	}
	if cfg.ShutdownTimeout <= 0 {
		return errors.New("shutdown_timeout must be positive")
	}
	return nil
}

func verifySync(cfg *SyncSection) error {
	if cfg.Interval <= 0 {
		return errors.New("sync.interval must be positive")
	}
	if cfg.TickTimeout <= 0 {
		return errors.New("sync.tick_timeout must be positive")
	}
	return nil
}

func verifyDirectory(cfg *DirectorySection) error {
	if _, err := memory.ParseEvictionPolicy(cfg.Eviction); err != nil {
		return fmt.Errorf("directory.eviction: %w", err)
	}
	if cfg.Shards < 0 {
		return errors.New("directory.shards must not be negative")
	}
	return nil
}

func verifyStorage(cfg *StorageSection) error {
	if cfg.EncryptionKey != "" && cfg.Passphrase != "" {
		return errors.New("storage.encryption_key and storage.passphrase are mutually exclusive")
	}
	if cfg.EncryptionKey != "" {
		if _, err := adaptive.ParseKey(cfg.EncryptionKey); err != nil {
			return fmt.Errorf("storage.encryption_key: %w", err)
		}
	}
	if cfg.Passphrase != "" && len(cfg.Passphrase) < adaptive.MinPassphraseLength {
		return fmt.Errorf("storage.passphrase must be at least %d characters", adaptive.MinPassphraseLength)
	}
	if cfg.Parallelism < 0 {
		return errors.New("storage.parallelism must not be negative")
	}
	if t := cfg.Badger.GCThreshold; t <= 0 || t >= 1 {
		return errors.New("storage.badger.gc_threshold must be between 0 and 1")
	}
	if cfg.Badger.GCInterval <= 0 {
		return errors.New("storage.badger.gc_interval must be positive")
	}

	if cfg.InMemory {
		return nil
	}
	if cfg.DataDir == "" {
		return errors.New("storage.data_dir is required")
	}
	if err := os.MkdirAll(cfg.DataDir, 0o750); err != nil {
		return fmt.Errorf("cannot create data directory: %w", err)
	}
	return nil
}

func verifyMetrics(cfg *MetricsSection) error {
	if !cfg.Enabled {
		return nil
	}
	if _, _, err := net.SplitHostPort(cfg.Addr); err != nil {
		return fmt.Errorf("metrics.addr: %w", err)
	}
	if !strings.HasPrefix(cfg.Path, "/") {
		return errors.New("metrics.path must start with /")
	}
	if (cfg.TLSCertFile == "") != (cfg.TLSKeyFile == "") {
		return errors.New("metrics.tls_cert_file and metrics.tls_key_file must be set together")
	}
	if cfg.ClientCAFile != "" && cfg.TLSCertFile == "" {
		return errors.New("metrics.client_ca_file requires metrics.tls_cert_file")
	}
	files := []struct{ key, path string }{
		{"metrics.tls_cert_file", cfg.TLSCertFile},
		{"metrics.tls_key_file", cfg.TLSKeyFile},
		{"metrics.client_ca_file", cfg.ClientCAFile},
	}
	for _, f := range files {
		if f.path == "" {
			continue
		}
		if _, err := os.Stat(f.path); err != nil {
			return fmt.Errorf("%s: %w", f.key, err)
		}
	}
	return nil
}

// maxSocketPath is the usable length of sockaddr_un.sun_path.
const maxSocketPath = 104

func verifyAdmin(cfg *AdminSection) error {
	if cfg.RateLimit < 0 {
		return errors.New("admin.rate_limit must not be negative")
	}
	if cfg.Socket == "" {
		return nil
	}
	if !filepath.IsAbs(cfg.Socket) {
		return errors.New("admin.socket must be an absolute path")
	}
	if len(cfg.Socket) >= maxSocketPath {
		return fmt.Errorf("admin.socket is longer than %d bytes", maxSocketPath-1)
	}
	return nil
}

// VerifyLog validates the log section. Reload uses it on its own.
func VerifyLog(cfg *LogSection) error {
	if _, err := logger.ParseLevel(cfg.Level); err != nil {
		return fmt.Errorf("log.level %q is not one of debug, info, warn, error", cfg.Level)
	}
	switch strings.ToLower(cfg.Format) {
	case "json", "text", "console":
		return nil
	}
	return fmt.Errorf("log.format %q is not one of json, text", cfg.Format)
}
