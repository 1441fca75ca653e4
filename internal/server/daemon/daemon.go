package daemon

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/yndnr/deltamesh-go/internal/core/domain"
	"github.com/yndnr/deltamesh-go/internal/core/replica"
	"github.com/yndnr/deltamesh-go/internal/core/service"
	"github.com/yndnr/deltamesh-go/internal/infra/shutdown"
	"github.com/yndnr/deltamesh-go/internal/infra/tlsroots"
	"github.com/yndnr/deltamesh-go/internal/server/config"
	"github.com/yndnr/deltamesh-go/internal/server/httpserver"
	"github.com/yndnr/deltamesh-go/internal/server/localserver"
	"github.com/yndnr/deltamesh-go/internal/storage"
	"github.com/yndnr/deltamesh-go/internal/storage/memory"
	"github.com/yndnr/deltamesh-go/internal/storage/snapshot"
	"github.com/yndnr/deltamesh-go/internal/telemetry/logger"
	"github.com/yndnr/deltamesh-go/internal/telemetry/metric"
	"github.com/yndnr/deltamesh-go/pkg/crypto/adaptive"
)

// Daemon is an assembled deltamesh node.
type Daemon struct {
	logger   *slog.Logger
	registry *replica.Registry
	metrics  *metric.Registry

	dir       *memory.Directory
	kv        *storage.BadgerEngine
	persister *storage.ObjectPersister
	sched     *service.SyncScheduler
	http      *httpserver.Server
	socket    *localserver.Server
	certs     *tlsroots.Reloader
	snapshots *snapshot.Manager

	mu  sync.Mutex
	cfg *config.DaemonConfig
}

type options struct {
	logger   *slog.Logger
	registry *replica.Registry
	metrics  *metric.Registry
}

// Option configures New.
type Option func(*options)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

// WithRegistry sets the property registry. The default registry is used
// otherwise.
func WithRegistry(r *replica.Registry) Option {
	return func(o *options) {
		o.registry = r
	}
}

// WithMetricsRegistry sets the metrics registry. A fresh one is created
// otherwise.
func WithMetricsRegistry(r *metric.Registry) Option {
	return func(o *options) {
		o.metrics = r
	}
}

// New opens storage and builds every component. cfg must have passed
// config.Verify. Nothing runs until Start.
func New(ctx context.Context, cfg *config.DaemonConfig, opts ...Option) (*Daemon, error) {
	o := options{
		logger:   slog.Default(),
		registry: replica.DefaultRegistry(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.metrics == nil {
		o.metrics = metric.NewRegistry()
	}

	policy, err := memory.ParseEvictionPolicy(cfg.Directory.Eviction)
	if err != nil {
		return nil, err
	}

	d := &Daemon{
		logger:   o.logger,
		registry: o.registry,
		metrics:  o.metrics,
		cfg:      cfg,
	}

	dirOpts := []memory.Option{
		memory.WithEvictionPolicy(policy),
		memory.WithLogger(o.logger),
	}
	if cfg.Directory.Shards > 0 {
		dirOpts = append(dirOpts, memory.WithShardCount(cfg.Directory.Shards))
	}
	d.dir = memory.New(dirOpts...)

	d.kv, err = storage.NewBadgerEngine(cfg.Storage.KVConfig(), o.logger)
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}

	d.persister, err = NewPersister(ctx, d.kv, &cfg.Storage, o.logger)
	if err != nil {
		_ = d.kv.Close()
		return nil, err
	}

	d.snapshots, err = NewSnapshotManager(cfg)
	if err != nil {
		_ = d.kv.Close()
		return nil, err
	}

	d.sched = service.NewSyncScheduler(d.dir, d.persister,
		service.WithInterval(cfg.Sync.Interval),
		service.WithTickTimeout(cfg.Sync.TickTimeout),
		service.WithFlushOnStop(cfg.Sync.FlushOnStop),
		service.WithSchedulerLogger(o.logger),
		service.WithMetrics(d.metrics),
	)

	routes := &httpserver.RouterConfig{
		Directory: d.dir,
		Scheduler: d.sched,
		Snapshots: d,
		Logger:    o.logger.With("component", "http"),
		RateLimit: cfg.Admin.RateLimit,
	}
	if cfg.Metrics.Enabled {
		d.metrics.MustRegister(metric.NewCollector(d.dir), d.kv.Collector())
		routes.Registerer = d.metrics.Prometheus()
		routes.Metrics = d.metrics.Handler()
		routes.MetricsPath = cfg.Metrics.Path
	}
	router := httpserver.NewRouter(routes)

	if cfg.Metrics.Enabled {
		var httpOpts []httpserver.Option
		if cfg.Metrics.TLSCertFile != "" {
			tlsCfg, err := d.serverTLS(&cfg.Metrics)
			if err != nil {
				_ = d.kv.Close()
				return nil, err
			}
			httpOpts = append(httpOpts, httpserver.WithTLS(tlsCfg))
		}
		d.http = httpserver.New(cfg.Metrics.Addr, router, httpOpts...)
	}
	if cfg.Admin.Socket != "" {
		d.socket = localserver.New(cfg.Admin.Socket, router)
	}

	o.logger.Info("daemon assembled",
		"properties", d.registry.Count(),
		"eviction", policy.String(),
		"in_memory", cfg.Storage.InMemory,
		"encrypted", d.persister.Encrypted(),
	)
	return d, nil
}

// NewPersister creates the object persister described by cfg.
func NewPersister(ctx context.Context, kv storage.KVEngine, cfg *config.StorageSection, log *slog.Logger) (*storage.ObjectPersister, error) {
	opts := []storage.PersisterOption{
		storage.WithParallelism(cfg.Parallelism),
		storage.WithPersisterLogger(log),
	}
	switch {
	case cfg.EncryptionKey != "":
		key, err := adaptive.ParseKey(cfg.EncryptionKey)
		if err != nil {
			return nil, fmt.Errorf("storage.encryption_key: %w", err)
		}
		opts = append(opts, storage.WithEncryptionKey(key))
	case cfg.Passphrase != "":
		opts = append(opts, storage.WithPassphrase([]byte(cfg.Passphrase)))
	}

	p, err := storage.NewObjectPersister(ctx, kv, opts...)
	if err != nil {
		return nil, fmt.Errorf("create persister: %w", err)
	}
	return p, nil
}

// NewSnapshotManager creates the snapshot manager described by cfg, or
// returns nil when snapshots are disabled. Snapshots reuse the storage
// key material.
func NewSnapshotManager(cfg *config.DaemonConfig) (*snapshot.Manager, error) {
	if cfg.Snapshot.Dir == "" {
		return nil, nil
	}

	var enc snapshot.Encryption
	switch {
	case cfg.Storage.EncryptionKey != "":
		key, err := adaptive.ParseKey(cfg.Storage.EncryptionKey)
		if err != nil {
			return nil, fmt.Errorf("storage.encryption_key: %w", err)
		}
		enc.Key = key
	case cfg.Storage.Passphrase != "":
		enc.Passphrase = []byte(cfg.Storage.Passphrase)
	}

	node, _ := os.Hostname()
	return snapshot.NewManager(snapshot.Config{
		Dir:            cfg.Snapshot.Dir,
		RetentionCount: cfg.Snapshot.RetentionCount,
		RetentionDays:  cfg.Snapshot.RetentionDays,
		Encryption:     enc,
		NodeID:         node,
	})
}

// caExpiryWarning is how far ahead serverTLS warns about client CAs
// running out.
const caExpiryWarning = 30 * 24 * time.Hour

func (d *Daemon) serverTLS(cfg *config.MetricsSection) (*tls.Config, error) {
	var clientCAs *tlsroots.Pool
	if cfg.ClientCAFile != "" {
		pool, err := tlsroots.LoadPool(cfg.ClientCAFile)
		if err != nil {
			return nil, fmt.Errorf("metrics.client_ca_file: %w", err)
		}
		for _, ca := range pool.ExpiringBefore(time.Now().Add(caExpiryWarning)) {
			d.logger.Warn("client CA expires soon",
				"subject", ca.Subject.String(),
				"not_after", ca.NotAfter)
		}
		clientCAs = pool
	}

	certs, err := tlsroots.NewReloader(cfg.TLSCertFile, cfg.TLSKeyFile, d.logger.With("component", "tls"))
	if err != nil {
		return nil, fmt.Errorf("metrics tls: %w", err)
	}
	d.certs = certs
	return certs.ServerConfig(clientCAs), nil
}

// Registry returns the property registry.
func (d *Daemon) Registry() *replica.Registry { return d.registry }

// Directory returns the client directory.
func (d *Daemon) Directory() *memory.Directory { return d.dir }

// Scheduler returns the sync scheduler.
func (d *Daemon) Scheduler() *service.SyncScheduler { return d.sched }

// Persister returns the object persister.
func (d *Daemon) Persister() *storage.ObjectPersister { return d.persister }

// NewObject creates an object bound to the daemon's registry, logger and
// configured batch interval. opts are applied last.
func (d *Daemon) NewObject(opts ...replica.Option) *replica.Object {
	d.mu.Lock()
	batch := d.cfg.Replica.BatchInterval
	d.mu.Unlock()

	base := []replica.Option{
		replica.WithRegistry(d.registry),
		replica.WithBatchInterval(batch),
		replica.WithLogger(d.logger),
	}
	return replica.New(append(base, opts...)...)
}

// Restore loads persisted values into obj. It reports whether a record
// existed.
func (d *Daemon) Restore(ctx context.Context, obj *replica.Object) (bool, error) {
	return d.persister.Load(ctx, obj)
}

// HTTPAddr returns the admin server address, or "" when it is disabled.
func (d *Daemon) HTTPAddr() string {
	if d.http == nil {
		return ""
	}
	return d.http.Addr()
}

// Snapshot flushes dirty objects, writes every persisted record to a new
// snapshot file and prunes old snapshots.
func (d *Daemon) Snapshot(ctx context.Context) (*snapshot.Info, error) {
	if d.snapshots == nil {
		return nil, domain.ErrSnapshotsDisabled
	}

	report := d.sched.Flush(ctx)
	if report.Result == service.TickFailed {
		return nil, domain.ErrPersistenceFailure.WithCause(report.Err)
	}

	var records []*storage.Record
	if err := d.persister.Records(ctx, func(rec *storage.Record) bool {
		records = append(records, rec)
		return true
	}); err != nil {
		return nil, err
	}

	info, err := d.snapshots.Create(records)
	if err != nil {
		return nil, domain.ErrStorageError.WithCause(err)
	}
	d.logger.Info("snapshot created", "id", info.ID, "objects", info.Objects, "size", info.Size)

	removed, err := d.snapshots.Prune()
	if err != nil {
		d.logger.Warn("snapshot prune failed", "error", err)
	}
	for _, r := range removed {
		d.logger.Info("snapshot pruned", "id", r.ID)
	}
	return info, nil
}

// SocketPath returns the admin socket path, or "" when it is disabled.
func (d *Daemon) SocketPath() string {
	if d.socket == nil {
		return ""
	}
	return d.socket.Path()
}

// Start binds the admin listeners and starts the scheduler.
func (d *Daemon) Start(ctx context.Context) error {
	if d.certs != nil {
		if err := d.certs.Start(); err != nil {
			return fmt.Errorf("watch certificates: %w", err)
		}
	}
	if d.socket != nil {
		if err := d.socket.Listen(); err != nil {
			return fmt.Errorf("listen %s: %w", d.socket.Path(), err)
		}
		go func() {
			if err := d.socket.Serve(); err != nil {
				d.logger.Error("admin socket stopped", "error", err)
			}
		}()
		d.logger.Info("admin socket listening", "path", d.socket.Path())
	}
	if d.http != nil {
		if err := d.http.Listen(); err != nil {
			return fmt.Errorf("listen %s: %w", d.http.Addr(), err)
		}
		go func() {
			if err := d.http.Serve(); err != nil {
				d.logger.Error("admin server stopped", "error", err)
			}
		}()
		d.logger.Info("admin server listening", "addr", d.http.Addr(), "tls", d.http.TLS())
	}

	if err := d.sched.Start(ctx); err != nil {
		return err
	}
	return nil
}

// Reload applies the settings that can change at runtime: the sync
// interval and the log level. Other changes are logged and wait for a
// restart.
func (d *Daemon) Reload(next *config.DaemonConfig) error {
	if err := config.VerifyLog(&next.Log); err != nil {
		return err
	}
	if err := d.sched.SetInterval(next.Sync.Interval); err != nil {
		return err
	}

	d.mu.Lock()
	prev := d.cfg
	d.cfg = next
	d.mu.Unlock()

	if next.Log.Level != prev.Log.Level {
		if err := logger.SetLevel(next.Log.Level); err != nil {
			d.logger.Warn("log level not changed", "error", err)
		} else {
			d.logger.Info("log level changed", "level", logger.Level())
		}
	}
	if next.Replica.BatchInterval != prev.Replica.BatchInterval {
		d.logger.Info("batch interval changed for new objects", "batch_interval", next.Replica.BatchInterval)
	}
	if next.Storage != prev.Storage || next.Directory != prev.Directory ||
		next.Metrics != prev.Metrics || next.Admin != prev.Admin || next.Snapshot != prev.Snapshot {
		d.logger.Warn("storage, directory, metrics, admin and snapshot changes take effect after restart")
	}
	return nil
}

// Shutdown stops the admin server, stops the scheduler with its final
// flush and closes storage. It returns every error encountered.
func (d *Daemon) Shutdown(ctx context.Context) error {
	var errs []error
	if d.http != nil {
		if err := d.http.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("admin server: %w", err))
		}
	}
	if d.socket != nil {
		if err := d.socket.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("admin socket: %w", err))
		}
	}
	if err := d.certs.Stop(); err != nil {
		errs = append(errs, fmt.Errorf("certificate watcher: %w", err))
	}
	if err := d.sched.Stop(ctx); err != nil {
		errs = append(errs, fmt.Errorf("sync scheduler: %w", err))
	}
	if err := d.kv.Close(); err != nil {
		errs = append(errs, fmt.Errorf("storage: %w", err))
	}
	return errors.Join(errs...)
}

// RegisterHooks adds the daemon's shutdown steps to h. Hooks run in
// reverse order, so storage closes last.
func (d *Daemon) RegisterHooks(h *shutdown.Handler) {
	h.OnShutdown("storage", func(context.Context) error {
		return d.kv.Close()
	})
	h.OnShutdown("sync", d.sched.Stop)
	if d.certs != nil {
		h.OnShutdown("certificate watcher", func(context.Context) error {
			return d.certs.Stop()
		})
	}
	if d.socket != nil {
		h.OnShutdown("admin socket", d.socket.Shutdown)
	}
	if d.http != nil {
		h.OnShutdown("admin server", d.http.Shutdown)
	}
}
