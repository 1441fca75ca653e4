package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dgraph-io/badger/v3"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	ErrKeyNotFound = errors.New("key not found")
	ErrClosed      = errors.New("kv engine closed")
)

// BadgerEngine implements KVEngine on Badger v3 and runs value-log GC in
// the background.
type BadgerEngine struct {
	db     *badger.DB
	cfg    BadgerConfig
	logger *slog.Logger

	closed    atomic.Bool
	closeOnce sync.Once

	lastGC     atomic.Int64 // unix nanoseconds, 0 before the first run
	gcRewrites atomic.Uint64

	stopCh chan struct{}
	doneCh chan struct{}
}

// NewBadgerEngine opens the store described by cfg.
func NewBadgerEngine(cfg KVConfig, logger *slog.Logger) (*BadgerEngine, error) {
	if cfg.Dir == "" && !cfg.InMemory {
		return nil, fmt.Errorf("badger: dir is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	opts := badger.DefaultOptions(cfg.Dir)
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	}
	opts.Logger = badgerLogger{logger}

	bc := cfg.Badger
	if bc.CacheSize > 0 {
		opts.BlockCacheSize = bc.CacheSize
	}
	if bc.ValueLogFileSize > 0 {
		opts.ValueLogFileSize = bc.ValueLogFileSize
	}
	if bc.NumMemtables > 0 {
		opts.NumMemtables = bc.NumMemtables
	}
	opts.SyncWrites = bc.SyncWrites && !cfg.InMemory

	if bc.GCInterval <= 0 {
		bc.GCInterval = DefaultBadgerConfig().GCInterval
	}
	if bc.GCDiscardRatio <= 0 || bc.GCDiscardRatio >= 1 {
		bc.GCDiscardRatio = DefaultBadgerConfig().GCDiscardRatio
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("badger: open db: %w", err)
	}

	e := &BadgerEngine{
		db:     db,
		cfg:    bc,
		logger: logger,
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
	go e.gcLoop()

	logger.Info("badger engine started",
		"dir", cfg.Dir,
		"in_memory", cfg.InMemory,
		"sync_writes", opts.SyncWrites,
		"gc_interval", bc.GCInterval.String())
	return e, nil
}

func (e *BadgerEngine) check(ctx context.Context) error {
	if e.closed.Load() {
		return ErrClosed
	}
	return ctx.Err()
}

// Get returns a copy of the value stored under key.
func (e *BadgerEngine) Get(ctx context.Context, key []byte) ([]byte, error) {
	if err := e.check(ctx); err != nil {
		return nil, err
	}

	var value []byte
	err := e.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrKeyNotFound
		}
		if err != nil {
			return err
		}
		value, err = item.ValueCopy(nil)
		return err
	})
	return value, err
}

// Set stores value under key.
func (e *BadgerEngine) Set(ctx context.Context, key, value []byte) error {
	if err := e.check(ctx); err != nil {
		return err
	}
	return e.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, value)
	})
}

// Delete removes key. Missing keys are not an error.
func (e *BadgerEngine) Delete(ctx context.Context, key []byte) error {
	if err := e.check(ctx); err != nil {
		return err
	}
	return e.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(key)
	})
}

// SetBatch writes entries through a Badger write batch. Batches larger
// than one transaction are split, so a failed call may leave a prefix of
// entries written.
func (e *BadgerEngine) SetBatch(ctx context.Context, entries []Entry) error {
	if err := e.check(ctx); err != nil {
		return err
	}
	if len(entries) == 0 {
		return nil
	}

	wb := e.db.NewWriteBatch()
	defer wb.Cancel()
	for _, en := range entries {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := wb.Set(en.Key, en.Value); err != nil {
			return fmt.Errorf("badger: batch set: %w", err)
		}
	}
	if err := wb.Flush(); err != nil {
		return fmt.Errorf("badger: batch flush: %w", err)
	}
	return nil
}

// Scan calls fn with copies of every key and value under prefix.
func (e *BadgerEngine) Scan(ctx context.Context, prefix []byte, fn func(key, value []byte) bool) error {
	if err := e.check(ctx); err != nil {
		return err
	}
	return e.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			item := it.Item()
			value, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			if !fn(item.KeyCopy(nil), value) {
				return nil
			}
		}
		return nil
	})
}

// Count walks the keys under prefix without fetching values.
func (e *BadgerEngine) Count(ctx context.Context, prefix []byte) (int, error) {
	if err := e.check(ctx); err != nil {
		return 0, err
	}

	n := 0
	err := e.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			if n%1024 == 0 {
				if err := ctx.Err(); err != nil {
					return err
				}
			}
			n++
		}
		return nil
	})
	return n, err
}

// GC rewrites value-log files until Badger finds nothing worth
// rewriting, and returns how many it rewrote.
func (e *BadgerEngine) GC(ctx context.Context) (int, error) {
	if err := e.check(ctx); err != nil {
		return 0, err
	}
	start := time.Now()

	rewrites := 0
	for {
		if err := ctx.Err(); err != nil {
			e.recordGC(rewrites)
			return rewrites, err
		}
		err := e.db.RunValueLogGC(e.cfg.GCDiscardRatio)
		if errors.Is(err, badger.ErrNoRewrite) || errors.Is(err, badger.ErrGCInMemoryMode) {
			break
		}
		if err != nil {
			e.recordGC(rewrites)
			return rewrites, fmt.Errorf("badger: gc: %w", err)
		}
		rewrites++
	}

	e.recordGC(rewrites)
	e.logger.Debug("gc completed", "rewrites", rewrites, "elapsed", time.Since(start))
	return rewrites, nil
}

func (e *BadgerEngine) recordGC(rewrites int) {
	e.lastGC.Store(time.Now().UnixNano())
	e.gcRewrites.Add(uint64(rewrites))
}

// Stats returns sizes and GC counters.
func (e *BadgerEngine) Stats(ctx context.Context) (*KVStats, error) {
	if err := e.check(ctx); err != nil {
		return nil, err
	}
	lsm, vlog := e.db.Size()

	s := &KVStats{
		LSMSize:      uint64(lsm),
		ValueLogSize: uint64(vlog),
		GCRewrites:   e.gcRewrites.Load(),
	}
	if ns := e.lastGC.Load(); ns > 0 {
		s.LastGC = time.Unix(0, ns)
	}
	return s, nil
}

// Close stops the GC loop and closes the database. Further calls are
// no-ops.
func (e *BadgerEngine) Close() error {
	var err error
	e.closeOnce.Do(func() {
		e.closed.Store(true)
		close(e.stopCh)
		<-e.doneCh

		if cerr := e.db.Close(); cerr != nil {
			err = fmt.Errorf("badger: close db: %w", cerr)
			return
		}
		e.logger.Info("badger engine closed")
	})
	return err
}

func (e *BadgerEngine) gcLoop() {
	defer close(e.doneCh)

	ticker := time.NewTicker(e.cfg.GCInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
			if _, err := e.GC(ctx); err != nil && !errors.Is(err, ErrClosed) {
				e.logger.Error("value log gc failed", "error", err)
			}
			cancel()
		case <-e.stopCh:
			return
		}
	}
}

// Collector exposes the engine's sizes and GC counters to Prometheus.
// Values are read at scrape time.
func (e *BadgerEngine) Collector() prometheus.Collector {
	desc := func(name, help string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName("deltamesh", "badger", name), help, nil, nil)
	}
	return &badgerCollector{
		engine:     e,
		lsmSize:    desc("lsm_size_bytes", "Badger LSM tree size in bytes."),
		vlogSize:   desc("value_log_size_bytes", "Badger value log size in bytes."),
		lastGC:     desc("last_gc_timestamp_seconds", "Unix time of the last value log GC run."),
		gcRewrites: desc("gc_rewrites_total", "Value log files rewritten by GC."),
	}
}

type badgerCollector struct {
	engine *BadgerEngine

	lsmSize    *prometheus.Desc
	vlogSize   *prometheus.Desc
	lastGC     *prometheus.Desc
	gcRewrites *prometheus.Desc
}

func (c *badgerCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.lsmSize
	ch <- c.vlogSize
	ch <- c.lastGC
	ch <- c.gcRewrites
}

func (c *badgerCollector) Collect(ch chan<- prometheus.Metric) {
	s, err := c.engine.Stats(context.Background())
	if err != nil {
		return
	}
	ch <- prometheus.MustNewConstMetric(c.lsmSize, prometheus.GaugeValue, float64(s.LSMSize))
	ch <- prometheus.MustNewConstMetric(c.vlogSize, prometheus.GaugeValue, float64(s.ValueLogSize))
	var last float64
	if !s.LastGC.IsZero() {
		last = float64(s.LastGC.UnixNano()) / 1e9
	}
	ch <- prometheus.MustNewConstMetric(c.lastGC, prometheus.GaugeValue, last)
	ch <- prometheus.MustNewConstMetric(c.gcRewrites, prometheus.CounterValue, float64(s.GCRewrites))
}

// badgerLogger routes Badger's printf logging into slog. Badger's info
// output is chatty, so it goes to debug.
type badgerLogger struct {
	l *slog.Logger
}

func (b badgerLogger) Errorf(format string, args ...any)   { b.l.Error(fmt.Sprintf(format, args...)) }
func (b badgerLogger) Warningf(format string, args ...any) { b.l.Warn(fmt.Sprintf(format, args...)) }
func (b badgerLogger) Infof(format string, args ...any)    { b.l.Debug(fmt.Sprintf(format, args...)) }
func (b badgerLogger) Debugf(format string, args ...any)   { b.l.Debug(fmt.Sprintf(format, args...)) }
