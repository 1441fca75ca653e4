// Package service provides the background services of DeltaMesh.
//
// SyncScheduler drives periodic persistence of dirty objects: Start/Stop,
// runtime interval changes, Flush and per-tick reporting.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/yndnr/deltamesh-go/internal/core/domain"
	"github.com/yndnr/deltamesh-go/internal/core/replica"
)

const (
	// DefaultSyncInterval is the tick period when none is configured.
	DefaultSyncInterval = time.Second

	// DefaultTickTimeout bounds a single Persist call.
	DefaultTickTimeout = 30 * time.Second
)

// Tick results.
const (
	TickOK      = "ok"
	TickEmpty   = "empty"
	TickPartial = "partial"
	TickFailed  = "failed"
)

// SyncMetrics receives scheduler measurements.
type SyncMetrics interface {
	ObserveSyncTick(result string, batch int, d time.Duration)
	AddPersisted(n int)
	AddPersistFailures(n int)
}

// TickReport describes the outcome of one tick.
type TickReport struct {
	Result    string
	Batch     int
	Persisted int
	Failed    int
	Duration  time.Duration
	Err       error
}

// SyncScheduler periodically persists dirty objects.
//
// Each tick calls Persist exactly once with every dirty object. Dirty
// state is cleared only for objects the persister accepted, so failed
// objects are retried on the next tick.
type SyncScheduler struct {
	source    DirtySource
	persister Persister
	logger    *slog.Logger
	metrics   SyncMetrics

	interval    atomic.Int64
	tickTimeout time.Duration
	flushOnStop bool

	// tickMu serializes timer ticks and Flush.
	tickMu sync.Mutex

	mu      sync.Mutex
	running bool
	stopped bool
	stopCh  chan struct{}
	doneCh  chan struct{}
	resetCh chan struct{}

	failLog rate.Sometimes
}

// SchedulerOption configures a SyncScheduler.
type SchedulerOption func(*SyncScheduler)

// WithInterval sets the tick period. Non-positive values are ignored.
func WithInterval(d time.Duration) SchedulerOption {
	return func(s *SyncScheduler) {
		if d > 0 {
			s.interval.Store(int64(d))
		}
	}
}

// WithTickTimeout bounds each timer-driven Persist call.
func WithTickTimeout(d time.Duration) SchedulerOption {
	return func(s *SyncScheduler) {
		if d > 0 {
			s.tickTimeout = d
		}
	}
}

// WithFlushOnStop runs a final tick after the loop stops.
func WithFlushOnStop(enabled bool) SchedulerOption {
	return func(s *SyncScheduler) {
		s.flushOnStop = enabled
	}
}

// WithSchedulerLogger sets the logger.
func WithSchedulerLogger(l *slog.Logger) SchedulerOption {
	return func(s *SyncScheduler) {
		s.logger = l
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(m SyncMetrics) SchedulerOption {
	return func(s *SyncScheduler) {
		s.metrics = m
	}
}

// NewSyncScheduler creates a stopped scheduler.
func NewSyncScheduler(source DirtySource, persister Persister, opts ...SchedulerOption) *SyncScheduler {
	s := &SyncScheduler{
		source:      source,
		persister:   persister,
		tickTimeout: DefaultTickTimeout,
		resetCh:     make(chan struct{}, 1),
		failLog:     rate.Sometimes{First: 1, Interval: 30 * time.Second},
	}
	s.interval.Store(int64(DefaultSyncInterval))

	for _, opt := range opts {
		opt(s)
	}

	if s.logger == nil {
		s.logger = slog.Default()
	}
	s.logger = s.logger.With("component", "sync")
	return s
}

// ============================================================================
// Lifecycle
// ============================================================================

// Start launches the background loop. The loop also ends when ctx is done.
func (s *SyncScheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return domain.ErrSchedulerStopped
	}
	if s.running {
		return domain.ErrSchedulerRunning
	}

	s.running = true
	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})
	go s.loop(ctx, s.stopCh, s.doneCh)

	s.logger.Info("sync scheduler started", "interval", s.Interval().String())
	return nil
}

// Stop ends the loop and waits for an in-flight tick to finish. With
// WithFlushOnStop a final tick runs afterwards. A stopped scheduler cannot
// be restarted.
func (s *SyncScheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return domain.ErrSchedulerStopped
	}
	s.stopped = true
	wasRunning := s.running
	s.running = false
	stopCh, doneCh := s.stopCh, s.doneCh
	s.mu.Unlock()

	if wasRunning {
		close(stopCh)
		select {
		case <-doneCh:
		case <-ctx.Done():
			return fmt.Errorf("wait for sync tick: %w", ctx.Err())
		}
	}

	if s.flushOnStop {
		if report := s.Flush(ctx); report.Err != nil {
			s.logger.Error("final flush failed", "error", report.Err, "failed", report.Failed)
			return report.Err
		}
	}

	s.logger.Info("sync scheduler stopped")
	return nil
}

// Running reports whether the loop is active.
func (s *SyncScheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// SetInterval changes the tick period. A running loop picks it up
// immediately.
func (s *SyncScheduler) SetInterval(d time.Duration) error {
	if d <= 0 {
		return domain.ErrInvalidArgument.WithDetails(fmt.Sprintf("sync interval %s", d))
	}
	if time.Duration(s.interval.Swap(int64(d))) == d {
		return nil
	}

	select {
	case s.resetCh <- struct{}{}:
	default:
	}
	s.logger.Info("sync interval changed", "interval", d.String())
	return nil
}

// Interval returns the tick period.
func (s *SyncScheduler) Interval() time.Duration {
	return time.Duration(s.interval.Load())
}

// Flush runs one tick synchronously.
func (s *SyncScheduler) Flush(ctx context.Context) TickReport {
	return s.runTick(ctx)
}

// ============================================================================
// Tick Execution
// ============================================================================

func (s *SyncScheduler) loop(ctx context.Context, stopCh, doneCh chan struct{}) {
	defer close(doneCh)

	ticker := time.NewTicker(s.Interval())
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.tickUnlessStopped(stopCh)

		case <-s.resetCh:
			ticker.Reset(s.Interval())

		case <-stopCh:
			return

		case <-ctx.Done():
			s.logger.Info("sync loop context done", "error", ctx.Err())
			return
		}
	}
}

// tickUnlessStopped runs a timer tick unless Stop has closed stopCh. A
// tick that became ready together with stopCh is dropped.
func (s *SyncScheduler) tickUnlessStopped(stopCh <-chan struct{}) bool {
	select {
	case <-stopCh:
		return false
	default:
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.tickTimeout)
	defer cancel()
	s.runTick(ctx)
	return true
}

func (s *SyncScheduler) runTick(ctx context.Context) TickReport {
	s.tickMu.Lock()
	defer s.tickMu.Unlock()

	start := time.Now()
	batch := s.source.Dirty()
	report := TickReport{Result: TickEmpty, Batch: len(batch)}
	if len(batch) == 0 {
		s.observe(report)
		return report
	}

	// Versions are read before Persist so that writes racing with it
	// leave their object dirty.
	versions := make([]uint64, len(batch))
	for i, obj := range batch {
		versions[i] = obj.Version()
	}

	err := s.persist(ctx, batch)
	report.Duration = time.Since(start)

	var partial *PartialFailure
	switch {
	case err == nil:
		for i, obj := range batch {
			obj.MarkPersisted(versions[i])
		}
		report.Result = TickOK
		report.Persisted = len(batch)

	case errors.As(err, &partial):
		for i, obj := range batch {
			if _, failed := partial.Failed[obj.ID()]; failed {
				report.Failed++
				continue
			}
			obj.MarkPersisted(versions[i])
			report.Persisted++
		}
		report.Result = TickPartial
		report.Err = err

	default:
		report.Result = TickFailed
		report.Failed = len(batch)
		report.Err = err
	}

	if r, ok := s.source.(PersistedReleaser); ok && report.Persisted > 0 {
		if n := r.ReleasePersisted(); n > 0 {
			s.logger.Debug("released persisted objects", "objects", n)
		}
	}

	if report.Err != nil {
		s.logFailure(report)
	} else {
		s.logger.Debug("sync tick persisted", "objects", report.Persisted, "duration", report.Duration.String())
	}
	s.observe(report)
	return report
}

// persist turns a panicking persister into a whole-batch failure.
func (s *SyncScheduler) persist(ctx context.Context, batch []*replica.Object) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = domain.ErrPersistenceFailure.WithDetails(fmt.Sprintf("persister panicked: %v", r))
		}
	}()

	if err := s.persister.Persist(ctx, batch); err != nil {
		if errors.Is(err, domain.ErrPersistenceFailure) {
			return err
		}
		return domain.ErrPersistenceFailure.WithCause(err)
	}
	return nil
}

func (s *SyncScheduler) logFailure(r TickReport) {
	logged := false
	s.failLog.Do(func() {
		logged = true
		s.logger.Error("sync tick failed, objects stay dirty",
			"result", r.Result,
			"batch", r.Batch,
			"failed", r.Failed,
			"error", r.Err)
	})
	if !logged {
		s.logger.Debug("sync tick failed", "result", r.Result, "failed", r.Failed, "error", r.Err)
	}
}

func (s *SyncScheduler) observe(r TickReport) {
	if s.metrics == nil {
		return
	}
	s.metrics.ObserveSyncTick(r.Result, r.Batch, r.Duration)
	if r.Persisted > 0 {
		s.metrics.AddPersisted(r.Persisted)
	}
	if r.Failed > 0 {
		s.metrics.AddPersistFailures(r.Failed)
	}
}
