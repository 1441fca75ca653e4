// Package replica implements the replicated, delta-tracked object model.
//
// Object holds the sparse property values of one replicated entity, its
// outbound delta queue and its persistence watermark.
package replica

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/yndnr/deltamesh-go/internal/core/domain"
	"github.com/yndnr/deltamesh-go/pkg/cmap"
)

// propertyShards keeps per-object locking fine grained without paying for
// the default shard count on every instance.
const propertyShards = 8

type origin uint8

const (
	originLocal origin = iota
	originRemote
)

// Object is a replicated entity with a sparse property store.
//
// Absent entries stand for the descriptor default; the default is never
// stored. Each write is atomic for the property it touches and does not
// lock other properties.
type Object struct {
	id       domain.ObjectID
	registry *Registry
	logger   *slog.Logger
	values   *cmap.Map[PropertyID, any]

	queueMu sync.Mutex
	pending []Delta

	// version counts changes; persisted is the highest version a flush
	// has confirmed. The object is dirty while they differ.
	version   atomic.Uint64
	persisted atomic.Uint64

	changeCount   atomic.Int64
	batchInterval atomic.Int64
	batchReady    chan struct{}

	sink         atomic.Pointer[sinkBinding]
	deltaHandler func(*Object, Delta)
}

// Option configures an Object.
type Option func(*Object)

// WithID sets the object identity.
func WithID(id domain.ObjectID) Option {
	return func(o *Object) {
		o.id = id
	}
}

// WithKey derives the object identity from a natural key.
func WithKey[K domain.NaturalKey](key K) Option {
	return func(o *Object) {
		o.id = domain.DeriveObjectID(key)
	}
}

// WithRegistry sets the descriptor table used to resolve inbound deltas.
func WithRegistry(r *Registry) Option {
	return func(o *Object) {
		o.registry = r
	}
}

// WithBatchInterval sets the number of changes per ready batch.
// Zero disables queueing.
func WithBatchInterval(n int) Option {
	return func(o *Object) {
		o.batchInterval.Store(int64(max(n, 0)))
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *Object) {
		o.logger = l
	}
}

// WithDeltaHandler receives batching deltas directly when the batch
// interval is zero. fn runs under the property's lock and must not write
// to the object.
func WithDeltaHandler(fn func(*Object, Delta)) Option {
	return func(o *Object) {
		o.deltaHandler = fn
	}
}

// New creates an object. Without WithID or WithKey a fresh identity is
// generated.
func New(opts ...Option) *Object {
	o := &Object{
		values:     cmap.NewWithShards[PropertyID, any](propertyShards),
		batchReady: make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.id.IsZero() {
		o.id = domain.NewObjectID()
	}
	if o.registry == nil {
		o.registry = DefaultRegistry()
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	o.logger = o.logger.With("object_id", o.id.String())
	return o
}

// ID returns the object identity.
func (o *Object) ID() domain.ObjectID {
	return o.id
}

// Registry returns the descriptor table the object resolves deltas with.
func (o *Object) Registry() *Registry {
	return o.registry
}

// ============================================================================
// Local Writes
// ============================================================================

// write stores value for d, or removes the entry if value is the default.
// Reports whether the stored state changed.
func (o *Object) write(d Descriptor, value any, from origin) bool {
	def := d.Default()
	var (
		old     any
		existed bool
		changed bool
	)

	o.values.Compute(d.ID(), func(current any, loaded bool) (any, cmap.Op) {
		old, existed = current, loaded
		if !loaded {
			old = def
		}

		if sameValue(value, def) {
			if !loaded {
				return current, cmap.Keep
			}
			changed = true
			o.recordLocked(d, ResetDelta(d.ID()), from)
			return nil, cmap.Remove
		}

		if loaded && sameValue(current, value) {
			return current, cmap.Keep
		}
		changed = true
		o.recordLocked(d, SetDelta(d.ID(), value), from)
		return value, cmap.Store
	})

	if !changed {
		return false
	}

	o.version.Add(1)

	binding := o.sink.Load()
	if from == originLocal && binding != nil && existed {
		d.changed(old, value)
	}
	if binding != nil {
		o.push(binding, d, value)
	}
	return true
}

// recordLocked runs inside the property's shard lock so that queue order
// matches the order in which writes to that property complete.
func (o *Object) recordLocked(d Descriptor, delta Delta, from origin) {
	if from != originLocal || !d.Batching() {
		return
	}

	interval := o.batchInterval.Load()
	if interval <= 0 {
		if o.deltaHandler != nil {
			o.deltaHandler(o, delta)
		}
		return
	}

	o.queueMu.Lock()
	o.pending = append(o.pending, delta)
	o.queueMu.Unlock()

	for {
		n := o.changeCount.Load()
		next := n + 1
		ready := next >= interval
		if ready {
			next = 0
		}
		if o.changeCount.CompareAndSwap(n, next) {
			if ready {
				select {
				case o.batchReady <- struct{}{}:
				default:
				}
			}
			return
		}
	}
}

func (o *Object) push(b *sinkBinding, d Descriptor, value any) {
	b.executor.Execute(func() {
		defer func() {
			if r := recover(); r != nil {
				o.logger.Debug("sink push panicked", "property", d.Key(), "panic", fmt.Sprint(r))
			}
		}()
		d.sinkUpdated(value)
		if err := b.sink.Push(d.SinkKey(), value); err != nil {
			o.logger.Debug("sink push failed", "property", d.Key(), "error", err)
		}
	})
}

// ============================================================================
// Inbound Replication
// ============================================================================

// ApplyDelta applies a delta received from a peer.
//
// Unknown properties are ignored. A value that cannot be converted to the
// property type fails with domain.ErrPropertyTypeMismatch and leaves the
// object unchanged. Like SetFromRemote it never runs OnChanged.
func (o *Object) ApplyDelta(delta Delta) error {
	d, ok := o.registry.Lookup(delta.Property)
	if !ok {
		return nil
	}

	switch delta.Kind {
	case DeltaReset:
		o.write(d, d.Default(), originRemote)
		return nil
	case DeltaSet:
		v, err := d.coerce(delta.Value)
		if err != nil {
			return err
		}
		o.write(d, v, originRemote)
		return nil
	default:
		return domain.ErrInvalidArgument.WithDetails(fmt.Sprintf("delta kind %d", delta.Kind))
	}
}

// ApplySnapshot applies every entry of a non-default snapshot as a remote
// write. Entries for unknown properties are skipped.
func (o *Object) ApplySnapshot(snapshot map[PropertyID]any) error {
	for id, v := range snapshot {
		if err := o.ApplyDelta(SetDelta(id, v)); err != nil {
			return err
		}
	}
	return nil
}

// ============================================================================
// Delta Queue
// ============================================================================

// DrainDeltas removes all queued deltas and returns them compacted.
func (o *Object) DrainDeltas() []Delta {
	o.queueMu.Lock()
	queued := o.pending
	o.pending = nil
	o.queueMu.Unlock()

	return Compact(queued)
}

// PendingCount returns the number of queued, uncompacted deltas.
func (o *Object) PendingCount() int {
	o.queueMu.Lock()
	defer o.queueMu.Unlock()
	return len(o.pending)
}

// NonDefaultSnapshot copies every stored value.
func (o *Object) NonDefaultSnapshot() map[PropertyID]any {
	snapshot := make(map[PropertyID]any, o.values.Count())
	o.values.Range(func(id PropertyID, v any) bool {
		snapshot[id] = v
		return true
	})
	return snapshot
}

// Len returns the number of stored, non-default values.
func (o *Object) Len() int {
	return o.values.Count()
}

// ============================================================================
// Sink and Batching
// ============================================================================

// BindSink attaches the external sink. Only the first call binds; later
// calls return false and leave the binding unchanged. A nil executor means
// InlineExecutor.
func (o *Object) BindSink(s Sink, exec Executor) bool {
	if s == nil {
		return false
	}
	if exec == nil {
		exec = InlineExecutor
	}
	return o.sink.CompareAndSwap(nil, &sinkBinding{sink: s, executor: exec})
}

// SinkBound reports whether a sink is bound.
func (o *Object) SinkBound() bool {
	return o.sink.Load() != nil
}

// SetBatchInterval changes the batch threshold. Negative values are
// treated as zero.
func (o *Object) SetBatchInterval(n int) {
	o.batchInterval.Store(int64(max(n, 0)))
}

// BatchInterval returns the batch threshold.
func (o *Object) BatchInterval() int {
	return int(o.batchInterval.Load())
}

// ChangeCount returns the changes counted toward the current batch.
func (o *Object) ChangeCount() int {
	return int(o.changeCount.Load())
}

// BatchReady is signalled each time the change counter reaches the batch
// interval. Signals coalesce while unread.
func (o *Object) BatchReady() <-chan struct{} {
	return o.batchReady
}

// ============================================================================
// Persistence State
// ============================================================================

// Version returns the change counter used for dirty tracking.
func (o *Object) Version() uint64 {
	return o.version.Load()
}

// IsDirty reports whether changes exist that no flush has confirmed.
func (o *Object) IsDirty() bool {
	return o.version.Load() != o.persisted.Load()
}

// MarkPersisted records that state up to version v is durable. Changes
// made after v was read keep the object dirty.
func (o *Object) MarkPersisted(v uint64) {
	for {
		cur := o.persisted.Load()
		if v <= cur {
			return
		}
		if o.persisted.CompareAndSwap(cur, v) {
			return
		}
	}
}

// MarkClean marks all current changes as persisted.
func (o *Object) MarkClean() {
	o.MarkPersisted(o.version.Load())
}
