package memory

import (
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"

	"github.com/yndnr/deltamesh-go/internal/core/domain"
	"github.com/yndnr/deltamesh-go/internal/core/replica"
	"github.com/yndnr/deltamesh-go/pkg/cmap"
)

// EvictionPolicy decides what happens to an entry that loses its last
// subscriber and pin.
type EvictionPolicy int

const (
	// EvictWhenUnreferenced removes the entry as soon as it has no
	// subscribers and no pins.
	EvictWhenUnreferenced EvictionPolicy = iota
	// RetainUnsubscribed keeps entries until Evict is called.
	RetainUnsubscribed
)

// String returns the config name of the policy.
func (p EvictionPolicy) String() string {
	switch p {
	case EvictWhenUnreferenced:
		return "evict"
	case RetainUnsubscribed:
		return "retain"
	default:
		return fmt.Sprintf("policy(%d)", int(p))
	}
}

// ParseEvictionPolicy parses "evict" or "retain".
func ParseEvictionPolicy(s string) (EvictionPolicy, error) {
	switch strings.ToLower(s) {
	case "", "evict":
		return EvictWhenUnreferenced, nil
	case "retain":
		return RetainUnsubscribed, nil
	default:
		return 0, domain.ErrInvalidArgument.WithDetails(fmt.Sprintf("eviction policy %q", s))
	}
}

// entry is only read or mutated under its shard lock.
type entry struct {
	obj         *replica.Object
	subscribers map[domain.ClientID]struct{}
	pins        int
	// syncPin is one of pins, taken when the entry lost its last
	// reference while dirty and dropped by ReleasePersisted.
	syncPin bool
}

func newEntry(obj *replica.Object) *entry {
	return &entry{
		obj:         obj,
		subscribers: make(map[domain.ClientID]struct{}),
	}
}

func (e *entry) unreferenced() bool {
	return len(e.subscribers) == 0 && e.pins == 0
}

// settle reports whether an entry that may have lost its last reference
// must be evicted. A dirty object is pinned for persistence instead.
func (d *Directory) settle(e *entry) bool {
	if d.policy != EvictWhenUnreferenced || !e.unreferenced() {
		return false
	}
	if e.obj.IsDirty() {
		e.pins++
		e.syncPin = true
		return false
	}
	return true
}

// Stats is a point-in-time view of the directory.
type Stats struct {
	Objects       int
	Subscriptions int
	Clients       int
	Pinned        int
	Dirty         int
	Registrations uint64
	Evictions     uint64
	// LargestShard is the entry count of the fullest shard.
	LargestShard int
}

// Directory maps object identities to resident objects and their
// subscribers.
type Directory struct {
	objects *cmap.Map[domain.ObjectID, *entry]
	clients *ClientIndex
	policy  EvictionPolicy
	logger  *slog.Logger

	registrations atomic.Uint64
	evictions     atomic.Uint64
}

// Option configures the Directory.
type Option func(*Directory)

// WithEvictionPolicy sets the eviction policy.
func WithEvictionPolicy(p EvictionPolicy) Option {
	return func(d *Directory) {
		d.policy = p
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(d *Directory) {
		d.logger = l
	}
}

// WithShardCount sets the number of identity shards.
func WithShardCount(n int) Option {
	return func(d *Directory) {
		d.objects = newObjectMap(n)
	}
}

func newObjectMap(shards int) *cmap.Map[domain.ObjectID, *entry] {
	return cmap.NewWithHasher[domain.ObjectID, *entry](shards, domain.ObjectID.ShardKey)
}

// New creates an empty directory.
func New(opts ...Option) *Directory {
	d := &Directory{
		objects: newObjectMap(cmap.DefaultShardCount),
		clients: NewClientIndex(),
		policy:  EvictWhenUnreferenced,
	}

	for _, opt := range opts {
		opt(d)
	}

	if d.logger == nil {
		d.logger = slog.Default()
	}
	return d
}

// Policy returns the eviction policy.
func (d *Directory) Policy() EvictionPolicy {
	return d.policy
}

// Register subscribes clientID to obj.
//
// If an object with the same identity is already resident, that instance
// is kept and returned; obj is discarded.
func (d *Directory) Register(clientID domain.ClientID, obj *replica.Object) *replica.Object {
	var resident *replica.Object
	id := obj.ID()

	d.objects.Compute(id, func(e *entry, loaded bool) (*entry, cmap.Op) {
		if !loaded {
			e = newEntry(obj)
			d.registrations.Add(1)
		}
		e.subscribers[clientID] = struct{}{}
		d.clients.Add(clientID, id)
		resident = e.obj
		return e, cmap.Store
	})

	return resident
}

// RegisterByID subscribes clientID to a resident object.
// Returns domain.ErrObjectNotFound if the identity is unknown.
func (d *Directory) RegisterByID(clientID domain.ClientID, id domain.ObjectID) (*replica.Object, error) {
	var resident *replica.Object

	d.objects.Compute(id, func(e *entry, loaded bool) (*entry, cmap.Op) {
		if !loaded {
			return e, cmap.Keep
		}
		e.subscribers[clientID] = struct{}{}
		d.clients.Add(clientID, id)
		resident = e.obj
		return e, cmap.Store
	})

	if resident == nil {
		return nil, domain.ErrObjectNotFound.WithDetails(id.String())
	}
	return resident, nil
}

// Unregister removes clientID from the object's subscribers and returns
// the object. Unsubscribing a client that was not subscribed is a no-op.
// An object left unreferenced with unpersisted changes stays resident
// until ReleasePersisted sees it clean.
func (d *Directory) Unregister(clientID domain.ClientID, id domain.ObjectID) (*replica.Object, error) {
	var (
		obj     *replica.Object
		evicted bool
	)

	d.objects.Compute(id, func(e *entry, loaded bool) (*entry, cmap.Op) {
		if !loaded {
			return e, cmap.Keep
		}
		obj = e.obj
		if _, ok := e.subscribers[clientID]; ok {
			delete(e.subscribers, clientID)
			d.clients.Remove(clientID, id)
		}
		if d.settle(e) {
			evicted = true
			return nil, cmap.Remove
		}
		return e, cmap.Keep
	})

	if obj == nil {
		return nil, domain.ErrObjectNotFound.WithDetails(id.String())
	}
	if evicted {
		d.evicted(obj, "unsubscribed")
	}
	return obj, nil
}

// UnregisterClient drops every subscription held by clientID and returns
// how many were removed.
func (d *Directory) UnregisterClient(clientID domain.ClientID) int {
	n := 0
	for _, id := range d.clients.Get(clientID) {
		if _, err := d.Unregister(clientID, id); err == nil {
			n++
		}
	}
	return n
}

// Lookup returns the resident object for id.
func (d *Directory) Lookup(id domain.ObjectID) (*replica.Object, error) {
	e, ok := d.objects.Get(id)
	if !ok {
		return nil, domain.ErrObjectNotFound.WithDetails(id.String())
	}
	return e.obj, nil
}

// Has reports whether id is resident.
func (d *Directory) Has(id domain.ObjectID) bool {
	return d.objects.Has(id)
}

// Pin keeps obj resident without a subscriber. Pins are counted; each Pin
// needs a matching Unpin. Like Register, the resident instance wins.
func (d *Directory) Pin(obj *replica.Object) *replica.Object {
	var resident *replica.Object

	d.objects.Compute(obj.ID(), func(e *entry, loaded bool) (*entry, cmap.Op) {
		if !loaded {
			e = newEntry(obj)
			d.registrations.Add(1)
		}
		e.pins++
		resident = e.obj
		return e, cmap.Store
	})

	return resident
}

// Unpin releases one pin taken with Pin. A persistence pin is left for
// ReleasePersisted.
func (d *Directory) Unpin(id domain.ObjectID) error {
	var (
		obj     *replica.Object
		evicted bool
	)

	d.objects.Compute(id, func(e *entry, loaded bool) (*entry, cmap.Op) {
		if !loaded {
			return e, cmap.Keep
		}
		obj = e.obj
		held := e.pins
		if e.syncPin {
			held--
		}
		if held > 0 {
			e.pins--
		}
		if d.settle(e) {
			evicted = true
			return nil, cmap.Remove
		}
		return e, cmap.Keep
	})

	if obj == nil {
		return domain.ErrObjectNotFound.WithDetails(id.String())
	}
	if evicted {
		d.evicted(obj, "unpinned")
	}
	return nil
}

// ReleasePersisted drops the persistence pins of objects that are clean
// again and evicts those left unreferenced. It returns the number of
// evicted objects. The sync scheduler calls it after each tick that
// persisted something.
func (d *Directory) ReleasePersisted() int {
	var held []domain.ObjectID
	d.objects.Range(func(id domain.ObjectID, e *entry) bool {
		if e.syncPin && !e.obj.IsDirty() {
			held = append(held, id)
		}
		return true
	})

	n := 0
	for _, id := range held {
		var obj *replica.Object
		d.objects.Compute(id, func(e *entry, loaded bool) (*entry, cmap.Op) {
			if !loaded || !e.syncPin || e.obj.IsDirty() {
				return e, cmap.Keep
			}
			e.syncPin = false
			e.pins--
			if d.settle(e) {
				obj = e.obj
				return nil, cmap.Remove
			}
			return e, cmap.Keep
		})
		if obj != nil {
			d.evicted(obj, "persisted")
			n++
		}
	}
	return n
}

// Evict removes id regardless of subscribers and pins.
func (d *Directory) Evict(id domain.ObjectID) (*replica.Object, error) {
	var obj *replica.Object

	d.objects.Compute(id, func(e *entry, loaded bool) (*entry, cmap.Op) {
		if !loaded {
			return e, cmap.Keep
		}
		obj = e.obj
		for clientID := range e.subscribers {
			d.clients.Remove(clientID, id)
		}
		return nil, cmap.Remove
	})

	if obj == nil {
		return nil, domain.ErrObjectNotFound.WithDetails(id.String())
	}
	d.evicted(obj, "evicted")
	return obj, nil
}

func (d *Directory) evicted(obj *replica.Object, reason string) {
	d.evictions.Add(1)
	if obj.IsDirty() {
		d.logger.Warn("evicted object with unpersisted changes",
			"object_id", obj.ID().String(),
			"reason", reason)
	}
}

// Subscribers returns the clients subscribed to id.
func (d *Directory) Subscribers(id domain.ObjectID) ([]domain.ClientID, error) {
	var (
		clients []domain.ClientID
		found   bool
	)

	d.objects.Compute(id, func(e *entry, loaded bool) (*entry, cmap.Op) {
		if !loaded {
			return e, cmap.Keep
		}
		found = true
		clients = make([]domain.ClientID, 0, len(e.subscribers))
		for c := range e.subscribers {
			clients = append(clients, c)
		}
		return e, cmap.Keep
	})

	if !found {
		return nil, domain.ErrObjectNotFound.WithDetails(id.String())
	}
	return clients, nil
}

// Subscriptions returns the objects clientID is subscribed to.
func (d *Directory) Subscriptions(clientID domain.ClientID) []domain.ObjectID {
	return d.clients.Get(clientID)
}

// Dirty returns every resident object with unpersisted changes.
func (d *Directory) Dirty() []*replica.Object {
	var dirty []*replica.Object
	d.objects.Range(func(_ domain.ObjectID, e *entry) bool {
		if e.obj.IsDirty() {
			dirty = append(dirty, e.obj)
		}
		return true
	})
	return dirty
}

// Objects returns every resident object.
func (d *Directory) Objects() []*replica.Object {
	objs := make([]*replica.Object, 0, d.objects.Count())
	d.objects.Range(func(_ domain.ObjectID, e *entry) bool {
		objs = append(objs, e.obj)
		return true
	})
	return objs
}

// Count returns the number of resident objects.
func (d *Directory) Count() int {
	return d.objects.Count()
}

// Stats returns current directory statistics.
func (d *Directory) Stats() Stats {
	s := Stats{
		Clients:       d.clients.Clients(),
		Registrations: d.registrations.Load(),
		Evictions:     d.evictions.Load(),
	}
	d.objects.Range(func(_ domain.ObjectID, e *entry) bool {
		s.Objects++
		s.Subscriptions += len(e.subscribers)
		if e.pins > 0 {
			s.Pinned++
		}
		if e.obj.IsDirty() {
			s.Dirty++
		}
		return true
	})
	for _, n := range d.objects.ShardSizes() {
		s.LargestShard = max(s.LargestShard, n)
	}
	return s
}

// UpdateRemote applies a peer write to a resident object.
func UpdateRemote[T replica.Scalar](d *Directory, id domain.ObjectID, p *replica.Property[T], v T) error {
	obj, err := d.Lookup(id)
	if err != nil {
		return err
	}
	p.SetFromRemote(obj, v)
	return nil
}
