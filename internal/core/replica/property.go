// Package replica implements the replicated, delta-tracked object model.
//
// Property descriptors are typed handles for reading and writing one
// replicable value of an Object.
package replica

import (
	"fmt"
	"reflect"
	"strconv"

	"github.com/spaolacci/murmur3"

	"github.com/yndnr/deltamesh-go/internal/core/domain"
)

// PropertyID identifies a property across processes.
// It is derived from (owner, name) and is therefore stable between runs.
type PropertyID uint64

// PropertyIDOf derives the identity of the property name declared by owner.
func PropertyIDOf(owner, name string) PropertyID {
	return PropertyID(murmur3.Sum64([]byte(owner + "." + name)))
}

// ParsePropertyID parses the hex form produced by PropertyID.String.
func ParsePropertyID(s string) (PropertyID, error) {
	n, err := strconv.ParseUint(s, 16, 64)
	if err != nil {
		return 0, domain.ErrInvalidArgument.WithDetails(fmt.Sprintf("property id %q", s)).WithCause(err)
	}
	return PropertyID(n), nil
}

// String returns the id as 16 hex digits.
func (id PropertyID) String() string {
	return fmt.Sprintf("%016x", uint64(id))
}

// Descriptor is the type-erased view of a registered property.
type Descriptor interface {
	ID() PropertyID
	Owner() string
	Name() string
	// Key returns "owner.name".
	Key() string
	Type() reflect.Type
	Default() any
	Batching() bool
	ExternalSync() bool
	SinkKey() string

	coerce(v any) (any, error)
	changed(old, new any)
	sinkUpdated(v any)
}

// PropertyOptions configures a property at registration.
type PropertyOptions[T Scalar] struct {
	// Default is the value an absent entry stands for.
	Default T

	// Batching queues local changes as deltas for remote clients.
	Batching bool

	// ExternalSync makes the property part of the persisted record.
	ExternalSync bool

	// SinkKey is the key pushed to a bound external sink.
	// Defaults to the property name.
	SinkKey string

	// OnChanged observes a transition between two stored states.
	// Only called when a sink is bound and a previous value existed.
	OnChanged func(old, new T)

	// OnValidate vetoes local writes. A rejected write is a silent no-op.
	OnValidate func(candidate T) bool

	// OnSinkUpdate runs on the sink executor before the value is pushed.
	OnSinkUpdate func(value T)
}

// Property is an immutable, registered property descriptor.
type Property[T Scalar] struct {
	id           PropertyID
	owner        string
	name         string
	typ          reflect.Type
	def          T
	batching     bool
	externalSync bool
	sinkKey      string

	onChanged    func(old, new T)
	onValidate   func(candidate T) bool
	onSinkUpdate func(value T)
}

func newProperty[T Scalar](owner, name string, opts PropertyOptions[T]) *Property[T] {
	sinkKey := opts.SinkKey
	if sinkKey == "" {
		sinkKey = name
	}
	return &Property[T]{
		id:           PropertyIDOf(owner, name),
		owner:        owner,
		name:         name,
		typ:          reflect.TypeFor[T](),
		def:          opts.Default,
		batching:     opts.Batching,
		externalSync: opts.ExternalSync,
		sinkKey:      sinkKey,
		onChanged:    opts.OnChanged,
		onValidate:   opts.OnValidate,
		onSinkUpdate: opts.OnSinkUpdate,
	}
}

func (p *Property[T]) ID() PropertyID     { return p.id }
func (p *Property[T]) Owner() string      { return p.owner }
func (p *Property[T]) Name() string       { return p.name }
func (p *Property[T]) Key() string        { return p.owner + "." + p.name }
func (p *Property[T]) Type() reflect.Type { return p.typ }
func (p *Property[T]) Default() any       { return p.def }
func (p *Property[T]) DefaultValue() T    { return p.def }
func (p *Property[T]) Batching() bool     { return p.batching }
func (p *Property[T]) ExternalSync() bool { return p.externalSync }
func (p *Property[T]) SinkKey() string    { return p.sinkKey }

// Get returns the value stored on o, or the default if none is stored.
func (p *Property[T]) Get(o *Object) T {
	v, ok := o.values.Get(p.id)
	if !ok {
		return p.def
	}
	t, ok := v.(T)
	if !ok {
		return p.def
	}
	return t
}

// Set writes a local value. Writes rejected by OnValidate are dropped.
func (p *Property[T]) Set(o *Object, v T) {
	if p.onValidate != nil && !p.onValidate(v) {
		return
	}
	o.write(p, v, originLocal)
}

// SetFromRemote writes a value received from a peer. It skips validation,
// does not re-enter the outbound delta queue and does not run OnChanged.
func (p *Property[T]) SetFromRemote(o *Object, v T) {
	o.write(p, v, originRemote)
}

// Clear resets the property to its default. Clearing is never validated.
func (p *Property[T]) Clear(o *Object) {
	o.write(p, p.def, originLocal)
}

// SetDelta builds a delta that sets the property to v.
func (p *Property[T]) SetDelta(v T) Delta {
	return SetDelta(p.id, v)
}

// ResetDelta builds a delta that resets the property.
func (p *Property[T]) ResetDelta() Delta {
	return ResetDelta(p.id)
}

func (p *Property[T]) coerce(v any) (any, error) {
	out, err := coerce(v, p.typ)
	if err != nil {
		return nil, domain.ErrPropertyTypeMismatch.WithDetails(p.Key()).WithCause(err)
	}
	return out, nil
}

func (p *Property[T]) changed(old, new any) {
	if p.onChanged != nil {
		p.onChanged(old.(T), new.(T))
	}
}

func (p *Property[T]) sinkUpdated(v any) {
	if p.onSinkUpdate != nil {
		p.onSinkUpdate(v.(T))
	}
}
