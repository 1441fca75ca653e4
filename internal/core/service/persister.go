// Package service provides the background services of DeltaMesh.
//
// This file contains the persistence contracts the scheduler depends on.
package service

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/yndnr/deltamesh-go/internal/core/domain"
	"github.com/yndnr/deltamesh-go/internal/core/replica"
)

// Persister writes a batch of dirty objects to durable storage.
//
// Implementations must be idempotent: an unchanged object may be persisted
// more than once. Returning a *PartialFailure keeps only the named objects
// dirty; any other error keeps the whole batch dirty.
type Persister interface {
	Persist(ctx context.Context, batch []*replica.Object) error
}

// PersistFunc adapts a function to Persister.
type PersistFunc func(ctx context.Context, batch []*replica.Object) error

// Persist calls f.
func (f PersistFunc) Persist(ctx context.Context, batch []*replica.Object) error {
	return f(ctx, batch)
}

// DirtySource lists objects with unpersisted changes.
type DirtySource interface {
	Dirty() []*replica.Object
}

// PersistedReleaser is implemented by a DirtySource that keeps objects
// resident until they are persisted. ReleasePersisted runs after every
// tick that persisted at least one object and returns how many objects
// it let go.
type PersistedReleaser interface {
	ReleasePersisted() int
}

// PartialFailure reports the objects of a batch that could not be
// persisted. It matches domain.ErrPersistenceFailure with errors.Is.
type PartialFailure struct {
	Failed map[domain.ObjectID]error
}

// NewPartialFailure creates an empty PartialFailure.
func NewPartialFailure() *PartialFailure {
	return &PartialFailure{Failed: make(map[domain.ObjectID]error)}
}

// Add records a failure for id.
func (p *PartialFailure) Add(id domain.ObjectID, err error) {
	p.Failed[id] = err
}

// Err returns p if any failure was recorded, nil otherwise.
func (p *PartialFailure) Err() error {
	if len(p.Failed) == 0 {
		return nil
	}
	return p
}

func (p *PartialFailure) Error() string {
	ids := make([]domain.ObjectID, 0, len(p.Failed))
	for id := range p.Failed {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		return ids[i].String() < ids[j].String()
	})

	if len(ids) == 1 {
		return fmt.Sprintf("persist %s: %v", ids[0], p.Failed[ids[0]])
	}
	names := make([]string, len(ids))
	for i, id := range ids {
		names[i] = id.String()
	}
	return fmt.Sprintf("persist failed for %d objects: %s", len(ids), strings.Join(names, ", "))
}

// Unwrap exposes the persistence failure sentinel.
func (p *PartialFailure) Unwrap() error {
	return domain.ErrPersistenceFailure
}
