package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/yndnr/deltamesh-go/internal/core/domain"
	"github.com/yndnr/deltamesh-go/internal/core/replica"
	"github.com/yndnr/deltamesh-go/internal/core/service"
	"github.com/yndnr/deltamesh-go/pkg/crypto/adaptive"
)

const (
	recordPrefix = "obj/"
	saltKey      = "meta/kdf-salt"

	recordKeyInfo = "deltamesh record encryption v1"
)

// ErrEncryptedRecord is returned when a sealed record is read without a
// configured key.
var ErrEncryptedRecord = errors.New("record is encrypted but no key is configured")

// ObjectPersister writes the externally synchronized properties of
// objects to a KVEngine. It implements service.Persister.
type ObjectPersister struct {
	kv          KVEngine
	sealer      *adaptive.Sealer
	parallelism int
	logger      *slog.Logger
	now         func() time.Time
}

var _ service.Persister = (*ObjectPersister)(nil)

type persisterOptions struct {
	key         []byte
	passphrase  []byte
	parallelism int
	logger      *slog.Logger
	now         func() time.Time
}

// PersisterOption configures an ObjectPersister.
type PersisterOption func(*persisterOptions)

// WithEncryptionKey encrypts records with a key derived from a 32-byte
// master key.
func WithEncryptionKey(key []byte) PersisterOption {
	return func(o *persisterOptions) {
		o.key = key
	}
}

// WithPassphrase encrypts records with a key derived from passphrase.
// The salt is generated once and stored alongside the records.
func WithPassphrase(passphrase []byte) PersisterOption {
	return func(o *persisterOptions) {
		o.passphrase = passphrase
	}
}

// WithParallelism bounds concurrent record writes. Values below 1 use
// GOMAXPROCS.
func WithParallelism(n int) PersisterOption {
	return func(o *persisterOptions) {
		o.parallelism = n
	}
}

// WithPersisterLogger sets the logger.
func WithPersisterLogger(l *slog.Logger) PersisterOption {
	return func(o *persisterOptions) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithClock overrides the record timestamp source.
func WithClock(now func() time.Time) PersisterOption {
	return func(o *persisterOptions) {
		if now != nil {
			o.now = now
		}
	}
}

// NewObjectPersister creates a persister over kv.
//
// When a passphrase is configured the KDF salt is read from kv, or
// generated and stored on first use.
func NewObjectPersister(ctx context.Context, kv KVEngine, opts ...PersisterOption) (*ObjectPersister, error) {
	o := persisterOptions{
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.parallelism < 1 {
		o.parallelism = runtime.GOMAXPROCS(0)
	}
	if o.key != nil && o.passphrase != nil {
		return nil, domain.ErrInvalidArgument.WithDetails("encryption key and passphrase are mutually exclusive")
	}

	p := &ObjectPersister{
		kv:          kv,
		parallelism: o.parallelism,
		logger:      o.logger,
		now:         o.now,
	}

	master := o.key
	if o.passphrase != nil {
		salt, err := loadOrCreateSalt(ctx, kv)
		if err != nil {
			return nil, err
		}
		master, err = adaptive.DeriveKey(o.passphrase, salt)
		if err != nil {
			return nil, fmt.Errorf("derive key: %w", err)
		}
	}

	if master != nil {
		key, err := adaptive.DeriveSubkey(master, recordKeyInfo)
		if err != nil {
			return nil, fmt.Errorf("derive record key: %w", err)
		}
		sealer, err := adaptive.NewSealer(key)
		if err != nil {
			return nil, fmt.Errorf("create sealer: %w", err)
		}
		p.sealer = sealer
		p.logger.Info("record encryption enabled", "algorithm", sealer.Algorithm().String())
	}

	return p, nil
}

func loadOrCreateSalt(ctx context.Context, kv KVEngine) ([]byte, error) {
	salt, err := kv.Get(ctx, []byte(saltKey))
	if err == nil {
		return salt, nil
	}
	if !errors.Is(err, ErrKeyNotFound) {
		return nil, domain.ErrStorageError.WithCause(fmt.Errorf("read salt: %w", err))
	}

	salt, err = adaptive.NewSalt()
	if err != nil {
		return nil, err
	}
	if err := kv.Set(ctx, []byte(saltKey), salt); err != nil {
		return nil, domain.ErrStorageError.WithCause(fmt.Errorf("write salt: %w", err))
	}
	return salt, nil
}

// Encrypted reports whether records are sealed.
func (p *ObjectPersister) Encrypted() bool {
	return p.sealer != nil
}

// Persist writes one record per object. Objects are written
// concurrently and independently; failures are reported as a
// *service.PartialFailure naming only the failed objects.
func (p *ObjectPersister) Persist(ctx context.Context, batch []*replica.Object) error {
	var (
		mu     sync.Mutex
		failed = service.NewPartialFailure()
		g      errgroup.Group
	)
	g.SetLimit(p.parallelism)

	for _, obj := range batch {
		g.Go(func() error {
			if err := p.persistOne(ctx, obj); err != nil {
				mu.Lock()
				failed.Add(obj.ID(), err)
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	return failed.Err()
}

func (p *ObjectPersister) persistOne(ctx context.Context, obj *replica.Object) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	rec := &Record{
		ID:        obj.ID(),
		Version:   obj.Version(),
		UpdatedAt: p.now(),
		Props:     make(map[replica.PropertyID]any),
	}
	reg := obj.Registry()
	for id, v := range obj.NonDefaultSnapshot() {
		d, ok := reg.Lookup(id)
		if !ok || !d.ExternalSync() {
			continue
		}
		rec.Props[id] = v
	}

	return p.PutRecord(ctx, rec)
}

// PutRecord writes rec as is, replacing any stored record with the same
// id.
func (p *ObjectPersister) PutRecord(ctx context.Context, rec *Record) error {
	data, err := p.encode(rec)
	if err != nil {
		return err
	}
	if err := p.kv.Set(ctx, recordKey(rec.ID), data); err != nil {
		return domain.ErrStorageError.WithCause(err)
	}
	return nil
}

// PutRecords writes recs in one batch. It is how snapshots are restored;
// a failed batch may be partially applied and can simply be retried.
func (p *ObjectPersister) PutRecords(ctx context.Context, recs []*Record) error {
	entries := make([]Entry, 0, len(recs))
	for _, rec := range recs {
		data, err := p.encode(rec)
		if err != nil {
			return err
		}
		entries = append(entries, Entry{Key: recordKey(rec.ID), Value: data})
	}
	if err := p.kv.SetBatch(ctx, entries); err != nil {
		return domain.ErrStorageError.WithCause(err)
	}
	return nil
}

// Count returns the number of persisted records without decoding them.
func (p *ObjectPersister) Count(ctx context.Context) (int, error) {
	n, err := p.kv.Count(ctx, []byte(recordPrefix))
	if err != nil {
		return 0, domain.ErrStorageError.WithCause(err)
	}
	return n, nil
}

func (p *ObjectPersister) encode(rec *Record) ([]byte, error) {
	data, err := EncodeRecord(rec)
	if err != nil {
		return nil, fmt.Errorf("record %s: %w", rec.ID, err)
	}
	if p.sealer == nil {
		return data, nil
	}
	id := rec.ID
	sealed, err := p.sealer.Seal(data, id[:])
	if err != nil {
		return nil, fmt.Errorf("seal record %s: %w", rec.ID, err)
	}
	return sealed, nil
}

// Load restores the persisted values of obj as remote writes, producing
// no outbound deltas, and marks obj clean. It reports whether a record
// existed. Values that no longer fit their property are skipped.
func (p *ObjectPersister) Load(ctx context.Context, obj *replica.Object) (bool, error) {
	id := obj.ID()
	data, err := p.kv.Get(ctx, recordKey(id))
	if errors.Is(err, ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, domain.ErrStorageError.WithCause(err)
	}

	rec, err := p.decode(id, data)
	if err != nil {
		return false, err
	}

	for pid, v := range rec.Props {
		if err := obj.ApplyDelta(replica.SetDelta(pid, v)); err != nil {
			p.logger.Warn("skipping persisted property",
				"object_id", id.String(),
				"property_id", pid.String(),
				"error", err)
		}
	}
	obj.MarkClean()
	return true, nil
}

// Records calls fn for every persisted record until fn returns false.
func (p *ObjectPersister) Records(ctx context.Context, fn func(*Record) bool) error {
	var decodeErr error
	err := p.kv.Scan(ctx, []byte(recordPrefix), func(key, value []byte) bool {
		id, err := domain.ParseObjectID(string(key[len(recordPrefix):]))
		if err != nil {
			decodeErr = fmt.Errorf("record key %q: %w", key, err)
			return false
		}
		rec, err := p.decode(id, value)
		if err != nil {
			decodeErr = err
			return false
		}
		return fn(rec)
	})
	if err != nil {
		return domain.ErrStorageError.WithCause(err)
	}
	return decodeErr
}

// Delete removes the record of id. Deleting a missing record is not an
// error.
func (p *ObjectPersister) Delete(ctx context.Context, id domain.ObjectID) error {
	if err := p.kv.Delete(ctx, recordKey(id)); err != nil {
		return domain.ErrStorageError.WithCause(err)
	}
	return nil
}

func (p *ObjectPersister) decode(id domain.ObjectID, data []byte) (*Record, error) {
	if adaptive.IsSealed(data) {
		if p.sealer == nil {
			return nil, fmt.Errorf("record %s: %w", id, ErrEncryptedRecord)
		}
		plain, err := p.sealer.Open(data, id[:])
		if err != nil {
			return nil, fmt.Errorf("open record %s: %w", id, err)
		}
		data = plain
	}

	rec, err := DecodeRecord(data)
	if err != nil {
		return nil, fmt.Errorf("record %s: %w", id, err)
	}
	if rec.ID != id {
		return nil, fmt.Errorf("record %s: stored id %s does not match key", id, rec.ID)
	}
	return rec, nil
}

func recordKey(id domain.ObjectID) []byte {
	return []byte(recordPrefix + id.String())
}
