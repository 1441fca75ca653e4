package benchmark

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"runtime"
	"testing"
	"time"

	"github.com/yndnr/deltamesh-go/internal/core/domain"
	"github.com/yndnr/deltamesh-go/internal/core/replica"
	"github.com/yndnr/deltamesh-go/internal/storage"
	"github.com/yndnr/deltamesh-go/internal/storage/memory"
)

// ObjectCounts are the directory sizes used by scale benchmarks.
var ObjectCounts = []int{1000, 10000, 50000}

// SmallObjectCounts keep disk-bound benchmarks quick.
var SmallObjectCounts = []int{100, 1000, 5000}

type playerProps struct {
	reg   *replica.Registry
	score *replica.Property[int64]
	coins *replica.Property[uint64]
	name  *replica.Property[string]
	hp    *replica.Property[float64]
}

func newPlayerProps() playerProps {
	reg := replica.NewRegistry()
	return playerProps{
		reg:   reg,
		score: replica.MustRegister(reg, "Player", "score", replica.PropertyOptions[int64]{ExternalSync: true, Batching: true}),
		coins: replica.MustRegister(reg, "Player", "coins", replica.PropertyOptions[uint64]{ExternalSync: true}),
		name:  replica.MustRegister(reg, "Player", "name", replica.PropertyOptions[string]{ExternalSync: true}),
		hp:    replica.MustRegister(reg, "Player", "hp", replica.PropertyOptions[float64]{Default: 100}),
	}
}

// newPlayer creates an object with every property set.
func (p playerProps) newPlayer(i int) *replica.Object {
	obj := replica.New(replica.WithRegistry(p.reg), replica.WithKey(int64(i)))
	p.score.Set(obj, int64(i))
	p.coins.Set(obj, uint64(i*10))
	p.name.Set(obj, fmt.Sprintf("player-%d", i))
	p.hp.Set(obj, 42.5)
	return obj
}

// prefillDirectory registers count objects, one client per 10 objects.
func prefillDirectory(dir *memory.Directory, props playerProps, count int) []*replica.Object {
	objs := make([]*replica.Object, count)
	clients := make([]domain.ClientID, count/10+1)
	for i := range clients {
		clients[i] = domain.NewClientID()
	}
	for i := range count {
		objs[i] = dir.Register(clients[i/10], props.newPlayer(i))
	}
	return objs
}

func newBenchEngine(b *testing.B) *storage.BadgerEngine {
	b.Helper()
	cfg := storage.DefaultKVConfig(b.TempDir())
	cfg.Badger.GCInterval = time.Hour
	cfg.Badger.SyncWrites = false

	quiet := slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
	engine, err := storage.NewBadgerEngine(cfg, quiet)
	if err != nil {
		b.Fatalf("NewBadgerEngine() error = %v", err)
	}
	b.Cleanup(func() { engine.Close() })
	return engine
}

func newBenchPersister(b *testing.B, opts ...storage.PersisterOption) *storage.ObjectPersister {
	b.Helper()
	p, err := storage.NewObjectPersister(context.Background(), newBenchEngine(b), opts...)
	if err != nil {
		b.Fatalf("NewObjectPersister() error = %v", err)
	}
	return p
}

// reportMemory reports heap usage after a GC.
func reportMemory(b *testing.B, prefix string) {
	var m runtime.MemStats
	runtime.GC()
	runtime.ReadMemStats(&m)
	b.ReportMetric(float64(m.Alloc)/(1024*1024), prefix+"_MB")
	b.ReportMetric(float64(m.NumGC), prefix+"_GC")
}

// runWithObjectCounts runs benchFn once per count.
func runWithObjectCounts(b *testing.B, counts []int, benchFn func(b *testing.B, count int)) {
	for _, count := range counts {
		b.Run(fmt.Sprintf("objects_%d", count), func(b *testing.B) {
			benchFn(b, count)
		})
	}
}
