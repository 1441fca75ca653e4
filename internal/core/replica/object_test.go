// Package replica implements the replicated, delta-tracked object model.
package replica

import (
	"errors"
	"fmt"
	"math"
	"reflect"
	"sync"
	"testing"

	"github.com/yndnr/deltamesh-go/internal/core/domain"
)

type recordingSink struct {
	mu     sync.Mutex
	pushed []string
}

func (s *recordingSink) Push(key string, value any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pushed = append(s.pushed, fmt.Sprintf("%s=%v", key, value))
	return nil
}

func (s *recordingSink) values() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.pushed...)
}

func TestObject_SetGet(t *testing.T) {
	reg := NewRegistry()
	score := MustRegister(reg, "Player", "Score", PropertyOptions[int]{})
	name := MustRegister(reg, "Player", "Name", PropertyOptions[string]{Default: "anonymous"})

	obj := New(WithRegistry(reg))

	if got := score.Get(obj); got != 0 {
		t.Errorf("Get() on fresh object = %d, want default", got)
	}
	if got := name.Get(obj); got != "anonymous" {
		t.Errorf("Get() on fresh object = %q, want default", got)
	}

	score.Set(obj, 10)
	name.Set(obj, "ada")
	if got := score.Get(obj); got != 10 {
		t.Errorf("Get() = %d, want 10", got)
	}
	if got := name.Get(obj); got != "ada" {
		t.Errorf("Get() = %q, want ada", got)
	}
	if obj.Len() != 2 {
		t.Errorf("Len() = %d, want 2", obj.Len())
	}

	score.Set(obj, 0)
	name.Set(obj, "anonymous")
	if got := score.Get(obj); got != 0 {
		t.Errorf("Get() after default write = %d", got)
	}
	snapshot := obj.NonDefaultSnapshot()
	if len(snapshot) != 0 {
		t.Errorf("NonDefaultSnapshot() = %v, want empty", snapshot)
	}
}

func TestObject_Identity(t *testing.T) {
	a := New()
	b := New()
	if a.ID().IsZero() || a.ID() == b.ID() {
		t.Error("generated identities must be non-zero and distinct")
	}

	keyed := New(WithKey(int64(42)))
	if keyed.ID() != domain.DeriveObjectID(int64(42)) {
		t.Error("WithKey() did not derive the identity from the key")
	}

	id := domain.NewObjectID()
	if New(WithID(id)).ID() != id {
		t.Error("WithID() not honoured")
	}
}

func TestObject_Validation(t *testing.T) {
	reg := NewRegistry()
	health := MustRegister(reg, "Player", "Health", PropertyOptions[int]{
		Default:    100,
		Batching:   true,
		OnValidate: func(v int) bool { return v >= 0 },
	})
	obj := New(WithRegistry(reg), WithBatchInterval(10))

	health.Set(obj, -5)
	if got := health.Get(obj); got != 100 {
		t.Errorf("rejected write changed state: %d", got)
	}
	if obj.IsDirty() || obj.PendingCount() != 0 {
		t.Error("rejected write must not mark dirty or queue a delta")
	}

	health.Set(obj, 40)
	if got := health.Get(obj); got != 40 {
		t.Errorf("Get() = %d, want 40", got)
	}

	// Remote writes are not validated.
	health.SetFromRemote(obj, -1)
	if got := health.Get(obj); got != -1 {
		t.Errorf("SetFromRemote() value = %d, want -1", got)
	}
}

func TestObject_ClearSkipsValidation(t *testing.T) {
	reg := NewRegistry()
	level := MustRegister(reg, "Player", "Level", PropertyOptions[int]{
		Default:    1,
		OnValidate: func(v int) bool { return v > 1 },
	})
	obj := New(WithRegistry(reg))

	level.Set(obj, 5)
	level.Clear(obj)
	if got := level.Get(obj); got != 1 {
		t.Errorf("Clear() left %d, want default", got)
	}
	if obj.Len() != 0 {
		t.Error("Clear() must remove the stored entry")
	}
}

func TestObject_ApplyDelta_Idempotent(t *testing.T) {
	reg := NewRegistry()
	score := MustRegister(reg, "Player", "Score", PropertyOptions[int]{Batching: true})

	tests := []struct {
		name  string
		setup int
		delta Delta
	}{
		{name: "set on fresh", delta: score.SetDelta(5)},
		{name: "set over value", setup: 3, delta: score.SetDelta(5)},
		{name: "reset on fresh", delta: score.ResetDelta()},
		{name: "reset over value", setup: 3, delta: score.ResetDelta()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			once := New(WithRegistry(reg))
			twice := New(WithRegistry(reg))
			if tt.setup != 0 {
				score.SetFromRemote(once, tt.setup)
				score.SetFromRemote(twice, tt.setup)
			}

			if err := once.ApplyDelta(tt.delta); err != nil {
				t.Fatalf("ApplyDelta() error = %v", err)
			}
			if err := twice.ApplyDelta(tt.delta); err != nil {
				t.Fatalf("ApplyDelta() error = %v", err)
			}
			v := twice.Version()
			if err := twice.ApplyDelta(tt.delta); err != nil {
				t.Fatalf("ApplyDelta() error = %v", err)
			}

			if !reflect.DeepEqual(once.NonDefaultSnapshot(), twice.NonDefaultSnapshot()) {
				t.Errorf("state differs: once=%v twice=%v", once.NonDefaultSnapshot(), twice.NonDefaultSnapshot())
			}
			if twice.Version() != v {
				t.Error("second application counted as a change")
			}
			if twice.PendingCount() != 0 {
				t.Error("inbound deltas must not enter the outbound queue")
			}
		})
	}
}

func TestObject_ApplyDelta_Coercion(t *testing.T) {
	reg := NewRegistry()
	score := MustRegister(reg, "Player", "Score", PropertyOptions[int64]{})
	obj := New(WithRegistry(reg))

	if err := obj.ApplyDelta(SetDelta(score.ID(), float64(7))); err != nil {
		t.Fatalf("ApplyDelta(float64) error = %v", err)
	}
	if got := score.Get(obj); got != 7 {
		t.Errorf("Get() = %d, want 7", got)
	}

	if err := obj.ApplyDelta(SetDelta(score.ID(), "12")); err != nil {
		t.Fatalf("ApplyDelta(string) error = %v", err)
	}
	if got := score.Get(obj); got != 12 {
		t.Errorf("Get() = %d, want 12", got)
	}

	err := obj.ApplyDelta(SetDelta(score.ID(), "twelve"))
	if !errors.Is(err, domain.ErrPropertyTypeMismatch) {
		t.Fatalf("ApplyDelta(bad) error = %v, want ErrPropertyTypeMismatch", err)
	}
	if got := score.Get(obj); got != 12 {
		t.Errorf("failed delta changed state: %d", got)
	}
}

func TestObject_ApplyDelta_UnknownProperty(t *testing.T) {
	obj := New(WithRegistry(NewRegistry()))
	if err := obj.ApplyDelta(SetDelta(PropertyIDOf("Ghost", "Prop"), 1)); err != nil {
		t.Errorf("ApplyDelta() error = %v, want nil", err)
	}
	if obj.Len() != 0 || obj.IsDirty() {
		t.Error("unknown property must be a no-op")
	}
}

func TestObject_DrainDeltas_Compacts(t *testing.T) {
	reg := NewRegistry()
	score := MustRegister(reg, "Player", "Score", PropertyOptions[int]{Batching: true})
	obj := New(WithRegistry(reg), WithBatchInterval(100))

	score.Set(obj, 1)
	score.Set(obj, 2)
	score.Set(obj, 3)

	if obj.PendingCount() != 3 {
		t.Errorf("PendingCount() = %d, want 3", obj.PendingCount())
	}
	got := obj.DrainDeltas()
	want := []Delta{SetDelta(score.ID(), 3)}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("DrainDeltas() = %v, want %v", got, want)
	}
	if rest := obj.DrainDeltas(); len(rest) != 0 {
		t.Errorf("second DrainDeltas() = %v, want empty", rest)
	}
}

func TestObject_ScoreScenario(t *testing.T) {
	reg := NewRegistry()
	score := MustRegister(reg, "Player", "Score", PropertyOptions[int]{Default: 0, Batching: true})
	obj := New(WithRegistry(reg), WithKey(int64(42)), WithBatchInterval(1))

	score.Set(obj, 5)
	if got := score.Get(obj); got != 5 {
		t.Fatalf("Get() = %d, want 5", got)
	}
	if got, want := obj.DrainDeltas(), []Delta{SetDelta(score.ID(), 5)}; !reflect.DeepEqual(got, want) {
		t.Fatalf("DrainDeltas() = %v, want %v", got, want)
	}

	score.Set(obj, 0)
	if got := score.Get(obj); got != 0 {
		t.Fatalf("Get() = %d, want 0", got)
	}
	if snap := obj.NonDefaultSnapshot(); len(snap) != 0 {
		t.Fatalf("NonDefaultSnapshot() = %v, want empty", snap)
	}
	if got, want := obj.DrainDeltas(), []Delta{ResetDelta(score.ID())}; !reflect.DeepEqual(got, want) {
		t.Fatalf("DrainDeltas() = %v, want %v", got, want)
	}
}

func TestObject_DrainConcurrentWithWrites(t *testing.T) {
	reg := NewRegistry()
	const props = 64
	descs := make([]*Property[int], props)
	for i := range descs {
		descs[i] = MustRegister(reg, "Grid", fmt.Sprintf("Cell%d", i), PropertyOptions[int]{Batching: true})
	}
	obj := New(WithRegistry(reg), WithBatchInterval(1000))

	seen := make(map[PropertyID]int)
	collect := func(ds []Delta) {
		for _, d := range ds {
			seen[d.Property]++
		}
	}

	var writers sync.WaitGroup
	done := make(chan struct{})
	drained := make(chan struct{})

	go func() {
		defer close(drained)
		for {
			select {
			case <-done:
				return
			default:
				collect(obj.DrainDeltas())
			}
		}
	}()

	for _, p := range descs {
		writers.Add(1)
		go func(p *Property[int]) {
			defer writers.Done()
			p.Set(obj, 1)
		}(p)
	}
	writers.Wait()
	close(done)
	<-drained
	collect(obj.DrainDeltas())

	if len(seen) != props {
		t.Fatalf("saw %d properties, want %d", len(seen), props)
	}
	for id, n := range seen {
		if n != 1 {
			t.Errorf("property %s drained %d times", id, n)
		}
	}
}

func TestObject_ConcurrentWritesSameProperty(t *testing.T) {
	reg := NewRegistry()
	counter := MustRegister(reg, "Player", "Counter", PropertyOptions[int]{Batching: true})
	obj := New(WithRegistry(reg), WithBatchInterval(1_000_000))

	var wg sync.WaitGroup
	for i := 1; i <= 50; i++ {
		wg.Add(1)
		go func(v int) {
			defer wg.Done()
			counter.Set(obj, v)
		}(i)
	}
	wg.Wait()

	final := counter.Get(obj)
	deltas := obj.DrainDeltas()
	if len(deltas) != 1 {
		t.Fatalf("DrainDeltas() len = %d, want 1", len(deltas))
	}
	if deltas[0].Value != final {
		t.Errorf("last queued delta = %v, stored value = %d", deltas[0].Value, final)
	}
}

func TestObject_BatchInterval(t *testing.T) {
	reg := NewRegistry()
	score := MustRegister(reg, "Player", "Score", PropertyOptions[int]{Batching: true})
	mood := MustRegister(reg, "Player", "Mood", PropertyOptions[string]{})
	obj := New(WithRegistry(reg), WithBatchInterval(3))

	score.Set(obj, 1)
	score.Set(obj, 2)
	mood.Set(obj, "happy")

	if obj.ChangeCount() != 2 {
		t.Errorf("ChangeCount() = %d, want 2", obj.ChangeCount())
	}
	select {
	case <-obj.BatchReady():
		t.Fatal("batch signalled before the interval was reached")
	default:
	}

	score.Set(obj, 3)
	if obj.ChangeCount() != 0 {
		t.Errorf("ChangeCount() = %d, want reset to 0", obj.ChangeCount())
	}
	select {
	case <-obj.BatchReady():
	default:
		t.Fatal("batch not signalled at the interval")
	}

	// Draining is independent of the threshold.
	score.Set(obj, 4)
	if got := obj.DrainDeltas(); len(got) != 1 || got[0].Value != 4 {
		t.Errorf("DrainDeltas() = %v", got)
	}
}

func TestObject_ZeroIntervalDeliversImmediately(t *testing.T) {
	reg := NewRegistry()
	score := MustRegister(reg, "Player", "Score", PropertyOptions[int]{Batching: true})

	var got []Delta
	obj := New(WithRegistry(reg), WithDeltaHandler(func(_ *Object, d Delta) {
		got = append(got, d)
	}))

	score.Set(obj, 9)
	score.Clear(obj)

	want := []Delta{SetDelta(score.ID(), 9), ResetDelta(score.ID())}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("handler received %v, want %v", got, want)
	}
	if obj.PendingCount() != 0 {
		t.Error("zero interval must not queue deltas")
	}
	if !obj.IsDirty() {
		t.Error("writes must mark the object dirty")
	}
}

func TestObject_Dirty(t *testing.T) {
	reg := NewRegistry()
	score := MustRegister(reg, "Player", "Score", PropertyOptions[int]{})
	obj := New(WithRegistry(reg))

	if obj.IsDirty() {
		t.Fatal("fresh object is dirty")
	}

	score.Set(obj, 1)
	if !obj.IsDirty() {
		t.Fatal("Set() did not mark dirty")
	}

	v := obj.Version()
	score.Set(obj, 2)
	obj.MarkPersisted(v)
	if !obj.IsDirty() {
		t.Error("change after the flushed version must stay dirty")
	}

	obj.MarkPersisted(obj.Version())
	if obj.IsDirty() {
		t.Error("MarkPersisted(current) left the object dirty")
	}

	obj.MarkPersisted(v)
	if obj.IsDirty() {
		t.Error("older MarkPersisted must not move the watermark back")
	}

	score.Set(obj, 2)
	if obj.IsDirty() {
		t.Error("writing the same value is not a change")
	}

	score.SetFromRemote(obj, 3)
	if !obj.IsDirty() {
		t.Error("remote writes must mark dirty")
	}
	obj.MarkClean()
	if obj.IsDirty() {
		t.Error("MarkClean() left the object dirty")
	}
}

func TestObject_NaNDefaultElided(t *testing.T) {
	reg := NewRegistry()
	ratio := MustRegister(reg, "Player", "Ratio", PropertyOptions[float64]{Default: math.NaN(), Batching: true})
	obj := New(WithRegistry(reg), WithBatchInterval(10))

	ratio.Clear(obj)
	ratio.Set(obj, math.NaN())
	if obj.Len() != 0 || len(obj.NonDefaultSnapshot()) != 0 {
		t.Errorf("NaN default stored: Len() = %d, snapshot %v", obj.Len(), obj.NonDefaultSnapshot())
	}
	if obj.PendingCount() != 0 || obj.IsDirty() {
		t.Errorf("writing the NaN default counted as a change: pending %d, dirty %v", obj.PendingCount(), obj.IsDirty())
	}

	ratio.Set(obj, 0.5)
	ratio.Set(obj, math.NaN())
	if obj.Len() != 0 {
		t.Errorf("Len() after returning to the default = %d, want 0", obj.Len())
	}
	if obj.PendingCount() != 2 {
		t.Errorf("PendingCount() = %d, want 2", obj.PendingCount())
	}
	want := []Delta{ResetDelta(ratio.ID())}
	if got := obj.DrainDeltas(); !reflect.DeepEqual(got, want) {
		t.Errorf("DrainDeltas() = %v, want %v", got, want)
	}

	other := MustRegister(reg, "Player", "Drift", PropertyOptions[float64]{})
	other.Set(obj, math.NaN())
	v := obj.Version()
	other.Set(obj, math.NaN())
	if obj.Version() != v {
		t.Error("rewriting a stored NaN counted as a change")
	}
}

func TestObject_Sink(t *testing.T) {
	reg := NewRegistry()
	var updated []int
	score := MustRegister(reg, "Player", "Score", PropertyOptions[int]{
		SinkKey:      "score",
		OnSinkUpdate: func(v int) { updated = append(updated, v) },
	})
	obj := New(WithRegistry(reg))

	score.Set(obj, 1)

	sink := &recordingSink{}
	if !obj.BindSink(sink, nil) {
		t.Fatal("first BindSink() returned false")
	}
	if obj.BindSink(&recordingSink{}, nil) {
		t.Error("second BindSink() must not rebind")
	}
	if !obj.SinkBound() {
		t.Error("SinkBound() = false")
	}

	score.Set(obj, 2)
	score.SetFromRemote(obj, 3)
	score.Clear(obj)
	score.Clear(obj)

	want := []string{"score=2", "score=3", "score=0"}
	if got := sink.values(); !reflect.DeepEqual(got, want) {
		t.Errorf("sink received %v, want %v", got, want)
	}
	if !reflect.DeepEqual(updated, []int{2, 3, 0}) {
		t.Errorf("OnSinkUpdate received %v", updated)
	}
}

func TestObject_SinkFailuresIgnored(t *testing.T) {
	reg := NewRegistry()
	score := MustRegister(reg, "Player", "Score", PropertyOptions[int]{})

	failing := New(WithRegistry(reg))
	failing.BindSink(SinkFunc(func(string, any) error { return errors.New("closed") }), nil)
	score.Set(failing, 1)

	panicking := New(WithRegistry(reg))
	panicking.BindSink(SinkFunc(func(string, any) error { panic("boom") }), InlineExecutor)
	score.Set(panicking, 1)

	if score.Get(failing) != 1 || score.Get(panicking) != 1 {
		t.Error("sink failure affected the stored value")
	}
}

func TestObject_GoExecutor(t *testing.T) {
	reg := NewRegistry()
	score := MustRegister(reg, "Player", "Score", PropertyOptions[int]{})
	obj := New(WithRegistry(reg))

	got := make(chan string, 1)
	obj.BindSink(SinkFunc(func(key string, value any) error {
		got <- fmt.Sprintf("%s=%v", key, value)
		return nil
	}), GoExecutor)

	score.Set(obj, 8)
	if v := <-got; v != "Score=8" {
		t.Errorf("sink received %q", v)
	}
}

// OnChanged fires only when a sink is bound and the property held a stored
// value before the write. The first write after binding is not reported.
func TestObject_OnChangedRequiresPreviousValue(t *testing.T) {
	reg := NewRegistry()
	type change struct{ old, new int }
	var changes []change
	score := MustRegister(reg, "Player", "Score", PropertyOptions[int]{
		OnChanged: func(old, new int) { changes = append(changes, change{old, new}) },
	})

	unbound := New(WithRegistry(reg))
	score.Set(unbound, 1)
	score.Set(unbound, 2)
	if len(changes) != 0 {
		t.Fatalf("OnChanged fired without a sink: %v", changes)
	}

	obj := New(WithRegistry(reg))
	obj.BindSink(&recordingSink{}, nil)

	score.Set(obj, 5)
	if len(changes) != 0 {
		t.Fatalf("first write reported as a change: %v", changes)
	}

	score.Set(obj, 7)
	score.Clear(obj)
	score.SetFromRemote(obj, 4)
	if err := obj.ApplyDelta(SetDelta(score.ID(), 9)); err != nil {
		t.Fatalf("ApplyDelta() error = %v", err)
	}
	if err := obj.ApplyDelta(ResetDelta(score.ID())); err != nil {
		t.Fatalf("ApplyDelta() error = %v", err)
	}

	want := []change{{5, 7}, {7, 0}}
	if !reflect.DeepEqual(changes, want) {
		t.Errorf("OnChanged calls = %v, want %v", changes, want)
	}
}

func TestObject_SnapshotBootstrap(t *testing.T) {
	reg := NewRegistry()
	score := MustRegister(reg, "Player", "Score", PropertyOptions[int]{})
	name := MustRegister(reg, "Player", "Name", PropertyOptions[string]{})
	alive := MustRegister(reg, "Player", "Alive", PropertyOptions[bool]{Default: true})

	src := New(WithRegistry(reg))
	score.Set(src, 12)
	name.Set(src, "ada")
	alive.Set(src, false)

	dst := New(WithRegistry(reg))
	if err := dst.ApplySnapshot(src.NonDefaultSnapshot()); err != nil {
		t.Fatalf("ApplySnapshot() error = %v", err)
	}
	if !reflect.DeepEqual(src.NonDefaultSnapshot(), dst.NonDefaultSnapshot()) {
		t.Errorf("snapshot mismatch: %v vs %v", src.NonDefaultSnapshot(), dst.NonDefaultSnapshot())
	}
	if alive.Get(dst) {
		t.Error("non-default false was not applied")
	}
}
