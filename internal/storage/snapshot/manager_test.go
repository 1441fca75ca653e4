package snapshot

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/yndnr/deltamesh-go/internal/core/domain"
	"github.com/yndnr/deltamesh-go/internal/core/replica"
	"github.com/yndnr/deltamesh-go/internal/storage"
)

func testRecords(n int) []*storage.Record {
	records := make([]*storage.Record, n)
	for i := range n {
		records[i] = &storage.Record{
			ID:        domain.DeriveObjectID(int64(i)),
			Version:   uint64(i + 1),
			UpdatedAt: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
			Props: map[replica.PropertyID]any{
				replica.PropertyID(0xA1): "name",
				replica.PropertyID(0xB2): float64(i),
			},
		}
	}
	return records
}

func newTestManager(t *testing.T, cfg Config) *Manager {
	t.Helper()
	if cfg.Dir == "" {
		cfg.Dir = filepath.Join(t.TempDir(), "snapshots")
	}
	m, err := NewManager(cfg)
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}
	return m
}

func TestManager_CreateLoad(t *testing.T) {
	tests := []struct {
		name string
		enc  Encryption
	}{
		{"plain", Encryption{}},
		{"key", Encryption{Key: bytes.Repeat([]byte{0xA0}, 32)}},
		{"passphrase", Encryption{Passphrase: []byte("correct horse")}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := newTestManager(t, Config{Encryption: tt.enc, NodeID: "n1"})

			info, err := m.Create(testRecords(3))
			if err != nil {
				t.Fatalf("Create() error = %v", err)
			}
			if info.Objects != 3 || info.Encrypted != tt.enc.enabled() || info.NodeID != "n1" {
				t.Errorf("Create() info = %+v", info)
			}

			got, loaded, err := m.Load()
			if err != nil {
				t.Fatalf("Load() error = %v", err)
			}
			if loaded.ID != info.ID || loaded.Checksum != info.Checksum {
				t.Errorf("Load() info = %+v, want %+v", loaded, info)
			}
			if len(got) != 3 {
				t.Fatalf("Load() = %d records, want 3", len(got))
			}
			want := testRecords(3)
			for i, rec := range got {
				if rec.ID != want[i].ID || rec.Version != want[i].Version {
					t.Errorf("record %d = %s/%d, want %s/%d", i, rec.ID, rec.Version, want[i].ID, want[i].Version)
				}
				if rec.Props[replica.PropertyID(0xA1)] != "name" {
					t.Errorf("record %d props = %v", i, rec.Props)
				}
			}
		})
	}
}

func TestManager_CreateEmpty(t *testing.T) {
	m := newTestManager(t, Config{})
	if _, err := m.Create(nil); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	got, info, err := m.Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(got) != 0 || info.Objects != 0 {
		t.Errorf("Load() = %d records, info %+v", len(got), info)
	}
}

func TestManager_Open(t *testing.T) {
	m := newTestManager(t, Config{})
	first, err := m.Create(testRecords(1))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := m.Create(testRecords(2)); err != nil {
		t.Fatal(err)
	}

	got, info, err := m.Open(first.ID)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if info.ID != first.ID || len(got) != 1 {
		t.Errorf("Open() = %d records, info %+v", len(got), info)
	}

	for _, id := range []string{"snapshot-01HQ3Z8Y6W0000000000000000", "snapshot-../../etc/passwd", "../etc/passwd", "nope"} {
		if _, _, err := m.Open(id); !errors.Is(err, domain.ErrSnapshotNotFound) {
			t.Errorf("Open(%q) error = %v, want ErrSnapshotNotFound", id, err)
		}
	}
}

func TestManager_LoadFallsBackOnCorruption(t *testing.T) {
	m := newTestManager(t, Config{})
	good, err := m.Create(testRecords(2))
	if err != nil {
		t.Fatal(err)
	}
	bad, err := m.Create(testRecords(1))
	if err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(bad.Path)
	if err != nil {
		t.Fatal(err)
	}
	data[len(data)/2] ^= 0xFF
	if err := os.WriteFile(bad.Path, data, 0o600); err != nil {
		t.Fatal(err)
	}

	if _, _, err := m.Open(bad.ID); !errors.Is(err, domain.ErrSnapshotCorrupt) {
		t.Errorf("Open(corrupt) error = %v, want ErrSnapshotCorrupt", err)
	}

	got, info, err := m.Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if info.ID != good.ID || len(got) != 2 {
		t.Errorf("Load() = %s with %d records, want %s", info.ID, len(got), good.ID)
	}
}

func TestManager_LoadErrors(t *testing.T) {
	t.Run("empty dir", func(t *testing.T) {
		m := newTestManager(t, Config{})
		if _, _, err := m.Load(); !errors.Is(err, domain.ErrSnapshotNotFound) {
			t.Errorf("Load() error = %v, want ErrSnapshotNotFound", err)
		}
	})

	t.Run("all corrupt", func(t *testing.T) {
		m := newTestManager(t, Config{})
		if err := os.MkdirAll(m.Dir(), 0o750); err != nil {
			t.Fatal(err)
		}
		path := filepath.Join(m.Dir(), "snapshot-01HQ3Z8Y6W0000000000000000.snap")
		if err := os.WriteFile(path, bytes.Repeat([]byte("x"), 100), 0o600); err != nil {
			t.Fatal(err)
		}
		if _, _, err := m.Load(); !errors.Is(err, domain.ErrSnapshotNotFound) {
			t.Errorf("Load() error = %v, want ErrSnapshotNotFound", err)
		}
	})

	t.Run("encrypted without key", func(t *testing.T) {
		dir := filepath.Join(t.TempDir(), "snapshots")
		sealed := newTestManager(t, Config{Dir: dir, Encryption: Encryption{Passphrase: []byte("correct horse")}})
		if _, err := sealed.Create(testRecords(1)); err != nil {
			t.Fatal(err)
		}

		plain := newTestManager(t, Config{Dir: dir})
		if _, _, err := plain.Load(); !errors.Is(err, ErrEncrypted) {
			t.Errorf("Load() error = %v, want ErrEncrypted", err)
		}
		keyed := newTestManager(t, Config{Dir: dir, Encryption: Encryption{Key: bytes.Repeat([]byte{1}, 32)}})
		if _, _, err := keyed.Load(); !errors.Is(err, ErrEncrypted) {
			t.Errorf("Load() with key error = %v, want ErrEncrypted", err)
		}
	})

	t.Run("wrong key", func(t *testing.T) {
		dir := filepath.Join(t.TempDir(), "snapshots")
		sealed := newTestManager(t, Config{Dir: dir, Encryption: Encryption{Key: bytes.Repeat([]byte{1}, 32)}})
		if _, err := sealed.Create(testRecords(1)); err != nil {
			t.Fatal(err)
		}
		other := newTestManager(t, Config{Dir: dir, Encryption: Encryption{Key: bytes.Repeat([]byte{2}, 32)}})
		if _, _, err := other.Load(); err == nil {
			t.Error("Load() with the wrong key succeeded")
		}
	})

	t.Run("plain with key", func(t *testing.T) {
		dir := filepath.Join(t.TempDir(), "snapshots")
		if _, err := newTestManager(t, Config{Dir: dir}).Create(testRecords(1)); err != nil {
			t.Fatal(err)
		}
		keyed := newTestManager(t, Config{Dir: dir, Encryption: Encryption{Key: bytes.Repeat([]byte{1}, 32)}})
		if _, _, err := keyed.Load(); !errors.Is(err, ErrNotEncrypted) {
			t.Errorf("Load() error = %v, want ErrNotEncrypted", err)
		}
	})
}

func TestManager_List(t *testing.T) {
	m := newTestManager(t, Config{})
	if infos, err := m.List(); err != nil || len(infos) != 0 {
		t.Fatalf("List() on missing dir = %v, %v", infos, err)
	}

	for i := 1; i <= 3; i++ {
		if _, err := m.Create(testRecords(i)); err != nil {
			t.Fatal(err)
		}
	}
	for _, name := range []string{"notes.txt", "snapshot-latest.snap"} {
		if err := os.WriteFile(filepath.Join(m.Dir(), name), []byte("x"), 0o600); err != nil {
			t.Fatal(err)
		}
	}

	infos, err := m.List()
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(infos) != 3 {
		t.Fatalf("List() = %d snapshots, want 3", len(infos))
	}
	for i, info := range infos {
		if info.Objects != i+1 {
			t.Errorf("infos[%d].Objects = %d, want %d", i, info.Objects, i+1)
		}
		if i > 0 && infos[i-1].ID >= info.ID {
			t.Errorf("List() not ordered: %s before %s", infos[i-1].ID, info.ID)
		}
	}
}

func TestManager_Prune(t *testing.T) {
	tests := []struct {
		name     string
		count    int
		days     int
		age      time.Duration
		wantLeft int
	}{
		{"count keeps newest", 2, -1, 0, 2},
		{"recent files kept by days", 1, 7, 0, 4},
		{"old files pruned by days", 1, 7, 30 * 24 * time.Hour, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := newTestManager(t, Config{RetentionCount: tt.count, RetentionDays: tt.days})
			m.now = func() time.Time { return time.Now().Add(-tt.age) }
			for range 4 {
				if _, err := m.Create(testRecords(1)); err != nil {
					t.Fatal(err)
				}
			}
			m.now = time.Now

			removed, err := m.Prune()
			if err != nil {
				t.Fatalf("Prune() error = %v", err)
			}
			infos, _ := m.List()
			if len(infos) != tt.wantLeft || len(removed) != 4-tt.wantLeft {
				t.Errorf("Prune() left %d removed %d, want left %d", len(infos), len(removed), tt.wantLeft)
			}
		})
	}
}

func TestNewManager_Invalid(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
	}{
		{"empty dir", Config{}},
		{"key and passphrase", Config{Dir: "x", Encryption: Encryption{Key: make([]byte, 32), Passphrase: []byte("long enough")}}},
		{"weak passphrase", Config{Dir: "x", Encryption: Encryption{Passphrase: []byte("short")}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewManager(tt.cfg); err == nil {
				t.Error("NewManager() expected error")
			}
		})
	}
}

func TestNewManager_Defaults(t *testing.T) {
	m := newTestManager(t, Config{})
	if m.cfg.RetentionCount != DefaultRetentionCount || m.cfg.RetentionDays != DefaultRetentionDays {
		t.Errorf("retention = %d/%d", m.cfg.RetentionCount, m.cfg.RetentionDays)
	}
}

func TestNewID(t *testing.T) {
	at := time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC)
	a, b := newID(at), newID(at)
	if !validID(a) || !validID(b) {
		t.Fatalf("newID() = %q, %q", a, b)
	}
	if a >= b {
		t.Errorf("ids from the same instant not increasing: %q, %q", a, b)
	}
	if later := newID(at.Add(time.Millisecond)); later <= b {
		t.Errorf("later id %q sorts before %q", later, b)
	}

	if got := createdAt(&Info{ID: a}); !got.Equal(at) {
		t.Errorf("createdAt() from id = %v, want %v", got, at)
	}
	header := at.Add(time.Hour)
	if got := createdAt(&Info{ID: a, CreatedAt: header}); !got.Equal(header) {
		t.Errorf("createdAt() = %v, want header time %v", got, header)
	}

	for _, id := range []string{"", "snapshot-", "snapshot-20260304050607-0001", "other-01HQ3Z8Y6W0000000000000000"} {
		if validID(id) {
			t.Errorf("validID(%q) = true", id)
		}
	}
}
