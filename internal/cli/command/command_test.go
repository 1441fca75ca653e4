package command

import (
	"bytes"
	"context"
	"encoding/json"
	"encoding/pem"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/yndnr/deltamesh-go/internal/core/domain"
	"github.com/yndnr/deltamesh-go/internal/core/replica"
	"github.com/yndnr/deltamesh-go/internal/core/service"
	"github.com/yndnr/deltamesh-go/internal/server/httpserver"
	"github.com/yndnr/deltamesh-go/internal/server/localserver"
	"github.com/yndnr/deltamesh-go/internal/storage"
	"github.com/yndnr/deltamesh-go/internal/storage/memory"
	"github.com/yndnr/deltamesh-go/internal/storage/snapshot"
)

func runApp(t *testing.T, ctx context.Context, args ...string) (string, string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	app := App()
	app.Writer = &stdout
	app.ErrWriter = &stderr
	err := app.RunContext(ctx, append([]string{"deltamesh"}, args...))
	return stdout.String(), stderr.String(), err
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "deltamesh.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestApp(t *testing.T) {
	app := App()
	if app.Name != "deltamesh" {
		t.Errorf("Name = %q", app.Name)
	}

	names := make(map[string]bool)
	for _, cmd := range app.Commands {
		names[cmd.Name] = true
	}
	for _, want := range []string{"serve", "dump", "status", "inspect", "flush", "snapshot", "config", "version"} {
		if !names[want] {
			t.Errorf("missing command %s", want)
		}
	}
}

func TestVersionCommand(t *testing.T) {
	out, _, err := runApp(t, context.Background(), "version")
	if err != nil {
		t.Fatalf("version error = %v", err)
	}
	if !strings.HasPrefix(out, "deltamesh ") {
		t.Errorf("version = %q", out)
	}

	out, _, err = runApp(t, context.Background(), "-o", "json", "version")
	if err != nil {
		t.Fatal(err)
	}
	var info map[string]string
	if err := json.Unmarshal([]byte(out), &info); err != nil {
		t.Fatalf("version json = %q: %v", out, err)
	}
	if info["go_version"] == "" || info["platform"] == "" {
		t.Errorf("version json = %v", info)
	}
}

func TestInvalidOutputFormat(t *testing.T) {
	if _, _, err := runApp(t, context.Background(), "-o", "xml", "version"); err == nil {
		t.Error("expected error for unknown output format")
	}
}

func TestConfigCommand(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, `
sync:
  interval: 250ms
storage:
  data_dir: `+dir+`
  passphrase: correct horse battery
`)

	out, _, err := runApp(t, context.Background(), "-c", path, "config", "show")
	if err != nil {
		t.Fatalf("config show error = %v", err)
	}
	for _, want := range []string{"interval: 250ms", "data_dir: " + dir, "***REDACTED***"} {
		if !strings.Contains(out, want) {
			t.Errorf("config show missing %q in:\n%s", want, out)
		}
	}
	if strings.Contains(out, "correct horse") {
		t.Error("config show leaked the passphrase")
	}

	out, _, err = runApp(t, context.Background(), "-c", path, "config", "validate")
	if err != nil || !strings.Contains(out, "configuration OK") {
		t.Errorf("config validate = %q, %v", out, err)
	}

	bad := writeConfig(t, "sync:\n  interval: 0s\n")
	if _, _, err := runApp(t, context.Background(), "-c", bad, "config", "validate"); err == nil {
		t.Error("config validate accepted a zero interval")
	}

	typo := writeConfig(t, "sync:\n  intervall: 1s\n")
	_, _, err = runApp(t, context.Background(), "-c", typo, "config", "validate")
	if err == nil || !strings.Contains(err.Error(), "sync.intervall") {
		t.Errorf("config validate with unknown key error = %v", err)
	}
}

func TestDumpCommand(t *testing.T) {
	ctx := context.Background()
	dataDir := t.TempDir()

	reg := replica.NewRegistry()
	score := replica.MustRegister(reg, "Player", "score", replica.PropertyOptions[int64]{ExternalSync: true})

	kv, err := storage.NewBadgerEngine(storage.DefaultKVConfig(dataDir), nil)
	if err != nil {
		t.Fatal(err)
	}
	p, err := storage.NewObjectPersister(ctx, kv)
	if err != nil {
		t.Fatal(err)
	}
	obj := replica.New(replica.WithRegistry(reg))
	score.Set(obj, 120)
	if err := p.Persist(ctx, []*replica.Object{obj}); err != nil {
		t.Fatal(err)
	}
	if err := kv.Close(); err != nil {
		t.Fatal(err)
	}

	path := writeConfig(t, "storage:\n  data_dir: "+dataDir+"\n")

	out, _, err := runApp(t, ctx, "-c", path, "-o", "json", "dump")
	if err != nil {
		t.Fatalf("dump error = %v", err)
	}
	var rows []RecordRow
	if err := json.Unmarshal([]byte(out), &rows); err != nil {
		t.Fatalf("dump output %q: %v", out, err)
	}
	if len(rows) != 1 {
		t.Fatalf("rows = %d, want 1", len(rows))
	}
	if rows[0].ID != obj.ID().String() || rows[0].Properties != 1 {
		t.Errorf("row = %+v", rows[0])
	}
	if got := rows[0].Values[score.ID().String()]; got != "120" {
		t.Errorf("score value = %v, want \"120\"", got)
	}

	out, _, err = runApp(t, ctx, "-c", path, "dump", "--id", obj.ID().String())
	if err != nil || !strings.Contains(out, obj.ID().String()) {
		t.Errorf("dump --id = %q, %v", out, err)
	}

	if _, _, err := runApp(t, ctx, "-c", path, "dump", "--id", domain.NewObjectID().String()); err == nil {
		t.Error("dump --id of a missing object expected error")
	}

	out, _, err = runApp(t, ctx, "-c", path, "-o", "json", "dump", "--count")
	if err != nil {
		t.Fatalf("dump --count error = %v", err)
	}
	var count CountResult
	if err := json.Unmarshal([]byte(out), &count); err != nil {
		t.Fatalf("dump --count output %q: %v", out, err)
	}
	if count.Records != 1 || count.DataDir != dataDir {
		t.Errorf("dump --count = %+v", count)
	}

	out, _, err = runApp(t, ctx, "-c", path, "-o", "jsonl", "dump")
	if err != nil {
		t.Fatalf("dump -o jsonl error = %v", err)
	}
	lines := strings.Split(strings.TrimSuffix(out, "\n"), "\n")
	if len(lines) != 1 || !strings.HasPrefix(lines[0], `{"id":"`+obj.ID().String()) {
		t.Errorf("dump -o jsonl = %q", out)
	}
}

func TestServeCommand(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	_, stderr, err := runApp(t, ctx, "serve", "--in-memory", "--metrics-addr", "127.0.0.1:0", "--log-level", "info")
	if err != nil {
		t.Fatalf("serve error = %v\n%s", err, stderr)
	}
	for _, want := range []string{"deltamesh started", "sync scheduler stopped", "deltamesh stopped"} {
		if !strings.Contains(stderr, want) {
			t.Errorf("serve log missing %q", want)
		}
	}
}

type stubScheduler struct{}

func (stubScheduler) Running() bool           { return true }
func (stubScheduler) Interval() time.Duration { return time.Second }
func (stubScheduler) Flush(context.Context) service.TickReport {
	return service.TickReport{Result: service.TickOK, Batch: 1, Persisted: 1}
}

func TestAdminCommands(t *testing.T) {
	dir := memory.New()
	obj := dir.Pin(replica.New(replica.WithRegistry(replica.NewRegistry())))
	srv := httptest.NewServer(httpserver.NewRouter(&httpserver.RouterConfig{
		Directory: dir,
		Scheduler: stubScheduler{},
	}))
	defer srv.Close()

	ctx := context.Background()

	out, _, err := runApp(t, ctx, "-o", "json", "status", "-s", srv.URL)
	if err != nil {
		t.Fatalf("status error = %v", err)
	}
	if !strings.Contains(out, `"objects": 1`) {
		t.Errorf("status = %s", out)
	}

	out, _, err = runApp(t, ctx, "inspect", "-s", srv.URL, obj.ID().String())
	if err != nil || !strings.Contains(out, obj.ID().String()) {
		t.Errorf("inspect = %q, %v", out, err)
	}
	if _, _, err := runApp(t, ctx, "inspect", "-s", srv.URL); err == nil {
		t.Error("inspect without id expected error")
	}

	out, _, err = runApp(t, ctx, "-o", "yaml", "flush", "-s", srv.URL)
	if err != nil || !strings.Contains(out, "result: ok") {
		t.Errorf("flush = %q, %v", out, err)
	}
}

func TestAdminCommands_TLS(t *testing.T) {
	srv := httptest.NewTLSServer(httpserver.NewRouter(&httpserver.RouterConfig{
		Directory: memory.New(),
		Scheduler: stubScheduler{},
	}))
	defer srv.Close()

	caFile := filepath.Join(t.TempDir(), "ca.pem")
	caPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: srv.Certificate().Raw})
	if err := os.WriteFile(caFile, caPEM, 0o600); err != nil {
		t.Fatal(err)
	}

	ctx := context.Background()
	addr := strings.TrimPrefix(srv.URL, "https://")

	out, _, err := runApp(t, ctx, "-o", "json", "status", "-s", addr, "--ca-file", caFile)
	if err != nil {
		t.Fatalf("status error = %v", err)
	}
	if !strings.Contains(out, `"objects": 0`) {
		t.Errorf("status = %s", out)
	}

	if _, _, err := runApp(t, ctx, "status", "-s", addr, "--ca-file", filepath.Join(t.TempDir(), "none.pem")); err == nil {
		t.Error("status with a missing CA file expected error")
	}
}

func TestAdminCommands_Socket(t *testing.T) {
	dir, err := os.MkdirTemp("", "dm")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.RemoveAll(dir) })

	path := filepath.Join(dir, "admin.sock")
	srv := localserver.New(path, httpserver.NewRouter(&httpserver.RouterConfig{
		Directory: memory.New(),
		Scheduler: stubScheduler{},
	}))
	if err := srv.Listen(); err != nil {
		t.Fatalf("Listen() error = %v", err)
	}
	go srv.Serve()
	defer srv.Shutdown(context.Background())

	out, _, err := runApp(t, context.Background(), "-o", "yaml", "flush", "-s", "unix://"+path)
	if err != nil || !strings.Contains(out, "result: ok") {
		t.Errorf("flush = %q, %v", out, err)
	}
}

func TestSnapshotCommands(t *testing.T) {
	ctx := context.Background()
	srcDir := t.TempDir()
	snapDir := filepath.Join(t.TempDir(), "snapshots")

	reg := replica.NewRegistry()
	score := replica.MustRegister(reg, "Player", "score", replica.PropertyOptions[int64]{ExternalSync: true})

	kv, err := storage.NewBadgerEngine(storage.DefaultKVConfig(srcDir), nil)
	if err != nil {
		t.Fatal(err)
	}
	p, err := storage.NewObjectPersister(ctx, kv)
	if err != nil {
		t.Fatal(err)
	}
	obj := replica.New(replica.WithRegistry(reg))
	score.Set(obj, 77)
	if err := p.Persist(ctx, []*replica.Object{obj}); err != nil {
		t.Fatal(err)
	}
	var records []*storage.Record
	if err := p.Records(ctx, func(rec *storage.Record) bool {
		records = append(records, rec)
		return true
	}); err != nil {
		t.Fatal(err)
	}
	if err := kv.Close(); err != nil {
		t.Fatal(err)
	}

	mgr, err := snapshot.NewManager(snapshot.Config{Dir: snapDir})
	if err != nil {
		t.Fatal(err)
	}
	info, err := mgr.Create(records)
	if err != nil {
		t.Fatal(err)
	}

	// A second node's data directory holding an unrelated record.
	dstDir := t.TempDir()
	kv, err = storage.NewBadgerEngine(storage.DefaultKVConfig(dstDir), nil)
	if err != nil {
		t.Fatal(err)
	}
	p, err = storage.NewObjectPersister(ctx, kv)
	if err != nil {
		t.Fatal(err)
	}
	stray := replica.New(replica.WithRegistry(reg))
	score.Set(stray, 1)
	if err := p.Persist(ctx, []*replica.Object{stray}); err != nil {
		t.Fatal(err)
	}
	if err := kv.Close(); err != nil {
		t.Fatal(err)
	}

	path := writeConfig(t, "storage:\n  data_dir: "+dstDir+"\nsnapshot:\n  dir: "+snapDir+"\n")

	out, _, err := runApp(t, ctx, "-c", path, "-o", "json", "snapshot", "list")
	if err != nil || !strings.Contains(out, info.ID) {
		t.Fatalf("snapshot list = %q, %v", out, err)
	}

	out, _, err = runApp(t, ctx, "-c", path, "-o", "json", "snapshot", "restore", "--clean", info.ID)
	if err != nil {
		t.Fatalf("snapshot restore error = %v", err)
	}
	var res RestoreResult
	if err := json.Unmarshal([]byte(out), &res); err != nil {
		t.Fatalf("restore output %q: %v", out, err)
	}
	if res.Snapshot != info.ID || res.Restored != 1 || res.Deleted != 1 {
		t.Errorf("restore = %+v", res)
	}

	out, _, err = runApp(t, ctx, "-c", path, "-o", "json", "dump")
	if err != nil {
		t.Fatalf("dump error = %v", err)
	}
	var rows []RecordRow
	if err := json.Unmarshal([]byte(out), &rows); err != nil {
		t.Fatalf("dump output %q: %v", out, err)
	}
	if len(rows) != 1 || rows[0].ID != obj.ID().String() {
		t.Errorf("rows after restore = %+v", rows)
	}

	if _, _, err := runApp(t, ctx, "-c", path, "snapshot", "restore", "snapshot-01HQ3Z8Y6W0000000000000000"); err == nil {
		t.Error("restore of a missing snapshot expected error")
	}

	out, _, err = runApp(t, ctx, "-c", path, "-o", "json", "snapshot", "prune")
	if err != nil || strings.TrimSpace(out) != "[]" {
		t.Errorf("snapshot prune = %q, %v", out, err)
	}

	empty := writeConfig(t, "snapshot:\n  dir: \"\"\n")
	if _, _, err := runApp(t, ctx, "-c", empty, "snapshot", "list"); err == nil {
		t.Error("snapshot list with snapshots disabled expected error")
	}
}

type stubSnapshotter struct{}

func (stubSnapshotter) Snapshot(context.Context) (*snapshot.Info, error) {
	return &snapshot.Info{ID: "snapshot-01HQ3Z8Y6W0000000000000000", Objects: 3}, nil
}

func TestSnapshotCreateCommand(t *testing.T) {
	srv := httptest.NewServer(httpserver.NewRouter(&httpserver.RouterConfig{
		Directory: memory.New(),
		Scheduler: stubScheduler{},
		Snapshots: stubSnapshotter{},
	}))
	defer srv.Close()

	out, _, err := runApp(t, context.Background(), "-o", "yaml", "snapshot", "create", "-s", srv.URL)
	if err != nil || !strings.Contains(out, "objects: 3") {
		t.Errorf("snapshot create = %q, %v", out, err)
	}
}
