package command

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/yndnr/deltamesh-go/internal/core/domain"
	"github.com/yndnr/deltamesh-go/internal/server/config"
	"github.com/yndnr/deltamesh-go/internal/server/daemon"
	"github.com/yndnr/deltamesh-go/internal/storage"
)

// DumpCommand lists persisted records. The node owning the data
// directory must be stopped because Badger holds an exclusive lock.
func DumpCommand() *cli.Command {
	return &cli.Command{
		Name:  "dump",
		Usage: "List the objects persisted in a data directory",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "data-dir",
				Usage: "Override storage.data_dir",
			},
			&cli.StringFlag{
				Name:  "id",
				Usage: "Show only the object with this id",
			},
			&cli.IntFlag{
				Name:  "limit",
				Usage: "Stop after this many records (0 for all)",
			},
			&cli.BoolFlag{
				Name:  "count",
				Usage: "Print only the number of records, without decoding them",
			},
		},
		Action: runDump,
	}
}

// CountResult is the output of dump --count.
type CountResult struct {
	DataDir string `json:"data_dir"`
	Records int    `json:"records"`
}

// RecordRow is one persisted object.
type RecordRow struct {
	ID         string         `json:"id"`
	Version    uint64         `json:"version"`
	UpdatedAt  time.Time      `json:"updated_at"`
	Properties int            `json:"properties"`
	Values     map[string]any `json:"values" table:"wide"`
}

func newRecordRow(rec *storage.Record) RecordRow {
	row := RecordRow{
		ID:         rec.ID.String(),
		Version:    rec.Version,
		UpdatedAt:  rec.UpdatedAt,
		Properties: len(rec.Props),
		Values:     make(map[string]any, len(rec.Props)),
	}
	for pid, v := range rec.Props {
		row.Values[pid.String()] = v
	}
	return row
}

func runDump(c *cli.Context) error {
	overrides := make(map[string]any)
	if c.IsSet("data-dir") {
		overrides["storage.data_dir"] = c.String("data-dir")
	}
	cfg, err := loadConfig(c.String("config"), overrides)
	if err != nil {
		return err
	}
	var want *domain.ObjectID
	if s := c.String("id"); s != "" {
		id, err := domain.ParseObjectID(s)
		if err != nil {
			return err
		}
		want = &id
	}

	kv, persister, err := openStore(c, cfg)
	if err != nil {
		return err
	}
	defer kv.Close()

	if c.Bool("count") {
		n, err := persister.Count(c.Context)
		if err != nil {
			return err
		}
		return render(c, CountResult{DataDir: cfg.Storage.DataDir, Records: n})
	}

	limit := c.Int("limit")
	rows := []RecordRow{}
	err = persister.Records(c.Context, func(rec *storage.Record) bool {
		if want != nil && rec.ID != *want {
			return true
		}
		rows = append(rows, newRecordRow(rec))
		return limit <= 0 || len(rows) < limit
	})
	if err != nil {
		return err
	}

	if want != nil && len(rows) == 0 {
		return domain.ErrObjectNotFound.WithDetails(want.String())
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].ID < rows[j].ID })
	return render(c, rows)
}

// openStore opens the data directory of a stopped node.
func openStore(c *cli.Context, cfg *config.DaemonConfig) (*storage.BadgerEngine, *storage.ObjectPersister, error) {
	if cfg.Storage.InMemory {
		return nil, nil, errors.New("a data directory is required; storage.in_memory is set")
	}

	quiet := slog.New(slog.NewTextHandler(c.App.ErrWriter, &slog.HandlerOptions{Level: slog.LevelWarn}))
	kv, err := storage.NewBadgerEngine(cfg.Storage.KVConfig(), quiet)
	if err != nil {
		return nil, nil, fmt.Errorf("open %s: %w", cfg.Storage.DataDir, err)
	}

	persister, err := daemon.NewPersister(c.Context, kv, &cfg.Storage, quiet)
	if err != nil {
		_ = kv.Close()
		return nil, nil, err
	}
	return kv, persister, nil
}
