package command

import (
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/yndnr/deltamesh-go/internal/core/domain"
	"github.com/yndnr/deltamesh-go/internal/server/config"
	"github.com/yndnr/deltamesh-go/internal/server/daemon"
	"github.com/yndnr/deltamesh-go/internal/storage"
	"github.com/yndnr/deltamesh-go/internal/storage/snapshot"
)

// SnapshotCommand manages record snapshots.
func SnapshotCommand() *cli.Command {
	dirFlag := &cli.StringFlag{
		Name:  "snapshot-dir",
		Usage: "Override snapshot.dir",
	}

	return &cli.Command{
		Name:  "snapshot",
		Usage: "Create, list, restore and prune record snapshots",
		Subcommands: []*cli.Command{
			{
				Name:  "create",
				Usage: "Flush a running node and snapshot its records",
				Flags: adminFlags(),
				Action: func(c *cli.Context) error {
					client, err := adminClient(c)
					if err != nil {
						return err
					}
					ctx, cancel := adminContext(c)
					defer cancel()

					info, err := client.Snapshot(ctx)
					if err != nil {
						return err
					}
					return render(c, info)
				},
			},
			{
				Name:   "list",
				Usage:  "List snapshots, oldest first",
				Flags:  []cli.Flag{dirFlag},
				Action: runSnapshotList,
			},
			{
				Name:      "restore",
				Usage:     "Write a snapshot back into the data directory of a stopped node",
				ArgsUsage: "[SNAPSHOT_ID]",
				Flags: []cli.Flag{
					dirFlag,
					&cli.StringFlag{
						Name:  "data-dir",
						Usage: "Override storage.data_dir",
					},
					&cli.BoolFlag{
						Name:  "clean",
						Usage: "Delete persisted records that are not in the snapshot",
					},
				},
				Action: runSnapshotRestore,
			},
			{
				Name:   "prune",
				Usage:  "Remove snapshots outside the retention policy",
				Flags:  []cli.Flag{dirFlag},
				Action: runSnapshotPrune,
			},
		},
	}
}

func snapshotManager(c *cli.Context) (*config.DaemonConfig, *snapshot.Manager, error) {
	overrides := make(map[string]any)
	if c.IsSet("snapshot-dir") {
		overrides["snapshot.dir"] = c.String("snapshot-dir")
	}
	if c.IsSet("data-dir") {
		overrides["storage.data_dir"] = c.String("data-dir")
	}
	cfg, err := loadConfig(c.String("config"), overrides)
	if err != nil {
		return nil, nil, err
	}

	mgr, err := daemon.NewSnapshotManager(cfg)
	if err != nil {
		return nil, nil, err
	}
	if mgr == nil {
		return nil, nil, domain.ErrSnapshotsDisabled.WithDetails("snapshot.dir is empty")
	}
	return cfg, mgr, nil
}

func runSnapshotList(c *cli.Context) error {
	_, mgr, err := snapshotManager(c)
	if err != nil {
		return err
	}
	infos, err := mgr.List()
	if err != nil {
		return err
	}
	if infos == nil {
		infos = []*snapshot.Info{}
	}
	return render(c, infos)
}

// RestoreResult summarizes a restore.
type RestoreResult struct {
	Snapshot string `json:"snapshot"`
	Restored int    `json:"restored"`
	Deleted  int    `json:"deleted"`
}

func runSnapshotRestore(c *cli.Context) error {
	if c.NArg() > 1 {
		return fmt.Errorf("restore takes at most one SNAPSHOT_ID")
	}
	cfg, mgr, err := snapshotManager(c)
	if err != nil {
		return err
	}

	var (
		records []*storage.Record
		info    *snapshot.Info
	)
	if id := c.Args().First(); id != "" {
		records, info, err = mgr.Open(id)
	} else {
		records, info, err = mgr.Load()
	}
	if err != nil {
		return err
	}

	kv, persister, err := openStore(c, cfg)
	if err != nil {
		return err
	}
	defer kv.Close()

	res := RestoreResult{Snapshot: info.ID}
	if c.Bool("clean") {
		keep := make(map[domain.ObjectID]struct{}, len(records))
		for _, rec := range records {
			keep[rec.ID] = struct{}{}
		}
		var stale []domain.ObjectID
		if err := persister.Records(c.Context, func(rec *storage.Record) bool {
			if _, ok := keep[rec.ID]; !ok {
				stale = append(stale, rec.ID)
			}
			return true
		}); err != nil {
			return err
		}
		for _, id := range stale {
			if err := persister.Delete(c.Context, id); err != nil {
				return err
			}
			res.Deleted++
		}
	}

	if err := persister.PutRecords(c.Context, records); err != nil {
		return fmt.Errorf("restore %s: %w", info.ID, err)
	}
	res.Restored = len(records)
	return render(c, res)
}

func runSnapshotPrune(c *cli.Context) error {
	_, mgr, err := snapshotManager(c)
	if err != nil {
		return err
	}
	removed, err := mgr.Prune()
	if err != nil {
		return err
	}
	if removed == nil {
		removed = []*snapshot.Info{}
	}
	return render(c, removed)
}
