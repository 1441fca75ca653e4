package command

import (
	"context"
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/yndnr/deltamesh-go/internal/infra/buildinfo"
	"github.com/yndnr/deltamesh-go/internal/infra/confloader"
	"github.com/yndnr/deltamesh-go/internal/infra/shutdown"
	"github.com/yndnr/deltamesh-go/internal/server/config"
	"github.com/yndnr/deltamesh-go/internal/server/daemon"
	"github.com/yndnr/deltamesh-go/internal/telemetry/logger"
)

// ServeCommand runs a node until SIGINT or SIGTERM.
func ServeCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Run a deltamesh node",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "data-dir",
				Usage: "Override storage.data_dir",
			},
			&cli.BoolFlag{
				Name:  "in-memory",
				Usage: "Keep all data in memory (nothing survives a restart)",
			},
			&cli.StringFlag{
				Name:  "metrics-addr",
				Usage: "Override metrics.addr, the admin and metrics listen address",
			},
			&cli.StringFlag{
				Name:  "admin-socket",
				Usage: "Override admin.socket, an absolute path for the local admin socket",
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "Override log.level",
			},
			&cli.BoolFlag{
				Name:  "no-watch",
				Usage: "Do not reload the configuration file when it changes",
			},
		},
		Action: runServe,
	}
}

// serveOverrides maps explicitly set flags to configuration keys.
func serveOverrides(c *cli.Context) map[string]any {
	overrides := make(map[string]any)
	if c.IsSet("data-dir") {
		overrides["storage.data_dir"] = c.String("data-dir")
	}
	if c.IsSet("in-memory") {
		overrides["storage.in_memory"] = c.Bool("in-memory")
	}
	if c.IsSet("metrics-addr") {
		overrides["metrics.addr"] = c.String("metrics-addr")
	}
	if c.IsSet("admin-socket") {
		overrides["admin.socket"] = c.String("admin-socket")
	}
	if c.IsSet("log-level") {
		overrides["log.level"] = c.String("log-level")
	}
	return overrides
}

func runServe(c *cli.Context) error {
	path := c.String("config")
	overrides := serveOverrides(c)

	cfg, err := loadConfig(path, overrides)
	if err != nil {
		return err
	}

	node, _ := os.Hostname()
	log, err := logger.New(logger.Config{
		Level:   cfg.Log.Level,
		Format:  cfg.Log.Format,
		Output:  c.App.ErrWriter,
		Service: "deltamesh",
		Node:    node,
	})
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	logger.SetDefault(log)
	slogger := log.Slog()

	info := buildinfo.Get()
	slogger.Info("starting deltamesh",
		"version", info.Version,
		"commit", info.Commit,
		"config", path,
	)
	slogger.Debug("effective configuration", "config", config.Sanitize(cfg))

	ctx := c.Context
	d, err := daemon.New(ctx, cfg, daemon.WithLogger(slogger))
	if err != nil {
		return err
	}

	h := shutdown.NewHandler(cfg.ShutdownTimeout, shutdown.WithLogger(slogger))
	d.RegisterHooks(h)

	if path != "" && !c.Bool("no-watch") {
		w, err := watchConfig(path, overrides, d)
		if err != nil {
			slogger.Warn("config reload disabled", "error", err)
		} else {
			h.OnShutdown("config watcher", func(ctx context.Context) error {
				return w.Stop()
			})
		}
	}

	if err := d.Start(ctx); err != nil {
		h.Trigger()
		_ = h.Wait(ctx)
		return err
	}

	slogger.Info("deltamesh started", "admin_addr", d.HTTPAddr(), "admin_socket", d.SocketPath())
	if err := h.Wait(ctx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	slogger.Info("deltamesh stopped")
	return nil
}

// watchConfig reloads the daemon whenever the file at path changes. An
// invalid file is logged and ignored.
func watchConfig(path string, overrides map[string]any, d *daemon.Daemon) (*confloader.Watcher, error) {
	log := logger.Default().Slog().With("component", "config")

	w, err := confloader.NewWatcher(confloader.WithWatcherLogger(log))
	if err != nil {
		return nil, err
	}
	if err := w.Watch(path); err != nil {
		_ = w.Stop()
		return nil, err
	}

	w.OnChange(func(string) {
		next, err := loadConfig(path, overrides)
		if err != nil {
			log.Warn("ignoring invalid configuration", "error", err)
			return
		}
		if err := d.Reload(next); err != nil {
			log.Warn("configuration reload failed", "error", err)
			return
		}
		log.Info("configuration reloaded")
	})
	w.StartAsync()
	return w, nil
}
