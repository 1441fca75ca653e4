package command

import (
	"fmt"
	"io"

	"github.com/urfave/cli/v2"

	"github.com/yndnr/deltamesh-go/internal/cli/output"
	"github.com/yndnr/deltamesh-go/internal/infra/buildinfo"
	"github.com/yndnr/deltamesh-go/internal/infra/confloader"
	"github.com/yndnr/deltamesh-go/internal/server/config"
)

// App creates the CLI application.
func App() *cli.App {
	return &cli.App{
		Name:    "deltamesh",
		Usage:   "Replicated object node with delta tracking and periodic persistence",
		Version: buildinfo.Get().Version,
		Flags:   globalFlags(),
		Commands: []*cli.Command{
			ServeCommand(),
			DumpCommand(),
			StatusCommand(),
			InspectCommand(),
			FlushCommand(),
			SnapshotCommand(),
			ConfigCommand(),
			VersionCommand(),
		},
		HideVersion: true,
	}
}

func globalFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "config",
			Aliases: []string{"c"},
			Usage:   "Path to the YAML configuration file",
			EnvVars: []string{"DELTAMESH_CONFIG"},
		},
		&cli.StringFlag{
			Name:    "output",
			Aliases: []string{"o"},
			Usage:   "Output format: table, json, jsonl, yaml",
			Value:   string(output.FormatTable),
		},
		&cli.BoolFlag{
			Name:    "wide",
			Aliases: []string{"w"},
			Usage:   "Show wide output (more columns)",
		},
	}
}

// GlobalFlags holds the flags shared by every command.
type GlobalFlags struct {
	Config string
	Output output.Format
	Wide   bool
}

// ParseGlobalFlags extracts and validates the global flags.
func ParseGlobalFlags(c *cli.Context) (*GlobalFlags, error) {
	format, err := output.ParseFormat(c.String("output"))
	if err != nil {
		return nil, err
	}
	return &GlobalFlags{
		Config: c.String("config"),
		Output: format,
		Wide:   c.Bool("wide"),
	}, nil
}

// render writes data to the app's writer in the selected format.
func render(c *cli.Context, data any) error {
	flags, err := ParseGlobalFlags(c)
	if err != nil {
		return err
	}
	return output.NewFormatter(flags.Output, flags.Wide).Format(c.App.Writer, data)
}

// loadConfig builds the daemon configuration from defaults, the file at
// path, DELTAMESH_ environment variables and overrides, then verifies it.
// Unknown keys in the file are rejected.
func loadConfig(path string, overrides map[string]any) (*config.DaemonConfig, error) {
	cfg := config.Default()

	opts := []confloader.Option{confloader.WithOverrides(overrides), confloader.WithStrict()}
	if path != "" {
		opts = append(opts, confloader.WithConfigFile(path))
	}
	if err := confloader.NewLoader(opts...).Load(cfg); err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := config.Verify(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// PrintError writes an error line to w.
func PrintError(w io.Writer, format string, args ...any) {
	fmt.Fprintf(w, "error: "+format+"\n", args...)
}
