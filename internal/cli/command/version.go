package command

import (
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/yndnr/deltamesh-go/internal/infra/buildinfo"
)

// VersionCommand prints build information.
func VersionCommand() *cli.Command {
	return &cli.Command{
		Name:  "version",
		Usage: "Print version information",
		Action: func(c *cli.Context) error {
			if c.String("output") == "table" {
				fmt.Fprintln(c.App.Writer, buildinfo.String())
				return nil
			}
			return render(c, buildinfo.Get())
		},
	}
}
