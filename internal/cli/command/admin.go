package command

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/yndnr/deltamesh-go/internal/cli/connection"
	"github.com/yndnr/deltamesh-go/internal/infra/tlsroots"
	"github.com/yndnr/deltamesh-go/internal/server/config"
)

func adminFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "server",
			Aliases: []string{"s"},
			Usage:   "Admin address of the node, or unix:///path for the admin socket",
			EnvVars: []string{"DELTAMESH_SERVER"},
			Value:   config.DefaultMetricsAddr,
		},
		&cli.StringFlag{
			Name:    "ca-file",
			Usage:   "Trust the server certificates in this PEM file and use https",
			EnvVars: []string{"DELTAMESH_CA_FILE"},
		},
		&cli.StringFlag{
			Name:  "client-cert",
			Usage: "Client certificate for mutual TLS",
		},
		&cli.StringFlag{
			Name:  "client-key",
			Usage: "Client key for mutual TLS",
		},
	}
}

func adminClient(c *cli.Context) (*connection.AdminClient, error) {
	var opts []connection.ClientOption
	if ca := c.String("ca-file"); ca != "" || c.String("client-cert") != "" {
		pool := tlsroots.SystemPool()
		if ca != "" {
			var err error
			if pool, err = tlsroots.LoadPool(ca); err != nil {
				return nil, err
			}
		}
		tlsCfg, err := pool.ClientConfig(c.String("client-cert"), c.String("client-key"))
		if err != nil {
			return nil, err
		}
		opts = append(opts, connection.WithTLSConfig(tlsCfg))
	}
	return connection.NewAdminClient(c.String("server"), opts...), nil
}

func adminContext(c *cli.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(c.Context, connection.DefaultTimeout)
}

// StatusCommand prints the node summary.
func StatusCommand() *cli.Command {
	return &cli.Command{
		Name:  "status",
		Usage: "Show the status of a running node",
		Flags: adminFlags(),
		Action: func(c *cli.Context) error {
			client, err := adminClient(c)
			if err != nil {
				return err
			}
			ctx, cancel := adminContext(c)
			defer cancel()

			s, err := client.Status(ctx)
			if err != nil {
				return err
			}
			return render(c, s)
		},
	}
}

// InspectCommand prints one resident object.
func InspectCommand() *cli.Command {
	return &cli.Command{
		Name:      "inspect",
		Usage:     "Show a resident object of a running node",
		ArgsUsage: "OBJECT_ID",
		Flags:     adminFlags(),
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("inspect takes exactly one OBJECT_ID")
			}
			client, err := adminClient(c)
			if err != nil {
				return err
			}
			ctx, cancel := adminContext(c)
			defer cancel()

			view, err := client.Object(ctx, c.Args().First())
			if err != nil {
				return err
			}
			return render(c, view)
		},
	}
}

// FlushCommand runs one sync tick on a running node.
func FlushCommand() *cli.Command {
	return &cli.Command{
		Name:  "flush",
		Usage: "Persist every dirty object of a running node now",
		Flags: adminFlags(),
		Action: func(c *cli.Context) error {
			client, err := adminClient(c)
			if err != nil {
				return err
			}
			ctx, cancel := adminContext(c)
			defer cancel()

			res, err := client.Flush(ctx)
			if res != nil {
				if rerr := render(c, res); rerr != nil {
					return rerr
				}
			}
			return err
		},
	}
}
