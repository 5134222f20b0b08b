package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/andresuchdata/tripdata-ingest/pkg/logger"
	"github.com/urfave/cli/v2"
)

func partitionFlag(usage string) *cli.StringSliceFlag {
	return &cli.StringSliceFlag{
		Name:    "partition",
		Aliases: []string{"p"},
		Usage:   usage,
		EnvVars: []string{"PARTITIONS"},
	}
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app := &cli.App{
		Name:  "ingest",
		Usage: "Stage NYC trip data release assets and declare external tables over them",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				EnvVars: []string{"LOG_LEVEL"},
			},
			&cli.StringFlag{
				Name:    "log-format",
				Usage:   "Log output format (console or json)",
				EnvVars: []string{"LOG_FORMAT"},
			},
			&cli.StringFlag{
				Name:    "partitions-file",
				Usage:   "YAML file with partition definitions, the bundled file is used when empty",
				EnvVars: []string{"PARTITIONS_FILE"},
			},
		},
		Before: setupLogging,
		Commands: []*cli.Command{
			{
				Name:   "run",
				Usage:  "Run one pipeline pass over the selected partitions",
				Flags:  []cli.Flag{partitionFlag("Partition to process (repeatable), all when omitted")},
				Action: runCommand,
			},
			{
				Name:  "list",
				Usage: "Print the asset URLs a partition would fetch",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "partition",
						Aliases:  []string{"p"},
						Usage:    "Partition to list",
						Required: true,
					},
				},
				Action: listCommand,
			},
			{
				Name:   "register",
				Usage:  "Declare the external tables without staging anything",
				Flags:  []cli.Flag{partitionFlag("Partition to register (repeatable), all when omitted")},
				Action: registerCommand,
			},
			{
				Name:  "serve",
				Usage: "Serve the status API and run the pipeline on a fixed interval",
				Flags: []cli.Flag{
					partitionFlag("Partition to schedule (repeatable), all when omitted"),
					&cli.DurationFlag{
						Name:    "interval",
						Usage:   "Time between scheduled runs",
						EnvVars: []string{"SCHEDULE_INTERVAL"},
					},
					&cli.StringFlag{
						Name:    "port",
						Usage:   "HTTP port of the status API",
						EnvVars: []string{"SERVER_PORT"},
					},
				},
				Action: serveCommand,
			},
			{
				Name:   "partitions",
				Usage:  "Print the configured partitions",
				Action: partitionsCommand,
			},
		},
	}

	if err := app.RunContext(ctx, os.Args); err != nil {
		logger.Log.Fatal().Err(err).Msg("ingest failed")
	}
}
