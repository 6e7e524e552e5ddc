package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "docingest",
		Usage: "Ingest scanned documents in batches and maintain the artifact store",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to a YAML config file (environment variables still override it)",
				EnvVars: []string{"CONFIG_FILE"},
			},
			&cli.StringFlag{
				Name:    "log-level",
				Aliases: []string{"l"},
				Usage:   "Set logging level (debug, info, warn, error)",
				Value:   "info",
			},
		},
		Commands: []*cli.Command{
			{
				Name:      "ingest",
				Usage:     "Classify, extract, assemble and persist a batch of files",
				ArgsUsage: "FILE [FILE...]",
				Action:    ingestCommand,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "destination",
						Aliases:  []string{"d"},
						Usage:    "Destination the documents are filed under",
						Required: true,
					},
					&cli.StringFlag{
						Name:  "requested-by",
						Usage: "Identity recorded as the requester",
						Value: os.Getenv("USER"),
					},
					&cli.StringFlag{
						Name:  "title",
						Usage: "Title for the document when the batch yields a single unit",
					},
					&cli.BoolFlag{
						Name:  "classified",
						Usage: "Mark persisted documents as classified",
					},
					&cli.StringFlag{
						Name:  "report-xlsx",
						Usage: "Write the batch report as an XLSX workbook to this path",
					},
					&cli.BoolFlag{
						Name:  "json",
						Usage: "Print the full batch report as JSON instead of a summary",
					},
				},
			},
			{
				Name:   "reconcile",
				Usage:  "Find artifacts without a metadata record and delete them",
				Action: reconcileCommand,
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "dry-run",
						Usage: "Report orphans without deleting them",
					},
					&cli.DurationFlag{
						Name:  "grace",
						Usage: "Ignore artifacts younger than this (defaults to RECONCILE_GRACE)",
					},
				},
			},
			{
				Name:   "watch",
				Usage:  "Print document.created events as JSON lines",
				Action: watchCommand,
			},
		},
	}
}
