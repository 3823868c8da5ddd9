package main

import (
	"fmt"
	"log"
	"os"

	"github.com/urfave/cli/v2"
)

var (
	// Version information (set via ldflags during build)
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "orand",
		Usage: "Request and verify VRF randomness on Solana",
		Description: `A command-line tool for the VRF oracle program and the orand service.

Chain commands talk to a Solana RPC node directly. The api, db, workflow and
watch commands talk to a running orand deployment.`,
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		Commands: []*cli.Command{
			// Chain commands
			seedCommand(),
			addressCommand(),
			configCommand(),
			getCommand(),
			requestCommand(),
			awaitCommand(),
			verifyCommand(),
			// NATS event streaming
			watchCommand(),
			// HTTP API client commands
			apiCommands(),
			// Database inspection commands
			{
				Name:  "db",
				Usage: "Request ledger inspection commands",
				Subcommands: []*cli.Command{
					listRequestsCommand(),
					getRequestCommand(),
				},
			},
			// Temporal workflow commands
			{
				Name:  "workflow",
				Usage: "Temporal workflow inspection and management commands",
				Subcommands: []*cli.Command{
					startWorkflowCommand(),
					describeWorkflowCommand(),
					workflowResultCommand(),
				},
			},
			versionCommand(),
		},
		// Global flags available to all commands
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "network",
				Aliases: []string{"n"},
				Usage:   "Network (mainnet, devnet, localnet)",
				EnvVars: []string{"VRF_NETWORK"},
				Value:   "devnet",
			},
			&cli.StringSliceFlag{
				Name:    "rpc-url",
				Usage:   "Solana RPC URL, repeatable (default: the network's public endpoint)",
				EnvVars: []string{"SOLANA_RPC_URLS"},
			},
			&cli.StringFlag{
				Name:    "program-id",
				Usage:   "VRF program id (default: the network's deployment)",
				EnvVars: []string{"VRF_PROGRAM_ID"},
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level for stderr (debug, info, warn, error)",
				EnvVars: []string{"LOG_LEVEL"},
				Value:   "error",
			},
			&cli.StringFlag{
				Name:    "server-url",
				Usage:   "orand server URL",
				EnvVars: []string{"ORAND_SERVER_URL", "SERVER_URL"},
				Value:   "http://localhost:8080",
			},
			&cli.StringFlag{
				Name:    "database-url",
				Usage:   "Database connection URL",
				EnvVars: []string{"DATABASE_URL"},
			},
			&cli.StringFlag{
				Name:    "nats-url",
				Usage:   "NATS server URL",
				EnvVars: []string{"NATS_URL"},
				Value:   "nats://localhost:4222",
			},
			&cli.StringFlag{
				Name:    "temporal-host",
				Usage:   "Temporal server address",
				EnvVars: []string{"TEMPORAL_HOST"},
				Value:   "localhost:7233",
			},
			&cli.StringFlag{
				Name:    "temporal-namespace",
				Usage:   "Temporal namespace",
				EnvVars: []string{"TEMPORAL_NAMESPACE"},
				Value:   "default",
			},
			&cli.StringFlag{
				Name:    "temporal-task-queue",
				Usage:   "Temporal task queue",
				EnvVars: []string{"TEMPORAL_TASK_QUEUE"},
				Value:   "orand",
			},
			&cli.BoolFlag{
				Name:    "json",
				Aliases: []string{"j"},
				Usage:   "Output in JSON format",
			},
			&cli.StringFlag{
				Name:  "jq",
				Usage: "jq filter applied to the JSON output; string results print raw",
			},
		},
	}
}

func versionCommand() *cli.Command {
	return &cli.Command{
		Name:  "version",
		Usage: "Show version information",
		Action: func(c *cli.Context) error {
			w := c.App.Writer
			fmt.Fprintf(w, "orand CLI\n")
			fmt.Fprintf(w, "  Version: %s\n", version)
			fmt.Fprintf(w, "  Commit:  %s\n", commit)
			fmt.Fprintf(w, "  Built:   %s\n", date)
			return nil
		},
	}
}
