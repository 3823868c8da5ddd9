package main

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"text/tabwriter"
	"time"

	"github.com/brojonat/orand/client"
	"github.com/urfave/cli/v2"
)

func apiCommands() *cli.Command {
	return &cli.Command{
		Name:  "api",
		Usage: "HTTP client commands for interacting with the orand service",
		Subcommands: []*cli.Command{
			apiRequestCommand(),
			apiGetCommand(),
			apiListCommand(),
			apiVerifyCommand(),
			apiAddressCommand(),
			apiConfigCommand(),
			apiWorkflowCommand(),
			apiAwaitCommand(),
			streamCommand(),
			healthCommand(),
		},
	}
}

func apiClient(c *cli.Context) *client.Client {
	return client.NewClient(c.String("server-url"), nil, newLogger(c))
}

func apiRequestCommand() *cli.Command {
	return &cli.Command{
		Name:      "request",
		Usage:     "Ask the server to request randomness (the server draws a seed when omitted)",
		ArgsUsage: "[SEED]",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:    "await",
				Aliases: []string{"w"},
				Usage:   "Wait for fulfillment after the request is accepted",
			},
			&cli.DurationFlag{
				Name:  "timeout",
				Usage: "How long to wait with --await",
				Value: 2 * time.Minute,
			},
		},
		Action: func(c *cli.Context) error {
			cl := apiClient(c)
			ctx, cancel := signalContext(c.Context, 0)
			defer cancel()

			res, err := cl.Request(ctx, c.Args().First())
			if err != nil {
				return err
			}
			if !c.Bool("await") {
				return output(c, res, func(w io.Writer) {
					fmt.Fprintf(w, "Seed:        %s\n", res.Seed)
					fmt.Fprintf(w, "Address:     %s (%s)\n", res.Address, res.Network)
					fmt.Fprintf(w, "Workflow ID: %s\n", res.WorkflowID)
				})
			}

			awaitCtx, awaitCancel := signalContext(ctx, c.Duration("timeout"))
			defer awaitCancel()
			rnd, err := cl.Await(awaitCtx, res.Seed, client.AwaitOptions{})
			if err != nil {
				return fmt.Errorf("failed to await fulfillment: %w", err)
			}
			return output(c, rnd, func(w io.Writer) { printAPIRandomness(w, rnd) })
		},
	}
}

func printAPIRandomness(w io.Writer, rnd *client.Randomness) {
	fmt.Fprintf(w, "Seed:       %s\n", rnd.Seed)
	fmt.Fprintf(w, "Address:    %s (%s)\n", rnd.Address, rnd.Network)
	fmt.Fprintf(w, "On chain:   %t\n", rnd.OnChain)
	fmt.Fprintf(w, "Status:     %s\n", rnd.Status)
	if rnd.Randomness != "" {
		fmt.Fprintf(w, "Randomness: %s\n", rnd.Randomness)
	}
	if rnd.Value != nil {
		fmt.Fprintf(w, "Value:      %d\n", *rnd.Value)
	}
	if rec := rnd.Record; rec != nil {
		fmt.Fprintf(w, "Record:\n")
		fmt.Fprintf(w, "  Status:      %s\n", rec.Status)
		fmt.Fprintf(w, "  Request:     %s\n", optional(rec.RequestSignature))
		fmt.Fprintf(w, "  Fulfillment: %s\n", optional(rec.FulfillmentSignature))
		fmt.Fprintf(w, "  Authority:   %s\n", optional(rec.Authority))
		fmt.Fprintf(w, "  Verified:    %t\n", rec.Verified)
		if rec.VerifyError != nil {
			fmt.Fprintf(w, "  Verify err:  %s\n", *rec.VerifyError)
		}
		fmt.Fprintf(w, "  Workflow:    %s\n", optional(rec.WorkflowID))
	}
}

func apiGetCommand() *cli.Command {
	return &cli.Command{
		Name:      "get",
		Usage:     "Get the state of a request",
		ArgsUsage: "SEED",
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("requires exactly one argument: seed")
			}
			rnd, err := apiClient(c).Get(c.Context, c.Args().First())
			if err != nil {
				return err
			}
			return output(c, rnd, func(w io.Writer) { printAPIRandomness(w, rnd) })
		},
	}
}

func apiListCommand() *cli.Command {
	return &cli.Command{
		Name:    "list",
		Usage:   "List recorded requests",
		Aliases: []string{"ls"},
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "status",
				Aliases: []string{"s"},
				Usage:   "Filter by status (pending, fulfilled)",
			},
			&cli.IntFlag{
				Name:  "limit",
				Usage: "Maximum number of requests",
				Value: 50,
			},
			&cli.IntFlag{
				Name:  "offset",
				Usage: "Number of requests to skip",
			},
		},
		Action: func(c *cli.Context) error {
			records, err := apiClient(c).List(c.Context, client.ListOptions{
				Status: c.String("status"),
				Limit:  c.Int("limit"),
				Offset: c.Int("offset"),
			})
			if err != nil {
				return err
			}
			return output(c, records, func(w io.Writer) {
				tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
				fmt.Fprintln(tw, "SEED\tSTATUS\tVERIFIED\tADDRESS\tUPDATED")
				for _, rec := range records {
					fmt.Fprintf(tw, "%s\t%s\t%t\t%s\t%s\n",
						rec.Seed,
						rec.Status,
						rec.Verified,
						rec.Address,
						rec.UpdatedAt.Format(time.RFC3339),
					)
				}
				tw.Flush()
				fmt.Fprintf(os.Stderr, "\nTotal: %d requests\n", len(records))
			})
		},
	}
}

func apiVerifyCommand() *cli.Command {
	return &cli.Command{
		Name:      "verify",
		Usage:     "Ask the server to verify a fulfillment",
		ArgsUsage: "SEED",
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("requires exactly one argument: seed")
			}
			v, err := apiClient(c).Verify(c.Context, c.Args().First())
			if err != nil {
				return err
			}
			return output(c, v, func(w io.Writer) {
				fmt.Fprintf(w, "✓ Randomness verified\n")
				fmt.Fprintf(w, "  Seed:        %s\n", v.Seed)
				fmt.Fprintf(w, "  Randomness:  %s\n", v.Randomness)
				fmt.Fprintf(w, "  Value:       %d\n", v.Value)
				fmt.Fprintf(w, "  Transaction: %s (slot %d)\n", v.FulfillmentSignature, v.Slot)
				fmt.Fprintf(w, "  Authority:   %s (trusted: %t)\n", v.Authority, v.Trusted)
			})
		},
	}
}

func apiAddressCommand() *cli.Command {
	return &cli.Command{
		Name:      "address",
		Usage:     "Ask the server for the randomness account address of a seed",
		ArgsUsage: "SEED",
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("requires exactly one argument: seed")
			}
			info, err := apiClient(c).Address(c.Context, c.Args().First())
			if err != nil {
				return err
			}
			return output(c, info, func(w io.Writer) {
				fmt.Fprintf(w, "%s\n", info.Address)
			})
		},
	}
}

func apiConfigCommand() *cli.Command {
	return &cli.Command{
		Name:  "config",
		Usage: "Ask the server for the program configuration",
		Action: func(c *cli.Context) error {
			cfg, err := apiClient(c).Config(c.Context)
			if err != nil {
				return err
			}
			return output(c, cfg, func(w io.Writer) {
				fmt.Fprintf(w, "Network:     %s\n", cfg.Network)
				fmt.Fprintf(w, "Program:     %s\n", cfg.ProgramID)
				fmt.Fprintf(w, "Treasury:    %s\n", cfg.Treasury)
				fmt.Fprintf(w, "Request fee: %d lamports\n", cfg.RequestFee)
				fmt.Fprintf(w, "Fulfillment authorities: %d\n", len(cfg.FulfillmentAuthorities))
			})
		},
	}
}

func apiWorkflowCommand() *cli.Command {
	return &cli.Command{
		Name:      "workflow",
		Usage:     "Get the status of a randomness workflow",
		ArgsUsage: "WORKFLOW_ID",
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("requires exactly one argument: workflow id")
			}
			status, err := apiClient(c).Workflow(c.Context, c.Args().First())
			if err != nil {
				return err
			}
			return output(c, status, func(w io.Writer) {
				fmt.Fprintf(w, "Workflow: %s (run %s)\n", status.WorkflowID, status.RunID)
				fmt.Fprintf(w, "Status:   %s\n", status.Status)
				if r := status.Result; r != nil {
					fmt.Fprintf(w, "Result:   %s after %d polls\n", r.Status, r.Polls)
					if r.Randomness != "" {
						fmt.Fprintf(w, "Randomness: %s\n", r.Randomness)
					}
				}
				if status.Error != nil {
					fmt.Fprintf(w, "Error:    %s\n", *status.Error)
				}
			})
		},
	}
}

func apiAwaitCommand() *cli.Command {
	return &cli.Command{
		Name:      "await",
		Usage:     "Block until the server reports the randomness for a seed as fulfilled",
		ArgsUsage: "SEED",
		Flags: []cli.Flag{
			&cli.DurationFlag{
				Name:    "timeout",
				Aliases: []string{"t"},
				Value:   2 * time.Minute,
				Usage:   "How long to wait for fulfillment",
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("requires exactly one argument: seed")
			}
			ctx, cancel := signalContext(c.Context, c.Duration("timeout"))
			defer cancel()

			rnd, err := apiClient(c).Await(ctx, c.Args().First(), client.AwaitOptions{})
			if err != nil {
				return fmt.Errorf("failed to await fulfillment: %w", err)
			}
			return output(c, rnd, func(w io.Writer) { printAPIRandomness(w, rnd) })
		},
	}
}

func healthCommand() *cli.Command {
	return &cli.Command{
		Name:  "health",
		Usage: "Check server health",
		Flags: []cli.Flag{
			&cli.DurationFlag{
				Name:  "timeout",
				Usage: "Request timeout",
				Value: 5 * time.Second,
			},
		},
		Action: func(c *cli.Context) error {
			serverURL := c.String("server-url")
			if serverURL == "" {
				return fmt.Errorf("server-url is required (set ORAND_SERVER_URL env var or use --server-url)")
			}

			httpClient := &http.Client{
				Timeout: c.Duration("timeout"),
			}

			resp, err := httpClient.Get(serverURL + "/health")
			if err != nil {
				return fmt.Errorf("health check failed: %w", err)
			}
			defer resp.Body.Close()

			if resp.StatusCode == http.StatusOK {
				fmt.Fprintf(c.App.Writer, "✓ Server is healthy (status: %d)\n", resp.StatusCode)
				fmt.Fprintf(c.App.Writer, "  URL: %s\n", serverURL)
				return nil
			}

			return fmt.Errorf("server returned unhealthy status: %d", resp.StatusCode)
		},
	}
}
