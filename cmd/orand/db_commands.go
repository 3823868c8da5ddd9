package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/brojonat/orand/service/db"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/urfave/cli/v2"
)

func listRequestsCommand() *cli.Command {
	return &cli.Command{
		Name:    "list-requests",
		Usage:   "List recorded randomness requests for the selected network",
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
			params := db.ListRequestsParams{
				Network: c.String("network"),
				Limit:   int32(c.Int("limit")),
				Offset:  int32(c.Int("offset")),
			}
			if status := c.String("status"); status != "" {
				if status != db.StatusPending && status != db.StatusFulfilled {
					return fmt.Errorf("invalid status %q (must be %q or %q)", status, db.StatusPending, db.StatusFulfilled)
				}
				params.Status = &status
			}

			store, closer, err := getStore(c)
			if err != nil {
				return err
			}
			defer closer()

			requests, err := store.ListRequests(c.Context, params)
			if err != nil {
				return fmt.Errorf("failed to list requests: %w", err)
			}

			return output(c, requests, func(w io.Writer) {
				tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
				fmt.Fprintln(tw, "SEED\tSTATUS\tVERIFIED\tWORKFLOW\tCREATED")
				for _, req := range requests {
					fmt.Fprintf(tw, "%s\t%s\t%t\t%s\t%s\n",
						req.Seed,
						req.Status,
						req.Verified,
						optional(req.WorkflowID),
						req.CreatedAt.Format(time.RFC3339),
					)
				}
				tw.Flush()
				fmt.Fprintf(os.Stderr, "\nTotal: %d requests\n", len(requests))
			})
		},
	}
}

func getRequestCommand() *cli.Command {
	return &cli.Command{
		Name:      "get-request",
		Usage:     "Get the recorded request for a seed",
		Aliases:   []string{"get"},
		ArgsUsage: "SEED",
		Action: func(c *cli.Context) error {
			seed, err := seedArg(c)
			if err != nil {
				return err
			}

			store, closer, err := getStore(c)
			if err != nil {
				return err
			}
			defer closer()

			req, err := store.GetRequest(c.Context, seed.String(), c.String("network"))
			if errors.Is(err, pgx.ErrNoRows) {
				return fmt.Errorf("no request recorded for seed %s on %s", seed, c.String("network"))
			}
			if err != nil {
				return fmt.Errorf("failed to get request: %w", err)
			}

			return output(c, req, func(w io.Writer) {
				fmt.Fprintf(w, "Seed:         %s\n", req.Seed)
				fmt.Fprintf(w, "Network:      %s\n", req.Network)
				fmt.Fprintf(w, "Address:      %s\n", req.Address)
				fmt.Fprintf(w, "Status:       %s\n", req.Status)
				fmt.Fprintf(w, "Request:      %s\n", optional(req.RequestSignature))
				fmt.Fprintf(w, "Randomness:   %s\n", optional(req.Randomness))
				fmt.Fprintf(w, "Fulfillment:  %s\n", optional(req.FulfillmentSignature))
				fmt.Fprintf(w, "Authority:    %s\n", optional(req.Authority))
				fmt.Fprintf(w, "Verified:     %t\n", req.Verified)
				if req.VerifyError != nil {
					fmt.Fprintf(w, "Verify error: %s\n", *req.VerifyError)
				}
				fmt.Fprintf(w, "Workflow:     %s\n", optional(req.WorkflowID))
				fmt.Fprintf(w, "Created:      %s\n", req.CreatedAt.Format(time.RFC3339))
				fmt.Fprintf(w, "Updated:      %s\n", req.UpdatedAt.Format(time.RFC3339))
			})
		},
	}
}

// getStore opens the request ledger named by --database-url.
func getStore(c *cli.Context) (*db.Store, func(), error) {
	dbURL := c.String("database-url")
	if dbURL == "" {
		return nil, nil, fmt.Errorf("database-url is required (set DATABASE_URL env var or use --database-url)")
	}

	pool, err := pgxpool.New(context.Background(), dbURL)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := pool.Ping(context.Background()); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("failed to ping database: %w", err)
	}

	store := db.NewStore(pool, nil)
	closer := func() { pool.Close() }

	return store, closer, nil
}
