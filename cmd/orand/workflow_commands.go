package main

import (
	"fmt"
	"io"
	"time"

	"github.com/brojonat/orand/service/temporal"
	"github.com/brojonat/orand/service/vrf"
	"github.com/urfave/cli/v2"
)

func getTemporalClient(c *cli.Context) (*temporal.Client, error) {
	return temporal.NewClient(
		c.String("temporal-host"),
		c.String("temporal-namespace"),
		c.String("temporal-task-queue"),
		newLogger(c),
	)
}

// workflowIDArg accepts a workflow id or a seed, which maps to the id of the
// workflow for that seed on the selected network.
func workflowIDArg(c *cli.Context) (string, error) {
	if c.NArg() != 1 {
		return "", fmt.Errorf("requires exactly one argument: workflow id or seed")
	}
	arg := c.Args().First()
	if seed, err := seedArg(c); err == nil {
		return temporal.WorkflowID(c.String("network"), seed.String()), nil
	}
	return arg, nil
}

func printWorkflowResult(w io.Writer, r *temporal.RandomnessWorkflowResult) {
	fmt.Fprintf(w, "Status:      %s\n", r.Status)
	fmt.Fprintf(w, "Seed:        %s (%s)\n", r.Seed, r.Network)
	fmt.Fprintf(w, "Address:     %s\n", r.Address)
	fmt.Fprintf(w, "Submitted:   %t\n", r.Submitted)
	fmt.Fprintf(w, "Request:     %s\n", optional(r.RequestSignature))
	if r.Randomness != "" {
		fmt.Fprintf(w, "Randomness:  %s\n", r.Randomness)
	}
	if r.Value != nil {
		fmt.Fprintf(w, "Value:       %d\n", *r.Value)
	}
	fmt.Fprintf(w, "Verified:    %t (trusted: %t)\n", r.Verified, r.Trusted)
	if r.Authority != "" {
		fmt.Fprintf(w, "Authority:   %s\n", r.Authority)
	}
	fmt.Fprintf(w, "Polls:       %d\n", r.Polls)
	if r.Error != nil {
		fmt.Fprintf(w, "Error:       %s\n", *r.Error)
	}
	if !r.CompletedAt.IsZero() {
		fmt.Fprintf(w, "Completed:   %s\n", r.CompletedAt.Format(time.RFC3339))
	}
}

func startWorkflowCommand() *cli.Command {
	return &cli.Command{
		Name:      "start",
		Usage:     "Start the randomness workflow for a seed (random seed when omitted)",
		ArgsUsage: "[SEED]",
		Flags: []cli.Flag{
			&cli.DurationFlag{
				Name:  "poll-interval",
				Usage: "How often the workflow checks for fulfillment",
				Value: 2 * time.Second,
			},
			&cli.DurationFlag{
				Name:  "fulfillment-timeout",
				Usage: "How long the workflow waits for fulfillment",
				Value: 2 * time.Minute,
			},
		},
		Action: func(c *cli.Context) error {
			var (
				seed vrf.Seed
				err  error
			)
			if c.NArg() > 0 {
				seed, err = seedArg(c)
			} else {
				seed, err = vrf.RandomSeed()
			}
			if err != nil {
				return err
			}
			out := seedOutput{Seed: seed.String(), SeedHex: seed.Hex()}
			env, err := envFromFlags(c)
			if err != nil {
				return err
			}

			tc, err := getTemporalClient(c)
			if err != nil {
				return err
			}
			defer tc.Close()

			id, err := tc.StartRandomnessWorkflow(c.Context, temporal.RandomnessWorkflowInput{
				Seed:               out.Seed,
				Network:            string(env.Network),
				PollInterval:       c.Duration("poll-interval"),
				FulfillmentTimeout: c.Duration("fulfillment-timeout"),
			})
			if err != nil {
				return err
			}
			return output(c, map[string]string{"seed": out.Seed, "workflow_id": id}, func(w io.Writer) {
				fmt.Fprintf(w, "✓ Workflow started: %s\n", id)
				fmt.Fprintf(w, "  Seed: %s\n", out.Seed)
			})
		},
	}
}

func describeWorkflowCommand() *cli.Command {
	return &cli.Command{
		Name:      "describe",
		Usage:     "Describe a randomness workflow",
		Aliases:   []string{"desc"},
		ArgsUsage: "<workflow-id|seed>",
		Action: func(c *cli.Context) error {
			id, err := workflowIDArg(c)
			if err != nil {
				return err
			}
			tc, err := getTemporalClient(c)
			if err != nil {
				return err
			}
			defer tc.Close()

			status, err := tc.DescribeRandomnessWorkflow(c.Context, id)
			if err != nil {
				return err
			}
			return output(c, status, func(w io.Writer) {
				fmt.Fprintf(w, "Workflow ID: %s\n", status.WorkflowID)
				fmt.Fprintf(w, "Run ID:      %s\n", status.RunID)
				fmt.Fprintf(w, "State:       %s\n", status.Status)
				if status.Result != nil {
					printWorkflowResult(w, status.Result)
				}
				if status.Error != nil {
					fmt.Fprintf(w, "Error:       %s\n", *status.Error)
				}
			})
		},
	}
}

func workflowResultCommand() *cli.Command {
	return &cli.Command{
		Name:      "result",
		Usage:     "Block until a randomness workflow completes and print its result",
		ArgsUsage: "<workflow-id|seed>",
		Flags: []cli.Flag{
			&cli.DurationFlag{
				Name:    "timeout",
				Aliases: []string{"t"},
				Value:   5 * time.Minute,
				Usage:   "How long to wait for the workflow",
			},
		},
		Action: func(c *cli.Context) error {
			id, err := workflowIDArg(c)
			if err != nil {
				return err
			}
			tc, err := getTemporalClient(c)
			if err != nil {
				return err
			}
			defer tc.Close()

			ctx, cancel := signalContext(c.Context, c.Duration("timeout"))
			defer cancel()

			result, err := tc.GetRandomnessWorkflowResult(ctx, id)
			if err != nil {
				return err
			}
			return output(c, result, func(w io.Writer) { printWorkflowResult(w, result) })
		},
	}
}
