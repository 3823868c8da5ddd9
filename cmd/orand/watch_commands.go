package main

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/brojonat/orand/client"
	natspkg "github.com/brojonat/orand/service/nats"
	"github.com/itchyny/gojq"
	"github.com/urfave/cli/v2"
)

func eventFilterFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "type",
			Aliases: []string{"t"},
			Usage:   "Event type (requested, fulfilled, verified); all when omitted",
		},
		&cli.StringSliceFlag{
			Name:  "must-jq",
			Usage: "jq filter each event must satisfy (can be specified multiple times, all must match)",
		},
	}
}

func compileMustJQ(c *cli.Context) ([]*gojq.Code, error) {
	filters := c.StringSlice("must-jq")
	codes := make([]*gojq.Code, len(filters))
	for i, filter := range filters {
		code, err := compileJQ(filter)
		if err != nil {
			return nil, err
		}
		codes[i] = code
	}
	return codes, nil
}

func matchesAll(codes []*gojq.Code, v interface{}) bool {
	for _, code := range codes {
		if !matchesJQ(code, v) {
			return false
		}
	}
	return true
}

func watchCommand() *cli.Command {
	return &cli.Command{
		Name:      "watch",
		Usage:     "Stream randomness events from NATS JetStream",
		ArgsUsage: "[ACCOUNT_ADDRESS]",
		Flags: append(eventFilterFlags(),
			&cli.BoolFlag{
				Name:  "replay",
				Usage: "Deliver retained events before new ones",
			},
		),
		Action: func(c *cli.Context) error {
			address := c.Args().First()
			typ := natspkg.EventType(c.String("type"))
			switch typ {
			case "", natspkg.EventRequested, natspkg.EventFulfilled, natspkg.EventVerified:
			default:
				return fmt.Errorf("invalid event type %q", typ)
			}
			codes, err := compileMustJQ(c)
			if err != nil {
				return err
			}

			filter := natspkg.SubjectFilter(typ, address)
			if !c.Bool("json") && c.String("jq") == "" {
				fmt.Fprintf(os.Stderr, "Subscribed to %s on %s (Ctrl+C to stop)\n\n", filter, c.String("nats-url"))
			}

			ctx, cancel := signalContext(c.Context, 0)
			defer cancel()

			var mu sync.Mutex
			var outErr error
			err = natspkg.Subscribe(ctx, c.String("nats-url"), filter, c.Bool("replay"), newLogger(c), func(event *natspkg.RandomnessEvent) {
				if !matchesAll(codes, event) {
					return
				}
				mu.Lock()
				defer mu.Unlock()
				if err := output(c, event, func(w io.Writer) { printEvent(w, event) }); err != nil && outErr == nil {
					outErr = err
					cancel()
				}
			})
			if err != nil {
				return err
			}
			mu.Lock()
			defer mu.Unlock()
			return outErr
		},
	}
}

func printEvent(w io.Writer, e *natspkg.RandomnessEvent) {
	fmt.Fprintln(w, "━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	fmt.Fprintf(w, "Event:      %s\n", e.Type)
	fmt.Fprintf(w, "Seed:       %s\n", e.Seed)
	fmt.Fprintf(w, "Address:    %s (%s)\n", e.Address, e.Network)
	if e.RequestSignature != "" {
		fmt.Fprintf(w, "Request:    %s\n", e.RequestSignature)
	}
	if e.Randomness != "" {
		fmt.Fprintf(w, "Randomness: %s\n", e.Randomness)
	}
	if e.Value != nil {
		fmt.Fprintf(w, "Value:      %d\n", *e.Value)
	}
	if e.Type == natspkg.EventVerified {
		fmt.Fprintf(w, "Verified:   %t (trusted: %t)\n", e.Verified, e.Trusted)
		if e.Authority != "" {
			fmt.Fprintf(w, "Authority:  %s\n", e.Authority)
		}
		if e.Error != "" {
			fmt.Fprintf(w, "Error:      %s\n", e.Error)
		}
	}
	if !e.PublishedAt.IsZero() {
		fmt.Fprintf(w, "Published:  %s\n", e.PublishedAt.Format(time.RFC3339))
	}
}

func streamCommand() *cli.Command {
	return &cli.Command{
		Name:      "stream",
		Usage:     "Stream randomness events from the server over SSE",
		ArgsUsage: "[ACCOUNT_ADDRESS]",
		Flags:     eventFilterFlags(),
		Action: func(c *cli.Context) error {
			codes, err := compileMustJQ(c)
			if err != nil {
				return err
			}
			ctx, cancel := signalContext(c.Context, 0)
			defer cancel()

			cl := client.NewClient(c.String("server-url"), nil, newLogger(c))
			err = cl.Stream(ctx, client.StreamOptions{
				Address: c.Args().First(),
				Type:    c.String("type"),
				OnConnected: func() error {
					if !c.Bool("json") && c.String("jq") == "" {
						fmt.Fprintf(os.Stderr, "Connected to %s (Ctrl+C to stop)\n\n", c.String("server-url"))
					}
					return nil
				},
			}, func(event *client.Event) error {
				if !matchesAll(codes, event) {
					return nil
				}
				return output(c, event, func(w io.Writer) {
					printEvent(w, &natspkg.RandomnessEvent{
						Type:                 natspkg.EventType(event.Type),
						Seed:                 event.Seed,
						Network:              event.Network,
						Address:              event.Address,
						RequestSignature:     event.RequestSignature,
						Randomness:           event.Randomness,
						Value:                event.Value,
						FulfillmentSignature: event.FulfillmentSignature,
						Authority:            event.Authority,
						Verified:             event.Verified,
						Trusted:              event.Trusted,
						Error:                event.Error,
						PublishedAt:          event.PublishedAt,
					})
				})
			})
			if err != nil && ctx.Err() != nil {
				// Context cancelled (user interrupt)
				return nil
			}
			return err
		},
	}
}
