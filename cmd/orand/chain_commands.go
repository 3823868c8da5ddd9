package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/brojonat/orand/service/solana"
	"github.com/brojonat/orand/service/vrf"
	"github.com/urfave/cli/v2"
)

// envFromFlags resolves the VRF environment from the global flags.
func envFromFlags(c *cli.Context) (vrf.Env, error) {
	env, err := vrf.NewEnv(c.String("network"), c.StringSlice("rpc-url"), c.String("program-id"))
	if err != nil {
		return vrf.Env{}, fmt.Errorf("invalid network settings: %w", err)
	}
	return env, nil
}

// newRequestor builds a requestor talking to one of the configured RPC URLs.
func newRequestor(c *cli.Context, opts ...solana.Option) (*vrf.Requestor, error) {
	env, err := envFromFlags(c)
	if err != nil {
		return nil, err
	}
	logger := newLogger(c)
	chain, err := solana.Dial(env.RPCURLs, nil, logger, opts...)
	if err != nil {
		return nil, err
	}
	return vrf.NewRequestor(chain, env, nil, logger), nil
}

// seedArg parses the first argument as a seed.
func seedArg(c *cli.Context) (vrf.Seed, error) {
	if c.NArg() != 1 {
		return vrf.Seed{}, fmt.Errorf("requires exactly one argument: seed (hex or base58)")
	}
	return vrf.ParseSeed(c.Args().First())
}

// signalContext returns a context cancelled on interrupt, bounded by timeout
// when it is positive.
func signalContext(parent context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	if timeout <= 0 {
		return ctx, stop
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	return ctx, func() {
		cancel()
		stop()
	}
}

type seedOutput struct {
	Seed    string `json:"seed"`
	SeedHex string `json:"seed_hex"`
}

func seedCommand() *cli.Command {
	return &cli.Command{
		Name:      "seed",
		Usage:     "Generate a random seed, or print both encodings of a given one",
		ArgsUsage: "[SEED]",
		Action: func(c *cli.Context) error {
			var seed vrf.Seed
			var err error
			if c.NArg() > 0 {
				seed, err = seedArg(c)
			} else {
				seed, err = vrf.RandomSeed()
			}
			if err != nil {
				return err
			}

			out := seedOutput{Seed: seed.String(), SeedHex: seed.Hex()}
			return output(c, out, func(w io.Writer) {
				fmt.Fprintf(w, "Seed (base58): %s\n", out.Seed)
				fmt.Fprintf(w, "Seed (hex):    %s\n", out.SeedHex)
			})
		},
	}
}

type addressOutput struct {
	Seed          string `json:"seed"`
	SeedHex       string `json:"seed_hex"`
	Network       string `json:"network"`
	ProgramID     string `json:"program_id"`
	Address       string `json:"address"`
	Bump          uint8  `json:"bump"`
	ConfigAddress string `json:"config_address"`
}

func addressCommand() *cli.Command {
	return &cli.Command{
		Name:      "address",
		Usage:     "Derive the randomness account address for a seed (no RPC)",
		ArgsUsage: "SEED",
		Action: func(c *cli.Context) error {
			seed, err := seedArg(c)
			if err != nil {
				return err
			}
			env, err := envFromFlags(c)
			if err != nil {
				return err
			}

			addr, bump := vrf.DeriveAddress(env.ProgramID, []byte(env.RandomnessSeed), seed[:])
			out := addressOutput{
				Seed:          seed.String(),
				SeedHex:       seed.Hex(),
				Network:       string(env.Network),
				ProgramID:     env.ProgramID.String(),
				Address:       addr.String(),
				Bump:          bump,
				ConfigAddress: env.ConfigAddress().String(),
			}
			return output(c, out, func(w io.Writer) {
				fmt.Fprintf(w, "Seed:       %s\n", out.Seed)
				fmt.Fprintf(w, "Program:    %s (%s)\n", out.ProgramID, out.Network)
				fmt.Fprintf(w, "Address:    %s\n", out.Address)
				fmt.Fprintf(w, "Bump:       %d\n", out.Bump)
				fmt.Fprintf(w, "Config:     %s\n", out.ConfigAddress)
			})
		},
	}
}

func configCommand() *cli.Command {
	return &cli.Command{
		Name:  "config",
		Usage: "Read the program's network configuration account",
		Action: func(c *cli.Context) error {
			r, err := newRequestor(c)
			if err != nil {
				return err
			}
			ctx, cancel := signalContext(c.Context, 30*time.Second)
			defer cancel()

			cfg, err := r.NetworkConfig(ctx)
			if err != nil {
				return err
			}
			return output(c, cfg, func(w io.Writer) {
				fmt.Fprintf(w, "Config account: %s\n", r.Env().ConfigAddress())
				fmt.Fprintf(w, "Authority:      %s\n", cfg.Authority)
				fmt.Fprintf(w, "Treasury:       %s\n", cfg.Treasury)
				fmt.Fprintf(w, "Request fee:    %d lamports\n", cfg.RequestFee)
				fmt.Fprintf(w, "Fulfillment authorities (%d):\n", len(cfg.FulfillmentAuthorities))
				for _, key := range cfg.FulfillmentAuthorities {
					fmt.Fprintf(w, "  %s\n", key)
				}
			})
		},
	}
}

type randomnessOutput struct {
	Seed       string  `json:"seed"`
	Address    string  `json:"address"`
	Status     string  `json:"status"`
	Randomness string  `json:"randomness,omitempty"`
	Value      *uint64 `json:"value,omitempty"`
}

func newRandomnessOutput(env vrf.Env, seed vrf.Seed, rnd *vrf.Randomness) randomnessOutput {
	out := randomnessOutput{
		Seed:    seed.String(),
		Address: env.RandomnessAddress(seed).String(),
		Status:  rnd.Status.String(),
	}
	if rnd.Signature != nil {
		out.Randomness = rnd.Signature.String()
	}
	if v, ok := rnd.U64(); ok {
		out.Value = &v
	}
	return out
}

func printRandomness(w io.Writer, out randomnessOutput) {
	fmt.Fprintf(w, "Seed:       %s\n", out.Seed)
	fmt.Fprintf(w, "Address:    %s\n", out.Address)
	fmt.Fprintf(w, "Status:     %s\n", out.Status)
	if out.Randomness != "" {
		fmt.Fprintf(w, "Randomness: %s\n", out.Randomness)
	}
	if out.Value != nil {
		fmt.Fprintf(w, "Value:      %d\n", *out.Value)
	}
}

func getCommand() *cli.Command {
	return &cli.Command{
		Name:      "get",
		Usage:     "Read the randomness account for a seed",
		ArgsUsage: "SEED",
		Action: func(c *cli.Context) error {
			seed, err := seedArg(c)
			if err != nil {
				return err
			}
			r, err := newRequestor(c)
			if err != nil {
				return err
			}
			ctx, cancel := signalContext(c.Context, 30*time.Second)
			defer cancel()

			rnd, err := r.Randomness(ctx, seed)
			if err != nil {
				return err
			}
			out := newRandomnessOutput(r.Env(), seed, rnd)
			return output(c, out, func(w io.Writer) { printRandomness(w, out) })
		},
	}
}

func awaitFlags() []cli.Flag {
	return []cli.Flag{
		&cli.DurationFlag{
			Name:  "interval",
			Usage: "How often to poll the randomness account",
			Value: 2 * time.Second,
		},
		&cli.DurationFlag{
			Name:    "timeout",
			Aliases: []string{"t"},
			Usage:   "How long to wait for fulfillment",
			Value:   2 * time.Minute,
		},
	}
}

func requestCommand() *cli.Command {
	return &cli.Command{
		Name:      "request",
		Usage:     "Submit a randomness request signed by a keypair (random seed when omitted)",
		ArgsUsage: "[SEED]",
		Flags: append([]cli.Flag{
			&cli.StringFlag{
				Name:     "keypair",
				Aliases:  []string{"k"},
				Usage:    "Path to the payer's solana-keygen JSON file",
				EnvVars:  []string{"PAYER_KEYPAIR"},
				Required: true,
			},
			&cli.BoolFlag{
				Name:    "await",
				Aliases: []string{"w"},
				Usage:   "Wait for fulfillment after submitting",
			},
			&cli.DurationFlag{
				Name:  "confirm-timeout",
				Usage: "How long to wait for the request transaction to confirm",
				Value: 60 * time.Second,
			},
		}, awaitFlags()...),
		Action: func(c *cli.Context) error {
			var seed vrf.Seed
			var err error
			if c.NArg() > 0 {
				seed, err = seedArg(c)
			} else {
				seed, err = vrf.RandomSeed()
			}
			if err != nil {
				return err
			}

			signer, err := vrf.LoadKeypair(c.String("keypair"))
			if err != nil {
				return err
			}
			r, err := newRequestor(c, solana.WithConfirmTimeout(c.Duration("confirm-timeout")))
			if err != nil {
				return err
			}

			ctx, cancel := signalContext(c.Context, 0)
			defer cancel()

			res, err := r.Request(ctx, signer, seed)
			if err != nil {
				return fmt.Errorf("request failed: %w", err)
			}
			if !c.Bool("await") {
				return output(c, res, func(w io.Writer) {
					fmt.Fprintf(w, "Seed:      %s\n", res.Seed)
					fmt.Fprintf(w, "Address:   %s\n", res.Address)
					if res.Submitted {
						fmt.Fprintf(w, "Signature: %s\n", res.Signature)
					} else {
						fmt.Fprintf(w, "Already requested, nothing submitted\n")
					}
				})
			}

			if !c.Bool("json") && c.String("jq") == "" {
				fmt.Fprintf(os.Stderr, "Waiting for fulfillment of %s...\n", seed)
			}
			return awaitAndPrint(c, r, seed)
		},
	}
}

func awaitCommand() *cli.Command {
	return &cli.Command{
		Name:      "await",
		Usage:     "Block until the randomness for a seed is fulfilled",
		ArgsUsage: "SEED",
		Flags:     awaitFlags(),
		Action: func(c *cli.Context) error {
			seed, err := seedArg(c)
			if err != nil {
				return err
			}
			r, err := newRequestor(c)
			if err != nil {
				return err
			}
			return awaitAndPrint(c, r, seed)
		},
	}
}

func awaitAndPrint(c *cli.Context, r *vrf.Requestor, seed vrf.Seed) error {
	ctx, cancel := signalContext(c.Context, c.Duration("timeout"))
	defer cancel()

	rnd, err := r.AwaitFulfillment(ctx, seed, c.Duration("interval"))
	if err != nil {
		return fmt.Errorf("failed to await fulfillment: %w", err)
	}
	out := newRandomnessOutput(r.Env(), seed, rnd)
	return output(c, out, func(w io.Writer) { printRandomness(w, out) })
}

func verifyCommand() *cli.Command {
	return &cli.Command{
		Name:      "verify",
		Usage:     "Verify fulfilled randomness offchain from public ledger data",
		ArgsUsage: "SEED",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "require-trusted",
				Usage: "Fail unless the fulfilling key is a listed fulfillment authority",
			},
		},
		Action: func(c *cli.Context) error {
			seed, err := seedArg(c)
			if err != nil {
				return err
			}
			r, err := newRequestor(c)
			if err != nil {
				return err
			}
			ctx, cancel := signalContext(c.Context, 2*time.Minute)
			defer cancel()

			v, err := r.Verify(ctx, seed)
			if err != nil {
				return fmt.Errorf("verification failed: %w", err)
			}
			if err := output(c, v, func(w io.Writer) {
				fmt.Fprintf(w, "✓ Randomness verified\n")
				fmt.Fprintf(w, "  Seed:        %s\n", v.Seed)
				fmt.Fprintf(w, "  Address:     %s\n", v.Address)
				fmt.Fprintf(w, "  Randomness:  %s\n", v.Randomness)
				fmt.Fprintf(w, "  Transaction: %s (slot %d)\n", v.Transaction, v.Slot)
				if v.BlockTime != nil {
					fmt.Fprintf(w, "  Block Time:  %s\n", v.BlockTime.Format(time.RFC3339))
				}
				fmt.Fprintf(w, "  Authority:   %s (trusted: %t)\n", v.Authority, v.Trusted)
			}); err != nil {
				return err
			}
			if c.Bool("require-trusted") && !v.Trusted {
				return fmt.Errorf("authority %s is not a listed fulfillment authority", v.Authority)
			}
			return nil
		},
	}
}
