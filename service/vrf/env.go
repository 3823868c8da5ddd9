package vrf

import (
	"fmt"
	"strings"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
)

// Network names a Solana cluster the VRF program is deployed on.
type Network string

const (
	Mainnet  Network = "mainnet"
	Devnet   Network = "devnet"
	Localnet Network = "localnet"
)

// Seed prefixes used by the program to derive its accounts.
const (
	ConfigAccountSeed     = "orao-vrf-network-configuration"
	RandomnessAccountSeed = "orao-vrf-randomness-request"
)

// DefaultProgramID is the VRF program address on mainnet and devnet.
var DefaultProgramID = solana.MustPublicKeyFromBase58("VRFzZoJdhFWL8rkvu87LpKM3RbcVezpMEc6X5GVDr7y")

// Env is the static environment a Requestor is bound to. It is never
// mutated after construction.
type Env struct {
	Network        Network
	RPCURLs        []string
	ProgramID      solana.PublicKey
	ConfigSeed     string
	RandomnessSeed string
}

// EnvForNetwork returns the default environment for a named network.
func EnvForNetwork(name string) (Env, error) {
	env := Env{
		Network:        Network(strings.ToLower(strings.TrimSpace(name))),
		ProgramID:      DefaultProgramID,
		ConfigSeed:     ConfigAccountSeed,
		RandomnessSeed: RandomnessAccountSeed,
	}
	switch env.Network {
	case Mainnet:
		env.RPCURLs = []string{rpc.MainNetBeta_RPC}
	case Devnet:
		env.RPCURLs = []string{rpc.DevNet_RPC}
	case Localnet:
		env.RPCURLs = []string{rpc.LocalNet_RPC}
	default:
		return Env{}, fmt.Errorf("unknown network %q (expected mainnet, devnet or localnet)", name)
	}
	return env, nil
}

// NewEnv starts from the defaults for network and applies the non-empty
// overrides. The result is validated.
func NewEnv(network string, rpcURLs []string, programID string) (Env, error) {
	env, err := EnvForNetwork(network)
	if err != nil {
		return Env{}, err
	}
	if len(rpcURLs) > 0 {
		env.RPCURLs = rpcURLs
	}
	if programID != "" {
		id, err := solana.PublicKeyFromBase58(programID)
		if err != nil {
			return Env{}, fmt.Errorf("invalid program id %q: %w", programID, err)
		}
		env.ProgramID = id
	}
	if err := env.Validate(); err != nil {
		return Env{}, err
	}
	return env, nil
}

// Validate checks that the environment can derive addresses and reach a node.
func (e Env) Validate() error {
	if e.ProgramID.IsZero() {
		return fmt.Errorf("program id is required")
	}
	if len(e.RPCURLs) == 0 {
		return fmt.Errorf("at least one RPC URL is required")
	}
	for _, prefix := range []struct{ name, seed string }{
		{"config", e.ConfigSeed},
		{"randomness", e.RandomnessSeed},
	} {
		if prefix.seed == "" {
			return fmt.Errorf("%s seed prefix is required", prefix.name)
		}
		if len(prefix.seed) > solana.MaxSeedLength {
			return fmt.Errorf("%s seed prefix %q exceeds %d bytes", prefix.name, prefix.seed, solana.MaxSeedLength)
		}
	}
	return nil
}

// ConfigAddress returns the address of the program's network configuration
// account.
func (e Env) ConfigAddress() solana.PublicKey {
	addr, _ := DeriveAddress(e.ProgramID, []byte(e.ConfigSeed))
	return addr
}

// RandomnessAddress returns the address of the randomness account for seed.
func (e Env) RandomnessAddress(seed Seed) solana.PublicKey {
	addr, _ := DeriveAddress(e.ProgramID, []byte(e.RandomnessSeed), seed[:])
	return addr
}
