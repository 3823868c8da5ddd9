package vrf

import (
	"encoding/binary"
	"fmt"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
)

// Account discriminators: the first 8 bytes of sha256("account:<Name>").
var (
	RandomnessDiscriminator   = bin.SighashTypeID(bin.SIGHASH_ACCOUNT_NAMESPACE, "Randomness")
	NetworkStateDiscriminator = bin.SighashTypeID(bin.SIGHASH_ACCOUNT_NAMESPACE, "NetworkState")
)

// RandomnessStatus is the lifecycle tag stored in a randomness account.
type RandomnessStatus uint8

const (
	StatusPending RandomnessStatus = iota
	StatusFulfilled
)

func (s RandomnessStatus) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusFulfilled:
		return "fulfilled"
	default:
		return fmt.Sprintf("status(%d)", uint8(s))
	}
}

func (s RandomnessStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *RandomnessStatus) UnmarshalText(text []byte) error {
	switch string(text) {
	case "pending":
		*s = StatusPending
	case "fulfilled":
		*s = StatusFulfilled
	default:
		return fmt.Errorf("unknown randomness status %q", text)
	}
	return nil
}

// Randomness is the decoded state of a randomness account.
type Randomness struct {
	Seed      Seed              `json:"seed"`
	Signature *solana.Signature `json:"signature,omitempty"` // nil while pending
	Status    RandomnessStatus  `json:"status"`
}

// Fulfilled reports whether the oracle has written a signature.
func (r *Randomness) Fulfilled() bool {
	return r.Status == StatusFulfilled && r.Signature != nil
}

// Value returns the 64 bytes of randomness, or nil while pending.
func (r *Randomness) Value() []byte {
	if r.Signature == nil {
		return nil
	}
	return r.Signature[:]
}

// U64 interprets the first 8 bytes of randomness as a little-endian integer.
func (r *Randomness) U64() (uint64, bool) {
	if r.Signature == nil {
		return 0, false
	}
	return binary.LittleEndian.Uint64(r.Signature[:8]), true
}

// NetworkConfig is the decoded state of the program's configuration account.
type NetworkConfig struct {
	Authority              solana.PublicKey   `json:"authority"`
	Treasury               solana.PublicKey   `json:"treasury"`
	RequestFee             uint64             `json:"request_fee"` // lamports
	FulfillmentAuthorities []solana.PublicKey `json:"fulfillment_authorities"`
}

// IsFulfillmentAuthority reports whether key is one of the configured
// fulfillment authorities.
func (c *NetworkConfig) IsFulfillmentAuthority(key solana.PublicKey) bool {
	return key.IsAnyOf(c.FulfillmentAuthorities...)
}

// Sizes of the fixed-layout prefixes, used for fail-fast length checks.
const (
	randomnessMinSize    = 8 + SeedSize + 1 + 1
	networkConfigMinSize = 8 + 32 + 32 + 8
	maxAuthorities       = 256
)

// DecodeRandomness parses the raw bytes of a randomness account. It never
// panics; malformed input yields an error matching ErrDecode.
func DecodeRandomness(data []byte) (*Randomness, error) {
	const op = "decode randomness"
	if len(data) < randomnessMinSize {
		return nil, decodeErrorf(op, "account data too short: %d bytes, need at least %d", len(data), randomnessMinSize)
	}

	dec := bin.NewBorshDecoder(data)
	disc, err := dec.ReadTypeID()
	if err != nil {
		return nil, decodeErrorf(op, "discriminator: %w", err)
	}
	if disc != RandomnessDiscriminator {
		return nil, decodeErrorf(op, "unexpected discriminator %x", disc[:])
	}

	out := &Randomness{}
	seed, err := dec.ReadNBytes(SeedSize)
	if err != nil {
		return nil, decodeErrorf(op, "seed: %w", err)
	}
	copy(out.Seed[:], seed)

	tag, err := dec.ReadByte()
	if err != nil {
		return nil, decodeErrorf(op, "signature tag: %w", err)
	}
	switch tag {
	case 0:
	case 1:
		raw, err := dec.ReadNBytes(solana.SignatureLength)
		if err != nil {
			return nil, decodeErrorf(op, "signature: %w", err)
		}
		sig := solana.SignatureFromBytes(raw)
		out.Signature = &sig
	default:
		return nil, decodeErrorf(op, "invalid signature option tag %d", tag)
	}

	status, err := dec.ReadByte()
	if err != nil {
		return nil, decodeErrorf(op, "status: %w", err)
	}
	switch RandomnessStatus(status) {
	case StatusPending, StatusFulfilled:
		out.Status = RandomnessStatus(status)
	default:
		return nil, decodeErrorf(op, "invalid status %d", status)
	}
	if out.Status == StatusFulfilled && out.Signature == nil {
		return nil, decodeErrorf(op, "fulfilled account carries no signature")
	}
	return out, nil
}

// DecodeNetworkConfig parses the raw bytes of the configuration account.
// A missing authorities tail decodes as an empty list.
func DecodeNetworkConfig(data []byte) (*NetworkConfig, error) {
	const op = "decode network config"
	if len(data) < networkConfigMinSize {
		return nil, decodeErrorf(op, "account data too short: %d bytes, need at least %d", len(data), networkConfigMinSize)
	}

	dec := bin.NewBorshDecoder(data)
	disc, err := dec.ReadTypeID()
	if err != nil {
		return nil, decodeErrorf(op, "discriminator: %w", err)
	}
	if disc != NetworkStateDiscriminator {
		return nil, decodeErrorf(op, "unexpected discriminator %x", disc[:])
	}

	out := &NetworkConfig{}
	if out.Authority, err = readPublicKey(dec); err != nil {
		return nil, decodeErrorf(op, "authority: %w", err)
	}
	if out.Treasury, err = readPublicKey(dec); err != nil {
		return nil, decodeErrorf(op, "treasury: %w", err)
	}
	if out.RequestFee, err = dec.ReadUint64(bin.LE); err != nil {
		return nil, decodeErrorf(op, "request fee: %w", err)
	}

	if !dec.HasRemaining() {
		return out, nil
	}
	n, err := dec.ReadUint32(bin.LE)
	if err != nil {
		return nil, decodeErrorf(op, "authorities length: %w", err)
	}
	if n > maxAuthorities || int(n)*solana.PublicKeyLength > dec.Remaining() {
		return nil, decodeErrorf(op, "authorities length %d exceeds remaining %d bytes", n, dec.Remaining())
	}
	out.FulfillmentAuthorities = make([]solana.PublicKey, 0, n)
	for i := range int(n) {
		key, err := readPublicKey(dec)
		if err != nil {
			return nil, decodeErrorf(op, "authority %d: %w", i, err)
		}
		out.FulfillmentAuthorities = append(out.FulfillmentAuthorities, key)
	}
	return out, nil
}

// DecodeTreasury returns only the treasury address from the configuration
// account.
func DecodeTreasury(data []byte) (solana.PublicKey, error) {
	cfg, err := DecodeNetworkConfig(data)
	if err != nil {
		return solana.PublicKey{}, err
	}
	return cfg.Treasury, nil
}

func readPublicKey(dec *bin.Decoder) (solana.PublicKey, error) {
	raw, err := dec.ReadNBytes(solana.PublicKeyLength)
	if err != nil {
		return solana.PublicKey{}, err
	}
	return solana.PublicKeyFromBytes(raw), nil
}
