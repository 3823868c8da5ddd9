package vrf

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/mr-tron/base58"
)

// SeedSize is the length of a randomness request seed.
const SeedSize = 32

// Seed identifies a single randomness request. It is also the message the
// oracle signs when fulfilling it.
type Seed [SeedSize]byte

// RandomSeed draws a fresh seed from the system CSPRNG.
func RandomSeed() (Seed, error) {
	var s Seed
	if _, err := rand.Read(s[:]); err != nil {
		return Seed{}, fmt.Errorf("failed to read random seed: %w", err)
	}
	return s, nil
}

// ParseSeed accepts a 64 character hex string (optionally 0x prefixed) or a
// base58 string that decodes to exactly 32 bytes.
func ParseSeed(s string) (Seed, error) {
	s = strings.TrimSpace(s)
	var seed Seed

	hexStr := strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	if len(hexStr) == hex.EncodedLen(SeedSize) {
		if b, err := hex.DecodeString(hexStr); err == nil {
			copy(seed[:], b)
			return seed, nil
		}
	}

	b, err := base58.Decode(s)
	if err != nil {
		return Seed{}, fmt.Errorf("invalid seed %q: not hex or base58", s)
	}
	if len(b) != SeedSize {
		return Seed{}, fmt.Errorf("invalid seed %q: decoded to %d bytes, expected %d", s, len(b), SeedSize)
	}
	copy(seed[:], b)
	return seed, nil
}

// String returns the base58 encoding of the seed.
func (s Seed) String() string {
	return base58.Encode(s[:])
}

// Hex returns the lowercase hex encoding of the seed.
func (s Seed) Hex() string {
	return hex.EncodeToString(s[:])
}

func (s Seed) IsZero() bool {
	return s == Seed{}
}

func (s Seed) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *Seed) UnmarshalText(text []byte) error {
	parsed, err := ParseSeed(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}
