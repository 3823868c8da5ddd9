// Package vrf implements the client side of the VRF oracle protocol:
// deriving the program's accounts, decoding their state, building request
// instructions and independently verifying fulfilled randomness.
package vrf

import (
	"errors"
	"fmt"
	"math"

	"github.com/gagliardetto/solana-go"
)

// minBump is the last bump the canonical search tries. Bump 0 is never
// considered, as in solana.FindProgramAddress.
const minBump = 1

// DeriveAddress returns the canonical program-derived address for seeds under
// programID, together with its bump.
//
// The search matches the on-chain runtime: bumps are tried from 255 down to
// 1 and the first candidate that is not a valid curve point wins.
//
// DeriveAddress panics if a seed is longer than solana.MaxSeedLength or if no
// bump yields an off-curve address. Neither can happen for the fixed seed
// layout this package uses.
func DeriveAddress(programID solana.PublicKey, seeds ...[]byte) (solana.PublicKey, uint8) {
	candidate := make([][]byte, len(seeds)+1)
	copy(candidate, seeds)

	var addr solana.PublicKey
	bump, ok := searchBump(func(bump uint8) bool {
		candidate[len(seeds)] = []byte{bump}
		var err error
		addr, err = solana.CreateProgramAddress(candidate, programID)
		if errors.Is(err, solana.ErrMaxSeedLengthExceeded) {
			panic(fmt.Sprintf("vrf: derive address: %v", err))
		}
		return err == nil
	})
	if !ok {
		panic(fmt.Sprintf("vrf: derive address: no viable bump for program %s", programID))
	}
	return addr, bump
}

// searchBump returns the first bump, counting down from 255 to minBump, for
// which viable reports true.
func searchBump(viable func(bump uint8) bool) (uint8, bool) {
	for bump := uint8(math.MaxUint8); bump >= minBump; bump-- {
		if viable(bump) {
			return bump, true
		}
	}
	return 0, false
}
