package vrf

import (
	"github.com/gagliardetto/solana-go"
)

// VerifyFulfillment checks signature against seed using the public key
// carried by tx's companion Ed25519 instruction, independently of the
// runtime's own check. It returns the key that produced the signature.
func VerifyFulfillment(tx *FulfillmentTx, seed Seed, signature solana.Signature) (solana.PublicKey, error) {
	const op = "verify fulfillment"
	if tx == nil {
		return solana.PublicKey{}, verifyErrorf(op, "no fulfillment transaction")
	}

	companions := tx.Ed25519Instructions()
	if len(companions) == 0 {
		return solana.PublicKey{}, verifyErrorf(op, "transaction %s has no ed25519 instruction", tx.Signature)
	}

	var (
		checked  int
		parseErr error
	)
	for _, data := range companions {
		entries, err := ParseEd25519Instruction(data)
		if err != nil {
			parseErr = err
			continue
		}
		for _, entry := range entries {
			checked++
			if entry.PublicKey.Verify(seed[:], signature) {
				return entry.PublicKey, nil
			}
		}
	}

	if checked == 0 {
		return solana.PublicKey{}, verifyErrorf(op, "unusable ed25519 instruction in %s: %v", tx.Signature, parseErr)
	}
	return solana.PublicKey{}, verifyErrorf(op, "signature does not verify against seed %s under %d candidate key(s)", seed, checked)
}
