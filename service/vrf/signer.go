package vrf

import (
	"fmt"

	"github.com/gagliardetto/solana-go"
)

// Signer is the capability used to pay for and sign request transactions.
// solana.PrivateKey satisfies it.
type Signer interface {
	PublicKey() solana.PublicKey
	Sign(message []byte) (solana.Signature, error)
}

var _ Signer = solana.PrivateKey(nil)

// LoadKeypair reads a signer from a solana-keygen JSON file.
func LoadKeypair(path string) (Signer, error) {
	key, err := solana.PrivateKeyFromSolanaKeygenFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load keypair from %s: %w", path, err)
	}
	return key, nil
}

// signTransaction signs tx's message with signer, which must be the only
// required signer.
func signTransaction(tx *solana.Transaction, signer Signer) error {
	if n := tx.Message.Header.NumRequiredSignatures; n != 1 {
		return fmt.Errorf("transaction requires %d signatures, signer provides 1", n)
	}
	if !tx.Message.AccountKeys[0].Equals(signer.PublicKey()) {
		return fmt.Errorf("signer %s is not the fee payer %s", signer.PublicKey(), tx.Message.AccountKeys[0])
	}
	msg, err := tx.Message.MarshalBinary()
	if err != nil {
		return fmt.Errorf("failed to serialize message: %w", err)
	}
	sig, err := signer.Sign(msg)
	if err != nil {
		return fmt.Errorf("failed to sign message: %w", err)
	}
	tx.Signatures = []solana.Signature{sig}
	return nil
}
