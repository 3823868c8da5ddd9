package vrf

import (
	"context"
	"errors"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestScanner(chain *mockChain) *Scanner {
	return NewScanner(chain, testEnv(), nil, testLogger())
}

func TestFindFulfillment_NoSignatures(t *testing.T) {
	chain := newMockChain()
	scanner := newTestScanner(chain)

	_, err := scanner.FindFulfillment(context.Background(), Seed{})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, err, ErrNoHistory)
	assert.NotErrorIs(t, err, ErrNoFulfillment)

	kind, ok := KindOf(err)
	require.True(t, ok)
	assert.Equal(t, KindNotFound, kind)
}

func TestFindFulfillment_Found(t *testing.T) {
	env := testEnv()
	chain := newMockChain()
	oracle := newKey(t)
	seed := seedOf(2)
	address := env.RandomnessAddress(seed)

	// Oldest: the request itself, which has no companion instruction.
	payer := newKey(t)
	reqTx, err := solana.NewTransaction(
		[]solana.Instruction{NewRequestInstruction(env, seed, payer.PublicKey(), solana.SystemProgramID)},
		solana.Hash{2},
		solana.TransactionPayer(payer.PublicKey()),
	)
	require.NoError(t, err)
	require.NoError(t, signTransaction(reqTx, payer))
	chain.addTransaction(address, reqTx.Signatures[0], makeTxResult(t, reqTx, 10, nil), nil)

	// Newest: the fulfillment.
	fulTx, _ := fulfillmentTx(t, env, oracle, seed)
	chain.addTransaction(address, fulTx.Signatures[0], makeTxResult(t, fulTx, 11, nil), nil)

	found, err := newTestScanner(chain).FindFulfillment(context.Background(), seed)
	require.NoError(t, err)
	assert.Equal(t, fulTx.Signatures[0], found.Signature)
	assert.Equal(t, uint64(11), found.Slot)
	require.NotNil(t, found.BlockTime)
	assert.Len(t, found.Ed25519Instructions(), 1)
}

func TestFindFulfillment_InspectsWholeHistory(t *testing.T) {
	env := testEnv()
	chain := newMockChain()
	seed := seedOf(2)
	address := env.RandomnessAddress(seed)

	// The fulfillment is the oldest entry, behind unrelated transactions.
	fulTx, _ := fulfillmentTx(t, env, newKey(t), seed)
	chain.addTransaction(address, fulTx.Signatures[0], makeTxResult(t, fulTx, 1, nil), nil)
	for i := range 3 {
		payer := newKey(t)
		tx, err := solana.NewTransaction(
			[]solana.Instruction{NewRequestInstruction(env, seed, payer.PublicKey(), solana.SystemProgramID)},
			solana.Hash{byte(i + 10)},
			solana.TransactionPayer(payer.PublicKey()),
		)
		require.NoError(t, err)
		require.NoError(t, signTransaction(tx, payer))
		chain.addTransaction(address, tx.Signatures[0], makeTxResult(t, tx, uint64(2+i), nil), nil)
	}

	found, err := newTestScanner(chain).FindFulfillment(context.Background(), seed)
	require.NoError(t, err)
	assert.Equal(t, fulTx.Signatures[0], found.Signature)
	assert.Len(t, chain.fetched, 4)
}

func TestFindFulfillment_SkipsFailedTransactions(t *testing.T) {
	env := testEnv()
	seed := seedOf(6)
	address := env.RandomnessAddress(seed)
	failure := map[string]any{"InstructionError": []any{1, map[string]any{"Custom": 6000}}}

	t.Run("meta error", func(t *testing.T) {
		chain := newMockChain()
		tx, _ := fulfillmentTx(t, env, newKey(t), seed)
		chain.addTransaction(address, tx.Signatures[0], makeTxResult(t, tx, 5, failure), nil)

		_, err := newTestScanner(chain).FindFulfillment(context.Background(), seed)
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrNoFulfillment)
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("signature entry error is not fetched", func(t *testing.T) {
		chain := newMockChain()
		tx, _ := fulfillmentTx(t, env, newKey(t), seed)
		chain.addTransaction(address, tx.Signatures[0], makeTxResult(t, tx, 5, nil), failure)

		_, err := newTestScanner(chain).FindFulfillment(context.Background(), seed)
		assert.ErrorIs(t, err, ErrNoFulfillment)
		assert.Empty(t, chain.fetched)
	})

	t.Run("failed attempt before successful one", func(t *testing.T) {
		chain := newMockChain()
		good, _ := fulfillmentTx(t, env, newKey(t), seed)
		chain.addTransaction(address, good.Signatures[0], makeTxResult(t, good, 5, nil), nil)
		bad, _ := fulfillmentTx(t, env, newKey(t), seed)
		chain.addTransaction(address, bad.Signatures[0], makeTxResult(t, bad, 6, failure), nil)

		found, err := newTestScanner(chain).FindFulfillment(context.Background(), seed)
		require.NoError(t, err)
		assert.Equal(t, good.Signatures[0], found.Signature)
	})
}

func TestFindFulfillment_MissingMetaIsRejected(t *testing.T) {
	env := testEnv()
	seed := seedOf(6)
	chain := newMockChain()
	tx, _ := fulfillmentTx(t, env, newKey(t), seed)
	result := makeTxResult(t, tx, 5, nil)
	result.Meta = nil
	chain.addTransaction(env.RandomnessAddress(seed), tx.Signatures[0], result, nil)

	_, err := newTestScanner(chain).FindFulfillment(context.Background(), seed)
	assert.ErrorIs(t, err, ErrNoFulfillment)
}

func TestFindFulfillment_RequiresBothInstructions(t *testing.T) {
	env := testEnv()
	seed := seedOf(8)
	oracle := newKey(t)
	sig, err := oracle.Sign(seed[:])
	require.NoError(t, err)

	fulfill := solana.NewInstruction(env.ProgramID, solana.AccountMetaSlice{
		solana.Meta(oracle.PublicKey()).WRITE().SIGNER(),
		solana.Meta(env.RandomnessAddress(seed)).WRITE(),
	}, fulfillData(seed, sig))
	otherSeedFulfill := solana.NewInstruction(env.ProgramID, solana.AccountMetaSlice{
		solana.Meta(oracle.PublicKey()).WRITE().SIGNER(),
	}, fulfillData(seedOf(9), sig))
	ed := NewEd25519Instruction(oracle.PublicKey(), seed[:], sig)

	tests := []struct {
		name string
		ixs  []solana.Instruction
	}{
		{"vrf only", []solana.Instruction{fulfill}},
		{"ed25519 only", []solana.Instruction{ed}},
		{"fulfill for another seed", []solana.Instruction{ed, otherSeedFulfill}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			chain := newMockChain()
			tx, err := solana.NewTransaction(tt.ixs, solana.Hash{3}, solana.TransactionPayer(oracle.PublicKey()))
			require.NoError(t, err)
			require.NoError(t, signTransaction(tx, oracle))
			chain.addTransaction(env.RandomnessAddress(seed), tx.Signatures[0], makeTxResult(t, tx, 1, nil), nil)

			_, err = newTestScanner(chain).FindFulfillment(context.Background(), seed)
			assert.ErrorIs(t, err, ErrNoFulfillment)
		})
	}
}

func TestFindFulfillment_Paginates(t *testing.T) {
	env := testEnv()
	seed := seedOf(1)
	address := env.RandomnessAddress(seed)
	chain := newMockChain()

	fulTx, _ := fulfillmentTx(t, env, newKey(t), seed)
	chain.addTransaction(address, fulTx.Signatures[0], makeTxResult(t, fulTx, 1, nil), nil)

	// A full page of failed entries in front of the fulfillment; failed
	// entries are skipped without fetching.
	for i := range signaturePageSize {
		var sig solana.Signature
		sig[0], sig[1], sig[2] = 0xEE, byte(i), byte(i>>8)
		chain.addTransaction(address, sig, &rpc.GetTransactionResult{Slot: uint64(2 + i)}, "failed")
	}

	found, err := newTestScanner(chain).FindFulfillment(context.Background(), seed)
	require.NoError(t, err)
	assert.Equal(t, fulTx.Signatures[0], found.Signature)
	assert.Equal(t, 2, chain.pages)
}

func TestFindFulfillment_TransportError(t *testing.T) {
	chain := newMockChain()
	chain.err = errors.New("connection refused")

	_, err := newTestScanner(chain).FindFulfillment(context.Background(), Seed{})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTransport)
	assert.NotErrorIs(t, err, ErrNotFound)
	assert.Contains(t, err.Error(), "connection refused")
}
