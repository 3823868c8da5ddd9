package vrf

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"testing"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/stretchr/testify/require"
)

var testProgramID = solana.MustPublicKeyFromBase58("VRFUm3dhiqtyW6nj8XghcPLJbCXg9Hj85iABpxwq1Xz")

func testEnv() Env {
	return Env{
		Network:        Devnet,
		RPCURLs:        []string{"http://127.0.0.1:8899"},
		ProgramID:      testProgramID,
		ConfigSeed:     ConfigAccountSeed,
		RandomnessSeed: RandomnessAccountSeed,
	}
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newKey(t *testing.T) solana.PrivateKey {
	t.Helper()
	key, err := solana.NewRandomPrivateKey()
	require.NoError(t, err)
	return key
}

func seedOf(b byte) Seed {
	var s Seed
	for i := range s {
		s[i] = b
	}
	return s
}

// encodeRandomness produces randomness account bytes in the program's layout.
func encodeRandomness(seed Seed, sig *solana.Signature, status RandomnessStatus) []byte {
	buf := new(bytes.Buffer)
	enc := bin.NewBorshEncoder(buf)
	_ = enc.WriteBytes(RandomnessDiscriminator[:], false)
	_ = enc.WriteBytes(seed[:], false)
	_ = enc.WriteOption(sig != nil)
	if sig != nil {
		_ = enc.WriteBytes(sig[:], false)
	}
	_ = enc.WriteByte(byte(status))
	return buf.Bytes()
}

// encodeNetworkConfig produces configuration account bytes.
func encodeNetworkConfig(cfg NetworkConfig) []byte {
	buf := new(bytes.Buffer)
	enc := bin.NewBorshEncoder(buf)
	_ = enc.WriteBytes(NetworkStateDiscriminator[:], false)
	_ = enc.WriteBytes(cfg.Authority[:], false)
	_ = enc.WriteBytes(cfg.Treasury[:], false)
	_ = enc.WriteUint64(cfg.RequestFee, bin.LE)
	_ = enc.WriteUint32(uint32(len(cfg.FulfillmentAuthorities)), bin.LE)
	for _, key := range cfg.FulfillmentAuthorities {
		_ = enc.WriteBytes(key[:], false)
	}
	return buf.Bytes()
}

func fulfillData(seed Seed, sig solana.Signature) []byte {
	data := append([]byte{}, FulfillDiscriminator[:]...)
	data = append(data, seed[:]...)
	return append(data, sig[:]...)
}

// fulfillmentTx builds the transaction an oracle would submit to fulfill
// seed: an Ed25519 verification instruction followed by the fulfill
// instruction, signed by the oracle key.
func fulfillmentTx(t *testing.T, env Env, oracle solana.PrivateKey, seed Seed) (*solana.Transaction, solana.Signature) {
	t.Helper()
	sig, err := oracle.Sign(seed[:])
	require.NoError(t, err)

	ed := NewEd25519Instruction(oracle.PublicKey(), seed[:], sig)
	fulfill := solana.NewInstruction(env.ProgramID, solana.AccountMetaSlice{
		solana.Meta(oracle.PublicKey()).WRITE().SIGNER(),
		solana.Meta(env.RandomnessAddress(seed)).WRITE(),
		solana.Meta(env.ConfigAddress()),
	}, fulfillData(seed, sig))

	tx, err := solana.NewTransaction(
		[]solana.Instruction{ed, fulfill},
		solana.Hash{1},
		solana.TransactionPayer(oracle.PublicKey()),
	)
	require.NoError(t, err)
	require.NoError(t, signTransaction(tx, oracle))
	return tx, sig
}

// makeTxResult wraps tx in the shape getTransaction returns for base64
// encoding. txErr is the meta status error; nil means success.
func makeTxResult(t *testing.T, tx *solana.Transaction, slot uint64, txErr any) *rpc.GetTransactionResult {
	t.Helper()
	raw, err := tx.MarshalBinary()
	require.NoError(t, err)

	payload := map[string]any{
		"slot":        slot,
		"blockTime":   1700000000,
		"transaction": []string{base64.StdEncoding.EncodeToString(raw), "base64"},
		"meta":        map[string]any{"err": txErr, "fee": 5000},
	}
	body, err := json.Marshal(payload)
	require.NoError(t, err)

	var result rpc.GetTransactionResult
	require.NoError(t, json.Unmarshal(body, &result))
	return &result
}

// mockChain implements Chain in memory. It's behaviour-focused: tests set
// what it returns and inspect what was sent.
type mockChain struct {
	mu           sync.Mutex
	accounts     map[solana.PublicKey][]byte
	history      map[solana.PublicKey][]*rpc.TransactionSignature
	transactions map[solana.Signature]*rpc.GetTransactionResult
	blockhash    solana.Hash
	err          error
	sendErr      error

	sent    []*solana.Transaction
	fetched []solana.Signature
	pages   int
}

func newMockChain() *mockChain {
	return &mockChain{
		accounts:     make(map[solana.PublicKey][]byte),
		history:      make(map[solana.PublicKey][]*rpc.TransactionSignature),
		transactions: make(map[solana.Signature]*rpc.GetTransactionResult),
		blockhash:    solana.Hash{7},
	}
}

// addTransaction records tx in the history of address (newest first) and
// makes it fetchable.
func (m *mockChain) addTransaction(address solana.PublicKey, sig solana.Signature, result *rpc.GetTransactionResult, entryErr any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry := &rpc.TransactionSignature{Signature: sig, Slot: result.Slot, Err: entryErr}
	m.history[address] = append([]*rpc.TransactionSignature{entry}, m.history[address]...)
	m.transactions[sig] = result
}

func (m *mockChain) AccountData(ctx context.Context, address solana.PublicKey) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	data, ok := m.accounts[address]
	if !ok {
		return nil, rpc.ErrNotFound
	}
	return data, nil
}

func (m *mockChain) LatestBlockhash(ctx context.Context) (solana.Hash, error) {
	if m.err != nil {
		return solana.Hash{}, m.err
	}
	return m.blockhash, nil
}

func (m *mockChain) SendAndConfirm(ctx context.Context, tx *solana.Transaction) (solana.Signature, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sendErr != nil {
		return solana.Signature{}, m.sendErr
	}
	m.sent = append(m.sent, tx)
	return tx.Signatures[0], nil
}

func (m *mockChain) Signatures(ctx context.Context, address solana.PublicKey, before solana.Signature, limit int) ([]*rpc.TransactionSignature, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	m.pages++
	all := m.history[address]
	start := 0
	if !before.IsZero() {
		for i, entry := range all {
			if entry.Signature == before {
				start = i + 1
				break
			}
		}
	}
	end := min(start+limit, len(all))
	return all[start:end], nil
}

func (m *mockChain) Transaction(ctx context.Context, signature solana.Signature) (*rpc.GetTransactionResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	m.fetched = append(m.fetched, signature)
	return m.transactions[signature], nil
}
