package vrf

import (
	"encoding/hex"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDiscriminators(t *testing.T) {
	assert.Equal(t, "2e65430b4c890cad", hex.EncodeToString(RequestDiscriminator[:]))
	assert.Equal(t, "bc60d8f85d5e3170", hex.EncodeToString(RandomnessDiscriminator[:]))
	assert.Equal(t, "d4ed943861f533a9", hex.EncodeToString(NetworkStateDiscriminator[:]))
}

func TestNewRequestInstruction(t *testing.T) {
	env := testEnv()
	seed := seedOf(0xAB)
	payer := newKey(t).PublicKey()
	treasury := solana.MustPublicKeyFromBase58("So11111111111111111111111111111111111111112")

	ix := NewRequestInstruction(env, seed, payer, treasury)

	assert.Equal(t, env.ProgramID, ix.ProgramID())

	data, err := ix.Data()
	require.NoError(t, err)
	wantHex := "2e65430b4c890cad" + hex.EncodeToString(seed[:])
	assert.Equal(t, wantHex, hex.EncodeToString(data))

	accounts := ix.Accounts()
	require.Len(t, accounts, 5)
	want := []struct {
		key      solana.PublicKey
		writable bool
		signer   bool
	}{
		{payer, true, true},
		{env.RandomnessAddress(seed), true, false},
		{env.ConfigAddress(), true, false},
		{treasury, true, false},
		{solana.SystemProgramID, false, false},
	}
	for i, w := range want {
		assert.Equal(t, w.key, accounts[i].PublicKey, "account %d", i)
		assert.Equal(t, w.writable, accounts[i].IsWritable, "account %d writable", i)
		assert.Equal(t, w.signer, accounts[i].IsSigner, "account %d signer", i)
	}
}

func TestRequestInstruction_RoundTrip(t *testing.T) {
	env := testEnv()
	for _, seed := range []Seed{{}, seedOf(1), seedOf(0xFF)} {
		ix := NewRequestInstruction(env, seed, newKey(t).PublicKey(), solana.SystemProgramID)
		data, err := ix.Data()
		require.NoError(t, err)

		kind, got, sig, err := DecodeInstruction(data)
		require.NoError(t, err)
		assert.Equal(t, InstructionRequest, kind)
		assert.Equal(t, seed, got)
		assert.Nil(t, sig)
	}
}

func TestDecodeInstruction_Fulfill(t *testing.T) {
	seed := seedOf(5)
	sig := solana.Signature{1, 2, 3}

	kind, got, gotSig, err := DecodeInstruction(fulfillData(seed, sig))
	require.NoError(t, err)
	assert.Equal(t, InstructionFulfill, kind)
	assert.Equal(t, "fulfill", kind.String())
	assert.Equal(t, seed, got)
	require.NotNil(t, gotSig)
	assert.Equal(t, sig, *gotSig)
}

func TestDecodeInstruction_Malformed(t *testing.T) {
	seed := seedOf(5)
	request := append(append([]byte{}, RequestDiscriminator[:]...), seed[:]...)

	tests := []struct {
		name     string
		data     []byte
		wantKind InstructionKind
	}{
		{"empty", nil, InstructionUnknown},
		{"short discriminator", []byte{0x2e, 0x65}, InstructionUnknown},
		{"unknown discriminator", make([]byte, 40), InstructionUnknown},
		{"truncated request", request[:20], InstructionRequest},
		{"padded request", append(append([]byte{}, request...), 0), InstructionRequest},
		{"truncated fulfill", fulfillData(seed, solana.Signature{})[:80], InstructionFulfill},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			kind, _, _, err := DecodeInstruction(tt.data)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrDecode)
			assert.Equal(t, tt.wantKind, kind)
		})
	}
}

func TestEd25519Instruction_RoundTrip(t *testing.T) {
	key := newKey(t)
	msg := []byte("some message")
	sig, err := key.Sign(msg)
	require.NoError(t, err)

	ix := NewEd25519Instruction(key.PublicKey(), msg, sig)
	assert.Equal(t, Ed25519ProgramID, ix.ProgramID())
	assert.Empty(t, ix.Accounts())

	data, err := ix.Data()
	require.NoError(t, err)
	require.Len(t, data, 16+32+64+len(msg))
	// Layout used by the native program: public key at 16, signature at 48,
	// message at 112.
	assert.Equal(t, key.PublicKey().Bytes(), data[16:48])

	entries, err := ParseEd25519Instruction(data)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, key.PublicKey(), entries[0].PublicKey)
	assert.Equal(t, msg, entries[0].Message)
	assert.Equal(t, sig, entries[0].Signature)
}

func TestParseEd25519Instruction_Malformed(t *testing.T) {
	key := newKey(t)
	seed := seedOf(1)
	sig, err := key.Sign(seed[:])
	require.NoError(t, err)
	good, err := NewEd25519Instruction(key.PublicKey(), seed[:], sig).Data()
	require.NoError(t, err)

	t.Run("truncated", func(t *testing.T) {
		for n := 0; n < len(good); n++ {
			assert.NotPanics(t, func() {
				_, err := ParseEd25519Instruction(good[:n])
				assert.ErrorIs(t, err, ErrDecode, "length %d", n)
			})
		}
	})

	t.Run("zero signatures", func(t *testing.T) {
		_, err := ParseEd25519Instruction([]byte{0, 0})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "no signatures")
	})

	t.Run("reference to another instruction", func(t *testing.T) {
		data := append([]byte{}, good...)
		// public_key_instruction_index lives at bytes 8..10.
		data[8], data[9] = 0, 0
		_, err := ParseEd25519Instruction(data)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "outside the instruction")
	})

	t.Run("offset out of range", func(t *testing.T) {
		data := append([]byte{}, good...)
		// public_key_offset lives at bytes 6..8.
		data[6], data[7] = 0xF0, 0xFF
		_, err := ParseEd25519Instruction(data)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "exceeds")
	})
}
