package vrf

import (
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeRandomness_Pending(t *testing.T) {
	seed := seedOf(3)
	data := encodeRandomness(seed, nil, StatusPending)
	require.Len(t, data, randomnessMinSize)

	rnd, err := DecodeRandomness(data)
	require.NoError(t, err)
	assert.Equal(t, seed, rnd.Seed)
	assert.Nil(t, rnd.Signature)
	assert.Equal(t, StatusPending, rnd.Status)
	assert.False(t, rnd.Fulfilled())
	assert.Nil(t, rnd.Value())

	_, ok := rnd.U64()
	assert.False(t, ok)
}

func TestDecodeRandomness_Fulfilled(t *testing.T) {
	seed := seedOf(4)
	var sig solana.Signature
	for i := range sig {
		sig[i] = byte(i)
	}
	data := encodeRandomness(seed, &sig, StatusFulfilled)

	rnd, err := DecodeRandomness(data)
	require.NoError(t, err)
	require.NotNil(t, rnd.Signature)
	assert.Equal(t, sig, *rnd.Signature)
	assert.True(t, rnd.Fulfilled())
	assert.Equal(t, sig[:], rnd.Value())

	v, ok := rnd.U64()
	require.True(t, ok)
	assert.Equal(t, uint64(0x0706050403020100), v)
}

func TestDecodeRandomness_TruncatedNeverPanics(t *testing.T) {
	sig := solana.Signature{9}
	full := encodeRandomness(seedOf(1), &sig, StatusFulfilled)

	for n := 0; n < len(full); n++ {
		assert.NotPanics(t, func() {
			_, err := DecodeRandomness(full[:n])
			require.Error(t, err, "length %d", n)
			assert.ErrorIs(t, err, ErrDecode)
		})
	}
}

func TestDecodeRandomness_Malformed(t *testing.T) {
	good := encodeRandomness(seedOf(1), nil, StatusPending)

	tests := []struct {
		name    string
		mutate  func([]byte) []byte
		wantErr string
	}{
		{
			name: "wrong discriminator",
			mutate: func(b []byte) []byte {
				b[0] ^= 0xFF
				return b
			},
			wantErr: "unexpected discriminator",
		},
		{
			name: "config discriminator",
			mutate: func(b []byte) []byte {
				copy(b, NetworkStateDiscriminator[:])
				return b
			},
			wantErr: "unexpected discriminator",
		},
		{
			name: "bad option tag",
			mutate: func(b []byte) []byte {
				b[40] = 2
				return b
			},
			wantErr: "option tag",
		},
		{
			name: "bad status",
			mutate: func(b []byte) []byte {
				b[41] = 7
				return b
			},
			wantErr: "invalid status",
		},
		{
			name: "fulfilled without signature",
			mutate: func(b []byte) []byte {
				b[41] = byte(StatusFulfilled)
				return b
			},
			wantErr: "carries no signature",
		},
		{
			name: "some tag without signature bytes",
			mutate: func(b []byte) []byte {
				b[40] = 1
				return b
			},
			wantErr: "signature",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data := tt.mutate(append([]byte{}, good...))
			_, err := DecodeRandomness(data)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrDecode)
			assert.Contains(t, err.Error(), tt.wantErr)

			kind, ok := KindOf(err)
			require.True(t, ok)
			assert.Equal(t, KindDecode, kind)
		})
	}
}

func TestDecodeNetworkConfig(t *testing.T) {
	cfg := NetworkConfig{
		Authority:  solana.MustPublicKeyFromBase58("9WzDXwBbmkg8ZTbNMqUxvQRAyrZzDsGYdLVL9zYtAWWM"),
		Treasury:   solana.MustPublicKeyFromBase58("So11111111111111111111111111111111111111112"),
		RequestFee: 5_000_000,
		FulfillmentAuthorities: []solana.PublicKey{
			solana.MustPublicKeyFromBase58("TokenkegQfeZyiNwAJbNbGKPFXCWuBvf9Ss623VQ5DA"),
		},
	}
	data := encodeNetworkConfig(cfg)

	// Treasury sits at a fixed offset.
	assert.Equal(t, cfg.Treasury[:], data[40:72])

	got, err := DecodeNetworkConfig(data)
	require.NoError(t, err)
	assert.Equal(t, cfg, *got)
	assert.True(t, got.IsFulfillmentAuthority(cfg.FulfillmentAuthorities[0]))
	assert.False(t, got.IsFulfillmentAuthority(cfg.Treasury))

	treasury, err := DecodeTreasury(data)
	require.NoError(t, err)
	assert.Equal(t, cfg.Treasury, treasury)
}

func TestDecodeNetworkConfig_NoAuthoritiesTail(t *testing.T) {
	cfg := NetworkConfig{Treasury: solana.SystemProgramID, RequestFee: 1}
	data := encodeNetworkConfig(cfg)[:networkConfigMinSize]

	got, err := DecodeNetworkConfig(data)
	require.NoError(t, err)
	assert.Equal(t, cfg.Treasury, got.Treasury)
	assert.Empty(t, got.FulfillmentAuthorities)
}

func TestDecodeNetworkConfig_Malformed(t *testing.T) {
	full := encodeNetworkConfig(NetworkConfig{
		FulfillmentAuthorities: []solana.PublicKey{solana.SystemProgramID, solana.SystemProgramID},
	})

	t.Run("truncated", func(t *testing.T) {
		for n := 0; n < len(full); n++ {
			if n == networkConfigMinSize {
				continue // valid: no authorities tail
			}
			assert.NotPanics(t, func() {
				_, err := DecodeNetworkConfig(full[:n])
				assert.ErrorIs(t, err, ErrDecode, "length %d", n)
			})
		}
	})

	t.Run("wrong discriminator", func(t *testing.T) {
		data := append([]byte{}, full...)
		copy(data, RandomnessDiscriminator[:])
		_, err := DecodeTreasury(data)
		assert.ErrorIs(t, err, ErrDecode)
	})

	t.Run("absurd authorities length", func(t *testing.T) {
		data := append([]byte{}, full[:networkConfigMinSize]...)
		data = append(data, 0xFF, 0xFF, 0xFF, 0xFF)
		_, err := DecodeNetworkConfig(data)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "authorities length")
	})
}

func TestRandomnessStatus_Text(t *testing.T) {
	for _, s := range []RandomnessStatus{StatusPending, StatusFulfilled} {
		text, err := s.MarshalText()
		require.NoError(t, err)

		var got RandomnessStatus
		require.NoError(t, got.UnmarshalText(text))
		assert.Equal(t, s, got)
	}

	var s RandomnessStatus
	assert.Error(t, s.UnmarshalText([]byte("cancelled")))
}
