package solana

import (
	"bytes"
	"crypto/ed25519"
	"testing"

	"github.com/mr-tron/base58"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/swapbot/internal/domain"
)

func testKey() ed25519.PrivateKey {
	return ed25519.NewKeyFromSeed(bytes.Repeat([]byte{7}, ed25519.SeedSize))
}

func encodeCompactU16(v int) []byte {
	var out []byte
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if v == 0 {
			return append(out, b)
		}
		out = append(out, b|0x80)
	}
}

// unsignedTx builds a minimal one-signer transaction whose fee payer is
// payer. versioned adds the v0 prefix byte.
func unsignedTx(payer []byte, versioned bool) []byte {
	var msg []byte
	if versioned {
		msg = append(msg, 0x80)
	}
	msg = append(msg, 1, 0, 1) // header
	msg = append(msg, encodeCompactU16(2)...)
	msg = append(msg, payer...)
	msg = append(msg, bytes.Repeat([]byte{2}, 32)...)
	msg = append(msg, bytes.Repeat([]byte{3}, 32)...) // blockhash
	msg = append(msg, encodeCompactU16(0)...)

	tx := encodeCompactU16(1)
	tx = append(tx, make([]byte, signatureLen)...)
	return append(tx, msg...)
}

func TestNewSigner_KeyForms(t *testing.T) {
	key := testKey()
	wantPub := base58.Encode(key.Public().(ed25519.PublicKey))

	s, err := NewSigner(base58.Encode(key))
	require.NoError(t, err)
	assert.Equal(t, wantPub, s.PublicKey())

	s, err = NewSigner(base58.Encode(key.Seed()))
	require.NoError(t, err)
	assert.Equal(t, wantPub, s.PublicKey())
}

func TestNewSigner_Rejects(t *testing.T) {
	key := testKey()
	mismatched := append([]byte{}, key...)
	mismatched[63] ^= 0xff

	tests := []struct {
		name string
		key  string
	}{
		{"not base58", "0OIl"},
		{"wrong length", base58.Encode([]byte{1, 2, 3})},
		{"public half mismatch", base58.Encode(mismatched)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewSigner(tt.key)
			assert.ErrorIs(t, err, domain.ErrSigningFailed)
		})
	}
}

func TestValidatePublicKey(t *testing.T) {
	pub := testKey().Public().(ed25519.PublicKey)
	assert.NoError(t, ValidatePublicKey(pub))
	assert.Error(t, ValidatePublicKey(pub[:31]))

	// y = 2 has no valid x on the curve.
	offCurve := make([]byte, 32)
	offCurve[0] = 2
	assert.Error(t, ValidatePublicKey(offCurve))
}

func TestSigner_SignTransaction(t *testing.T) {
	key := testKey()
	pub := key.Public().(ed25519.PublicKey)
	s, err := NewSigner(base58.Encode(key))
	require.NoError(t, err)

	for _, versioned := range []bool{false, true} {
		tx := unsignedTx(pub, versioned)
		signed, sig, err := s.SignTransaction(tx)
		require.NoError(t, err)

		rawSig, err := base58.Decode(sig)
		require.NoError(t, err)
		assert.Equal(t, rawSig, signed[1:1+signatureLen])

		message := tx[1+signatureLen:]
		assert.True(t, ed25519.Verify(pub, message, rawSig))
		assert.Equal(t, message, signed[1+signatureLen:])
		// Input is left untouched.
		assert.Equal(t, make([]byte, signatureLen), tx[1:1+signatureLen])
	}
}

func TestSigner_SignTransaction_Rejects(t *testing.T) {
	s, err := NewSigner(base58.Encode(testKey()))
	require.NoError(t, err)

	other := ed25519.NewKeyFromSeed(bytes.Repeat([]byte{9}, 32)).Public().(ed25519.PublicKey)

	tests := []struct {
		name string
		tx   []byte
	}{
		{"empty", nil},
		{"no signatures", append(encodeCompactU16(0), 1, 2, 3)},
		{"truncated", append(encodeCompactU16(1), make([]byte, 10)...)},
		{"other fee payer", unsignedTx(other, false)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := s.SignTransaction(tt.tx)
			assert.ErrorIs(t, err, domain.ErrSigningFailed)
		})
	}
}

func TestCompactU16(t *testing.T) {
	for _, v := range []int{0, 1, 127, 128, 16383, 16384, 65535} {
		got, n, err := decodeCompactU16(encodeCompactU16(v))
		require.NoError(t, err)
		assert.Equal(t, v, got)
		assert.Equal(t, len(encodeCompactU16(v)), n)
	}
	_, _, err := decodeCompactU16([]byte{0x80})
	assert.Error(t, err)
}
