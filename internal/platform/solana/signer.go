package solana

import (
	"crypto/ed25519"
	"errors"
	"fmt"

	"filippo.io/edwards25519"
	"github.com/mr-tron/base58"

	"github.com/alanyoungcy/swapbot/internal/domain"
)

const signatureLen = ed25519.SignatureSize

// Signer holds the wallet key and signs serialized transactions.
type Signer struct {
	key ed25519.PrivateKey
	pub string
}

// NewSigner decodes a base58 wallet key. Both the 64-byte keypair form
// (secret seed followed by public key) and a bare 32-byte seed are accepted.
func NewSigner(base58Key string) (*Signer, error) {
	raw, err := base58.Decode(base58Key)
	if err != nil {
		return nil, fmt.Errorf("solana: decode wallet key: %w: %w", domain.ErrSigningFailed, err)
	}
	var key ed25519.PrivateKey
	switch len(raw) {
	case ed25519.SeedSize:
		key = ed25519.NewKeyFromSeed(raw)
	case ed25519.PrivateKeySize:
		key = ed25519.NewKeyFromSeed(raw[:ed25519.SeedSize])
		if string(key[ed25519.SeedSize:]) != string(raw[ed25519.SeedSize:]) {
			return nil, fmt.Errorf("solana: wallet key: %w: public half does not match seed", domain.ErrSigningFailed)
		}
	default:
		return nil, fmt.Errorf("solana: wallet key: %w: expected 32 or 64 bytes, got %d", domain.ErrSigningFailed, len(raw))
	}

	pub := key.Public().(ed25519.PublicKey)
	if err := ValidatePublicKey(pub); err != nil {
		return nil, err
	}
	return &Signer{key: key, pub: base58.Encode(pub)}, nil
}

// PublicKey returns the wallet address in base58.
func (s *Signer) PublicKey() string { return s.pub }

// ValidatePublicKey checks that b is a 32-byte encoding of a point on the
// ed25519 curve. Program-derived addresses fail this check.
func ValidatePublicKey(b []byte) error {
	if len(b) != ed25519.PublicKeySize {
		return fmt.Errorf("solana: public key: %w: expected 32 bytes, got %d", domain.ErrSigningFailed, len(b))
	}
	if _, err := new(edwards25519.Point).SetBytes(b); err != nil {
		return fmt.Errorf("solana: public key: %w: not on curve", domain.ErrSigningFailed)
	}
	return nil
}

// SignTransaction signs a serialized transaction (legacy or v0) whose first
// required signer is this wallet. The signature is written into slot 0 of a
// copy of tx; the returned signature is base58 encoded.
func (s *Signer) SignTransaction(tx []byte) ([]byte, string, error) {
	numSigs, n, err := decodeCompactU16(tx)
	if err != nil {
		return nil, "", fmt.Errorf("solana: sign: %w: %w", domain.ErrSigningFailed, err)
	}
	if numSigs == 0 {
		return nil, "", fmt.Errorf("solana: sign: %w: transaction requires no signatures", domain.ErrSigningFailed)
	}
	msgStart := n + numSigs*signatureLen
	if len(tx) <= msgStart {
		return nil, "", fmt.Errorf("solana: sign: %w: truncated transaction", domain.ErrSigningFailed)
	}
	message := tx[msgStart:]

	feePayer, err := firstAccountKey(message)
	if err != nil {
		return nil, "", fmt.Errorf("solana: sign: %w: %w", domain.ErrSigningFailed, err)
	}
	if base58.Encode(feePayer) != s.pub {
		return nil, "", fmt.Errorf("solana: sign: %w: fee payer %s is not wallet %s",
			domain.ErrSigningFailed, base58.Encode(feePayer), s.pub)
	}

	sig := ed25519.Sign(s.key, message)
	signed := make([]byte, len(tx))
	copy(signed, tx)
	copy(signed[n:n+signatureLen], sig)
	return signed, base58.Encode(sig), nil
}

// firstAccountKey returns the first static account key of a serialized
// message. Versioned messages carry a prefix byte with the high bit set.
func firstAccountKey(message []byte) ([]byte, error) {
	off := 0
	if message[0]&0x80 != 0 {
		off++
	}
	off += 3 // header
	if len(message) <= off {
		return nil, errors.New("truncated message header")
	}
	count, n, err := decodeCompactU16(message[off:])
	if err != nil {
		return nil, err
	}
	if count == 0 {
		return nil, errors.New("message has no account keys")
	}
	off += n
	if len(message) < off+ed25519.PublicKeySize {
		return nil, errors.New("truncated account keys")
	}
	return message[off : off+ed25519.PublicKeySize], nil
}

// decodeCompactU16 reads Solana's shortvec length prefix.
func decodeCompactU16(b []byte) (value, size int, err error) {
	for i := 0; i < 3; i++ {
		if i >= len(b) {
			return 0, 0, errors.New("truncated length prefix")
		}
		value |= int(b[i]&0x7f) << (7 * i)
		if b[i]&0x80 == 0 {
			return value, i + 1, nil
		}
	}
	return 0, 0, errors.New("length prefix too long")
}
