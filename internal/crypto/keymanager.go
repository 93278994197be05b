// Package crypto stores the wallet key encrypted at rest: PBKDF2-HMAC-SHA256
// derives an AES-256-GCM key from an operator password.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/mr-tron/base58"
	"golang.org/x/crypto/pbkdf2"
)

const (
	defaultIterations = 480_000
	minIterations     = 100_000
	saltLen           = 16
	fileVersion       = 1
	kdfName           = "pbkdf2-sha256"
)

var errEmptyPassword = errors.New("crypto: password must not be empty")

// keyFile is the JSON written by EncryptKey. Binary fields are standard
// base64. Files written before the kdf fields existed use the defaults.
type keyFile struct {
	Version    int    `json:"version"`
	KDF        string `json:"kdf,omitempty"`
	Iterations int    `json:"iterations,omitempty"`
	Salt       string `json:"salt"`
	Nonce      string `json:"nonce"`
	Ciphertext string `json:"ciphertext"`
}

// KeyConfig lists the places LoadKey looks for the wallet key.
type KeyConfig struct {
	RawPrivateKey    string // base58, wins when set
	EncryptedKeyPath string // file produced by EncryptKey
	KeyPassword      string
}

func sealer(password string, salt []byte, iterations int) (cipher.AEAD, error) {
	block, err := aes.NewCipher(pbkdf2.Key([]byte(password), salt, iterations, 32, sha256.New))
	if err != nil {
		return nil, fmt.Errorf("crypto: aes: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("crypto: gcm: %w", err)
	}
	return gcm, nil
}

// EncryptKey encrypts a base58 wallet key (32-byte seed or 64-byte keypair)
// and returns the indented JSON to write to disk.
func EncryptKey(privateKey, password string) ([]byte, error) {
	if password == "" {
		return nil, errEmptyPassword
	}
	plain, err := decodeKey(privateKey)
	if err != nil {
		return nil, err
	}

	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("crypto: salt: %w", err)
	}
	gcm, err := sealer(password, salt, defaultIterations)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("crypto: nonce: %w", err)
	}

	b64 := base64.StdEncoding.EncodeToString
	return json.MarshalIndent(keyFile{
		Version:    fileVersion,
		KDF:        kdfName,
		Iterations: defaultIterations,
		Salt:       b64(salt),
		Nonce:      b64(nonce),
		Ciphertext: b64(gcm.Seal(nil, nonce, plain, nil)),
	}, "", "  ")
}

// DecryptKey reverses EncryptKey and returns the base58 wallet key.
func DecryptKey(data []byte, password string) (string, error) {
	if password == "" {
		return "", errEmptyPassword
	}
	var kf keyFile
	if err := json.Unmarshal(data, &kf); err != nil {
		return "", fmt.Errorf("crypto: parse key file: %w", err)
	}
	if kf.Version != fileVersion {
		return "", fmt.Errorf("crypto: unsupported key file version %d", kf.Version)
	}
	if kf.KDF != "" && kf.KDF != kdfName {
		return "", fmt.Errorf("crypto: unsupported kdf %q", kf.KDF)
	}
	iterations := kf.Iterations
	if iterations == 0 {
		iterations = defaultIterations
	}
	if iterations < minIterations {
		return "", fmt.Errorf("crypto: iteration count %d below %d", iterations, minIterations)
	}

	var salt, nonce, sealed []byte
	for _, f := range []struct {
		name string
		in   string
		out  *[]byte
	}{{"salt", kf.Salt, &salt}, {"nonce", kf.Nonce, &nonce}, {"ciphertext", kf.Ciphertext, &sealed}} {
		b, err := base64.StdEncoding.DecodeString(f.in)
		if err != nil {
			return "", fmt.Errorf("crypto: decode %s: %w", f.name, err)
		}
		*f.out = b
	}

	gcm, err := sealer(password, salt, iterations)
	if err != nil {
		return "", err
	}
	if len(nonce) != gcm.NonceSize() {
		return "", fmt.Errorf("crypto: nonce is %d bytes, want %d", len(nonce), gcm.NonceSize())
	}
	plain, err := gcm.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", fmt.Errorf("crypto: decryption failed (wrong password?): %w", err)
	}
	return base58.Encode(plain), nil
}

// LoadKey returns the raw key if one is configured, otherwise it decrypts
// the key file.
func LoadKey(cfg KeyConfig) (string, error) {
	switch {
	case strings.TrimSpace(cfg.RawPrivateKey) != "":
		k := strings.TrimSpace(cfg.RawPrivateKey)
		if _, err := decodeKey(k); err != nil {
			return "", err
		}
		return k, nil
	case cfg.EncryptedKeyPath != "":
		data, err := os.ReadFile(cfg.EncryptedKeyPath)
		if err != nil {
			return "", fmt.Errorf("crypto: read key file: %w", err)
		}
		return DecryptKey(data, cfg.KeyPassword)
	default:
		return "", errors.New("crypto: no wallet key configured")
	}
}

func decodeKey(k string) ([]byte, error) {
	raw, err := base58.Decode(strings.TrimSpace(k))
	if err != nil {
		return nil, fmt.Errorf("crypto: private key is not valid base58: %w", err)
	}
	if len(raw) != 32 && len(raw) != 64 {
		return nil, fmt.Errorf("crypto: expected 32 or 64-byte key, got %d bytes", len(raw))
	}
	return raw, nil
}
