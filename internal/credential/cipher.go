package credential

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"

	"golang.org/x/crypto/pbkdf2"

	"github.com/nhle/mailboard/internal/apperr"
)

// KeySize is the derived key length in bytes (AES-256).
const KeySize = 32

// KDFParams parameterizes PBKDF2-HMAC-SHA256.
type KDFParams struct {
	Salt       string
	Iterations int
}

// DefaultKDF matches the parameters existing ciphertext was written with.
var DefaultKDF = KDFParams{Salt: "email-kanban-salt", Iterations: 100000}

// DeriveKey stretches secret into a KeySize-byte key.
func DeriveKey(secret string, params KDFParams) []byte {
	return pbkdf2.Key([]byte(secret), []byte(params.Salt), params.Iterations, KeySize, sha256.New)
}

// EncodeKey renders a derived key in URL-safe base64.
func EncodeKey(key []byte) string {
	return base64.URLEncoding.EncodeToString(key)
}

// Cipher seals byte strings with AES-256-GCM under a key derived once from
// the application secret. Output is URL-safe base64 of nonce||ciphertext.
type Cipher struct {
	aead cipher.AEAD
}

// NewCipher derives the key for secret and prepares the AEAD.
func NewCipher(secret string, params KDFParams) (*Cipher, error) {
	if secret == "" {
		return nil, errors.New("application secret is empty")
	}
	if params.Iterations < 1 || params.Salt == "" {
		return nil, errors.New("key derivation needs a salt and a positive iteration count")
	}
	block, err := aes.NewCipher(DeriveKey(secret, params))
	if err != nil {
		return nil, fmt.Errorf("creating block cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("creating GCM: %w", err)
	}
	return &Cipher{aead: aead}, nil
}

// Encrypt seals plaintext with a fresh random nonce.
func (c *Cipher) Encrypt(plaintext []byte) (string, error) {
	nonce := make([]byte, c.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("generating nonce: %w", err)
	}
	sealed := c.aead.Seal(nonce, nonce, plaintext, nil)
	return base64.URLEncoding.EncodeToString(sealed), nil
}

// Decrypt opens a blob produced by Encrypt. A blob sealed under a different
// secret, or tampered with, fails with an apperr.Decryption error.
func (c *Cipher) Decrypt(blob string) ([]byte, error) {
	raw, err := base64.URLEncoding.DecodeString(blob)
	if err != nil {
		return nil, apperr.Wrap(apperr.Decryption, err, "decoding ciphertext")
	}
	n := c.aead.NonceSize()
	if len(raw) < n+c.aead.Overhead() {
		return nil, apperr.New(apperr.Decryption, "ciphertext too short")
	}
	plaintext, err := c.aead.Open(nil, raw[:n], raw[n:], nil)
	if err != nil {
		return nil, apperr.Wrap(apperr.Decryption, err, "opening ciphertext")
	}
	return plaintext, nil
}
