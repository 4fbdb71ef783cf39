// Package cryptoutil provides the at-rest encryption for backend
// credentials. Spec §9 requires mapping passwords be recoverable (to
// re-authenticate on token expiry), not merely hashed, and mandates they
// be encrypted with the configured session_key.
package cryptoutil

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
)

// Box derives an AES-256-GCM key from the hex-encoded session_key and
// seals/opens credential material with it.
type Box struct {
	gcm cipher.AEAD
}

// NewBox derives a Box from the configured session_key. The key is hashed
// with SHA-256 first so any session_key length (spec default: 64 random
// bytes, hex-encoded) collapses to a valid AES-256 key.
func NewBox(sessionKeyHex string) (*Box, error) {
	if sessionKeyHex == "" {
		return nil, errors.New("cryptoutil: empty session key")
	}
	sum := sha256.Sum256([]byte(sessionKeyHex))
	block, err := aes.NewCipher(sum[:])
	if err != nil {
		return nil, fmt.Errorf("cryptoutil: building cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("cryptoutil: building GCM: %w", err)
	}
	return &Box{gcm: gcm}, nil
}

// Seal encrypts plaintext, returning nonce||ciphertext.
func (b *Box) Seal(plaintext string) ([]byte, error) {
	nonce := make([]byte, b.gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("cryptoutil: generating nonce: %w", err)
	}
	return b.gcm.Seal(nonce, nonce, []byte(plaintext), nil), nil
}

// Open decrypts a nonce||ciphertext blob produced by Seal.
func (b *Box) Open(blob []byte) (string, error) {
	n := b.gcm.NonceSize()
	if len(blob) < n {
		return "", errors.New("cryptoutil: ciphertext too short")
	}
	nonce, ct := blob[:n], blob[n:]
	plaintext, err := b.gcm.Open(nil, nonce, ct, nil)
	if err != nil {
		return "", fmt.Errorf("cryptoutil: decrypting: %w", err)
	}
	return string(plaintext), nil
}

// HashToken returns the hex SHA-256 digest of token, used to store proxy
// session tokens and refresh material without keeping the raw secret at
// rest.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// RandomToken returns a hex-encoded random token with the given entropy
// in bytes (spec §6: 256-bit proxy tokens => n=32).
func RandomToken(n int) (string, error) {
	b := make([]byte, n)
	if _, err := io.ReadFull(rand.Reader, b); err != nil {
		return "", fmt.Errorf("cryptoutil: generating token: %w", err)
	}
	return hex.EncodeToString(b), nil
}
