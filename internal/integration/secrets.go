package integration

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/nacl/secretbox"
)

var (
	// ErrInvalidKey is returned when the configured encryption key does
	// not decode to exactly 32 bytes.
	ErrInvalidKey = errors.New("encryption key must be 32 bytes, base64-encoded")
	// ErrDecryptFailed is returned when a ciphertext fails to open,
	// which usually means the key rotated without re-encrypting.
	ErrDecryptFailed = errors.New("failed to decrypt credential")
)

const nonceSize = 24

// SecretBox seals and opens exchange credentials at rest using
// authenticated symmetric encryption.
type SecretBox struct {
	key [32]byte
}

// NewSecretBox builds a SecretBox from the base64-encoded 32-byte key.
func NewSecretBox(encodedKey string) (*SecretBox, error) {
	raw, err := base64.StdEncoding.DecodeString(encodedKey)
	if err != nil || len(raw) != 32 {
		return nil, ErrInvalidKey
	}
	var sb SecretBox
	copy(sb.key[:], raw)
	return &sb, nil
}

// Seal encrypts the plaintext with a random nonce prepended to the
// ciphertext.
func (s *SecretBox) Seal(plaintext []byte) ([]byte, error) {
	var nonce [nonceSize]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}
	return secretbox.Seal(nonce[:], plaintext, &nonce, &s.key), nil
}

// Open decrypts a ciphertext produced by Seal.
func (s *SecretBox) Open(ciphertext []byte) ([]byte, error) {
	if len(ciphertext) < nonceSize {
		return nil, ErrDecryptFailed
	}
	var nonce [nonceSize]byte
	copy(nonce[:], ciphertext[:nonceSize])
	plaintext, ok := secretbox.Open(nil, ciphertext[nonceSize:], &nonce, &s.key)
	if !ok {
		return nil, ErrDecryptFailed
	}
	return plaintext, nil
}
