// Package sealed encrypts small payloads at rest. Payout destinations and
// audit exports go through it; nothing else in the system may persist a bank
// account number in clear text.
package sealed

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"io"
	"strings"

	"golang.org/x/crypto/scrypt"
)

// Key derivation context. Changing it invalidates every sealed blob.
var keySalt = []byte("payoutcore/sealed/v1")

var (
	ErrNoSecret      = errors.New("sealing secret not configured")
	ErrInvalidSealed = errors.New("invalid sealed payload")
)

type Sealer struct {
	aead cipher.AEAD
}

// New derives a 256-bit key from the configured secret. The derivation runs
// once at startup; per-message uniqueness comes from the random nonce.
func New(secret string) (*Sealer, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, ErrNoSecret
	}

	key, err := scrypt.Key([]byte(secret), keySalt, 1<<15, 8, 1, 32)
	if err != nil {
		return nil, err
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return &Sealer{aead: aead}, nil
}

// Seal returns nonce||ciphertext.
func (s *Sealer) Seal(plaintext []byte) ([]byte, error) {
	nonce := make([]byte, s.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}
	return s.aead.Seal(nonce, nonce, plaintext, nil), nil
}

func (s *Sealer) Open(blob []byte) ([]byte, error) {
	size := s.aead.NonceSize()
	if len(blob) <= size {
		return nil, ErrInvalidSealed
	}
	plaintext, err := s.aead.Open(nil, blob[:size], blob[size:], nil)
	if err != nil {
		return nil, ErrInvalidSealed
	}
	return plaintext, nil
}
