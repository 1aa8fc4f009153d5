// Package crypto seals platform credentials for at-rest storage using
// AES-256-GCM. Decryption failures surface as ErrDecrypt so callers can
// classify them without ever touching plaintext.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
)

// ErrDecrypt is wrapped by every Open failure. Connect paths treat it as a
// connection failure for the attempt; the token material is never included.
var ErrDecrypt = errors.New("crypto: decryption failed")

// Sealer encrypts and decrypts credential material. Implementations must be
// AEAD so tampering with stored ciphertext is detected on Open.
type Sealer interface {
	// Seal encrypts plaintext and returns nonce||ciphertext||tag.
	Seal(plaintext []byte) ([]byte, error)

	// Open authenticates and decrypts data produced by Seal.
	Open(sealed []byte) ([]byte, error)
}

// AESSealer implements Sealer with AES-256-GCM. A random 12-byte nonce is
// generated per Seal and prepended to the ciphertext.
type AESSealer struct {
	aead cipher.AEAD
}

// NewAESSealer builds a sealer from a base64-encoded 32-byte key
// (generate with: openssl rand -base64 32).
func NewAESSealer(base64Key string) (*AESSealer, error) {
	if base64Key == "" {
		return nil, errors.New("crypto: empty key")
	}
	key, err := base64.StdEncoding.DecodeString(base64Key)
	if err != nil {
		return nil, fmt.Errorf("crypto: decode key: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("crypto: key must be 32 bytes, got %d", len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("crypto: new cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("crypto: new GCM: %w", err)
	}
	return &AESSealer{aead: aead}, nil
}

func (s *AESSealer) Seal(plaintext []byte) ([]byte, error) {
	if len(plaintext) == 0 {
		return nil, errors.New("crypto: empty plaintext")
	}
	nonce := make([]byte, s.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("crypto: nonce: %w", err)
	}
	return s.aead.Seal(nonce, nonce, plaintext, nil), nil
}

func (s *AESSealer) Open(sealed []byte) ([]byte, error) {
	ns := s.aead.NonceSize()
	if len(sealed) < ns {
		return nil, fmt.Errorf("%w: ciphertext shorter than nonce", ErrDecrypt)
	}
	plaintext, err := s.aead.Open(nil, sealed[:ns], sealed[ns:], nil)
	if err != nil {
		// Deliberately drop the underlying error; it carries no safe detail.
		return nil, ErrDecrypt
	}
	return plaintext, nil
}

// SealString seals a string and base64-encodes the result for storage in a
// text column. Empty input maps to empty output.
func SealString(s Sealer, plaintext string) (string, error) {
	if plaintext == "" {
		return "", nil
	}
	sealed, err := s.Seal([]byte(plaintext))
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// OpenString reverses SealString.
func OpenString(s Sealer, encoded string) (string, error) {
	if encoded == "" {
		return "", nil
	}
	sealed, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("%w: base64 decode: %v", ErrDecrypt, err)
	}
	plaintext, err := s.Open(sealed)
	if err != nil {
		return "", err
	}
	return string(plaintext), nil
}
