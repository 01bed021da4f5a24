// Package seal encrypts secret payloads with AES-256-GCM.
//
// Ciphertext and nonce are returned separately so they can be stored in
// their own columns. The associated data binds a ciphertext to its secret
// (normally "<environment>/<key>") without being encrypted itself.
package seal

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"os"
)

const (
	// KeySize is the AES-256 key length in bytes
	KeySize = 32

	nonceSize    = 12
	versionMagic = byte('G')
)

// ErrDecrypt is returned for any ciphertext that fails authentication
var ErrDecrypt = errors.New("seal: decryption failed")

// Sealer is the encryption capability consumed by the secret workflow
type Sealer interface {
	Encrypt(plaintext, aad []byte) (ciphertext, nonce []byte, err error)
	Decrypt(ciphertext, nonce, aad []byte) ([]byte, error)
}

// AESGCM is a Sealer backed by a process-wide AES-256 key
type AESGCM struct {
	aead cipher.AEAD
}

var _ Sealer = (*AESGCM)(nil)

// New creates an AESGCM sealer. The key must be exactly KeySize bytes.
func New(key []byte) (*AESGCM, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("seal: key must be %d bytes, got %d", KeySize, len(key))
	}
	c, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	aead, err := cipher.NewGCM(c)
	if err != nil {
		return nil, err
	}
	return &AESGCM{aead: aead}, nil
}

// FromEnv builds a sealer from the base64 key in TORVUS_DATA_KEY
func FromEnv() (*AESGCM, error) {
	encoded := os.Getenv("TORVUS_DATA_KEY")
	if encoded == "" {
		return nil, fmt.Errorf("TORVUS_DATA_KEY environment variable is required")
	}
	key, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("TORVUS_DATA_KEY is not valid base64: %w", err)
	}
	return New(key)
}

func (s *AESGCM) Encrypt(plaintext, aad []byte) ([]byte, []byte, error) {
	// Never use more than 2^32 random nonces with a given key because of
	// the risk of a repeat.
	nonce, err := RandomBytes(nonceSize)
	if err != nil {
		return nil, nil, err
	}
	sealed := s.aead.Seal(nil, nonce, plaintext, aad)

	out := make([]byte, 1+len(sealed))
	out[0] = versionMagic
	copy(out[1:], sealed)
	return out, nonce, nil
}

func (s *AESGCM) Decrypt(ciphertext, nonce, aad []byte) ([]byte, error) {
	if len(nonce) != nonceSize {
		return nil, fmt.Errorf("%w: nonce must be %d bytes", ErrDecrypt, nonceSize)
	}
	if len(ciphertext) < 1+aes.BlockSize || ciphertext[0] != versionMagic {
		return nil, fmt.Errorf("%w: malformed ciphertext", ErrDecrypt)
	}
	plaintext, err := s.aead.Open(nil, nonce, ciphertext[1:], aad)
	if err != nil {
		return nil, ErrDecrypt
	}
	return plaintext, nil
}

// RandomBytes returns size bytes from crypto/rand
func RandomBytes(size int) ([]byte, error) {
	value := make([]byte, size)
	if _, err := io.ReadFull(rand.Reader, value); err != nil {
		return nil, err
	}
	return value, nil
}

// GenerateKey returns a new random data key, base64 encoded
func GenerateKey() (string, error) {
	key, err := RandomBytes(KeySize)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(key), nil
}
