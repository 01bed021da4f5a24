package seal

import (
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSealer(t *testing.T) *AESGCM {
	t.Helper()
	key, err := RandomBytes(KeySize)
	require.NoError(t, err)
	s, err := New(key)
	require.NoError(t, err)
	return s
}

func TestEncryptDecrypt(t *testing.T) {
	s := newTestSealer(t)
	aad := []byte("prod/api-key")

	ciphertext, nonce, err := s.Encrypt([]byte("hunter2"), aad)
	require.NoError(t, err)
	assert.Len(t, nonce, nonceSize)
	assert.NotContains(t, string(ciphertext), "hunter2")

	plaintext, err := s.Decrypt(ciphertext, nonce, aad)
	require.NoError(t, err)
	assert.Equal(t, "hunter2", string(plaintext))
}

func TestEncryptUsesFreshNonce(t *testing.T) {
	s := newTestSealer(t)
	_, n1, err := s.Encrypt([]byte("a"), nil)
	require.NoError(t, err)
	_, n2, err := s.Encrypt([]byte("a"), nil)
	require.NoError(t, err)
	assert.NotEqual(t, n1, n2)
}

func TestDecryptFailures(t *testing.T) {
	s := newTestSealer(t)
	ciphertext, nonce, err := s.Encrypt([]byte("payload"), []byte("prod/db"))
	require.NoError(t, err)

	tests := []struct {
		name       string
		ciphertext []byte
		nonce      []byte
		aad        []byte
	}{
		{"wrong aad", ciphertext, nonce, []byte("staging/db")},
		{"short nonce", ciphertext, nonce[:4], []byte("prod/db")},
		{"truncated", ciphertext[:5], nonce, []byte("prod/db")},
		{"bad magic", append([]byte{'X'}, ciphertext[1:]...), nonce, []byte("prod/db")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.Decrypt(tt.ciphertext, tt.nonce, tt.aad)
			assert.ErrorIs(t, err, ErrDecrypt)
		})
	}

	other := newTestSealer(t)
	_, err = other.Decrypt(ciphertext, nonce, []byte("prod/db"))
	assert.ErrorIs(t, err, ErrDecrypt)
}

func TestNewRejectsShortKey(t *testing.T) {
	_, err := New([]byte("short"))
	assert.Error(t, err)
}

func TestFromEnv(t *testing.T) {
	key, err := GenerateKey()
	require.NoError(t, err)
	raw, err := base64.StdEncoding.DecodeString(key)
	require.NoError(t, err)
	assert.Len(t, raw, KeySize)

	t.Setenv("TORVUS_DATA_KEY", key)
	_, err = FromEnv()
	assert.NoError(t, err)

	t.Setenv("TORVUS_DATA_KEY", "not base64!")
	_, err = FromEnv()
	assert.Error(t, err)

	t.Setenv("TORVUS_DATA_KEY", "")
	_, err = FromEnv()
	assert.Error(t, err)
}
