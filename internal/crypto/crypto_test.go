package crypto

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoundTrip_WithKey(t *testing.T) {
	var key [KeySize]byte
	for i := range key {
		key[i] = byte(i)
	}
	s := NewService(&key)

	for _, plaintext := range [][]byte{[]byte("sk-test-123"), []byte("a"), []byte("unicode-🔑-key")} {
		ciphertext, err := s.Encrypt(plaintext)
		require.NoError(t, err)
		assert.NotEqual(t, plaintext, ciphertext)

		got, err := s.Decrypt(ciphertext)
		require.NoError(t, err)
		assert.Equal(t, plaintext, got)
	}
}

func TestRoundTrip_NoKeyIsPassthrough(t *testing.T) {
	s := NewService(nil)
	assert.True(t, s.Insecure())

	ciphertext, err := s.Encrypt([]byte("plaintext-credential"))
	require.NoError(t, err)

	got, err := s.Decrypt(ciphertext)
	require.NoError(t, err)
	assert.Equal(t, []byte("plaintext-credential"), got)
}

func TestDecrypt_WrongKeyFails(t *testing.T) {
	var key1, key2 [KeySize]byte
	key1[0] = 1
	key2[0] = 2

	s1 := NewService(&key1)
	s2 := NewService(&key2)

	ciphertext, err := s1.Encrypt([]byte("secret"))
	require.NoError(t, err)

	_, err = s2.Decrypt(ciphertext)
	assert.ErrorIs(t, err, ErrAuthFailed)
}

func TestLoadFromFile_MissingPathIsPassthrough(t *testing.T) {
	s, err := LoadFromFile("")
	require.NoError(t, err)
	assert.True(t, s.Insecure())
}
