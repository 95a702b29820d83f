// Package crypto provides the symmetric credential-at-rest encryption
// service required by spec §6 ("An encryption service encrypt(bytes)→bytes,
// decrypt(bytes)→bytes, initialized once from a process-scoped symmetric
// key"), replacing the Python source's cryptography.Fernet wrapper with
// NaCl secretbox.
package crypto

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"
	"os"

	"golang.org/x/crypto/nacl/secretbox"
)

// KeySize is the secretbox key length in bytes.
const KeySize = 32

// Service encrypts and decrypts small opaque byte blobs (provider
// credentials) with a single process-scoped symmetric key, loaded once at
// startup. A zero-value Service (no key loaded) is a plaintext passthrough
// — permitted by spec P3 but the caller is responsible for logging that as
// insecure; Service itself reports whether it holds a real key via
// Insecure.
type Service struct {
	key *[KeySize]byte
}

// NewService constructs a Service from an already-loaded key. Pass nil to
// get a plaintext-passthrough Service (P3's "permitted but must be logged
// as insecure" path).
func NewService(key *[KeySize]byte) *Service {
	return &Service{key: key}
}

// LoadFromFile reads a raw KeySize-byte key from path. A missing file is
// not an error — it returns a nil key, signaling the plaintext-passthrough
// mode permitted by P3.
func LoadFromFile(path string) (*Service, error) {
	if path == "" {
		return NewService(nil), nil
	}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return NewService(nil), nil
	}
	if err != nil {
		return nil, fmt.Errorf("crypto: read key file: %w", err)
	}
	if len(data) != KeySize {
		return nil, fmt.Errorf("crypto: key file %s must contain exactly %d bytes, got %d", path, KeySize, len(data))
	}
	var key [KeySize]byte
	copy(key[:], data)
	return NewService(&key), nil
}

// Insecure reports whether this Service has no real key loaded and is
// therefore storing credentials in plaintext.
func (s *Service) Insecure() bool { return s.key == nil }

// Encrypt seals plaintext under the process key. When no key is
// configured it returns the plaintext unchanged behind a "plain:" prefix so
// Decrypt can recognize the passthrough encoding symmetrically.
func (s *Service) Encrypt(plaintext []byte) ([]byte, error) {
	if s.key == nil {
		return append([]byte("plain:"), plaintext...), nil
	}

	var nonce [24]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return nil, fmt.Errorf("crypto: generate nonce: %w", err)
	}
	sealed := secretbox.Seal(nonce[:], plaintext, &nonce, s.key)
	encoded := make([]byte, base64.StdEncoding.EncodedLen(len(sealed)))
	base64.StdEncoding.Encode(encoded, sealed)
	return append([]byte("sbox:"), encoded...), nil
}

// Decrypt reverses Encrypt. ErrAuthFailed is returned when the ciphertext
// was tampered with or encrypted under a different key.
func (s *Service) Decrypt(ciphertext []byte) ([]byte, error) {
	switch {
	case hasPrefix(ciphertext, "plain:"):
		return ciphertext[len("plain:"):], nil
	case hasPrefix(ciphertext, "sbox:"):
		if s.key == nil {
			return nil, fmt.Errorf("crypto: ciphertext requires a key but none is configured")
		}
		encoded := ciphertext[len("sbox:"):]
		sealed := make([]byte, base64.StdEncoding.DecodedLen(len(encoded)))
		n, err := base64.StdEncoding.Decode(sealed, encoded)
		if err != nil {
			return nil, fmt.Errorf("crypto: decode ciphertext: %w", err)
		}
		sealed = sealed[:n]
		if len(sealed) < 24 {
			return nil, fmt.Errorf("crypto: ciphertext too short")
		}
		var nonce [24]byte
		copy(nonce[:], sealed[:24])
		plaintext, ok := secretbox.Open(nil, sealed[24:], &nonce, s.key)
		if !ok {
			return nil, ErrAuthFailed
		}
		return plaintext, nil
	default:
		return nil, fmt.Errorf("crypto: unrecognized ciphertext encoding")
	}
}

// ErrAuthFailed is returned by Decrypt when the ciphertext fails the
// secretbox authentication check.
var ErrAuthFailed = fmt.Errorf("crypto: decryption authentication failed")

func hasPrefix(b []byte, prefix string) bool {
	return len(b) >= len(prefix) && string(b[:len(prefix)]) == prefix
}
