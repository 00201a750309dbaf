// Package crypto encrypts provider OAuth tokens before they are written to the database.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"
)

type Service interface {
	Encrypt(plaintext string) (string, error)
	Decrypt(ciphertext string) (string, error)
}

// NoopService passes values through unchanged (dev/test mode).
type NoopService struct{}

func (NoopService) Encrypt(plaintext string) (string, error)  { return plaintext, nil }
func (NoopService) Decrypt(ciphertext string) (string, error) { return ciphertext, nil }

var ErrUnknownKeyVersion = errors.New("unknown encryption key version")

// AESGCM encrypts with the current key and decrypts with any registered key.
// Ciphertexts are stored as "<version>$<hex(nonce||sealed)>".
type AESGCM struct {
	current string
	aeads   map[string]cipher.AEAD
}

// NewAESGCM takes hex encoded 32-byte keys by version; current names the encrypting key.
func NewAESGCM(keys map[string]string, current string) (*AESGCM, error) {
	if len(keys) == 0 {
		return nil, errors.New("at least one key required")
	}
	if _, ok := keys[current]; !ok {
		return nil, fmt.Errorf("current version %s not found", current)
	}

	svc := &AESGCM{current: current, aeads: make(map[string]cipher.AEAD, len(keys))}
	for version, hexKey := range keys {
		if version == "" || strings.Contains(version, "$") {
			return nil, fmt.Errorf("invalid key version %q", version)
		}
		aead, err := newAEAD(hexKey)
		if err != nil {
			return nil, fmt.Errorf("invalid key for version %s: %w", version, err)
		}
		svc.aeads[version] = aead
	}
	return svc, nil
}

func newAEAD(hexKey string) (cipher.AEAD, error) {
	key, err := hex.DecodeString(hexKey)
	if err != nil {
		return nil, fmt.Errorf("key is not hex: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("key must be 32 bytes, got %d", len(key))
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return gcm, nil
}

func (c *AESGCM) Encrypt(plaintext string) (string, error) {
	aead := c.aeads[c.current]
	nonce := make([]byte, aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	sealed := aead.Seal(nonce, nonce, []byte(plaintext), []byte(c.current))
	return c.current + "$" + hex.EncodeToString(sealed), nil
}

func (c *AESGCM) Decrypt(ciphertext string) (string, error) {
	version, payload, ok := strings.Cut(ciphertext, "$")
	if !ok {
		return "", errors.New("ciphertext has no key version")
	}
	aead, ok := c.aeads[version]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownKeyVersion, version)
	}

	buffer, err := hex.DecodeString(payload)
	if err != nil {
		return "", fmt.Errorf("failed to decode hex: %w", err)
	}
	nonceSize := aead.NonceSize()
	if len(buffer) < nonceSize {
		return "", errors.New("ciphertext too short")
	}

	nonce, sealed := buffer[:nonceSize], buffer[nonceSize:]
	plain, err := aead.Open(nil, nonce, sealed, []byte(version))
	if err != nil {
		return "", fmt.Errorf("failed to decrypt: %w", err)
	}
	return string(plain), nil
}

// NeedsReencrypt reports whether ciphertext was sealed with a non-current key.
func (c *AESGCM) NeedsReencrypt(ciphertext string) bool {
	version, _, _ := strings.Cut(ciphertext, "$")
	return version != c.current
}
