/**
 * @description
 * Symmetric sealing for aggregation-provider access tokens stored at rest.
 * Tokens are encrypted with NaCl secretbox under a 32-byte key and stored as
 * base64 (nonce || ciphertext).
 *
 * @dependencies
 * - golang.org/x/crypto/nacl/secretbox: Authenticated encryption.
 */
package tokencrypt

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/nacl/secretbox"
)

const (
	keySize   = 32
	nonceSize = 24
)

var (
	ErrInvalidKey        = errors.New("token encryption key must be 32 bytes, base64 encoded")
	ErrMalformedCipher   = errors.New("sealed token is malformed")
	ErrDecryptionFailure = errors.New("sealed token could not be opened")
)

// Box seals and opens access tokens.
type Box struct {
	key [keySize]byte
}

// NewBox decodes a base64 (standard or URL) key.
func NewBox(encodedKey string) (*Box, error) {
	encodedKey = strings.TrimSpace(encodedKey)
	raw, err := base64.StdEncoding.DecodeString(encodedKey)
	if err != nil {
		raw, err = base64.URLEncoding.DecodeString(encodedKey)
	}
	if err != nil || len(raw) != keySize {
		return nil, ErrInvalidKey
	}
	box := &Box{}
	copy(box.key[:], raw)
	return box, nil
}

// Seal encrypts plaintext under a fresh random nonce.
func (b *Box) Seal(plaintext string) (string, error) {
	var nonce [nonceSize]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}
	sealed := secretbox.Seal(nonce[:], []byte(plaintext), &nonce, &b.key)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Open reverses Seal.
func (b *Box) Open(sealed string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(sealed)
	if err != nil || len(raw) < nonceSize+secretbox.Overhead {
		return "", ErrMalformedCipher
	}
	var nonce [nonceSize]byte
	copy(nonce[:], raw[:nonceSize])
	plaintext, ok := secretbox.Open(nil, raw[nonceSize:], &nonce, &b.key)
	if !ok {
		return "", ErrDecryptionFailure
	}
	return string(plaintext), nil
}
