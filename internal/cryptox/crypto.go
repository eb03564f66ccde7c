// Package cryptox wraps the authenticated encryption primitives used for
// data at rest: AES-256-GCM with a random nonce per message, and argon2id for
// stretching a configured passphrase into a key.
package cryptox

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"

	"golang.org/x/crypto/argon2"
)

const (
	// KeySize is the AES-256 key length.
	KeySize = 32
	// NonceSize is the standard GCM nonce length.
	NonceSize = 12
	// Overhead is what Seal adds to a plaintext: nonce plus GCM tag.
	Overhead = NonceSize + 16
)

// ErrCiphertextTooShort is returned by Open for input that cannot even hold
// a nonce and tag.
var ErrCiphertextTooShort = errors.New("ciphertext too short")

// DeriveKey stretches a passphrase into a KeySize key with argon2id.
func DeriveKey(passphrase, salt []byte) []byte {
	return argon2.IDKey(passphrase, salt, 1, 64*1024, 4, KeySize)
}

func newGCM(key []byte) (cipher.AEAD, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("invalid key length %d", len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

// Seal encrypts plaintext under key and returns nonce||ciphertext||tag.
// aad is authenticated but not encrypted; Open must be given the same aad.
func Seal(key, plaintext, aad []byte) ([]byte, error) {
	aesgcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	out := make([]byte, NonceSize, NonceSize+len(plaintext)+aesgcm.Overhead())
	if _, err := rand.Read(out); err != nil {
		return nil, err
	}

	return aesgcm.Seal(out, out[:NonceSize], plaintext, aad), nil
}

// Open reverses Seal. Any tampering, a wrong key or a wrong aad yields an
// error.
func Open(key, sealed, aad []byte) ([]byte, error) {
	aesgcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	if len(sealed) < NonceSize+aesgcm.Overhead() {
		return nil, ErrCiphertextTooShort
	}

	nonce, ciphertext := sealed[:NonceSize], sealed[NonceSize:]
	return aesgcm.Open(nil, nonce, ciphertext, aad)
}
