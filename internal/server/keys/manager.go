// Package keys resolves the process-wide at-rest encryption key.
//
// The key is resolved once when the Manager is built and never changes
// afterwards. There is no rotation: objects sealed under one key can only
// be read back under the same key.
package keys

import (
	"encoding/hex"
	"errors"

	"github.com/dmitrijs2005/filerelay/internal/common"
	"github.com/dmitrijs2005/filerelay/internal/cryptox"
)

// Manager holds the at-rest key.
type Manager struct {
	key       []byte
	generated bool
}

// NewManager resolves the key from secret:
//   - 64 hex characters are decoded as the raw 32-byte key;
//   - any other non-empty value is a passphrase stretched with argon2id
//     under salt;
//   - an empty secret produces a random key for this process only.
//     Everything stored under it is unreadable after a restart.
func NewManager(secret, salt string) (*Manager, error) {
	if secret == "" {
		return &Manager{key: common.GenerateRandByteArray(cryptox.KeySize), generated: true}, nil
	}

	if len(secret) == hex.EncodedLen(cryptox.KeySize) {
		if raw, err := hex.DecodeString(secret); err == nil {
			return &Manager{key: raw}, nil
		}
	}

	if salt == "" {
		return nil, errors.New("encryption key salt must not be empty for passphrase keys")
	}

	return &Manager{key: cryptox.DeriveKey([]byte(secret), []byte(salt))}, nil
}

// Key returns a copy of the key.
func (m *Manager) Key() []byte {
	return append([]byte(nil), m.key...)
}

// Generated reports whether the key is ephemeral.
func (m *Manager) Generated() bool {
	return m.generated
}
