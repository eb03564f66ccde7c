package cryptox

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testKey(b byte) []byte {
	return bytes.Repeat([]byte{b}, KeySize)
}

func TestSealOpen_RoundTrip(t *testing.T) {
	key := testKey(1)
	plain := []byte("quarterly report")

	sealed, err := Seal(key, plain, []byte("handle-1"))
	require.NoError(t, err)
	assert.Len(t, sealed, len(plain)+Overhead)
	assert.NotContains(t, string(sealed), "quarterly")

	got, err := Open(key, sealed, []byte("handle-1"))
	require.NoError(t, err)
	assert.Equal(t, plain, got)
}

func TestSeal_FreshNonceEachTime(t *testing.T) {
	key := testKey(2)
	a, err := Seal(key, []byte("same"), nil)
	require.NoError(t, err)
	b, err := Seal(key, []byte("same"), nil)
	require.NoError(t, err)
	assert.NotEqual(t, a[:NonceSize], b[:NonceSize])
}

func TestOpen_Failures(t *testing.T) {
	key := testKey(3)
	sealed, err := Seal(key, []byte("payload"), []byte("aad"))
	require.NoError(t, err)

	_, err = Open(testKey(4), sealed, []byte("aad"))
	assert.Error(t, err, "wrong key")

	_, err = Open(key, sealed, []byte("other"))
	assert.Error(t, err, "wrong aad")

	tampered := append([]byte(nil), sealed...)
	tampered[len(tampered)-1] ^= 0xff
	_, err = Open(key, tampered, []byte("aad"))
	assert.Error(t, err, "tampered tag")

	_, err = Open(key, sealed[:5], []byte("aad"))
	assert.ErrorIs(t, err, ErrCiphertextTooShort)
}

func TestSeal_RejectsBadKeyLength(t *testing.T) {
	_, err := Seal([]byte("short"), []byte("x"), nil)
	assert.Error(t, err)
}

func TestDeriveKey(t *testing.T) {
	k1 := DeriveKey([]byte("passphrase"), []byte("salt-1"))
	k2 := DeriveKey([]byte("passphrase"), []byte("salt-1"))
	k3 := DeriveKey([]byte("passphrase"), []byte("salt-2"))

	assert.Len(t, k1, KeySize)
	assert.Equal(t, k1, k2)
	assert.NotEqual(t, k1, k3)
}
