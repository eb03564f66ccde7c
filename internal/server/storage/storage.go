// Package storage is the encrypted storage manager: uploads are sealed with
// AES-256-GCM under the process key before they reach a blob backend, and
// downloads are opened into a transient scratch file that is removed when
// the caller releases it.
package storage

import (
	"context"
	"io"
	"time"
)

// EncryptedObject describes a stored, fully encrypted blob. Handle is the
// only durable reference to it.
type EncryptedObject struct {
	Handle    string `json:"handle"`
	SizeBytes int64  `json:"sizeBytes"`
	MimeType  string `json:"mimeType"`
}

// Metadata is what the uploader declares about its input. Owner is the
// identity the object is recorded against.
type Metadata struct {
	Owner        string
	FileName     string
	MimeType     string
	DeclaredSize int64
}

// Plaintext is a decrypted object ready to be served. It is backed by a
// transient file; the release func returned with it must be called.
type Plaintext struct {
	io.ReadSeeker
	Size    int64
	ModTime time.Time
}

// Backend persists opaque sealed blobs. Put must be atomic: a concurrent
// Get sees either nothing or the complete blob.
type Backend interface {
	Put(ctx context.Context, handle string, blob []byte) error
	Get(ctx context.Context, handle string) (io.ReadCloser, error)
	Delete(ctx context.Context, handle string) error
}
