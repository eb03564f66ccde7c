package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/dmitrijs2005/filerelay/internal/filex"
)

// LocalBackend keeps blobs under a directory, fanned out by the first two
// characters of the handle.
type LocalBackend struct {
	root string
}

// NewLocalBackend creates root if needed.
func NewLocalBackend(root string) (*LocalBackend, error) {
	abs, err := filex.EnsureDir(root)
	if err != nil {
		return nil, err
	}
	return &LocalBackend{root: abs}, nil
}

func (b *LocalBackend) path(handle string) string {
	return filepath.Join(b.root, handle[:2], handle+".enc")
}

func (b *LocalBackend) Put(ctx context.Context, handle string, blob []byte) error {
	if _, err := filex.WriteFileAtomic(b.path(handle), bytes.NewReader(blob), 0o600); err != nil {
		return fmt.Errorf("put %s: %w", handle, err)
	}
	return nil
}

func (b *LocalBackend) Get(ctx context.Context, handle string) (io.ReadCloser, error) {
	f, err := os.Open(b.path(handle))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, errNotFound(handle)
		}
		return nil, fmt.Errorf("get %s: %w", handle, err)
	}
	return f, nil
}

func (b *LocalBackend) Delete(ctx context.Context, handle string) error {
	if err := filex.RemoveIfExists(b.path(handle)); err != nil {
		return fmt.Errorf("delete %s: %w", handle, err)
	}
	return nil
}
