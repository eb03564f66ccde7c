package storage

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/dmitrijs2005/filerelay/internal/common"
	"github.com/dmitrijs2005/filerelay/internal/logging"
	"github.com/dmitrijs2005/filerelay/internal/server/keys"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testHandle = "3f1c2b7a-9d4e-4f60-8a1b-2c3d4e5f6a7b"

func TestLocalBackend_PutGetDelete(t *testing.T) {
	root := t.TempDir()
	b, err := NewLocalBackend(root)
	require.NoError(t, err)
	ctx := context.Background()

	_, err = b.Get(ctx, testHandle)
	assert.ErrorIs(t, err, common.ErrorNotFound)

	require.NoError(t, b.Put(ctx, testHandle, []byte("sealed")))

	path := filepath.Join(root, testHandle[:2], testHandle+".enc")
	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	rc, err := b.Get(ctx, testHandle)
	require.NoError(t, err)
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.NoError(t, rc.Close())
	assert.Equal(t, "sealed", string(data))

	require.NoError(t, b.Delete(ctx, testHandle))
	require.NoError(t, b.Delete(ctx, testHandle))

	_, err = b.Get(ctx, testHandle)
	assert.ErrorIs(t, err, common.ErrorNotFound)

	entries, err := os.ReadDir(filepath.Join(root, testHandle[:2]))
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestLocalBackend_WithManager(t *testing.T) {
	b, err := NewLocalBackend(t.TempDir())
	require.NoError(t, err)
	k, err := keys.NewManager(strings.Repeat("ab", 32), "")
	require.NoError(t, err)

	m, err := NewEncryptedManager(k, b, logging.Discard(), Options{
		MaxSize:      1 << 20,
		AllowedTypes: []string{"application/pdf"},
		ScratchDir:   t.TempDir(),
	})
	require.NoError(t, err)

	ctx := context.Background()
	obj, err := m.Store(ctx, strings.NewReader("%PDF-1.7 body"), Metadata{MimeType: "application/pdf"})
	require.NoError(t, err)

	pt, release, err := m.Retrieve(ctx, obj.Handle)
	require.NoError(t, err)
	defer release()
	got, err := io.ReadAll(pt)
	require.NoError(t, err)
	assert.Equal(t, "%PDF-1.7 body", string(got))
}
