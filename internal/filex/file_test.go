package filex

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnsureDir_CreatesAndIsIdempotent(t *testing.T) {
	target := filepath.Join(t.TempDir(), "a", "b")

	got, err := EnsureDir(target)
	require.NoError(t, err)
	assert.Equal(t, target, got)

	fi, err := os.Stat(target)
	require.NoError(t, err)
	assert.True(t, fi.IsDir())
	if runtime.GOOS != "windows" {
		assert.Equal(t, os.FileMode(0o700), fi.Mode().Perm()&0o700)
	}

	_, err = EnsureDir(target)
	assert.NoError(t, err)
}

func TestWriteFileAtomic_WritesContent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sub", "blob")

	n, err := WriteFileAtomic(path, strings.NewReader("payload"), 0o600)
	require.NoError(t, err)
	assert.EqualValues(t, 7, n)

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "payload", string(b))

	entries, err := os.ReadDir(filepath.Join(dir, "sub"))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temp files may remain")
}

type failingReader struct{ sent bool }

func (r *failingReader) Read(p []byte) (int, error) {
	if !r.sent {
		r.sent = true
		return copy(p, "partial"), nil
	}
	return 0, errors.New("stream broke")
}

func TestWriteFileAtomic_FailureLeavesNothing(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "blob")

	_, err := WriteFileAtomic(path, &failingReader{}, 0o600)
	require.Error(t, err)

	_, statErr := os.Stat(path)
	assert.True(t, errors.Is(statErr, os.ErrNotExist))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestWriteFileAtomic_ReplacesExisting(t *testing.T) {
	path := filepath.Join(t.TempDir(), "blob")
	require.NoError(t, os.WriteFile(path, []byte("old"), 0o600))

	_, err := WriteFileAtomic(path, io.LimitReader(strings.NewReader("new-content"), 3), 0o600)
	require.NoError(t, err)

	b, _ := os.ReadFile(path)
	assert.Equal(t, "new", string(b))
}

func TestRemoveIfExists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "x")
	assert.NoError(t, RemoveIfExists(path))

	require.NoError(t, os.WriteFile(path, []byte("x"), 0o600))
	assert.NoError(t, RemoveIfExists(path))
	_, err := os.Stat(path)
	assert.True(t, errors.Is(err, os.ErrNotExist))
}

func TestEmptyDir(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a"), []byte("1"), 0o600))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "b", "c"), 0o700))

	n, err := EmptyDir(dir)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	entries, _ := os.ReadDir(dir)
	assert.Empty(t, entries)

	n, err = EmptyDir(filepath.Join(dir, "missing"))
	assert.NoError(t, err)
	assert.Zero(t, n)
}
