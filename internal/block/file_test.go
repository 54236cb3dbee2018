package block

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func createBackingFile(t *testing.T, size int) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "backing.img")
	require.NoError(t, os.WriteFile(path, make([]byte, size), 0o600))

	return path
}

func TestOpen_ReadWrite(t *testing.T) {
	t.Parallel()

	path := createBackingFile(t, 16*1024)

	f, err := Open(path, ReadWrite)
	require.NoError(t, err)
	t.Cleanup(func() { _ = f.Close() })

	size, err := f.Size()
	require.NoError(t, err)
	assert.Equal(t, int64(16*1024), size)
	assert.Equal(t, path, f.Path())
	assert.Equal(t, ReadWrite, f.Mode())

	payload := bytes.Repeat([]byte{0x5a}, 4096)
	n, err := f.WriteAt(payload, 8192)
	require.NoError(t, err)
	require.Equal(t, len(payload), n)
	require.NoError(t, f.Sync())

	got := make([]byte, 4096)
	_, err = f.ReadAt(got, 8192)
	require.NoError(t, err)
	assert.Equal(t, payload, got)
}

func TestOpen_ReadOnly(t *testing.T) {
	t.Parallel()

	f, err := Open(createBackingFile(t, 4096), ReadOnly)
	require.NoError(t, err)
	t.Cleanup(func() { _ = f.Close() })

	_, err = f.WriteAt([]byte{1}, 0)
	require.ErrorIs(t, err, ErrReadOnly)
	require.ErrorIs(t, f.Discard(0, 4096), ErrReadOnly)
}

func TestOpen_Missing(t *testing.T) {
	t.Parallel()

	_, err := Open(filepath.Join(t.TempDir(), "missing"), ReadWrite)
	require.ErrorIs(t, err, os.ErrNotExist)
}

func TestOpen_Directory(t *testing.T) {
	t.Parallel()

	_, err := Open(t.TempDir(), ReadOnly)
	require.Error(t, err)
}

func TestFile_DiscardEmptyRange(t *testing.T) {
	t.Parallel()

	f, err := Open(createBackingFile(t, 4096), ReadWrite)
	require.NoError(t, err)
	t.Cleanup(func() { _ = f.Close() })

	require.NoError(t, f.Discard(0, 0))
}

func TestFile_CloseTwice(t *testing.T) {
	t.Parallel()

	f, err := Open(createBackingFile(t, 4096), ReadWrite)
	require.NoError(t, err)

	require.NoError(t, f.Close())
	require.Error(t, f.Close())
}
