package blob

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLocalPutAndOpenRoundTrip(t *testing.T) {
	store, err := NewLocal(t.TempDir())
	require.NoError(t, err)

	content := []byte("ciphertext bytes")
	err = store.Put(context.Background(), "abc.enc", bytes.NewReader(content), int64(len(content)))
	require.NoError(t, err)

	rc, err := store.Open(context.Background(), "abc.enc")
	require.NoError(t, err)
	defer rc.Close()

	got, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.Equal(t, content, got)
}

func TestLocalPutLeavesNoTempFileOnFailure(t *testing.T) {
	dir := t.TempDir()
	store, err := NewLocal(dir)
	require.NoError(t, err)

	err = store.Put(context.Background(), "bad.enc", &failingReader{}, 10)
	require.Error(t, err)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	for _, e := range entries {
		require.False(t, strings.HasPrefix(e.Name(), ".upload-"), "temp artifact left behind: %s", e.Name())
	}

	_, err = store.Open(context.Background(), "bad.enc")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestLocalOpenMissingBlob(t *testing.T) {
	store, err := NewLocal(t.TempDir())
	require.NoError(t, err)

	_, err = store.Open(context.Background(), "missing.enc")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestLocalRemoveIsIdempotent(t *testing.T) {
	store, err := NewLocal(t.TempDir())
	require.NoError(t, err)

	err = store.Put(context.Background(), "gone.enc", strings.NewReader("x"), 1)
	require.NoError(t, err)

	require.NoError(t, store.Remove(context.Background(), "gone.enc"))
	require.NoError(t, store.Remove(context.Background(), "gone.enc"))
}

func TestLocalPathTraversalIsNeutralized(t *testing.T) {
	dir := t.TempDir()
	store, err := NewLocal(dir)
	require.NoError(t, err)

	err = store.Put(context.Background(), "../escape.enc", strings.NewReader("x"), 1)
	require.NoError(t, err)

	_, statErr := os.Stat(filepath.Join(dir, "escape.enc"))
	require.NoError(t, statErr)
}

type failingReader struct{}

func (*failingReader) Read([]byte) (int, error) {
	return 0, errors.New("broken source stream")
}
