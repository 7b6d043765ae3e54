package blob

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// Local stores blobs as files under a single directory, committing each
// write through a temp file rename so readers never observe partial content.
type Local struct {
	dir string
}

// NewLocal creates the target directory if needed and returns a Local store.
func NewLocal(dir string) (*Local, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create blob directory: %w", err)
	}
	return &Local{dir: dir}, nil
}

func (l *Local) Put(ctx context.Context, name string, r io.Reader, size int64) error {
	tmp, err := os.CreateTemp(l.dir, ".upload-*")
	if err != nil {
		return fmt.Errorf("create temp blob: %w", err)
	}
	tmpName := tmp.Name()

	_, err = io.Copy(tmp, r)
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err == nil {
		err = ctx.Err()
	}
	if err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("write blob %s: %w", name, err)
	}

	if err := os.Rename(tmpName, l.path(name)); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("commit blob %s: %w", name, err)
	}
	return nil
}

func (l *Local) Open(ctx context.Context, name string) (io.ReadCloser, error) {
	f, err := os.Open(l.path(name))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("open blob %s: %w", name, err)
	}
	return f, nil
}

func (l *Local) Remove(ctx context.Context, name string) error {
	if err := os.Remove(l.path(name)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove blob %s: %w", name, err)
	}
	return nil
}

func (l *Local) path(name string) string {
	return filepath.Join(l.dir, filepath.Base(name))
}
