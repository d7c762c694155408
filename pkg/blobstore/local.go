package blobstore

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/renameio/v2"
	"github.com/nexi-lab/nexus/pkg/errtypes"
)

// Local is the Blob Backend variant backed by a file tree under a
// configured root, as described in spec §4.2 and the on-disk layout in
// §6 (blobs/<first-2-hex>/<digest>). Writes go through write-to-temp-
// then-rename via google/renameio so a crash mid-write never leaves a
// partial file visible under its final name. fsync is batched by
// renameio's default flush-before-rename behavior.
type Local struct {
	root string
	mu   sync.Mutex // guards directory creation races only; file writes are independent
}

// NewLocal returns a Local backend rooted at root, creating it if needed.
func NewLocal(root string) (*Local, error) {
	if err := os.MkdirAll(root, 0o750); err != nil {
		return nil, errtypes.Internal("create blob root: " + err.Error())
	}
	return &Local{root: root}, nil
}

func (l *Local) path(key string) string {
	return filepath.Join(l.root, filepath.FromSlash(key))
}

func (l *Local) ensureDir(key string) error {
	dir := filepath.Dir(l.path(key))
	l.mu.Lock()
	defer l.mu.Unlock()
	return os.MkdirAll(dir, 0o750)
}

// Put implements Backend.
func (l *Local) Put(ctx context.Context, key string, r io.Reader, size int64) error {
	if err := l.ensureDir(key); err != nil {
		return errtypes.Internal("mkdir: " + err.Error())
	}
	t, err := renameio.TempFile("", l.path(key))
	if err != nil {
		return errtypes.Internal("create temp file: " + err.Error())
	}
	defer t.Cleanup()

	if _, err := io.Copy(t, r); err != nil {
		return errtypes.Internal("write blob: " + err.Error())
	}
	if err := t.CloseAtomicallyReplace(); err != nil {
		return errtypes.Internal("atomic rename: " + err.Error())
	}
	return nil
}

// PutIfAbsent implements Backend.
func (l *Local) PutIfAbsent(ctx context.Context, key string, r io.Reader, size int64) (bool, error) {
	exists, err := l.Exists(ctx, key)
	if err != nil {
		return false, err
	}
	if exists {
		return false, nil
	}
	if err := l.Put(ctx, key, r, size); err != nil {
		return false, err
	}
	return true, nil
}

// Get implements Backend.
func (l *Local) Get(ctx context.Context, key string, rangeStart, rangeLen int64) (io.ReadCloser, error) {
	f, err := os.Open(l.path(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound(key)
		}
		return nil, errtypes.Internal("open blob: " + err.Error())
	}
	if rangeLen < 0 {
		return f, nil
	}
	if rangeStart > 0 {
		if _, err := f.Seek(rangeStart, io.SeekStart); err != nil {
			f.Close()
			return nil, errtypes.Internal("seek blob: " + err.Error())
		}
	}
	return &limitedReadCloser{r: io.LimitReader(f, rangeLen), c: f}, nil
}

type limitedReadCloser struct {
	r io.Reader
	c io.Closer
}

func (l *limitedReadCloser) Read(p []byte) (int, error) { return l.r.Read(p) }
func (l *limitedReadCloser) Close() error                { return l.c.Close() }

// Delete implements Backend.
func (l *Local) Delete(ctx context.Context, key string) error {
	if err := os.Remove(l.path(key)); err != nil {
		if os.IsNotExist(err) {
			return ErrNotFound(key)
		}
		return errtypes.Internal("delete blob: " + err.Error())
	}
	return nil
}

// Exists implements Backend.
func (l *Local) Exists(ctx context.Context, key string) (bool, error) {
	_, err := os.Stat(l.path(key))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, errtypes.Internal("stat blob: " + err.Error())
}

// Stat implements Backend.
func (l *Local) Stat(ctx context.Context, key string) (int64, error) {
	fi, err := os.Stat(l.path(key))
	if err != nil {
		if os.IsNotExist(err) {
			return 0, ErrNotFound(key)
		}
		return 0, errtypes.Internal("stat blob: " + err.Error())
	}
	return fi.Size(), nil
}
