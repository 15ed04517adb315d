package session

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
	"github.com/rotisserie/eris"
)

const lockRetryDelay = 25 * time.Millisecond

// FileStore keeps one JSON file per session in a directory. Writes hold an
// advisory file lock so stage processes on the same host serialize their
// compare-and-swap cycles.
type FileStore struct {
	dir string
}

// NewFileStore creates the directory if needed and returns a FileStore.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, eris.Wrapf(err, "session: create dir %s", dir)
	}
	return &FileStore{dir: dir}, nil
}

func (f *FileStore) path(id string) (string, error) {
	if !validID(id) {
		return "", eris.Wrapf(ErrInvalidID, "session: id %q", id)
	}
	return filepath.Join(f.dir, id), nil
}

// Read implements Store.
func (f *FileStore) Read(ctx context.Context, id string) (Document, error) {
	doc, _, err := f.ReadVersion(ctx, id)
	return doc, err
}

// ReadVersion implements VersionedStore. The version is a content digest.
func (f *FileStore) ReadVersion(_ context.Context, id string) (Document, Version, error) {
	p, err := f.path(id)
	if err != nil {
		return nil, NoVersion, err
	}
	body, err := os.ReadFile(p)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, NoVersion, ErrNotFound
	}
	if err != nil {
		return nil, NoVersion, eris.Wrapf(err, "session: read %s", id)
	}
	doc, err := decode(body)
	if err != nil {
		return nil, NoVersion, err
	}
	return doc, digest(body), nil
}

// Write implements Store.
func (f *FileStore) Write(ctx context.Context, id string, doc Document) error {
	return f.withLock(ctx, id, func(p string) error {
		body, err := encode(doc)
		if err != nil {
			return err
		}
		return writeAtomic(p, body)
	})
}

// WriteVersion implements VersionedStore.
func (f *FileStore) WriteVersion(ctx context.Context, id string, doc Document, expected Version) error {
	return f.withLock(ctx, id, func(p string) error {
		current := NoVersion
		body, err := os.ReadFile(p)
		switch {
		case err == nil:
			current = digest(body)
		case !errors.Is(err, fs.ErrNotExist):
			return eris.Wrapf(err, "session: read %s", id)
		}
		if current != expected {
			return ErrVersionConflict
		}
		next, err := encode(doc)
		if err != nil {
			return err
		}
		return writeAtomic(p, next)
	})
}

// Exists implements Store.
func (f *FileStore) Exists(_ context.Context, id string) (bool, error) {
	p, err := f.path(id)
	if err != nil {
		return false, err
	}
	_, err = os.Stat(p)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, eris.Wrapf(err, "session: stat %s", id)
	}
	return true, nil
}

func (f *FileStore) withLock(ctx context.Context, id string, fn func(path string) error) error {
	p, err := f.path(id)
	if err != nil {
		return err
	}
	lock := flock.New(filepath.Join(f.dir, "."+id+".lock"))
	locked, err := lock.TryLockContext(ctx, lockRetryDelay)
	if err != nil {
		return eris.Wrapf(err, "session: lock %s", id)
	}
	if !locked {
		return eris.Errorf("session: lock %s not acquired", id)
	}
	defer lock.Unlock() //nolint:errcheck
	return fn(p)
}

func writeAtomic(p string, body []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(p), ".tmp-*")
	if err != nil {
		return eris.Wrap(err, "session: create temp file")
	}
	defer os.Remove(tmp.Name()) //nolint:errcheck

	if _, err := tmp.Write(body); err != nil {
		tmp.Close() //nolint:errcheck
		return eris.Wrap(err, "session: write temp file")
	}
	if err := tmp.Close(); err != nil {
		return eris.Wrap(err, "session: close temp file")
	}
	return eris.Wrapf(os.Rename(tmp.Name(), p), "session: rename into %s", filepath.Base(p))
}

func digest(body []byte) Version {
	sum := sha256.Sum256(body)
	return Version(hex.EncodeToString(sum[:8]))
}
