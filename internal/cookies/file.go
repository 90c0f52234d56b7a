package cookies

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// FileStore keeps the latest snapshot in a single file, replaced atomically.
type FileStore struct {
	path  string
	codec Codec
}

func NewFileStore(path string, codec Codec) *FileStore {
	return &FileStore{path: path, codec: codec}
}

func (s *FileStore) Read(_ context.Context) (Snapshot, error) {
	b, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return Snapshot{}, ErrNoSnapshot
	}
	if err != nil {
		return Snapshot{}, fmt.Errorf("read %s: %w", s.path, err)
	}
	return s.codec.Unmarshal(b)
}

func (s *FileStore) Write(_ context.Context, snap Snapshot) error {
	b, err := s.codec.Marshal(snap)
	if err != nil {
		return err
	}
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".snapshot-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(b); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmp.Name(), 0o600); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), s.path)
}

func (s *FileStore) Close() error { return nil }
