package cache

import (
	"context"
	"os"
	"path/filepath"
	"strings"
)

// DocumentBackend persists the cache document as one opaque blob. The file
// backend is the default; a real key-value or transactional store can
// replace it without touching pipeline logic.
type DocumentBackend interface {
	Load(ctx context.Context) ([]byte, bool, error)
	Save(ctx context.Context, raw []byte) error
}

// FileBackend stores the document at a fixed path with atomic tmp+rename
// writes.
type FileBackend struct {
	path string
}

func NewFileBackend(path string) (*FileBackend, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, os.ErrInvalid
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	return &FileBackend{path: path}, nil
}

func (b *FileBackend) Load(_ context.Context) ([]byte, bool, error) {
	raw, err := os.ReadFile(b.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return raw, true, nil
}

func (b *FileBackend) Save(_ context.Context, raw []byte) error {
	tmp := b.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, b.path)
}
