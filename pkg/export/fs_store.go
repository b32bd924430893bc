package export

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrBadRef is returned when a blob reference is not "sha256:<hex>".
var ErrBadRef = errors.New("export: invalid blob reference")

// FileStore keeps packs on the local filesystem, one file per pack,
// named by content hash. The default backend for single-node deploys.
type FileStore struct {
	dir string
}

// NewFileStore creates the directory if needed.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("export: create pack dir: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

func (s *FileStore) path(rawHash string) string {
	return filepath.Join(s.dir, rawHash+".pack")
}

// Store writes the pack and returns its "sha256:<hex>" reference.
// Storing the same bytes twice is a no-op.
func (s *FileStore) Store(_ context.Context, data []byte) (string, error) {
	sum := sha256.Sum256(data)
	rawHash := hex.EncodeToString(sum[:])

	path := s.path(rawHash)
	if _, err := os.Stat(path); err == nil {
		return "sha256:" + rawHash, nil
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("export: write pack: %w", err)
	}
	return "sha256:" + rawHash, nil
}

// Get reads a pack back by its reference.
func (s *FileStore) Get(_ context.Context, ref string) ([]byte, error) {
	rawHash, err := parseRef(ref)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(s.path(rawHash))
	if err != nil {
		return nil, fmt.Errorf("export: read pack %s: %w", ref, err)
	}
	return data, nil
}

// Exists reports whether the pack is on disk.
func (s *FileStore) Exists(_ context.Context, ref string) (bool, error) {
	rawHash, err := parseRef(ref)
	if err != nil {
		return false, err
	}
	if _, err := os.Stat(s.path(rawHash)); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// Delete removes a pack. Missing packs are not an error.
func (s *FileStore) Delete(_ context.Context, ref string) error {
	rawHash, err := parseRef(ref)
	if err != nil {
		return err
	}
	if err := os.Remove(s.path(rawHash)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("export: delete pack %s: %w", ref, err)
	}
	return nil
}

func parseRef(ref string) (string, error) {
	rawHash, ok := strings.CutPrefix(ref, "sha256:")
	if !ok || len(rawHash) != 64 {
		return "", fmt.Errorf("%w: %s", ErrBadRef, ref)
	}
	return rawHash, nil
}
