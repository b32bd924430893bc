//go:build gcp

package export

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"

	"cloud.google.com/go/storage"
)

// GCSStore keeps evidence packs in a Google Cloud Storage bucket, keyed
// by content hash. Uses Application Default Credentials.
type GCSStore struct {
	client *storage.Client
	bucket string
	prefix string
}

// GCSConfig holds the GCS backend settings.
type GCSConfig struct {
	Bucket string
	Prefix string
}

// NewGCSStore creates a GCS-backed pack store.
func NewGCSStore(ctx context.Context, cfg GCSConfig) (*GCSStore, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("export: create gcs client: %w", err)
	}
	return &GCSStore{client: client, bucket: cfg.Bucket, prefix: cfg.Prefix}, nil
}

func (s *GCSStore) object(rawHash string) *storage.ObjectHandle {
	return s.client.Bucket(s.bucket).Object(s.prefix + rawHash + ".pack")
}

// Store uploads the pack and returns its "sha256:<hex>" reference.
// Packs already in the bucket are not re-uploaded.
func (s *GCSStore) Store(ctx context.Context, data []byte) (string, error) {
	sum := sha256.Sum256(data)
	rawHash := hex.EncodeToString(sum[:])

	obj := s.object(rawHash)
	if _, err := obj.Attrs(ctx); err == nil {
		return "sha256:" + rawHash, nil
	}

	w := obj.NewWriter(ctx)
	w.ContentType = "application/zip"
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return "", fmt.Errorf("export: gcs write: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("export: gcs close: %w", err)
	}
	return "sha256:" + rawHash, nil
}

// Get downloads a pack by its reference.
func (s *GCSStore) Get(ctx context.Context, ref string) ([]byte, error) {
	rawHash, err := parseRef(ref)
	if err != nil {
		return nil, err
	}
	r, err := s.object(rawHash).NewReader(ctx)
	if err != nil {
		return nil, fmt.Errorf("export: gcs get %s: %w", ref, err)
	}
	defer func() { _ = r.Close() }()
	return io.ReadAll(r)
}

// Exists checks the object's attributes.
func (s *GCSStore) Exists(ctx context.Context, ref string) (bool, error) {
	rawHash, err := parseRef(ref)
	if err != nil {
		return false, err
	}
	if _, err := s.object(rawHash).Attrs(ctx); err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("export: gcs attrs: %w", err)
	}
	return true, nil
}

// Delete removes a pack. Missing packs are not an error.
func (s *GCSStore) Delete(ctx context.Context, ref string) error {
	rawHash, err := parseRef(ref)
	if err != nil {
		return err
	}
	if err := s.object(rawHash).Delete(ctx); err != nil && !errors.Is(err, storage.ErrObjectNotExist) {
		return fmt.Errorf("export: gcs delete %s: %w", ref, err)
	}
	return nil
}

// Close releases the GCS client.
func (s *GCSStore) Close() error {
	return s.client.Close()
}
