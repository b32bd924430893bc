package export

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// StoreType selects the pack storage backend.
type StoreType string

const (
	StoreTypeFS  StoreType = "fs"
	StoreTypeS3  StoreType = "s3"
	StoreTypeGCS StoreType = "gcs"
)

// NewStoreFromEnv builds a pack store from environment variables.
//
//   - PACK_STORAGE_TYPE: "fs" (default), "s3", or "gcs"
//   - DATA_DIR: base directory for the fs store (default "data")
//   - PACK_S3_BUCKET (required for s3), PACK_S3_REGION or AWS_REGION,
//     PACK_S3_ENDPOINT (MinIO/LocalStack), PACK_S3_PREFIX
//   - PACK_GCS_BUCKET (required for gcs), PACK_GCS_PREFIX
func NewStoreFromEnv(ctx context.Context) (BlobStore, error) {
	storeType := StoreType(os.Getenv("PACK_STORAGE_TYPE"))
	if storeType == "" {
		storeType = StoreTypeFS
	}

	switch storeType {
	case StoreTypeFS:
		dataDir := os.Getenv("DATA_DIR")
		if dataDir == "" {
			dataDir = "data"
		}
		return NewFileStore(filepath.Join(dataDir, "packs"))
	case StoreTypeS3:
		return newS3StoreFromEnv(ctx)
	case StoreTypeGCS:
		return newGCSStoreFromEnv(ctx)
	default:
		return nil, fmt.Errorf("export: unsupported pack storage type: %s", storeType)
	}
}

func newS3StoreFromEnv(ctx context.Context) (BlobStore, error) {
	bucket := os.Getenv("PACK_S3_BUCKET")
	if bucket == "" {
		return nil, fmt.Errorf("export: PACK_S3_BUCKET is required for s3 storage")
	}
	region := os.Getenv("PACK_S3_REGION")
	if region == "" {
		region = os.Getenv("AWS_REGION")
	}
	if region == "" {
		region = "us-east-1"
	}
	return NewS3Store(ctx, S3Config{
		Bucket:   bucket,
		Region:   region,
		Endpoint: os.Getenv("PACK_S3_ENDPOINT"),
		Prefix:   os.Getenv("PACK_S3_PREFIX"),
	})
}
