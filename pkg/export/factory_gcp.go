//go:build gcp

package export

import (
	"context"
	"fmt"
	"os"
)

func newGCSStoreFromEnv(ctx context.Context) (BlobStore, error) {
	bucket := os.Getenv("PACK_GCS_BUCKET")
	if bucket == "" {
		return nil, fmt.Errorf("export: PACK_GCS_BUCKET is required for gcs storage")
	}
	return NewGCSStore(ctx, GCSConfig{
		Bucket: bucket,
		Prefix: os.Getenv("PACK_GCS_PREFIX"),
	})
}
