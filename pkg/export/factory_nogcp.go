//go:build !gcp

package export

import (
	"context"
	"fmt"
)

func newGCSStoreFromEnv(_ context.Context) (BlobStore, error) {
	return nil, fmt.Errorf("export: gcs storage is not enabled in this build (use -tags gcp)")
}
