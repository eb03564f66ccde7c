package storage

import (
	"context"
	"fmt"
)

// NewBackend builds the backend named by kind: "local" keeps blobs under
// root, "s3" stores them in the bucket described by s3c.
func NewBackend(ctx context.Context, kind, root string, s3c S3Config) (Backend, error) {
	switch kind {
	case "", "local":
		return NewLocalBackend(root)
	case "s3":
		return NewS3Backend(ctx, s3c)
	default:
		return nil, fmt.Errorf("unknown storage backend %q", kind)
	}
}
