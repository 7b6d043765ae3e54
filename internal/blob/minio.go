package blob

import (
	"context"
	"fmt"
	"io"

	"github.com/minio/minio-go/v7"
)

// MinIO adapts a minio.Client to the Store interface, keeping all blobs of
// one deployment inside a single bucket.
type MinIO struct {
	client *minio.Client
	bucket string
}

// NewMinIO constructs the adapter.
func NewMinIO(client *minio.Client, bucket string) *MinIO {
	return &MinIO{client: client, bucket: bucket}
}

func (m *MinIO) Put(ctx context.Context, name string, r io.Reader, size int64) error {
	opts := minio.PutObjectOptions{ContentType: "application/octet-stream"}
	if _, err := m.client.PutObject(ctx, m.bucket, name, r, size, opts); err != nil {
		return fmt.Errorf("store blob %s: %w", name, err)
	}
	return nil
}

func (m *MinIO) Open(ctx context.Context, name string) (io.ReadCloser, error) {
	if _, err := m.client.StatObject(ctx, m.bucket, name, minio.StatObjectOptions{}); err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("stat blob %s: %w", name, err)
	}

	obj, err := m.client.GetObject(ctx, m.bucket, name, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("fetch blob %s: %w", name, err)
	}
	return obj, nil
}

func (m *MinIO) Remove(ctx context.Context, name string) error {
	if err := m.client.RemoveObject(ctx, m.bucket, name, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("remove blob %s: %w", name, err)
	}
	return nil
}
