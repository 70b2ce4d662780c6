// Package objstore stores binary objects (meeting audio) and hands back
// retrievable URLs.
package objstore

import (
	"context"
	"fmt"
	"io"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// Storage stores an object under a key and returns its retrievable URL.
type Storage interface {
	Put(ctx context.Context, key, contentType string, r io.Reader, size int64) (string, error)
}

// MinIO implements Storage against a MinIO (or any S3-compatible) endpoint.
type MinIO struct {
	client *minio.Client
	bucket string
	base   string
}

func NewMinIO(endpoint, accessKey, secretKey, bucket string, useSSL bool) (*MinIO, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create object storage client: %w", err)
	}
	scheme := "http"
	if useSSL {
		scheme = "https"
	}
	return &MinIO{
		client: client,
		bucket: bucket,
		base:   fmt.Sprintf("%s://%s", scheme, endpoint),
	}, nil
}

func (m *MinIO) Put(ctx context.Context, key, contentType string, r io.Reader, size int64) (string, error) {
	_, err := m.client.PutObject(ctx, m.bucket, key, r, size, minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return "", fmt.Errorf("store object %s: %w", key, err)
	}
	return fmt.Sprintf("%s/%s/%s", m.base, m.bucket, key), nil
}

var _ Storage = (*MinIO)(nil)
