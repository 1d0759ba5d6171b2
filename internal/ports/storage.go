package ports

import (
	"context"
	"io"
)

type PutObjectInput struct {
	ObjectKey   string
	ContentType string
	Reader      io.Reader
	Size        int64
}

type PutObjectOutput struct {
	// ObjectKey is what GetObject expects back: the key itself for localfs
	// and gcs, the Drive file id for gdrive.
	ObjectKey string
	Size      int64
	// URL is a location clients can resolve.
	URL string
}

// StorageProvider is the durable object store renders are published to.
type StorageProvider interface {
	Provider() string

	PutObject(ctx context.Context, in PutObjectInput) (PutObjectOutput, error)
	GetObject(ctx context.Context, objectKey string) (rc io.ReadCloser, contentType string, size int64, err error)
}
