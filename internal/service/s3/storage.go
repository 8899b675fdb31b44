package s3

import (
	"context"
	"io"
	"time"
)

// ObjectInfo is a single listed object.
type ObjectInfo struct {
	Key          string
	Size         int64
	LastModified time.Time
}

// ObjectLister is the read side the usage calculator depends on.
type ObjectLister interface {
	ListObjects(ctx context.Context, prefix string) ([]ObjectInfo, error)
}

// Storage is the full object store surface used by the upload endpoint.
type Storage interface {
	ObjectLister
	UploadFile(ctx context.Context, key string, body io.Reader, size int64, contentType string) error
	StatObject(ctx context.Context, key string) (*ObjectInfo, error)
	DeleteObject(ctx context.Context, key string) error
}
