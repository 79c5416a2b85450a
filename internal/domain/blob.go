package domain

import (
	"context"
	"io"
	"time"
)

// BlobInfo describes a stored object.
type BlobInfo struct {
	Path         string    `json:"path"`
	Size         int64     `json:"size"`
	ContentType  string    `json:"content_type,omitempty"`
	LastModified time.Time `json:"last_modified"`
}

// PutOptions describe one upload. A positive PartSize requests a concurrent
// multipart upload.
type PutOptions struct {
	ContentType string
	Metadata    map[string]string
	PartSize    int64
}

// BlobWriter uploads data to object storage.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, opts PutOptions) error
}

// BlobReader retrieves data from object storage.
type BlobReader interface {
	Get(ctx context.Context, path string) (io.ReadCloser, error)
	List(ctx context.Context, prefix string) ([]BlobInfo, error)
	Exists(ctx context.Context, path string) (bool, error)
}

// SessionArchiver moves a finished session's closed positions to cold storage
// and returns the number of records written.
type SessionArchiver interface {
	ArchiveSession(ctx context.Context, sessionID string, day time.Time) (int64, error)
}
