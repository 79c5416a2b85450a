package s3blob

import (
	"context"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/alanyoungcy/exitwatch/internal/domain"
)

const (
	jsonlContentType = "application/x-ndjson"

	// minPartSize is the S3 lower bound for multipart parts.
	minPartSize int64 = 5 * 1024 * 1024

	uploadConcurrency = 4
)

// Writer uploads session archives.
type Writer struct {
	client *s3.Client
	bucket string
}

var _ domain.BlobWriter = (*Writer)(nil)

func NewWriter(c *Client) *Writer {
	return &Writer{client: c.S3(), bucket: c.Bucket()}
}

// Put stores data at path. With opts.PartSize set the upload goes through the
// multipart manager, with parts no smaller than 5 MiB.
func (w *Writer) Put(ctx context.Context, path string, data io.Reader, opts domain.PutOptions) error {
	input := &s3.PutObjectInput{
		Bucket:   aws.String(w.bucket),
		Key:      aws.String(path),
		Body:     data,
		Metadata: opts.Metadata,
	}
	if opts.ContentType != "" {
		input.ContentType = aws.String(opts.ContentType)
	}

	if opts.PartSize <= 0 {
		if _, err := w.client.PutObject(ctx, input); err != nil {
			return fmt.Errorf("s3blob: put %s: %w", path, err)
		}
		return nil
	}

	uploader := manager.NewUploader(w.client, func(u *manager.Uploader) {
		u.PartSize = max(opts.PartSize, minPartSize)
		u.Concurrency = uploadConcurrency
	})
	if _, err := uploader.Upload(ctx, input); err != nil {
		return fmt.Errorf("s3blob: multipart put %s: %w", path, err)
	}
	return nil
}
