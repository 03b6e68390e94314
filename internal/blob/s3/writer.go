package s3blob

import (
	"context"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/alanyoungcy/perpbot/internal/domain"
)

// minPartSize is the S3 lower bound for multipart parts (5 MiB).
const minPartSize int64 = 5 * 1024 * 1024

// latestKey is overwritten on every snapshot and must not be cached.
const latestKey = "latest.json"

// Writer uploads archive objects, trade JSONL batches and state snapshots,
// to the configured bucket.
type Writer struct {
	api      *s3.Client
	uploader *manager.Uploader
	bucket   string
}

// NewWriter creates a Writer for c's bucket.
func NewWriter(c *Client) *Writer {
	api := c.S3()
	return &Writer{
		api: api,
		uploader: manager.NewUploader(api, func(u *manager.Uploader) {
			u.PartSize = minPartSize
			u.Concurrency = 2
		}),
		bucket: c.Bucket(),
	}
}

// Put stores small archive objects with a single PutObject.
func (w *Writer) Put(ctx context.Context, key string, data io.Reader, contentType string) error {
	if _, err := w.api.PutObject(ctx, w.input(key, data, contentType)); err != nil {
		return fmt.Errorf("s3blob: put %s/%s: %w", w.bucket, key, err)
	}
	return nil
}

// PutMultipart streams large trade archives through the upload manager.
// partSize below the S3 minimum is raised to it.
func (w *Writer) PutMultipart(ctx context.Context, key string, data io.Reader, partSize int64) error {
	partSize = max(partSize, minPartSize)
	_, err := w.uploader.Upload(ctx, w.input(key, data, ""), func(u *manager.Uploader) {
		u.PartSize = partSize
	})
	if err != nil {
		return fmt.Errorf("s3blob: multipart %s/%s: %w", w.bucket, key, err)
	}
	return nil
}

func (w *Writer) input(key string, data io.Reader, contentType string) *s3.PutObjectInput {
	in := &s3.PutObjectInput{
		Bucket:      aws.String(w.bucket),
		Key:         aws.String(key),
		Body:        data,
		ContentType: aws.String(objectContentType(key, contentType)),
	}
	if path.Base(key) == latestKey {
		in.CacheControl = aws.String("no-cache")
	}
	return in
}

// objectContentType falls back to the archive format implied by the key.
func objectContentType(key, contentType string) string {
	if contentType != "" {
		return contentType
	}
	switch {
	case strings.HasSuffix(key, ".jsonl"):
		return "application/x-ndjson"
	case strings.HasSuffix(key, ".json"):
		return "application/json"
	}
	return "application/octet-stream"
}

var _ domain.BlobWriter = (*Writer)(nil)
