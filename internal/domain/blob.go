package domain

import (
	"context"
	"io"
	"time"
)

// BlobWriter uploads data to object storage.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
	PutMultipart(ctx context.Context, path string, data io.Reader, partSize int64) error
}

// Archiver copies trade history and state snapshots to cold storage.
type Archiver interface {
	ArchiveTrades(ctx context.Context, since time.Time) (int64, error)
	ArchiveSnapshot(ctx context.Context, positions []Position, risk RiskControlState) error
}
