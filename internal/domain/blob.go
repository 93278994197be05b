package domain

import (
	"context"
	"io"
	"time"
)

// BlobWriter stores archive objects. Exists confirms an upload landed before
// the archived rows are pruned.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
	PutMultipart(ctx context.Context, path string, data io.Reader, partSize int64) error
	Exists(ctx context.Context, path string) (bool, error)
}

// Archiver moves journal rows older than before into cold storage and
// reports how many it moved.
type Archiver interface {
	ArchiveTradeRecords(ctx context.Context, before time.Time) (int64, error)
}
