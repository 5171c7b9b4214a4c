package domain

import (
	"context"
	"io"
)

// BlobWriter uploads objects to blob storage. Used by the ingest archiver to
// keep an audit copy of every raw fill the pipeline saw.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
}
