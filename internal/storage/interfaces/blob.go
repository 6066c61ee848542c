package interfaces

import (
	"context"
	"io"

	"github.com/inferloop/studentprep/internal/table"
)

// BlobStorage defines the object storage operations used to read source
// files and upload results.
type BlobStorage interface {
	// Get retrieves a blob by key
	Get(ctx context.Context, key string) (io.ReadCloser, error)

	// Put stores a blob with the given key
	Put(ctx context.Context, key string, data io.Reader, size int64, metadata map[string]string) error

	// Exists checks if a blob exists
	Exists(ctx context.Context, key string) (bool, error)

	// Close releases the client
	Close() error
}

// TableSink writes a whole table into a relational store.
type TableSink interface {
	// WriteTable creates the named table if needed and appends every row.
	// It returns the number of rows written.
	WriteTable(ctx context.Context, name string, t *table.Table) (int64, error)

	// Close releases the connection
	Close() error
}

// BlobCreateFunc builds a blob store for a bucket.
type BlobCreateFunc func(bucket string) (BlobStorage, error)

// SinkCreateFunc builds a table sink for a connection string.
type SinkCreateFunc func(dsn string) (TableSink, error)
