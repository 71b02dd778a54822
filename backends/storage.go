// Package backends provides storage backend adapters and interfaces for bundlefs.
// It includes implementations for local filesystem, S3 object storage, and a
// placeholder for backends that are not configured.
package backends

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/ebogdum/bundlefs/metadata"
)

// ErrUnavailable marks a backend that cannot currently be reached. Callers
// treat it as temporary and may retry later.
var ErrUnavailable = errors.New("storage backend not available")

// Storage defines the interface for backend storage operations
type Storage interface {
	// Open opens a file for reading
	Open(ctx context.Context, path string) (io.ReadCloser, error)

	// OpenWriter opens a write sink at path, creating the file or
	// truncating an existing one. Content becomes visible once the sink
	// is closed without error.
	OpenWriter(ctx context.Context, path string) (io.WriteCloser, error)

	// Exists reports whether an object is stored at path
	Exists(ctx context.Context, path string) (bool, error)

	// Stat returns metadata for a file or directory
	Stat(ctx context.Context, path string) (*metadata.Metadata, error)

	// Touch sets the modification time of the object at path
	Touch(ctx context.Context, path string, mtime time.Time) error

	// Delete removes a file
	Delete(ctx context.Context, path string) error

	// Close closes any resources used by the storage backend
	Close() error
}

// Aborter is implemented by write sinks that can discard a partial write.
// After Abort nothing written to the sink becomes visible and Close must
// not be called.
type Aborter interface {
	Abort(cause error)
}
