package noop

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/ebogdum/bundlefs/backends"
	"github.com/ebogdum/bundlefs/metadata"
)

// NoopAdapter stands in for a backend that is not configured. Every call
// fails with backends.ErrUnavailable.
type NoopAdapter struct {
	name string
}

// NewNoopAdapter creates a new noop storage adapter for the named backend
func NewNoopAdapter(name string) backends.Storage {
	return &NoopAdapter{name: name}
}

func (n *NoopAdapter) unavailable(op, path string) error {
	return fmt.Errorf("%w: %s backend not enabled: cannot %s %s", backends.ErrUnavailable, n.name, op, path)
}

// Open always returns an error for noop backend
func (n *NoopAdapter) Open(ctx context.Context, path string) (io.ReadCloser, error) {
	return nil, n.unavailable("open", path)
}

// OpenWriter always returns an error for noop backend
func (n *NoopAdapter) OpenWriter(ctx context.Context, path string) (io.WriteCloser, error) {
	return nil, n.unavailable("write", path)
}

// Exists always returns an error for noop backend
func (n *NoopAdapter) Exists(ctx context.Context, path string) (bool, error) {
	return false, n.unavailable("check", path)
}

// Stat always returns an error for noop backend
func (n *NoopAdapter) Stat(ctx context.Context, path string) (*metadata.Metadata, error) {
	return nil, n.unavailable("stat", path)
}

// Touch always returns an error for noop backend
func (n *NoopAdapter) Touch(ctx context.Context, path string, mtime time.Time) error {
	return n.unavailable("touch", path)
}

// Delete always returns an error for noop backend
func (n *NoopAdapter) Delete(ctx context.Context, path string) error {
	return n.unavailable("delete", path)
}

// Close does nothing for noop backend
func (n *NoopAdapter) Close() error {
	return nil
}
