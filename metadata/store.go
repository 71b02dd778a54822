// Package metadata defines the file index records kept for every stored
// object and the Store interface implemented by the index backends.
package metadata

import (
	"context"
	"errors"
	"time"
)

// Common metadata errors
var (
	ErrNotFound      = errors.New("metadata not found")
	ErrAlreadyExists = errors.New("metadata already exists")
	ErrForbidden     = errors.New("access forbidden")
)

// Entry types
const (
	TypeFile      = "file"
	TypeDirectory = "directory"
)

// Metadata is the index record of a file or directory
type Metadata struct {
	ID          int64     `json:"id"`
	ParentID    *int64    `json:"parent_id"`
	Name        string    `json:"name"`
	Path        string    `json:"path"`
	Type        string    `json:"type"` // "file" or "directory"
	Size        int64     `json:"size"`
	Etag        string    `json:"etag"`
	Checksum    string    `json:"checksum"` // e.g. "SHA1:3f786850e387550fdab836ed7e6dc881de23001b"
	MTime       time.Time `json:"mtime"`
	BackendType string    `json:"backend_type"` // "localfs" or "s3"
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// IsDir reports whether the entry is a directory
func (m *Metadata) IsDir() bool {
	return m.Type == TypeDirectory
}

// Store defines the interface for metadata storage operations
type Store interface {
	// Get retrieves metadata for a file or directory by path
	Get(ctx context.Context, path string) (*Metadata, error)

	// Create creates a new entry and assigns its ID
	Create(ctx context.Context, md *Metadata) error

	// Update updates an existing entry, matched by path
	Update(ctx context.Context, md *Metadata) error

	// Modify reads the entry at path, applies fn to it and writes the
	// mutable fields back in one atomic step. Concurrent Modify calls on
	// the same path never lose each other's changes. fn may run more than
	// once and must depend only on the entry it is given.
	Modify(ctx context.Context, path string, fn func(md *Metadata)) (*Metadata, error)

	// Delete removes an entry by path
	Delete(ctx context.Context, path string) error

	// ListChildren returns the direct children of a directory, directories
	// first, each group ordered by name
	ListChildren(ctx context.Context, parentPath string) ([]*Metadata, error)

	// Close closes the metadata store connection
	Close() error
}
