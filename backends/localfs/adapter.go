package localfs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/ebogdum/bundlefs/backends"
	"github.com/ebogdum/bundlefs/internal/pathutil"
	"github.com/ebogdum/bundlefs/metadata"
)

// BackendType is the metadata backend type recorded for local files
const BackendType = "localfs"

// LocalFSAdapter implements the backends.Storage interface for local filesystem
type LocalFSAdapter struct {
	rootPath string
}

// NewLocalFSAdapter creates a new local filesystem adapter
func NewLocalFSAdapter(rootPath string) (*LocalFSAdapter, error) {
	if err := os.MkdirAll(rootPath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create root path %s: %w", rootPath, err)
	}

	if _, err := os.Stat(rootPath); err != nil {
		return nil, fmt.Errorf("root path %s is not accessible: %w", rootPath, err)
	}

	return &LocalFSAdapter{
		rootPath: rootPath,
	}, nil
}

// Open opens a file for reading
func (a *LocalFSAdapter) Open(ctx context.Context, path string) (io.ReadCloser, error) {
	fullPath, err := a.resolve(path)
	if err != nil {
		return nil, err
	}

	file, err := os.Open(fullPath)
	if err != nil {
		return nil, a.translate("open", path, err)
	}
	return file, nil
}

// OpenWriter creates or truncates the file at path
func (a *LocalFSAdapter) OpenWriter(ctx context.Context, path string) (io.WriteCloser, error) {
	fullPath, err := a.resolve(path)
	if err != nil {
		return nil, err
	}

	if err := a.checkRoot(); err != nil {
		return nil, err
	}

	if err := os.MkdirAll(filepath.Dir(fullPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create parent directory: %w", err)
	}

	file, err := os.OpenFile(fullPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return nil, a.translate("open for write", path, err)
	}
	return file, nil
}

// Exists reports whether a file or directory is present at path
func (a *LocalFSAdapter) Exists(ctx context.Context, path string) (bool, error) {
	fullPath, err := a.resolve(path)
	if err != nil {
		return false, err
	}

	if _, err := os.Stat(fullPath); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			if rootErr := a.checkRoot(); rootErr != nil {
				return false, rootErr
			}
			return false, nil
		}
		return false, fmt.Errorf("failed to stat %s: %w", path, err)
	}
	return true, nil
}

// Stat returns metadata for a file or directory
func (a *LocalFSAdapter) Stat(ctx context.Context, path string) (*metadata.Metadata, error) {
	fullPath, err := a.resolve(path)
	if err != nil {
		return nil, err
	}

	info, err := os.Stat(fullPath)
	if err != nil {
		return nil, a.translate("stat", path, err)
	}

	md := &metadata.Metadata{
		Name:        info.Name(),
		Path:        path,
		Type:        metadata.TypeFile,
		Size:        info.Size(),
		MTime:       info.ModTime(),
		BackendType: BackendType,
	}
	if info.IsDir() {
		md.Type = metadata.TypeDirectory
		md.Size = 0
	}
	return md, nil
}

// Touch sets the access and modification time of the file at path
func (a *LocalFSAdapter) Touch(ctx context.Context, path string, mtime time.Time) error {
	fullPath, err := a.resolve(path)
	if err != nil {
		return err
	}

	if err := os.Chtimes(fullPath, mtime, mtime); err != nil {
		return a.translate("touch", path, err)
	}
	return nil
}

// Delete removes a file or empty directory
func (a *LocalFSAdapter) Delete(ctx context.Context, path string) error {
	fullPath, err := a.resolve(path)
	if err != nil {
		return err
	}

	if err := os.Remove(fullPath); err != nil {
		return a.translate("delete", path, err)
	}
	return nil
}

// Close closes any resources used by the storage backend
func (a *LocalFSAdapter) Close() error {
	return nil
}

func (a *LocalFSAdapter) resolve(path string) (string, error) {
	fullPath, err := pathutil.SafeJoin(a.rootPath, path)
	if err != nil {
		return "", metadata.ErrForbidden
	}
	return fullPath, nil
}

// checkRoot reports ErrUnavailable when the storage root has vanished,
// e.g. an unmounted volume.
func (a *LocalFSAdapter) checkRoot() error {
	if _, err := os.Stat(a.rootPath); err != nil {
		return fmt.Errorf("%w: root %s: %v", backends.ErrUnavailable, a.rootPath, err)
	}
	return nil
}

func (a *LocalFSAdapter) translate(op, path string, err error) error {
	if errors.Is(err, fs.ErrNotExist) {
		if rootErr := a.checkRoot(); rootErr != nil {
			return rootErr
		}
		return metadata.ErrNotFound
	}
	return fmt.Errorf("failed to %s %s: %w", op, path, err)
}
