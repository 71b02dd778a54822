package core

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/cespare/xxhash/v2"
	"go.uber.org/zap"

	"github.com/ebogdum/bundlefs/core/log"
	"github.com/ebogdum/bundlefs/metadata"
)

// Index is the metadata index the commit path reconciles after a write
type Index interface {
	// Lookup returns the record for path, possibly from cache
	Lookup(ctx context.Context, path string) (*metadata.Metadata, error)

	// UpdateAfterWrite records the object just written at target and
	// propagates the change to every parent directory
	UpdateAfterWrite(ctx context.Context, target Target, checksum string) (*metadata.Metadata, error)

	// Touch sets the modification time of target in the backend and the index
	Touch(ctx context.Context, target Target, mtime time.Time) error

	// Refresh reads the current record for path from the store
	Refresh(ctx context.Context, path string) (*metadata.Metadata, error)
}

// StoreIndex implements Index on top of a metadata.Store
type StoreIndex struct {
	store  metadata.Store
	cache  *MetadataCache
	now    func() time.Time
	logger *zap.Logger
}

// NewStoreIndex creates an index over store. A nil cache disables caching.
func NewStoreIndex(store metadata.Store, cache *MetadataCache, logger *zap.Logger) *StoreIndex {
	return &StoreIndex{
		store:  store,
		cache:  cache,
		now:    time.Now,
		logger: logger,
	}
}

// ComputeEtag fingerprints an entry from its path, size, mtime and content
// checksum as 16 hex digits
func ComputeEtag(path string, size int64, mtime time.Time, checksum string) string {
	d := xxhash.New()
	_, _ = d.WriteString(path)
	_, _ = d.WriteString("\x00")
	_, _ = d.WriteString(strconv.FormatInt(size, 10))
	_, _ = d.WriteString("\x00")
	_, _ = d.WriteString(strconv.FormatInt(mtime.UnixNano(), 10))
	_, _ = d.WriteString("\x00")
	_, _ = d.WriteString(checksum)
	return fmt.Sprintf("%016x", d.Sum64())
}

// Lookup implements Index
func (x *StoreIndex) Lookup(ctx context.Context, path string) (*metadata.Metadata, error) {
	path = metadata.NormalizePath(path)
	if x.cache != nil {
		if md, ok := x.cache.Get(path); ok {
			return md, nil
		}
	}
	return x.Refresh(ctx, path)
}

// Refresh implements Index
func (x *StoreIndex) Refresh(ctx context.Context, path string) (*metadata.Metadata, error) {
	path = metadata.NormalizePath(path)
	md, err := x.store.Get(ctx, path)
	if err != nil {
		return nil, err
	}
	if x.cache != nil {
		x.cache.Set(path, md)
	}
	return md, nil
}

// UpdateAfterWrite implements Index
func (x *StoreIndex) UpdateAfterWrite(ctx context.Context, target Target, checksum string) (*metadata.Metadata, error) {
	info, err := target.Storage.Stat(ctx, target.InternalPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat written object: %w", err)
	}

	parentID, err := x.ensureParents(ctx, target.Path, target.BackendType)
	if err != nil {
		return nil, err
	}

	defer x.invalidate(target.Path)

	mtime := info.MTime.UTC()
	etag := ComputeEtag(target.Path, info.Size, mtime, checksum)

	var delta int64
	md, err := x.store.Get(ctx, target.Path)
	switch {
	case errors.Is(err, metadata.ErrNotFound):
		md = &metadata.Metadata{
			ParentID:    parentID,
			Name:        metadata.BaseName(target.Path),
			Path:        target.Path,
			Type:        metadata.TypeFile,
			Size:        info.Size,
			Etag:        etag,
			Checksum:    checksum,
			MTime:       mtime,
			BackendType: target.BackendType,
		}
		if err := x.store.Create(ctx, md); err != nil {
			return nil, fmt.Errorf("failed to create index entry: %w", err)
		}
		delta = info.Size
	case err != nil:
		return nil, fmt.Errorf("failed to read index entry: %w", err)
	default:
		if md.IsDir() {
			return nil, fmt.Errorf("index entry for %s is a directory", log.SanitizePath(target.Path))
		}
		delta = info.Size - md.Size
		md.ParentID = parentID
		md.Size = info.Size
		md.Etag = etag
		md.Checksum = checksum
		md.MTime = mtime
		md.BackendType = target.BackendType
		if err := x.store.Update(ctx, md); err != nil {
			return nil, fmt.Errorf("failed to update index entry: %w", err)
		}
	}

	if err := x.propagate(ctx, target.Path, delta, mtime, etag); err != nil {
		return nil, err
	}

	x.logger.Debug("Index updated after write",
		zap.String("path", log.SanitizePath(target.Path)),
		zap.Int64("size", log.SanitizeSize(info.Size)),
		zap.Int64("size_delta", delta))

	return md, nil
}

// Touch implements Index
func (x *StoreIndex) Touch(ctx context.Context, target Target, mtime time.Time) error {
	mtime = mtime.UTC()
	if err := target.Storage.Touch(ctx, target.InternalPath, mtime); err != nil {
		return fmt.Errorf("failed to set backend mtime: %w", err)
	}

	defer x.invalidate(target.Path)

	md, err := x.store.Modify(ctx, target.Path, func(md *metadata.Metadata) {
		md.MTime = mtime
		md.Etag = ComputeEtag(md.Path, md.Size, mtime, md.Checksum)
	})
	if err != nil {
		return fmt.Errorf("failed to update index entry: %w", err)
	}

	return x.propagate(ctx, target.Path, 0, mtime, md.Etag)
}

// ensureParents creates any missing directory entries above path and
// returns the ID of its immediate parent
func (x *StoreIndex) ensureParents(ctx context.Context, path, backendType string) (*int64, error) {
	dirs := metadata.Ancestors(path)

	var parentID *int64
	for i := len(dirs) - 1; i >= 0; i-- {
		dir := dirs[i]
		md, err := x.store.Get(ctx, dir)
		if errors.Is(err, metadata.ErrNotFound) {
			md, err = x.createDirectory(ctx, dir, parentID, backendType)
		}
		if err != nil {
			return nil, fmt.Errorf("failed to ensure parent directory %s: %w", log.SanitizePath(dir), err)
		}
		if !md.IsDir() {
			return nil, fmt.Errorf("parent %s is not a directory", log.SanitizePath(dir))
		}
		id := md.ID
		parentID = &id
	}
	return parentID, nil
}

func (x *StoreIndex) createDirectory(ctx context.Context, dir string, parentID *int64, backendType string) (*metadata.Metadata, error) {
	now := x.now().UTC()
	md := &metadata.Metadata{
		ParentID:    parentID,
		Name:        metadata.BaseName(dir),
		Path:        dir,
		Type:        metadata.TypeDirectory,
		MTime:       now,
		Etag:        ComputeEtag(dir, 0, now, ""),
		BackendType: backendType,
	}

	err := x.store.Create(ctx, md)
	if errors.Is(err, metadata.ErrAlreadyExists) {
		// created concurrently
		return x.store.Get(ctx, dir)
	}
	if err != nil {
		return nil, err
	}
	return md, nil
}

// propagate pushes a size delta, a newer mtime and a fresh etag to every
// ancestor of path
func (x *StoreIndex) propagate(ctx context.Context, path string, delta int64, mtime time.Time, childEtag string) error {
	for _, dir := range metadata.Ancestors(path) {
		// parents are shared by concurrent uploads, so each step is a
		// single atomic read-modify-write in the store
		md, err := x.store.Modify(ctx, dir, func(md *metadata.Metadata) {
			md.Size += delta
			if mtime.After(md.MTime) {
				md.MTime = mtime
			}
			md.Etag = ComputeEtag(dir, md.Size, md.MTime, childEtag)
		})
		if err != nil {
			return fmt.Errorf("failed to update parent %s: %w", log.SanitizePath(dir), err)
		}
		childEtag = md.Etag
	}
	return nil
}

func (x *StoreIndex) invalidate(path string) {
	if x.cache == nil {
		return
	}
	x.cache.Invalidate(append(metadata.Ancestors(path), path)...)
}

// EnsureRoot creates the root directory entry if it is missing
func (x *StoreIndex) EnsureRoot(ctx context.Context, backendType string) error {
	if _, err := x.store.Get(ctx, "/"); err == nil {
		x.logger.Debug("Root directory already exists")
		return nil
	} else if !errors.Is(err, metadata.ErrNotFound) {
		return fmt.Errorf("failed to read root directory metadata: %w", err)
	}

	if _, err := x.createDirectory(ctx, "/", nil, backendType); err != nil {
		return fmt.Errorf("failed to create root directory metadata: %w", err)
	}

	x.logger.Info("Root directory created successfully")
	return nil
}
