// Package badger stores the metadata index in an embedded BadgerDB.
//
// Key layout:
//
//	md:<path>              JSON-encoded metadata.Metadata
//	ch:<parent>\x00<name>  child marker, empty value
//	seq:fileid             ID sequence lease
package badger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"
	"go.uber.org/zap"

	"github.com/ebogdum/bundlefs/metadata"
	"github.com/ebogdum/bundlefs/metrics"
)

// sequenceBandwidth is how many IDs are leased from the sequence at once
const sequenceBandwidth = 100

// maxModifyAttempts bounds the retries of a Modify that lost a write conflict
const maxModifyAttempts = 100

// BadgerStore implements metadata.Store on top of BadgerDB
type BadgerStore struct {
	db     *badger.DB
	seq    *badger.Sequence
	logger *zap.Logger
}

// NewBadgerStore opens (or creates) a BadgerDB at dbPath
func NewBadgerStore(dbPath string, logger *zap.Logger) (*BadgerStore, error) {
	opts := badger.DefaultOptions(dbPath).
		WithLoggingLevel(badger.WARNING).
		WithCompression(options.None)
	if dbPath == "" {
		opts = opts.WithInMemory(true)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open BadgerDB at %s: %w", dbPath, err)
	}

	seq, err := db.GetSequence([]byte("seq:fileid"), sequenceBandwidth)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to open id sequence: %w", err)
	}

	return &BadgerStore{db: db, seq: seq, logger: logger}, nil
}

// Get retrieves metadata by path
func (s *BadgerStore) Get(ctx context.Context, path string) (*metadata.Metadata, error) {
	defer observe("get", time.Now())
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var md *metadata.Metadata
	err := s.db.View(func(txn *badger.Txn) error {
		var getErr error
		md, getErr = getEntry(txn, path)
		return getErr
	})
	if err != nil {
		return nil, err
	}
	return md, nil
}

// Create stores a new entry and assigns its ID
func (s *BadgerStore) Create(ctx context.Context, md *metadata.Metadata) error {
	defer observe("create", time.Now())
	if err := ctx.Err(); err != nil {
		return err
	}

	next, err := s.seq.Next()
	if err != nil {
		return fmt.Errorf("failed to allocate metadata id: %w", err)
	}

	now := time.Now().UTC()
	if md.MTime.IsZero() {
		md.MTime = now
	}
	md.CreatedAt = now
	md.UpdatedAt = now

	// Sequences start at zero; file ids start at one
	md.ID = int64(next) + 1

	err = s.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(keyEntry(md.Path)); err == nil {
			return metadata.ErrAlreadyExists
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}

		if err := putEntry(txn, md); err != nil {
			return err
		}
		if md.Path == "/" {
			return nil
		}
		return txn.Set(keyChild(metadata.ParentPath(md.Path), md.Name), nil)
	})
	if err != nil {
		if errors.Is(err, metadata.ErrAlreadyExists) {
			return err
		}
		return fmt.Errorf("failed to create metadata: %w", err)
	}
	return nil
}

// Update overwrites an existing entry
func (s *BadgerStore) Update(ctx context.Context, md *metadata.Metadata) error {
	defer observe("update", time.Now())
	if err := ctx.Err(); err != nil {
		return err
	}

	md.UpdatedAt = time.Now().UTC()
	return s.db.Update(func(txn *badger.Txn) error {
		if _, err := getEntry(txn, md.Path); err != nil {
			return err
		}
		return putEntry(txn, md)
	})
}

// Modify applies fn inside a read-write transaction. Badger detects a
// concurrent write to the same key at commit time, in which case the
// transaction is retried from a fresh read.
func (s *BadgerStore) Modify(ctx context.Context, path string, fn func(md *metadata.Metadata)) (*metadata.Metadata, error) {
	defer observe("modify", time.Now())

	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		var out *metadata.Metadata
		err := s.db.Update(func(txn *badger.Txn) error {
			md, err := getEntry(txn, path)
			if err != nil {
				return err
			}
			fn(md)
			md.UpdatedAt = time.Now().UTC()
			out = md
			return putEntry(txn, md)
		})
		if errors.Is(err, badger.ErrConflict) && attempt < maxModifyAttempts {
			continue
		}
		if err != nil {
			if errors.Is(err, metadata.ErrNotFound) {
				return nil, err
			}
			return nil, fmt.Errorf("failed to modify metadata: %w", err)
		}
		return out, nil
	}
}

// Delete removes an entry and its child marker
func (s *BadgerStore) Delete(ctx context.Context, path string) error {
	defer observe("delete", time.Now())
	if err := ctx.Err(); err != nil {
		return err
	}

	return s.db.Update(func(txn *badger.Txn) error {
		md, err := getEntry(txn, path)
		if err != nil {
			return err
		}
		if err := txn.Delete(keyEntry(md.Path)); err != nil {
			return err
		}
		return txn.Delete(keyChild(metadata.ParentPath(md.Path), md.Name))
	})
}

// ListChildren returns the direct children of parentPath, directories first
func (s *BadgerStore) ListChildren(ctx context.Context, parentPath string) ([]*metadata.Metadata, error) {
	defer observe("list_children", time.Now())
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var dirs, files []*metadata.Metadata
	err := s.db.View(func(txn *badger.Txn) error {
		if _, err := getEntry(txn, parentPath); err != nil {
			return err
		}

		prefix := childPrefix(parentPath)
		it := txn.NewIterator(badger.IteratorOptions{Prefix: prefix})
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			name := string(it.Item().Key()[len(prefix):])
			child, err := getEntry(txn, joinPath(parentPath, name))
			if errors.Is(err, metadata.ErrNotFound) {
				continue
			}
			if err != nil {
				return err
			}
			if child.IsDir() {
				dirs = append(dirs, child)
			} else {
				files = append(files, child)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	// keys iterate in byte order, so each group is already sorted by name
	return append(dirs, files...), nil
}

// Close releases the sequence and closes the database
func (s *BadgerStore) Close() error {
	if err := s.seq.Release(); err != nil {
		s.logger.Warn("Failed to release badger sequence", zap.Error(err))
	}
	return s.db.Close()
}

func getEntry(txn *badger.Txn, path string) (*metadata.Metadata, error) {
	item, err := txn.Get(keyEntry(path))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, metadata.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	var md metadata.Metadata
	err = item.Value(func(val []byte) error {
		return json.Unmarshal(val, &md)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to decode metadata: %w", err)
	}
	return &md, nil
}

func putEntry(txn *badger.Txn, md *metadata.Metadata) error {
	raw, err := json.Marshal(md)
	if err != nil {
		return fmt.Errorf("failed to encode metadata: %w", err)
	}
	return txn.Set(keyEntry(md.Path), raw)
}

func keyEntry(path string) []byte {
	return []byte("md:" + metadata.NormalizePath(path))
}

func childPrefix(parent string) []byte {
	return []byte("ch:" + metadata.NormalizePath(parent) + "\x00")
}

func keyChild(parent, name string) []byte {
	return append(childPrefix(parent), name...)
}

func joinPath(parent, name string) string {
	if parent == "/" {
		return "/" + name
	}
	return metadata.NormalizePath(parent) + "/" + name
}

func observe(operation string, start time.Time) {
	metrics.MetadataDBQueriesTotal.WithLabelValues("badger", operation).Inc()
	metrics.MetadataDBQueryDuration.WithLabelValues("badger", operation).Observe(time.Since(start).Seconds())
}
