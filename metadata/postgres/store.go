package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/ebogdum/bundlefs/metadata"
	"github.com/ebogdum/bundlefs/metrics"
)

// uniqueViolation is the PostgreSQL SQLSTATE for unique_violation
const uniqueViolation = "23505"

// PostgresStore implements the metadata.Store interface using PostgreSQL
type PostgresStore struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewPostgresStore creates a new PostgreSQL metadata store
func NewPostgresStore(dsn string, logger *zap.Logger) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &PostgresStore{
		db:     db,
		logger: logger,
	}, nil
}

// Get retrieves metadata for a file or directory by path
func (s *PostgresStore) Get(ctx context.Context, path string) (*metadata.Metadata, error) {
	defer observe("get", time.Now())

	md, err := scanMetadata(s.db.QueryRowContext(ctx, _SQL_GET_ENTRY_BY_PATH, path))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, metadata.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get metadata: %w", err)
	}
	return md, nil
}

// Create creates a new entry
func (s *PostgresStore) Create(ctx context.Context, md *metadata.Metadata) error {
	defer observe("create", time.Now())

	if md.MTime.IsZero() {
		md.MTime = time.Now().UTC()
	}

	var parentID sql.NullInt64
	if md.ParentID != nil {
		parentID = sql.NullInt64{Int64: *md.ParentID, Valid: true}
	}

	err := s.db.QueryRowContext(ctx, _SQL_CREATE_ENTRY,
		parentID,
		md.Name,
		md.Path,
		md.Type,
		md.Size,
		md.Etag,
		md.Checksum,
		md.MTime,
		md.BackendType,
	).Scan(&md.ID, &md.CreatedAt, &md.UpdatedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return metadata.ErrAlreadyExists
		}
		return fmt.Errorf("failed to create metadata: %w", err)
	}

	return nil
}

// Update updates an existing entry
func (s *PostgresStore) Update(ctx context.Context, md *metadata.Metadata) error {
	defer observe("update", time.Now())

	err := s.db.QueryRowContext(ctx, _SQL_UPDATE_ENTRY,
		md.Size,
		md.Etag,
		md.Checksum,
		md.MTime,
		md.BackendType,
		md.Path,
	).Scan(&md.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return metadata.ErrNotFound
		}
		return fmt.Errorf("failed to update metadata: %w", err)
	}

	return nil
}

// Modify applies fn to the entry at path inside a transaction that holds
// the row lock from the read to the write
func (s *PostgresStore) Modify(ctx context.Context, path string, fn func(md *metadata.Metadata)) (*metadata.Metadata, error) {
	defer observe("modify", time.Now())

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	md, err := scanMetadata(tx.QueryRowContext(ctx, _SQL_LOCK_ENTRY_BY_PATH, path))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, metadata.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get metadata: %w", err)
	}

	fn(md)
	err = tx.QueryRowContext(ctx, _SQL_UPDATE_ENTRY,
		md.Size,
		md.Etag,
		md.Checksum,
		md.MTime,
		md.BackendType,
		md.Path,
	).Scan(&md.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to update metadata: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return md, nil
}

// Delete removes an entry by path
func (s *PostgresStore) Delete(ctx context.Context, path string) error {
	defer observe("delete", time.Now())

	result, err := s.db.ExecContext(ctx, _SQL_DELETE_ENTRY, path)
	if err != nil {
		return fmt.Errorf("failed to delete metadata: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return metadata.ErrNotFound
	}

	return nil
}

// ListChildren lists all direct children of a directory
func (s *PostgresStore) ListChildren(ctx context.Context, parentPath string) ([]*metadata.Metadata, error) {
	defer observe("list_children", time.Now())

	rows, err := s.db.QueryContext(ctx, _SQL_LIST_CHILDREN, parentPath)
	if err != nil {
		return nil, fmt.Errorf("failed to list children: %w", err)
	}
	defer rows.Close()

	var children []*metadata.Metadata
	for rows.Next() {
		md, err := scanMetadata(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		children = append(children, md)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate rows: %w", err)
	}

	return children, nil
}

// Close closes the database connection
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanMetadata(row scanner) (*metadata.Metadata, error) {
	var md metadata.Metadata
	var parentID sql.NullInt64

	err := row.Scan(
		&md.ID,
		&parentID,
		&md.Name,
		&md.Path,
		&md.Type,
		&md.Size,
		&md.Etag,
		&md.Checksum,
		&md.MTime,
		&md.BackendType,
		&md.CreatedAt,
		&md.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if parentID.Valid {
		md.ParentID = &parentID.Int64
	}
	return &md, nil
}

func observe(operation string, start time.Time) {
	metrics.MetadataDBQueriesTotal.WithLabelValues("postgres", operation).Inc()
	metrics.MetadataDBQueryDuration.WithLabelValues("postgres", operation).Observe(time.Since(start).Seconds())
}
