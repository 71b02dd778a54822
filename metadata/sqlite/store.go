package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"go.uber.org/zap"

	"github.com/ebogdum/bundlefs/metadata"
	"github.com/ebogdum/bundlefs/metrics"
)

type SQLiteStore struct {
	db     *sql.DB
	logger *zap.Logger
}

func NewSQLiteStore(dbPath string, logger *zap.Logger) (*SQLiteStore, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", dbPath)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping sqlite database: %w", err)
	}

	store := &SQLiteStore{db: db, logger: logger}
	if err := store.initSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	schema := `
CREATE TABLE IF NOT EXISTS filecache (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    parent_id INTEGER,
    name TEXT NOT NULL,
    path TEXT NOT NULL UNIQUE,
    type TEXT NOT NULL CHECK (type IN ('file', 'directory')),
    size INTEGER NOT NULL DEFAULT 0,
    etag TEXT NOT NULL DEFAULT '',
    checksum TEXT NOT NULL DEFAULT '',
    mtime TEXT NOT NULL,
    backend_type TEXT NOT NULL,
    created_at TEXT NOT NULL,
    updated_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_filecache_parent_id ON filecache(parent_id);
`

	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to initialize sqlite schema: %w", err)
	}
	return nil
}

const selectColumns = `id, parent_id, name, path, type, size, etag, checksum, mtime, backend_type, created_at, updated_at`

func (s *SQLiteStore) Get(ctx context.Context, path string) (*metadata.Metadata, error) {
	defer observe("get", time.Now())

	row := s.db.QueryRowContext(ctx, `SELECT `+selectColumns+` FROM filecache WHERE path = ?`, path)
	md, err := scanMetadata(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, metadata.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get metadata: %w", err)
	}
	return md, nil
}

func (s *SQLiteStore) Create(ctx context.Context, md *metadata.Metadata) error {
	defer observe("create", time.Now())

	now := time.Now().UTC()
	if md.MTime.IsZero() {
		md.MTime = now
	}
	md.CreatedAt = now
	md.UpdatedAt = now

	result, err := s.db.ExecContext(ctx, `
		INSERT INTO filecache (
			parent_id, name, path, type, size, etag, checksum, mtime,
			backend_type, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		nullInt64(md.ParentID),
		md.Name,
		md.Path,
		md.Type,
		md.Size,
		md.Etag,
		md.Checksum,
		formatTimestamp(md.MTime),
		md.BackendType,
		formatTimestamp(md.CreatedAt),
		formatTimestamp(md.UpdatedAt),
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return metadata.ErrAlreadyExists
		}
		return fmt.Errorf("failed to create metadata: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to read inserted id: %w", err)
	}
	md.ID = id
	return nil
}

func (s *SQLiteStore) Update(ctx context.Context, md *metadata.Metadata) error {
	defer observe("update", time.Now())

	md.UpdatedAt = time.Now().UTC()
	result, err := execUpdate(ctx, s.db, md)
	if err != nil {
		return fmt.Errorf("failed to update metadata: %w", err)
	}
	return expectRow(result)
}

func (s *SQLiteStore) Modify(ctx context.Context, path string, fn func(md *metadata.Metadata)) (*metadata.Metadata, error) {
	defer observe("modify", time.Now())

	conn, err := s.db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get connection: %w", err)
	}
	defer conn.Close()

	// IMMEDIATE takes the write lock before the read
	if _, err := conn.ExecContext(ctx, `BEGIN IMMEDIATE`); err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_, _ = conn.ExecContext(context.WithoutCancel(ctx), `ROLLBACK`)
		}
	}()

	row := conn.QueryRowContext(ctx, `SELECT `+selectColumns+` FROM filecache WHERE path = ?`, path)
	md, err := scanMetadata(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, metadata.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get metadata: %w", err)
	}

	fn(md)
	md.UpdatedAt = time.Now().UTC()
	if _, err := execUpdate(ctx, conn, md); err != nil {
		return nil, fmt.Errorf("failed to update metadata: %w", err)
	}

	if _, err := conn.ExecContext(ctx, `COMMIT`); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}
	committed = true
	return md, nil
}

func (s *SQLiteStore) Delete(ctx context.Context, path string) error {
	defer observe("delete", time.Now())

	result, err := s.db.ExecContext(ctx, `DELETE FROM filecache WHERE path = ?`, path)
	if err != nil {
		return fmt.Errorf("failed to delete metadata: %w", err)
	}
	return expectRow(result)
}

func (s *SQLiteStore) ListChildren(ctx context.Context, parentPath string) ([]*metadata.Metadata, error) {
	defer observe("list_children", time.Now())

	parent, err := s.Get(ctx, parentPath)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+selectColumns+` FROM filecache WHERE parent_id = ? ORDER BY type ASC, name ASC`,
		parent.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to list children: %w", err)
	}
	defer rows.Close()

	children := make([]*metadata.Metadata, 0)
	for rows.Next() {
		md, scanErr := scanMetadata(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("failed to scan row: %w", scanErr)
		}
		children = append(children, md)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate rows: %w", err)
	}
	return children, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanMetadata(row scanner) (*metadata.Metadata, error) {
	var md metadata.Metadata
	var parentID sql.NullInt64
	var mTime, createdAt, updatedAt string

	err := row.Scan(
		&md.ID,
		&parentID,
		&md.Name,
		&md.Path,
		&md.Type,
		&md.Size,
		&md.Etag,
		&md.Checksum,
		&mTime,
		&md.BackendType,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	if parentID.Valid {
		md.ParentID = &parentID.Int64
	}
	md.MTime = parseTimestamp(mTime)
	md.CreatedAt = parseTimestamp(createdAt)
	md.UpdatedAt = parseTimestamp(updatedAt)
	return &md, nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func execUpdate(ctx context.Context, db execer, md *metadata.Metadata) (sql.Result, error) {
	return db.ExecContext(ctx, `
		UPDATE filecache
		SET size = ?, etag = ?, checksum = ?, mtime = ?, backend_type = ?, updated_at = ?
		WHERE path = ?`,
		md.Size,
		md.Etag,
		md.Checksum,
		formatTimestamp(md.MTime),
		md.BackendType,
		formatTimestamp(md.UpdatedAt),
		md.Path,
	)
}

func expectRow(result sql.Result) error {
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return metadata.ErrNotFound
	}
	return nil
}

func observe(operation string, start time.Time) {
	metrics.MetadataDBQueriesTotal.WithLabelValues("sqlite", operation).Inc()
	metrics.MetadataDBQueryDuration.WithLabelValues("sqlite", operation).Observe(time.Since(start).Seconds())
}

func formatTimestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTimestamp(value string) time.Time {
	if value == "" {
		return time.Time{}
	}
	parsed, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		parsed, err = time.Parse(time.RFC3339, value)
		if err != nil {
			return time.Time{}
		}
	}
	return parsed
}

func nullInt64(value *int64) sql.NullInt64 {
	if value == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *value, Valid: true}
}
