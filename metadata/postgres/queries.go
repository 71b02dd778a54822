package postgres

// SQL query constants for metadata operations

const (
	_SQL_GET_ENTRY_BY_PATH = `
		SELECT id, parent_id, name, path, type, size, etag, checksum,
		       mtime, backend_type, created_at, updated_at
		FROM filecache
		WHERE path = $1`

	_SQL_LOCK_ENTRY_BY_PATH = `
		SELECT id, parent_id, name, path, type, size, etag, checksum,
		       mtime, backend_type, created_at, updated_at
		FROM filecache
		WHERE path = $1
		FOR UPDATE`

	_SQL_CREATE_ENTRY = `
		INSERT INTO filecache
		(parent_id, name, path, type, size, etag, checksum, mtime, backend_type)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id, created_at, updated_at`

	_SQL_UPDATE_ENTRY = `
		UPDATE filecache
		SET size = $1, etag = $2, checksum = $3, mtime = $4, backend_type = $5,
		    updated_at = NOW()
		WHERE path = $6
		RETURNING updated_at`

	_SQL_DELETE_ENTRY = `
		DELETE FROM filecache
		WHERE path = $1`

	// parent_id is resolved in a subquery so listing is a single round trip
	_SQL_LIST_CHILDREN = `
		SELECT id, parent_id, name, path, type, size, etag, checksum,
		       mtime, backend_type, created_at, updated_at
		FROM filecache
		WHERE parent_id = (SELECT id FROM filecache WHERE path = $1)
		ORDER BY type ASC, name ASC`
)
