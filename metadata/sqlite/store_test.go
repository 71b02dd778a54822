package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ebogdum/bundlefs/metadata"
	"github.com/ebogdum/bundlefs/metadata/storetest"
)

func newTestStore(t *testing.T) metadata.Store {
	t.Helper()
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "index.sqlite3"), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestSQLiteStoreConformance(t *testing.T) {
	storetest.RunConformanceSuite(t, newTestStore)
}

func TestSQLiteStoreListChildrenMissingParent(t *testing.T) {
	store := newTestStore(t)
	_, err := store.ListChildren(context.Background(), "/missing")
	assert.ErrorIs(t, err, metadata.ErrNotFound)
}

func TestSQLiteStoreReopenKeepsEntries(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "index.sqlite3")
	ctx := context.Background()

	store, err := NewSQLiteStore(dbPath, zap.NewNop())
	require.NoError(t, err)
	root := &metadata.Metadata{Path: "/", Type: metadata.TypeDirectory, BackendType: "localfs"}
	require.NoError(t, store.Create(ctx, root))
	require.NoError(t, store.Close())

	store, err = NewSQLiteStore(dbPath, zap.NewNop())
	require.NoError(t, err)
	defer store.Close()

	got, err := store.Get(ctx, "/")
	require.NoError(t, err)
	assert.Equal(t, root.ID, got.ID)
}
