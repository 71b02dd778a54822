package postgres

import (
	"os"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ebogdum/bundlefs/metadata"
	"github.com/ebogdum/bundlefs/metadata/schema"
	"github.com/ebogdum/bundlefs/metadata/storetest"
)

// These tests need a disposable database; set BUNDLEFS_TEST_POSTGRES_DSN to
// run them. The filecache table is truncated before every case.
func TestPostgresStoreConformance(t *testing.T) {
	dsn := os.Getenv("BUNDLEFS_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("BUNDLEFS_TEST_POSTGRES_DSN not set")
	}
	require.NoError(t, schema.RunMigrations(dsn))

	storetest.RunConformanceSuite(t, func(t *testing.T) metadata.Store {
		store, err := NewPostgresStore(dsn, zap.NewNop())
		require.NoError(t, err)
		_, err = store.db.Exec(`TRUNCATE filecache RESTART IDENTITY`)
		require.NoError(t, err)
		t.Cleanup(func() { store.Close() })
		return store
	})
}
