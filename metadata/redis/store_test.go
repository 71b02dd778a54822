package redis

import (
	"context"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ebogdum/bundlefs/metadata"
	"github.com/ebogdum/bundlefs/metadata/storetest"
)

// These tests need a live server; set BUNDLEFS_TEST_REDIS_ADDR to run them.
func TestRedisStoreConformance(t *testing.T) {
	addr := os.Getenv("BUNDLEFS_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("BUNDLEFS_TEST_REDIS_ADDR not set")
	}

	storetest.RunConformanceSuite(t, func(t *testing.T) metadata.Store {
		prefix := "bundlefs-test:" + uuid.NewString() + ":"
		store, err := NewRedisStore(addr, "", 0, prefix, zap.NewNop())
		require.NoError(t, err)
		t.Cleanup(func() {
			ctx := context.Background()
			keys, _ := store.client.Keys(ctx, prefix+"*").Result()
			if len(keys) > 0 {
				store.client.Del(ctx, keys...)
			}
			store.Close()
		})
		return store
	})
}
