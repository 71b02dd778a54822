// Package storetest holds the behavior every metadata.Store implementation
// must share. Each backend's tests run it against a fresh store.
package storetest

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ebogdum/bundlefs/metadata"
)

// StoreFactory creates a fresh, empty store for one test. It should use
// t.TempDir and t.Cleanup for its own resources.
type StoreFactory func(t *testing.T) metadata.Store

// RunConformanceSuite runs the shared store tests against factory
func RunConformanceSuite(t *testing.T, factory StoreFactory) {
	t.Helper()

	t.Run("CreateAssignsIDs", func(t *testing.T) { testCreateAssignsIDs(t, factory(t)) })
	t.Run("CreateDuplicate", func(t *testing.T) { testCreateDuplicate(t, factory(t)) })
	t.Run("GetMissing", func(t *testing.T) { testGetMissing(t, factory(t)) })
	t.Run("UpdateRoundTrip", func(t *testing.T) { testUpdateRoundTrip(t, factory(t)) })
	t.Run("UpdateMissing", func(t *testing.T) { testUpdateMissing(t, factory(t)) })
	t.Run("ModifyMissing", func(t *testing.T) { testModifyMissing(t, factory(t)) })
	t.Run("ConcurrentModify", func(t *testing.T) { testConcurrentModify(t, factory(t)) })
	t.Run("Delete", func(t *testing.T) { testDelete(t, factory(t)) })
	t.Run("ListChildren", func(t *testing.T) { testListChildren(t, factory(t)) })
}

func createRoot(t *testing.T, store metadata.Store) *metadata.Metadata {
	t.Helper()
	root := &metadata.Metadata{
		Name:        "",
		Path:        "/",
		Type:        metadata.TypeDirectory,
		BackendType: "localfs",
	}
	require.NoError(t, store.Create(context.Background(), root))
	return root
}

func createEntry(t *testing.T, store metadata.Store, parent *metadata.Metadata, name, typ string) *metadata.Metadata {
	t.Helper()
	parentID := parent.ID
	p := parent.Path + "/" + name
	if parent.Path == "/" {
		p = "/" + name
	}
	md := &metadata.Metadata{
		ParentID:    &parentID,
		Name:        name,
		Path:        p,
		Type:        typ,
		Etag:        "etag-" + name,
		BackendType: "localfs",
	}
	require.NoError(t, store.Create(context.Background(), md))
	return md
}

func testCreateAssignsIDs(t *testing.T, store metadata.Store) {
	ctx := context.Background()
	root := createRoot(t, store)
	assert.Positive(t, root.ID)

	a := createEntry(t, store, root, "a.txt", metadata.TypeFile)
	b := createEntry(t, store, root, "b.txt", metadata.TypeFile)
	assert.Positive(t, a.ID)
	assert.NotEqual(t, a.ID, b.ID)

	got, err := store.Get(ctx, "/a.txt")
	require.NoError(t, err)
	assert.Equal(t, a.ID, got.ID)
	assert.Equal(t, "a.txt", got.Name)
	assert.Equal(t, metadata.TypeFile, got.Type)
	assert.Equal(t, "etag-a.txt", got.Etag)
	require.NotNil(t, got.ParentID)
	assert.Equal(t, root.ID, *got.ParentID)
	assert.False(t, got.MTime.IsZero())

	gotRoot, err := store.Get(ctx, "/")
	require.NoError(t, err)
	assert.Nil(t, gotRoot.ParentID)
	assert.True(t, gotRoot.IsDir())
}

func testCreateDuplicate(t *testing.T, store metadata.Store) {
	root := createRoot(t, store)
	createEntry(t, store, root, "dup.txt", metadata.TypeFile)

	parentID := root.ID
	err := store.Create(context.Background(), &metadata.Metadata{
		ParentID:    &parentID,
		Name:        "dup.txt",
		Path:        "/dup.txt",
		Type:        metadata.TypeFile,
		BackendType: "localfs",
	})
	assert.ErrorIs(t, err, metadata.ErrAlreadyExists)
}

func testGetMissing(t *testing.T, store metadata.Store) {
	_, err := store.Get(context.Background(), "/nope.txt")
	assert.ErrorIs(t, err, metadata.ErrNotFound)
}

func testUpdateRoundTrip(t *testing.T, store metadata.Store) {
	ctx := context.Background()
	root := createRoot(t, store)
	md := createEntry(t, store, root, "doc.txt", metadata.TypeFile)

	mtime := time.Unix(1700000000, 0).UTC()
	md.Size = 42
	md.Etag = "etag-2"
	md.Checksum = "SHA1:abc"
	md.MTime = mtime
	require.NoError(t, store.Update(ctx, md))

	got, err := store.Get(ctx, "/doc.txt")
	require.NoError(t, err)
	assert.Equal(t, md.ID, got.ID)
	assert.Equal(t, int64(42), got.Size)
	assert.Equal(t, "etag-2", got.Etag)
	assert.Equal(t, "SHA1:abc", got.Checksum)
	assert.True(t, mtime.Equal(got.MTime), "mtime %v != %v", got.MTime, mtime)
}

func testUpdateMissing(t *testing.T, store metadata.Store) {
	createRoot(t, store)
	err := store.Update(context.Background(), &metadata.Metadata{
		Name:        "ghost.txt",
		Path:        "/ghost.txt",
		Type:        metadata.TypeFile,
		BackendType: "localfs",
	})
	assert.ErrorIs(t, err, metadata.ErrNotFound)
}

func testModifyMissing(t *testing.T, store metadata.Store) {
	createRoot(t, store)
	called := false
	_, err := store.Modify(context.Background(), "/ghost.txt", func(md *metadata.Metadata) { called = true })
	assert.ErrorIs(t, err, metadata.ErrNotFound)
	assert.False(t, called)
}

func testConcurrentModify(t *testing.T, store metadata.Store) {
	ctx := context.Background()
	root := createRoot(t, store)
	createEntry(t, store, root, "docs", metadata.TypeDirectory)

	const writers, rounds = 8, 10
	var wg sync.WaitGroup
	errs := make(chan error, writers*rounds)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < rounds; j++ {
				_, err := store.Modify(ctx, "/docs", func(md *metadata.Metadata) { md.Size += 3 })
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	got, err := store.Get(ctx, "/docs")
	require.NoError(t, err)
	assert.Equal(t, int64(writers*rounds*3), got.Size)
	assert.Equal(t, "etag-docs", got.Etag)

	md, err := store.Modify(ctx, "/docs", func(md *metadata.Metadata) { md.Etag = "etag-next" })
	require.NoError(t, err)
	assert.Equal(t, int64(writers*rounds*3), md.Size)
	assert.Equal(t, "etag-next", md.Etag)
}

func testDelete(t *testing.T, store metadata.Store) {
	ctx := context.Background()
	root := createRoot(t, store)
	createEntry(t, store, root, "gone.txt", metadata.TypeFile)

	require.NoError(t, store.Delete(ctx, "/gone.txt"))
	_, err := store.Get(ctx, "/gone.txt")
	assert.ErrorIs(t, err, metadata.ErrNotFound)

	assert.ErrorIs(t, store.Delete(ctx, "/gone.txt"), metadata.ErrNotFound)

	children, err := store.ListChildren(ctx, "/")
	require.NoError(t, err)
	assert.Empty(t, children)
}

func testListChildren(t *testing.T, store metadata.Store) {
	ctx := context.Background()
	root := createRoot(t, store)
	createEntry(t, store, root, "zeta.txt", metadata.TypeFile)
	docs := createEntry(t, store, root, "docs", metadata.TypeDirectory)
	createEntry(t, store, root, "alpha.txt", metadata.TypeFile)
	createEntry(t, store, docs, "nested.txt", metadata.TypeFile)

	children, err := store.ListChildren(ctx, "/")
	require.NoError(t, err)

	names := make([]string, 0, len(children))
	for _, c := range children {
		names = append(names, c.Name)
	}
	assert.Equal(t, []string{"docs", "alpha.txt", "zeta.txt"}, names)

	nested, err := store.ListChildren(ctx, "/docs")
	require.NoError(t, err)
	require.Len(t, nested, 1)
	assert.Equal(t, "/docs/nested.txt", nested[0].Path)
}
