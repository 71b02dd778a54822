package core

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ebogdum/bundlefs/locks"
	"github.com/ebogdum/bundlefs/metadata"
)

func upload(t *testing.T, f *fixture, path string, size int) *CommitResult {
	t.Helper()
	result, err := f.engine.CreateFromStream(context.Background(), UploadRequest{
		Path:   path,
		Stream: bytes.NewReader(payload(size)),
	})
	require.NoError(t, err)
	return result
}

func getEntry(t *testing.T, f *fixture, path string) *metadata.Metadata {
	t.Helper()
	md, err := f.store.Get(context.Background(), path)
	require.NoError(t, err)
	return md
}

func TestIndexCreatesParentDirectories(t *testing.T) {
	f := newFixture(t)
	upload(t, f, "/a/b/c.txt", 10)

	root := getEntry(t, f, "/")
	a := getEntry(t, f, "/a")
	b := getEntry(t, f, "/a/b")
	c := getEntry(t, f, "/a/b/c.txt")

	assert.True(t, root.IsDir())
	assert.Nil(t, root.ParentID)
	assert.True(t, a.IsDir())
	require.NotNil(t, a.ParentID)
	assert.Equal(t, root.ID, *a.ParentID)
	require.NotNil(t, b.ParentID)
	assert.Equal(t, a.ID, *b.ParentID)
	require.NotNil(t, c.ParentID)
	assert.Equal(t, b.ID, *c.ParentID)
	assert.Equal(t, "c.txt", c.Name)
	assert.Equal(t, "mem", c.BackendType)
}

func TestIndexPropagatesSizeAndEtag(t *testing.T) {
	f := newFixture(t)
	upload(t, f, "/a/b/c.txt", 10)
	upload(t, f, "/a/d.txt", 5)

	assert.Equal(t, int64(15), getEntry(t, f, "/").Size)
	assert.Equal(t, int64(15), getEntry(t, f, "/a").Size)
	assert.Equal(t, int64(10), getEntry(t, f, "/a/b").Size)

	rootEtag := getEntry(t, f, "/").Etag
	bEtag := getEntry(t, f, "/a/b").Etag

	// overwrite with a smaller file
	upload(t, f, "/a/b/c.txt", 4)

	assert.Equal(t, int64(9), getEntry(t, f, "/").Size)
	assert.Equal(t, int64(9), getEntry(t, f, "/a").Size)
	assert.Equal(t, int64(4), getEntry(t, f, "/a/b").Size)
	assert.NotEqual(t, rootEtag, getEntry(t, f, "/").Etag)
	assert.NotEqual(t, bEtag, getEntry(t, f, "/a/b").Etag)
}

func TestIndexOverwriteKeepsFileID(t *testing.T) {
	f := newFixture(t)
	first := upload(t, f, "/a.txt", 10)
	second := upload(t, f, "/a.txt", 20)

	assert.Equal(t, first.FileID, second.FileID)
	assert.NotEqual(t, first.Etag, second.Etag)
}

func TestIndexTouchUpdatesMtimeAndParents(t *testing.T) {
	f := newFixture(t)
	upload(t, f, "/dir/a.txt", 10)
	before := getEntry(t, f, "/dir").Etag

	target := f.engine.Resolve("/dir/a.txt")
	index := NewStoreIndex(f.store, nil, zap.NewNop())
	mtime := time.Now().Add(time.Hour).Truncate(time.Second)
	require.NoError(t, index.Touch(context.Background(), target, mtime))

	file := getEntry(t, f, "/dir/a.txt")
	assert.True(t, file.MTime.Equal(mtime))
	assert.Equal(t, ComputeEtag("/dir/a.txt", 10, mtime, file.Checksum), file.Etag)

	dir := getEntry(t, f, "/dir")
	assert.True(t, dir.MTime.Equal(mtime), "newer mtime propagates up")
	assert.NotEqual(t, before, dir.Etag)
}

func TestIndexLookupUsesCache(t *testing.T) {
	store := newMemStore()
	cache := NewMetadataCache(time.Minute, 10)
	defer cache.Stop()
	index := NewStoreIndex(store, cache, zap.NewNop())

	require.NoError(t, store.Create(context.Background(), &metadata.Metadata{Path: "/x", Name: "x", Type: metadata.TypeFile, Size: 1}))

	md, err := index.Lookup(context.Background(), "/x")
	require.NoError(t, err)
	assert.Equal(t, int64(1), md.Size)

	// a change behind the index's back is hidden by the cache until Refresh
	require.NoError(t, store.Update(context.Background(), &metadata.Metadata{Path: "/x", Name: "x", Type: metadata.TypeFile, Size: 2}))
	md, err = index.Lookup(context.Background(), "/x")
	require.NoError(t, err)
	assert.Equal(t, int64(1), md.Size)

	md, err = index.Refresh(context.Background(), "/x")
	require.NoError(t, err)
	assert.Equal(t, int64(2), md.Size)

	_, err = index.Lookup(context.Background(), "/missing")
	assert.ErrorIs(t, err, metadata.ErrNotFound)
}

func TestIndexRejectsFileAsParent(t *testing.T) {
	f := newFixture(t)
	upload(t, f, "/a", 3)

	_, err := f.engine.CreateFromStream(context.Background(), UploadRequest{
		Path:   "/a/b.txt",
		Stream: bytes.NewReader(payload(3)),
	})
	assert.ErrorIs(t, err, ErrInternal)
}

func TestComputeEtag(t *testing.T) {
	mtime := time.Unix(1700000000, 0)
	etag := ComputeEtag("/a", 10, mtime, "SHA1:x")

	assert.Len(t, etag, 16)
	assert.Equal(t, etag, ComputeEtag("/a", 10, mtime, "SHA1:x"))
	assert.NotEqual(t, etag, ComputeEtag("/b", 10, mtime, "SHA1:x"))
	assert.NotEqual(t, etag, ComputeEtag("/a", 11, mtime, "SHA1:x"))
	assert.NotEqual(t, etag, ComputeEtag("/a", 10, mtime.Add(time.Second), "SHA1:x"))
	assert.NotEqual(t, etag, ComputeEtag("/a", 10, mtime, "SHA1:y"))
}

func TestIndexEnsureRoot(t *testing.T) {
	store := newMemStore()
	index := NewStoreIndex(store, nil, zap.NewNop())

	require.NoError(t, index.EnsureRoot(context.Background(), "localfs"))
	require.NoError(t, index.EnsureRoot(context.Background(), "localfs"))

	root, err := store.Get(context.Background(), "/")
	require.NoError(t, err)
	assert.True(t, root.IsDir())
	assert.Equal(t, "/", root.Name)
	assert.Equal(t, int64(1), root.ID)
}

// slowStore widens the window between a read and the write that follows it
type slowStore struct {
	*memStore
}

func (s *slowStore) Get(ctx context.Context, path string) (*metadata.Metadata, error) {
	time.Sleep(time.Millisecond)
	return s.memStore.Get(ctx, path)
}

func TestIndexConcurrentUploadsKeepParentSizes(t *testing.T) {
	store := newMemStore()
	index := NewStoreIndex(&slowStore{memStore: store}, nil, zap.NewNop())
	engine := NewEngine(NewResolver("mem", newMemStorage()), index, locks.NewLocalManager(), zap.NewNop())

	const uploads = 20
	var wg sync.WaitGroup
	errs := make(chan error, uploads)
	for i := 0; i < uploads; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := engine.CreateFromStream(context.Background(), UploadRequest{
				Path:   fmt.Sprintf("/shared/f%02d.bin", i),
				Stream: bytes.NewReader(payload(100)),
			})
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	shared, err := store.Get(context.Background(), "/shared")
	require.NoError(t, err)
	assert.Equal(t, int64(uploads*100), shared.Size)

	root, err := store.Get(context.Background(), "/")
	require.NoError(t, err)
	assert.Equal(t, int64(uploads*100), root.Size)
}
