package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolverLongestPrefixWins(t *testing.T) {
	local := newMemStorage()
	archive := newMemStorage()
	cold := newMemStorage()

	r := NewResolver("localfs", local)
	require.NoError(t, r.Mount("/archive", "s3", archive))
	require.NoError(t, r.Mount("/archive/cold/", "s3-cold", cold))

	tests := []struct {
		path         string
		internalPath string
		backendType  string
	}{
		{path: "/docs/a.txt", internalPath: "/docs/a.txt", backendType: "localfs"},
		{path: "docs//a.txt", internalPath: "/docs/a.txt", backendType: "localfs"},
		{path: "/archive/2023/a.txt", internalPath: "/2023/a.txt", backendType: "s3"},
		{path: "/archive", internalPath: "/", backendType: "s3"},
		{path: "/archive/cold/x.bin", internalPath: "/x.bin", backendType: "s3-cold"},
		{path: "/archived/x.bin", internalPath: "/archived/x.bin", backendType: "localfs"},
	}

	for _, tt := range tests {
		target := r.Resolve(tt.path)
		assert.Equal(t, tt.internalPath, target.InternalPath, tt.path)
		assert.Equal(t, tt.backendType, target.BackendType, tt.path)
	}

	assert.Same(t, cold, r.Resolve("/archive/cold/x.bin").Storage)
	assert.Same(t, local, r.Resolve("/x").Storage)
}

func TestResolverRejectsBadMounts(t *testing.T) {
	r := NewResolver("localfs", newMemStorage())

	assert.Error(t, r.Mount("/", "s3", newMemStorage()))
	assert.Error(t, r.Mount("/data", "s3", nil))
	require.NoError(t, r.Mount("/data", "s3", newMemStorage()))
	assert.Error(t, r.Mount("/data/", "s3", newMemStorage()))
}
