package core

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/ebogdum/bundlefs/backends"
	"github.com/ebogdum/bundlefs/metadata"
)

// Target is a logical path resolved to the backend that stores it
type Target struct {
	// Path is the normalized logical path
	Path string
	// InternalPath is the path inside the backend
	InternalPath string
	BackendType  string
	Storage      backends.Storage
}

type mount struct {
	prefix      string
	backendType string
	storage     backends.Storage
}

// Resolver maps logical paths onto backends through a mount table. The
// longest matching mount prefix wins; paths outside every mount go to the
// default backend unchanged.
type Resolver struct {
	mu       sync.RWMutex
	mounts   []mount
	fallback mount
}

// NewResolver creates a resolver whose default backend serves "/"
func NewResolver(defaultType string, defaultStorage backends.Storage) *Resolver {
	return &Resolver{
		fallback: mount{prefix: "/", backendType: defaultType, storage: defaultStorage},
	}
}

// Mount routes every path at or below prefix to storage. Paths are
// stripped of the prefix before reaching the backend.
func (r *Resolver) Mount(prefix, backendType string, storage backends.Storage) error {
	prefix = metadata.NormalizePath(prefix)
	if prefix == "/" {
		return fmt.Errorf("cannot mount over the root; configure the default backend instead")
	}
	if storage == nil {
		return fmt.Errorf("mount %s: no storage for backend %q", prefix, backendType)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, m := range r.mounts {
		if m.prefix == prefix {
			return fmt.Errorf("mount %s already defined", prefix)
		}
	}

	r.mounts = append(r.mounts, mount{prefix: prefix, backendType: backendType, storage: storage})
	sort.Slice(r.mounts, func(i, j int) bool {
		return len(r.mounts[i].prefix) > len(r.mounts[j].prefix)
	})
	return nil
}

// Resolve looks path up in the mount table. It has no side effects.
func (r *Resolver) Resolve(path string) Target {
	logical := metadata.NormalizePath(path)

	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, m := range r.mounts {
		if logical == m.prefix || strings.HasPrefix(logical, m.prefix+"/") {
			return Target{
				Path:         logical,
				InternalPath: metadata.NormalizePath(strings.TrimPrefix(logical, m.prefix)),
				BackendType:  m.backendType,
				Storage:      m.storage,
			}
		}
	}

	return Target{
		Path:         logical,
		InternalPath: logical,
		BackendType:  r.fallback.backendType,
		Storage:      r.fallback.storage,
	}
}
