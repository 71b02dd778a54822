// Package core implements the bundled-file commit path: an upload stream
// is written to its backend under an exclusive lock, verified, indexed and
// announced to observers.
package core

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/ebogdum/bundlefs/locks"
	"github.com/ebogdum/bundlefs/metadata"
)

// Engine represents the core bundlefs engine that orchestrates commits
type Engine struct {
	resolver    *Resolver
	index       Index
	lockManager locks.Manager
	logger      *zap.Logger
}

// NewEngine creates a new core engine instance
func NewEngine(resolver *Resolver, index Index, lockManager locks.Manager, logger *zap.Logger) *Engine {
	return &Engine{
		resolver:    resolver,
		index:       index,
		lockManager: lockManager,
		logger:      logger,
	}
}

// Resolve maps a logical path to its backend
func (e *Engine) Resolve(path string) Target {
	return e.resolver.Resolve(path)
}

// Lookup returns the index record for path. It returns
// metadata.ErrNotFound when nothing is indexed there.
func (e *Engine) Lookup(ctx context.Context, path string) (*metadata.Metadata, error) {
	return e.index.Lookup(ctx, path)
}

// lockKey is the lock manager key guarding a logical path
func lockKey(path string) string {
	return fmt.Sprintf("file:%s", path)
}
