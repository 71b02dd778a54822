package main

import (
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/ebogdum/bundlefs/backends"
	"github.com/ebogdum/bundlefs/backends/localfs"
	"github.com/ebogdum/bundlefs/backends/noop"
	"github.com/ebogdum/bundlefs/backends/s3"
	"github.com/ebogdum/bundlefs/config"
	"github.com/ebogdum/bundlefs/core"
	"github.com/ebogdum/bundlefs/hooks"
	"github.com/ebogdum/bundlefs/locks"
	"github.com/ebogdum/bundlefs/metadata"
	"github.com/ebogdum/bundlefs/metadata/badger"
	"github.com/ebogdum/bundlefs/metadata/postgres"
	"github.com/ebogdum/bundlefs/metadata/redis"
	"github.com/ebogdum/bundlefs/metadata/schema"
	"github.com/ebogdum/bundlefs/metadata/sqlite"
)

// newMetadataStore opens the configured metadata store
func newMetadataStore(cfg config.MetadataStoreConfig, logger *zap.Logger) (metadata.Store, error) {
	switch cfg.Type {
	case "postgres":
		logger.Info("Running database migrations")
		if err := schema.RunMigrations(cfg.DSN); err != nil {
			return nil, fmt.Errorf("failed to run database migrations: %w", err)
		}
		return postgres.NewPostgresStore(cfg.DSN, logger)
	case "sqlite":
		return sqlite.NewSQLiteStore(cfg.SQLitePath, logger)
	case "badger":
		return badger.NewBadgerStore(cfg.BadgerPath, logger)
	case "redis":
		return redis.NewRedisStore(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.RedisKeyPrefix, logger)
	default:
		return nil, fmt.Errorf("unknown metadata store type %q", cfg.Type)
	}
}

// newLockManager creates the configured lock manager
func newLockManager(cfg config.DLMConfig, logger *zap.Logger) (locks.Manager, error) {
	switch cfg.Type {
	case "local":
		return locks.NewLocalManager(), nil
	case "redis":
		return locks.NewRedisManager(cfg.RedisAddr, cfg.RedisPassword, cfg.LockTTL, logger)
	default:
		return nil, fmt.Errorf("unknown lock manager type %q", cfg.Type)
	}
}

// backendSet builds each backend once and closes them together
type backendSet struct {
	cfg    config.BackendConfig
	logger *zap.Logger
	s3     backends.Storage
	opened []backends.Storage
}

func (b *backendSet) localFS(root string) (backends.Storage, error) {
	if root == "" {
		b.logger.Info("LocalFS backend disabled (no root path configured)")
		return noop.NewNoopAdapter(localfs.BackendType), nil
	}
	b.logger.Info("Initializing LocalFS backend", zap.String("root_path", root))
	adapter, err := localfs.NewLocalFSAdapter(root)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize LocalFS backend: %w", err)
	}
	b.opened = append(b.opened, adapter)
	return adapter, nil
}

func (b *backendSet) s3Backend() (backends.Storage, error) {
	if b.s3 != nil {
		return b.s3, nil
	}
	if b.cfg.S3BucketName == "" {
		b.logger.Info("S3 backend disabled (no bucket configured)")
		b.s3 = noop.NewNoopAdapter(s3.BackendType)
		return b.s3, nil
	}
	b.logger.Info("Initializing S3 backend", zap.String("bucket", b.cfg.S3BucketName))
	adapter, err := s3.NewS3Adapter(b.cfg, b.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize S3 backend: %w", err)
	}
	b.s3 = adapter
	b.opened = append(b.opened, adapter)
	return adapter, nil
}

func (b *backendSet) get(backendType, localRoot string) (backends.Storage, error) {
	switch backendType {
	case localfs.BackendType:
		return b.localFS(localRoot)
	case s3.BackendType:
		return b.s3Backend()
	default:
		return nil, fmt.Errorf("unknown backend type %q", backendType)
	}
}

func (b *backendSet) Close() error {
	var err error
	for _, s := range b.opened {
		err = multierr.Append(err, s.Close())
	}
	return err
}

// newResolver builds the default backend and every mount. The returned
// func closes all opened backends.
func newResolver(cfg config.BackendConfig, mounts []config.MountConfig, logger *zap.Logger) (*core.Resolver, func(), error) {
	set := &backendSet{cfg: cfg, logger: logger}
	closeAll := func() {
		if err := set.Close(); err != nil {
			logger.Warn("Failed to close backends", zap.Error(err))
		}
	}

	defaultStorage, err := set.get(cfg.DefaultBackend, cfg.LocalFSRootPath)
	if err != nil {
		closeAll()
		return nil, nil, err
	}
	resolver := core.NewResolver(cfg.DefaultBackend, defaultStorage)

	for _, m := range mounts {
		storage, err := set.get(m.Backend, m.LocalFSRootPath)
		if err != nil {
			closeAll()
			return nil, nil, err
		}
		if err := resolver.Mount(m.Prefix, m.Backend, storage); err != nil {
			closeAll()
			return nil, nil, fmt.Errorf("failed to mount %s: %w", m.Prefix, err)
		}
		logger.Info("Backend mounted", zap.String("prefix", m.Prefix), zap.String("backend", m.Backend))
	}

	return resolver, closeAll, nil
}

// newNotifier assembles the commit notifiers. The broadcaster is returned
// separately so the router can serve it; nil when events are disabled.
func newNotifier(cfg config.EventsConfig, logger *zap.Logger) (hooks.Notifier, *hooks.Broadcaster) {
	var multi hooks.Multi
	if cfg.LogHooks {
		multi = append(multi, hooks.NewLogNotifier(logger))
	}

	var events *hooks.Broadcaster
	if cfg.Enabled {
		events = hooks.NewBroadcaster(cfg.QueueSize, logger)
		multi = append(multi, events)
	}

	if len(multi) == 0 {
		return nil, nil
	}
	return multi, events
}

func newMetricsServer(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	return &http.Server{Addr: addr, Handler: mux}
}
