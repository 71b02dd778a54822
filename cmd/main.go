package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ebogdum/bundlefs/auth"
	"github.com/ebogdum/bundlefs/config"
	"github.com/ebogdum/bundlefs/core"
	corelog "github.com/ebogdum/bundlefs/core/log"
	"github.com/ebogdum/bundlefs/server"
)

var rootCmd = &cobra.Command{
	Use:   "bundlefs",
	Short: "bundlefs - bundled upload file store",
	Long: `bundlefs accepts complete file uploads over HTTP and commits them
to local or S3 storage under an exclusive lock, with a metadata index of
etags and file IDs.`,
}

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Start the bundlefs server",
	Long:  "Start the bundlefs server with the configured backends and API endpoints",
	RunE:  runServer,
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration management commands",
}

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration",
	Long:  "Validate the bundlefs configuration and display the loaded settings",
	RunE:  validateConfig,
}

var configFilePath string

func main() {
	rootCmd.PersistentFlags().StringVarP(&configFilePath, "config", "c", "", "Path to configuration file")

	configCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(serverCmd, configCmd)

	// If no command specified, default to server
	if len(os.Args) == 1 {
		os.Args = append(os.Args, "server")
	}

	if err := rootCmd.Execute(); err != nil {
		log.Fatalf("Error: %v", err)
	}
}

// runServer starts the bundlefs server
func runServer(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.LoadConfigFromFile(configFilePath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	logger, err := initializeLogger(cfg.Log)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer func() {
		if err := logger.Sync(); err != nil {
			// Log to stderr since logger may not be working
			fmt.Fprintf(os.Stderr, "Failed to sync logger: %v\n", err)
		}
	}()

	logger.Info("Starting bundlefs server",
		zap.String("listen_addr", cfg.Server.ListenAddr),
		zap.String("metadata_store", cfg.MetadataStore.Type),
		zap.String("lock_manager", cfg.DLM.Type),
		zap.String("default_backend", cfg.Backend.DefaultBackend))

	logger.Info("Initializing metadata store")
	metadataStore, err := newMetadataStore(cfg.MetadataStore, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize metadata store: %w", err)
	}
	defer metadataStore.Close()

	var cache *core.MetadataCache
	if cfg.MetadataStore.CacheTTL > 0 && cfg.MetadataStore.CacheSize > 0 {
		cache = core.NewMetadataCache(cfg.MetadataStore.CacheTTL, cfg.MetadataStore.CacheSize)
		defer cache.Stop()
	}
	index := core.NewStoreIndex(metadataStore, cache, logger)

	logger.Info("Initializing lock manager")
	lockManager, err := newLockManager(cfg.DLM, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize lock manager: %w", err)
	}
	defer lockManager.Close()

	logger.Info("Initializing backend adapters")
	resolver, closeBackends, err := newResolver(cfg.Backend, cfg.Mounts, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize backends: %w", err)
	}
	defer closeBackends()

	logger.Info("Ensuring root directory exists")
	if err := index.EnsureRoot(ctx, cfg.Backend.DefaultBackend); err != nil {
		return fmt.Errorf("failed to ensure root directory exists: %w", err)
	}

	engine := core.NewEngine(resolver, index, lockManager, logger)

	authenticator, authorizer := newAuth(cfg.Auth)

	notifier, events := newNotifier(cfg.Events, logger)
	if events != nil {
		defer events.Close()
	}

	router := server.NewRouter(server.RouterDeps{
		Engine:        engine,
		Authenticator: authenticator,
		Authorizer:    authorizer,
		Notifier:      notifier,
		Events:        events,
		Upload:        cfg.Upload,
		ServeMetrics:  cfg.Metrics.Enabled && cfg.Metrics.ListenAddr == "",
	}, logger)

	srv := &http.Server{
		Addr:         cfg.Server.ListenAddr,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	errCh := make(chan error, 2)
	go func() {
		var err error
		if cfg.Server.CertFile != "" {
			logger.Info("Starting HTTPS server", zap.String("addr", cfg.Server.ListenAddr))
			err = srv.ListenAndServeTLS(cfg.Server.CertFile, cfg.Server.KeyFile)
		} else {
			logger.Info("Starting HTTP server", zap.String("addr", cfg.Server.ListenAddr))
			err = srv.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("server failed: %w", err)
		}
	}()

	var metricsSrv *http.Server
	if cfg.Metrics.Enabled && cfg.Metrics.ListenAddr != "" {
		metricsSrv = newMetricsServer(cfg.Metrics.ListenAddr)
		go func() {
			logger.Info("Starting metrics server", zap.String("addr", cfg.Metrics.ListenAddr))
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("metrics server failed: %w", err)
			}
		}()
	}

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("Shutting down server...")
	case runErr = <-errCh:
		logger.Error("Server stopped unexpectedly", zap.Error(runErr))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	// websocket subscribers are hijacked and not tracked by Shutdown
	if events != nil {
		events.Close()
	}
	if metricsSrv != nil {
		if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("Metrics server forced to shutdown", zap.Error(err))
		}
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
		return err
	}

	logger.Info("Server exited gracefully")
	return runErr
}

// validateConfig validates the bundlefs configuration and displays settings
func validateConfig(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	fmt.Fprintln(out, "Validating configuration...")

	cfg, err := config.LoadConfigFromFile(configFilePath)
	if err != nil {
		fmt.Fprintf(out, "Configuration validation failed: %v\n", err)
		return err
	}

	fmt.Fprintln(out, "Configuration is valid")
	fmt.Fprintf(out, "Listen Address: %s\n", cfg.Server.ListenAddr)
	fmt.Fprintf(out, "Metadata Store: %s\n", cfg.MetadataStore.Type)
	switch cfg.MetadataStore.Type {
	case "postgres":
		fmt.Fprintf(out, "Metadata Store DSN: %s\n", maskDSN(cfg.MetadataStore.DSN))
	case "sqlite":
		fmt.Fprintf(out, "SQLite Path: %s\n", cfg.MetadataStore.SQLitePath)
	case "badger":
		fmt.Fprintf(out, "Badger Path: %s\n", cfg.MetadataStore.BadgerPath)
	case "redis":
		fmt.Fprintf(out, "Redis Address: %s\n", cfg.MetadataStore.RedisAddr)
	}
	fmt.Fprintf(out, "Lock Manager: %s\n", cfg.DLM.Type)
	fmt.Fprintf(out, "Default Backend: %s\n", cfg.Backend.DefaultBackend)
	fmt.Fprintf(out, "Local FS Root: %s\n", cfg.Backend.LocalFSRootPath)
	if cfg.Backend.S3BucketName != "" {
		fmt.Fprintf(out, "S3 Bucket: %s\n", cfg.Backend.S3BucketName)
		fmt.Fprintf(out, "S3 Region: %s\n", cfg.Backend.S3Region)
	}
	for _, m := range cfg.Mounts {
		fmt.Fprintf(out, "Mount: %s -> %s\n", m.Prefix, m.Backend)
	}
	fmt.Fprintf(out, "API keys: %d, users: %d\n", len(cfg.Auth.APIKeys), len(cfg.Auth.Users))

	return nil
}

// maskDSN masks sensitive parts of the database DSN for display
func maskDSN(dsn string) string {
	if dsn == "" {
		return ""
	}
	if len(dsn) > 20 {
		return dsn[:10] + "***" + dsn[len(dsn)-7:]
	}
	return "***"
}

// initializeLogger creates a zap logger based on configuration and applies
// the log sanitization mode
func initializeLogger(logCfg config.LogConfig) (*zap.Logger, error) {
	var cfg zap.Config

	if logCfg.Format == "json" {
		cfg = zap.NewProductionConfig()
	} else {
		cfg = zap.NewDevelopmentConfig()
	}

	switch logCfg.Level {
	case "debug":
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	case "info":
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	case "warn":
		cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	case "error":
		cfg.Level = zap.NewAtomicLevelAt(zap.ErrorLevel)
	default:
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}

	if logCfg.Mode != "" {
		mode, ok := corelog.ParseMode(logCfg.Mode)
		if !ok {
			return nil, fmt.Errorf("unknown log mode %q", logCfg.Mode)
		}
		corelog.SetMode(mode)
	}

	return cfg.Build()
}

func newAuth(cfg config.AuthConfig) (auth.Authenticator, auth.Authorizer) {
	userKeys := make(map[string]string, len(cfg.Users))
	prefixes := make(map[string][]string)
	for _, u := range cfg.Users {
		userKeys[u.Name] = u.APIKey
		if len(u.Prefixes) > 0 {
			prefixes[u.Name] = u.Prefixes
		}
	}
	return auth.NewAPIKeyAuthenticator(cfg.APIKeys, userKeys), auth.NewPrefixAuthorizer(prefixes)
}
