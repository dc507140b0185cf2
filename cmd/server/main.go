// Librarian content server
//
// Features:
// - Libraries, nested folders and items with shared memberships
// - Smart and two-step moves
// - SSE change events
// - Prometheus metrics & structured logging (zap)
// - Local or S3 content storage, in-memory or PostgreSQL catalog
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/fruitsalade/librarian/internal/api"
	"github.com/fruitsalade/librarian/internal/auth"
	"github.com/fruitsalade/librarian/internal/catalog"
	"github.com/fruitsalade/librarian/internal/config"
	"github.com/fruitsalade/librarian/internal/events"
	"github.com/fruitsalade/librarian/internal/logging"
	"github.com/fruitsalade/librarian/internal/metrics"
	"github.com/fruitsalade/librarian/internal/storage"
	"github.com/fruitsalade/librarian/internal/storage/local"
	s3storage "github.com/fruitsalade/librarian/internal/storage/s3"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		// Can't use structured logging yet
		panic("configuration error: " + err.Error())
	}

	// Initialize structured logging
	if err := logging.Init(logging.Config{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
	}); err != nil {
		panic("logging init error: " + err.Error())
	}
	defer logging.Sync()

	logging.Info("Librarian server starting...",
		zap.String("listen", cfg.ListenAddr),
		zap.String("metrics", cfg.MetricsAddr),
		zap.String("catalog", cfg.Catalog),
		zap.String("storage", cfg.StorageBackend))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Catalog
	var cat catalog.Catalog
	switch cfg.Catalog {
	case "postgres":
		logging.Info("connecting to PostgreSQL...")
		pg, err := catalog.NewPostgres(cfg.DatabaseURL)
		if err != nil {
			logging.Fatal("database connection failed", zap.Error(err))
		}
		migrationsDir := cfg.MigrationsDir
		if migrationsDir == "" {
			migrationsDir = findMigrationsDir()
		}
		if migrationsDir != "" {
			logging.Info("running migrations...", zap.String("dir", migrationsDir))
			if err := pg.Migrate(migrationsDir); err != nil {
				logging.Fatal("migration failed", zap.Error(err))
			}
		}
		go func() {
			ticker := time.NewTicker(15 * time.Second)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					pg.UpdateConnectionMetrics()
				}
			}
		}()
		cat = pg
	default:
		logging.Warn("using in-memory catalog; data is lost on restart")
		cat = catalog.NewMemory()
	}
	defer cat.Close()

	// Content storage
	store, err := storage.Open(ctx, storage.Config{
		Backend: cfg.StorageBackend,
		Local: local.Config{
			RootPath:   cfg.LocalStoragePath,
			CreateDirs: true,
		},
		S3: s3storage.Config{
			Endpoint:  cfg.S3Endpoint,
			Bucket:    cfg.S3Bucket,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
			Region:    cfg.S3Region,
		},
	})
	if err != nil {
		logging.Fatal("storage init failed", zap.Error(err))
	}
	defer store.Close()
	logging.Info("storage backend ready", zap.String("type", store.Type()))

	// Auth
	var authHandler *auth.Auth
	if cfg.AuthDisabled {
		logging.Warn("authentication disabled; every request is accepted")
	} else {
		if len(cfg.AuthUsers) == 0 {
			logging.Warn("no users configured; set AUTH_USERS to allow logins")
		}
		authHandler = auth.New(cfg.JWTSecret, cfg.AuthUsers, cfg.TokenTTL)
	}

	// Initialize SSE broadcaster
	broadcaster := events.NewBroadcaster()

	srv := api.NewServer(cat, store, authHandler, broadcaster, cfg.MaxUploadSize)

	// Start metrics server
	metricsServer := &http.Server{
		Addr:    cfg.MetricsAddr,
		Handler: metrics.Handler(),
	}
	go func() {
		logging.Info("metrics server listening", zap.String("addr", cfg.MetricsAddr))
		if err := metricsServer.ListenAndServe(); err != http.ErrServerClosed {
			logging.Error("metrics server error", zap.Error(err))
		}
	}()

	httpServer := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Graceful shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		logging.Info("shutting down...")
		cancel()

		shutdownCtx, done := context.WithTimeout(context.Background(), 10*time.Second)
		defer done()
		// Open SSE streams keep Shutdown waiting until the deadline.
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			httpServer.Close()
		}
		metricsServer.Close()
	}()

	logging.Info("server listening (HTTP)", zap.String("addr", cfg.ListenAddr))
	if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
		logging.Fatal("server error", zap.Error(err))
	}
}

func findMigrationsDir() string {
	candidates := []string{
		"migrations",
		"../migrations",
	}

	exe, _ := os.Executable()
	if exe != "" {
		candidates = append(candidates, filepath.Join(filepath.Dir(exe), "migrations"))
	}

	for _, dir := range candidates {
		if info, err := os.Stat(dir); err == nil && info.IsDir() {
			return dir
		}
	}
	return ""
}
