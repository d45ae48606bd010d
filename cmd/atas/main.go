package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/boddenberg/atas-admin-go/internal/config"
	"github.com/boddenberg/atas-admin-go/internal/domain"
	"github.com/boddenberg/atas-admin-go/internal/handler"
	"github.com/boddenberg/atas-admin-go/internal/infra/blob"
	"github.com/boddenberg/atas-admin-go/internal/infra/cache"
	"github.com/boddenberg/atas-admin-go/internal/infra/observability"
	"github.com/boddenberg/atas-admin-go/internal/infra/pgnotify"
	"github.com/boddenberg/atas-admin-go/internal/infra/realtime"
	"github.com/boddenberg/atas-admin-go/internal/infra/resilience"
	"github.com/boddenberg/atas-admin-go/internal/infra/supabase"
	"github.com/boddenberg/atas-admin-go/internal/port"
	"github.com/boddenberg/atas-admin-go/internal/service"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const serviceName = "atas-admin"

// feed is a change feed with a connection loop.
type feed interface {
	port.ChangeFeed
	Run(ctx context.Context) error
	Connected() bool
}

func main() {
	// --- Config ---
	cfg, err := config.Load(".env")
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	// --- Logger ---
	logger := observability.NewLogger(cfg.LogLevel, serviceName)
	defer logger.Sync()

	logger.Info("configuration loaded",
		zap.Int("port", cfg.Port),
		zap.String("log_level", cfg.LogLevel),
		zap.String("supabase_url", cfg.SupabaseURL),
		zap.String("realtime_driver", cfg.RealtimeDriver),
		zap.Bool("redis_cache", cfg.RedisURL != ""),
		zap.Bool("s3_storage", cfg.StorageBucket != ""),
		zap.Duration("http_timeout", cfg.HTTPTimeout),
		zap.Duration("cache_ttl", cfg.CacheTTL),
		zap.Int("max_concurrency", cfg.MaxConcurrency),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// --- Tracing ---
	shutdownTracer, err := observability.InitTracer(cfg.OTLPEndpoint, serviceName)
	if err != nil {
		logger.Fatal("failed to init tracer", zap.Error(err))
	}
	defer shutdownTracer(context.Background())

	// --- Metrics ---
	metrics := observability.NewMetrics()

	// --- Resilience ---
	reconnect := resilience.Config{
		MaxRetries:     cfg.MaxRetries,
		InitialBackoff: cfg.InitialBackoff,
		MaxBackoff:     30 * time.Second,
	}
	cb := resilience.NewCircuitBreaker("supabase")
	bulkhead := resilience.NewBulkhead(cfg.MaxConcurrency)

	// --- Supabase ---
	httpClient := &http.Client{Timeout: cfg.HTTPTimeout}
	sb := supabase.NewClient(httpClient, cfg.SupabaseURL, cfg.SupabaseAnonKey, cfg.SupabaseServiceKey, cb, logger)

	// --- Cache ---
	var rdb *redis.Client
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			logger.Fatal("invalid REDIS_URL", zap.Error(err))
		}
		rdb = redis.NewClient(opts)
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			logger.Warn("redis unreachable, detail caches will miss until it recovers", zap.Error(err))
		}
	}
	var profileCache port.Cache[domain.UserRef] = cache.New[domain.UserRef](cfg.CacheTTL)
	if rdb != nil {
		profileCache = cache.NewRedis[domain.UserRef](rdb, cache.DefaultPrefix+"profile:", cfg.CacheTTL, logger)
	}
	profiles := supabase.NewProfileResolver(sb, profileCache, logger)

	// --- Attachment storage ---
	var blobs port.BlobStore
	if cfg.StorageBucket != "" {
		s3, err := blob.NewS3(ctx, blob.Config{
			Bucket:          cfg.StorageBucket,
			Region:          cfg.StorageRegion,
			Endpoint:        cfg.StorageEndpoint,
			AccessKeyID:     cfg.StorageAccessKey,
			SecretAccessKey: cfg.StorageSecretKey,
			PathStyle:       cfg.StoragePathStyle,
			PublicBaseURL:   cfg.StoragePublicURL,
		})
		if err != nil {
			logger.Fatal("failed to init attachment storage", zap.Error(err))
		}
		blobs = s3
	} else {
		logger.Warn("STORAGE_BUCKET not set, attachments are kept in memory")
		blobs = blob.NewMemory()
	}

	// --- Realtime ---
	var changes feed
	switch cfg.RealtimeDriver {
	case config.DriverSupabase:
		changes = realtime.New(realtime.Config{
			URL:       cfg.SupabaseURL,
			APIKey:    cfg.SupabaseAnonKey,
			Heartbeat: cfg.RealtimeHeartbeat,
			Reconnect: reconnect,
		}, logger)
	case config.DriverPostgres:
		changes = pgnotify.New(pgnotify.Config{
			DatabaseURL:     cfg.DatabaseURL,
			Channel:         cfg.NotifyChannel,
			InstallTriggers: cfg.InstallTriggers,
			Reconnect:       reconnect,
		}, logger)
	default:
		logger.Warn("realtime disabled, stores refresh only on reload")
	}

	// --- Services ---
	deps := service.CatalogDeps{
		Backend:     sb,
		Session:     profiles,
		Bulkhead:    bulkhead,
		Redis:       rdb,
		CacheTTL:    cfg.CacheTTL,
		SearchLimit: cfg.SearchLimit,
		Metrics:     metrics,
		Logger:      logger,
	}
	var feedStatus handler.FeedStatus
	if changes != nil {
		deps.Feed = changes
		feedStatus = changes
	}
	catalog := service.NewCatalog(deps)
	workspace := service.NewWorkspace(catalog, cfg.MaxConcurrency, logger)

	var authSvc *service.AuthService
	if cfg.JWTSecret != "" {
		authSvc = service.NewAuthService(cfg.JWTSecret, service.DefaultAudience, profiles, logger)
	} else {
		logger.Warn("SUPABASE_JWT_SECRET not set, /v1 routes unavailable")
	}

	// --- Router ---
	router := handler.NewRouter(handler.Deps{
		Workspace:     workspace,
		Auth:          authSvc,
		Statuses:      service.NewStatusService(catalog.Statuses, logger),
		Comments:      service.NewCommentService(catalog, profiles, sb, blobs, cfg.CommentEditWindow, logger),
		Users:         service.NewUserService(catalog.Users, sb, logger),
		Notifications: service.NewNotificationService(catalog.Notifications, profiles, logger),
		Feed:          feedStatus,
		Metrics:       metrics,
		Logger:        logger,
	})

	// --- Initial load and realtime ---
	go func() {
		start := time.Now()
		if err := workspace.LoadAll(ctx); err != nil {
			logger.Warn("initial load interrupted", zap.Error(err))
			return
		}
		logger.Info("stores loaded", zap.Duration("took", time.Since(start)))

		if changes == nil {
			return
		}
		if err := workspace.Start(ctx); err != nil {
			logger.Error("realtime subscribe failed", zap.Error(err))
		}
		if err := changes.Run(ctx); err != nil {
			logger.Error("realtime feed stopped", zap.Error(err))
		}
	}()

	// --- Server ---
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// --- Graceful shutdown ---
	go func() {
		logger.Info("server starting", zap.Int("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("server shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := workspace.Stop(); err != nil {
		logger.Warn("realtime unsubscribe failed", zap.Error(err))
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Fatal("server forced shutdown", zap.Error(err))
	}

	logger.Info("server stopped")
}
