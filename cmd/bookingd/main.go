// Booking Proxy - fulfillment and shipping-document reconciliation for
// Shopee bookings. Serves the booking store, the marketplace operations, the
// push webhook and MCP, and runs the reconciliation worker.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"booking-proxy/internal/archive"
	"booking-proxy/internal/backend"
	"booking-proxy/internal/config"
	"booking-proxy/internal/gateway"
	"booking-proxy/internal/handler"
	"booking-proxy/internal/ingest"
	"booking-proxy/internal/metrics"
	"booking-proxy/internal/middleware"
	"booking-proxy/internal/negcache"
	"booking-proxy/internal/operations"
	"booking-proxy/internal/printing"
	"booking-proxy/internal/reconcile"
	"booking-proxy/internal/session"
	"booking-proxy/internal/shopee"
	"booking-proxy/internal/store"
	"booking-proxy/internal/token"
	"booking-proxy/internal/worker"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// Initialize structured logger
	logger := initLogger()

	// Load configuration
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(ctx)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger.Info("configuration loaded",
		slog.String("environment", cfg.Environment),
		slog.Int64("partner_id", cfg.Shopee.PartnerID),
		slog.String("database", cfg.Database.Driver),
		slog.Bool("remote_backend", cfg.BackendURL != ""),
		slog.Bool("redis", cfg.RedisAddr != ""),
		slog.String("document_type", cfg.DocumentType),
	)

	m := metrics.New()

	// Booking store: remote backend when configured, otherwise local SQL
	bookingStore, closeStore, err := createStore(cfg)
	if err != nil {
		return fmt.Errorf("creating booking store: %w", err)
	}
	defer closeStore()

	tokens, closeTokens, err := createTokenProvider(ctx, cfg)
	if err != nil {
		return fmt.Errorf("creating token provider: %w", err)
	}
	defer closeTokens()

	client := shopee.NewClient(shopee.Config{
		PartnerID:  cfg.Shopee.PartnerID,
		PartnerKey: cfg.Shopee.PartnerKey,
		BaseURL:    cfg.Shopee.BaseURL,
		RateLimit:  cfg.Shopee.RateLimit,
		Logger:     logger,
		Metrics:    m,
	})

	ops := operations.New(tokens, client, bookingStore, operations.Options{
		DocumentType: gateway.DocumentType(cfg.DocumentType),
		Logger:       logger,
	})

	// One operator session per process
	sessionID := uuid.NewString()
	tracking, documents, closeCaches := createNegativeCaches(cfg, sessionID, logger)
	defer closeCaches()
	sess := session.New(sessionID, bookingStore, tracking, documents, logger)

	scanner := reconcile.New(ops, bookingStore, reconcile.Config{
		TrackingSettle:      cfg.Scan.TrackingSettle,
		DocumentReloadDelay: cfg.Scan.DocumentReloadDelay,
		NegativeTTL:         cfg.Scan.NegativeTTL,
		DocumentType:        gateway.DocumentType(cfg.DocumentType),
	}, logger, m)

	w := worker.New(sess, scanner, worker.Options{
		PreDelay: cfg.Scan.PreDelay,
		Interval: cfg.Scan.Interval,
	}, logger)

	arc, err := createArchive(ctx, cfg)
	if err != nil {
		return fmt.Errorf("creating document archive: %w", err)
	}
	printer := printing.New(ops, bookingStore, arc, logger, m)
	syncer := ingest.New(ops, bookingStore, logger)

	h := handler.New(handler.Deps{
		Operations:  ops,
		Store:       bookingStore,
		Session:     sess,
		Scans:       w,
		Printer:     printer,
		Syncer:      syncer,
		Push:        client,
		CallbackURL: cfg.WebhookCallbackURL,
		Metrics:     m,
		Logger:      logger,
	})

	// Setup routes
	mux := http.NewServeMux()
	h.RegisterRoutes(mux)

	// Apply middleware chain: recovery → request id → logging → metrics → handler
	// Recovery must be outermost to catch panics from logging middleware.
	// Metrics sits next to the mux so it sees the matched route pattern.
	httpHandler := middleware.Chain(
		middleware.Recovery(logger),
		middleware.RequestID(),
		middleware.Logging(logger),
		middleware.Metrics(m),
	)(mux)

	// Create HTTP server with timeouts
	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      httpHandler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// Reconciliation worker stops with the signal context
	workerDone := make(chan error, 1)
	go func() {
		workerDone <- w.Run(ctx)
	}()

	// Channel for server errors
	serverErr := make(chan error, 1)

	// Start server in goroutine
	go func() {
		logger.Info("server starting",
			slog.String("port", cfg.Port),
			slog.String("addr", server.Addr),
			slog.String("session_id", sessionID),
		)
		serverErr <- server.ListenAndServe()
	}()

	// Wait for shutdown signal or server error
	select {
	case err := <-serverErr:
		stop()
		<-workerDone
		if err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}

	case <-ctx.Done():
		logger.Info("shutdown signal received")

		// Give outstanding requests time to complete
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			// Force close if graceful shutdown fails
			server.Close()
			return fmt.Errorf("shutdown error: %w", err)
		}
		if err := <-workerDone; err != nil {
			logger.Warn("worker stopped with error", slog.String("error", err.Error()))
		}
	}

	logger.Info("server stopped")
	return nil
}

// createStore opens the booking store. The returned func releases it.
func createStore(cfg *config.Config) (handler.Store, func(), error) {
	if cfg.BackendURL != "" {
		return backend.NewClient(cfg.BackendURL), func() {}, nil
	}
	db, err := store.Open(cfg.Database)
	if err != nil {
		return nil, nil, err
	}
	return db, func() { db.Close() }, nil
}

// createTokenProvider returns static tokens in development and Secret
// Manager backed tokens in production.
func createTokenProvider(ctx context.Context, cfg *config.Config) (token.Provider, func(), error) {
	if !cfg.UseSecretTokens() {
		tokens, err := token.ParseStatic(cfg.ShopTokens)
		if err != nil {
			return nil, nil, err
		}
		return tokens, func() {}, nil
	}

	client, err := secretmanager.NewClient(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("creating secret manager client: %w", err)
	}
	provider := token.NewSecretManager(cfg.GCPProject, cfg.TokenSecretPrefix, token.ClientFetcher(client))
	return provider, func() { client.Close() }, nil
}

// createNegativeCaches returns the tracking and document failure caches,
// in Redis when configured so they survive a restart within the session.
func createNegativeCaches(cfg *config.Config, sessionID string, logger *slog.Logger) (negcache.Cache, negcache.Cache, func()) {
	if cfg.RedisAddr == "" {
		return negcache.NewMemory(), negcache.NewMemory(), func() {}
	}

	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	logger.Info("negative cache in redis", slog.String("addr", cfg.RedisAddr))
	tracking := negcache.NewRedis(rdb, "negcache:tracking:"+sessionID+":")
	documents := negcache.NewRedis(rdb, "negcache:documents:"+sessionID+":")
	return tracking, documents, func() { rdb.Close() }
}

// createArchive picks MinIO, a local directory, or no archive.
func createArchive(ctx context.Context, cfg *config.Config) (archive.Archive, error) {
	a := cfg.Archive
	switch {
	case a.MinIOEndpoint != "":
		return archive.NewMinIO(ctx, archive.MinIOConfig{
			Endpoint:  a.MinIOEndpoint,
			AccessKey: a.MinIOAccessKey,
			SecretKey: a.MinIOSecretKey,
			Bucket:    a.MinIOBucket,
			UseSSL:    a.MinIOUseSSL,
		})
	case a.Dir != "":
		return archive.NewDir(a.Dir)
	default:
		return nil, nil
	}
}

// initLogger creates a structured logger configured for the environment.
// Production uses JSON format for GCP Cloud Logging compatibility.
// Development uses text format for readability.
func initLogger() *slog.Logger {
	level := slog.LevelInfo
	switch os.Getenv("LOG_LEVEL") {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{
		Level: level,
		// Add source location in debug mode
		AddSource: level == slog.LevelDebug,
	}

	// JSON for production (Cloud Logging compatible), text for development
	if os.Getenv("ENVIRONMENT") == "production" {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}
