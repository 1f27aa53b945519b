package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/ryde/accounts/internal/api"
	"github.com/ryde/accounts/internal/api/handlers"
	"github.com/ryde/accounts/internal/repository"
	"github.com/ryde/accounts/internal/schema"
	"github.com/ryde/accounts/internal/services"
	"github.com/ryde/accounts/pkg/config"
	"github.com/ryde/accounts/pkg/database"
	"github.com/ryde/accounts/pkg/logger"
)

func main() {
	// Load configuration
	cfg := config.MustLoad()

	// Initialize logger
	log, err := logger.Init(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	log.Info("Starting accounts API",
		zap.String("env", cfg.AppEnv),
		zap.String("addr", cfg.HTTPAddr),
	)

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	// Connect to database
	db, err := database.OpenPostgres(ctx, database.PoolConfig{
		DSN:            cfg.DatabaseURL,
		MaxConns:       cfg.DBMaxConns,
		IdleTimeout:    cfg.DBIdleTimeout,
		AcquireTimeout: cfg.DBAcquireTimeout,
	})
	if err != nil {
		log.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer db.Close()
	go db.Watch(ctx, cfg.DBWatchInterval)

	// Schema is created lazily on the first user request.
	initializer := schema.NewInitializer(db)
	userSvc := services.NewUserService(initializer, repository.NewUserRepository(db))

	router := api.NewRouter(ctx, api.Dependencies{
		UsersHandler:   handlers.NewUsersHandler(userSvc),
		HealthHandler:  handlers.NewHealthHandler(db),
		CORSOrigins:    cfg.CORSAllowedOrigins,
		RateLimitRPS:   cfg.RateLimitRPS,
		RateLimitBurst: cfg.RateLimitBurst,
	})

	// Create HTTP server
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       90 * time.Second,
	}

	// Start server in goroutine
	errCh := make(chan error, 1)
	go func() {
		log.Info("HTTP server starting", zap.String("addr", cfg.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	// Graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Info("shutdown signal received", zap.String("signal", sig.String()))
	case err := <-errCh:
		log.Error("server error", zap.Error(err))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("server shutdown error", zap.Error(err))
	} else {
		log.Info("server exited gracefully")
	}
}
