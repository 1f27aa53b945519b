package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/ryde/accounts/internal/queue/tasks"
	"github.com/ryde/accounts/internal/repository"
	"github.com/ryde/accounts/internal/schema"
	"github.com/ryde/accounts/internal/services"
	"github.com/ryde/accounts/pkg/config"
	"github.com/ryde/accounts/pkg/database"
	"github.com/ryde/accounts/pkg/logger"
)

func main() {
	cfg := config.MustLoad()
	log, err := logger.Init(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	if cfg.RedisAddr == "" {
		log.Fatal("REDIS_ADDR is required for the worker")
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       0,
	})
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		log.Fatal("redis connection failed", zap.Error(err))
	}
	_ = rdb.Close()

	srv := asynq.NewServer(
		asynq.RedisClientOpt{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       0,
		},
		asynq.Config{
			Concurrency: cfg.AsynqConcurrency,
		},
	)

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	// Initialize DB and services for task handlers
	db, err := database.OpenPostgres(ctx, database.PoolConfig{
		DSN:            cfg.DatabaseURL,
		MaxConns:       cfg.DBMaxConns,
		IdleTimeout:    cfg.DBIdleTimeout,
		AcquireTimeout: cfg.DBAcquireTimeout,
	})
	if err != nil {
		log.Fatal("failed to open database", zap.Error(err))
	}
	defer db.Close()
	go db.Watch(ctx, cfg.DBWatchInterval)

	userSvc := services.NewUserService(schema.NewInitializer(db), repository.NewUserRepository(db))

	mux := asynq.NewServeMux()
	mux.HandleFunc(tasks.TypeProvisionUser, tasks.NewProvisionTaskHandler(userSvc).HandleProvision)

	log.Info("asynq worker starting", zap.Int("concurrency", cfg.AsynqConcurrency))
	if err := srv.Start(mux); err != nil {
		log.Fatal("worker failed to start", zap.Error(err))
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Info("shutdown signal received", zap.String("signal", sig.String()))

	// Allow in-flight tasks to finish gracefully
	srv.Shutdown()
}
