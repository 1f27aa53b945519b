package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/ryde/accounts/internal/schema"
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

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	db, err := database.OpenPostgres(ctx, database.PoolConfig{
		DSN:            cfg.DatabaseURL,
		MaxConns:       2,
		IdleTimeout:    cfg.DBIdleTimeout,
		AcquireTimeout: cfg.DBAcquireTimeout,
	})
	if err != nil {
		log.Fatal("failed to connect to database", zap.Error(err))
	}
	defer db.Close()

	if err := schema.NewInitializer(db).EnsureInitialized(ctx); err != nil {
		log.Fatal("migration failed", zap.Error(err))
	}

	fmt.Fprintln(os.Stdout, "migrations completed")
}
