// Package schema lazily creates the users table, its indexes and the
// updated_at trigger. Every statement is idempotent, so repeated or
// overlapping runs never create duplicate objects.
package schema

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/ryde/accounts/pkg/logger"
)

// advisoryLockKey serializes initialization across processes sharing a database.
const advisoryLockKey int64 = 0x75736572735f7631 // "users_v1"

var statements = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id BIGSERIAL PRIMARY KEY,
		external_identity_id VARCHAR(255) UNIQUE NOT NULL,
		name VARCHAR(255) NOT NULL,
		email VARCHAR(255) UNIQUE NOT NULL,
		profile_image_url TEXT,
		created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE INDEX IF NOT EXISTS idx_users_external_identity_id ON users(external_identity_id)`,
	`CREATE INDEX IF NOT EXISTS idx_users_email ON users(email)`,
	`CREATE OR REPLACE FUNCTION update_updated_at_column()
	RETURNS TRIGGER AS $$
	BEGIN
		NEW.updated_at = CURRENT_TIMESTAMP;
		RETURN NEW;
	END;
	$$ LANGUAGE plpgsql`,
	`DO $$
	BEGIN
		IF NOT EXISTS (
			SELECT 1 FROM pg_trigger
			WHERE tgname = 'update_users_updated_at'
			AND tgrelid = 'users'::regclass
		) THEN
			CREATE TRIGGER update_users_updated_at
				BEFORE UPDATE ON users
				FOR EACH ROW
				EXECUTE FUNCTION update_updated_at_column();
		END IF;
	END
	$$`,
}

// Statements returns the ordered DDL applied by EnsureInitialized.
func Statements() []string {
	out := make([]string, len(statements))
	copy(out, statements)
	return out
}

// TxRunner runs a function inside a database transaction.
type TxRunner interface {
	InTx(ctx context.Context, fn func(tx pgx.Tx) error) error
}

// Initializer ensures the schema exists at most once per process.
type Initializer struct {
	db   TxRunner
	mu   sync.Mutex
	done atomic.Bool
}

func NewInitializer(db TxRunner) *Initializer {
	return &Initializer{db: db}
}

// EnsureInitialized applies the schema on first use. Concurrent callers wait
// for the in-flight run. A failed run leaves the initializer untouched so the
// next call retries the full sequence.
func (i *Initializer) EnsureInitialized(ctx context.Context) error {
	if i.done.Load() {
		return nil
	}

	i.mu.Lock()
	defer i.mu.Unlock()
	if i.done.Load() {
		return nil
	}

	start := time.Now()
	logger.L().Info("initializing database schema")
	err := i.db.InTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock($1)", advisoryLockKey); err != nil {
			return fmt.Errorf("acquire schema lock: %w", err)
		}
		for n, stmt := range statements {
			if _, err := tx.Exec(ctx, stmt); err != nil {
				return fmt.Errorf("schema statement %d: %w", n+1, err)
			}
		}
		return nil
	})
	if err != nil {
		logger.L().Error("database schema initialization failed", zap.Error(err))
		return err
	}

	i.done.Store(true)
	logger.L().Info("database schema initialized", zap.Duration("duration", time.Since(start)))
	return nil
}

// Initialized reports whether a run has completed successfully.
func (i *Initializer) Initialized() bool { return i.done.Load() }
