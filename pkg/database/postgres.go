package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	appErr "github.com/ryde/accounts/pkg/errors"
	"github.com/ryde/accounts/pkg/logger"
)

// PoolConfig is the fixed pool policy applied to every Gateway.
type PoolConfig struct {
	DSN            string
	MaxConns       int32
	IdleTimeout    time.Duration
	AcquireTimeout time.Duration
}

// DefaultPoolConfig returns the production pool policy for dsn.
func DefaultPoolConfig(dsn string) PoolConfig {
	return PoolConfig{
		DSN:            dsn,
		MaxConns:       20,
		IdleTimeout:    30 * time.Second,
		AcquireTimeout: 2 * time.Second,
	}
}

// Gateway wraps all database access behind a bounded pgx pool. Each call
// acquires a connection, uses it and releases it; nothing is held across calls.
type Gateway struct {
	pool           *pgxpool.Pool
	acquireTimeout time.Duration
	onFatal        func(error)
}

// Option customizes a Gateway.
type Option func(*Gateway)

// WithFatalHandler replaces the handler invoked when the pool is found
// unusable. The default logs at fatal level, which terminates the process.
func WithFatalHandler(fn func(error)) Option {
	return func(g *Gateway) { g.onFatal = fn }
}

// OpenPostgres opens a pgx pool with retry and the configured pool policy.
func OpenPostgres(ctx context.Context, pc PoolConfig, opts ...Option) (*Gateway, error) {
	poolCfg, err := pgxpool.ParseConfig(pc.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	if pc.MaxConns > 0 {
		poolCfg.MaxConns = pc.MaxConns
	}
	if pc.IdleTimeout > 0 {
		poolCfg.MaxConnIdleTime = pc.IdleTimeout
	}
	if pc.AcquireTimeout > 0 {
		poolCfg.ConnConfig.ConnectTimeout = pc.AcquireTimeout
	}
	poolCfg.ConnConfig.Tracer = queryTracer{}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	g := &Gateway{
		pool:           pool,
		acquireTimeout: pc.AcquireTimeout,
		onFatal: func(err error) {
			logger.L().Fatal("unexpected error on idle database connection", zap.Error(err))
		},
	}
	for _, opt := range opts {
		opt(g)
	}
	if g.acquireTimeout <= 0 {
		g.acquireTimeout = DefaultPoolConfig("").AcquireTimeout
	}

	b := backoff{
		maxRetries: 5,
		delay:      500 * time.Millisecond,
		maxDelay:   5 * time.Second,
	}

	for attempt := 0; ; attempt++ {
		ctxPing, cancel := context.WithTimeout(ctx, 5*time.Second)
		err = pool.Ping(ctxPing)
		cancel()
		if err == nil {
			break
		}
		if attempt >= b.maxRetries {
			pool.Close()
			return nil, fmt.Errorf("open postgres failed after retries: %w", err)
		}
		logger.L().Warn("database not ready, retrying", zap.Int("attempt", attempt+1), zap.Error(err))
		select {
		case <-ctx.Done():
			pool.Close()
			return nil, fmt.Errorf("open postgres canceled: %w", ctx.Err())
		case <-time.After(b.nextDelay(attempt)):
		}
	}

	logger.L().Info("connected to postgres",
		zap.Int32("max_conns", poolCfg.MaxConns),
		zap.Duration("idle_timeout", poolCfg.MaxConnIdleTime),
		zap.Duration("acquire_timeout", g.acquireTimeout),
	)
	return g, nil
}

// Result is the ordered row set of a query plus the row count reported by the server.
type Result[T any] struct {
	Rows     []T
	RowCount int64
}

// Query runs a parameterized statement and scans every row with scan.
func Query[T any](ctx context.Context, g *Gateway, scan pgx.RowToFunc[T], sql string, args ...any) (*Result[T], error) {
	start := time.Now()
	conn, err := g.acquire(ctx)
	if err != nil {
		return nil, g.fail(err, sql, start)
	}
	defer conn.Release()

	rows, err := conn.Query(ctx, sql, args...)
	if err != nil {
		return nil, g.fail(err, sql, start)
	}
	out, err := pgx.CollectRows(rows, scan)
	if err != nil {
		return nil, g.fail(err, sql, start)
	}
	return &Result[T]{Rows: out, RowCount: rows.CommandTag().RowsAffected()}, nil
}

// Exec runs a statement that returns no rows and reports the affected row count.
func (g *Gateway) Exec(ctx context.Context, sql string, args ...any) (int64, error) {
	start := time.Now()
	conn, err := g.acquire(ctx)
	if err != nil {
		return 0, g.fail(err, sql, start)
	}
	defer conn.Release()

	tag, err := conn.Exec(ctx, sql, args...)
	if err != nil {
		return 0, g.fail(err, sql, start)
	}
	return tag.RowsAffected(), nil
}

// InTx runs fn in a single transaction on one pooled connection. The
// transaction commits when fn returns nil and rolls back otherwise.
func (g *Gateway) InTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	start := time.Now()
	conn, err := g.acquire(ctx)
	if err != nil {
		return g.fail(err, "BEGIN", start)
	}
	defer conn.Release()

	if err := pgx.BeginFunc(ctx, conn, fn); err != nil {
		return g.fail(err, "transaction", start)
	}
	return nil
}

// Ping checks that a connection can be acquired and used.
func (g *Gateway) Ping(ctx context.Context) error {
	start := time.Now()
	conn, err := g.acquire(ctx)
	if err != nil {
		return g.fail(err, "ping", start)
	}
	defer conn.Release()
	if err := conn.Ping(ctx); err != nil {
		return g.fail(err, "ping", start)
	}
	return nil
}

// Watch pings the pool every interval until ctx is done. A connection that
// cannot be established or that fails its ping is treated as fatal for the
// process. A busy pool is not.
func (g *Gateway) Watch(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}

		acquireCtx, cancel := context.WithTimeout(ctx, interval)
		conn, err := g.pool.Acquire(acquireCtx)
		if err == nil {
			err = conn.Ping(acquireCtx)
			conn.Release()
		}
		cancel()

		switch {
		case err == nil:
		case ctx.Err() != nil:
			return
		case errors.Is(err, context.DeadlineExceeded):
			logger.L().Warn("database watchdog could not acquire a connection", zap.Duration("waited", interval))
		default:
			g.onFatal(err)
			return
		}
	}
}

// PoolStats is a snapshot of pool counters.
type PoolStats struct {
	MaxConns      int32 `json:"max_conns"`
	TotalConns    int32 `json:"total_conns"`
	IdleConns     int32 `json:"idle_conns"`
	AcquiredConns int32 `json:"acquired_conns"`
}

// Stats reports pool counters for readiness.
func (g *Gateway) Stats() PoolStats {
	st := g.pool.Stat()
	return PoolStats{
		MaxConns:      st.MaxConns(),
		TotalConns:    st.TotalConns(),
		IdleConns:     st.IdleConns(),
		AcquiredConns: st.AcquiredConns(),
	}
}

// Close closes all pool connections.
func (g *Gateway) Close() { g.pool.Close() }

func (g *Gateway) acquire(ctx context.Context) (*pgxpool.Conn, error) {
	acquireCtx, cancel := context.WithTimeout(ctx, g.acquireTimeout)
	defer cancel()
	conn, err := g.pool.Acquire(acquireCtx)
	if err != nil {
		if ctx.Err() == nil && errors.Is(err, context.DeadlineExceeded) {
			return nil, appErr.Wrap(err, appErr.CodeUnavailable, "database connection pool exhausted")
		}
		return nil, err
	}
	return conn, nil
}

func (g *Gateway) fail(err error, sql string, start time.Time) error {
	logger.L().Error("database query error",
		zap.String("sql", sql),
		zap.Duration("duration", time.Since(start)),
		zap.Error(err),
	)
	var ae *appErr.AppError
	if errors.As(err, &ae) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return appErr.Wrap(err, appErr.CodeDeadline, "database operation timed out")
	}
	return appErr.Wrap(err, appErr.CodeInternal, "database operation failed")
}

type backoff struct {
	maxRetries int
	delay      time.Duration
	maxDelay   time.Duration
}

func (b backoff) nextDelay(attempt int) time.Duration {
	d := b.delay << attempt
	if d > b.maxDelay {
		return b.maxDelay
	}
	return d
}
