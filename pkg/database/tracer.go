package database

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/ryde/accounts/pkg/logger"
)

type traceKey struct{}

type traceStart struct {
	sql   string
	begin time.Time
}

// queryTracer records start/end timing of every statement sent through the pool.
// Errors are logged by the Gateway with request context, so only successes land here.
type queryTracer struct{}

func (queryTracer) TraceQueryStart(ctx context.Context, _ *pgx.Conn, data pgx.TraceQueryStartData) context.Context {
	return context.WithValue(ctx, traceKey{}, traceStart{sql: data.SQL, begin: time.Now()})
}

func (queryTracer) TraceQueryEnd(ctx context.Context, _ *pgx.Conn, data pgx.TraceQueryEndData) {
	if data.Err != nil {
		return
	}
	st, ok := ctx.Value(traceKey{}).(traceStart)
	if !ok {
		return
	}
	logger.L().Debug("executed query",
		zap.String("sql", st.sql),
		zap.Duration("duration", time.Since(st.begin)),
		zap.Int64("rows", data.CommandTag.RowsAffected()),
	)
}
