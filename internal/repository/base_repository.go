package repository

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/ryde/accounts/pkg/database"
	appErr "github.com/ryde/accounts/pkg/errors"
)

// baseRepository holds the query plumbing shared by table repositories.
// Rows are scanned into T by column name, so T needs matching db tags.
type baseRepository[T any] struct {
	db *database.Gateway
}

func newBaseRepository[T any](db *database.Gateway) baseRepository[T] {
	return baseRepository[T]{db: db}
}

// many returns every row produced by sql in server order.
func (r baseRepository[T]) many(ctx context.Context, sql string, args ...any) ([]T, error) {
	res, err := database.Query(ctx, r.db, pgx.RowToStructByName[T], sql, args...)
	if err != nil {
		return nil, err
	}
	return res.Rows, nil
}

// one returns the single row produced by a RETURNING statement.
func (r baseRepository[T]) one(ctx context.Context, sql string, args ...any) (*T, error) {
	res, err := database.Query(ctx, r.db, pgx.RowToAddrOfStructByName[T], sql, args...)
	if err != nil {
		return nil, err
	}
	if len(res.Rows) != 1 {
		return nil, appErr.Wrap(pgx.ErrNoRows, appErr.CodeInternal, "expected exactly one row").
			WithMeta("rows", len(res.Rows))
	}
	return res.Rows[0], nil
}
