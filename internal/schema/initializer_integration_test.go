package schema_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ryde/accounts/internal/schema"
	"github.com/ryde/accounts/pkg/database"
	"github.com/ryde/accounts/pkg/database/databasetest"
)

func countOf(t *testing.T, g *database.Gateway, sql string) int64 {
	t.Helper()
	res, err := database.Query(context.Background(), g, pgx.RowTo[int64], sql)
	require.NoError(t, err)
	require.Len(t, res.Rows, 1)
	return res.Rows[0]
}

func TestSchemaIdempotentAcrossProcesses(t *testing.T) {
	dsn := databasetest.StartPostgres(t)
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	g, err := database.OpenPostgres(ctx, database.DefaultPoolConfig(dsn))
	require.NoError(t, err)
	defer g.Close()

	// Separate initializers stand in for separate processes, each with its own flag.
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			initr := schema.NewInitializer(g)
			for j := 0; j < 3; j++ {
				assert.NoError(t, initr.EnsureInitialized(ctx))
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(1), countOf(t, g, `SELECT count(*) FROM pg_tables WHERE tablename = 'users'`))
	assert.Equal(t, int64(1), countOf(t, g, `SELECT count(*) FROM pg_indexes WHERE indexname = 'idx_users_external_identity_id'`))
	assert.Equal(t, int64(1), countOf(t, g, `SELECT count(*) FROM pg_indexes WHERE indexname = 'idx_users_email'`))
	assert.Equal(t, int64(1), countOf(t, g, `SELECT count(*) FROM pg_trigger WHERE tgname = 'update_users_updated_at'`))
}

func TestUpdatedAtTrigger(t *testing.T) {
	dsn := databasetest.StartPostgres(t)
	ctx := context.Background()

	g, err := database.OpenPostgres(ctx, database.DefaultPoolConfig(dsn))
	require.NoError(t, err)
	defer g.Close()
	require.NoError(t, schema.NewInitializer(g).EnsureInitialized(ctx))

	_, err = g.Exec(ctx, `INSERT INTO users (external_identity_id, name, email, created_at, updated_at)
		VALUES ('sess_1', 'Ann', 'ann@x.com', NOW() - INTERVAL '1 hour', NOW() - INTERVAL '1 hour')`)
	require.NoError(t, err)
	_, err = g.Exec(ctx, `UPDATE users SET name = 'Ann B' WHERE external_identity_id = 'sess_1'`)
	require.NoError(t, err)

	assert.Equal(t, int64(1), countOf(t, g,
		`SELECT count(*) FROM users WHERE external_identity_id = 'sess_1' AND updated_at > created_at + INTERVAL '30 minutes'`))
}
