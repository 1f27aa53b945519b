package repository_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ryde/accounts/internal/repository"
	"github.com/ryde/accounts/internal/schema"
	"github.com/ryde/accounts/pkg/database"
	"github.com/ryde/accounts/pkg/database/databasetest"
	appErr "github.com/ryde/accounts/pkg/errors"
)

func newRepo(t *testing.T) repository.UserRepository {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	g, err := database.OpenPostgres(ctx, database.DefaultPoolConfig(databasetest.StartPostgres(t)))
	require.NoError(t, err)
	t.Cleanup(g.Close)
	require.NoError(t, schema.NewInitializer(g).EnsureInitialized(ctx))
	return repository.NewUserRepository(g)
}

func TestInsertAndFind(t *testing.T) {
	repo := newRepo(t)
	ctx := context.Background()

	u, err := repo.Insert(ctx, repository.NewUser{Name: "Ann", Email: "ann@x.com", ExternalIdentityID: "sess_ann"})
	require.NoError(t, err)
	assert.NotZero(t, u.ID)
	assert.Equal(t, "ann@x.com", u.Email)
	assert.Equal(t, "sess_ann", u.ExternalIdentityID)
	assert.Nil(t, u.ProfileImageURL)
	assert.False(t, u.CreatedAt.IsZero())

	byID, err := repo.FindByIdentity(ctx, "sess_ann")
	require.NoError(t, err)
	require.Len(t, byID, 1)
	assert.Equal(t, u.ID, byID[0].ID)

	byEmail, err := repo.FindByEmail(ctx, "ann@x.com")
	require.NoError(t, err)
	require.Len(t, byEmail, 1)
	assert.Equal(t, u.ID, byEmail[0].ID)

	either, err := repo.FindByEmailOrIdentity(ctx, "other@x.com", "sess_ann")
	require.NoError(t, err)
	require.Len(t, either, 1)

	none, err := repo.FindByEmail(ctx, "nobody@x.com")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestInsertCollisionOnEitherKey(t *testing.T) {
	repo := newRepo(t)
	ctx := context.Background()

	_, err := repo.Insert(ctx, repository.NewUser{Name: "Ann", Email: "ann@x.com", ExternalIdentityID: "sess_ann"})
	require.NoError(t, err)

	tests := []struct {
		name string
		in   repository.NewUser
	}{
		{name: "same email", in: repository.NewUser{Name: "A", Email: "ann@x.com", ExternalIdentityID: "sess_other"}},
		{name: "same identity", in: repository.NewUser{Name: "A", Email: "other@x.com", ExternalIdentityID: "sess_ann"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := repo.Insert(ctx, tt.in)
			require.Error(t, err)
			assert.True(t, appErr.IsCode(err, appErr.CodeAlreadyExists))
		})
	}
}

func TestConcurrentInsertsSameIdentity(t *testing.T) {
	repo := newRepo(t)
	ctx := context.Background()

	const n = 10
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = repo.Insert(ctx, repository.NewUser{
				Name:               "Racer",
				Email:              fmt.Sprintf("racer%d@x.com", i),
				ExternalIdentityID: "sess_race",
			})
		}(i)
	}
	wg.Wait()

	var ok, dup int
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case appErr.IsCode(err, appErr.CodeAlreadyExists):
			dup++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, n-1, dup)

	rows, err := repo.FindByIdentity(ctx, "sess_race")
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}
