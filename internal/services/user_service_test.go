package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/ryde/accounts/internal/models"
	"github.com/ryde/accounts/internal/repository"
	appErr "github.com/ryde/accounts/pkg/errors"
)

type mockSchema struct {
	mock.Mock
}

func (m *mockSchema) EnsureInitialized(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

type mockUserRepository struct {
	mock.Mock
}

func (m *mockUserRepository) FindByEmailOrIdentity(ctx context.Context, email, externalIdentityID string) ([]models.User, error) {
	args := m.Called(ctx, email, externalIdentityID)
	if v := args.Get(0); v != nil {
		return v.([]models.User), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockUserRepository) FindByIdentity(ctx context.Context, externalIdentityID string) ([]models.User, error) {
	args := m.Called(ctx, externalIdentityID)
	if v := args.Get(0); v != nil {
		return v.([]models.User), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockUserRepository) FindByEmail(ctx context.Context, email string) ([]models.User, error) {
	args := m.Called(ctx, email)
	if v := args.Get(0); v != nil {
		return v.([]models.User), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockUserRepository) Insert(ctx context.Context, u repository.NewUser) (*models.User, error) {
	args := m.Called(ctx, u)
	if v := args.Get(0); v != nil {
		return v.(*models.User), args.Error(1)
	}
	return nil, args.Error(1)
}

func ann() models.User {
	now := time.Now()
	return models.User{ID: 7, ExternalIdentityID: "sess_ann", Name: "Ann", Email: "ann@x.com", CreatedAt: now, UpdatedAt: now}
}

func newTestService() (UserService, *mockSchema, *mockUserRepository) {
	schema := &mockSchema{}
	repo := &mockUserRepository{}
	return NewUserService(schema, repo), schema, repo
}

func TestProvisionCreatesNewUser(t *testing.T) {
	svc, schema, repo := newTestService()
	ctx := context.Background()
	u := ann()

	schema.On("EnsureInitialized", ctx).Return(nil)
	repo.On("FindByEmailOrIdentity", ctx, "ann@x.com", "sess_ann").Return([]models.User{}, nil)
	repo.On("Insert", ctx, repository.NewUser{Name: "Ann", Email: "ann@x.com", ExternalIdentityID: "sess_ann"}).Return(&u, nil)

	res, err := svc.Provision(ctx, CreateUserInput{Name: " Ann ", Email: "ann@x.com", ExternalIdentityID: "sess_ann"})
	require.NoError(t, err)
	assert.Equal(t, OutcomeCreated, res.Outcome)
	assert.Equal(t, int64(7), res.User.ID)
	assert.Equal(t, "ann@x.com", res.User.Email)
	assert.Equal(t, "sess_ann", res.User.ExternalIdentityID)
	repo.AssertExpectations(t)
}

func TestProvisionReturnsExistingWithoutInsert(t *testing.T) {
	tests := []struct {
		name  string
		email string
		id    string
	}{
		{name: "same email", email: "ann@x.com", id: "sess_new"},
		{name: "same identity", email: "new@x.com", id: "sess_ann"},
		{name: "both", email: "ann@x.com", id: "sess_ann"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, schema, repo := newTestService()
			ctx := context.Background()
			existing := ann()

			schema.On("EnsureInitialized", ctx).Return(nil)
			repo.On("FindByEmailOrIdentity", ctx, tt.email, tt.id).Return([]models.User{existing}, nil)

			res, err := svc.Provision(ctx, CreateUserInput{Name: "Ann", Email: tt.email, ExternalIdentityID: tt.id})
			require.NoError(t, err)
			assert.Equal(t, OutcomeExisting, res.Outcome)
			assert.Equal(t, existing.ID, res.User.ID)
			repo.AssertNotCalled(t, "Insert", mock.Anything, mock.Anything)
		})
	}
}

func TestProvisionLosingRaceBecomesExisting(t *testing.T) {
	svc, schema, repo := newTestService()
	ctx := context.Background()
	winner := ann()
	dup := appErr.Wrap(errors.New("duplicate key"), appErr.CodeAlreadyExists, "user already exists")

	schema.On("EnsureInitialized", ctx).Return(nil)
	repo.On("FindByEmailOrIdentity", ctx, "ann@x.com", "sess_ann").Return([]models.User{}, nil).Once()
	repo.On("Insert", ctx, mock.Anything).Return(nil, dup)
	repo.On("FindByEmailOrIdentity", ctx, "ann@x.com", "sess_ann").Return([]models.User{winner}, nil).Once()

	res, err := svc.Provision(ctx, CreateUserInput{Name: "Ann", Email: "ann@x.com", ExternalIdentityID: "sess_ann"})
	require.NoError(t, err)
	assert.Equal(t, OutcomeExisting, res.Outcome)
	assert.Equal(t, winner.ID, res.User.ID)
	repo.AssertExpectations(t)
}

func TestProvisionValidation(t *testing.T) {
	tests := []struct {
		name    string
		in      CreateUserInput
		missing []string
	}{
		{name: "no name", in: CreateUserInput{Email: "a@x.com", ExternalIdentityID: "s"}, missing: []string{"name"}},
		{name: "blank email", in: CreateUserInput{Name: "A", Email: "  ", ExternalIdentityID: "s"}, missing: []string{"email"}},
		{name: "no identity", in: CreateUserInput{Name: "A", Email: "a@x.com"}, missing: []string{"externalIdentityId"}},
		{name: "empty", in: CreateUserInput{}, missing: []string{"name", "email", "externalIdentityId"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, schema, repo := newTestService()

			_, err := svc.Provision(context.Background(), tt.in)
			require.Error(t, err)
			assert.True(t, appErr.IsCode(err, appErr.CodeInvalid))
			assert.Equal(t, MsgMissingFields, appErr.MessageOf(err, ""))

			var ae *appErr.AppError
			require.ErrorAs(t, err, &ae)
			assert.Equal(t, tt.missing, ae.Meta["fields"])

			schema.AssertNotCalled(t, "EnsureInitialized", mock.Anything)
			repo.AssertNotCalled(t, "FindByEmailOrIdentity", mock.Anything, mock.Anything, mock.Anything)
		})
	}
}

func TestProvisionSchemaFailureIsInternal(t *testing.T) {
	svc, schema, repo := newTestService()
	ctx := context.Background()

	schema.On("EnsureInitialized", ctx).Return(appErr.New(appErr.CodeInternal, "database operation failed"))

	_, err := svc.Provision(ctx, CreateUserInput{Name: "Ann", Email: "ann@x.com", ExternalIdentityID: "sess_ann"})
	require.Error(t, err)
	assert.True(t, appErr.IsCode(err, appErr.CodeInternal))
	repo.AssertNotCalled(t, "FindByEmailOrIdentity", mock.Anything, mock.Anything, mock.Anything)
}

func TestProvisionInsertFailureIsInternal(t *testing.T) {
	svc, schema, repo := newTestService()
	ctx := context.Background()

	schema.On("EnsureInitialized", ctx).Return(nil)
	repo.On("FindByEmailOrIdentity", ctx, "ann@x.com", "sess_ann").Return([]models.User{}, nil)
	repo.On("Insert", ctx, mock.Anything).Return(nil, appErr.New(appErr.CodeInternal, "database operation failed"))

	_, err := svc.Provision(ctx, CreateUserInput{Name: "Ann", Email: "ann@x.com", ExternalIdentityID: "sess_ann"})
	require.Error(t, err)
	assert.True(t, appErr.IsCode(err, appErr.CodeInternal))
}

func TestLookup(t *testing.T) {
	u := ann()
	ctx := context.Background()

	t.Run("by identity takes precedence", func(t *testing.T) {
		svc, schema, repo := newTestService()
		schema.On("EnsureInitialized", ctx).Return(nil)
		repo.On("FindByIdentity", ctx, "sess_ann").Return([]models.User{u}, nil)

		got, err := svc.Lookup(ctx, LookupInput{ExternalIdentityID: "sess_ann", Email: "ann@x.com"})
		require.NoError(t, err)
		assert.Equal(t, u.ID, got.ID)
		repo.AssertNotCalled(t, "FindByEmail", mock.Anything, mock.Anything)
	})

	t.Run("by email", func(t *testing.T) {
		svc, schema, repo := newTestService()
		schema.On("EnsureInitialized", ctx).Return(nil)
		repo.On("FindByEmail", ctx, "ann@x.com").Return([]models.User{u}, nil)

		got, err := svc.Lookup(ctx, LookupInput{Email: "ann@x.com"})
		require.NoError(t, err)
		assert.Equal(t, u.ID, got.ID)
	})

	t.Run("neither key", func(t *testing.T) {
		svc, schema, _ := newTestService()
		_, err := svc.Lookup(ctx, LookupInput{})
		require.Error(t, err)
		assert.True(t, appErr.IsCode(err, appErr.CodeInvalid))
		schema.AssertNotCalled(t, "EnsureInitialized", mock.Anything)
	})

	t.Run("not found", func(t *testing.T) {
		svc, schema, repo := newTestService()
		schema.On("EnsureInitialized", ctx).Return(nil)
		repo.On("FindByEmail", ctx, "nobody@x.com").Return([]models.User{}, nil)

		_, err := svc.Lookup(ctx, LookupInput{Email: "nobody@x.com"})
		require.Error(t, err)
		assert.True(t, appErr.IsCode(err, appErr.CodeNotFound))
	})

	t.Run("duplicate rows are an invariant violation", func(t *testing.T) {
		svc, schema, repo := newTestService()
		schema.On("EnsureInitialized", ctx).Return(nil)
		repo.On("FindByIdentity", ctx, "sess_ann").Return([]models.User{u, u}, nil)

		_, err := svc.Lookup(ctx, LookupInput{ExternalIdentityID: "sess_ann"})
		require.Error(t, err)
		assert.True(t, appErr.IsCode(err, appErr.CodeInternal))
	})
}
