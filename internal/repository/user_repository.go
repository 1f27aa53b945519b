package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/ryde/accounts/internal/models"
	"github.com/ryde/accounts/pkg/database"
	appErr "github.com/ryde/accounts/pkg/errors"
)

const userColumns = `id, external_identity_id, name, email, profile_image_url, created_at, updated_at`

// NewUser carries the fields a caller may set when inserting a user.
type NewUser struct {
	Name               string
	Email              string
	ExternalIdentityID string
	ProfileImageURL    *string
}

// UserRepository reads and writes the users table. Lookups return every
// matching row so callers can detect invariant violations themselves.
type UserRepository interface {
	FindByEmailOrIdentity(ctx context.Context, email, externalIdentityID string) ([]models.User, error)
	FindByIdentity(ctx context.Context, externalIdentityID string) ([]models.User, error)
	FindByEmail(ctx context.Context, email string) ([]models.User, error)
	// Insert creates a user in a single statement. A collision on either
	// unique column returns an AppError with CodeAlreadyExists.
	Insert(ctx context.Context, u NewUser) (*models.User, error)
}

type userRepository struct {
	base baseRepository[models.User]
}

func NewUserRepository(db *database.Gateway) UserRepository {
	return &userRepository{base: newBaseRepository[models.User](db)}
}

func (r *userRepository) FindByEmailOrIdentity(ctx context.Context, email, externalIdentityID string) ([]models.User, error) {
	return r.base.many(ctx,
		`SELECT `+userColumns+` FROM users WHERE email = $1 OR external_identity_id = $2 ORDER BY id`,
		email, externalIdentityID)
}

func (r *userRepository) FindByIdentity(ctx context.Context, externalIdentityID string) ([]models.User, error) {
	return r.base.many(ctx,
		`SELECT `+userColumns+` FROM users WHERE external_identity_id = $1`,
		externalIdentityID)
}

func (r *userRepository) FindByEmail(ctx context.Context, email string) ([]models.User, error) {
	return r.base.many(ctx,
		`SELECT `+userColumns+` FROM users WHERE email = $1`,
		email)
}

func (r *userRepository) Insert(ctx context.Context, u NewUser) (*models.User, error) {
	created, err := r.base.one(ctx,
		`INSERT INTO users (name, email, external_identity_id, profile_image_url, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, NOW(), NOW())
		 RETURNING `+userColumns,
		u.Name, u.Email, u.ExternalIdentityID, u.ProfileImageURL)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return nil, appErr.Wrap(err, appErr.CodeAlreadyExists, "user already exists").
				WithMeta("constraint", pgErr.ConstraintName)
		}
		return nil, err
	}
	return created, nil
}
