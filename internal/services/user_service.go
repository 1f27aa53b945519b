package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/ryde/accounts/internal/models"
	"github.com/ryde/accounts/internal/repository"
	appErr "github.com/ryde/accounts/pkg/errors"
	"github.com/ryde/accounts/pkg/logger"
)

// Public messages returned by the provisioning endpoint.
const (
	MsgMissingFields    = "Missing required fields: name, email, externalIdentityId"
	MsgMissingLookupKey = "Missing required query parameter: clerkId or email"
	MsgUserNotFound     = "User not found"
	MsgUserExists       = "User already exists"
)

// Outcome distinguishes a freshly created user from one that was already provisioned.
type Outcome string

const (
	OutcomeCreated  Outcome = "created"
	OutcomeExisting Outcome = "existing"
)

type CreateUserInput struct {
	Name               string  `json:"name" validate:"required"`
	Email              string  `json:"email" validate:"required"`
	ExternalIdentityID string  `json:"externalIdentityId" validate:"required"`
	ProfileImageURL    *string `json:"profileImageUrl,omitempty"`
}

// LookupInput selects a user by identity id or, failing that, by email.
type LookupInput struct {
	ExternalIdentityID string
	Email              string
}

// ProvisionResult is the create-or-get result. Existing carries the record
// that was already stored.
type ProvisionResult struct {
	User    *models.User
	Outcome Outcome
}

// SchemaInitializer makes sure the users table exists before it is used.
type SchemaInitializer interface {
	EnsureInitialized(ctx context.Context) error
}

type UserService interface {
	Provision(ctx context.Context, in CreateUserInput) (*ProvisionResult, error)
	Lookup(ctx context.Context, in LookupInput) (*models.User, error)
}

type userService struct {
	schema   SchemaInitializer
	users    repository.UserRepository
	validate *validator.Validate
}

func NewUserService(schema SchemaInitializer, users repository.UserRepository) UserService {
	return &userService{
		schema:   schema,
		users:    users,
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
}

var _ UserService = (*userService)(nil)

func (s *userService) Provision(ctx context.Context, in CreateUserInput) (*ProvisionResult, error) {
	in.Name = strings.TrimSpace(in.Name)
	in.Email = strings.TrimSpace(in.Email)
	in.ExternalIdentityID = strings.TrimSpace(in.ExternalIdentityID)

	if err := s.validate.Struct(in); err != nil {
		return nil, appErr.New(appErr.CodeInvalid, MsgMissingFields).WithMeta("fields", missingFields(err))
	}

	if err := s.schema.EnsureInitialized(ctx); err != nil {
		return nil, fmt.Errorf("ensure schema: %w", err)
	}

	logger.L().Info("provision user",
		zap.String("external_identity_id", in.ExternalIdentityID),
		zap.String("email", in.Email),
	)

	existing, err := s.users.FindByEmailOrIdentity(ctx, in.Email, in.ExternalIdentityID)
	if err != nil {
		return nil, fmt.Errorf("find existing user: %w", err)
	}
	if len(existing) > 0 {
		if len(existing) > 1 {
			logger.L().Warn("email and identity id belong to different users",
				zap.String("external_identity_id", in.ExternalIdentityID),
				zap.String("email", in.Email),
			)
		}
		return &ProvisionResult{User: &existing[0], Outcome: OutcomeExisting}, nil
	}

	created, err := s.users.Insert(ctx, repository.NewUser{
		Name:               in.Name,
		Email:              in.Email,
		ExternalIdentityID: in.ExternalIdentityID,
		ProfileImageURL:    in.ProfileImageURL,
	})
	if err == nil {
		logger.L().Info("user provisioned", zap.Int64("user_id", created.ID))
		return &ProvisionResult{User: created, Outcome: OutcomeCreated}, nil
	}
	if !appErr.IsCode(err, appErr.CodeAlreadyExists) {
		return nil, fmt.Errorf("insert user: %w", err)
	}

	// A concurrent request committed first; the constraint is authoritative.
	winner, ferr := s.users.FindByEmailOrIdentity(ctx, in.Email, in.ExternalIdentityID)
	if ferr != nil {
		return nil, fmt.Errorf("reload conflicting user: %w", ferr)
	}
	if len(winner) == 0 {
		return nil, appErr.Wrap(err, appErr.CodeInternal, "conflicting user vanished")
	}
	logger.L().Info("user provisioned concurrently", zap.Int64("user_id", winner[0].ID))
	return &ProvisionResult{User: &winner[0], Outcome: OutcomeExisting}, nil
}

func (s *userService) Lookup(ctx context.Context, in LookupInput) (*models.User, error) {
	id := strings.TrimSpace(in.ExternalIdentityID)
	email := strings.TrimSpace(in.Email)
	if id == "" && email == "" {
		return nil, appErr.New(appErr.CodeInvalid, MsgMissingLookupKey)
	}

	if err := s.schema.EnsureInitialized(ctx); err != nil {
		return nil, fmt.Errorf("ensure schema: %w", err)
	}

	var (
		rows []models.User
		err  error
	)
	if id != "" {
		rows, err = s.users.FindByIdentity(ctx, id)
	} else {
		rows, err = s.users.FindByEmail(ctx, email)
	}
	if err != nil {
		return nil, fmt.Errorf("lookup user: %w", err)
	}

	switch len(rows) {
	case 0:
		return nil, appErr.New(appErr.CodeNotFound, MsgUserNotFound)
	case 1:
		return &rows[0], nil
	default:
		logger.L().Error("uniqueness invariant violated",
			zap.String("external_identity_id", id),
			zap.String("email", email),
			zap.Int("rows", len(rows)),
		)
		return nil, appErr.New(appErr.CodeInternal, "multiple users match a unique key").WithMeta("rows", len(rows))
	}
}

// missingFields lists the JSON names of fields that failed validation.
func missingFields(err error) []string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return nil
	}
	names := map[string]string{
		"Name":               "name",
		"Email":              "email",
		"ExternalIdentityID": "externalIdentityId",
	}
	out := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		if n, ok := names[fe.Field()]; ok {
			out = append(out, n)
			continue
		}
		out = append(out, fe.Field())
	}
	return out
}
