package localidp

import (
	"context"

	"github.com/ryde/accounts/internal/services"
)

type provisionerFunc func(ctx context.Context) error

func (f provisionerFunc) CreateUser(ctx context.Context, _ services.CreateUserInput) (services.Outcome, error) {
	if err := f(ctx); err != nil {
		return "", err
	}
	return services.OutcomeCreated, nil
}
