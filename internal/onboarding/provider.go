package onboarding

import (
	"context"
	"errors"
	"fmt"

	"github.com/ryde/accounts/internal/services"
)

// AttemptStatus is the provider's verdict on a verification or sign-in attempt.
type AttemptStatus string

const (
	StatusComplete            AttemptStatus = "complete"
	StatusMissingRequirements AttemptStatus = "missing_requirements"
)

// Attempt is the provider's answer to a verification or sign-in step.
// SessionID is only set once Status is complete.
type Attempt struct {
	Status    AttemptStatus
	SessionID string
}

// IdentityProvider authenticates credentials, issues a one-time challenge
// and owns sessions.
type IdentityProvider interface {
	// StartSignUp registers the credentials and sends a challenge code.
	// It returns a handle for the pending sign-up.
	StartSignUp(ctx context.Context, email, password string) (string, error)
	AttemptVerification(ctx context.Context, signUpID, code string) (*Attempt, error)
	SignIn(ctx context.Context, email, password string) (*Attempt, error)
	SetActive(ctx context.Context, sessionID string) error
}

// Provisioner creates the local user record for a verified identity.
type Provisioner interface {
	CreateUser(ctx context.Context, in services.CreateUserInput) (services.Outcome, error)
}

// RetryQueue schedules provisioning to run again later.
type RetryQueue interface {
	EnqueueProvision(ctx context.Context, in services.CreateUserInput) error
}

// ProviderError is a failure reported by the identity provider. LongMessage
// is preferred over Message when shown to the user. Terminal marks a pending
// sign-up the provider has discarded; retrying the code cannot succeed.
type ProviderError struct {
	Code        string
	Message     string
	LongMessage string
	Terminal    bool
}

func (e *ProviderError) Error() string {
	if e.Code == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func isTerminal(err error) bool {
	var pe *ProviderError
	return errors.As(err, &pe) && pe.Terminal
}

// providerMessage picks the user-facing text for err.
func providerMessage(err error, fallback string) string {
	var pe *ProviderError
	if errors.As(err, &pe) {
		if pe.LongMessage != "" {
			return pe.LongMessage
		}
		if pe.Message != "" {
			return pe.Message
		}
	}
	return fallback
}
