package onboarding

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/ryde/accounts/internal/services"
	appErr "github.com/ryde/accounts/pkg/errors"
	"github.com/ryde/accounts/pkg/logger"
)

type State string

const (
	StateIdle                 State = "idle"
	StateCredentialsSubmitted State = "credentials_submitted"
	StatePendingChallenge     State = "pending_challenge"
	StateChallengeSubmitted   State = "challenge_submitted"
	StateVerified             State = "verified"
	StateSessionActive        State = "session_active"
	StateFailed               State = "failed"
)

// Messages shown to the user.
const (
	MsgEnterName         = "Please enter your name"
	MsgEnterEmail        = "Please enter your email"
	MsgInvalidEmail      = "Please enter a valid email address"
	MsgEnterPassword     = "Please enter a password"
	MsgEnterYourPassword = "Please enter your password"
	MsgWeakPassword      = "Password must be at least 8 characters long"
	MsgSignUpFailed      = "An error occurred during sign up. Please try again."
	MsgEnterCode         = "Please enter the verification code"
	MsgInvalidCode       = "Invalid verification code. Please try again."
	MsgVerifyIncomplete  = "Please complete the verification process"
	MsgSignInIncomplete  = "Please complete the sign-in process"
	MsgSignInFailed      = "Invalid email or password. Please try again."
)

const MinPasswordLength = 8

var ErrIllegalTransition = errors.New("illegal onboarding transition")

var emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

var transitions = map[State][]State{
	StateIdle:                 {StateCredentialsSubmitted},
	StateCredentialsSubmitted: {StatePendingChallenge, StateVerified, StateFailed},
	StatePendingChallenge:     {StateChallengeSubmitted, StateIdle, StateFailed},
	StateChallengeSubmitted:   {StateVerified, StatePendingChallenge, StateFailed},
	StateVerified:             {StateSessionActive, StateFailed},
	StateFailed:               {StateIdle},
}

// Credentials are the sign-up form fields.
type Credentials struct {
	Name     string
	Email    string
	Password string
}

// Flow drives one user through sign-up or sign-in. Calls are serialized;
// a Flow is not meant to be shared between users.
type Flow struct {
	mu sync.Mutex

	idp   IdentityProvider
	prov  Provisioner
	retry RetryQueue

	state     State
	message   string
	name      string
	email     string
	signUpID  string
	sessionID string
	deferred  bool
}

type Option func(*Flow)

// WithRetryQueue schedules a later provisioning attempt when the one made
// during verification fails.
func WithRetryQueue(q RetryQueue) Option {
	return func(f *Flow) { f.retry = q }
}

func NewFlow(idp IdentityProvider, prov Provisioner, opts ...Option) *Flow {
	f := &Flow{idp: idp, prov: prov, state: StateIdle}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

func (f *Flow) State() State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// Message is the last user-facing message, empty after a clean step.
func (f *Flow) Message() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.message
}

func (f *Flow) SessionID() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sessionID
}

// ProvisioningDeferred reports whether the session was activated without a
// confirmed local user record.
func (f *Flow) ProvisioningDeferred() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.deferred
}

// Reset returns a failed or pending flow to the form. A pending sign-up is
// abandoned.
func (f *Flow) Reset() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.to(StateIdle); err != nil {
		return err
	}
	f.message = ""
	f.signUpID = ""
	return nil
}

// SignUp validates the form locally and asks the provider to send a challenge.
func (f *Flow) SignUp(ctx context.Context, c Credentials) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.restart(); err != nil {
		return err
	}

	if msg := validateSignUp(c); msg != "" {
		return f.reject(msg)
	}
	if err := f.to(StateCredentialsSubmitted); err != nil {
		return err
	}
	f.name = strings.TrimSpace(c.Name)
	f.email = normalizeEmail(c.Email)

	id, err := f.idp.StartSignUp(ctx, f.email, c.Password)
	if err != nil {
		return f.failWith(err, MsgSignUpFailed)
	}
	f.signUpID = id
	f.message = ""
	return f.to(StatePendingChallenge)
}

// Verify submits the challenge code. Wrong or incomplete codes keep the flow
// pending so the user can try again; a terminal provider error fails it.
func (f *Flow) Verify(ctx context.Context, code string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state != StatePendingChallenge {
		return f.illegal(StateChallengeSubmitted)
	}

	code = strings.TrimSpace(code)
	if code == "" {
		return f.reject(MsgEnterCode)
	}
	if err := f.to(StateChallengeSubmitted); err != nil {
		return err
	}

	attempt, err := f.idp.AttemptVerification(ctx, f.signUpID, code)
	if err != nil {
		if isTerminal(err) {
			f.signUpID = ""
			return f.failWith(err, MsgInvalidCode)
		}
		f.state = StatePendingChallenge
		f.message = providerMessage(err, MsgInvalidCode)
		return appErr.Wrap(err, appErr.CodeProviderRejected, f.message)
	}
	if attempt.Status != StatusComplete {
		f.state = StatePendingChallenge
		f.message = MsgVerifyIncomplete
		return appErr.New(appErr.CodeProviderRejected, f.message)
	}
	if err := f.to(StateVerified); err != nil {
		return err
	}
	f.sessionID = attempt.SessionID

	f.provision(ctx)
	return f.activate(ctx, MsgSignUpFailed)
}

// SignIn authenticates an existing user. It never provisions.
func (f *Flow) SignIn(ctx context.Context, email, password string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.restart(); err != nil {
		return err
	}

	if msg := validateSignIn(email, password); msg != "" {
		return f.reject(msg)
	}
	if err := f.to(StateCredentialsSubmitted); err != nil {
		return err
	}
	f.email = normalizeEmail(email)

	attempt, err := f.idp.SignIn(ctx, f.email, password)
	if err != nil {
		return f.failWith(err, MsgSignInFailed)
	}
	if attempt.Status != StatusComplete {
		f.message = MsgSignInIncomplete
		if err := f.to(StateFailed); err != nil {
			return err
		}
		return appErr.New(appErr.CodeProviderRejected, f.message)
	}
	if err := f.to(StateVerified); err != nil {
		return err
	}
	f.sessionID = attempt.SessionID
	return f.activate(ctx, MsgSignInFailed)
}

// provision creates the local record. Failure never blocks the session; the
// request is handed to the retry queue when one is configured.
func (f *Flow) provision(ctx context.Context) {
	in := services.CreateUserInput{Name: f.name, Email: f.email, ExternalIdentityID: f.sessionID}
	outcome, err := f.prov.CreateUser(ctx, in)
	if err == nil {
		logger.L().Info("user provisioned", zap.String("outcome", string(outcome)))
		return
	}

	f.deferred = true
	logger.L().Warn("provisioning failed, activating session anyway",
		zap.String("code", string(appErr.CodeOf(err))),
		zap.Error(err),
	)
	if f.retry == nil {
		return
	}
	if qerr := f.retry.EnqueueProvision(ctx, in); qerr != nil {
		logger.L().Error("enqueue provisioning retry failed", zap.Error(qerr))
	}
}

func (f *Flow) activate(ctx context.Context, fallback string) error {
	if err := f.idp.SetActive(ctx, f.sessionID); err != nil {
		return f.failWith(err, fallback)
	}
	f.message = ""
	return f.to(StateSessionActive)
}

// restart accepts a new form submission from Idle or Failed.
func (f *Flow) restart() error {
	switch f.state {
	case StateIdle:
		return nil
	case StateFailed:
		f.message = ""
		return f.to(StateIdle)
	default:
		return f.illegal(StateCredentialsSubmitted)
	}
}

func (f *Flow) to(next State) error {
	for _, s := range transitions[f.state] {
		if s == next {
			f.state = next
			return nil
		}
	}
	return f.illegal(next)
}

func (f *Flow) illegal(next State) error {
	return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, f.state, next)
}

// reject records a local validation failure without changing state.
func (f *Flow) reject(msg string) error {
	f.message = msg
	return appErr.New(appErr.CodeInvalid, msg)
}

func (f *Flow) failWith(err error, fallback string) error {
	f.message = providerMessage(err, fallback)
	if terr := f.to(StateFailed); terr != nil {
		return terr
	}
	return appErr.Wrap(err, appErr.CodeProviderRejected, f.message)
}

func validateSignUp(c Credentials) string {
	switch {
	case strings.TrimSpace(c.Name) == "":
		return MsgEnterName
	case strings.TrimSpace(c.Email) == "":
		return MsgEnterEmail
	case !emailPattern.MatchString(c.Email):
		return MsgInvalidEmail
	case c.Password == "":
		return MsgEnterPassword
	case len(c.Password) < MinPasswordLength:
		return MsgWeakPassword
	}
	return ""
}

// normalizeEmail is the single form of an address sent to the provider and
// to provisioning.
func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func validateSignIn(email, password string) string {
	switch {
	case strings.TrimSpace(email) == "":
		return MsgEnterEmail
	case !emailPattern.MatchString(email):
		return MsgInvalidEmail
	case password == "":
		return MsgEnterYourPassword
	}
	return ""
}
