// Package localidp is an in-memory identity provider for development and
// tests. It issues one-time email codes and signs HS256 session tokens.
package localidp

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/ryde/accounts/internal/onboarding"
	"github.com/ryde/accounts/pkg/logger"
)

const (
	codeDigits     = 6
	codeTTL        = 10 * time.Minute
	maxCodeAttempt = 5
	sessionTTL     = 24 * time.Hour
)

// CodeSender delivers a verification code to an email address.
type CodeSender interface {
	SendCode(ctx context.Context, email, code string) error
}

// LogSender writes codes to the application log.
type LogSender struct{}

func (LogSender) SendCode(_ context.Context, email, code string) error {
	logger.L().Info("verification code issued", zap.String("email", email), zap.String("code", code))
	return nil
}

type account struct {
	id           string
	email        string
	passwordHash []byte
}

type pendingSignUp struct {
	email        string
	passwordHash []byte
	code         string
	attempts     int
	expiresAt    time.Time
}

type session struct {
	userID string
	active bool
	token  string
}

// Claims are carried by session tokens.
type Claims struct {
	SessionID string `json:"sid"`
	jwt.RegisteredClaims
}

type Provider struct {
	mu       sync.Mutex
	secret   []byte
	sender   CodeSender
	now      func() time.Time
	accounts map[string]*account
	pending  map[string]*pendingSignUp
	sessions map[string]*session
}

type Option func(*Provider)

func WithClock(now func() time.Time) Option {
	return func(p *Provider) { p.now = now }
}

// New returns a provider signing tokens with secret. A nil sender logs codes.
func New(secret []byte, sender CodeSender, opts ...Option) (*Provider, error) {
	if len(secret) < 16 {
		return nil, errors.New("localidp: session secret must be at least 16 bytes")
	}
	if sender == nil {
		sender = LogSender{}
	}
	p := &Provider{
		secret:   secret,
		sender:   sender,
		now:      time.Now,
		accounts: map[string]*account{},
		pending:  map[string]*pendingSignUp{},
		sessions: map[string]*session{},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

var _ onboarding.IdentityProvider = (*Provider)(nil)

func (p *Provider) StartSignUp(ctx context.Context, email, password string) (string, error) {
	email = normalize(email)
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	code, err := newCode()
	if err != nil {
		return "", err
	}

	p.mu.Lock()
	if _, ok := p.accounts[email]; ok {
		p.mu.Unlock()
		return "", &onboarding.ProviderError{
			Code:        "form_identifier_exists",
			Message:     "That email address is taken.",
			LongMessage: "That email address is taken. Please try another.",
		}
	}
	id := "su_" + uuid.NewString()
	p.pending[id] = &pendingSignUp{
		email:        email,
		passwordHash: hash,
		code:         code,
		expiresAt:    p.now().Add(codeTTL),
	}
	p.mu.Unlock()

	if err := p.sender.SendCode(ctx, email, code); err != nil {
		p.mu.Lock()
		delete(p.pending, id)
		p.mu.Unlock()
		return "", &onboarding.ProviderError{Code: "code_delivery_failed", Message: "Could not send the verification code."}
	}
	return id, nil
}

func (p *Provider) AttemptVerification(_ context.Context, signUpID, code string) (*onboarding.Attempt, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	su, ok := p.pending[signUpID]
	if !ok {
		return nil, &onboarding.ProviderError{Code: "sign_up_not_found", Message: "This sign-up is no longer valid. Please start again.", Terminal: true}
	}
	if p.now().After(su.expiresAt) {
		delete(p.pending, signUpID)
		return nil, &onboarding.ProviderError{Code: "verification_expired", Message: "The verification code has expired. Please start again.", Terminal: true}
	}
	if code != su.code {
		su.attempts++
		if su.attempts >= maxCodeAttempt {
			delete(p.pending, signUpID)
			return nil, &onboarding.ProviderError{Code: "verification_failed", Message: "Too many failed attempts. Please start again.", Terminal: true}
		}
		return nil, &onboarding.ProviderError{Code: "form_code_incorrect", Message: "Incorrect code"}
	}
	if _, taken := p.accounts[su.email]; taken {
		delete(p.pending, signUpID)
		return nil, &onboarding.ProviderError{Code: "form_identifier_exists", Message: "That email address is taken.", Terminal: true}
	}

	delete(p.pending, signUpID)
	acc := &account{id: "user_" + uuid.NewString(), email: su.email, passwordHash: su.passwordHash}
	p.accounts[acc.email] = acc
	return &onboarding.Attempt{Status: onboarding.StatusComplete, SessionID: p.newSessionLocked(acc.id)}, nil
}

func (p *Provider) SignIn(_ context.Context, email, password string) (*onboarding.Attempt, error) {
	p.mu.Lock()
	acc, ok := p.accounts[normalize(email)]
	p.mu.Unlock()
	if !ok {
		return nil, &onboarding.ProviderError{Code: "form_identifier_not_found", Message: "Couldn't find your account."}
	}
	if err := bcrypt.CompareHashAndPassword(acc.passwordHash, []byte(password)); err != nil {
		return nil, &onboarding.ProviderError{
			Code:        "form_password_incorrect",
			Message:     "Password is incorrect.",
			LongMessage: "Password is incorrect. Try again, or use another method.",
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	return &onboarding.Attempt{Status: onboarding.StatusComplete, SessionID: p.newSessionLocked(acc.id)}, nil
}

// SetActive marks the session active and signs its token.
func (p *Provider) SetActive(_ context.Context, sessionID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	s, ok := p.sessions[sessionID]
	if !ok {
		return &onboarding.ProviderError{Code: "session_not_found", Message: "Session not found."}
	}
	now := p.now()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		SessionID: sessionID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   s.userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(sessionTTL)),
		},
	})
	signed, err := tok.SignedString(p.secret)
	if err != nil {
		return fmt.Errorf("sign session token: %w", err)
	}
	s.active = true
	s.token = signed
	return nil
}

// Token returns the signed token of an active session.
func (p *Provider) Token(sessionID string) (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	s, ok := p.sessions[sessionID]
	if !ok || !s.active {
		return "", false
	}
	return s.token, true
}

// ParseToken validates a session token and returns its claims.
func (p *Provider) ParseToken(token string) (*Claims, error) {
	var c Claims
	_, err := jwt.ParseWithClaims(token, &c, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return p.secret, nil
	}, jwt.WithTimeFunc(p.now))
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (p *Provider) newSessionLocked(userID string) string {
	id := "sess_" + uuid.NewString()
	p.sessions[id] = &session{userID: userID}
	return id
}

func newCode() (string, error) {
	limit := big.NewInt(1)
	for i := 0; i < codeDigits; i++ {
		limit.Mul(limit, big.NewInt(10))
	}
	n, err := rand.Int(rand.Reader, limit)
	if err != nil {
		return "", fmt.Errorf("generate code: %w", err)
	}
	return fmt.Sprintf("%0*d", codeDigits, n.Int64()), nil
}

func normalize(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
