// Package auth implements dashboard accounts: registration and login with
// bcrypt password hashes in SQLite, HS256 session tokens, and logout by
// revoking the token's jti.
package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"
)

// Password length bounds in bytes. bcrypt reads at most 72 bytes.
const (
	MinPasswordLength = 8
	MaxPasswordLength = 72
)

var attemptsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "plantwatch_auth_attempts_total",
	Help: "Authentication operations by result",
}, []string{"operation", "result"}) // operation: register, login, authenticate, logout

// Session is the result of a successful register or login.
type Session struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	User      *User     `json:"user"`
}

// Service ties the user store and the token issuer together.
type Service struct {
	store  *Store
	issuer *Issuer
	cost   int
	logger zerolog.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithBcryptCost overrides bcrypt.DefaultCost.
func WithBcryptCost(cost int) Option {
	return func(s *Service) { s.cost = cost }
}

// WithLogger sets the logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

// NewService creates an auth service.
func NewService(store *Store, issuer *Issuer, opts ...Option) *Service {
	if store == nil || issuer == nil {
		panic("auth service needs a store and an issuer")
	}
	s := &Service{
		store:  store,
		issuer: issuer,
		cost:   bcrypt.DefaultCost,
		logger: zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Store returns the underlying user store.
func (s *Service) Store() *Store {
	return s.store
}

// NormalizeEmail trims and lower-cases an address and checks its shape.
func NormalizeEmail(email string) (string, error) {
	e := strings.ToLower(strings.TrimSpace(email))
	at := strings.LastIndex(e, "@")
	if at <= 0 || at == len(e)-1 || strings.ContainsAny(e, " \t\r\n") {
		return "", ErrInvalidEmail
	}
	return e, nil
}

// Register creates a user and logs it in.
func (s *Service) Register(ctx context.Context, email, name, password string) (*Session, error) {
	email, err := NormalizeEmail(email)
	if err != nil {
		attemptsTotal.WithLabelValues("register", "invalid").Inc()
		return nil, err
	}
	if len(password) < MinPasswordLength {
		attemptsTotal.WithLabelValues("register", "invalid").Inc()
		return nil, ErrWeakPassword
	}
	if len(password) > MaxPasswordLength {
		attemptsTotal.WithLabelValues("register", "invalid").Inc()
		return nil, ErrPasswordTooLong
	}
	name = strings.TrimSpace(name)
	if name == "" {
		name = email[:strings.Index(email, "@")]
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	u := &User{
		ID:           uuid.NewString(),
		Email:        email,
		Name:         name,
		PasswordHash: string(hash),
		CreatedAt:    time.Now().UTC().Truncate(time.Second),
	}
	if err := s.store.CreateUser(ctx, u); err != nil {
		if errors.Is(err, ErrEmailTaken) {
			attemptsTotal.WithLabelValues("register", "conflict").Inc()
		}
		return nil, err
	}

	attemptsTotal.WithLabelValues("register", "success").Inc()
	s.logger.Info().Str("user_id", u.ID).Msg("User registered")
	return s.session(u)
}

// Login checks credentials and issues a token.
func (s *Service) Login(ctx context.Context, email, password string) (*Session, error) {
	email, err := NormalizeEmail(email)
	if err != nil {
		attemptsTotal.WithLabelValues("login", "failure").Inc()
		return nil, ErrInvalidCredentials
	}

	u, err := s.store.UserByEmail(ctx, email)
	if errors.Is(err, ErrUserNotFound) {
		attemptsTotal.WithLabelValues("login", "failure").Inc()
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)); err != nil {
		attemptsTotal.WithLabelValues("login", "failure").Inc()
		s.logger.Debug().Str("user_id", u.ID).Msg("Login rejected")
		return nil, ErrInvalidCredentials
	}

	attemptsTotal.WithLabelValues("login", "success").Inc()
	return s.session(u)
}

func (s *Service) session(u *User) (*Session, error) {
	token, claims, err := s.issuer.Issue(u)
	if err != nil {
		return nil, err
	}
	return &Session{Token: token, ExpiresAt: claims.ExpiresAt.Time, User: u}, nil
}

// Authenticate verifies token and checks it has not been revoked.
func (s *Service) Authenticate(ctx context.Context, token string) (*Claims, error) {
	claims, err := s.issuer.Parse(token)
	if err != nil {
		attemptsTotal.WithLabelValues("authenticate", "invalid").Inc()
		return nil, err
	}

	revoked, err := s.store.IsRevoked(ctx, claims.ID)
	if err != nil {
		return nil, err
	}
	if revoked {
		attemptsTotal.WithLabelValues("authenticate", "revoked").Inc()
		return nil, ErrTokenRevoked
	}
	return claims, nil
}

// Logout revokes token until it would have expired anyway. Returns the
// revoked claims so callers can release per-session state.
func (s *Service) Logout(ctx context.Context, token string) (*Claims, error) {
	claims, err := s.Authenticate(ctx, token)
	if err != nil {
		return nil, err
	}
	if err := s.store.RevokeToken(ctx, claims.ID, claims.ExpiresAt.Time); err != nil {
		return nil, err
	}

	attemptsTotal.WithLabelValues("logout", "success").Inc()
	s.logger.Info().Str("user_id", claims.Subject).Msg("User logged out")

	if n, err := s.store.PurgeRevoked(ctx, time.Now()); err != nil {
		s.logger.Warn().Err(err).Msg("Failed to purge expired revocations")
	} else if n > 0 {
		s.logger.Debug().Int64("purged", n).Msg("Purged expired revocations")
	}
	return claims, nil
}

// User returns the user with id.
func (s *Service) User(ctx context.Context, id string) (*User, error) {
	return s.store.UserByID(ctx, id)
}
