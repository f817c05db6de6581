package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"license-sso/internal/directory"
	"license-sso/internal/observability"
)

const (
	defaultAccessTTL   = 15 * time.Minute
	defaultMaxAttempts = 5
	defaultLockWindow  = 15 * time.Minute
)

type AttemptRecorder interface {
	RegisterFailedAttempt(ctx context.Context, key string, maxAttempts int, lockDuration time.Duration, now time.Time) (*time.Time, error)
	ResetLoginAttempt(ctx context.Context, key string) error
}

// Service drives the login pipeline and issues session tokens for the users
// it accepts.
type Service struct {
	pipeline     *Pipeline
	attempts     AttemptRecorder
	logger       *observability.Logger
	jwtSecret    []byte
	accessTTL    time.Duration
	maxAttempts  int
	lockDuration time.Duration
}

func NewService(pipeline *Pipeline, attempts AttemptRecorder, jwtSecret string, logger *observability.Logger) *Service {
	return &Service{
		pipeline:     pipeline,
		attempts:     attempts,
		logger:       logger,
		jwtSecret:    []byte(jwtSecret),
		accessTTL:    defaultAccessTTL,
		maxAttempts:  defaultMaxAttempts,
		lockDuration: defaultLockWindow,
	}
}

func (s *Service) WithSecurityConfig(maxAttempts int, lockDuration time.Duration, accessTTL time.Duration) {
	if maxAttempts > 0 {
		s.maxAttempts = maxAttempts
	}
	if lockDuration > 0 {
		s.lockDuration = lockDuration
	}
	if accessTTL > 0 {
		s.accessTTL = accessTTL
	}
}

// Login runs the pipeline for login (a username or an email address) and
// returns a session, a *LoginError or ErrLoginLocked.
func (s *Service) Login(ctx context.Context, login, password string) (Session, error) {
	result := s.pipeline.Authenticate(ctx, login, password)
	key := attemptKey(login)
	now := time.Now().UTC()

	if result.Authenticated() {
		if err := s.attempts.ResetLoginAttempt(ctx, key); err != nil {
			return Session{}, err
		}
		return s.issueSession(*result.User)
	}

	loginErr := result.Err
	if loginErr == nil {
		loginErr = &LoginError{Code: CodeAuthenticationFailed, Message: "invalid credentials"}
	}

	if loginErr.Code == CodeLoginLocked {
		return Session{}, ErrLoginLocked{Until: loginErr.LockedUntil}
	}

	if key != "" && countsAsFailure(loginErr.Code) {
		lockedUntil, err := s.attempts.RegisterFailedAttempt(ctx, key, s.maxAttempts, s.lockDuration, now)
		if err != nil {
			return Session{}, err
		}
		if lockedUntil != nil {
			return Session{}, ErrLoginLocked{Until: *lockedUntil}
		}
	}

	return Session{}, loginErr
}

func (s *Service) Logout(ctx context.Context, userID string) error {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return ErrInvalidCredentials
	}
	if err := s.pipeline.Logout(ctx, userID); err != nil {
		return fmt.Errorf("run logout hooks: %w", err)
	}
	return nil
}

func (s *Service) issueSession(user directory.User) (Session, error) {
	now := time.Now().UTC()
	claims := jwt.MapClaims{
		"sub": user.ID,
		"iat": now.Unix(),
		"exp": now.Add(s.accessTTL).Unix(),
		"typ": "access",
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	encoded, err := token.SignedString(s.jwtSecret)
	if err != nil {
		return Session{}, fmt.Errorf("sign jwt: %w", err)
	}

	s.logger.Info("login_succeeded", map[string]any{"user_id": user.ID})

	return Session{
		Tokens: Tokens{
			AccessToken: encoded,
			TokenType:   "Bearer",
			ExpiresIn:   int64(s.accessTTL.Seconds()),
		},
		User: user,
	}, nil
}

var ErrInvalidCredentials = errors.New("invalid credentials")

type ErrLoginLocked struct {
	Until time.Time
}

func (e ErrLoginLocked) Error() string {
	return "login temporarily locked"
}
