package auth

import (
	"context"
	"errors"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"license-sso/internal/directory"
	"license-sso/internal/observability"
)

const PasswordFilterPriority = 20

type UserFinder interface {
	GetByUsername(ctx context.Context, username string) (directory.User, error)
	GetByEmail(ctx context.Context, email string) (directory.User, error)
}

type AttemptReader interface {
	GetLoginAttempt(ctx context.Context, key string) (LoginAttempt, error)
}

// PasswordFilter verifies the login against the local directory. Logins that
// contain '@' are looked up by email, anything else by username.
type PasswordFilter struct {
	users    UserFinder
	attempts AttemptReader
	logger   *observability.Logger
	now      func() time.Time
}

func NewPasswordFilter(users UserFinder, attempts AttemptReader, logger *observability.Logger) *PasswordFilter {
	return &PasswordFilter{
		users:    users,
		attempts: attempts,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (f *PasswordFilter) Authenticate(ctx context.Context, candidate Result, login, password string) Result {
	if candidate.Authenticated() {
		return candidate
	}

	login = strings.TrimSpace(login)
	if login == "" {
		return Reject(CodeEmptyUsername, "the username field is empty")
	}
	if password == "" {
		return Reject(CodeEmptyPassword, "the password field is empty")
	}

	attempt, err := f.attempts.GetLoginAttempt(ctx, attemptKey(login))
	if err != nil {
		f.logger.Error("login_attempt_lookup_failed", map[string]any{"error": err.Error()})
		return Reject(CodeAuthenticationFailed, "authentication is temporarily unavailable")
	}
	if attempt.LockedUntil != nil && f.now().Before(*attempt.LockedUntil) {
		result := Reject(CodeLoginLocked, "login temporarily locked")
		result.Err.LockedUntil = *attempt.LockedUntil
		return result
	}

	byEmail := strings.Contains(login, "@")
	var user directory.User
	if byEmail {
		user, err = f.users.GetByEmail(ctx, login)
	} else {
		user, err = f.users.GetByUsername(ctx, strings.ToLower(login))
	}
	if err != nil {
		if errors.Is(err, directory.ErrUserNotFound) {
			if byEmail {
				return Reject(CodeInvalidEmail, "unknown email address")
			}
			return Reject(CodeInvalidUsername, "unknown username")
		}
		f.logger.Error("login_user_lookup_failed", map[string]any{"error": err.Error()})
		return Reject(CodeAuthenticationFailed, "authentication is temporarily unavailable")
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return Reject(CodeIncorrectPassword, "the password you entered is incorrect")
	}

	return Accept(user)
}

func attemptKey(login string) string {
	return strings.ToLower(strings.TrimSpace(login))
}
