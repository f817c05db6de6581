package auth

import (
	"time"

	"license-sso/internal/directory"
)

// Login error codes produced by the pipeline filters.
const (
	CodeAuthenticationFailed = "authentication_failed"
	CodeInvalidEmail         = "invalid_email"
	CodeInvalidUsername      = "invalid_username"
	CodeInvalidPassword      = "invalid_password"
	CodeIncorrectPassword    = "incorrect_password"
	CodeEmptyUsername        = "empty_username"
	CodeEmptyPassword        = "empty_password"
	CodeLoginLocked          = "login_locked"
)

type Tokens struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
}

type Session struct {
	Tokens
	User directory.User `json:"user"`
}

type LoginAttempt struct {
	Key            string
	FailedAttempts int
	LockedUntil    *time.Time
}

// Result is the value passed along the login pipeline: an authenticated
// user, a rejection, or neither when no filter has decided yet.
type Result struct {
	User *directory.User
	Err  *LoginError
}

func Accept(user directory.User) Result {
	return Result{User: &user}
}

func Reject(code, message string) Result {
	return Result{Err: &LoginError{Code: code, Message: message}}
}

func (r Result) Authenticated() bool {
	return r.User != nil && r.Err == nil
}

// LoginError is a rejection with a machine readable code.
type LoginError struct {
	Code    string
	Message string
	// LockedUntil is set for CodeLoginLocked.
	LockedUntil time.Time
}

func (e *LoginError) Error() string {
	if e.Message == "" {
		return e.Code
	}
	return e.Code + ": " + e.Message
}

// countsAsFailure reports whether a rejection with this code should count
// towards the lockout threshold.
func countsAsFailure(code string) bool {
	switch code {
	case CodeEmptyUsername, CodeEmptyPassword, CodeLoginLocked:
		return false
	default:
		return true
	}
}
