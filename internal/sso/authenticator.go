// Package sso binds local users to Freemius accounts: it fetches and caches
// their access tokens at login and derives their license entitlements.
package sso

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"license-sso/internal/auth"
	"license-sso/internal/directory"
	"license-sso/internal/freemius"
	"license-sso/internal/observability"
)

const (
	// FilterPriority places the authenticator after the local password check.
	FilterPriority = 30
	LogoutPriority = 30

	failedRefreshBackoff = 24 * time.Hour
)

type RemoteClient interface {
	LicenseLister
	Login(ctx context.Context, email, password string) (*freemius.LoginResponse, error)
}

type Directory interface {
	UsernameChecker
	GetByID(ctx context.Context, id string) (directory.User, error)
	GetByEmail(ctx context.Context, email string) (directory.User, error)
	Create(ctx context.Context, username, plainPassword, email string) (directory.User, error)
}

type Authenticator struct {
	remote       RemoteClient
	users        Directory
	store        *TokenStore
	entitlements *EntitlementResolver
	notifier     Notifier
	logger       *observability.Logger
	now          func() time.Time
}

func NewAuthenticator(
	remote RemoteClient,
	users Directory,
	store *TokenStore,
	entitlements *EntitlementResolver,
	notifier Notifier,
	logger *observability.Logger,
) *Authenticator {
	return &Authenticator{
		remote:       remote,
		users:        users,
		store:        store,
		entitlements: entitlements,
		notifier:     notifier,
		logger:       logger,
		now:          func() time.Time { return time.Now().UTC() },
	}
}

func (a *Authenticator) WithClock(now func() time.Time) *Authenticator {
	a.now = now
	return a
}

// Register installs the authenticator as login filter and logout hook.
func (a *Authenticator) Register(pipeline *auth.Pipeline) {
	pipeline.AddFilter(FilterPriority, a)
	pipeline.AddLogoutHook(LogoutPriority, a)
}

// Authenticate is the login filter. It never rejects a login the earlier
// filters accepted; the only rejection it produces is the remote error of a
// first-time login by email with no local account to fall back to.
func (a *Authenticator) Authenticate(ctx context.Context, candidate auth.Result, login, password string) auth.Result {
	login = strings.TrimSpace(login)
	byEmail := strings.Contains(login, "@")
	found := candidate.Authenticated()

	// Without a local user the remote lookup needs an email.
	if !found && !byEmail {
		return candidate
	}
	if candidate.Err != nil && !recognizedFailure(candidate.Err.Code) {
		return candidate
	}

	var user directory.User
	email := login
	if found {
		user = *candidate.User
		if !byEmail {
			email = user.Email
		}
	}

	var remoteUserID int64
	var token TokenBundle
	fetch := true
	if found {
		remoteUserID = a.store.RemoteUserID(ctx, user.ID)
		if remoteUserID > 0 {
			if cached, ok := a.store.Token(ctx, user.ID); ok {
				token = cached
				fetch = !cached.FreshAt(a.now())
			}
		}
	}

	if fetch {
		// The remote password check only runs when binding a new account;
		// afterwards the local check is trusted and only a token is needed.
		forwarded := ""
		if !found {
			forwarded = password
		}

		resp, err := a.remote.Login(ctx, email, forwarded)
		if err != nil {
			a.logger.Warn("sso_token_fetch_failed", map[string]any{"email": email, "error": err.Error()})
			return candidate
		}
		if resp.Error != nil {
			if found {
				a.logger.Warn("sso_token_rejected", map[string]any{"user_id": user.ID, "code": resp.Error.Code})
				return candidate
			}
			return auth.Reject(resp.Error.Code, resp.Error.Message)
		}
		if resp.UserToken == nil {
			a.logger.Warn("sso_token_missing", map[string]any{"email": email})
			return candidate
		}

		remoteUserID = int64(resp.UserToken.Person.ID)
		token = bundleFromToken(resp.UserToken.Token)

		if !found {
			resolved, err := a.resolveUser(ctx, email, password, resp.UserToken.Person)
			if err != nil {
				a.logger.Error("sso_user_resolve_failed", map[string]any{"email": email, "error": err.Error()})
				observability.CaptureError(ctx, err, map[string]string{"component": "sso"})
				return candidate
			}
			user = resolved
		}

		a.persist(ctx, user.ID, metaToken, a.store.SetToken(ctx, user.ID, token))
		a.persist(ctx, user.ID, metaRemoteUserID, a.store.SetRemoteUserID(ctx, user.ID, remoteUserID))
	}

	state := a.entitlements.Resolve(ctx, user.ID, remoteUserID, token)
	a.logger.Info("sso_entitlements_resolved", map[string]any{
		"user_id":            user.ID,
		"has_any_license":    state.HasAnyLicense.String(),
		"has_active_license": state.HasActiveLicense.String(),
	})

	a.notifier.LoginSucceeded(ctx, user)

	return auth.Accept(user)
}

// resolveUser finds the local user for email or creates one named after the
// remote person.
func (a *Authenticator) resolveUser(ctx context.Context, email, password string, person freemius.Person) (directory.User, error) {
	existing, err := a.users.GetByEmail(ctx, email)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, directory.ErrUserNotFound) {
		return directory.User{}, fmt.Errorf("find user by email: %w", err)
	}

	username, err := GenerateUniqueUsername(ctx, a.users, baseUsername(person, email))
	if err != nil {
		return directory.User{}, fmt.Errorf("generate username: %w", err)
	}

	created, err := a.users.Create(ctx, username, password, email)
	if err != nil {
		return directory.User{}, fmt.Errorf("create user: %w", err)
	}

	a.notifier.UserCreated(ctx, created)
	return created, nil
}

func (a *Authenticator) persist(ctx context.Context, userID, key string, err error) {
	if err == nil {
		return
	}
	a.logger.Error("sso_persist_failed", map[string]any{"user_id": userID, "key": key, "error": err.Error()})
	observability.CaptureError(ctx, err, map[string]string{"component": "sso", "key": key})
}

// OnLogout drops the cached access token. The remote id and the license
// flags are kept for the next session.
func (a *Authenticator) OnLogout(ctx context.Context, userID string) error {
	return a.ClearAccessToken(ctx, userID)
}

func (a *Authenticator) ClearAccessToken(ctx context.Context, userID string) error {
	userID = sessionUserID(ctx, userID)
	if userID == "" {
		return nil
	}
	return a.store.DeleteToken(ctx, userID)
}

// RefreshUserAccessToken fetches a new token for the user unless a fresh one
// is cached and force is false. It reports whether the API was called, not
// whether the call succeeded.
func (a *Authenticator) RefreshUserAccessToken(ctx context.Context, userID string, force bool) (bool, error) {
	userID = sessionUserID(ctx, userID)
	if userID == "" {
		return false, nil
	}

	now := a.now()
	if !force {
		if cached, ok := a.store.Token(ctx, userID); ok && cached.FreshAt(now) {
			return false, nil
		}
	}

	user, err := a.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, directory.ErrUserNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("load user: %w", err)
	}

	// No plaintext password exists on this path.
	resp, err := a.remote.Login(ctx, user.Email, "")
	if err != nil {
		a.logger.Warn("sso_token_refresh_failed", map[string]any{"user_id": userID, "error": err.Error()})
		return true, nil
	}

	switch {
	case resp.Error != nil && resp.Error.HTTP == 401:
		a.logger.Warn("sso_token_refresh_unauthorized", map[string]any{"user_id": userID, "code": resp.Error.Code})
		return true, errors.Join(
			a.store.SetLastError(ctx, userID, resp.Error),
			a.store.SetToken(ctx, userID, sentinelBundle(now, failedRefreshBackoff)),
		)
	case resp.UserToken != nil:
		return true, errors.Join(
			a.store.ClearLastError(ctx, userID),
			a.store.SetToken(ctx, userID, bundleFromToken(resp.UserToken.Token)),
			a.store.SetRemoteUserID(ctx, userID, int64(resp.UserToken.Person.ID)),
		)
	default:
		return true, nil
	}
}

func (a *Authenticator) RemoteUserID(ctx context.Context, userID string) int64 {
	return a.store.RemoteUserID(ctx, sessionUserID(ctx, userID))
}

func (a *Authenticator) AccessToken(ctx context.Context, userID string) (TokenBundle, bool) {
	return a.store.Token(ctx, sessionUserID(ctx, userID))
}

func (a *Authenticator) HasAnyLicense(ctx context.Context, userID string) bool {
	return a.store.HasAnyLicense(ctx, sessionUserID(ctx, userID)) == Yes
}

func (a *Authenticator) HasActiveLicense(ctx context.Context, userID string) bool {
	return a.store.HasActiveLicense(ctx, sessionUserID(ctx, userID)) == Yes
}

func (a *Authenticator) ActiveLicenses(ctx context.Context, userID string) []License {
	return a.store.ActiveLicenses(ctx, sessionUserID(ctx, userID))
}

func (a *Authenticator) LastError(ctx context.Context, userID string) *freemius.APIError {
	return a.store.LastError(ctx, sessionUserID(ctx, userID))
}

// recognizedFailure lists the local rejections that a remote login may
// still turn into a success.
func recognizedFailure(code string) bool {
	switch code {
	case auth.CodeAuthenticationFailed, auth.CodeInvalidEmail, auth.CodeInvalidPassword, auth.CodeIncorrectPassword:
		return true
	default:
		return false
	}
}

func sessionUserID(ctx context.Context, userID string) string {
	userID = strings.TrimSpace(userID)
	if userID != "" {
		return userID
	}
	return auth.UserIDFromContext(ctx)
}
