package sso

import (
	"context"
	"fmt"
	"math"
	"time"

	"license-sso/internal/freemius"
	"license-sso/internal/observability"
)

// Layouts accepted for license expirations. The API uses the first one, in
// UTC.
var expirationLayouts = []string{
	"2006-01-02 15:04:05",
	time.RFC3339,
	"2006-01-02",
}

type LicenseLister interface {
	ListLicenses(ctx context.Context, remoteUserID int64, accessToken string, licenseType freemius.LicenseType, count int64) (*freemius.LicenseListResponse, error)
}

// EntitlementResolver derives the any/active license flags of a user from the
// licenses API and caches them in the TokenStore.
type EntitlementResolver struct {
	remote LicenseLister
	store  *TokenStore
	logger *observability.Logger
	now    func() time.Time
}

func NewEntitlementResolver(remote LicenseLister, store *TokenStore, logger *observability.Logger) *EntitlementResolver {
	return &EntitlementResolver{
		remote: remote,
		store:  store,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func (r *EntitlementResolver) WithClock(now func() time.Time) *EntitlementResolver {
	r.now = now
	return r
}

// RefreshAnyUserLicenses recomputes the has-any-license flag from a single
// license lookup. Failed lookups record "no".
func (r *EntitlementResolver) RefreshAnyUserLicenses(ctx context.Context, userID string) error {
	userID = sessionUserID(ctx, userID)
	if userID == "" {
		return fmt.Errorf("refresh any licenses: %w", errNoUser)
	}

	remoteUserID := r.store.RemoteUserID(ctx, userID)
	token, _ := r.store.Token(ctx, userID)

	hasAny := No
	resp, err := r.remote.ListLicenses(ctx, remoteUserID, token.Access, freemius.LicenseTypeAll, 1)
	if err != nil {
		r.logger.Warn("sso_license_fetch_failed", map[string]any{"user_id": userID, "type": "all", "error": err.Error()})
	} else if resp.HasLicenses() {
		hasAny = Yes
	}

	return r.store.SetHasAnyLicense(ctx, userID, hasAny)
}

// RefreshActiveUserLicenses caches the full list of active licenses. An
// empty or failed lookup leaves the cached list untouched, and the flags are
// never changed here.
func (r *EntitlementResolver) RefreshActiveUserLicenses(ctx context.Context, userID string) error {
	userID = sessionUserID(ctx, userID)
	if userID == "" {
		return fmt.Errorf("refresh active licenses: %w", errNoUser)
	}

	remoteUserID := r.store.RemoteUserID(ctx, userID)
	token, _ := r.store.Token(ctx, userID)

	resp, err := r.remote.ListLicenses(ctx, remoteUserID, token.Access, freemius.LicenseTypeActive, math.MaxInt64)
	if err != nil {
		r.logger.Warn("sso_license_fetch_failed", map[string]any{"user_id": userID, "type": "active", "error": err.Error()})
		return nil
	}
	if !resp.HasLicenses() {
		return nil
	}

	return r.store.SetActiveLicenses(ctx, userID, resp.Licenses)
}

// Resolve runs the login-time check with as few API calls as possible:
//
//  1. a cached any=yes is trusted and skips the "all" lookup, with active
//     starting at no;
//  2. otherwise one license of any type is fetched; if it is neither
//     cancelled nor expired it settles active=yes as well;
//  3. if the user has licenses but active is still open, one active license
//     is fetched.
//
// The any flag is written only when it was fetched; the active flag always.
func (r *EntitlementResolver) Resolve(ctx context.Context, userID string, remoteUserID int64, token TokenBundle) EntitlementState {
	hasAny := No
	hasActive := No

	if r.store.HasAnyLicense(ctx, userID) == Yes {
		hasAny = Yes
	} else {
		resp, err := r.remote.ListLicenses(ctx, remoteUserID, token.Access, freemius.LicenseTypeAll, 1)
		if err != nil {
			r.logger.Warn("sso_license_fetch_failed", map[string]any{"user_id": userID, "type": "all", "error": err.Error()})
		} else if resp.HasLicenses() {
			hasAny = Yes

			first := resp.Licenses[0]
			if !first.IsCancelled && !HasLicenseExpired(first, r.now()) {
				hasActive = Yes
			}
		}

		if err := r.store.SetHasAnyLicense(ctx, userID, hasAny); err != nil {
			r.logger.Error("sso_entitlement_persist_failed", map[string]any{"user_id": userID, "key": metaHasLicenses, "error": err.Error()})
		}
	}

	if hasActive != Yes && hasAny == Yes {
		resp, err := r.remote.ListLicenses(ctx, remoteUserID, token.Access, freemius.LicenseTypeActive, 1)
		if err != nil {
			r.logger.Warn("sso_license_fetch_failed", map[string]any{"user_id": userID, "type": "active", "error": err.Error()})
		} else if resp.HasLicenses() {
			hasActive = Yes
		}
	}

	if err := r.store.SetHasActiveLicense(ctx, userID, hasActive); err != nil {
		r.logger.Error("sso_entitlement_persist_failed", map[string]any{"user_id": userID, "key": metaHasActiveLicense, "error": err.Error()})
	}

	return EntitlementState{HasAnyLicense: hasAny, HasActiveLicense: hasActive}
}

// HasLicenseExpired reports whether license is past its expiration at now.
// Expirations are read as UTC whatever the local zone is. A nil expiration
// never expires; one that cannot be parsed counts as expired.
func HasLicenseExpired(license License, now time.Time) bool {
	if license.Expiration == nil {
		return false
	}

	expiresAt, err := parseExpiration(*license.Expiration)
	if err != nil {
		return true
	}

	return !now.UTC().Before(expiresAt)
}

func parseExpiration(value string) (time.Time, error) {
	for _, layout := range expirationLayouts {
		if parsed, err := time.ParseInLocation(layout, value, time.UTC); err == nil {
			return parsed.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized expiration %q", value)
}
