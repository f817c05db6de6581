package sso

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"license-sso/internal/freemius"
	"license-sso/internal/observability"
)

const (
	metaRemoteUserID     = "fs_user_id"
	metaToken            = "fs_token"
	metaHasLicenses      = "fs_has_licenses"
	metaHasActiveLicense = "fs_has_active_licenses"
	metaActiveLicenses   = "fs_active_licenses"
	metaLastError        = "fs_error"
)

var errNoUser = errors.New("no user id")

// MetaStore is the per-user key/value storage of the local directory. GetMeta
// returns nil for a missing entry.
type MetaStore interface {
	GetMeta(ctx context.Context, userID, key string) ([]byte, error)
	UpdateMeta(ctx context.Context, userID, key string, value []byte) error
	DeleteMeta(ctx context.Context, userID, key string) error
}

// TokenStore owns the SSO fields of a user record. Reads never fail: an
// absent, unreadable or malformed field reads as its zero value.
type TokenStore struct {
	meta   MetaStore
	logger *observability.Logger
}

func NewTokenStore(meta MetaStore, logger *observability.Logger) *TokenStore {
	return &TokenStore{meta: meta, logger: logger}
}

// RemoteUserID accepts the id stored as a number or as a numeric string.
func (s *TokenStore) RemoteUserID(ctx context.Context, userID string) int64 {
	var id freemius.ID
	if !s.read(ctx, userID, metaRemoteUserID, &id) || id < 0 {
		return 0
	}
	return int64(id)
}

func (s *TokenStore) SetRemoteUserID(ctx context.Context, userID string, remoteUserID int64) error {
	return s.write(ctx, userID, metaRemoteUserID, remoteUserID)
}

// Token returns the cached bundle and whether one is stored.
func (s *TokenStore) Token(ctx context.Context, userID string) (TokenBundle, bool) {
	var bundle TokenBundle
	if !s.read(ctx, userID, metaToken, &bundle) {
		return TokenBundle{}, false
	}
	return bundle, true
}

func (s *TokenStore) SetToken(ctx context.Context, userID string, bundle TokenBundle) error {
	return s.write(ctx, userID, metaToken, bundle)
}

func (s *TokenStore) DeleteToken(ctx context.Context, userID string) error {
	return s.delete(ctx, userID, metaToken)
}

func (s *TokenStore) HasAnyLicense(ctx context.Context, userID string) Tristate {
	return s.readTristate(ctx, userID, metaHasLicenses)
}

func (s *TokenStore) SetHasAnyLicense(ctx context.Context, userID string, value Tristate) error {
	return s.writeTristate(ctx, userID, metaHasLicenses, value)
}

func (s *TokenStore) HasActiveLicense(ctx context.Context, userID string) Tristate {
	return s.readTristate(ctx, userID, metaHasActiveLicense)
}

func (s *TokenStore) SetHasActiveLicense(ctx context.Context, userID string, value Tristate) error {
	return s.writeTristate(ctx, userID, metaHasActiveLicense, value)
}

// ActiveLicenses returns nil when no list has been cached.
func (s *TokenStore) ActiveLicenses(ctx context.Context, userID string) []License {
	var licenses []License
	if !s.read(ctx, userID, metaActiveLicenses, &licenses) {
		return nil
	}
	return licenses
}

func (s *TokenStore) SetActiveLicenses(ctx context.Context, userID string, licenses []License) error {
	return s.write(ctx, userID, metaActiveLicenses, licenses)
}

func (s *TokenStore) LastError(ctx context.Context, userID string) *freemius.APIError {
	var apiErr freemius.APIError
	if !s.read(ctx, userID, metaLastError, &apiErr) {
		return nil
	}
	return &apiErr
}

func (s *TokenStore) SetLastError(ctx context.Context, userID string, apiErr *freemius.APIError) error {
	if apiErr == nil {
		return s.ClearLastError(ctx, userID)
	}
	return s.write(ctx, userID, metaLastError, apiErr)
}

func (s *TokenStore) ClearLastError(ctx context.Context, userID string) error {
	return s.delete(ctx, userID, metaLastError)
}

func (s *TokenStore) readTristate(ctx context.Context, userID, key string) Tristate {
	var value Tristate
	if !s.read(ctx, userID, key, &value) {
		return Unknown
	}
	return value
}

func (s *TokenStore) writeTristate(ctx context.Context, userID, key string, value Tristate) error {
	if value == Unknown {
		return s.delete(ctx, userID, key)
	}
	return s.write(ctx, userID, key, value)
}

func (s *TokenStore) read(ctx context.Context, userID, key string, target any) bool {
	if userID == "" {
		return false
	}

	raw, err := s.meta.GetMeta(ctx, userID, key)
	if err != nil {
		s.logger.Error("sso_meta_read_failed", map[string]any{"user_id": userID, "key": key, "error": err.Error()})
		return false
	}
	if len(raw) == 0 || string(raw) == "null" {
		return false
	}

	if err := json.Unmarshal(raw, target); err != nil {
		s.logger.Warn("sso_meta_malformed", map[string]any{"user_id": userID, "key": key, "error": err.Error()})
		return false
	}
	return true
}

func (s *TokenStore) write(ctx context.Context, userID, key string, value any) error {
	if userID == "" {
		return fmt.Errorf("write %s: %w", key, errNoUser)
	}

	encoded, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}

	return s.meta.UpdateMeta(ctx, userID, key, encoded)
}

func (s *TokenStore) delete(ctx context.Context, userID, key string) error {
	if userID == "" {
		return fmt.Errorf("delete %s: %w", key, errNoUser)
	}
	return s.meta.DeleteMeta(ctx, userID, key)
}
