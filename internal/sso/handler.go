package sso

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/getsentry/sentry-go"

	"license-sso/internal/auth"
	"license-sso/internal/freemius"
)

// Handler exposes the cached SSO state of the session user. Every route must
// be mounted behind auth.Middleware.
type Handler struct {
	authenticator *Authenticator
	entitlements  *EntitlementResolver
}

func NewHandler(authenticator *Authenticator, entitlements *EntitlementResolver) *Handler {
	return &Handler{authenticator: authenticator, entitlements: entitlements}
}

type stateResponse struct {
	RemoteUserID     int64              `json:"remote_user_id,omitempty"`
	TokenExpiresAt   *time.Time         `json:"token_expires_at,omitempty"`
	HasAnyLicense    bool               `json:"has_any_license"`
	HasActiveLicense bool               `json:"has_active_license"`
	ActiveLicenses   []License          `json:"active_licenses"`
	LastError        *freemius.APIError `json:"last_error,omitempty"`
}

func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.state(r))
}

// RefreshToken accepts ?force=true to bypass the freshness check.
func (h *Handler) RefreshToken(w http.ResponseWriter, r *http.Request) {
	force := false
	if raw := r.URL.Query().Get("force"); raw != "" {
		parsed, err := strconv.ParseBool(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid force parameter")
			return
		}
		force = parsed
	}

	called, err := h.authenticator.RefreshUserAccessToken(r.Context(), "", force)
	if err != nil {
		sentry.CaptureException(err)
		writeError(w, http.StatusInternalServerError, "failed to refresh access token")
		return
	}

	writeJSON(w, http.StatusOK, map[string]bool{"refreshed": called})
}

func (h *Handler) RefreshLicenses(w http.ResponseWriter, r *http.Request) {
	if err := h.entitlements.RefreshAnyUserLicenses(r.Context(), ""); err != nil {
		sentry.CaptureException(err)
		writeError(w, http.StatusInternalServerError, "failed to refresh licenses")
		return
	}
	if err := h.entitlements.RefreshActiveUserLicenses(r.Context(), ""); err != nil {
		sentry.CaptureException(err)
		writeError(w, http.StatusInternalServerError, "failed to refresh licenses")
		return
	}

	writeJSON(w, http.StatusOK, h.state(r))
}

func (h *Handler) state(r *http.Request) stateResponse {
	ctx := r.Context()
	userID := auth.UserIDFromContext(ctx)

	resp := stateResponse{
		RemoteUserID:     h.authenticator.RemoteUserID(ctx, userID),
		HasAnyLicense:    h.authenticator.HasAnyLicense(ctx, userID),
		HasActiveLicense: h.authenticator.HasActiveLicense(ctx, userID),
		ActiveLicenses:   h.authenticator.ActiveLicenses(ctx, userID),
		LastError:        h.authenticator.LastError(ctx, userID),
	}
	if resp.ActiveLicenses == nil {
		resp.ActiveLicenses = []License{}
	}
	if token, ok := h.authenticator.AccessToken(ctx, userID); ok {
		expiresAt := token.ExpiresAt()
		resp.TokenExpiresAt = &expiresAt
	}

	return resp
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
