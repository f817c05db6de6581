package maintenance

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"license-sso/internal/observability"
)

type AttemptCleaner interface {
	CleanupStaleLoginAttempts(ctx context.Context, retention time.Duration, batchSize int) (int64, error)
}

// CleanupHandler purges stale login attempt rows. It is meant to be called by
// a scheduler holding the cron secret.
type CleanupHandler struct {
	attempts  AttemptCleaner
	logger    *observability.Logger
	secret    string
	retention time.Duration
	batchSize int
}

func NewCleanupHandler(
	attempts AttemptCleaner,
	logger *observability.Logger,
	cronSecret string,
	retention time.Duration,
	batchSize int,
) *CleanupHandler {
	return &CleanupHandler{
		attempts:  attempts,
		logger:    logger,
		secret:    strings.TrimSpace(cronSecret),
		retention: retention,
		batchSize: batchSize,
	}
}

type cleanupResult struct {
	DeletedLoginAttempts int64 `json:"deleted_login_attempts"`
}

func (h *CleanupHandler) Handle(w http.ResponseWriter, r *http.Request) {
	if h.secret == "" {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
		return
	}

	if r.Method != http.MethodGet && r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	authHeader := strings.TrimSpace(r.Header.Get("Authorization"))
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || strings.TrimSpace(parts[1]) != h.secret {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		return
	}

	deleted, err := h.attempts.CleanupStaleLoginAttempts(r.Context(), h.retention, h.batchSize)
	if err != nil {
		h.logger.Error("auth_cleanup_failed", map[string]any{"error": err.Error()})
		observability.CaptureError(r.Context(), err, map[string]string{"component": "maintenance"})
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "cleanup failed"})
		return
	}

	h.logger.Info("auth_cleanup_completed", map[string]any{"deleted_login_attempts": deleted})

	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"result": cleanupResult{DeletedLoginAttempts: deleted},
	})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
