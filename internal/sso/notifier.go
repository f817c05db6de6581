package sso

import (
	"context"

	"license-sso/internal/directory"
	"license-sso/internal/observability"
)

// Notifier receives fire-and-forget events from the authenticator.
type Notifier interface {
	UserCreated(ctx context.Context, user directory.User)
	LoginSucceeded(ctx context.Context, user directory.User)
}

type LogNotifier struct {
	logger *observability.Logger
}

func NewLogNotifier(logger *observability.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) UserCreated(ctx context.Context, user directory.User) {
	n.logger.Info("sso_user_created", map[string]any{"user_id": user.ID, "username": user.Username})
	observability.Breadcrumb(ctx, "sso", "user created", map[string]any{"user_id": user.ID})
}

func (n *LogNotifier) LoginSucceeded(ctx context.Context, user directory.User) {
	n.logger.Info("sso_login_succeeded", map[string]any{"user_id": user.ID})
	observability.Breadcrumb(ctx, "sso", "login succeeded", map[string]any{"user_id": user.ID})
}
