package app

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"license-sso/internal/auth"
	"license-sso/internal/db"
	"license-sso/internal/directory"
	"license-sso/internal/freemius"
	"license-sso/internal/maintenance"
	"license-sso/internal/observability"
	"license-sso/internal/sso"
)

type Options struct {
	LoadDotEnv    bool
	RunMigrations bool
}

type Runtime struct {
	Handler http.Handler
	Logger  *observability.Logger
	Close   func() error
}

func Build(options Options) (*Runtime, error) {
	if options.LoadDotEnv {
		_ = godotenv.Load()
	}

	logger := observability.NewLogger()

	config, err := loadConfig()
	if err != nil {
		return nil, err
	}

	if err := observability.InitSentry(config.SentryDSN, config.Environment); err != nil {
		logger.Error("init_sentry_failed", map[string]any{"error": err.Error()})
	}

	remote, err := freemius.NewClient(config.Freemius)
	if err != nil {
		return nil, fmt.Errorf("init freemius client: %w", err)
	}

	database, err := sql.Open("pgx", config.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	database.SetMaxOpenConns(envIntOrDefault("DB_MAX_OPEN_CONNS", 10))
	database.SetMaxIdleConns(envIntOrDefault("DB_MAX_IDLE_CONNS", 5))
	database.SetConnMaxLifetime(envMinutesOrDefault("DB_CONN_MAX_LIFETIME_MINUTES", 30))
	database.SetConnMaxIdleTime(envMinutesOrDefault("DB_CONN_MAX_IDLE_TIME_MINUTES", 10))

	ctx := context.Background()
	if err := database.PingContext(ctx); err != nil {
		_ = database.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if options.RunMigrations {
		if err := db.RunMigrations(ctx, database, logger); err != nil {
			_ = database.Close()
			return nil, fmt.Errorf("run migrations: %w", err)
		}
	}

	users := directory.NewRepository(database)
	if err := bootstrapAdmin(ctx, users, config, logger); err != nil {
		_ = database.Close()
		return nil, fmt.Errorf("bootstrap admin: %w", err)
	}

	attempts := auth.NewRepository(database)
	store := sso.NewTokenStore(users, logger)
	entitlements := sso.NewEntitlementResolver(remote, store, logger)
	authenticator := sso.NewAuthenticator(remote, users, store, entitlements, sso.NewLogNotifier(logger), logger)

	pipeline := auth.NewPipeline()
	pipeline.AddFilter(auth.PasswordFilterPriority, auth.NewPasswordFilter(users, attempts, logger))
	authenticator.Register(pipeline)

	authService := auth.NewService(pipeline, attempts, config.JWTSecret, logger)
	authService.WithSecurityConfig(config.LoginMaxAttempts, config.LoginLockDuration, config.AccessTTL)

	logger.Info("sso_configured", map[string]any{
		"api_root": remote.APIRoot(),
		"store_id": config.Freemius.StoreID,
	})

	handler := routes(routeDeps{
		jwtSecret:    config.JWTSecret,
		database:     database,
		auth:         auth.NewHandler(authService),
		sso:          sso.NewHandler(authenticator, entitlements),
		cleanup:      maintenance.NewCleanupHandler(attempts, logger, config.CronSecret, config.LoginAttemptRetention, config.CleanupBatchSize),
		loginLimiter: auth.NewLoginRateLimiter(config.LoginRateLimitMax, config.LoginRateLimitSpan),
		logger:       logger,
	})

	return &Runtime{
		Handler: handler,
		Logger:  logger,
		Close: func() error {
			observability.FlushSentry()
			return database.Close()
		},
	}, nil
}

type routeDeps struct {
	jwtSecret    string
	database     pinger
	auth         *auth.Handler
	sso          *sso.Handler
	cleanup      *maintenance.CleanupHandler
	loginLimiter *auth.LoginRateLimiter
	logger       *observability.Logger
}

func routes(deps routeDeps) http.Handler {
	protected := func(handler http.HandlerFunc) http.Handler {
		return auth.Middleware(deps.jwtSecret, handler)
	}

	mux := http.NewServeMux()
	mux.Handle("POST /auth/login", deps.loginLimiter.Middleware(http.HandlerFunc(deps.auth.Login)))
	mux.Handle("POST /auth/logout", protected(deps.auth.Logout))
	mux.Handle("GET /sso/me", protected(deps.sso.Me))
	mux.Handle("POST /sso/me/token", protected(deps.sso.RefreshToken))
	mux.Handle("POST /sso/me/licenses", protected(deps.sso.RefreshLicenses))
	mux.HandleFunc("GET /internal/maintenance/cleanup", deps.cleanup.Handle)
	mux.HandleFunc("POST /internal/maintenance/cleanup", deps.cleanup.Handle)
	mux.HandleFunc("GET /health", healthHandler(deps.database))

	return observability.RecoverMiddleware(deps.logger, observability.RequestLoggingMiddleware(deps.logger, mux))
}

type adminEnsurer interface {
	EnsureUser(ctx context.Context, username, plainPassword, email string) error
}

// bootstrapAdmin creates or resets the local admin account when both
// ADMIN_USERNAME and ADMIN_PASSWORD are set.
func bootstrapAdmin(ctx context.Context, users adminEnsurer, config Config, logger *observability.Logger) error {
	// Logins by username are matched in lower case.
	username := strings.ToLower(strings.TrimSpace(config.AdminUsername))
	if username == "" || config.AdminPassword == "" {
		return nil
	}

	email := strings.TrimSpace(config.AdminEmail)
	if email == "" {
		email = username + "@localhost"
	}

	if err := users.EnsureUser(ctx, username, config.AdminPassword, email); err != nil {
		return err
	}
	logger.Info("admin_bootstrapped", map[string]any{"username": username})
	return nil
}

type pinger interface {
	PingContext(ctx context.Context) error
}

func healthHandler(database pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		status := http.StatusOK
		body := map[string]any{"status": "ok", "time": time.Now().UTC().Format(time.RFC3339)}
		if err := database.PingContext(ctx); err != nil {
			status = http.StatusServiceUnavailable
			body = map[string]any{"status": "degraded", "time": time.Now().UTC().Format(time.RFC3339)}
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(body)
	}
}
