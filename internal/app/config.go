package app

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"license-sso/internal/freemius"
)

type Config struct {
	DatabaseURL string
	JWTSecret   string
	SentryDSN   string
	Environment string
	CronSecret  string

	Freemius freemius.Config

	AccessTTL          time.Duration
	LoginMaxAttempts   int
	LoginLockDuration  time.Duration
	LoginRateLimitMax  int
	LoginRateLimitSpan time.Duration

	LoginAttemptRetention time.Duration
	CleanupBatchSize      int

	AdminUsername string
	AdminEmail    string
	AdminPassword string
}

func loadConfig() (Config, error) {
	databaseURL, err := mustEnv("DATABASE_URL")
	if err != nil {
		return Config{}, err
	}
	jwtSecret, err := mustEnv("JWT_SECRET")
	if err != nil {
		return Config{}, err
	}
	storeID, err := mustEnvInt64("FS_STORE_ID")
	if err != nil {
		return Config{}, err
	}
	developerID, err := mustEnvInt64("FS_DEVELOPER_ID")
	if err != nil {
		return Config{}, err
	}
	secretKey, err := mustEnv("FS_DEVELOPER_SECRET_KEY")
	if err != nil {
		return Config{}, err
	}

	return Config{
		DatabaseURL: databaseURL,
		JWTSecret:   jwtSecret,
		SentryDSN:   os.Getenv("SENTRY_DSN"),
		Environment: envOrDefault("APP_ENV", "development"),
		CronSecret:  os.Getenv("CRON_SECRET"),
		Freemius: freemius.Config{
			StoreID:            storeID,
			DeveloperID:        developerID,
			DeveloperSecretKey: secretKey,
			UseLocalAPI:        EnvBoolOrDefault("FS_USE_LOCAL_API", false),
		},
		AccessTTL:             envMinutesOrDefault("ACCESS_TOKEN_TTL_MINUTES", 15),
		LoginMaxAttempts:      envIntOrDefault("LOGIN_MAX_ATTEMPTS", 5),
		LoginLockDuration:     envMinutesOrDefault("LOGIN_LOCK_MINUTES", 15),
		LoginRateLimitMax:     envIntOrDefault("LOGIN_RATE_LIMIT_MAX", 10),
		LoginRateLimitSpan:    envSecondsOrDefault("LOGIN_RATE_LIMIT_WINDOW_SECONDS", 60),
		LoginAttemptRetention: envDaysOrDefault("AUTH_LOGIN_ATTEMPT_RETENTION_DAYS", 30),
		CleanupBatchSize:      envIntOrDefault("AUTH_CLEANUP_BATCH_SIZE", 500),
		AdminUsername:         strings.TrimSpace(os.Getenv("ADMIN_USERNAME")),
		AdminEmail:            strings.TrimSpace(os.Getenv("ADMIN_EMAIL")),
		AdminPassword:         os.Getenv("ADMIN_PASSWORD"),
	}, nil
}

func mustEnv(name string) (string, error) {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return "", fmt.Errorf("missing required env: %s", name)
	}
	return value, nil
}

func mustEnvInt64(name string) (int64, error) {
	value, err := mustEnv(name)
	if err != nil {
		return 0, err
	}
	parsed, err := strconv.ParseInt(value, 10, 64)
	if err != nil || parsed <= 0 {
		return 0, fmt.Errorf("invalid env %s: must be a positive integer", name)
	}
	return parsed, nil
}

func envOrDefault(name, fallback string) string {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return fallback
	}
	return value
}

func envIntOrDefault(name string, fallback int) int {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil || parsed <= 0 {
		return fallback
	}
	return parsed
}

func envMinutesOrDefault(name string, fallback int) time.Duration {
	return time.Duration(envIntOrDefault(name, fallback)) * time.Minute
}

func envDaysOrDefault(name string, fallback int) time.Duration {
	return time.Duration(envIntOrDefault(name, fallback)) * 24 * time.Hour
}

func envSecondsOrDefault(name string, fallback int) time.Duration {
	return time.Duration(envIntOrDefault(name, fallback)) * time.Second
}

func EnvBoolOrDefault(name string, fallback bool) bool {
	value := strings.TrimSpace(strings.ToLower(os.Getenv(name)))
	if value == "" {
		return fallback
	}

	switch value {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}
