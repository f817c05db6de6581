package api

import (
	"encoding/json"
	"net/http"
	"sync"

	_ "github.com/jackc/pgx/v5/stdlib"

	"license-sso/internal/app"
	"license-sso/internal/observability"
)

var (
	runtimeMu  sync.Mutex
	apiRuntime *app.Runtime
	build      = app.Build
)

// Handler serves every request of the serverless deployment. A failed build
// is retried on the next request instead of pinning the instance to an error.
func Handler(w http.ResponseWriter, r *http.Request) {
	runtime, err := currentRuntime()
	if err != nil {
		observability.NewLogger().Error("bootstrap_failed", map[string]any{"error": err.Error()})
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "application bootstrap failed"})
		return
	}

	runtime.Handler.ServeHTTP(w, r)
}

func currentRuntime() (*app.Runtime, error) {
	runtimeMu.Lock()
	defer runtimeMu.Unlock()

	if apiRuntime != nil {
		return apiRuntime, nil
	}

	runtime, err := build(app.Options{
		LoadDotEnv:    false,
		RunMigrations: app.EnvBoolOrDefault("RUN_MIGRATIONS_ON_STARTUP", false),
	})
	if err != nil {
		return nil, err
	}
	apiRuntime = runtime
	return apiRuntime, nil
}
