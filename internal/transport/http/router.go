// Package httptransport composes the HTTP surface: shared middleware,
// health and metrics endpoints, and the per-context handlers.
package httptransport

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"escorte/internal/platform/middleware"
	"escorte/pkg/platform/httputil"
)

// Registrar is anything that can mount routes on the shared router.
type Registrar interface {
	Register(r chi.Router)
}

// HealthChecker reports whether a backing resource is reachable.
type HealthChecker func(ctx context.Context) error

// NewRouter assembles the application router.
func NewRouter(db *sql.DB, extraChecks map[string]HealthChecker, registrars ...Registrar) http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.RequestMetadata)
	r.Use(chimiddleware.Timeout(30 * time.Second))

	r.Get("/healthz", handleHealth(db, extraChecks))
	r.Handle("/metrics", promhttp.Handler())

	for _, registrar := range registrars {
		registrar.Register(r)
	}
	return r
}

func handleHealth(db *sql.DB, extraChecks map[string]HealthChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		status := http.StatusOK
		checks := map[string]string{}
		if db != nil {
			checks["postgres"] = "ok"
			if err := db.PingContext(ctx); err != nil {
				checks["postgres"] = err.Error()
				status = http.StatusServiceUnavailable
			}
		}
		for name, check := range extraChecks {
			checks[name] = "ok"
			if err := check(ctx); err != nil {
				checks[name] = err.Error()
				status = http.StatusServiceUnavailable
			}
		}
		httputil.WriteJSON(w, status, checks)
	}
}
