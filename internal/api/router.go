package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimid "github.com/go-chi/chi/v5/middleware"

	"github.com/ryde/accounts/internal/api/handlers"
	mw "github.com/ryde/accounts/internal/api/middleware"
)

type Dependencies struct {
	UsersHandler   *handlers.UsersHandler
	HealthHandler  *handlers.HealthHandler
	CORSOrigins    []string
	RateLimitRPS   float64
	RateLimitBurst int
}

// NewRouter builds the HTTP handler. Background middleware work stops when
// ctx is done.
func NewRouter(ctx context.Context, dep Dependencies) http.Handler {
	r := chi.NewRouter()

	// Built-in middleware
	r.Use(mw.RequestID)
	r.Use(chimid.RealIP)
	r.Use(mw.Recovery)
	r.Use(mw.Logging)
	r.Use(mw.CORS(dep.CORSOrigins))
	if dep.RateLimitRPS > 0 {
		r.Use(mw.RateLimit(ctx, dep.RateLimitRPS, dep.RateLimitBurst))
	}
	r.Use(chimid.Compress(5))

	// Health endpoints
	r.Get("/healthz", dep.HealthHandler.Liveness)
	r.Get("/readyz", dep.HealthHandler.Readiness)

	users := func(ur chi.Router) {
		ur.Post("/", dep.UsersHandler.Create)
		ur.Get("/", dep.UsersHandler.Get)
	}
	r.Route("/user", users)
	// Same surface under the web client's /api prefix.
	r.Route("/api/user", users)

	return r
}
