package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/outflowhq/outflow/internal/api/handler"
	"github.com/outflowhq/outflow/internal/api/middleware"
	"github.com/outflowhq/outflow/internal/api/response"
	"github.com/outflowhq/outflow/internal/cache"
	"github.com/outflowhq/outflow/internal/enrich"
	"github.com/outflowhq/outflow/internal/store"
)

// Dependencies holds everything the router needs to wire up handlers.
type Dependencies struct {
	Store          store.Store
	Cache          cache.Cache
	EnrichService  *enrich.Service
	RequestsPerMin int
}

// NewRouter builds the HTTP routing tree.
func NewRouter(deps Dependencies) http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recovery)

	auth := middleware.NewAuth(deps.Store)
	rateLimit := middleware.NewRateLimit(deps.Cache, deps.RequestsPerMin)

	enrichH := handler.NewEnrichHandler(deps.EnrichService)
	jobH := handler.NewJobHandler(deps.EnrichService)
	keysH := handler.NewKeysHandler(deps.Store)

	r.Route("/api/v1", func(r chi.Router) {
		// Public
		r.Get("/health", healthHandler(deps))

		// Authenticated
		r.Group(func(r chi.Router) {
			r.Use(auth.Authenticate)
			r.Use(rateLimit.Limit)

			r.Route("/enrich", func(r chi.Router) {
				r.With(auth.RequireScope("write")).Post("/", enrichH.Create)
				r.Route("/jobs/{jobID}", func(r chi.Router) {
					r.With(auth.RequireScope("read")).Get("/", jobH.Get)
					r.With(auth.RequireScope("write")).Post("/cancel", jobH.Cancel)
				})
			})

			r.Route("/admin/keys", func(r chi.Router) {
				r.Use(auth.RequireScope("admin"))
				r.Post("/", keysH.Create)
				r.Get("/", keysH.List)
				r.Delete("/{keyID}", keysH.Revoke)
			})
		})
	})

	return r
}

func healthHandler(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		checks := map[string]string{
			"database": "ok",
			"cache":    "ok",
		}
		healthy := true

		if err := deps.Store.Ping(r.Context()); err != nil {
			checks["database"] = "unreachable"
			healthy = false
		}
		if err := deps.Cache.Ping(r.Context()); err != nil {
			checks["cache"] = "unreachable"
			healthy = false
		}

		if !healthy {
			response.Error(w, http.StatusServiceUnavailable, "UNHEALTHY", "One or more dependencies are down", checks)
			return
		}
		response.JSON(w, map[string]any{"status": "ok", "checks": checks})
	}
}
