package http

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/vasiliy-maslov/ecommerce-storefront/internal/auth"
)

// Handlers groups everything the API router mounts.
type Handlers struct {
	Auth    *AuthHandler
	Account *AccountHandler
	Catalog *CatalogHandler
	Cart    *CartHandler
	Orders  *OrderHandler
	Reviews *ReviewHandler
	Admin   *AdminHandler
	Webhook *WebhookHandler
}

// HealthCheck reports whether a dependency is reachable.
type HealthCheck func(ctx context.Context) error

func NewRouter(tokens *auth.TokenManager, h Handlers, health HealthCheck) *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, req *http.Request) {
		if health != nil {
			if err := health(req.Context()); err != nil {
				respondWithError(w, req, err)
				return
			}
		}
		respondWithData(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	requireAuth := auth.RequireAuth(tokens, respondWithError)
	requireAdmin := auth.RequireAdmin(respondWithError)

	r.Route("/api", func(api chi.Router) {
		api.Use(middleware.NoCache)

		h.Auth.RegisterRoutes(api)
		h.Catalog.RegisterRoutes(api)
		h.Reviews.RegisterRoutes(api)
		h.Webhook.RegisterRoutes(api)

		api.Group(func(user chi.Router) {
			user.Use(requireAuth)
			h.Account.RegisterRoutes(user)
			h.Cart.RegisterRoutes(user)
			h.Orders.RegisterRoutes(user)
			h.Reviews.RegisterUserRoutes(user)
		})

		api.Route("/admin", func(admin chi.Router) {
			admin.Use(requireAuth, requireAdmin)
			h.Admin.RegisterRoutes(admin)
			h.Catalog.RegisterAdminRoutes(admin)
		})
	})

	r.NotFound(func(w http.ResponseWriter, req *http.Request) {
		respondWithJSON(w, http.StatusNotFound, ErrorResponse{Error: ErrorBody{Code: "not_found", Message: "route not found"}})
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, req *http.Request) {
		respondWithJSON(w, http.StatusMethodNotAllowed, ErrorResponse{Error: ErrorBody{Code: "method_not_allowed", Message: "method not allowed"}})
	})

	return r
}
