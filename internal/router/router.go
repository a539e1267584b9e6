package router

import (
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/laundryhub/api/internal/config"
	"github.com/laundryhub/api/internal/enum"
	"github.com/laundryhub/api/internal/handler"
	mw "github.com/laundryhub/api/internal/middleware"
	"github.com/laundryhub/api/internal/service"
	"github.com/laundryhub/api/internal/telemetry"
	"github.com/laundryhub/api/internal/ws"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// Deps are the collaborators the routes are served by.
type Deps struct {
	Operators handler.AuthStore
	Orders    *service.OrderService
	Hub       *ws.Hub
	// Metrics serves /metrics; nil leaves the route out.
	Metrics http.Handler
}

// New creates a Chi router with all application routes wired up.
// Applies authentication, station scoping, and role-based middleware as needed.
func New(cfg *config.Config, deps Deps) http.Handler {
	r := chi.NewRouter()

	// Standard middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(telemetry.WithRoutePattern)

	// CORS configuration
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300, // 5 minutes
	}))

	// Public routes
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok","version":"1.0.0"}`))
	})
	if deps.Metrics != nil {
		r.Handle("/metrics", deps.Metrics)
	}

	// Auth routes (public)
	authHandler := handler.NewAuthHandler(deps.Operators, cfg.JWTSecret)
	authHandler.RegisterRoutes(r)

	// WebSocket route (handles auth internally via query param)
	r.Get("/ws/stations/{sid}/orders", func(w http.ResponseWriter, r *http.Request) {
		ws.ServeWS(deps.Hub, cfg.JWTSecret, w, r)
	})

	// Protected routes (require authentication)
	r.Group(func(r chi.Router) {
		r.Use(mw.Authenticate(cfg.JWTSecret))

		// Housekeeping (not station-scoped)
		r.Group(func(r chi.Router) {
			r.Use(mw.RequireRole(enum.OperatorRoleOwner, enum.OperatorRoleManager))
			maintenanceHandler := handler.NewMaintenanceHandler(deps.Orders)
			r.Route("/admin", maintenanceHandler.RegisterRoutes)
		})

		// Station-scoped routes
		r.Route("/stations/{sid}", func(r chi.Router) {
			r.Use(mw.RequireStation)

			orderHandler := handler.NewOrderHandler(deps.Orders)
			lockHandler := handler.NewLockHandler(deps.Orders)
			r.Route("/orders", func(r chi.Router) {
				orderHandler.RegisterRoutes(r)
				lockHandler.RegisterRoutes(r)
			})
		})
	})

	log.Println("Router initialized with all handlers")
	return otelhttp.NewHandler(r, "laundryhub-api")
}
