package handlers

import (
	"net/http"

	"couple-cook-backend/internal/middleware"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// RouterConfig collects everything the HTTP surface is built from. Image is
// optional; without it the upload route is not mounted.
type RouterConfig struct {
	User        *UserHandler
	Partnership *PartnershipHandler
	Recipe      *RecipeHandler
	Image       *ImageHandler
	WebSocket   *WebSocketHandler
	Tokens      middleware.TokenValidator
	JoinLimit   func(http.Handler) http.Handler
	Metrics     bool
}

// NewRouter builds the chi router
func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(corsMiddleware)
	if cfg.Metrics {
		r.Use(middleware.PrometheusMiddleware)
		r.Handle("/metrics", promhttp.Handler())
	}

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api/v1", func(r chi.Router) {
		// Public routes
		r.Post("/auth/session", cfg.User.CreateSession)

		// Protected routes
		r.Group(func(r chi.Router) {
			r.Use(middleware.AuthMiddleware(cfg.Tokens))

			r.Get("/me", cfg.User.GetMe)
			r.Patch("/me", cfg.User.UpdateMe)
			r.Put("/me/push-token", cfg.User.UpdatePushToken)

			r.Get("/partner", cfg.Partnership.GetPartner)
			r.Get("/partnership", cfg.Partnership.GetPartnership)
			r.Post("/partnerships/invite", cfg.Partnership.CreateInvite)
			r.With(orNoop(cfg.JoinLimit)).Post("/partnerships/join", cfg.Partnership.Join)
			r.Delete("/partnerships/{partnership_id}", cfg.Partnership.Leave)

			r.Route("/recipes", func(r chi.Router) {
				r.Get("/", cfg.Recipe.ListRecipes)
				r.Post("/", cfg.Recipe.CreateRecipe)
				r.Route("/{recipe_id}", func(r chi.Router) {
					r.Get("/", cfg.Recipe.GetRecipe)
					r.Delete("/", cfg.Recipe.DeleteRecipe)
					r.Put("/versions/latest", cfg.Recipe.EditLatest)
					r.Post("/versions", cfg.Recipe.Upgrade)
					r.Post("/versions/{version}/comments", cfg.Recipe.AddComment)
					r.Patch("/versions/{version}/comments/{comment_id}", cfg.Recipe.EditComment)
					r.Delete("/versions/{version}/comments/{comment_id}", cfg.Recipe.DeleteComment)
				})
			})

			if cfg.Image != nil {
				r.Post("/images/upload", cfg.Image.UploadImage)
			}
		})
	})

	// WebSocket route
	r.Get("/ws", cfg.WebSocket.HandleWebSocket)

	return r
}

func orNoop(mw func(http.Handler) http.Handler) func(http.Handler) http.Handler {
	if mw == nil {
		return func(next http.Handler) http.Handler { return next }
	}
	return mw
}

// corsMiddleware handles CORS
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}
