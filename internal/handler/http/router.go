package http

import (
	"log/slog"

	"github.com/cmlabs-hris/hris-selfservice-go/internal/handler/http/middleware"
	"github.com/cmlabs-hris/hris-selfservice-go/internal/pkg/jwt"
	"github.com/cmlabs-hris/hris-selfservice-go/internal/service/workspace"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httplog/v3"
	"github.com/go-chi/jwtauth/v5"
)

func NewRouter(
	logger *slog.Logger,
	allowedOrigins []string,
	JWTService jwt.Service,
	pool *workspace.Pool,
	authHandler AuthHandler,
	requestHandler RequestHandler,
	policyHandler PolicyHandler,
	eventsHandler EventsHandler,
) *chi.Mux {
	r := chi.NewRouter()

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowCredentials: true,
		AllowedMethods:   []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token"},
		ExposedHeaders:   []string{"Link"},
		MaxAge:           300,
	}))

	r.Use(chiMiddleware.RequestID)
	r.Use(httplog.RequestLogger(logger, &httplog.Options{
		Level:  slog.LevelInfo,
		Schema: httplog.SchemaECS,
	}))

	r.Use(chiMiddleware.CleanPath)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/"))

	r.Route("/api/v1", func(r chi.Router) {

		r.Post("/auth/login", authHandler.Login)

		// EventSource cannot set headers, so only the stream takes ?jwt=
		r.Group(func(r chi.Router) {
			r.Use(jwtauth.Verify(JWTService.JWTAuth(), jwtauth.TokenFromHeader, jwtauth.TokenFromQuery))
			r.Use(middleware.AuthRequired(JWTService))

			r.Get("/events", eventsHandler.Stream)
		})

		// Requires a gateway session
		r.Group(func(r chi.Router) {
			r.Use(jwtauth.Verify(JWTService.JWTAuth(), jwtauth.TokenFromHeader))
			r.Use(middleware.AuthRequired(JWTService))

			r.Post("/auth/logout", authHandler.Logout)
			r.Get("/policy", policyHandler.Get)

			r.Group(func(r chi.Router) {
				r.Use(middleware.Workspace(pool))

				r.Get("/auth/me", authHandler.Me)

				r.Route("/requests", func(r chi.Router) {
					r.Get("/", requestHandler.List)
					r.Get("/breakdown", requestHandler.Breakdown)
					r.Route("/{id}", func(r chi.Router) {
						r.Get("/", requestHandler.Get)
						r.With(middleware.RequireApprover).Post("/decision", requestHandler.Decide)
						r.Post("/cancel", requestHandler.Cancel)
					})
				})
			})
		})
	})

	return r
}
