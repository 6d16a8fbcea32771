package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/r11922135/chat/internal/api/middleware"
	"github.com/r11922135/chat/internal/handlers"
	"github.com/r11922135/chat/internal/hub"
)

const maxRequestBody = 1 << 20 // 1 MB

// NewRouter builds the HTTP routing table.
func NewRouter(
	h *handlers.Handler,
	authMW *middleware.AuthMiddleware,
	gateway *hub.Gateway,
	logger zerolog.Logger,
) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.Metrics)
	r.Use(middleware.SecurityHeaders)
	r.Use(middleware.MaxBodySize(maxRequestBody))
	r.Use(middleware.ValidateRequest)
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logger(logger))
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.Timeout(30 * time.Second))

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/healthz", h.Health)
	r.Handle("/metrics", promhttp.Handler())

	// Websocket handshake; auth happens inside the gateway before upgrade.
	r.Get("/ws", gateway.ServeWS)

	r.Route("/api", func(r chi.Router) {
		r.Post("/auth/register", h.Register)
		r.Post("/auth/login", h.Login)

		r.Group(func(r chi.Router) {
			r.Use(authMW.RequireAuth)

			r.Get("/users", h.SearchUsers)

			r.Get("/rooms", h.ListRooms)
			r.Post("/rooms", h.CreateRoom)
			r.Post("/rooms/direct", h.CreateDirectRoom)

			r.Route("/rooms/{roomID}", func(r chi.Router) {
				r.Use(authMW.RequireRoomMember)

				r.Post("/invite", h.InviteUsers)
				r.Post("/leave", h.LeaveRoom)
				r.Post("/read", h.MarkRead)
				r.Get("/messages", h.ListMessages)
				r.Post("/messages", h.PostMessage)
			})
		})
	})

	return r
}
