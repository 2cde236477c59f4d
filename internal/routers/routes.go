package routers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"chesshub/internal/handlers"
	"chesshub/internal/metrics"
	"chesshub/internal/realtime"
)

// AuthRoutes mounts the account endpoints.
func AuthRoutes(r *chi.Mux, authHandler *handlers.AuthHandler) {
	r.Route("/api/v1/auth", func(r chi.Router) {
		r.Post("/register", authHandler.RegisterHandler) // Account creation
		r.Post("/login", authHandler.LoginHandler)       // Session token
		r.Post("/logout", authHandler.LogoutHandler)     // Mark offline
	})
}

// GameRoutes mounts the read-only game and player endpoints.
func GameRoutes(r *chi.Mux, gameHandler *handlers.GameHandler) {
	r.Get("/api/v1/games/{id}", gameHandler.GetGame)
	r.Get("/api/v1/players/active", gameHandler.GetActivePlayers)
}

// RealtimeRoutes mounts the websocket endpoint and operational surfaces.
func RealtimeRoutes(r *chi.Mux, rt *realtime.Handlers) {
	r.Get("/ws", rt.ServeWS)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) { _, _ = w.Write([]byte("ok")) })
	r.Method(http.MethodGet, "/metrics", metrics.Handler())
}
