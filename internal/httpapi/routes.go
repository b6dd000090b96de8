// Package httpapi exposes the session lifecycle over REST. Gameplay
// itself happens on the websocket; these routes only create, list, join,
// start, and remove sessions.
package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/railgrid/server/internal/auth"
	"github.com/railgrid/server/internal/lifecycle"
	"github.com/railgrid/server/internal/ws"
)

func SetupRoutes(m *lifecycle.Manager, secret []byte, log *zap.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	// Public routes
	r.Get("/healthz", Healthz)
	r.Get("/ws", ws.Handler(m, secret, log))

	// Authenticated routes
	r.Group(func(r chi.Router) {
		r.Use(auth.Middleware(secret))
		r.Post("/sessions", CreateSession(m))
		r.Get("/sessions", ListSessions(m))
		r.Post("/sessions/join", JoinSession(m))
		r.Post("/sessions/{id}/start", StartSession(m))
		r.Post("/sessions/{id}/leave", LeaveSession(m))
		r.Post("/sessions/{id}/complete", CompleteSession(m))
		r.Post("/sessions/{id}/bots", AddBot(m))
		r.Delete("/sessions/{id}/bots/{playerID}", RemoveBot(m))
		r.Delete("/sessions/{id}", DeleteSession(m))
	})
	return r
}

func Healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}
