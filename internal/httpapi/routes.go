package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/DoyleJ11/nightfall-backend/internal/hub"
	"github.com/DoyleJ11/nightfall-backend/internal/lobby"
	"github.com/DoyleJ11/nightfall-backend/internal/ws"
)

func SetupRoutes(h *hub.Hub, defaults lobby.Config, log *zap.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	// Public routes
	r.Post("/lobbies", CreateLobby(h, defaults, log))
	r.Get("/lobbies/{code}", GetLobby(h))
	r.Post("/lobbies/{code}/agents", AddAgents(h))
	r.Get("/healthz", Healthz)
	r.Get("/ws", ws.Handler(h, log))
	return r
}
