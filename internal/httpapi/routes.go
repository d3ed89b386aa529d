package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/tabletop-forge/mapsync/internal/hub"
	"github.com/tabletop-forge/mapsync/internal/store"
	"github.com/tabletop-forge/mapsync/internal/ws"
)

func SetupRoutes(h *hub.Hub, st store.Store, log *zap.Logger) http.Handler {
	api := NewAPI(st, log)

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", Healthz)
	r.Get("/ws", ws.Handler(h, st, log))

	r.Route("/maps", func(r chi.Router) {
		r.Post("/", api.createMap)
		r.Route("/{mapID}", func(r chi.Router) {
			r.Get("/", api.getMap)
			r.Put("/", api.putMap)
			r.Delete("/", api.deleteMap)

			r.Post("/tokens", api.createToken)
			r.Route("/tokens/{tokenID}", func(r chi.Router) {
				r.Patch("/", api.patchToken)
				r.Put("/position", api.moveToken)
				r.Delete("/", api.deleteToken)
			})

			r.Post("/chat", api.appendChat)
			r.Get("/chat", api.listChat)
			r.Delete("/chat", api.clearChat)
		})
	})
	return r
}
