package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	intakeHandler "github.com/zhouzirui/gyn-intake/backend/internal/handler/intake"
	"github.com/zhouzirui/gyn-intake/backend/internal/handler/live"
	middlewarePkg "github.com/zhouzirui/gyn-intake/backend/internal/middleware"
	"github.com/zhouzirui/gyn-intake/backend/internal/model/protocol"
	intakeService "github.com/zhouzirui/gyn-intake/backend/internal/service/intake"
	"github.com/zhouzirui/gyn-intake/backend/pkg/utils"
)

// NewRouter wires HTTP routes to core services.
func NewRouter(workflow *intakeService.Workflow, sessions intakeHandler.Lister, protocols protocol.Store) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middlewarePkg.CORS())

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		utils.RespondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	sessionHandler := intakeHandler.New(workflow, sessions, protocols)
	liveHandler := live.New(workflow)

	r.Route("/api", func(api chi.Router) {
		sessionHandler.RegisterProtocolRoutes(api)
		api.Route("/sessions", func(sessions chi.Router) {
			sessionHandler.RegisterRoutes(sessions)
			liveHandler.RegisterRoutes(sessions)
		})
	})

	return r
}
