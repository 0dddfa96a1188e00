package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/DoyleJ11/arena-sync/internal/metrics"
	"github.com/DoyleJ11/arena-sync/internal/shell"
	"github.com/DoyleJ11/arena-sync/internal/ws"
)

func SetupRoutes(sh *shell.Shell, m *metrics.Metrics, logger *zap.SugaredLogger) http.Handler {
	logger = logger.Named("http")
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/", Index)
	r.Get("/frame.png", FramePNG(sh, logger))
	r.Get("/healthz", Healthz)
	r.Method(http.MethodGet, "/metrics", m.Handler())
	r.Get("/ws", ws.Handler(sh, logger))

	r.Route("/api", func(r chi.Router) {
		r.Post("/join", Join(sh, logger))
		r.Post("/disconnect", Disconnect(sh))
		r.Get("/state", State(sh))
	})
	return r
}
