package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/zhouzirui/query-preprocess/backend/internal/handler/api"
	"github.com/zhouzirui/query-preprocess/backend/internal/handler/page"
	"github.com/zhouzirui/query-preprocess/backend/internal/handler/ws"
	middlewarePkg "github.com/zhouzirui/query-preprocess/backend/internal/middleware"
	"github.com/zhouzirui/query-preprocess/backend/internal/service/rewrite"
)

// NewRouter wires HTTP routes to core services. A nil gatherer disables /metrics.
func NewRouter(svc *rewrite.Service, gatherer prometheus.Gatherer, logger *zap.Logger) http.Handler {
	if logger == nil {
		logger = zap.NewNop()
	}

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("ok"))
	})

	if gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}

	sessions := middlewarePkg.Session(svc)

	r.Group(func(s chi.Router) {
		s.Use(sessions)
		page.New(svc, logger).RegisterRoutes(s)
	})

	// CORS answers preflights before a session is created.
	r.Route("/api", func(apiRouter chi.Router) {
		apiRouter.Use(middlewarePkg.CORS)
		apiRouter.Use(sessions)

		api.New(svc).RegisterRoutes(apiRouter)
		ws.New(svc, logger).RegisterRoutes(apiRouter)
	})

	return r
}
