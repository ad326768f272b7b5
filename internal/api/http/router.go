package http

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/scx1332/pipe-updater/internal/logger"
)

// NewRouter registers all routes on a chi router.
func NewRouter(h *Handler) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(accessLog)

	r.Get("/", h.Root)
	r.Get("/hello/{name}", h.Hello)
	r.Get("/start", h.StartDefault)
	r.Get("/progress", h.ProgressDefault)
	r.Get("/pause", h.PauseDefault)

	r.Get("/health/live", h.Liveness)
	r.Get("/health/ready", h.Readiness)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/targets", h.ListTargets)
		r.Get("/targets/{name}", h.GetTarget)
		r.Post("/targets/{name}/start", h.StartTarget)
		r.Post("/targets/{name}/pause", h.PauseTarget)
		r.Post("/targets/{name}/resume", h.ResumeTarget)
		r.Post("/targets/{name}/cancel", h.CancelTarget)
		r.Get("/history", h.ListHistory)
		r.Get("/history/{id}", h.GetHistory)
	})

	return r
}

// accessLog logs every request once it completes.
func accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ctx := logger.WithKV(logger.WithName(r.Context(), "http"), "request_id", middleware.GetReqID(r.Context()))
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r.WithContext(ctx))

		logger.DebugKV(ctx, "Request completed",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start))
	})
}
