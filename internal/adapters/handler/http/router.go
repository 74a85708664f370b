package http

import (
	"context"
	"net/http"
	"time"

	"github.com/Blint-Studio/sistema-elecciones-sub001/internal/metrics"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

// HealthCheck reports whether the service's backing stores are reachable.
type HealthCheck func(ctx context.Context) error

func NewHandler(tallyHandler *TallyHandler, adminHandler *AdminHandler, health HealthCheck, logger *zap.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(accessLog(logger))
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if err := health(r.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "unavailable", Message: err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Route("/tallies", func(r chi.Router) {
			r.Post("/", tallyHandler.Submit)
			r.Get("/{id}", tallyHandler.Get)
			r.Patch("/{id}", tallyHandler.Revise)
			r.Delete("/{id}", tallyHandler.Retract)
		})

		r.Get("/aggregates", adminHandler.GetAggregate)

		r.Route("/admin", func(r chi.Router) {
			r.Post("/reconcile", adminHandler.Reconcile)
			r.Post("/reconcile-all", adminHandler.ReconcileAll)
			r.Post("/repair-numbering", adminHandler.RepairNumbering)
		})
	})

	return r
}

func accessLog(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			defer func() {
				logger.Info("request",
					zap.String("method", r.Method),
					zap.String("path", r.URL.Path),
					zap.Int("status", ww.Status()),
					zap.Int("bytes", ww.BytesWritten()),
					zap.Duration("duration", time.Since(start)),
					zap.String("request_id", middleware.GetReqID(r.Context())))
			}()
			next.ServeHTTP(ww, r)
		})
	}
}
