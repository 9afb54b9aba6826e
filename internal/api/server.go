// Package api exposes the HTTP surface: health probe, metrics snapshot and
// a status endpoint for operators.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/samfawaz/mailcal/internal/metrics"
)

type Server struct {
	router  *chi.Mux
	metrics *metrics.Registry
	httpSrv *http.Server
	model   string
}

func NewServer(port int, reg *metrics.Registry, model string) *Server {
	router := chi.NewRouter()
	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)

	s := &Server{
		router:  router,
		metrics: reg,
		model:   model,
		httpSrv: &http.Server{
			Addr:    fmt.Sprintf(":%d", port),
			Handler: router,
		},
	}

	router.Get("/health", s.health)
	router.Get("/metrics", s.metricsSnapshot)
	router.Get("/api/v1/mailcal/status", s.status)

	return s
}

func (s *Server) Start() error {
	slog.Info("API server starting", "addr", s.httpSrv.Addr)
	err := s.httpSrv.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpSrv.Shutdown(ctx)
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]string{"status": "ok"})
}

func (s *Server) metricsSnapshot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.metrics.Snapshot())
}

func (s *Server) status(w http.ResponseWriter, r *http.Request) {
	snap := s.metrics.Snapshot()
	writeJSON(w, map[string]any{
		"service":            "mailcal",
		"model":              s.model,
		"time":               time.Now().UTC().Format(time.RFC3339),
		"messages_processed": snap.MessagesProcessed,
	})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(v)
}
