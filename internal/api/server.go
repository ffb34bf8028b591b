// Package api exposes the ops HTTP interface for the pipeline service.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/immotrace/contact-pipeline/internal/contact"
	"github.com/immotrace/contact-pipeline/internal/metrics"
	"github.com/immotrace/contact-pipeline/internal/middleware"
)

const storeTimeout = 3 * time.Second

// StatsProvider reports per-source runner states.
type StatsProvider interface {
	States() map[string]string
}

// Server wires the read-only ops endpoints.
type Server struct {
	router chi.Router
	store  contact.Store
	stats  StatsProvider
	logger *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(store contact.Store, stats StatsProvider, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		store:  store,
		stats:  stats,
		logger: logger,
	}

	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.Timeout(30 * time.Second))
	r.Use(middleware.Metrics)

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Handle("/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Get("/stats", s.getStats)
		r.Get("/contacts", s.listContacts)
	})

	s.router = r
	return s
}

// Handler returns the router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeError(w, http.StatusServiceUnavailable, "contact store unavailable")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), storeTimeout)
	defer cancel()
	if _, err := s.store.ListByType(ctx, contact.TypeEmail); err != nil {
		writeError(w, http.StatusServiceUnavailable, "contact store not reachable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) getStats(w http.ResponseWriter, _ *http.Request) {
	states := map[string]string{}
	if s.stats != nil {
		states = s.stats.States()
	}
	writeJSON(w, http.StatusOK, map[string]any{"sources": states})
}

// listContacts handles GET /v1/contacts?type=email|phone|form.
func (s *Server) listContacts(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeError(w, http.StatusServiceUnavailable, "contact store unavailable")
		return
	}
	t := contact.ContactType(r.URL.Query().Get("type"))
	switch t {
	case contact.TypeEmail, contact.TypePhone, contact.TypeForm:
	default:
		writeError(w, http.StatusBadRequest, "type must be email, phone, or form")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), storeTimeout)
	defer cancel()
	contacts, err := s.store.ListByType(ctx, t)
	if err != nil {
		s.logger.Error("list contacts failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "list contacts failed")
		return
	}
	if contacts == nil {
		contacts = []contact.Contact{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"contacts": contacts})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
