// SPDX-License-Identifier: MIT

// Package opsserver is the loopback operations surface: health, metrics and
// queue management. It binds to localhost by default and carries no auth of
// its own.
package opsserver

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/ctvcoop/archivist/internal/faults"
	"github.com/ctvcoop/archivist/internal/log"
	"github.com/ctvcoop/archivist/internal/monitor"
	"github.com/ctvcoop/archivist/internal/queue"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	requestTimeout   = 30 * time.Second
	rateLimitPerMin  = 120
	shutdownDeadline = 10 * time.Second
)

// Server exposes the ops endpoints over one loopback listener.
type Server struct {
	mgr      *queue.Manager
	health   *monitor.Health
	counters *monitor.Counters
	http     *http.Server
}

// New builds the server. counters may be nil.
func New(addr string, mgr *queue.Manager, health *monitor.Health, counters *monitor.Counters) *Server {
	s := &Server{mgr: mgr, health: health, counters: counters}
	s.http = &http.Server{
		Addr:              addr,
		Handler:           s.routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.Timeout(requestTimeout))
	r.Use(httprate.LimitByIP(rateLimitPerMin, time.Minute))

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Get("/queue", s.handleQueueStats)
		r.Get("/counters", s.handleCounters)
		r.Route("/jobs", func(r chi.Router) {
			r.Get("/", s.handleListJobs)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.handleGetJob)
				r.Delete("/", s.handleRemoveJob)
				r.Post("/cancel", s.jobAction(s.mgr.Cancel))
				r.Post("/pause", s.jobAction(s.mgr.Pause))
				r.Post("/resume", s.jobAction(s.mgr.Resume))
				r.Post("/retry", s.handleRetryJob)
				r.Post("/priority", s.handleReorderJob)
			})
		})
	})
	return r
}

// Start serves until ctx is cancelled, then drains connections.
func (s *Server) Start(ctx context.Context) error {
	logger := log.WithComponent("opsserver")

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", s.http.Addr).Msg("ops server listening")
		if err := s.http.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownDeadline)
		defer cancel()
		return s.http.Shutdown(shutdownCtx)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	report := s.health.Evaluate(r.Context())
	code := http.StatusOK
	if report.Status == monitor.StatusCritical {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, report)
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	// Readiness is queue reachability; full health lives on /healthz.
	if _, err := s.mgr.Stats(r.Context()); err != nil {
		writeError(w, http.StatusServiceUnavailable, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) handleQueueStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.mgr.Stats(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleCounters(w http.ResponseWriter, r *http.Request) {
	if s.counters == nil {
		writeJSON(w, http.StatusOK, map[string]any{})
		return
	}
	totals, byCity := s.counters.Snapshot(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{
		"totals":  totals,
		"by_city": byCity,
	})
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	filter := queue.ListFilter{
		State: queue.State(r.URL.Query().Get("state")),
		City:  r.URL.Query().Get("city"),
	}
	jobs, err := s.mgr.List(r.Context(), filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, jobs)
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.mgr.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleRemoveJob(w http.ResponseWriter, r *http.Request) {
	if err := s.mgr.Remove(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRetryJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.mgr.Retry(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusCreated, job)
}

func (s *Server) handleReorderJob(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Priority int `json:"priority"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.mgr.Reorder(r.Context(), chi.URLParam(r, "id"), body.Priority); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// jobAction adapts the id-only queue transitions into handlers.
func (s *Server) jobAction(fn func(ctx context.Context, id string) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := fn(r.Context(), chi.URLParam(r, "id")); err != nil {
			writeError(w, statusFor(err), err)
			return
		}
		w.WriteHeader(http.StatusAccepted)
	}
}

func statusFor(err error) int {
	if errors.Is(err, queue.ErrNotFound) {
		return http.StatusNotFound
	}
	if kind, ok := faults.KindOf(err); ok && kind == faults.StateConflict {
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		clog := log.WithComponent("opsserver")
		clog.Debug().Err(err).Msg("response encode failed")
	}
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}
