// Package api exposes the engine's public contract over HTTP. The
// surface is deliberately thin: handlers adapt JSON requests to engine
// operations and snapshots back to JSON, nothing more.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"golang.org/x/sync/errgroup"

	fleans "github.com/nightBaker/fleans-sub002"
	"github.com/nightBaker/fleans-sub002/engine"
	"github.com/nightBaker/fleans-sub002/store"
)

// Server serves the workflow HTTP API.
type Server struct {
	eng    *engine.Engine
	store  store.Store
	logger *slog.Logger
	router *mux.Router
}

// NewServer creates a Server over an engine. The store serves list
// queries that the engine does not expose.
func NewServer(eng *engine.Engine, st store.Store, logger *slog.Logger) *Server {
	s := &Server{eng: eng, store: st, logger: logger, router: mux.NewRouter()}
	s.routes()
	return s
}

// Handler returns the assembled HTTP handler.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) routes() {
	v1 := s.router.PathPrefix("/v1").Subrouter()

	v1.HandleFunc("/definitions", s.registerDefinition).Methods(http.MethodPost)
	v1.HandleFunc("/instances", s.createInstance).Methods(http.MethodPost)
	v1.HandleFunc("/instances", s.listInstances).Methods(http.MethodGet)
	v1.HandleFunc("/instances/{instanceID}", s.getInstance).Methods(http.MethodGet)
	v1.HandleFunc("/instances/{instanceID}/start", s.startInstance).Methods(http.MethodPost)
	v1.HandleFunc("/instances/{instanceID}/activities/{activityID}/complete", s.completeActivity).Methods(http.MethodPost)
	v1.HandleFunc("/instances/{instanceID}/activities/{activityID}/fail", s.failActivity).Methods(http.MethodPost)

	s.router.HandleFunc("/healthz", s.health).Methods(http.MethodGet)
}

// Run serves the API on addr until the context is cancelled, then shuts
// the listener down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.logger.Info("api listening", slog.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(r.Context()); err != nil {
		s.writeError(w, http.StatusServiceUnavailable, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("response encoding failed", slog.String("error", err.Error()))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, err error) {
	s.writeJSON(w, status, map[string]string{"error": err.Error()})
}

// statusFor maps engine errors onto HTTP statuses.
func statusFor(err error) int {
	switch {
	case errors.Is(err, fleans.ErrInstanceNotFound),
		errors.Is(err, fleans.ErrSnapshotNotFound),
		errors.Is(err, fleans.ErrDefinitionNotFound):
		return http.StatusNotFound
	case errors.Is(err, fleans.ErrAlreadyStarted),
		errors.Is(err, fleans.ErrInvalidTransition),
		errors.Is(err, fleans.ErrUnknownActivity),
		errors.Is(err, fleans.ErrWorkflowNotSet):
		return http.StatusConflict
	case errors.Is(err, fleans.ErrEngineStopped):
		return http.StatusServiceUnavailable
	default:
		var defErr *fleans.DefinitionError
		if errors.As(err, &defErr) {
			return http.StatusBadRequest
		}
		return http.StatusInternalServerError
	}
}
