// Package server exposes the workflow dispatcher over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"autoclip/internal/session"
	"autoclip/internal/workflow"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

type Config struct {
	Addr            string        `mapstructure:"addr"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// Dispatcher runs one inbound request to completion.
type Dispatcher interface {
	Dispatch(ctx context.Context, req workflow.Request) workflow.Response
}

// Sessions is the diagnostic and teardown view of the session manager.
type Sessions interface {
	List() []session.Info
	Shutdown()
}

type Server struct {
	cfg        Config
	dispatcher Dispatcher
	sessions   Sessions
	router     *mux.Router
	log        *zap.Logger
}

func New(cfg Config, d Dispatcher, sessions Sessions, log *zap.Logger) *Server {
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}
	s := &Server{cfg: cfg, dispatcher: d, sessions: sessions, router: mux.NewRouter(), log: log.Named("server")}

	s.router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	}).Methods(http.MethodGet)
	s.router.HandleFunc("/v1/requests", s.handleRequest).Methods(http.MethodPost)
	s.router.HandleFunc("/v1/sessions", s.handleSessions).Methods(http.MethodGet)
	return s
}

func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) handleRequest(w http.ResponseWriter, r *http.Request) {
	var req workflow.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.log.Debug("rejected request body", zap.Error(err))
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	s.log.Info("request received", zap.String("kind", req.Kind), zap.String("remote", r.RemoteAddr))
	writeJSON(w, s.dispatcher.Dispatch(r.Context(), req))
}

func (s *Server) handleSessions(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, s.sessions.List())
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

// Serve accepts connections on l until ctx ends, then drains in-flight
// requests and closes every live session.
func (s *Server) Serve(ctx context.Context, l net.Listener) error {
	srv := &http.Server{Handler: s.router, ReadHeaderTimeout: 10 * time.Second}

	errc := make(chan error, 1)
	go func() { errc <- srv.Serve(l) }()
	s.log.Info("listening", zap.String("addr", l.Addr().String()))

	select {
	case err := <-errc:
		s.sessions.Shutdown()
		return fmt.Errorf("server stopped: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()
	err := srv.Shutdown(shutdownCtx)
	s.sessions.Shutdown()
	if serveErr := <-errc; serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
		return serveErr
	}
	if err != nil {
		return fmt.Errorf("graceful shutdown: %w", err)
	}
	s.log.Info("stopped")
	return nil
}

// ListenAndServe listens on the configured address and serves until ctx ends.
func (s *Server) ListenAndServe(ctx context.Context) error {
	l, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.cfg.Addr, err)
	}
	return s.Serve(ctx, l)
}
