// Package web exposes the run trigger and status over HTTP.
package web

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/huru0825/kenpo-watcher/internal/auth"
	"github.com/huru0825/kenpo-watcher/internal/runner"
	"go.uber.org/zap"
)

// Runner is the part of runner.Runner the server drives.
type Runner interface {
	Trigger(ctx context.Context) bool
	Running() bool
	Last() (runner.Report, bool)
}

type Server struct {
	Runner Runner
	Auth   *auth.Bearer
	Log    *zap.Logger

	// BaseCtx parents triggered runs so they outlive the request.
	BaseCtx context.Context
}

type runResponse struct {
	Status string `json:"status"`
}

type statusResponse struct {
	Running bool           `json:"running"`
	Last    *runner.Report `json:"last"`
}

func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})

	mux.Handle("/run", s.Auth.Require(http.HandlerFunc(s.handleRun)))
	mux.Handle("/status", s.Auth.Require(http.HandlerFunc(s.handleStatus)))

	return mux
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	ctx := s.BaseCtx
	if ctx == nil {
		ctx = context.WithoutCancel(r.Context())
	}

	status := "started"
	if !s.Runner.Trigger(ctx) {
		status = "busy"
	}
	s.logger().Info("run requested", zap.String("status", status), zap.String("remote", r.RemoteAddr))
	writeJSON(w, http.StatusAccepted, runResponse{Status: status})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	resp := statusResponse{Running: s.Runner.Running()}
	if last, ok := s.Runner.Last(); ok {
		resp.Last = &last
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) logger() *zap.Logger {
	if s.Log == nil {
		return zap.NewNop()
	}
	return s.Log
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// Start serves h until ctx is cancelled, then shuts down gracefully.
func Start(ctx context.Context, addr string, h http.Handler, log *zap.Logger) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	log.Info("listening", zap.String("addr", addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
