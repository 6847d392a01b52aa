// Package server is the HTTP controller over a recording session: device
// listing, filter selection, start/stop, status and the finished WAV.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/satindergrewal/phonoscope/internal/capture"
	"github.com/satindergrewal/phonoscope/internal/logging"
	"github.com/satindergrewal/phonoscope/internal/render"
	"github.com/satindergrewal/phonoscope/internal/session"
)

var log = logging.L("server")

// Config holds server configuration.
type Config struct {
	Port          int
	OutputName    string // download file name
	DefaultDevice string // used when start names no device
}

// Deps are the collaborators the controller drives. Trace and Monitor are
// optional live feeds.
type Deps struct {
	Session  *session.Session
	Devices  capture.Enumerator
	Renderer *render.Renderer
	Trace    http.Handler
	Monitor  http.Handler
}

// Server is the HTTP server.
type Server struct {
	config Config
	deps   Deps
	router *chi.Mux
}

// New creates a server with its routes installed.
func New(cfg Config, deps Deps) *Server {
	if cfg.OutputName == "" {
		cfg.OutputName = "heart-sound.wav"
	}
	s := &Server{
		config: cfg,
		deps:   deps,
		router: chi.NewRouter(),
	}
	s.setupRoutes()
	return s
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) setupRoutes() {
	r := s.router

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)

	r.Get("/health", s.handleHealth)

	r.Route("/api", func(r chi.Router) {
		r.Get("/devices", s.handleDevices)
		r.Post("/filter", s.handleFilter)
		r.Post("/session/start", s.handleStart)
		r.Post("/session/stop", s.handleStop)
		r.Get("/status", s.handleStatus)
		r.Get("/recording.wav", s.handleRecording)
		r.Get("/trace.png", s.handleTracePNG)
	})

	if s.deps.Trace != nil {
		r.Get("/ws/trace", s.deps.Trace.ServeHTTP)
	}
	if s.deps.Monitor != nil {
		r.Post("/offer", s.deps.Monitor.ServeHTTP)
	}
}

// requestLogger logs each request through the component logger. Websocket
// and WebRTC requests are long-lived, so only completion is logged.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		log.Debug("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"took", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()))
	})
}

// Run serves until ctx is done, then stops any active recording and shuts
// down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:        fmt.Sprintf(":%d", s.config.Port),
		Handler:     s.router,
		ReadTimeout: 30 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("server starting", "port", s.config.Port)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := s.deps.Session.Shutdown(shutdownCtx); err != nil {
		log.Warn("session shutdown", logging.KeyError, err)
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("shutdown error", logging.KeyError, err)
		return err
	}
	return nil
}
