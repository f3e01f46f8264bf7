// Package server exposes the upload pipeline to browser front ends over a
// local HTTP and WebSocket API.
package server

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/gorilla/websocket"
	"github.com/samber/lo"

	"upload-ai/internal/domain"
	"upload-ai/internal/pipeline"
	"upload-ai/internal/preview"
)

const (
	maxVideoBytes    = 512 << 20
	maxJSONBodyBytes = 64 << 10
	shutdownTimeout  = 30 * time.Second
)

// Pipeline is the controller surface the API drives.
type Pipeline interface {
	SelectVideo(sel domain.VideoSelection) (string, error)
	Submit(ctx context.Context, prompt string) (string, error)
	State() domain.PipelineState
	Selection() (domain.VideoSelection, string, bool)
	Events(seq int64) []pipeline.Event
	Subscribe(buffer int) (<-chan pipeline.Event, func())
}

// PromptLister fetches prompt suggestions.
type PromptLister interface {
	ListPrompts(ctx context.Context) ([]domain.Prompt, error)
}

// RunLister reads recorded runs.
type RunLister interface {
	List(ctx context.Context, limit int) ([]domain.Run, error)
}

// Config wires a Server. Pipeline is required.
type Config struct {
	Pipeline    Pipeline
	Prompts     PromptLister
	History     RunLister
	Previews    http.Handler
	CORSOrigins []string
	// Assets, when set, serves a browser front end at the root.
	Assets http.Handler
}

// Server routes API requests to the pipeline.
type Server struct {
	pipeline    Pipeline
	prompts     PromptLister
	history     RunLister
	previews    http.Handler
	assets      http.Handler
	corsOrigins []string
	upgrader    websocket.Upgrader
}

// New builds a server.
func New(cfg Config) (*Server, error) {
	if cfg.Pipeline == nil {
		return nil, fmt.Errorf("server: pipeline is required")
	}
	s := &Server{
		pipeline:    cfg.Pipeline,
		prompts:     cfg.Prompts,
		history:     cfg.History,
		previews:    cfg.Previews,
		assets:      cfg.Assets,
		corsOrigins: cfg.CORSOrigins,
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin:     s.checkOrigin,
	}
	return s, nil
}

// checkOrigin applies the CORS origin list to websocket upgrades.
func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || len(s.corsOrigins) == 0 {
		return true
	}
	return lo.Contains(s.corsOrigins, "*") || lo.Contains(s.corsOrigins, origin)
}

// Router builds the HTTP handler tree.
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()

	r.Use(chimw.Recoverer)
	r.Use(chimw.RealIP)
	r.Use(Logger)
	r.Use(cors.Handler(CORSOptions(s.corsOrigins)))

	r.Route("/api", func(r chi.Router) {
		r.Post("/selection", s.handleSelection)
		r.With(maxBodySize(maxJSONBodyBytes)).Post("/submit", s.handleSubmit)
		r.Get("/state", s.handleState)
		r.Get("/events", s.handleEvents)
		r.Get("/events/ws", s.handleEventStream)
		r.Get("/prompts", s.handlePrompts)
		r.Get("/history", s.handleHistory)
	})

	if s.previews != nil {
		r.Handle(preview.PathPrefix+"*", s.previews)
	}
	if s.assets != nil {
		r.Handle("/*", s.assets)
	}
	return r
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("[server] listening on %s", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("listen on %s: %w", addr, err)
	case <-ctx.Done():
	}

	log.Printf("[server] shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown server: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func maxBodySize(maxBytes int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
			next.ServeHTTP(w, r)
		})
	}
}
