// Package server exposes the workspace chat API over HTTP. The streaming
// endpoint relays pipeline views to the UI as server-sent events and acts
// as the pipeline's presentation collaborator.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/inkwell-labs/inkwell/internal/chat"
	"github.com/inkwell-labs/inkwell/internal/storage"
)

// Server is the HTTP front of the generation service.
type Server struct {
	router *chi.Mux
	http   *http.Server
	svc    *chat.Service
	store  storage.ConversationStore
	logger *slog.Logger
}

// New builds the router and handlers.
func New(port int, svc *chat.Service, store storage.ConversationStore, logger *slog.Logger) *Server {
	s := &Server{
		svc:    svc,
		store:  store,
		logger: logger,
	}

	r := chi.NewRouter()
	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(logger))
	r.Use(middleware.Recoverer)
	r.Use(func(next http.Handler) http.Handler {
		return otelhttp.NewHandler(next, "inkwell")
	})

	// The send route streams for the length of a generation, so the
	// request timeout only wraps the short-lived routes.
	r.Group(func(r chi.Router) {
		r.Use(TimeoutMiddleware(30 * time.Second))
		r.Post("/api/conversations/{conversationID}/cancel", s.handleCancel)
		r.Get("/api/conversations/{conversationID}/messages", s.handleHistory)
	})
	r.Post("/api/conversations/{conversationID}/messages", s.handleSend)

	s.router = r
	s.http = &http.Server{
		Addr:        fmt.Sprintf(":%d", port),
		Handler:     r,
		ReadTimeout: 30 * time.Second,
	}
	return s
}

// Handler returns the root handler, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start runs the HTTP server until Shutdown.
func (s *Server) Start() error {
	s.logger.Info("HTTP server listening", slog.String("addr", s.http.Addr))
	if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}
