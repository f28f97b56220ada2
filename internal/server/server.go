// Copyright (C) 2025-2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/noldarim/edumesh/internal/config"
	"github.com/noldarim/edumesh/internal/protocol"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel"
)

// Server is the REST + WebSocket API server.
type Server struct {
	httpServer  *http.Server
	broadcaster *EventBroadcaster
	clients     *ClientRegistry
}

// New creates and wires up the API server. It does NOT start listening;
// call Run() for that. A nil students store leaves out the roster routes
// and the class analysis shortcut.
func New(cfg *config.ServerConfig, eventChan <-chan protocol.Event, manager Manager, students StudentStore) *Server {
	registry := NewClientRegistry()
	broadcaster := NewEventBroadcaster(eventChan, registry)
	handlers := NewHandlers(manager, students)

	r := chi.NewRouter()

	// Global middleware
	r.Use(Recovery)
	r.Use(RequestID)
	r.Use(Logger)
	r.Use(Tracing(otel.GetTracerProvider()))
	r.Use(CORS(cfg.AllowedOrigins))
	r.Use(MaxBodySize(4 << 20))

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", handlers.GetHealth)

		// Workflows
		r.Post("/analysis", handlers.RunAnalysis)
		r.Post("/analysis/async", handlers.SubmitAnalysis)
		r.Get("/workflows", handlers.GetWorkflows)

		// Analysis shortcuts
		r.Get("/analysis/student/{id}/behavior", handlers.AnalyzeStudentBehavior)
		r.Get("/analysis/knowledge-points/{subject}/mastery", handlers.AnalyzeKnowledgeMastery)
		r.Get("/analysis/choice-patterns", handlers.AnalyzeChoicePatterns)
		r.Get("/analysis/trends/learning", handlers.AnalyzeLearningTrends)

		// Students
		if students != nil {
			r.Get("/analysis/class/{className}/performance", handlers.AnalyzeClassPerformance)
			r.Route("/students", func(r chi.Router) {
				r.Get("/", handlers.ListStudents)
				r.Post("/", handlers.CreateStudent)
				r.Post("/batch", handlers.BatchCreateStudents)
				r.Get("/statistics/overview", handlers.StudentStatistics)
				r.Get("/student-no/{studentNo}", handlers.GetStudentByNo)
				r.Get("/class/{className}/students", handlers.ClassStudents)
				r.Get("/{id}", handlers.GetStudent)
				r.Put("/{id}", handlers.UpdateStudent)
				r.Delete("/{id}", handlers.DeleteStudent)
			})
		}

		// Agents
		r.Get("/agents", handlers.GetAgents)
		r.Get("/agents/{id}", handlers.GetAgent)
		r.Post("/agents/{id}/messages", handlers.SendMessage)

		// System
		r.Get("/metrics", handlers.GetMetrics)
		r.Get("/history", handlers.GetHistory)
	})

	// WebSocket
	r.Get("/ws", HandleWebSocket(registry, cfg.AllowedOrigins))

	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)

	return &Server{
		httpServer: &http.Server{
			Addr:              addr,
			Handler:           r,
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       15 * time.Second,
			// Synchronous analysis requests run a whole workflow
			WriteTimeout: 10 * time.Minute,
			IdleTimeout:  60 * time.Second,
		},
		broadcaster: broadcaster,
		clients:     registry,
	}
}

// Handler returns the router, for embedding or tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Clients returns the WebSocket client registry.
func (s *Server) Clients() *ClientRegistry {
	return s.clients
}

// Run starts the event broadcaster goroutine and the HTTP server.
// Blocks until the server is shut down or the context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	go s.RunBroadcaster(ctx)

	getLog().Info().Str("addr", s.httpServer.Addr).Msg("API server listening")
	err := s.httpServer.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// RunBroadcaster dispatches events to WebSocket clients until ctx is done,
// restarting the broadcaster a bounded number of times after a panic.
func (s *Server) RunBroadcaster(ctx context.Context) {
	const maxRetries = 3
	for attempt := 1; attempt <= maxRetries; attempt++ {
		func() {
			defer func() {
				if r := recover(); r != nil {
					getLog().Error().Interface("panic", r).Int("attempt", attempt).Msg("Event broadcaster panic")
				}
			}()
			s.broadcaster.Run(ctx)
		}()

		// Normal return (context cancelled or channel closed), no retry.
		if ctx.Err() != nil || s.broadcaster.Closed() {
			return
		}

		if attempt < maxRetries {
			getLog().Warn().Int("attempt", attempt).Msg("Restarting event broadcaster after panic")
			time.Sleep(1 * time.Second)
		}
	}
	getLog().Error().Msg("Event broadcaster exhausted retries - events will no longer be dispatched")
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
