// Package controller contains the controller-specific logic for the HTTP API.
package controller

import (
	"context"
	"errors"
	"net/http"
	"time"

	"docflow/internal/app"
	"docflow/internal/controller/handlers"
	"docflow/internal/controller/middleware"

	chimw "github.com/go-chi/chi/v5/middleware"
)

// Server is the HTTP server for the controller API.
type Server struct {
	httpServer *http.Server
}

// New creates a new controller server. metricsHandler may be nil.
func New(addr string, a *app.App, metricsHandler http.Handler) *Server {
	return &Server{
		httpServer: &http.Server{
			Addr:         addr,
			Handler:      NewHandler(a, metricsHandler),
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 5 * time.Minute, // task execution runs inline
		},
	}
}

// NewHandler builds the routed, middleware-wrapped API handler.
func NewHandler(a *app.App, metricsHandler http.Handler) http.Handler {
	h := handlers.New(handlers.Deps{
		Store:     a.Store,
		Tasks:     a.Scheduler,
		Locks:     a.Locks,
		Workflows: a.Workflows,
		Alerts:    a.Alerts,
		Logger:    a.Logger,
	})

	limiter := middleware.NewRateLimiter(middleware.WithLimit(a.Config.RateLimitRPS, a.Config.RateLimitBurst))
	authMW := middleware.AuthMiddleware(a.Store)
	rateMW := limiter.Middleware()
	public := func(f http.HandlerFunc) http.Handler { return authMW(rateMW(f)) }
	internal := middleware.RequireInternalAuth(a.Config.SystemSecret)

	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
	if metricsHandler != nil {
		mux.Handle("GET /metrics", metricsHandler)
	}

	// Public authenticated apis
	mux.Handle("GET /tasks", public(h.ListTasks))
	mux.Handle("POST /tasks", public(h.TaskAction))
	mux.Handle("PUT /tasks", public(h.ToggleTask))
	mux.Handle("GET /tasks/{id}/executions", public(h.TaskExecutions))

	mux.Handle("GET /documents/expiring", public(h.ListExpiring))

	mux.Handle("GET /documents/{id}/lock", public(h.GetLock))
	mux.Handle("POST /documents/{id}/lock", public(h.AcquireLock))
	mux.Handle("DELETE /documents/{id}/lock", public(h.ReleaseLock))

	mux.Handle("GET /documents/{id}/workflow", public(h.GetWorkflow))
	mux.Handle("POST /documents/{id}/workflow", public(h.CreateWorkflow))
	mux.Handle("PUT /documents/{id}/workflow", public(h.WorkflowAction))

	mux.Handle("POST /alerts/{id}/acknowledge", public(h.AcknowledgeAlert))

	mux.Handle("GET /notifications", public(h.ListNotifications))
	mux.Handle("POST /notifications/{id}/read", public(h.MarkNotificationRead))

	// Internal endpoints, authenticated with the system secret.
	mux.Handle("POST /internal/users", internal(http.HandlerFunc(h.InternalCreateUser)))
	mux.Handle("POST /internal/documents", internal(http.HandlerFunc(h.InternalCreateDocument)))
	mux.Handle("POST /internal/tasks/process", internal(http.HandlerFunc(h.InternalProcessTasks)))

	return chimw.RequestID(middleware.RequestContext(chimw.Recoverer(mux)))
}

// Run starts the HTTP server. It blocks until the context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	serverErr := make(chan error, 1)

	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case err := <-serverErr:
		return err
	case <-ctx.Done():
		shutDownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		return s.Shutdown(shutDownCtx)
	}
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
