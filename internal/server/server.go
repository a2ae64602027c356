// Package server exposes the bridge's HTTP surface: the task command API,
// JSON status endpoints projecting the current snapshot, and the WebSocket
// event bus mount.
//
// The command endpoints front the forwarder one-to-one; the status
// endpoints replace what a host platform would render as sensor and
// calendar entities.
package server

import (
	"context"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/cors"
)

// Config holds server configuration.
type Config struct {
	// Addr is the listen address, e.g. ":8099".
	Addr string

	// IncludeCompleted exposes completed tasks on status endpoints.
	IncludeCompleted bool

	// Logger for request-level messages.
	Logger *log.Logger
}

// Server is the bridge HTTP server.
type Server struct {
	cfg     Config
	handler *handler
	httpSrv *http.Server
	logger  *log.Logger
}

// New assembles the router. bus may be nil (no event stream) and journal
// may be nil (no event history); the corresponding routes 404 then.
func New(cfg Config, fwd Commands, status StatusSource, journal EventHistory, busHandler http.Handler) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = log.New(os.Stderr, "[server] ", log.LstdFlags)
	}

	h := &handler{
		commands:         fwd,
		status:           status,
		history:          journal,
		includeCompleted: cfg.IncludeCompleted,
		logger:           logger,
	}

	r := mux.NewRouter()

	// Command surface.
	r.HandleFunc("/api/tasks", h.createTask).Methods(http.MethodPost)
	r.HandleFunc("/api/tasks/{taskID}", h.updateTask).Methods(http.MethodPatch)
	r.HandleFunc("/api/tasks/{taskID}", h.deleteTask).Methods(http.MethodDelete)
	r.HandleFunc("/api/tasks/{taskID}/complete", h.completeTask).Methods(http.MethodPost)
	r.HandleFunc("/api/tasks/{taskID}/subtasks", h.createSubtask).Methods(http.MethodPost)

	// Status surface.
	r.HandleFunc("/api/projects", h.listProjects).Methods(http.MethodGet)
	r.HandleFunc("/api/agenda", h.agenda).Methods(http.MethodGet)
	r.HandleFunc("/api/health", h.health).Methods(http.MethodGet)
	if journal != nil {
		r.HandleFunc("/api/events", h.recentEvents).Methods(http.MethodGet)
	}

	if busHandler != nil {
		r.Handle("/ws", busHandler)
	}

	c := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", "Authorization"},
	})

	return &Server{
		cfg:     cfg,
		handler: h,
		logger:  logger,
		httpSrv: &http.Server{
			Addr:         cfg.Addr,
			Handler:      c.Handler(r),
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 15 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
	}
}

// Handler returns the assembled HTTP handler, used by tests.
func (s *Server) Handler() http.Handler {
	return s.httpSrv.Handler
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Printf("Listening on %s", s.cfg.Addr)
		if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.httpSrv.Shutdown(shutdownCtx)
}
