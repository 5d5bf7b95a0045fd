package server

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/Impulse-Zero/python.github.io/internal/cache"
	"github.com/Impulse-Zero/python.github.io/internal/config"
	"github.com/Impulse-Zero/python.github.io/internal/logger"
	"github.com/Impulse-Zero/python.github.io/internal/metrics"
	"github.com/Impulse-Zero/python.github.io/internal/page"
)

// Server represents the HTTP server
type Server struct {
	server   *http.Server
	deps     page.Deps
	sessions cache.Cache[string, *page.Session]
	ttl      time.Duration
	metrics  *metrics.Metrics
	logger   *logger.Logger

	stopJanitor context.CancelFunc
	janitorDone sync.WaitGroup
}

// New creates the HTTP server exposing page sessions. Sessions idle for
// longer than cfg.Server.SessionTTL are unloaded.
func New(cfg *config.Config, deps page.Deps, log *logger.Logger) *Server {
	if log == nil {
		log = logger.Get()
	}
	if deps.Log == nil {
		deps.Log = log
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.New()
	}

	s := &Server{
		server: &http.Server{
			Addr: ":" + cfg.Server.Port,
		},
		deps:    deps,
		ttl:     cfg.Server.SessionTTL,
		metrics: deps.Metrics,
		logger:  log.Component("server"),
	}
	s.sessions = cache.NewMemoryCache[string, *page.Session](log, cache.Options[string, *page.Session]{
		Sliding: true,
		OnEvict: s.unload,
		Now:     deps.Tracker.Now,
	})

	s.server.Handler = logger.HTTPMiddleware(s.routes())

	// Set timeouts
	s.server.ReadTimeout = 10 * time.Second
	s.server.WriteTimeout = 30 * time.Second
	s.server.IdleTimeout = 120 * time.Second

	return s
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()

	handle := func(pattern string, h http.HandlerFunc) {
		mux.Handle(pattern, s.metrics.Middleware(pattern, h))
	}

	handle("GET /healthz", s.handleHealthCheck)
	mux.Handle("GET /metrics", s.metrics.Handler())

	handle("GET /api/progress", s.handleProgress)
	handle("POST /api/pages", s.handleOpenPage)
	handle("GET /api/pages/{id}", s.handleGetPage)
	handle("DELETE /api/pages/{id}", s.handleClosePage)
	handle("POST /api/pages/{id}/events", s.handlePublishEvent)
	handle("GET /api/pages/{id}/events", s.handleDrainEvents)
	handle("POST /api/pages/{id}/theme", s.handleToggleTheme)
	handle("POST /api/pages/{id}/check", s.handleCheckExercise)
	handle("GET /api/pages/{id}/expansion", s.handleGetExpansion)
	handle("PUT /api/pages/{id}/expansion", s.handleSetExpansion)
	handle("GET /api/pages/{id}/scroll", s.handleRestoreScroll)
	handle("POST /api/pages/{id}/scroll", s.handleSaveScroll)
	handle("POST /api/pages/{id}/outline", s.handleOutline)

	return mux
}

// Handler returns the root handler, for tests and embedding
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// Start starts the HTTP server and the idle session janitor
func (s *Server) Start() error {
	s.logger.Info("Starting HTTP server", map[string]interface{}{
		"addr":        s.server.Addr,
		"session_ttl": s.ttl.String(),
	})

	s.startJanitor()

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

func (s *Server) startJanitor() {
	if s.ttl <= 0 || s.stopJanitor != nil {
		return
	}
	interval := s.ttl / 4
	if interval < time.Second {
		interval = time.Second
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.stopJanitor = cancel
	s.janitorDone.Add(1)
	go func() {
		defer s.janitorDone.Done()
		cache.RunJanitor(ctx, s.sessions, interval)
	}()
}

// Shutdown gracefully shuts down the server and unloads every open page
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down HTTP server")
	err := s.server.Shutdown(ctx)

	if s.stopJanitor != nil {
		s.stopJanitor()
		s.janitorDone.Wait()
	}
	s.sessions.Clear()
	return err
}

// unload closes a session leaving the cache, whether deleted or idle
func (s *Server) unload(id string, sess *page.Session) {
	if err := sess.Close(); err != nil {
		s.logger.Warn("Failed to close page session", map[string]interface{}{
			"session": id,
			"error":   err.Error(),
		})
	}
}

// Sessions returns the number of open page sessions
func (s *Server) Sessions() int {
	return s.sessions.Len()
}

// SweepIdle unloads sessions idle for longer than the TTL
func (s *Server) SweepIdle() int {
	return s.sessions.Sweep()
}

// handleHealthCheck handles health check requests
func (s *Server) handleHealthCheck(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, `{"status":"ok","sessions":%d}`, s.sessions.Len())
}
