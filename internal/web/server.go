package web

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/facemark/facemark/internal/config"
	"github.com/facemark/facemark/internal/database"
	"github.com/facemark/facemark/internal/facesvc"
	"github.com/facemark/facemark/internal/recognize"
	"github.com/facemark/facemark/internal/web/handlers"
	"github.com/facemark/facemark/internal/web/middleware"
)

// Stores bundles the repositories the web layer depends on.
type Stores struct {
	Students database.StudentWriter
	Sessions database.SessionStore
	Records  database.RecordStore
	Users    database.UserStore
	DB       handlers.DatabasePinger
}

// Server represents the web server
type Server struct {
	config         *config.Config
	stores         Stores
	faces          *facesvc.Client
	matcher        *recognize.Matcher
	router         *chi.Mux
	httpServer     *http.Server
	sessionManager *middleware.SessionManager
	sweeper        *Sweeper
}

// NewServer creates a new web server
func NewServer(cfg *config.Config, stores Stores, faces *facesvc.Client, sessionRepo middleware.SessionRepository) *Server {
	r := chi.NewRouter()

	sessionManager := middleware.NewSessionManager(cfg.Web.SessionSecret, sessionRepo)
	matcher := recognize.NewMatcher(stores.Students, cfg.Recognition)

	s := &Server{
		config:         cfg,
		stores:         stores,
		faces:          faces,
		matcher:        matcher,
		router:         r,
		sessionManager: sessionManager,
		sweeper:        NewSweeper(stores.Sessions, time.Minute),
	}

	// Set up middleware stack
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Timeout(2 * time.Minute))
	r.Use(middleware.CORS())
	r.Use(middleware.SecurityHeaders())

	// Set up routes
	s.setupRoutes(sessionManager)

	// Create HTTP server
	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Web.Host, cfg.Web.Port),
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 2 * time.Minute, // Frames and enrollment images can be large
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// Start starts the HTTP server and the overdue-session sweeper
func (s *Server) Start() error {
	s.sweeper.Start()
	log.Printf("Starting web server on %s", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	log.Println("Shutting down web server...")

	if s.sweeper != nil {
		s.sweeper.Stop()
	}
	// Stop the session cleanup goroutine
	if s.sessionManager != nil {
		s.sessionManager.Stop()
	}

	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down server: %w", err)
	}
	return nil
}

// Router returns the chi router for testing
func (s *Server) Router() *chi.Mux {
	return s.router
}
