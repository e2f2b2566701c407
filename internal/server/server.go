package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/audiogate/audiogate/internal/audit"
	"github.com/audiogate/audiogate/internal/auth"
	"github.com/audiogate/audiogate/internal/engine"
	"github.com/audiogate/audiogate/internal/handler"
	"github.com/audiogate/audiogate/internal/quota"
	"github.com/audiogate/audiogate/internal/relay"
	"github.com/audiogate/audiogate/internal/server/middleware"
	"github.com/audiogate/audiogate/internal/store"
)

// Config holds the HTTP server configuration.
type Config struct {
	Host             string
	Port             int
	ShutdownTimeout  time.Duration
	CORSOrigins      []string
	MaxBodyBytes     int64
	AuthRatePerMin   int
	UploadRatePerMin int // per API key; zero disables the burst guard
	CookieName       string
	CookieSecure     bool
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Host:             "0.0.0.0",
		Port:             8080,
		ShutdownTimeout:  30 * time.Second,
		CORSOrigins:      []string{"http://localhost:4000"},
		MaxBodyBytes:     100 * 1024 * 1024,
		AuthRatePerMin:   30,
		UploadRatePerMin: 60,
		CookieName:       "session_id",
	}
}

// Deps bundles the wired components the server routes to.
type Deps struct {
	Store    *store.Store
	Sessions *auth.SessionManager
	Keys     *auth.KeyManager
	Resolver *auth.Resolver
	Quota    *quota.Enforcer
	Engine   *engine.Client
	Audit    *audit.Pipeline
	Relay    *relay.Relay
}

// Server is the gateway's HTTP front. It owns the router and the graceful
// shutdown lifecycle; all domain logic lives behind the handlers.
type Server struct {
	cfg        Config
	deps       Deps
	router     chi.Router
	httpServer *http.Server
	logger     *slog.Logger
}

// New creates a Server, wires up all routes and middleware, and returns it
// ready to listen. Call ListenAndServe to start accepting connections.
func New(cfg Config, deps Deps, logger *slog.Logger) *Server {
	s := &Server{
		cfg:    cfg,
		deps:   deps,
		logger: logger,
	}
	if cfg.CookieName != "" {
		middleware.SessionCookieName = cfg.CookieName
	}
	s.setupRouter()
	return s
}

func (s *Server) setupRouter() {
	r := chi.NewRouter()

	r.Use(chimw.RealIP)
	r.Use(middleware.RequestAudit(s.deps.Audit))
	r.Use(middleware.Logger(s.logger))
	r.Use(chimw.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-API-Key", "X-Requested-With"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/healthz", s.handleHealthz)
	r.Get("/readyz", s.handleReadyz)

	authHandler := handler.NewAuthHandler(s.deps.Store, s.deps.Sessions, s.deps.Keys,
		s.deps.Audit, s.cfg.CookieName, s.cfg.CookieSecure)
	uploadHandler := handler.NewUploadHandler(s.deps.Store, s.deps.Quota, s.deps.Engine,
		s.deps.Audit, s.cfg.MaxBodyBytes)
	historyHandler := handler.NewHistoryHandler(s.deps.Store)
	adminHandler := handler.NewAdminHandler(s.deps.Store, s.deps.Keys, s.deps.Sessions,
		s.deps.Quota, s.deps.Audit)

	// Credential endpoints: unauthenticated, rate limited per IP.
	r.Group(func(r chi.Router) {
		r.Use(middleware.RateLimit(s.cfg.AuthRatePerMin))
		r.Post("/auth/register", authHandler.Register)
		r.Post("/auth/login", authHandler.Login)
	})
	r.Post("/auth/logout", authHandler.Logout)

	// The streaming relay authenticates with the shared secret, not user
	// credentials; it stays outside the Authenticate group.
	r.Get("/ws/diarize", s.deps.Relay.ServeHTTP)

	// Authenticated surface: session cookie or API key header.
	r.Group(func(r chi.Router) {
		r.Use(middleware.Authenticate(s.deps.Resolver))

		r.Get("/auth/me", authHandler.Me)
		r.Get("/protected", authHandler.Protected)

		// Uploads carry a per-key burst limit on top of the hourly quota.
		r.Group(func(r chi.Router) {
			if s.cfg.UploadRatePerMin > 0 {
				r.Use(middleware.RateLimitByHeader(middleware.APIKeyHeader, s.cfg.UploadRatePerMin))
			}
			r.Post("/upload", uploadHandler.Upload)
		})

		r.Get("/history", historyHandler.List)
		r.Get("/transcription/{id}", historyHandler.Get)

		r.Route("/admin", func(r chi.Router) {
			r.Use(middleware.RequireAdmin(s.deps.Store))

			r.Get("/users", adminHandler.ListUsers)
			r.Delete("/users/{id}", adminHandler.DeleteUser)
			r.Put("/users/{id}/limit", adminHandler.UpdateUploadLimit)
			r.Put("/users/{id}/admin", adminHandler.UpdateAdminFlag)
			r.Post("/users/{id}/key/activate", adminHandler.ActivateKey)
			r.Post("/users/{id}/key/deactivate", adminHandler.DeactivateKey)
			r.Get("/usage", adminHandler.Usage)
			r.Get("/sessions", adminHandler.Sessions)
		})
	})

	s.router = r
}

// handleHealthz is a liveness probe. Returns 200 if the process is running.
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"ok"}`))
}

// handleReadyz is a readiness probe. Returns 200 when the document store is
// reachable, 503 otherwise. The engines are not probed: the gateway is ready
// to accept and queue work even while an engine restarts.
func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	httpStatus := http.StatusOK
	checks := make(map[string]string)

	if err := s.deps.Store.Ping(r.Context()); err != nil {
		checks["store"] = "error: " + err.Error()
		status = "degraded"
		httpStatus = http.StatusServiceUnavailable
	} else {
		checks["store"] = "ok"
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(httpStatus)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status": status,
		"checks": checks,
	})
}

// ListenAndServe starts the HTTP server and blocks until a SIGINT or SIGTERM
// is received. It then performs a graceful shutdown, draining in-flight
// requests before returning.
func (s *Server) ListenAndServe() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)

	// No read/write timeouts: uploads and WebSocket relays are long-lived
	// by design. Idle keep-alive connections are still bounded.
	s.httpServer = &http.Server{
		Addr:        addr,
		Handler:     s.router,
		IdleTimeout: 120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server starting", "addr", addr)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server listen: %w", err)
	case <-ctx.Done():
		s.logger.Info("shutdown signal received, draining connections...")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	s.logger.Info("server stopped")
	return nil
}

// Router returns the underlying Chi router, useful for testing.
func (s *Server) Router() chi.Router {
	return s.router
}

// ServeHTTP implements http.Handler, delegating to the router.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
