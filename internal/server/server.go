package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/lacunahq/lacuna/internal/handler"
	"github.com/lacunahq/lacuna/internal/model"
	"github.com/lacunahq/lacuna/internal/openapi"
	"github.com/lacunahq/lacuna/internal/server/middleware"
	"github.com/lacunahq/lacuna/internal/service"
	"github.com/lacunahq/lacuna/internal/store"
)

// Config holds the HTTP server configuration.
type Config struct {
	Host             string
	Port             int
	ShutdownTimeout  time.Duration
	CORSOrigins      []string
	RatePerMinute    int // per-IP request allowance, 0 disables
	KeyRatePerMinute int // per-key allowance on key-holder routes, 0 disables
	APIKeyHeader     string
}

// DefaultConfig returns a Config with sensible production defaults.
func DefaultConfig() Config {
	return Config{
		Host:             "0.0.0.0",
		Port:             8080,
		ShutdownTimeout:  30 * time.Second,
		CORSOrigins:      []string{"*"},
		RatePerMinute:    600,
		KeyRatePerMinute: 300,
		APIKeyHeader:     "X-API-Key",
	}
}

// Server is the top-level HTTP server for Lacuna. It owns the Chi router,
// the credential store, and the auth and usage services.
type Server struct {
	cfg        Config
	router     chi.Router
	store      *store.Store
	authSvc    *service.AuthService
	usageSvc   *service.UsageService
	httpServer *http.Server
	logger     *slog.Logger
}

// New creates a new Server, wires up all routes and middleware, and returns
// it ready to listen. Call ListenAndServe to start accepting connections.
func New(cfg Config, st *store.Store, authSvc *service.AuthService, usageSvc *service.UsageService, logger *slog.Logger) *Server {
	s := &Server{
		cfg:      cfg,
		store:    st,
		authSvc:  authSvc,
		usageSvc: usageSvc,
		logger:   logger,
	}
	s.setupRouter()
	return s
}

func (s *Server) setupRouter() {
	r := chi.NewRouter()

	// --- Global middleware ---
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger(s.logger))
	r.Use(chimw.Recoverer)
	r.Use(chimw.RealIP)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-API-Key", "X-Requested-With"},
		ExposedHeaders:   []string{"X-Total-Count", "X-Request-ID", "Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	r.Use(chimw.Compress(5))
	if s.cfg.RatePerMinute > 0 {
		r.Use(middleware.RateLimit(s.cfg.RatePerMinute))
	}

	// --- Health checks (no auth required) ---
	r.Get("/healthz", s.handleHealthz)
	r.Get("/readyz", s.handleReadyz)

	// --- OpenAPI spec (no auth required) ---
	r.Get("/openapi.json", s.handleOpenAPISpec)

	// --- API routes ---
	r.Route("/api/v1", func(r chi.Router) {

		// System APIs (key and admin management)
		r.Route("/system", func(r chi.Router) {
			sysHandler := handler.NewSystemHandler(s.store, s.authSvc)
			keysHandler := handler.NewKeysHandler(s.store, s.usageSvc)

			// Session endpoints are unauthenticated (login) or self-authenticated (logout)
			r.Post("/admin/session", sysHandler.Login)
			r.Delete("/admin/session", sysHandler.Logout)

			// All other system endpoints require admin authentication
			r.Group(func(r chi.Router) {
				r.Use(middleware.Authenticate(s.authSvc, s.cfg.APIKeyHeader))
				r.Use(middleware.RequireAdmin())

				// Admin management
				r.Get("/admin", sysHandler.ListAdmins)
				r.Post("/admin", sysHandler.CreateAdmin)

				// API key management
				r.Get("/key", keysHandler.ListKeys)
				r.Post("/key", keysHandler.CreateKey)
				r.Get("/key/{keyId}", keysHandler.GetKey)
				r.Patch("/key/{keyId}", keysHandler.UpdateKey)
				r.Delete("/key/{keyId}", keysHandler.RevokeKey)
				r.Get("/key/{keyId}/usage", keysHandler.KeyUsage)
			})
		})

		// Self-service routes for key holders. Metered like any other
		// authenticated call, and rate limited per key so one noisy consumer
		// cannot starve the rest.
		r.Group(func(r chi.Router) {
			if s.cfg.KeyRatePerMinute > 0 {
				r.Use(middleware.RateLimitByHeader(s.cfg.APIKeyHeader, s.cfg.KeyRatePerMinute))
			}
			r.Use(middleware.Authenticate(s.authSvc, s.cfg.APIKeyHeader))
			r.Use(middleware.MeterUsage(s.usageSvc))

			r.Get("/whoami", s.handleWhoAmI)
			r.With(middleware.RequireScope(model.ScopeAnalyticsRead)).
				Get("/usage", s.handleMyUsage)
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

// handleReadyz is a readiness probe. Returns 200 when the credential store
// is reachable, or 503 otherwise.
func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	httpStatus := http.StatusOK
	checks := make(map[string]string)

	if err := s.store.Ping(r.Context()); err != nil {
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

// handleOpenAPISpec serves the generated OpenAPI document.
func (s *Server) handleOpenAPISpec(w http.ResponseWriter, r *http.Request) {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	doc := openapi.Generate(scheme + "://" + r.Host)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(doc)
}

// handleWhoAmI returns the principal behind the presented credentials. An
// optional ?scope= query asks an additional question: would this credential be
// allowed to use that scope? A key lacking it gets 403, so consumers can check
// their permissions without firing a real request at the guarded endpoint.
func (s *Server) handleWhoAmI(w http.ResponseWriter, r *http.Request) {
	principal := middleware.GetPrincipal(r.Context())
	if principal == nil {
		// Authenticate already rejected; this is unreachable in practice.
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	if raw := r.URL.Query().Get("scope"); raw != "" {
		scope := model.Scope(raw)
		if !scope.Valid() {
			s.writeError(w, http.StatusBadRequest, "Unknown scope: "+raw)
			return
		}
		if !principal.IsAdmin && !principal.Scopes.Has(scope) {
			s.writeError(w, http.StatusForbidden, "Missing required scope: "+raw)
			return
		}
	}

	resp := map[string]interface{}{
		"type": principal.Type,
	}
	if principal.IsAdmin {
		resp["admin_id"] = principal.AdminID
		resp["email"] = principal.Email
	} else {
		resp["key_id"] = principal.CredentialID
		resp["owner_id"] = principal.OwnerID
		resp["scopes"] = principal.Scopes.Strings()
		resp["rate_limit_per_minute"] = principal.RateLimit
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(resp)
}

// handleMyUsage returns the calling key's own usage events. Admin sessions
// have the per-key endpoint under /system instead; there is no credential to
// report on for them here.
func (s *Server) handleMyUsage(w http.ResponseWriter, r *http.Request) {
	principal := middleware.GetPrincipal(r.Context())
	if principal == nil {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	if principal.Type != "api_key" {
		s.writeError(w, http.StatusBadRequest, "API key required: admin sessions query usage per key via /system/key/{keyId}/usage")
		return
	}

	windowDays := 7
	if raw := r.URL.Query().Get("window_days"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n >= 1 {
			windowDays = n
		}
	}

	events, err := s.usageSvc.Query(r.Context(), principal.CredentialID, windowDays)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "Failed to query usage: "+err.Error())
		return
	}
	lastMinute, err := s.usageSvc.CountSince(r.Context(), principal.CredentialID, time.Minute)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "Failed to count usage: "+err.Error())
		return
	}

	resources := make([]map[string]interface{}, 0, len(events))
	for _, ev := range events {
		resources = append(resources, map[string]interface{}{
			"endpoint":         ev.Endpoint,
			"method":           ev.Method,
			"status_code":      ev.StatusCode,
			"response_time_ms": ev.ResponseTimeMs,
			"timestamp":        ev.Timestamp,
		})
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"resource": resources,
		"meta": map[string]interface{}{
			"count":                len(resources),
			"window_days":          windowDays,
			"requests_last_minute": lastMinute,
		},
	})
}

// writeError writes the standard error envelope.
func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(model.ErrorResponse{
		Error: model.ErrorDetail{Code: status, Message: message},
	})
}

// ListenAndServe starts the HTTP server and blocks until a SIGINT or SIGTERM
// is received. It then performs a graceful shutdown, draining in-flight
// requests before closing the store.
func (s *Server) ListenAndServe() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// Listen for shutdown signals
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Start server in background goroutine
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server starting", "addr", addr)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	// Wait for shutdown signal or server error
	select {
	case err := <-errCh:
		return fmt.Errorf("server listen: %w", err)
	case <-ctx.Done():
		s.logger.Info("shutdown signal received, draining connections...")
	}

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	s.store.Close()
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
