// Package server monta o roteador chi e o ciclo de vida do servidor HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/netip"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/2witstudios/pagespace-security/internal/adapters/http/handlers"
	"github.com/2witstudios/pagespace-security/internal/adapters/http/middleware"
	"github.com/2witstudios/pagespace-security/internal/core/domain"
	"github.com/2witstudios/pagespace-security/internal/core/ports"
)

type Config struct {
	Host       string
	Port       int
	AdminToken string
	Mode       domain.DeploymentMode
	Presets    map[domain.Preset]domain.RateLimitRule
	// TrustedProxies podem definir X-Forwarded-For; os demais são identificados pelo peer.
	TrustedProxies []netip.Prefix
}

type Deps struct {
	Stores    ports.StoreProvider
	Limiter   ports.RateLimiter
	Inspector ports.RateLimitInspector
	Ledger    ports.TokenLedger
	Analyzer  ports.AnomalyAnalyzer
	Tokens    ports.ServiceTokens
}

type Server struct {
	router   *chi.Mux
	clientIP *middleware.ClientIPResolver
	server   *http.Server
	cfg      Config
	deps     Deps
	logger   *zap.Logger
}

func New(cfg Config, deps Deps, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Presets == nil {
		cfg.Presets = domain.DefaultPresets()
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(chimw.Recoverer)

	r.NotFound(func(w http.ResponseWriter, req *http.Request) {
		middleware.WriteError(w, req, http.StatusNotFound, "not_found", "the requested resource was not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, req *http.Request) {
		middleware.WriteError(w, req, http.StatusMethodNotAllowed, "method_not_allowed", "the requested method is not allowed for this resource")
	})

	s := &Server{router: r, clientIP: middleware.NewClientIPResolver(cfg.TrustedProxies), cfg: cfg, deps: deps, logger: logger}
	s.registerRoutes()
	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	return s
}

func (s *Server) registerRoutes() {
	s.router.Get("/health", handlers.Health(s.deps.Stores, s.cfg.Mode))

	admin := middleware.RequireAdminToken(s.cfg.AdminToken)

	s.router.With(
		s.rateLimit(domain.PresetServiceToken, s.clientIP.Key),
		admin,
	).Post("/auth/service-token", handlers.IssueServiceToken(s.deps.Tokens, s.logger))

	s.router.Route("/admin", func(r chi.Router) {
		r.Use(s.rateLimit(domain.PresetAPI, s.clientIP.Key))
		r.Use(admin)
		handlers.NewAdmin(handlers.AdminDeps{
			Limiter:   s.deps.Limiter,
			Inspector: s.deps.Inspector,
			Presets:   s.cfg.Presets,
			Ledger:    s.deps.Ledger,
			Analyzer:  s.deps.Analyzer,
			Logger:    s.logger,
		}).Routes(r)
	})

	s.router.Route("/api", func(r chi.Router) {
		r.Use(s.rateLimit(domain.PresetAPI, s.clientIP.Key))
		r.Use(middleware.RequireServiceToken(s.deps.Tokens))
		r.Use(middleware.NewAnomalyMiddleware(s.deps.Analyzer, "api", s.clientIP.Key, s.logger))
		r.Get("/whoami", handlers.WhoAmI)
	})
}

func (s *Server) rateLimit(preset domain.Preset, keyFn middleware.KeyFunc) func(http.Handler) http.Handler {
	return middleware.NewRateLimiterMiddleware(s.deps.Limiter, preset, s.cfg.Presets[preset], keyFn)
}

// Start bloqueia até o servidor parar. http.ErrServerClosed não é reportado.
func (s *Server) Start() error {
	s.logger.Info("starting HTTP server", zap.String("addr", s.server.Addr), zap.String("mode", s.cfg.Mode.String()))
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")
	return s.server.Shutdown(ctx)
}

// Handler expõe o roteador para testes.
func (s *Server) Handler() http.Handler {
	return s.router
}
