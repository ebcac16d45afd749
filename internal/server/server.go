// Package server assembles the proxy: settings store, forwarder, route
// handlers, middleware stack and the operational endpoints. It owns the
// HTTP server lifecycle and graceful shutdown.
package server

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"

	"github.com/dskow/luis-proxy/internal/admin"
	"github.com/dskow/luis-proxy/internal/config"
	"github.com/dskow/luis-proxy/internal/forward"
	"github.com/dskow/luis-proxy/internal/health"
	"github.com/dskow/luis-proxy/internal/luis"
	"github.com/dskow/luis-proxy/internal/metrics"
	"github.com/dskow/luis-proxy/internal/middleware"
	"github.com/dskow/luis-proxy/internal/ratelimit"
	"github.com/dskow/luis-proxy/internal/store"
	"github.com/dskow/luis-proxy/internal/tlsutil"
)

// Server is a fully wired proxy instance.
type Server struct {
	cfg      *config.Config
	logger   *slog.Logger
	store    *store.Store
	limiter  *ratelimit.Limiter
	reloader *config.Reloader
	handler  http.Handler
}

// New builds a Server from cfg. configPath is watched for hot reloads;
// an empty path disables reloading.
func New(cfg *config.Config, configPath string, logger *slog.Logger) *Server {
	if cfg.Metrics.IsEnabled() {
		metrics.Init()
	}

	st := store.New(store.Settings{
		BaseURL:   cfg.LUIS.URL,
		AppID:     cfg.LUIS.AppID,
		AppKey:    cfg.LUIS.AppKey,
		VersionID: cfg.LUIS.VersionID,
	})
	fw := forward.New(cfg.LUIS.Timeout, logger)
	limiter := ratelimit.New(cfg.RateLimit, cfg.Server.TrustedProxies, logger)
	reloader := config.NewReloader(configPath, cfg, logger)

	reloader.OnReload(func(newCfg *config.Config) {
		limiter.UpdateConfig(newCfg.RateLimit)
	})

	routes := http.NewServeMux()
	luis.New(st, fw, logger).Register(routes)

	// Recovery → RequestID → SecurityHeaders → Logging → CORS → BodyLimit → RateLimit → routes
	var handler http.Handler = routes
	handler = limiter.Middleware()(handler)
	handler = middleware.BodyLimit(cfg.Server.MaxBodyBytes)(handler)
	handler = middleware.CORS(middleware.DefaultCORSConfig())(handler)
	handler = middleware.Logging(logger, middleware.LoggingConfig{
		BodyLogging:     cfg.Logging.BodyLogging,
		MaxBodyLogBytes: cfg.Logging.MaxBodyLogBytes,
	})(handler)
	handler = middleware.SecurityHeaders()(handler)
	handler = middleware.RequestID(handler)
	handler = middleware.Recovery(logger)(handler)

	ops := http.NewServeMux()
	health.New(st, logger).RegisterRoutes(ops)

	metricsPath := cfg.Metrics.Path
	if cfg.Metrics.IsEnabled() {
		ops.Handle(metricsPath, metrics.Handler())
		logger.Info("metrics endpoint registered", "path", metricsPath)
	}
	if cfg.Admin.Enabled {
		admin.New(reloader, st, limiter, cfg.Admin.IPAllowlist, logger).RegisterRoutes(ops)
		logger.Info("admin endpoints registered", "allowlist", cfg.Admin.IPAllowlist)
	}

	// Operational endpoints bypass the middleware stack except for CORS.
	opsHandler := middleware.CORS(middleware.DefaultCORSConfig())(ops)
	combined := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p := r.URL.Path
		if p == "/health" || p == "/ready" ||
			(cfg.Metrics.IsEnabled() && p == metricsPath) ||
			(cfg.Admin.Enabled && strings.HasPrefix(p, "/admin/")) {
			opsHandler.ServeHTTP(w, r)
			return
		}
		handler.ServeHTTP(w, r)
	})

	return &Server{
		cfg:      cfg,
		logger:   logger,
		store:    st,
		limiter:  limiter,
		reloader: reloader,
		handler:  combined,
	}
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Store returns the backend settings store.
func (s *Server) Store() *store.Store {
	return s.store
}

// Run listens on the configured port and serves until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", s.cfg.Server.Port))
	if err != nil {
		return fmt.Errorf("listening on port %d: %w", s.cfg.Server.Port, err)
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is cancelled, then drains
// in-flight requests for at most the configured shutdown timeout. With
// server.tls set, connections on ln are served over TLS.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	defer s.limiter.Stop()

	if s.cfg.Server.TLS.Enabled() {
		certs, err := tlsutil.New(s.cfg.Server.TLS, s.logger)
		if err != nil {
			ln.Close()
			return err
		}
		defer certs.Stop()
		ln = tls.NewListener(ln, certs.TLSConfig())
	}

	s.reloader.Start()
	defer s.reloader.Stop()

	srv := &http.Server{
		Handler:      s.handler,
		ReadTimeout:  s.cfg.Server.ReadTimeout,
		WriteTimeout: s.cfg.Server.WriteTimeout,
		ErrorLog:     slog.NewLogLogger(s.logger.Handler(), slog.LevelWarn),
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting luis proxy", "addr", ln.Addr().String(), "tls", s.cfg.Server.TLS.Enabled())
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serving: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.Server.ShutdownTimeout)
	defer cancel()

	s.logger.Info("draining in-flight requests", "timeout", s.cfg.Server.ShutdownTimeout)
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("forced shutdown: %w", err)
	}
	s.logger.Info("luis proxy stopped gracefully")
	return nil
}
