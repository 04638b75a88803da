// Package api serves the campaign endpoint: a JSON request in, a streamed
// newline-delimited progress log out.
package api

import (
	"context"
	"crypto/tls"
	"errors"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/foxzi/blast/internal/campaign"
	"github.com/foxzi/blast/internal/config"
	"github.com/foxzi/blast/internal/ipfilter"
	"github.com/foxzi/blast/internal/metrics"
	"github.com/foxzi/blast/internal/progress"
	"github.com/foxzi/blast/internal/transport"
)

// Version is reported by the health endpoint
var Version = "dev"

// Campaigns prepares and runs campaigns. *campaign.Orchestrator implements it.
type Campaigns interface {
	Prepare(ctx context.Context, req *campaign.Request) (*campaign.Campaign, error)
	Run(ctx context.Context, c *campaign.Campaign, emitter progress.Emitter) (*campaign.Summary, error)
	Providers() []transport.Kind
}

// Server is the HTTP API server
type Server struct {
	router     *chi.Mux
	httpServer *http.Server
	campaigns  Campaigns
	mailbox    *transport.Mailbox
	filter     *ipfilter.Filter
	config     *config.APIConfig
	tlsConfig  *tls.Config
	logger     *slog.Logger
	startTime  time.Time
	active     atomic.Int64
}

// NewServer creates a new API server. mailbox may be nil when the sandbox
// transport is disabled.
func NewServer(campaigns Campaigns, mailbox *transport.Mailbox, cfg *config.APIConfig, logger *slog.Logger) *Server {
	s := &Server{
		router:    chi.NewRouter(),
		campaigns: campaigns,
		mailbox:   mailbox,
		filter:    ipfilter.New(cfg.AllowedIPs, logger).TrustProxies(cfg.TrustedProxies),
		config:    cfg,
		logger:    logger,
		startTime: time.Now(),
	}

	s.setupRoutes()
	s.httpServer = &http.Server{
		Addr:           cfg.ListenAddr,
		Handler:        s.router,
		ReadTimeout:    cfg.ReadTimeout,
		WriteTimeout:   cfg.WriteTimeout,
		IdleTimeout:    cfg.IdleTimeout,
		MaxHeaderBytes: cfg.MaxHeaderBytes,
	}
	return s
}

// SetTLSConfig makes ListenAndServe serve HTTPS. Call it before
// ListenAndServe.
func (s *Server) SetTLSConfig(cfg *tls.Config) {
	s.tlsConfig = cfg
	s.httpServer.TLSConfig = cfg
}

// Handler returns the root handler
func (s *Server) Handler() http.Handler {
	return s.router
}

// setupRoutes configures the HTTP routes
func (s *Server) setupRoutes() {
	s.router.Use(middleware.RequestID)
	s.router.Use(s.loggingMiddleware)
	s.router.Use(middleware.Recoverer)
	s.router.Use(metrics.HTTPMiddleware)

	if len(s.config.CORS.AllowedOrigins) > 0 {
		s.router.Use(cors.Handler(cors.Options{
			AllowedOrigins: s.config.CORS.AllowedOrigins,
			AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
			AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-API-Key"},
			ExposedHeaders: []string{"X-Campaign-ID"},
			MaxAge:         s.config.CORS.MaxAge,
		}))
	}

	s.router.Use(s.filter.HTTPMiddleware)

	// Health check (no auth required)
	s.router.Get("/health", s.handleHealth)

	s.router.Group(func(r chi.Router) {
		r.Use(s.authMiddleware)

		// path used by the browser composer
		r.Post("/api/sendEmails", s.handleSendEmails)

		r.Route("/api/v1", func(r chi.Router) {
			r.Post("/campaigns", s.handleSendEmails)
			r.Get("/providers", s.handleProviders)

			if s.mailbox != nil {
				r.Route("/sandbox", func(r chi.Router) {
					r.Get("/messages", s.handleSandboxList)
					r.Get("/messages/{id}", s.handleSandboxGet)
					r.Delete("/messages", s.handleSandboxClear)
				})
			}
		})
	})
}

// ListenAndServe starts the HTTP server
func (s *Server) ListenAndServe() error {
	s.logger.Info("starting HTTP API server", "addr", s.config.ListenAddr, "tls", s.tlsConfig != nil)

	var err error
	if s.tlsConfig != nil {
		err = s.httpServer.ListenAndServeTLS("", "")
	} else {
		err = s.httpServer.ListenAndServe()
	}
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown gracefully shuts down the server. Running campaigns keep their
// connections until ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP API server", "active_campaigns", s.active.Load())
	return s.httpServer.Shutdown(ctx)
}
