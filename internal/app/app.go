package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/foxzi/blast/internal/api"
	"github.com/foxzi/blast/internal/campaign"
	"github.com/foxzi/blast/internal/config"
	"github.com/foxzi/blast/internal/metrics"
	blastTLS "github.com/foxzi/blast/internal/tls"
	"github.com/foxzi/blast/internal/transport"
)

const shutdownTimeout = 30 * time.Second

// App is the main application
type App struct {
	config        *config.Config
	logger        *slog.Logger
	orchestrator  *campaign.Orchestrator
	mailbox       *transport.Mailbox
	apiServer     *api.Server
	metricsServer *metrics.Server
	collector     *metrics.Collector
	acmeServer    *http.Server
}

// New creates a new application
func New(cfg *config.Config) (*App, error) {
	// Setup logger
	logger := NewLogger(cfg.Logging, os.Stdout)

	// Metrics are registered before anything records them
	var metricsServer *metrics.Server
	var collector *metrics.Collector
	if cfg.Metrics.Enabled {
		m := metrics.New()
		metrics.SetGlobal(m)
		metricsServer = metrics.NewServer(m, cfg.Metrics.ListenAddr, cfg.Metrics.Path,
			cfg.Metrics.AllowedIPs, logger.With("component", "metrics"))
		collector = metrics.NewCollector(m, cfg.Metrics.CollectInterval)
		logger.Info("metrics enabled", "addr", cfg.Metrics.ListenAddr, "path", cfg.Metrics.Path)
	}

	orchestrator, mailbox, err := NewOrchestrator(cfg, logger)
	if err != nil {
		return nil, err
	}

	apiServer := api.NewServer(orchestrator, mailbox, &cfg.API, logger.With("component", "api"))

	a := &App{
		config:        cfg,
		logger:        logger,
		orchestrator:  orchestrator,
		mailbox:       mailbox,
		apiServer:     apiServer,
		metricsServer: metricsServer,
		collector:     collector,
	}

	// Setup TLS configuration
	if cfg.HasTLS() {
		listener, err := blastTLS.Setup(blastTLS.Options{
			CertFile:      cfg.API.TLS.CertFile,
			KeyFile:       cfg.API.TLS.KeyFile,
			ACME:          cfg.API.TLS.ACME.Enabled,
			ACMEEmail:     cfg.API.TLS.ACME.Email,
			ACMEDomains:   cfg.API.TLS.ACME.Domains,
			ACMECacheDir:  cfg.API.TLS.ACME.CacheDir,
			ChallengeAddr: cfg.API.TLS.ACME.ChallengeAddr,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to setup TLS: %w", err)
		}
		apiServer.SetTLSConfig(listener.Config)

		if listener.Challenge != nil {
			a.acmeServer = &http.Server{
				Addr:              listener.ChallengeAddr,
				Handler:           listener.Challenge,
				ReadHeaderTimeout: 10 * time.Second,
			}
			logger.Info("ACME (Let's Encrypt) enabled", "domains", cfg.API.TLS.ACME.Domains)
		} else {
			logger.Info("TLS enabled with manual certificates")
		}
	}

	return a, nil
}

// Orchestrator returns the campaign orchestrator
func (a *App) Orchestrator() *campaign.Orchestrator {
	return a.orchestrator
}

// Run starts all components and waits for shutdown
func (a *App) Run(ctx context.Context) error {
	a.logger.Info("starting blast",
		"version", api.Version,
		"hostname", a.config.Server.Hostname,
		"api_addr", a.config.API.ListenAddr,
		"providers", a.orchestrator.Providers())

	// Create context that listens for signals
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := a.apiServer.ListenAndServe(); err != nil {
			return fmt.Errorf("api server: %w", err)
		}
		return nil
	})

	if a.metricsServer != nil {
		g.Go(func() error {
			if err := a.metricsServer.ListenAndServe(); err != nil {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			return a.collector.Run(gctx)
		})
	}

	if a.acmeServer != nil {
		g.Go(func() error {
			a.logger.Info("starting ACME HTTP challenge server", "addr", a.acmeServer.Addr)
			if err := a.acmeServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("acme server: %w", err)
			}
			return nil
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		if ctx.Err() != nil {
			a.logger.Info("shutdown signal received")
		}
		return a.Shutdown(context.Background())
	})

	return g.Wait()
}

// Shutdown gracefully shuts down all components. Campaigns still streaming
// get shutdownTimeout to finish.
func (a *App) Shutdown(ctx context.Context) error {
	a.logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(ctx, shutdownTimeout)
	defer cancel()

	if err := a.apiServer.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("api server shutdown error", "error", err)
	}

	if a.metricsServer != nil {
		if err := a.metricsServer.Shutdown(shutdownCtx); err != nil {
			a.logger.Error("metrics server shutdown error", "error", err)
		}
	}

	if a.acmeServer != nil {
		if err := a.acmeServer.Shutdown(shutdownCtx); err != nil {
			a.logger.Error("acme server shutdown error", "error", err)
		}
	}

	a.logger.Info("shutdown complete")
	return nil
}

// NewLogger creates a logger based on configuration
func NewLogger(cfg config.LoggingConfig, w io.Writer) *slog.Logger {
	var handler slog.Handler

	level := slog.LevelInfo
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}

	return slog.New(handler)
}
