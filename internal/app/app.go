// Package app wires the gateway together and runs the HTTP server.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/quayside/keygate/internal/adapter/audit"
	"github.com/quayside/keygate/internal/adapter/headers"
	"github.com/quayside/keygate/internal/adapter/metrics"
	"github.com/quayside/keygate/internal/adapter/notify"
	"github.com/quayside/keygate/internal/adapter/ratelimit"
	"github.com/quayside/keygate/internal/adapter/reconcile"
	"github.com/quayside/keygate/internal/adapter/rules"
	"github.com/quayside/keygate/internal/adapter/script"
	"github.com/quayside/keygate/internal/adapter/selector"
	"github.com/quayside/keygate/internal/adapter/store"
	"github.com/quayside/keygate/internal/config"
	"github.com/quayside/keygate/internal/core/domain"
	"github.com/quayside/keygate/internal/core/ports"
	"github.com/quayside/keygate/internal/logger"
	"github.com/quayside/keygate/internal/proxy"
)

// Application owns every service and their lifecycles.
type Application struct {
	config  *config.Config
	logger  *logger.StyledLogger
	store   ports.Store
	limiter ports.RateLimiter
	metrics *metrics.Metrics
	proxy   *proxy.Service
	sweeper *reconcile.Reconciler
	auth    *authService
	api     *adminAPI
	server  *http.Server
	errCh   chan error
}

// New builds the full dependency graph from configuration.
func New(ctx context.Context, cfg *config.Config, log *logger.StyledLogger) (*Application, error) {
	db, err := store.Open(ctx, store.Options{
		URL:          cfg.Database.URL,
		MaxOpenConns: cfg.Database.MaxOpenConns,
		MaxIdleConns: cfg.Database.MaxIdleConns,
	}, log)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	var notifier ports.Notifier = notify.NewLogNotifier(log)
	if cfg.Notifier.WebhookURL != "" {
		notifier = notify.NewFanout(
			notify.NewLogNotifier(log),
			notify.NewWebhookNotifier(cfg.Notifier.WebhookURL, cfg.Notifier.Timeout, log),
		)
	}

	limiter := ratelimit.NewSlidingWindow(log)
	gate := ratelimit.NewGate(limiter)
	scriptHost := script.NewHost(cfg.Scripts.MaxTimeout(), cfg.Scripts.EnablePython, log)
	m := metrics.New()
	assembler := headers.NewAssembler(db, scriptHost, m, log)
	creds := selector.New(db, notifier, log)
	engine := rules.NewEngine(db, notifier, log)
	auditLog := audit.New(db, log)

	proxyService := proxy.NewService(
		db, gate, creds, assembler, engine, auditLog, notifier, m, log,
		cfg.Proxy, cfg.Server.TrustProxyHeaders,
	)

	app := &Application{
		config:  cfg,
		logger:  log,
		store:   db,
		limiter: limiter,
		metrics: m,
		proxy:   proxyService,
		sweeper: reconcile.New(db, log, cfg.Reconcile.AutoEnableInterval, cfg.Logs.RetentionDays),
		auth:    newAuthService(db, cfg.Auth),
		api:     newAdminAPI(db, scriptHost, log),
		errCh:   make(chan error, 1),
	}

	if err := app.seedInitialAdmin(ctx); err != nil {
		return nil, fmt.Errorf("seed admin: %w", err)
	}

	app.server = &http.Server{
		Addr:         cfg.Server.GetAddress(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		Handler:      app.buildRouter(),
	}

	return app, nil
}

// seedInitialAdmin creates the configured bootstrap admin if the username is
// not taken yet. Without it a fresh database with auth enabled would be
// unreachable.
func (a *Application) seedInitialAdmin(ctx context.Context) error {
	cfg := a.config.Auth
	if !cfg.Enabled || cfg.InitialAdminUser == "" || cfg.InitialAdminPassword == "" {
		return nil
	}

	if _, err := a.store.GetAdminByUsername(ctx, cfg.InitialAdminUser); err == nil {
		return nil
	} else if !errors.Is(err, domain.ErrNotFound) {
		return err
	}

	hashed, err := HashPassword(cfg.InitialAdminPassword)
	if err != nil {
		return err
	}
	if err := a.store.CreateAdmin(ctx, &domain.AdminUser{
		Username:       cfg.InitialAdminUser,
		HashedPassword: hashed,
		Active:         true,
	}); err != nil {
		return err
	}
	a.logger.Info("created initial admin account", "username", cfg.InitialAdminUser)
	return nil
}

// Start launches the background sweeps and the HTTP listener.
func (a *Application) Start(ctx context.Context) error {
	a.sweeper.Start(ctx)

	go func() {
		a.logger.Info("server listening", "address", a.server.Addr)
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.errCh <- err
		}
	}()

	go func() {
		select {
		case err := <-a.errCh:
			a.logger.Error("server error", "error", err)
		case <-ctx.Done():
		}
	}()

	return nil
}

// Stop drains in-flight requests and releases resources.
func (a *Application) Stop(ctx context.Context) error {
	shutdownCtx, cancel := context.WithTimeout(ctx, a.config.Server.ShutdownTimeout)
	defer cancel()

	var firstErr error
	if err := a.server.Shutdown(shutdownCtx); err != nil {
		firstErr = err
	}

	a.sweeper.Stop()
	a.limiter.Stop()

	if err := a.store.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}
