package main

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"

	"github.com/polisai/proxydrop/internal/governance"
	webhooktls "github.com/polisai/proxydrop/internal/tls"
	"github.com/polisai/proxydrop/pkg/cache"
	"github.com/polisai/proxydrop/pkg/config"
	"github.com/polisai/proxydrop/pkg/policy"
	"github.com/polisai/proxydrop/pkg/proxyapi"
	"github.com/polisai/proxydrop/pkg/router"
	"github.com/polisai/proxydrop/pkg/server"
	"github.com/polisai/proxydrop/pkg/signature"
	"github.com/polisai/proxydrop/pkg/telemetry"
)

// app holds every wired component of a running webhook.
type app struct {
	handler http.Handler
	server  *server.Server
	metrics *telemetry.Metrics
	closers []func(context.Context) error
	logger  *slog.Logger
}

// newApp wires configuration into the component graph. It performs network
// I/O only for the redis ping and the tracing exporter.
func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*app, error) {
	a := &app{logger: logger}

	shutdownTracing, err := telemetry.SetupProvider(ctx, telemetry.Config{
		ServiceName:  cfg.Telemetry.ServiceName,
		Endpoint:     cfg.Telemetry.OTLPEndpoint,
		Environment:  cfg.Telemetry.Environment,
		Insecure:     cfg.Telemetry.Insecure,
		Headers:      cfg.Telemetry.Headers,
		SampleRatio:  cfg.Telemetry.SampleRatio,
		BatchSize:    cfg.Telemetry.BatchSize,
		BatchTimeout: cfg.Telemetry.BatchTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("setup tracing: %w", err)
	}
	a.closers = append(a.closers, shutdownTracing)

	if cfg.Metrics.Enabled {
		a.metrics = telemetry.NewMetrics()
	}

	publicKey, err := signature.ParsePublicKey(cfg.Discord.PublicKey)
	if err != nil {
		a.Close()
		return nil, err
	}

	store, err := cache.NewStore(ctx, cache.Config{
		Backend:   cfg.Cache.Backend,
		RedisAddr: cfg.Cache.Redis.Addr,
		Password:  cfg.Cache.Redis.Password,
		DB:        cfg.Cache.Redis.DB,
		KeyPrefix: cfg.Cache.Redis.KeyPrefix,
	})
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("create cache store: %w", err)
	}
	readThrough := cache.NewReadThrough(store, cfg.Cache.TTL, logger)
	a.closers = append(a.closers, func(context.Context) error { return readThrough.Close() })

	gateway, err := proxyapi.NewGateway(proxyapi.Options{
		URL:          cfg.Upstream.URL,
		Cache:        readThrough,
		Timeouts:     governance.NewTimeoutManager(governance.TimeoutConfig{RequestTimeout: cfg.Upstream.Timeout}),
		Metrics:      a.metrics,
		Logger:       logger,
		MaxBodyBytes: cfg.Upstream.MaxBodyBytes,
	})
	if err != nil {
		a.Close()
		return nil, err
	}

	scope, err := newScopePolicy(ctx, cfg.Policy)
	if err != nil {
		a.Close()
		return nil, err
	}

	rt := router.New(router.Config{ApplicationID: cfg.Discord.ApplicationID}, gateway, scope, a.metrics, logger)

	a.handler = server.NewHandler(server.HandlerConfig{
		ApplicationID: cfg.Discord.ApplicationID,
		Verifier:      signature.NewVerifier(publicKey),
		Router:        rt,
		Metrics:       a.metrics,
		Logger:        logger,
		MaxBodyBytes:  cfg.Server.MaxBodyBytes,
	})

	opts := server.Options{
		Addr:            cfg.Server.Addr,
		ReadTimeout:     cfg.Server.ReadTimeout,
		WriteTimeout:    cfg.Server.WriteTimeout,
		IdleTimeout:     cfg.Server.IdleTimeout,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
	}
	if cfg.Server.TLS.Enabled {
		tlsConfig, err := a.setupTLS(ctx, cfg.Server.TLS)
		if err != nil {
			a.Close()
			return nil, err
		}
		opts.TLS = tlsConfig
	}
	a.server = server.New(opts, a.handler, logger)

	return a, nil
}

func (a *app) setupTLS(ctx context.Context, cfg config.TLSConfig) (*tls.Config, error) {
	manager, err := webhooktls.NewCertificateManager(cfg.CertFile, cfg.KeyFile, a.logger)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, func(context.Context) error { return manager.Close() })

	if cfg.Watch {
		if err := manager.Watch(ctx); err != nil {
			return nil, err
		}
	}
	return webhooktls.BuildServer(webhooktls.Config{
		CertFile:   cfg.CertFile,
		KeyFile:    cfg.KeyFile,
		MinVersion: cfg.MinVersion,
	}, manager)
}

// newScopePolicy compiles the built-in scope module, or the operator's file
// when one is configured.
func newScopePolicy(ctx context.Context, cfg config.PolicyConfig) (*policy.Engine, error) {
	opts := policy.EngineOptions{Entrypoint: cfg.Entrypoint}
	if cfg.File != "" {
		//nolint:gosec // Policy path is controlled by the operator
		src, err := os.ReadFile(cfg.File)
		if err != nil {
			return nil, fmt.Errorf("read policy file: %w", err)
		}
		opts.Modules = map[string]string{filepath.Base(cfg.File): string(src)}
	}
	return policy.NewEngine(ctx, opts)
}

// Close releases resources in reverse order of acquisition.
func (a *app) Close() {
	ctx := context.Background()
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	if err := errors.Join(errs...); err != nil {
		a.logger.Warn("Shutdown cleanup failed", "error", err)
	}
}
