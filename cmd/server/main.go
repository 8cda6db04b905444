// Package main is the entry point for the surveyz trigger server.
//
// The bootstrap sequence is:
//  1. Load configuration from environment variables.
//  2. Connect to PostgreSQL via pgxpool and apply pending migrations.
//  3. Create the repository and service (eagerly loading the plan cache).
//  4. Wire up the API key token validator and rate limiters.
//  5. Start the HTTP server (:8080) and gRPC server (:9090) concurrently,
//     plus the admin API on the tailnet when ADMIN_HOSTNAME is set.
//  6. Wait for SIGINT/SIGTERM, then gracefully shut down all servers.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/matt-riley/surveyz/api/triggerv1"
	"github.com/matt-riley/surveyz/internal/config"
	"github.com/matt-riley/surveyz/internal/core"
	"github.com/matt-riley/surveyz/internal/logging"
	"github.com/matt-riley/surveyz/internal/metrics"
	"github.com/matt-riley/surveyz/internal/middleware"
	"github.com/matt-riley/surveyz/internal/repository"
	"github.com/matt-riley/surveyz/internal/server"
	"github.com/matt-riley/surveyz/internal/service"
	"github.com/matt-riley/surveyz/internal/tracing"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"google.golang.org/grpc"
)

const (
	shutdownTimeout       = 10 * time.Second
	httpReadHeaderTimeout = 5 * time.Second
	httpReadTimeout       = 30 * time.Second
	httpIdleTimeout       = 2 * time.Minute
)

func main() {
	if err := run(); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log := logging.New(cfg.LogLevel)
	slog.SetDefault(log)

	shutdownTracer, err := tracing.Init(context.Background())
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracer(ctx); err != nil {
			log.Error("tracer shutdown error", "err", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer pool.Close()

	if cfg.AutoMigrate {
		if err := runMigrations(ctx, pool, log); err != nil {
			return err
		}
	}

	repo := repository.NewPostgresRepository(pool, repository.WithEventBatchSize(cfg.EventBatchSize))
	m := metrics.New()
	metrics.RegisterPoolMetrics(m.Registry, pool)

	evaluator := core.NewEvaluator(core.WithLogger(log), core.WithEventMatchMode(cfg.EventMatchMode))
	svc, err := service.New(ctx, repo,
		service.WithLogger(log),
		service.WithCacheMetrics(m.IncCacheLoads, m.IncCacheInvalidations, m.ResetCacheSize, m.SetCacheSize),
		service.WithCacheResyncInterval(cfg.CacheResyncInterval),
		service.WithEvaluator(evaluator),
		service.WithEvaluationObserver(m.RecordEvaluation),
		service.WithDefaultRefreshInterval(cfg.DefaultRefreshIntervalSec),
	)
	if err != nil {
		return fmt.Errorf("init service: %w", err)
	}

	authLimiter := middleware.NewRateLimiter(ctx, cfg.AuthRateLimit)
	defer authLimiter.Stop()
	triggerLimiter := middleware.NewRateLimiter(ctx, cfg.TriggerRateLimit)
	defer triggerLimiter.Stop()

	authOpts := []middleware.AuthOption{
		middleware.WithOnAuthFailure(m.IncAuthFailures),
		middleware.WithRateLimiter(authLimiter),
	}
	tokenValidator := apiKeyValidator{keys: repo}

	apiHandler := server.NewHTTPHandler(svc,
		server.WithStreamPollInterval(cfg.StreamPollInterval),
		server.WithMaxJSONBodySize(cfg.MaxJSONBodySize),
		server.WithHTTPMetrics(m),
	)
	httpHandler := newHTTPHandler(apiHandler, tokenValidator,
		middleware.HTTPProjectRateLimit(triggerLimiter, func() { m.IncRateLimited("http") }),
		authOpts...,
	)

	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           otelhttp.NewHandler(middleware.HTTPRequestLogging(log)(httpHandler), "surveyz-http"),
		ReadHeaderTimeout: httpReadHeaderTimeout,
		ReadTimeout:       httpReadTimeout,
		IdleTimeout:       httpIdleTimeout,
	}

	grpcServer := grpc.NewServer(
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
		grpc.ChainUnaryInterceptor(
			middleware.UnaryRequestLoggingInterceptor(log),
			middleware.UnaryBearerAuthInterceptor(tokenValidator, authOpts...),
			middleware.UnaryProjectRateLimitInterceptor(triggerLimiter, func() { m.IncRateLimited("grpc") }),
			m.UnaryServerInterceptor(),
		),
		grpc.ChainStreamInterceptor(
			middleware.StreamRequestLoggingInterceptor(log),
			middleware.StreamBearerAuthInterceptor(tokenValidator, authOpts...),
			m.StreamServerInterceptor(),
		),
	)
	triggerv1.RegisterTriggerServiceServer(grpcServer, server.NewGRPCServer(svc,
		server.WithGRPCStreamPollInterval(cfg.StreamPollInterval),
		server.WithGRPCMetrics(m),
	))

	admin, err := startAdmin(cfg, log, func(identify func(*http.Request) string) http.Handler {
		return server.NewAdminHandler(svc, repo,
			server.WithAdminLogger(log),
			server.WithAdminMaxJSONBodySize(cfg.MaxJSONBodySize),
			server.WithAdminIdentity(identify),
		)
	})
	if err != nil {
		return err
	}

	httpListener, err := net.Listen("tcp", cfg.HTTPAddr)
	if err != nil {
		return fmt.Errorf("listen HTTP %s: %w", cfg.HTTPAddr, err)
	}
	defer httpListener.Close()

	grpcListener, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		return fmt.Errorf("listen gRPC %s: %w", cfg.GRPCAddr, err)
	}
	defer grpcListener.Close()

	serveErrCh := make(chan error, 2)
	go func() {
		if err := httpServer.Serve(httpListener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErrCh <- fmt.Errorf("serve HTTP: %w", err)
		}
	}()
	go func() {
		if err := grpcServer.Serve(grpcListener); err != nil {
			serveErrCh <- fmt.Errorf("serve gRPC: %w", err)
		}
	}()

	log.Info("server started", "http_addr", cfg.HTTPAddr, "grpc_addr", cfg.GRPCAddr, "event_match_mode", cfg.EventMatchMode)

	var serveErr error
	select {
	case <-ctx.Done():
	case serveErr = <-serveErrCh:
	}
	stop()

	log.Info("server shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := shutdown(shutdownCtx, httpServer, grpcServer, admin); err != nil && serveErr == nil {
		return err
	}
	return serveErr
}

// shutdown drains the public HTTP server, the gRPC server and the admin API
// in that order. gRPC streams still open at the deadline are cut.
func shutdown(ctx context.Context, httpServer *http.Server, grpcServer *grpc.Server, admin *adminAPI) error {
	var errs []error
	if err := httpServer.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("shutdown HTTP: %w", err))
	}

	stopped := make(chan struct{})
	go func() {
		grpcServer.GracefulStop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-ctx.Done():
		grpcServer.Stop()
	}

	if err := admin.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("shutdown admin api: %w", err))
	}
	return errors.Join(errs...)
}
