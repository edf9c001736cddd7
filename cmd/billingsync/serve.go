package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/mihaimyh/billingsync/internal/config"
	authmw "github.com/mihaimyh/billingsync/middleware/http"
	"github.com/mihaimyh/billingsync/pkg/api"
	"github.com/mihaimyh/billingsync/pkg/billing"
	zerologadapter "github.com/mihaimyh/billingsync/pkg/billing/logger/zerolog"
	prommetrics "github.com/mihaimyh/billingsync/pkg/billing/metrics/prometheus"
	"github.com/mihaimyh/billingsync/pkg/billing/notify"
	"github.com/mihaimyh/billingsync/pkg/billing/reconcile"
	"github.com/mihaimyh/billingsync/pkg/billing/stripe"
	"github.com/mihaimyh/billingsync/pkg/billing/subscription"
	"github.com/mihaimyh/billingsync/storage/memory"
	"github.com/mihaimyh/billingsync/storage/postgres"
	"github.com/mihaimyh/billingsync/storage/redis"
	"github.com/mihaimyh/billingsync/storage/tiered"
)

const metricsNamespace = "billingsync"

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the webhook and API server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServer(ctx, cfg, newLogger(cfg.LogLevel, cfg.LogFormat, os.Stdout))
		},
	}
}

// app is the wired object graph behind the HTTP server
type app struct {
	handler  http.Handler
	store    billing.Store
	closers  []func()
	registry *prometheus.Registry
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

// buildApp wires every component from cfg. store overrides the Postgres
// store when non-nil.
func buildApp(ctx context.Context, cfg *config.Config, zl zerolog.Logger, store billing.Store) (*app, error) {
	logger := zerologadapter.NewLogger(zl)
	a := &app{registry: prometheus.NewRegistry()}
	a.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := prommetrics.NewMetrics(a.registry, metricsNamespace)

	var ready func(context.Context) error
	if store == nil {
		pgConfig := postgres.DefaultConfig()
		pgConfig.ConnectionString = cfg.DatabaseURL
		pgConfig.MaxConns = cfg.DBMaxConns
		if pgConfig.MinConns > pgConfig.MaxConns {
			pgConfig.MinConns = pgConfig.MaxConns
		}
		pg, err := postgres.New(ctx, pgConfig)
		if err != nil {
			return nil, fmt.Errorf("connect to database: %w", err)
		}
		a.closers = append(a.closers, pg.Close)
		store = pg
		ready = pg.Ping
	}
	a.store = store

	syncLimiter, err := newSyncLimiter(cfg, logger)
	if err != nil {
		a.close()
		return nil, err
	}
	if closer, ok := syncLimiter.(interface{ Close() error }); ok {
		a.closers = append(a.closers, func() { _ = closer.Close() })
	}

	gateway, err := stripe.NewGateway(stripe.Config{
		APIKey:  cfg.StripeSecretKey,
		BaseURL: cfg.StripeAPIBase,
		Metrics: metrics,
		Logger:  logger,
	})
	if err != nil {
		a.close()
		return nil, err
	}

	engine, err := reconcile.NewEngine(reconcile.Config{
		Store:           store,
		DefaultCurrency: cfg.Currency,
		PlanType:        cfg.PlanType,
		Metrics:         metrics,
		Logger:          logger,
	})
	if err != nil {
		a.close()
		return nil, err
	}
	processor, err := reconcile.NewProcessor(engine, gateway)
	if err != nil {
		a.close()
		return nil, err
	}

	var webhookLimiter billing.Limiter
	if cfg.WebhookRateLimit > 0 {
		webhookLimiter = memory.NewLimiter(cfg.WebhookRateLimit, time.Minute)
	}
	webhook, err := stripe.NewWebhookHandler(stripe.WebhookConfig{
		Verifier:  stripe.NewVerifier(cfg.StripeWebhookSecret),
		Processor: processor,
		Limiter:   webhookLimiter,
		Metrics:   metrics,
		Logger:    logger.With(billing.F("component", "webhook")),
	})
	if err != nil {
		a.close()
		return nil, err
	}

	service, err := subscription.NewService(subscription.Config{
		Store:       store,
		Gateway:     gateway,
		Engine:      engine,
		Notifier:    notify.NewLogNotifier(logger),
		Metrics:     metrics,
		Logger:      logger,
		AppURL:      cfg.AppURL,
		Currency:    cfg.Currency,
		ProductName: cfg.ProductName,
	})
	if err != nil {
		a.close()
		return nil, err
	}

	auth, err := authmw.NewAuthenticator(authmw.Config{
		Secret: cfg.AuthJWTSecret,
		Issuer: cfg.AuthIssuer,
		Logger: logger,
	})
	if err != nil {
		a.close()
		return nil, err
	}

	a.handler, err = api.NewRouter(api.Config{
		Commands:       service,
		Authenticator:  auth,
		Webhook:        webhook,
		SyncLimiter:    syncLimiter,
		MetricsHandler: promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{}),
		Ready:          ready,
		Logger:         logger.With(billing.F("component", "api")),
	})
	if err != nil {
		a.close()
		return nil, err
	}
	return a, nil
}

// newSyncLimiter uses Redis when REDIS_URL is set, backed by a per-process
// limiter for when Redis is unreachable.
func newSyncLimiter(cfg *config.Config, logger billing.Logger) (billing.Limiter, error) {
	local := memory.NewLimiter(cfg.SyncRateLimit, cfg.SyncRateWindow)
	if cfg.RedisURL == "" {
		return local, nil
	}
	shared, err := redis.NewFromURL(cfg.RedisURL, redis.Config{
		Limit:  cfg.SyncRateLimit,
		Window: cfg.SyncRateWindow,
	})
	if err != nil {
		return nil, err
	}
	return tiered.New(tiered.Config{
		Primary:  shared,
		Fallback: local,
		OnPrimaryError: func(err error) {
			logger.Warn("sync limiter degraded to local", billing.F("error", err))
		},
	})
}

func runServer(ctx context.Context, cfg *config.Config, zl zerolog.Logger) error {
	a, err := buildApp(ctx, cfg, zl, nil)
	if err != nil {
		return err
	}
	defer a.close()

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           a.handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		zl.Info().Str("addr", cfg.HTTPAddr).Str("version", Version).Msg("billingsync listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		zl.Info().Msg("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
