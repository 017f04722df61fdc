package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/angelmondragon/storefront/api/routes"
	"github.com/angelmondragon/storefront/internal/backend"
	"github.com/angelmondragon/storefront/internal/checkout"
	"github.com/angelmondragon/storefront/internal/cron"
	"github.com/angelmondragon/storefront/internal/orders"
	"github.com/angelmondragon/storefront/internal/payments"
	"github.com/angelmondragon/storefront/internal/registry"
	"github.com/angelmondragon/storefront/internal/session"
	"github.com/angelmondragon/storefront/pkg/config"
	"github.com/angelmondragon/storefront/pkg/env"
	"github.com/angelmondragon/storefront/pkg/logger"
	"github.com/angelmondragon/storefront/pkg/metrics"
	"github.com/angelmondragon/storefront/pkg/redis"
)

const serviceName = "storefront"

func main() {
	logg := logger.New(logger.Options{ServiceName: serviceName})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: serviceName,
		Level:       cfg.App.LogLevel,
		WarnStack:   cfg.App.LogWarnStack,
	})

	if err := run(cfg, logg); err != nil {
		logg.Error(context.Background(), "storefront stopped unexpectedly", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logg *logger.Logger) (err error) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	redisClient, err := redis.New(ctx, cfg.Redis, logg)
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Append(err, redisClient.Close())
	}()

	promReg := prometheus.NewRegistry()
	promReg.MustRegister(prometheus.NewGoCollector(), prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))
	checkoutMetrics := metrics.NewCheckoutMetrics(promReg)
	jobMetrics := metrics.NewJobMetrics(promReg)

	backendClient, err := backend.NewClient(cfg.Backend,
		backend.WithBreaker(cfg.Breaker),
		backend.WithMetrics(checkoutMetrics),
	)
	if err != nil {
		return err
	}

	orchestrator, err := orders.NewOrchestrator(backendClient, session.ContextSource, logg)
	if err != nil {
		return err
	}
	resolver, err := payments.NewResolver(backendClient, session.ContextSource, logg, checkoutMetrics)
	if err != nil {
		return err
	}

	sessions, err := registry.New(registry.Params{
		Logger:  logg,
		Metrics: checkoutMetrics,
		Mirror:  redisClient,
		Flow: checkout.Dependencies{
			Orchestrator: orchestrator,
			Resolver:     resolver,
		},
		IdleTTL: cfg.Session.IdleTTL,
	})
	if err != nil {
		return err
	}

	sweepJob, err := cron.NewSessionSweepJob(cron.SessionSweepJobParams{Logger: logg, Sessions: sessions})
	if err != nil {
		return err
	}
	jobs, err := cron.NewService(cron.ServiceParams{
		Logger:   logg,
		Registry: cron.NewRegistry(sweepJob),
		Metrics:  jobMetrics,
		Interval: cfg.Jobs.SweepInterval,
	})
	if err != nil {
		return err
	}

	addr := ":" + env.Get("PORT", cfg.App.Port)
	router := routes.NewRouter(routes.RouterParams{
		Config:      cfg,
		Logger:      logg,
		Sessions:    sessions,
		Idempotency: redisClient,
		Redis:       redisClient,
		Gatherer:    promReg,
	})
	server := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	logCtx := logg.WithFields(ctx, map[string]any{
		"env":         cfg.App.Env,
		"addr":        addr,
		"backend_url": cfg.Backend.BaseURL,
	})
	logg.Info(logCtx, "starting storefront")

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	group.Go(func() error {
		if err := jobs.Run(groupCtx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})
	group.Go(func() error {
		<-groupCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(groupCtx), cfg.App.ShutdownTimeout)
		defer cancel()
		logg.Info(logCtx, "storefront shutting down")
		return server.Shutdown(shutdownCtx)
	})

	return group.Wait()
}
