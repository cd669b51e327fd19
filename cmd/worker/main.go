package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/jwalitptl/mailing-api/config"
	"github.com/jwalitptl/mailing-api/internal/app"
	"github.com/jwalitptl/mailing-api/internal/handler/health"
	promHandler "github.com/jwalitptl/mailing-api/internal/handler/prometheus"
	internalWorker "github.com/jwalitptl/mailing-api/internal/worker"
	"github.com/jwalitptl/mailing-api/pkg/logger"
	"github.com/jwalitptl/mailing-api/pkg/worker"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	lg := logger.ForEnv(cfg.Env, cfg.LogLevel).WithFields(map[string]interface{}{"component": "worker"})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, lg, app.Deps{})
	if err != nil {
		lg.Fatal(err, "failed to initialise application")
	}
	defer a.Close()

	broker, err := a.Broker(ctx)
	if err != nil {
		lg.Fatal(err, "failed to connect to broker")
	}

	processor, err := worker.NewOutboxProcessor(
		a.Store.Outbox(),
		broker,
		worker.OutboxProcessorConfig{
			Channel:       cfg.Broker.Channel,
			BatchSize:     cfg.Outbox.BatchSize,
			PollInterval:  cfg.Outbox.PollInterval,
			RetryAttempts: cfg.Outbox.RetryAttempts,
			RetryDelay:    cfg.Outbox.RetryDelay,
		},
		lg,
		a.Metrics,
	)
	if err != nil {
		lg.Fatal(err, "invalid outbox configuration")
	}
	cleanup := worker.NewOutboxCleanupWorker(a.Store.Outbox(), cfg.Outbox.Retention, time.Hour, lg)
	sweeper := internalWorker.NewStatusSweeper(a.Mailings, cfg.Sweeper.Interval, lg)

	srv := healthServer(cfg.Worker.HealthPort, a)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { processor.Start(gctx); return nil })
	g.Go(func() error { cleanup.Start(gctx); return nil })
	g.Go(func() error { sweeper.Start(gctx); return nil })
	g.Go(func() error {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("health server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		lg.Info("shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		lg.Error(err, "worker stopped with error")
	}
	lg.Info("worker exited")
}

func healthServer(port int, a *app.App) *http.Server {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())

	var pinger health.Pinger
	if a.DB != nil {
		pinger = a.DB
	}
	health.NewHandler(pinger).RegisterRoutes(engine)
	promHandler.New(prometheus.DefaultGatherer).RegisterRoutes(engine)

	return &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: engine,
	}
}
