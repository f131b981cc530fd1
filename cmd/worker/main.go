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

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/jwalitptl/prescription-api/internal/config"
	"github.com/jwalitptl/prescription-api/internal/handler/health"
	promHandler "github.com/jwalitptl/prescription-api/internal/handler/prometheus"
	"github.com/jwalitptl/prescription-api/internal/middleware"
	"github.com/jwalitptl/prescription-api/internal/repository/sqlstore"
	"github.com/jwalitptl/prescription-api/pkg/circuitbreaker"
	"github.com/jwalitptl/prescription-api/pkg/logger"
	"github.com/jwalitptl/prescription-api/pkg/messaging/redis"
	"github.com/jwalitptl/prescription-api/pkg/metrics"
	"github.com/jwalitptl/prescription-api/pkg/worker"
)

func main() {
	cmd := &cobra.Command{
		Use:           "prescription-worker",
		Short:         "Publish prescription outbox events to Redis",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			path, _ := cmd.Flags().GetString("config")
			return run(cmd.Context(), path)
		},
	}
	cmd.Flags().String("config", "", "path to a config file (defaults to ./config.yaml)")

	if err := cmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(parent context.Context, path string) error {
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var (
		cfg *config.Config
		err error
	)
	if path != "" {
		cfg, err = config.LoadFile(path)
	} else {
		cfg, err = config.LoadConfig()
	}
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if cfg.Redis.URL == "" {
		return errors.New("redis.url is required for the worker")
	}

	log := logger.New(logger.Config{Level: cfg.Log.Level, Pretty: cfg.Log.Pretty})

	db, err := sqlstore.NewDB(ctx, cfg.Database)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := sqlstore.EnsureSchema(ctx, db); err != nil {
		return fmt.Errorf("failed to prepare schema: %w", err)
	}

	broker, err := redis.NewRedisBroker(ctx, redis.Config{
		URL:          cfg.Redis.URL,
		MaxRetries:   cfg.Redis.MaxRetries,
		RetryBackoff: cfg.Redis.RetryBackoff,
		PoolSize:     cfg.Redis.PoolSize,
		MinIdleConns: cfg.Redis.MinIdleConns,
	}, log)
	if err != nil {
		return err
	}
	defer broker.Close()

	reg := prometheus.NewRegistry()
	m := metrics.New(reg, "outbox_processor")

	publisher := circuitbreaker.NewPublisher(broker, circuitbreaker.Settings{
		Name:        "redis",
		MaxFailures: cfg.Outbox.BreakerFailures,
		Timeout:     cfg.Outbox.BreakerTimeout,
	}, log)

	processor, err := worker.NewOutboxProcessor(
		sqlstore.NewOutboxRepository(db),
		publisher,
		worker.OutboxProcessorConfig{
			Channel:       cfg.Redis.Channel,
			BatchSize:     cfg.Outbox.BatchSize,
			PollInterval:  cfg.Outbox.PollInterval,
			RetryAttempts: cfg.Outbox.RetryAttempts,
			RetryDelay:    cfg.Outbox.RetryDelay,
		},
		log,
		m,
	)
	if err != nil {
		return err
	}

	srv := healthServer(cfg.Outbox.HealthPort, log, m, health.NewHandler(health.Check{Name: "database", Pinger: db}), promHandler.New(reg))
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("health check server failed")
			stop()
		}
	}()

	processor.Start(ctx)

	log.Info().Msg("shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func healthServer(port int, log zerolog.Logger, m *metrics.Metrics, h *health.Handler, prom *promHandler.Handler) *http.Server {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(middleware.Recovery(log), middleware.Metrics(m))

	h.RegisterRoutes(engine.Group(""))
	engine.GET("/metrics", prom.Handler())

	return &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           engine,
		ReadHeaderTimeout: 5 * time.Second,
	}
}
