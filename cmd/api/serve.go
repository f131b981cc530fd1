package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"golang.org/x/time/rate"

	"github.com/jwalitptl/prescription-api/internal/handler/health"
	lookupHandler "github.com/jwalitptl/prescription-api/internal/handler/lookup"
	prescriptionHandler "github.com/jwalitptl/prescription-api/internal/handler/prescription"
	promHandler "github.com/jwalitptl/prescription-api/internal/handler/prometheus"
	"github.com/jwalitptl/prescription-api/internal/middleware"
	"github.com/jwalitptl/prescription-api/internal/router"
	"github.com/jwalitptl/prescription-api/pkg/metrics"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd)
		},
	}
}

func runServer(cmd *cobra.Command) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := bootstrap(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	if a.cfg.Seed.Enabled {
		if err := a.seed(ctx); err != nil {
			return err
		}
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg, metricsNamespace)

	store := a.store()
	lookupSvc, prescriptionSvc := a.services(store, m)

	report, err := prescriptionSvc.Reconcile(ctx)
	if err != nil {
		// not fatal, the next start tries again
		a.logger.Error().Err(err).Msg("failed to reconcile prescription artifacts")
	} else if report.Changed() {
		a.logger.Warn().
			Strs("orphans_removed", report.OrphansRemoved).
			Ints64("marked_failed", report.MarkedFailed).
			Int("temp_removed", report.TempRemoved).
			Msg("reconciled prescription artifacts")
	}

	var metricsHandler gin.HandlerFunc
	if a.cfg.Metrics.Enabled {
		metricsHandler = promHandler.New(reg).Handler()
	}

	gin.SetMode(gin.ReleaseMode)
	r := router.NewRouter(
		a.logger,
		m,
		prescriptionHandler.NewHandler(prescriptionSvc),
		lookupHandler.NewHandler(lookupSvc),
		health.NewHandler(
			health.Check{Name: "database", Pinger: a.db},
			health.Check{Name: "storage", Pinger: store},
		),
		metricsHandler,
		router.RouterConfig{
			RateLimitEnabled: a.cfg.RateLimit.Enabled,
			RateLimit:        rate.Limit(a.cfg.RateLimit.RequestsPerSecond),
			RateBurst:        a.cfg.RateLimit.Burst,
			CORSConfig:       middleware.DefaultCORSConfig(),
			SizeLimit:        middleware.DefaultSizeLimitConfig(),
		},
	)
	r.Setup()

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:      r.Engine(),
		ReadTimeout:  a.cfg.Server.ReadTimeout,
		WriteTimeout: a.cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info().Str("addr", srv.Addr).Msg("starting server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}

	a.logger.Info().Msg("shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	a.logger.Info().Msg("server exited")
	return nil
}
