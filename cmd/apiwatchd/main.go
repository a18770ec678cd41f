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

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/apiwatch/apiwatch/internal/alerting"
	"github.com/apiwatch/apiwatch/internal/config"
	"github.com/apiwatch/apiwatch/internal/httpapi"
	"github.com/apiwatch/apiwatch/internal/httpapi/middleware"
	"github.com/apiwatch/apiwatch/internal/logging"
	"github.com/apiwatch/apiwatch/internal/notify"
	"github.com/apiwatch/apiwatch/internal/probe"
	"github.com/apiwatch/apiwatch/internal/registry"
	"github.com/apiwatch/apiwatch/internal/repo"
	"github.com/apiwatch/apiwatch/internal/repo/memory"
	"github.com/apiwatch/apiwatch/internal/repo/postgres"
	"github.com/apiwatch/apiwatch/internal/scheduler"
)

var flags struct {
	ConfigFile string
	Debug      bool
}

var rootCmd = &cobra.Command{
	Use:   "apiwatchd",
	Short: "apiwatchd monitors HTTP APIs and raises deduplicated alerts",
	Long: `apiwatchd periodically probes the configured API endpoints, classifies
every outcome, stores the history and keeps at most one open alert per
endpoint and alert type. It serves the read and admin API on the
configured address.`,
}

func main() {
	rootCmd.PersistentFlags().StringVarP(&flags.ConfigFile, "config", "c", "", "Path to the YAML config file.")
	rootCmd.PersistentFlags().BoolVarP(&flags.Debug, "debug", "v", false, "Enable debug logging.")

	rootCmd.RunE = run
	rootCmd.SilenceUsage = true

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(flags.ConfigFile)
	if err != nil {
		return err
	}

	logger, err := logging.NewLogger(cfg.LogDir, flags.Debug)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var (
		results repo.ResultStore
		alerts  repo.AlertStore
		pg      *postgres.Store
	)
	if cfg.DatabaseURL != "" {
		pg, err = postgres.New(ctx, cfg.DatabaseURL, logger)
		if err != nil {
			return fmt.Errorf("connect postgres: %w", err)
		}
		defer pg.Close()
		results, alerts = pg, pg
	} else {
		mem := memory.New()
		results, alerts = mem, mem
		logger.Warn("memory_store_in_use")
	}

	defaults := registry.Defaults{
		Interval: cfg.Scheduler.DefaultInterval,
		Timeout:  cfg.Scheduler.DefaultTimeout,
	}
	var reg registry.Registry
	switch {
	case cfg.EndpointsFile != "":
		reg, err = registry.NewFile(cfg.EndpointsFile, defaults)
		if err != nil {
			return fmt.Errorf("load endpoints: %w", err)
		}
	case pg != nil:
		reg = registry.NewPostgres(pg.Pool(), defaults)
	default:
		return errors.New("no endpoint source configured")
	}

	var notifier notify.Notifier
	if slack := notify.NewSlack(cfg.Alerting.SlackWebhook); slack != nil {
		notifier = notify.Multi{slack}
	}

	alerter := alerting.New(alerts, notifier, logger, alerting.Config{
		NotificationsEnabled: cfg.Alerting.NotificationsEnabled,
		NotifyOnResolve:      cfg.Alerting.NotifyOnResolve,
	})

	sched := scheduler.New(logger, reg, results, probe.NewHTTPProber(), alerter, scheduler.Config{
		Tick:                      cfg.Scheduler.Tick,
		MaxConcurrent:             cfg.Scheduler.MaxConcurrent,
		DefaultLatencyThresholdMS: cfg.Checks.DefaultLatencyThresholdMS,
	})

	api := httpapi.NewServer(logger, reg, results, alerts, sched, httpapi.Config{
		Keys:           middleware.Keys{Public: cfg.API.PublicKeys, Admin: cfg.API.AdminKeys},
		PublicRPM:      cfg.API.PublicRPM,
		PublicBurst:    cfg.API.PublicBurst,
		AdminRPM:       cfg.API.AdminRPM,
		AdminBurst:     cfg.API.AdminBurst,
		AllowedOrigins: cfg.API.AllowedOrigins,
	})

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           api.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("api_listen", zap.String("addr", cfg.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	schedDone := make(chan struct{})
	go func() {
		defer close(schedDone)
		_ = sched.Run(ctx)
	}()

	if cfg.Alerting.NotificationsEnabled && notifier != nil {
		resender := alerting.NewResender(alerts, notifier, logger, alerting.ResenderConfig{
			Every: cfg.Alerting.ResendEvery,
			Batch: cfg.Alerting.ResendBatch,
		})
		go func() { _ = resender.Run(ctx) }()
	}

	sweeper := scheduler.NewSweeper(logger, results, cfg.Retention.Days, cfg.Retention.SweepEvery)
	go func() { _ = sweeper.Run(ctx) }()

	select {
	case <-ctx.Done():
		logger.Info("shutdown_signal")
	case err := <-serveErr:
		stop()
		logger.Error("api_serve_error", zap.Error(err))
		return err
	}

	shctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shctx); err != nil {
		logger.Warn("api_shutdown_error", zap.Error(err))
	}

	// let in-flight checks drain
	select {
	case <-schedDone:
	case <-time.After(10 * time.Second):
		logger.Warn("scheduler_drain_timeout")
	}

	logger.Info("stopped")
	return nil
}
