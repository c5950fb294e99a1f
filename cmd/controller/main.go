// Package main is the entry point for the docflow controller.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"docflow/internal/alerts"
	"docflow/internal/app"
	"docflow/internal/config"
	"docflow/internal/controller"
	"docflow/internal/logger"
	"docflow/internal/observability"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

func main() {
	migrateFlag := flag.Bool("migrate", false, "Run database migrations before starting")
	configPath := flag.String("config", "", "Path to config file (default: docflow.yaml in current directory)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	log := logger.New(cfg.LogLevel)
	slog.SetDefault(log)

	ctx := context.Background()
	st, err := app.OpenStore(ctx, cfg)
	if err != nil {
		fatal(log, "failed to connect to database", err)
	}
	defer st.Close()

	if *migrateFlag {
		log.Info("running database migrations")
		version, err := app.Migrate(st)
		if err != nil {
			fatal(log, "migration failed", err)
		}
		log.Info("migrations completed", "version", version)
	}

	shutdownTracer, err := observability.InitTracer(ctx, "docflow-controller", cfg.OTELEndpoint)
	if err != nil {
		fatal(log, "failed to init tracing", err)
	}
	defer func() {
		if err := shutdownTracer(context.Background()); err != nil {
			log.Error("failed to shutdown tracer", "error", err)
		}
	}()

	metricsHandler, shutdownMetrics, err := observability.InitMetrics()
	if err != nil {
		fatal(log, "failed to init metrics", err)
	}
	defer func() {
		if err := shutdownMetrics(context.Background()); err != nil {
			log.Error("failed to shutdown metrics", "error", err)
		}
	}()

	instruments, err := observability.NewInstruments()
	if err != nil {
		fatal(log, "failed to register instruments", err)
	}

	a, err := app.New(cfg, st, log, instruments)
	if err != nil {
		fatal(log, "failed to build engines", err)
	}

	// Observed on scrape only.
	meter := otel.Meter("docflow-controller")
	_, err = meter.Int64ObservableGauge("docflow.documents.expiring",
		metric.WithDescription("Documents inside the first alert window"),
		metric.WithInt64Callback(func(ctx context.Context, obs metric.Int64Observer) error {
			items, err := a.Alerts.Expiring(ctx, alerts.ExpiringQuery{Days: cfg.Alerts.FirstDays})
			if err != nil {
				log.Warn("failed to count expiring documents", "error", err)
				return nil
			}
			obs.Observe(int64(len(items)))
			return nil
		}),
	)
	if err != nil {
		log.Warn("failed to register expiring documents gauge", "error", err)
	}

	addr := fmt.Sprintf(":%d", cfg.HTTPPort)
	srv := controller.New(addr, a, metricsHandler)

	go func() {
		log.Info("docflow controller starting", "addr", addr, "in_memory", cfg.InMemory())
		if err := srv.Run(ctx); err != nil {
			log.Error("server stopped", "error", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down controller")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		fatal(log, "server forced to shutdown", err)
	}
	log.Info("server exited properly")
}

func fatal(log *slog.Logger, msg string, err error) {
	log.Error(msg, "error", err)
	os.Exit(1)
}
