// Package main is the entry point for the docflow scheduler process.
// It seeds the default tasks and runs due tasks on every poll.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"docflow/internal/app"
	"docflow/internal/config"
	"docflow/internal/logger"
	"docflow/internal/observability"
	"docflow/internal/scheduler"
)

func main() {
	configPath := flag.String("config", "", "Path to config file (default: docflow.yaml in current directory)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	log := logger.New(cfg.LogLevel)
	slog.SetDefault(log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	st, err := app.OpenStore(ctx, cfg)
	if err != nil {
		fatal(log, "failed to connect to database", err)
	}
	defer st.Close()

	shutdownTracer, err := observability.InitTracer(ctx, "docflow-scheduler", cfg.OTELEndpoint)
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

	loop := scheduler.NewLoop(a.Scheduler, scheduler.LoopConfig{
		PollInterval: cfg.SchedulerPollInterval,
		Seed:         true,
	})
	log.Info("scheduler started", "poll_interval", cfg.SchedulerPollInterval)
	go loop.Run(ctx)

	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metricsHandler)
		addr := fmt.Sprintf(":%d", cfg.MetricsPort)
		log.Info("scheduler metrics listening", "addr", addr)
		if err := http.ListenAndServe(addr, mux); err != nil {
			log.Error("metrics server error", "error", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down scheduler")
	cancel()

	<-loop.Done()
}

func fatal(log *slog.Logger, msg string, err error) {
	log.Error(msg, "error", err)
	os.Exit(1)
}
