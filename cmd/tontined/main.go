package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mkoffi/tontine/internal/config"
	"github.com/mkoffi/tontine/internal/metrics"
	"github.com/mkoffi/tontine/internal/payout"
	"github.com/mkoffi/tontine/internal/scheduler"
	"github.com/mkoffi/tontine/internal/storage/sqlite"
	"github.com/mkoffi/tontine/internal/tontine"
	"github.com/mkoffi/tontine/pkg/logging"
)

func main() {
	logging.Setup()
	cfg := config.Load()

	store, err := sqlite.New(cfg.DBPath)
	if err != nil {
		slog.Error("Failed to initialize storage", "error", err)
		os.Exit(1)
	}
	defer store.Close()
	slog.Info("Storage initialized", "database", cfg.DBPath)

	locks := tontine.NewGroupLocks()
	users := tontine.NewStoreUsers(store)
	credit := tontine.NewCreditService(store, users, locks, tontine.CreditConfig{
		ReliabilityReward:         cfg.ReliabilityReward,
		ReliabilityPenalty:        cfg.ReliabilityPenalty,
		BanThreshold:              cfg.BanThreshold,
		EligibilityMaxOutstanding: cfg.EligibilityMaxOutstanding,
		DefaultGraceIntervals:     cfg.DefaultGraceIntervals,
	})
	groups := tontine.NewGroupService(store, credit, users, users, locks)

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	m := metrics.New(registry)

	sched := scheduler.New(store, credit, payout.LogGateway{}, m, scheduler.Config{
		Schedule:     cfg.SweepSchedule,
		Workers:      cfg.SweepWorkers,
		GroupTimeout: cfg.GroupSweepTimeout,
		Currency:     cfg.PayoutCurrency,
	})
	if err := sched.Start(); err != nil {
		slog.Error("Failed to start scheduler", "error", err)
		os.Exit(1)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	registerRoutes(mux, &api{store: store, groups: groups, credit: credit})

	server := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: loggingMiddleware(mux),
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		slog.Info("Server starting", "address", cfg.ListenAddr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	slog.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := sched.Stop(shutdownCtx); err != nil {
		slog.Error("Scheduler did not stop cleanly", "error", err)
	}
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server shutdown failed", "error", err)
	}
}

// loggingMiddleware logs all incoming requests
func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		next.ServeHTTP(w, r)

		slog.Info("Request completed",
			"method", r.Method,
			"path", r.URL.Path,
			"remote_addr", r.RemoteAddr,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	})
}
