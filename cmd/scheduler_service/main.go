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

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"

	"github.com/credably/announcer/internal/platform/config"
	"github.com/credably/announcer/internal/platform/database"
	"github.com/credably/announcer/internal/platform/logger"
	"github.com/credably/announcer/internal/platform/messagebroker"

	announcementapp "github.com/credably/announcer/internal/announcement_service/app"
	"github.com/credably/announcer/internal/announcement_service/repository/postgres"
	announcementhttp "github.com/credably/announcer/internal/announcement_service/transport/http"
	"github.com/credably/announcer/internal/scheduler_service/app"
)

const (
	serviceName     = "scheduler-service"
	shutdownTimeout = 10 * time.Second
)

func main() {
	mainCtx, mainCancel := context.WithCancel(context.Background())
	defer mainCancel()

	cfg, err := config.Load(serviceName)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: failed to load configuration: %v\n", serviceName, err)
		os.Exit(1)
	}

	log := logger.New(cfg.LogLevel, serviceName)
	log.Info("Starting service...")

	dbPool, err := database.NewDBPool(mainCtx, cfg.PostgresDSN)
	if err != nil {
		log.Error("Failed to initialize database connection pool", "error", err)
		os.Exit(1)
	}
	defer dbPool.Close()
	log.Info("Database connection pool initialized")

	natsClient, err := messagebroker.NewNATSClient(cfg.NATSUrl, serviceName, log)
	if err != nil {
		log.Error("Failed to connect to NATS", "error", err)
		os.Exit(1)
	}
	defer natsClient.Close()

	if err := natsClient.EnsureStream(mainCtx, cfg.StreamName, []string{cfg.DeliverySubject}); err != nil {
		log.Error("Failed to ensure delivery stream", "error", err, "stream", cfg.StreamName)
		os.Exit(1)
	}
	log.Info("NATS connection initialized", "stream", cfg.StreamName)

	messageRepo := postgres.NewPgMessageRepository(dbPool, log)

	pollerCfg := app.PollerConfig{
		PollingInterval: cfg.SchedulerPollingInterval,
		BatchSize:       cfg.SchedulerBatchSize,
		Subject:         cfg.DeliverySubject,
	}
	poller := app.NewPoller(messageRepo, natsClient, log, pollerCfg)
	sweeper := app.NewSweeper(messageRepo, log, cfg.SweepStaleAfter)

	g, groupCtx := errgroup.WithContext(mainCtx)

	// Scheduling loop: claim due messages and publish delivery events.
	g.Go(func() error {
		log.Info("Starting scheduler poller", "polling_interval", pollerCfg.PollingInterval, "batch_size", pollerCfg.BatchSize)
		ticker := time.NewTicker(pollerCfg.PollingInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				published, pollErr := poller.PollAndPublish(groupCtx)
				if pollErr != nil {
					log.ErrorContext(groupCtx, "Poller encountered a critical error, stopping", "error", pollErr)
					return pollErr
				}
				if published > 0 {
					log.InfoContext(groupCtx, "Published delivery events", "count", published)
				}
			case <-groupCtx.Done():
				log.InfoContext(groupCtx, "Poller stopping", "error", groupCtx.Err())
				return groupCtx.Err()
			}
		}
	})

	// Sweep loop: requeue messages stuck in processing after a crash.
	cronRunner := cron.New()
	if _, err := cronRunner.AddFunc(cfg.SweepSchedule, func() {
		// Sweep logs its own outcome; errors are retried on the next tick.
		_, _ = sweeper.Sweep(groupCtx)
	}); err != nil {
		log.Error("Invalid sweep schedule", "error", err, "schedule", cfg.SweepSchedule)
		os.Exit(1)
	}
	g.Go(func() error {
		log.Info("Starting stale-processing sweeper", "schedule", cfg.SweepSchedule, "stale_after", cfg.SweepStaleAfter)
		cronRunner.Start()
		<-groupCtx.Done()
		<-cronRunner.Stop().Done()
		return groupCtx.Err()
	})

	// Authoring API plus metrics and health endpoints.
	announcementHandler := announcementhttp.NewAnnouncementHandler(
		announcementapp.NewAnnouncementAppService(messageRepo, log), log)

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.Recoverer)
	router.Handle("/metrics", promhttp.Handler())
	router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	router.Route("/api/v1", func(r chi.Router) {
		announcementHandler.RegisterRoutes(r)
	})
	metricsServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.SchedulerMetricsPort),
		Handler: router,
	}
	g.Go(func() error {
		log.Info("Starting metrics server", "address", metricsServer.Addr)
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-groupCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return metricsServer.Shutdown(shutdownCtx)
	})

	log.Info("Service components initialized and workers started. Service is ready.")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Info("Received termination signal", "signal", sig.String())
	case <-groupCtx.Done():
		log.Error("A critical component failed, initiating shutdown")
	}

	mainCancel()
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Error("Error during shutdown", "error", err)
	}
	log.Info("Service shutdown complete.")
}
