package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/credably/announcer/internal/platform/config"
	"github.com/credably/announcer/internal/platform/database"
	"github.com/credably/announcer/internal/platform/logger"
	"github.com/credably/announcer/internal/platform/messagebroker"
	"github.com/credably/announcer/internal/platform/redisclient"

	"github.com/credably/announcer/internal/announcement_service/repository/postgres"
	"github.com/credably/announcer/internal/delivery_worker_service/adapters/adaptation"
	"github.com/credably/announcer/internal/delivery_worker_service/adapters/channelgateway"
	"github.com/credably/announcer/internal/delivery_worker_service/app"
	"github.com/credably/announcer/internal/delivery_worker_service/idempotency"
	"github.com/credably/announcer/internal/delivery_worker_service/publisher"
)

const (
	serviceName     = "delivery-worker-service"
	shutdownTimeout = 10 * time.Second
)

// knownChannels is the fallback channel set served by the mock gateway when
// no gateway is configured for a channel named in a message.
var knownChannels = []string{"facebook", "linkedin", "x", "instagram"}

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

	fetcher, err := natsClient.PullConsumer(mainCtx, cfg.StreamName, cfg.ConsumerName, cfg.DeliverySubject, cfg.IdempotencyLease)
	if err != nil {
		log.Error("Failed to create pull consumer", "error", err, "consumer", cfg.ConsumerName)
		os.Exit(1)
	}
	log.Info("NATS connection initialized", "stream", cfg.StreamName, "consumer", cfg.ConsumerName)

	guard, err := buildGuard(mainCtx, cfg)
	if err != nil {
		log.Error("Failed to initialize idempotency guard", "error", err, "store", cfg.IdempotencyStore)
		os.Exit(1)
	}
	log.Info("Idempotency guard initialized", "store", cfg.IdempotencyStore,
		"lease", cfg.IdempotencyLease, "retention", cfg.IdempotencyRetention)

	gateways := buildGateways(cfg, log)
	strategy, err := buildStrategy(cfg, gateways, log)
	if err != nil {
		log.Error("Failed to initialize publisher strategy", "error", err, "strategy", cfg.PublisherStrategy)
		os.Exit(1)
	}
	log.Info("Publisher strategy initialized", "strategy", cfg.PublisherStrategy)

	messageRepo := postgres.NewPgMessageRepository(dbPool, log)
	orchestrator := app.NewOrchestrator(messageRepo, guard, strategy, log)
	consumer := app.NewConsumer(fetcher, orchestrator, log, app.ConsumerConfig{
		BatchSize: cfg.WorkerBatchSize,
	})

	g, groupCtx := errgroup.WithContext(mainCtx)

	g.Go(func() error {
		err := consumer.Run(groupCtx)
		if err != nil && !errors.Is(err, context.Canceled) {
			log.ErrorContext(groupCtx, "Consumer stopped with error", "error", err)
		}
		return err
	})

	router := chi.NewRouter()
	router.Use(middleware.Recoverer)
	router.Handle("/metrics", promhttp.Handler())
	router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	metricsServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.WorkerMetricsPort),
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

func buildGuard(ctx context.Context, cfg *config.Config) (idempotency.Guard, error) {
	switch cfg.IdempotencyStore {
	case "redis":
		client, err := redisclient.New(ctx, cfg.RedisAddr)
		if err != nil {
			return nil, err
		}
		return idempotency.NewRedisGuard(client, cfg.IdempotencyLease, cfg.IdempotencyRetention), nil
	case "memory":
		return idempotency.NewMemoryGuard(cfg.IdempotencyLease, cfg.IdempotencyRetention), nil
	default:
		return nil, fmt.Errorf("unknown idempotency store %q", cfg.IdempotencyStore)
	}
}

// buildGateways wires one gateway per channel: a webhook gateway where the
// channel has endpoint configuration, the mock gateway otherwise.
func buildGateways(cfg *config.Config, log *slog.Logger) map[string]channelgateway.Gateway {
	gateways := make(map[string]channelgateway.Gateway)
	for _, channel := range knownChannels {
		gateways[channel] = channelgateway.NewMockGateway(log, channel)
	}
	for channel, cc := range cfg.Channels {
		if cc.WebhookURL == "" {
			continue
		}
		gateways[channel] = channelgateway.NewWebhookGateway(log, channel, cc.WebhookURL, cc.APIToken, nil)
	}
	return gateways
}

func buildStrategy(cfg *config.Config, gateways map[string]channelgateway.Gateway, log *slog.Logger) (publisher.Strategy, error) {
	senderCfg := publisher.SenderConfig{
		ChannelTimeout:   cfg.WorkerChannelTimeout,
		ImmediateRetries: 1,
	}
	switch cfg.PublisherStrategy {
	case "direct":
		return publisher.NewDirectStrategy(gateways, senderCfg, log), nil
	case "adaptive":
		if cfg.OpenAIAPIKey == "" {
			return nil, errors.New("adaptive strategy requires OPENAI_API_KEY")
		}
		adapter := adaptation.NewOpenAIAdapter(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL, cfg.OpenAIModel, log)
		return publisher.NewAdaptiveStrategy(gateways, adapter, senderCfg, log), nil
	default:
		return nil, fmt.Errorf("unknown publisher strategy %q", cfg.PublisherStrategy)
	}
}
