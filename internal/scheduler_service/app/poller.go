package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/credably/announcer/internal/announcement_service/repository"
	"github.com/credably/announcer/internal/core_announce/domain"
)

// EventPublisher is the bus-side contract the poller needs: publish one
// delivery event and wait for the broker ack.
type EventPublisher interface {
	Publish(ctx context.Context, subject string, data []byte) error
}

// PollerConfig holds configuration specific to the Poller.
type PollerConfig struct {
	PollingInterval time.Duration
	BatchSize       int
	Subject         string
}

// Poller claims due messages and emits one DeliveryEvent per claimed message
// onto the event bus.
type Poller struct {
	repo   repository.MessageRepository
	bus    EventPublisher
	logger *slog.Logger
	config PollerConfig
}

func NewPoller(repo repository.MessageRepository, bus EventPublisher, logger *slog.Logger, cfg PollerConfig) *Poller {
	return &Poller{
		repo:   repo,
		bus:    bus,
		logger: logger.With("component", "poller"),
		config: cfg,
	}
}

// PollAndPublish runs one poll cycle: claim due messages (scheduled ->
// processing, atomically) and publish a delivery event for each. A single
// message's publish failure does not abort the batch; the message stays in
// processing and the stale sweep requeues it later.
// Returns the number of events published and any critical error.
func (p *Poller) PollAndPublish(ctx context.Context) (published int, criticalErr error) {
	timer := prometheus.NewTimer(pollDurationHist)
	defer timer.ObserveDuration()

	now := time.Now().UTC()
	claimed, err := p.repo.ClaimDue(ctx, now, p.config.BatchSize)
	if err != nil {
		if errors.Is(err, domain.ErrNoDueMessages) {
			p.logger.DebugContext(ctx, "No due messages in this poll cycle")
			return 0, nil
		}
		p.logger.ErrorContext(ctx, "Failed to claim due messages", "error", err)
		return 0, fmt.Errorf("failed to claim due messages: %w", err)
	}

	messagesClaimedCounter.Add(float64(len(claimed)))
	p.logger.InfoContext(ctx, "Claimed due messages", "count", len(claimed))

	for _, m := range claimed {
		evt := domain.NewDeliveryEvent(m)
		data, err := json.Marshal(evt)
		if err != nil {
			// Should not happen for a well-formed message; leave it in
			// processing for the sweep rather than failing the batch.
			eventsPublishedCounter.WithLabelValues("error").Inc()
			p.logger.ErrorContext(ctx, "Failed to marshal delivery event",
				"error", err, "message_id", m.ID, "correlation_id", m.CorrelationID)
			continue
		}

		if err := p.bus.Publish(ctx, p.config.Subject, data); err != nil {
			eventsPublishedCounter.WithLabelValues("error").Inc()
			p.logger.ErrorContext(ctx, "Failed to publish delivery event; message left in processing for sweep",
				"error", err, "message_id", m.ID, "subject", p.config.Subject, "correlation_id", m.CorrelationID)
			continue
		}

		eventsPublishedCounter.WithLabelValues("success").Inc()
		published++
		p.logger.InfoContext(ctx, "Published delivery event",
			"message_id", m.ID, "subject", p.config.Subject,
			"idempotency_key", evt.IdempotencyKey, "correlation_id", m.CorrelationID)
	}

	return published, nil
}
