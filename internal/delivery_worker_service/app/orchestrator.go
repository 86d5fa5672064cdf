package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/credably/announcer/internal/announcement_service/repository"
	"github.com/credably/announcer/internal/core_announce/domain"
	"github.com/credably/announcer/internal/delivery_worker_service/idempotency"
	"github.com/credably/announcer/internal/delivery_worker_service/publisher"
)

// Outcome tells the consumer what to do with the bus record.
type Outcome int

const (
	// OutcomeAck: processing reached a terminal state; acknowledge.
	OutcomeAck Outcome = iota
	// OutcomeRedeliver: processing could not run to completion; do not
	// acknowledge and let the bus redeliver.
	OutcomeRedeliver
	// OutcomeTerminate: the record can never succeed (data inconsistency);
	// remove it from the stream for operator follow-up.
	OutcomeTerminate
)

func (o Outcome) String() string {
	switch o {
	case OutcomeAck:
		return "ack"
	case OutcomeRedeliver:
		return "redeliver"
	case OutcomeTerminate:
		return "terminate"
	default:
		return "unknown"
	}
}

// Orchestrator processes one DeliveryEvent at a time: acquire the
// idempotency key, fan out through the publisher strategy, persist
// per-channel outcomes and the aggregate message status, release the key.
type Orchestrator struct {
	repo     repository.MessageRepository
	guard    idempotency.Guard
	strategy publisher.Strategy
	logger   *slog.Logger
}

func NewOrchestrator(repo repository.MessageRepository, guard idempotency.Guard, strategy publisher.Strategy, logger *slog.Logger) *Orchestrator {
	return &Orchestrator{
		repo:     repo,
		guard:    guard,
		strategy: strategy,
		logger:   logger.With("component", "orchestrator"),
	}
}

// ProcessEvent runs the delivery state machine for one event. Any path that
// did not reach a terminal per-channel outcome leaves the idempotency key
// in flight (to expire its lease) and returns OutcomeRedeliver.
func (o *Orchestrator) ProcessEvent(ctx context.Context, evt domain.DeliveryEvent) Outcome {
	timer := prometheus.NewTimer(eventProcessingDurationHist)
	defer timer.ObserveDuration()

	outcome := o.processEvent(ctx, evt)
	eventsProcessedCounter.WithLabelValues(outcome.String()).Inc()
	return outcome
}

func (o *Orchestrator) processEvent(ctx context.Context, evt domain.DeliveryEvent) Outcome {
	log := o.logger.With("message_id", evt.MessageID, "correlation_id", evt.CorrelationID)

	acq, err := o.guard.TryAcquire(ctx, evt.IdempotencyKey)
	if err != nil {
		log.ErrorContext(ctx, "Idempotency acquire failed, leaving record for redelivery", "error", err)
		return OutcomeRedeliver
	}

	switch acq.State {
	case idempotency.Contended:
		// Another worker is mid-processing; the bus redelivers later.
		log.InfoContext(ctx, "Delivery event contended, deferring to redelivery")
		return OutcomeRedeliver

	case idempotency.AlreadyCompleted:
		// Prior attempt finished the channel sends; re-persist from cache
		// in case it crashed before the status write, then acknowledge.
		duplicateEventsCounter.Inc()
		log.InfoContext(ctx, "Duplicate delivery event, re-persisting cached result")
		o.persistResult(ctx, evt, acq.Result)
		return OutcomeAck

	case idempotency.AlreadyFailed:
		duplicateEventsCounter.Inc()
		log.WarnContext(ctx, "Duplicate delivery event for terminally failed key", "reason", acq.Reason)
		return OutcomeAck
	}

	// Acquired: the key is ours until Complete/Fail or lease expiry.
	id, err := uuid.Parse(evt.MessageID)
	if err != nil {
		o.failKey(ctx, evt, "malformed message id: "+err.Error())
		return OutcomeTerminate
	}

	m, err := o.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			o.failKey(ctx, evt, "message not found")
			log.ErrorContext(ctx, "Delivery event references missing message")
			return OutcomeTerminate
		}
		// Store unavailable: leave the key in flight so lease expiry turns
		// this into a retry.
		log.ErrorContext(ctx, "Failed to load message, leaving record for redelivery", "error", err)
		return OutcomeRedeliver
	}

	if m.Status != domain.StatusProcessing {
		o.failKey(ctx, evt, fmt.Sprintf("message in status %q, expected processing", m.Status))
		log.ErrorContext(ctx, "Delivery event for message not in processing", "status", m.Status)
		return OutcomeTerminate
	}

	result := o.strategy.Publish(ctx, publisher.PublishRequest{
		MessageID:     evt.MessageID,
		CorrelationID: evt.CorrelationID,
		Content:       m.Content,
		Channels:      evt.Channels,
	})

	if !o.persistResult(ctx, evt, result) {
		// A store failure mid-persist must not complete the key: the next
		// redelivery (after lease expiry) finishes the remaining writes,
		// and terminal channel rows are protected by the pending guard.
		return OutcomeRedeliver
	}

	if err := o.guard.Complete(ctx, evt.IdempotencyKey, result); err != nil {
		// State is fully persisted; losing the cached result only costs a
		// fail-fast round on the next redelivery.
		log.ErrorContext(ctx, "Failed to mark idempotency key completed", "error", err)
	}

	log.InfoContext(ctx, "Delivery event processed",
		"channels", len(evt.Channels), "any_success", result.AnySuccess())
	return OutcomeAck
}

// persistResult writes terminal ChannelDeliveries and the aggregate message
// status. Returns false when any write failed. Safe to repeat: per-channel
// writes no-op once terminal and the status update is conditional.
func (o *Orchestrator) persistResult(ctx context.Context, evt domain.DeliveryEvent, result *publisher.PublishResult) bool {
	id, err := uuid.Parse(evt.MessageID)
	if err != nil {
		o.logger.ErrorContext(ctx, "Cannot persist result for malformed message id", "message_id", evt.MessageID)
		return false
	}

	ok := true
	deliveries := make(map[string]domain.ChannelDelivery, len(result.PerChannel))
	for channel, res := range result.PerChannel {
		d := domain.ChannelDelivery{Channel: channel}
		if res.Success {
			d.Status = domain.DeliveryDelivered
			d.ExternalID = res.ExternalID
			d.DeliveredAt = sql.NullTime{Time: time.Now().UTC(), Valid: true}
		} else {
			d.Status = domain.DeliveryFailed
			d.Error = res.Error
		}
		deliveries[channel] = d

		if err := o.repo.UpdateChannelDelivery(ctx, id, d); err != nil {
			ok = false
			o.logger.ErrorContext(ctx, "Failed to persist channel delivery",
				"error", err, "message_id", evt.MessageID, "channel", channel, "correlation_id", evt.CorrelationID)
			continue
		}
		channelDeliveriesCounter.WithLabelValues(channel, string(d.Status)).Inc()
	}
	if !ok {
		return false
	}

	overall := domain.AggregateStatus(deliveries)
	if err := o.repo.UpdateStatus(ctx, id, domain.StatusProcessing, overall); err != nil {
		if errors.Is(err, domain.ErrInvalidTransition) {
			// Already transitioned by a prior attempt; nothing to do.
			return true
		}
		o.logger.ErrorContext(ctx, "Failed to persist message status",
			"error", err, "message_id", evt.MessageID, "status", overall, "correlation_id", evt.CorrelationID)
		return false
	}
	return true
}

// failKey records a terminal failure for the key so redeliveries of an
// unprocessable event short-circuit instead of re-running.
func (o *Orchestrator) failKey(ctx context.Context, evt domain.DeliveryEvent, reason string) {
	if err := o.guard.Fail(ctx, evt.IdempotencyKey, reason); err != nil {
		o.logger.ErrorContext(ctx, "Failed to mark idempotency key failed",
			"error", err, "message_id", evt.MessageID, "reason", reason)
	}
}
