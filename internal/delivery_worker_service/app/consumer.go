package app

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/credably/announcer/internal/core_announce/domain"
)

// busRecord is the slice of jetstream.Msg the consumer needs; satisfied by
// jetstream.Msg directly.
type busRecord interface {
	Data() []byte
	Ack() error
	Nak() error
	Term() error
}

// recordFetcher abstracts the pull consumer; satisfied by jetstream.Consumer.
type recordFetcher interface {
	Fetch(batch int, opts ...jetstream.FetchOpt) (jetstream.MessageBatch, error)
}

// ConsumerConfig holds configuration specific to the event consumer.
type ConsumerConfig struct {
	BatchSize    int
	FetchMaxWait time.Duration
}

// Consumer pulls delivery events in batches and hands them to the
// orchestrator, mapping each processing outcome to an explicit ack, nak or
// term on the record.
type Consumer struct {
	fetcher  recordFetcher
	orch     *Orchestrator
	validate *validator.Validate
	logger   *slog.Logger
	config   ConsumerConfig
}

func NewConsumer(fetcher recordFetcher, orch *Orchestrator, logger *slog.Logger, cfg ConsumerConfig) *Consumer {
	if cfg.FetchMaxWait <= 0 {
		cfg.FetchMaxWait = 5 * time.Second
	}
	return &Consumer{
		fetcher:  fetcher,
		orch:     orch,
		validate: validator.New(),
		logger:   logger.With("component", "consumer"),
		config:   cfg,
	}
}

// Run fetches and processes batches until the context is cancelled. On
// shutdown the current batch is drained: records already fetched are
// processed (or left unacknowledged for redelivery) before returning.
func (c *Consumer) Run(ctx context.Context) error {
	c.logger.InfoContext(ctx, "Starting delivery event consumer", "batch_size", c.config.BatchSize)

	for {
		select {
		case <-ctx.Done():
			c.logger.InfoContext(ctx, "Consumer stopping", "error", ctx.Err())
			return ctx.Err()
		default:
		}

		batch, err := c.fetcher.Fetch(c.config.BatchSize, jetstream.FetchMaxWait(c.config.FetchMaxWait))
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				continue
			}
			c.logger.ErrorContext(ctx, "Fetch failed, backing off", "error", err)
			select {
			case <-time.After(time.Second):
			case <-ctx.Done():
				return ctx.Err()
			}
			continue
		}

		for msg := range batch.Messages() {
			c.handle(ctx, msg)
		}
		if err := batch.Error(); err != nil && !errors.Is(err, jetstream.ErrNoMessages) {
			c.logger.WarnContext(ctx, "Batch ended with error", "error", err)
		}
	}
}

// handle processes one record. Malformed payloads are terminated (they can
// never become valid); everything else follows the orchestrator's outcome.
func (c *Consumer) handle(ctx context.Context, rec busRecord) {
	var evt domain.DeliveryEvent
	if err := json.Unmarshal(rec.Data(), &evt); err != nil {
		c.logger.ErrorContext(ctx, "Failed to unmarshal delivery event, terminating record",
			"error", err, "data_len", len(rec.Data()))
		c.terminate(ctx, rec)
		return
	}
	if err := c.validate.Struct(evt); err != nil {
		c.logger.ErrorContext(ctx, "Invalid delivery event, terminating record",
			"error", err, "message_id", evt.MessageID, "correlation_id", evt.CorrelationID)
		c.terminate(ctx, rec)
		return
	}

	switch c.orch.ProcessEvent(ctx, evt) {
	case OutcomeAck:
		if err := rec.Ack(); err != nil {
			c.logger.ErrorContext(ctx, "Failed to ack record", "error", err, "message_id", evt.MessageID)
		}
	case OutcomeRedeliver:
		if err := rec.Nak(); err != nil {
			c.logger.ErrorContext(ctx, "Failed to nak record", "error", err, "message_id", evt.MessageID)
		}
	case OutcomeTerminate:
		c.terminate(ctx, rec)
	}
}

func (c *Consumer) terminate(ctx context.Context, rec busRecord) {
	if err := rec.Term(); err != nil {
		c.logger.ErrorContext(ctx, "Failed to terminate record", "error", err)
	}
}
