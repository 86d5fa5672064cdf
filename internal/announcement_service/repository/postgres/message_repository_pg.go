package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/credably/announcer/internal/core_announce/domain"
)

// PgMessageRepository persists announcement messages and their per-channel
// deliveries. Expected schema:
//
//	messages(id uuid pk, body text, media_ref text, channels text[],
//	         scheduled_at timestamptz, status text, correlation_id text,
//	         created_at timestamptz, updated_at timestamptz)
//	channel_deliveries(message_id uuid references messages(id), channel text,
//	         status text, external_id text, error_message text,
//	         delivered_at timestamptz, updated_at timestamptz,
//	         primary key (message_id, channel))
type PgMessageRepository struct {
	db     *pgxpool.Pool
	logger *slog.Logger
}

func NewPgMessageRepository(db *pgxpool.Pool, logger *slog.Logger) *PgMessageRepository {
	return &PgMessageRepository{db: db, logger: logger}
}

func (r *PgMessageRepository) Create(ctx context.Context, m *domain.Message) error {
	query := `
		INSERT INTO messages (id, body, media_ref, channels, scheduled_at, status, correlation_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	_, err := r.db.Exec(ctx, query,
		m.ID, m.Content.Body, m.Content.MediaRef, m.Channels, m.ScheduledAt, m.Status,
		m.CorrelationID, m.CreatedAt, m.UpdatedAt,
	)
	if err != nil {
		r.logger.ErrorContext(ctx, "Error creating message", "error", err, "message_id", m.ID, "correlation_id", m.CorrelationID)
		return err
	}
	return nil
}

func (r *PgMessageRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Message, error) {
	query := `
		SELECT id, body, media_ref, channels, scheduled_at, status, correlation_id, created_at, updated_at
		FROM messages
		WHERE id = $1
	`
	m := &domain.Message{}
	var scheduledAt sql.NullTime
	err := r.db.QueryRow(ctx, query, id).Scan(
		&m.ID, &m.Content.Body, &m.Content.MediaRef, &m.Channels, &scheduledAt, &m.Status,
		&m.CorrelationID, &m.CreatedAt, &m.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		r.logger.ErrorContext(ctx, "Error getting message by ID", "error", err, "message_id", id)
		return nil, err
	}
	if scheduledAt.Valid {
		m.ScheduledAt = scheduledAt.Time
	}

	deliveries, err := r.loadDeliveries(ctx, id)
	if err != nil {
		return nil, err
	}
	m.Deliveries = deliveries
	return m, nil
}

func (r *PgMessageRepository) loadDeliveries(ctx context.Context, messageID uuid.UUID) (map[string]domain.ChannelDelivery, error) {
	query := `
		SELECT channel, status, COALESCE(external_id, ''), COALESCE(error_message, ''), delivered_at
		FROM channel_deliveries
		WHERE message_id = $1
	`
	rows, err := r.db.Query(ctx, query, messageID)
	if err != nil {
		r.logger.ErrorContext(ctx, "Error loading channel deliveries", "error", err, "message_id", messageID)
		return nil, err
	}
	defer rows.Close()

	deliveries := map[string]domain.ChannelDelivery{}
	for rows.Next() {
		var d domain.ChannelDelivery
		if err := rows.Scan(&d.Channel, &d.Status, &d.ExternalID, &d.Error, &d.DeliveredAt); err != nil {
			return nil, err
		}
		deliveries[d.Channel] = d
	}
	return deliveries, rows.Err()
}

// Save updates the message row and upserts its deliveries in one transaction.
// Used when a draft transitions to scheduled and the pending set is created.
func (r *PgMessageRepository) Save(ctx context.Context, m *domain.Message) error {
	return pgx.BeginFunc(ctx, r.db, func(tx pgx.Tx) error {
		m.UpdatedAt = time.Now().UTC()
		tag, err := tx.Exec(ctx, `
			UPDATE messages
			SET body = $1, media_ref = $2, channels = $3, scheduled_at = $4, status = $5, updated_at = $6
			WHERE id = $7
		`, m.Content.Body, m.Content.MediaRef, m.Channels, m.ScheduledAt, m.Status, m.UpdatedAt, m.ID)
		if err != nil {
			r.logger.ErrorContext(ctx, "Error saving message", "error", err, "message_id", m.ID)
			return err
		}
		if tag.RowsAffected() == 0 {
			return domain.ErrNotFound
		}

		for _, d := range m.Deliveries {
			if _, err := tx.Exec(ctx, `
				INSERT INTO channel_deliveries (message_id, channel, status, external_id, error_message, delivered_at, updated_at)
				VALUES ($1, $2, $3, NULLIF($4, ''), NULLIF($5, ''), $6, $7)
				ON CONFLICT (message_id, channel) DO NOTHING
			`, m.ID, d.Channel, d.Status, d.ExternalID, d.Error, d.DeliveredAt, m.UpdatedAt); err != nil {
				r.logger.ErrorContext(ctx, "Error upserting channel delivery", "error", err, "message_id", m.ID, "channel", d.Channel)
				return err
			}
		}
		return nil
	})
}

// ClaimDue atomically claims scheduled messages that are due. FOR UPDATE
// SKIP LOCKED keeps concurrent scheduler instances from claiming the same
// rows; anything claimed by another instance is simply absent from the batch.
func (r *PgMessageRepository) ClaimDue(ctx context.Context, dueTime time.Time, limit int) ([]*domain.Message, error) {
	query := `
		WITH due_ids AS (
			SELECT id
			FROM messages
			WHERE status = $1 AND scheduled_at <= $2
			ORDER BY scheduled_at ASC
			LIMIT $3
			FOR UPDATE SKIP LOCKED
		)
		UPDATE messages m
		SET status = $4, updated_at = $5
		FROM due_ids d
		WHERE m.id = d.id
		RETURNING m.id, m.body, m.media_ref, m.channels, m.scheduled_at, m.status, m.correlation_id, m.created_at, m.updated_at
	`
	now := time.Now().UTC()
	rows, err := r.db.Query(ctx, query, domain.StatusScheduled, dueTime, limit, domain.StatusProcessing, now)
	if err != nil {
		r.logger.ErrorContext(ctx, "Error claiming due messages", "error", err)
		return nil, err
	}
	defer rows.Close()

	var claimed []*domain.Message
	for rows.Next() {
		m := &domain.Message{}
		if err := rows.Scan(
			&m.ID, &m.Content.Body, &m.Content.MediaRef, &m.Channels, &m.ScheduledAt, &m.Status,
			&m.CorrelationID, &m.CreatedAt, &m.UpdatedAt,
		); err != nil {
			return nil, err
		}
		claimed = append(claimed, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if len(claimed) == 0 {
		return nil, domain.ErrNoDueMessages
	}
	return claimed, nil
}

// UpdateChannelDelivery writes a terminal per-channel result. The pending
// guard makes the write a no-op when a prior attempt already recorded a
// terminal outcome for this channel.
func (r *PgMessageRepository) UpdateChannelDelivery(ctx context.Context, messageID uuid.UUID, delivery domain.ChannelDelivery) error {
	query := `
		UPDATE channel_deliveries
		SET status = $3, external_id = NULLIF($4, ''), error_message = NULLIF($5, ''), delivered_at = $6, updated_at = $7
		WHERE message_id = $1 AND channel = $2 AND status = $8
	`
	tag, err := r.db.Exec(ctx, query,
		messageID, delivery.Channel, delivery.Status, delivery.ExternalID, delivery.Error,
		delivery.DeliveredAt, time.Now().UTC(), domain.DeliveryPending,
	)
	if err != nil {
		r.logger.ErrorContext(ctx, "Error updating channel delivery", "error", err, "message_id", messageID, "channel", delivery.Channel)
		return err
	}
	if tag.RowsAffected() == 0 {
		r.logger.DebugContext(ctx, "Channel delivery already terminal, skipping write", "message_id", messageID, "channel", delivery.Channel)
	}
	return nil
}

// UpdateStatus is a conditional transition guarded by the expected current
// status, the store-level enforcement of forward-only message lifecycle.
func (r *PgMessageRepository) UpdateStatus(ctx context.Context, messageID uuid.UUID, from, to domain.MessageStatus) error {
	if !from.CanTransition(to) {
		return fmt.Errorf("%w: %s -> %s", domain.ErrInvalidTransition, from, to)
	}
	query := `
		UPDATE messages
		SET status = $1, updated_at = $2
		WHERE id = $3 AND status = $4
	`
	tag, err := r.db.Exec(ctx, query, to, time.Now().UTC(), messageID, from)
	if err != nil {
		r.logger.ErrorContext(ctx, "Error updating message status", "error", err, "message_id", messageID, "to", to)
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: message %s not in status %s", domain.ErrInvalidTransition, messageID, from)
	}
	return nil
}

// RequeueStaleProcessing recovers messages stuck in processing, e.g. after a
// claim whose event publish failed or a worker crash past the lease window.
func (r *PgMessageRepository) RequeueStaleProcessing(ctx context.Context, cutoff time.Time) (int64, error) {
	query := `
		UPDATE messages
		SET status = $1, updated_at = $2
		WHERE status = $3 AND updated_at < $4
	`
	tag, err := r.db.Exec(ctx, query, domain.StatusScheduled, time.Now().UTC(), domain.StatusProcessing, cutoff)
	if err != nil {
		r.logger.ErrorContext(ctx, "Error requeueing stale processing messages", "error", err)
		return 0, err
	}
	return tag.RowsAffected(), nil
}
